// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/capture"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a defaulted config. The returned error has
// KindValidation and wraps ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors

	b := c.Bridge
	if _, err := bridge.ParseTarget(b.TargetAddr); err != nil {
		errs.add("bridge.target_addr", "%q is not an IPv4 address", b.TargetAddr)
	}
	if b.TargetPort < 0 || b.TargetPort > 65535 {
		errs.add("bridge.target_port", "%d out of range", b.TargetPort)
	}
	if b.MaxConnections < 1 {
		errs.add("bridge.max_connections", "must be at least 1")
	}
	timeout := checkDuration(&errs, "bridge.flow_timeout", b.FlowTimeout)
	sweep := checkDuration(&errs, "bridge.sweep_interval", b.SweepInterval)
	if timeout > 0 && sweep > timeout {
		errs.add("bridge.sweep_interval", "%s exceeds flow_timeout %s", sweep, timeout)
	}

	if _, err := capture.ParseMode(c.Capture.Mode); err != nil {
		errs.add("capture.mode", "unknown mode %q (want queue or log)", c.Capture.Mode)
	}
	if q := c.Capture.QueueNum; q < 0 || q > 65535 {
		errs.add("capture.queue_num", "%d out of range", q)
	}
	if c.Capture.MaxQueueLen < 1 {
		errs.add("capture.max_queue_len", "must be at least 1")
	}

	if *c.API.Enabled {
		if c.API.Listen == "" {
			errs.add("api.listen", "required when the API is enabled")
		} else if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			errs.add("api.listen", "%v", err)
		}
		checkDuration(&errs, "api.stream_period", c.API.StreamPeriod)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs.add("log.level", "unknown level %q", c.Log.Level)
	}

	if errs.HasErrors() {
		return errors.Wrap(errs, errors.KindValidation, "invalid configuration")
	}
	return nil
}

func checkDuration(errs *ValidationErrors, field, s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		errs.add(field, "invalid duration %q", s)
		return 0
	}
	if d <= 0 {
		errs.add(field, "must be positive")
		return 0
	}
	return d
}
