// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package expiry removes flows that have gone quiet.
package expiry

import (
	"context"
	"time"

	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/flow"
	"grimm.is/flowbridge/internal/logging"
	"grimm.is/flowbridge/internal/metrics"
)

const (
	// DefaultTimeout is how long a flow may stay silent before removal.
	DefaultTimeout = 30 * time.Second
	// DefaultPeriod is the delay between the end of one sweep and the next.
	DefaultPeriod = 5 * time.Second
)

// Table is the part of flow.Table the scheduler uses.
type Table interface {
	RemoveIf(pred func(*flow.Record) bool) int
}

// Scheduler periodically sweeps a flow table. The next sweep is armed only
// after the previous one finishes, so the period drifts under load.
type Scheduler struct {
	table   Table
	clock   clock.Clock
	timeout time.Duration
	period  time.Duration
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewScheduler creates a sweep scheduler. Non-positive durations fall back to
// the defaults.
func NewScheduler(table Table, clk clock.Clock, timeout, period time.Duration, m *metrics.Metrics, logger *logging.Logger) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		table:   table,
		clock:   clk,
		timeout: timeout,
		period:  period,
		metrics: m,
		logger:  logger.WithComponent("expiry"),
	}
}

// Timeout returns the idle timeout.
func (s *Scheduler) Timeout() time.Duration { return s.timeout }

// Period returns the sweep period.
func (s *Scheduler) Period() time.Duration { return s.period }

// Run sweeps every period until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("expiry scheduler started", "timeout", s.timeout, "period", s.period)
	timer := time.NewTimer(s.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry scheduler stopped")
			return
		case <-timer.C:
			s.Sweep()
			timer.Reset(s.period)
		}
	}
}

// Sweep removes every flow last seen before now minus the timeout and
// returns how many were removed.
func (s *Scheduler) Sweep() int {
	now := s.clock.Now()
	removed := s.table.RemoveIf(func(r *flow.Record) bool {
		return r.Idle(now, s.timeout)
	})

	s.metrics.Swept(removed)
	if removed > 0 {
		s.logger.Debug("expired idle flows", "removed", removed)
	}
	return removed
}
