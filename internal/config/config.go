// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the flowbridge configuration from HCL, JSON or YAML.
package config

import (
	"net/netip"
	"time"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/capture"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// CurrentSchemaVersion is the only schema version this build reads.
const CurrentSchemaVersion = "1.0"

// Defaults
const (
	DefaultTargetAddr     = "192.168.1.100"
	DefaultTargetPort     = 8080
	DefaultMaxConnections = 100
	DefaultFlowTimeout    = "30s"
	DefaultSweepInterval  = "5s"
	DefaultCaptureMode    = "queue"
	DefaultMaxQueueLen    = 1024
	DefaultAPIListen      = "127.0.0.1:8089"
	DefaultStreamPeriod   = "1s"
	DefaultLogLevel       = "info"
)

// Config is the top-level configuration.
type Config struct {
	SchemaVersion string         `hcl:"schema_version,optional" json:"schema_version,omitempty" yaml:"schema_version,omitempty"`
	Bridge        *BridgeConfig  `hcl:"bridge,block" json:"bridge,omitempty" yaml:"bridge,omitempty"`
	Capture       *CaptureConfig `hcl:"capture,block" json:"capture,omitempty" yaml:"capture,omitempty"`
	API           *APIConfig     `hcl:"api,block" json:"api,omitempty" yaml:"api,omitempty"`
	Log           *LogConfig     `hcl:"log,block" json:"log,omitempty" yaml:"log,omitempty"`
}

// BridgeConfig configures flow tracking.
type BridgeConfig struct {
	Active         *bool  `hcl:"active,optional" json:"active,omitempty" yaml:"active,omitempty"`
	TargetAddr     string `hcl:"target_addr,optional" json:"target_addr,omitempty" yaml:"target_addr,omitempty"`
	TargetPort     int    `hcl:"target_port,optional" json:"target_port,omitempty" yaml:"target_port,omitempty"`
	MaxConnections int    `hcl:"max_connections,optional" json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	FlowTimeout    string `hcl:"flow_timeout,optional" json:"flow_timeout,omitempty" yaml:"flow_timeout,omitempty"`
	SweepInterval  string `hcl:"sweep_interval,optional" json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"`
}

// CaptureConfig configures the nfqueue reader and nftables steering.
type CaptureConfig struct {
	Enabled *bool `hcl:"enabled,optional" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Mode is "queue" (nfqueue, default) or "log" (nflog copies).
	Mode        string `hcl:"mode,optional" json:"mode,omitempty" yaml:"mode,omitempty"`
	QueueNum    int    `hcl:"queue_num,optional" json:"queue_num,omitempty" yaml:"queue_num,omitempty"`
	MaxQueueLen int    `hcl:"max_queue_len,optional" json:"max_queue_len,omitempty" yaml:"max_queue_len,omitempty"`
	// Steer installs NFQUEUE rules for the target address.
	Steer    *bool `hcl:"steer,optional" json:"steer,omitempty" yaml:"steer,omitempty"`
	FailOpen *bool `hcl:"fail_open,optional" json:"fail_open,omitempty" yaml:"fail_open,omitempty"`
}

// APIConfig configures the admin HTTP server.
type APIConfig struct {
	Enabled      *bool  `hcl:"enabled,optional" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Listen       string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"`
	StreamPeriod string `hcl:"stream_period,optional" json:"stream_period,omitempty" yaml:"stream_period,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `hcl:"level,optional" json:"level,omitempty" yaml:"level,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json,omitempty" yaml:"json,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// Default returns a config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills missing blocks and zero fields.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}

	if c.Bridge == nil {
		c.Bridge = &BridgeConfig{}
	}
	b := c.Bridge
	if b.Active == nil {
		b.Active = boolPtr(true)
	}
	if b.TargetAddr == "" {
		b.TargetAddr = DefaultTargetAddr
	}
	if b.TargetPort == 0 {
		b.TargetPort = DefaultTargetPort
	}
	if b.MaxConnections == 0 {
		b.MaxConnections = DefaultMaxConnections
	}
	if b.FlowTimeout == "" {
		b.FlowTimeout = DefaultFlowTimeout
	}
	if b.SweepInterval == "" {
		b.SweepInterval = DefaultSweepInterval
	}

	if c.Capture == nil {
		c.Capture = &CaptureConfig{}
	}
	cp := c.Capture
	if cp.Enabled == nil {
		cp.Enabled = boolPtr(true)
	}
	if cp.Mode == "" {
		cp.Mode = DefaultCaptureMode
	}
	if cp.MaxQueueLen == 0 {
		cp.MaxQueueLen = DefaultMaxQueueLen
	}
	if cp.Steer == nil {
		cp.Steer = boolPtr(true)
	}
	if cp.FailOpen == nil {
		cp.FailOpen = boolPtr(true)
	}

	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Enabled == nil {
		c.API.Enabled = boolPtr(true)
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
	if c.API.StreamPeriod == "" {
		c.API.StreamPeriod = DefaultStreamPeriod
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// BridgeSettings converts the bridge block. Call after Validate.
func (c *Config) BridgeSettings() (bridge.Config, error) {
	b := c.Bridge
	target, err := bridge.ParseTarget(b.TargetAddr)
	if err != nil {
		return bridge.Config{}, err
	}
	timeout, err := parseDuration("bridge.flow_timeout", b.FlowTimeout)
	if err != nil {
		return bridge.Config{}, err
	}
	sweep, err := parseDuration("bridge.sweep_interval", b.SweepInterval)
	if err != nil {
		return bridge.Config{}, err
	}
	return bridge.Config{
		Active:         *b.Active,
		TargetAddr:     target,
		TargetPort:     uint16(b.TargetPort),
		MaxConnections: b.MaxConnections,
		FlowTimeout:    timeout,
		SweepInterval:  sweep,
	}, nil
}

// QueueSettings converts the capture block.
func (c *Config) QueueSettings() capture.QueueConfig {
	q := capture.DefaultQueueConfig()
	if mode, err := capture.ParseMode(c.Capture.Mode); err == nil {
		q.Mode = mode
	}
	q.QueueNum = uint16(c.Capture.QueueNum)
	q.MaxQueueLen = uint32(c.Capture.MaxQueueLen)
	q.FailOpen = *c.Capture.FailOpen
	return q
}

// StreamPeriod returns the websocket push period.
func (c *Config) StreamPeriod() time.Duration {
	d, err := time.ParseDuration(c.API.StreamPeriod)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultStreamPeriod)
	}
	return d
}

// LoggingConfig converts the log block.
func (c *Config) LoggingConfig() (logging.Config, error) {
	lc := logging.DefaultConfig()
	lvl, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return lc, err
	}
	lc.Level = lvl
	lc.JSON = c.Log.JSON
	return lc, nil
}

// Target returns the parsed target address, or the zero Addr if invalid.
func (c *Config) Target() netip.Addr {
	a, _ := bridge.ParseTarget(c.Bridge.TargetAddr)
	return a
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Attr(errors.Wrapf(err, errors.KindValidation, "%s: invalid duration %q", field, s), "field", field)
	}
	if d <= 0 {
		return 0, errors.Attr(errors.Errorf(errors.KindValidation, "%s: must be positive", field), "field", field)
	}
	return d, nil
}
