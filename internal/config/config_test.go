// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowbridge/internal/capture"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

const sampleHCL = `
schema_version = "1.0"

bridge {
  active          = false
  target_addr     = "10.0.0.100"
  target_port     = 9000
  max_connections = 2
  flow_timeout    = "45s"
  sweep_interval  = "3s"
}

capture {
  mode      = "log"
  queue_num = 7
  steer     = false
}

api {
  listen = "0.0.0.0:9999"
}

log {
  level = "debug"
  json  = true
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bc, err := cfg.BridgeSettings()
	require.NoError(t, err)
	assert.True(t, bc.Active)
	assert.Equal(t, "192.168.1.100", bc.TargetAddr.String())
	assert.Equal(t, uint16(8080), bc.TargetPort)
	assert.Equal(t, 100, bc.MaxConnections)
	assert.Equal(t, 30*time.Second, bc.FlowTimeout)
	assert.Equal(t, 5*time.Second, bc.SweepInterval)

	assert.True(t, *cfg.Capture.Steer)
	assert.True(t, cfg.QueueSettings().FailOpen)
	assert.Equal(t, capture.ModeQueue, cfg.QueueSettings().Mode)
	assert.Equal(t, "127.0.0.1:8089", cfg.API.Listen)
	assert.Equal(t, time.Second, cfg.StreamPeriod())
}

func TestLoadHCLFile(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "flowbridge.hcl", sampleHCL))
	require.NoError(t, err)

	bc, err := cfg.BridgeSettings()
	require.NoError(t, err)
	assert.False(t, bc.Active)
	assert.Equal(t, "10.0.0.100", bc.TargetAddr.String())
	assert.Equal(t, uint16(9000), bc.TargetPort)
	assert.Equal(t, 2, bc.MaxConnections)
	assert.Equal(t, 45*time.Second, bc.FlowTimeout)
	assert.Equal(t, 3*time.Second, bc.SweepInterval)

	q := cfg.QueueSettings()
	assert.Equal(t, uint16(7), q.QueueNum)
	assert.Equal(t, capture.ModeLog, q.Mode)
	assert.Equal(t, uint32(DefaultMaxQueueLen), q.MaxQueueLen)
	assert.False(t, *cfg.Capture.Steer)
	assert.True(t, *cfg.Capture.Enabled)

	assert.Equal(t, "0.0.0.0:9999", cfg.API.Listen)

	lc, err := cfg.LoggingConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.JSON)
}

func TestLoadJSONAndYAML(t *testing.T) {
	jsonPath := writeFile(t, "c.json", `{"bridge":{"target_addr":"10.1.1.1","max_connections":5}}`)
	cfg, err := LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", cfg.Bridge.TargetAddr)
	assert.Equal(t, 5, cfg.Bridge.MaxConnections)
	assert.Equal(t, DefaultFlowTimeout, cfg.Bridge.FlowTimeout)

	yamlPath := writeFile(t, "c.yaml", "bridge:\n  target_addr: 10.2.2.2\n  active: false\napi:\n  enabled: false\n  listen: \"\"\n")
	cfg, err = LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "10.2.2.2", cfg.Target().String())
	assert.False(t, *cfg.Bridge.Active)
	assert.False(t, *cfg.API.Enabled)
}

func TestLoadUnknownExtensionFallsBack(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "flowbridge.conf", `bridge { target_addr = "10.3.3.3" }`))
	require.NoError(t, err)
	assert.Equal(t, "10.3.3.3", cfg.Bridge.TargetAddr)

	cfg, err = LoadFile(writeFile(t, "flowbridge.conf", `{"bridge":{"target_addr":"10.4.4.4"}}`))
	require.NoError(t, err)
	assert.Equal(t, "10.4.4.4", cfg.Bridge.TargetAddr)

	_, err = LoadFile(writeFile(t, "flowbridge.conf", `this is not = = config`))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFile(writeFile(t, "c.hcl", `bridge { bogus = 1 }`))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "c.json", `{"bogus": true}`))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "c.yml", "bogus: true\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestSchemaVersion(t *testing.T) {
	_, err := LoadFile(writeFile(t, "c.hcl", `schema_version = "2.0"`))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad target", func(c *Config) { c.Bridge.TargetAddr = "not-an-ip" }, "bridge.target_addr"},
		{"ipv6 target", func(c *Config) { c.Bridge.TargetAddr = "::1" }, "bridge.target_addr"},
		{"port range", func(c *Config) { c.Bridge.TargetPort = 70000 }, "bridge.target_port"},
		{"max connections", func(c *Config) { c.Bridge.MaxConnections = -1 }, "bridge.max_connections"},
		{"timeout syntax", func(c *Config) { c.Bridge.FlowTimeout = "soon" }, "bridge.flow_timeout"},
		{"negative sweep", func(c *Config) { c.Bridge.SweepInterval = "-1s" }, "bridge.sweep_interval"},
		{"sweep exceeds timeout", func(c *Config) { c.Bridge.SweepInterval = "1m" }, "bridge.sweep_interval"},
		{"queue range", func(c *Config) { c.Capture.QueueNum = 65536 }, "capture.queue_num"},
		{"capture mode", func(c *Config) { c.Capture.Mode = "mirror" }, "capture.mode"},
		{"listen", func(c *Config) { c.API.Listen = "nonsense" }, "api.listen"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateSkipsDisabledAPI(t *testing.T) {
	cfg := Default()
	*cfg.API.Enabled = false
	cfg.API.Listen = ""
	assert.NoError(t, cfg.Validate())
}

func TestMarshalHCLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Bridge.TargetAddr = "10.9.9.9"
	*cfg.Capture.Steer = false

	out := MarshalHCL(cfg)
	assert.Contains(t, string(out), `target_addr`)

	back, err := LoadHCL(out, "roundtrip.hcl")
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
