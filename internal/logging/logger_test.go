// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"grimm.is/flowbridge/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected info level, got %v", cfg.Level)
	}
	if cfg.JSON {
		t.Error("Default should be text output")
	}
	if cfg.Output == nil {
		t.Error("Default output should be set")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelDebug, JSON: true}).WithComponent("expiry")

	logger.Debug("Swept flows", "removed", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON log line: %v (%s)", err, buf.String())
	}
	if rec["component"] != "expiry" {
		t.Errorf("Expected component expiry, got %v", rec["component"])
	}
	if rec["msg"] != "Swept flows" {
		t.Errorf("Unexpected msg %v", rec["msg"])
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelInfo})

	logger.WithError(errors.New(errors.KindEntropy, "short read")).Warn("Key generation failed")

	out := buf.String()
	if !strings.Contains(out, "short read") || !strings.Contains(out, "error_kind=entropy") {
		t.Errorf("Missing error fields: %s", out)
	}
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelWarn})

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Info should be filtered at warn level: %s", buf.String())
	}
	if logger.Enabled(LevelDebug) {
		t.Error("Debug should not be enabled at warn level")
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(New(Config{Output: &buf, Level: LevelInfo}))
	Info("hello", "k", "v")

	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("package Info did not reach new default: %q", buf.String())
	}

	SetDefault(nil)
	if Default() == nil {
		t.Error("SetDefault(nil) must not clear the default")
	}
}
