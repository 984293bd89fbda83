// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package capture

import (
	"context"

	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// NFLogReader is a stub for non-Linux systems.
type NFLogReader struct {
	stats queueCounters
}

// NewNFLogReader creates a stub reader.
func NewNFLogReader(cfg QueueConfig, c Classifier, logger *logging.Logger) *NFLogReader {
	return &NFLogReader{}
}

// Start returns an error on non-Linux systems.
func (r *NFLogReader) Start(ctx context.Context) error {
	return errors.New(errors.KindUnavailable, "nflog is only supported on Linux")
}

// Stop is a no-op on non-Linux.
func (r *NFLogReader) Stop() {}

// IsRunning always returns false on non-Linux.
func (r *NFLogReader) IsRunning() bool { return false }

// GetStats returns empty stats on non-Linux.
func (r *NFLogReader) GetStats() Stats { return r.stats.snapshot() }
