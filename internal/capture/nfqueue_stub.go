// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package capture

import (
	"context"

	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// NFQueueReader is a stub for non-Linux systems.
type NFQueueReader struct {
	stats queueCounters
}

// NewNFQueueReader creates a stub reader.
func NewNFQueueReader(cfg QueueConfig, c Classifier, logger *logging.Logger) *NFQueueReader {
	return &NFQueueReader{}
}

// Start returns an error on non-Linux systems.
func (r *NFQueueReader) Start(ctx context.Context) error {
	return errors.New(errors.KindUnavailable, "nfqueue is only supported on Linux")
}

// Stop is a no-op on non-Linux.
func (r *NFQueueReader) Stop() {}

// IsRunning always returns false on non-Linux.
func (r *NFQueueReader) IsRunning() bool {
	return false
}

// GetStats returns empty stats on non-Linux.
func (r *NFQueueReader) GetStats() Stats {
	return r.stats.snapshot()
}
