// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package capture

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/florianl/go-nflog/v2"
	"golang.org/x/sys/unix"

	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// NFLogReader feeds copies of logged packets to a Classifier. The original
// packet has already continued through the stack, so verdicts are ignored.
type NFLogReader struct {
	cfg        QueueConfig
	classifier Classifier
	logger     *logging.Logger

	mu      sync.Mutex
	nf      *nflog.Nflog
	cancel  context.CancelFunc
	running atomic.Bool

	stats queueCounters
}

// NewNFLogReader creates a reader for nflog group cfg.QueueNum.
func NewNFLogReader(cfg QueueConfig, c Classifier, logger *logging.Logger) *NFLogReader {
	if logger == nil {
		logger = logging.Default()
	}
	return &NFLogReader{
		cfg:        cfg,
		classifier: c,
		logger:     logger.WithComponent("nflog").With("group", cfg.QueueNum),
	}
}

// Start subscribes to the group.
func (r *NFLogReader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return errors.New(errors.KindConflict, "nflog reader already running")
	}

	nf, err := nflog.Open(&nflog.Config{
		Group:       r.cfg.QueueNum,
		Copymode:    nflog.CopyPacket,
		ReadTimeout: r.cfg.IOTimeout,
	})
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "open nflog group %d", r.cfg.QueueNum)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := nf.RegisterWithErrorFunc(runCtx, r.handle, r.handleError); err != nil {
		cancel()
		nf.Close()
		return errors.Wrapf(err, errors.KindUnavailable, "register nflog group %d", r.cfg.QueueNum)
	}

	r.nf = nf
	r.cancel = cancel
	r.running.Store(true)
	r.logger.Info("nflog reader started")
	return nil
}

// Stop cancels delivery and closes the socket.
func (r *NFLogReader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nf == nil {
		return
	}
	r.cancel()
	if err := r.nf.Close(); err != nil {
		r.logger.WithError(err).Debug("nflog close")
	}
	r.nf = nil
	r.running.Store(false)
	r.logger.Info("nflog reader stopped")
}

// IsRunning reports whether the reader is receiving packets.
func (r *NFLogReader) IsRunning() bool {
	return r.running.Load()
}

// GetStats returns reader statistics.
func (r *NFLogReader) GetStats() Stats {
	return r.stats.snapshot()
}

func (r *NFLogReader) handle(attr nflog.Attribute) int {
	if attr.Payload == nil {
		return 0
	}
	r.stats.processed.Add(1)
	r.classifier.Classify(*attr.Payload)
	r.stats.accepted.Add(1)
	return 0
}

func (r *NFLogReader) handleError(err error) int {
	switch {
	case errors.Is(err, unix.ENOBUFS):
		r.stats.overflows.Add(1)
		return 0
	case errors.Is(err, os.ErrDeadlineExceeded):
		return 0
	}
	if opErr, ok := err.(interface{ Timeout() bool }); ok && opErr.Timeout() {
		return 0
	}

	r.logger.WithError(err).Warn("nflog receive failed, stopping")
	r.running.Store(false)
	return 1
}
