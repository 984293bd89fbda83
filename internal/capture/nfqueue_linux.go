// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package capture

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/florianl/go-nfqueue/v2"
	"golang.org/x/sys/unix"

	"grimm.is/flowbridge/internal/classifier"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// verdictSetter is the part of *nfqueue.Nfqueue used on the packet path.
type verdictSetter interface {
	SetVerdict(id uint32, verdict int) error
}

// NFQueueReader feeds packets from a netfilter queue to a Classifier and
// returns each one to the kernel with the classifier's verdict.
type NFQueueReader struct {
	cfg        QueueConfig
	classifier Classifier
	logger     *logging.Logger

	mu      sync.Mutex
	nf      *nfqueue.Nfqueue
	verdict verdictSetter
	cancel  context.CancelFunc
	running atomic.Bool

	stats queueCounters
}

// NewNFQueueReader creates a reader. Nothing is opened until Start.
func NewNFQueueReader(cfg QueueConfig, c Classifier, logger *logging.Logger) *NFQueueReader {
	if logger == nil {
		logger = logging.Default()
	}
	return &NFQueueReader{
		cfg:        cfg,
		classifier: c,
		logger:     logger.WithComponent("nfqueue").With("queue", cfg.QueueNum),
	}
}

// Start opens the queue and begins delivering packets. It returns once the
// netlink subscription is registered.
func (r *NFQueueReader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return errors.New(errors.KindConflict, "nfqueue reader already running")
	}

	var flags uint32
	if r.cfg.FailOpen {
		flags |= nfqueue.NfQaCfgFlagFailOpen
	}

	nf, err := nfqueue.Open(&nfqueue.Config{
		NfQueue:      r.cfg.QueueNum,
		MaxPacketLen: r.cfg.MaxPacketLen,
		MaxQueueLen:  r.cfg.MaxQueueLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
		Flags:        flags,
		ReadTimeout:  r.cfg.IOTimeout,
		WriteTimeout: r.cfg.IOTimeout,
	})
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "open nfqueue %d", r.cfg.QueueNum)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := nf.RegisterWithErrorFunc(runCtx, r.handle, r.handleError); err != nil {
		cancel()
		nf.Close()
		return errors.Wrapf(err, errors.KindUnavailable, "register nfqueue %d", r.cfg.QueueNum)
	}

	r.nf = nf
	r.verdict = nf
	r.cancel = cancel
	r.running.Store(true)
	r.logger.Info("nfqueue reader started", "fail_open", r.cfg.FailOpen)
	return nil
}

// Stop cancels delivery and closes the queue.
func (r *NFQueueReader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nf == nil {
		return
	}
	r.cancel()
	if err := r.nf.Close(); err != nil {
		r.logger.WithError(err).Debug("nfqueue close")
	}
	r.nf = nil
	r.running.Store(false)
	r.logger.Info("nfqueue reader stopped")
}

// IsRunning reports whether the reader is receiving packets.
func (r *NFQueueReader) IsRunning() bool {
	return r.running.Load()
}

// GetStats returns reader statistics.
func (r *NFQueueReader) GetStats() Stats {
	return r.stats.snapshot()
}

func (r *NFQueueReader) handle(attr nfqueue.Attribute) int {
	if attr.PacketID == nil {
		return 0
	}
	var payload []byte
	if attr.Payload != nil {
		payload = *attr.Payload
	}

	r.stats.processed.Add(1)
	v := r.classifier.Classify(payload)

	nfv := nfqueue.NfAccept
	if v == classifier.VerdictDrop {
		nfv = nfqueue.NfDrop
		r.stats.dropped.Add(1)
	} else {
		r.stats.accepted.Add(1)
	}

	if err := r.verdict.SetVerdict(*attr.PacketID, nfv); err != nil {
		r.stats.errors.Add(1)
		r.logger.WithError(err).Debug("set verdict failed", "id", *attr.PacketID)
	}
	return 0
}

// handleError decides whether a receive error ends delivery. Returning
// non-zero stops the subscription.
func (r *NFQueueReader) handleError(err error) int {
	switch {
	case errors.Is(err, unix.ENOBUFS):
		// Kernel dropped messages for a slow reader; fail-open covers the
		// packets themselves.
		r.stats.overflows.Add(1)
		return 0
	case errors.Is(err, os.ErrDeadlineExceeded):
		return 0
	}

	if opErr, ok := err.(interface{ Timeout() bool }); ok && opErr.Timeout() {
		return 0
	}

	r.logger.WithError(err).Warn("nfqueue receive failed, stopping")
	r.running.Store(false)
	return 1
}
