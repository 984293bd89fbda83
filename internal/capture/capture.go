// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package capture delivers packets to the bridge: live from an nfqueue or
// nflog group, steered there by nftables rules, or offline from a pcap file.
package capture

import (
	"context"
	"sync/atomic"
	"time"

	"grimm.is/flowbridge/internal/classifier"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// Mode selects how live packets reach the bridge.
type Mode string

const (
	// ModeQueue holds each packet in an nfqueue until a verdict is issued.
	ModeQueue Mode = "queue"
	// ModeLog receives copies from an nflog group. The kernel never waits
	// on the bridge.
	ModeLog Mode = "log"
)

// ParseMode validates a mode name. The empty string means ModeQueue.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeQueue:
		return ModeQueue, nil
	case ModeLog:
		return ModeLog, nil
	default:
		return "", errors.Errorf(errors.KindValidation, "unknown capture mode %q (want queue or log)", s)
	}
}

// Classifier receives every captured packet.
type Classifier interface {
	Classify(pkt []byte) classifier.Verdict
}

// QueueConfig configures the live packet source.
type QueueConfig struct {
	Mode Mode
	// QueueNum is the nfqueue number, or the nflog group in ModeLog.
	QueueNum     uint16
	MaxPacketLen uint32
	MaxQueueLen  uint32
	// FailOpen asks the kernel to accept packets when the queue is full.
	FailOpen bool
	// IOTimeout bounds netlink reads so Stop is noticed promptly.
	IOTimeout time.Duration
}

// DefaultQueueConfig returns the stock queue settings.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Mode:         ModeQueue,
		QueueNum:     0,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  1024,
		FailOpen:     true,
		IOTimeout:    100 * time.Millisecond,
	}
}

// Source is a live packet feed.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
	GetStats() Stats
}

// NewSource returns the reader for cfg.Mode.
func NewSource(cfg QueueConfig, c Classifier, logger *logging.Logger) (Source, error) {
	switch cfg.Mode {
	case "", ModeQueue:
		return NewNFQueueReader(cfg, c, logger), nil
	case ModeLog:
		return NewNFLogReader(cfg, c, logger), nil
	default:
		return nil, errors.Errorf(errors.KindValidation, "unknown capture mode %q", cfg.Mode)
	}
}

// Stats holds statistics for a live reader. Log readers never drop or
// issue verdicts, so those counters stay zero.
type Stats struct {
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsAccepted  uint64 `json:"packets_accepted"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	VerdictErrors    uint64 `json:"verdict_errors"`
	Overflows        uint64 `json:"overflows"`
}

type queueCounters struct {
	processed atomic.Uint64
	accepted  atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
	overflows atomic.Uint64
}

func (c *queueCounters) snapshot() Stats {
	return Stats{
		PacketsProcessed: c.processed.Load(),
		PacketsAccepted:  c.accepted.Load(),
		PacketsDropped:   c.dropped.Load(),
		VerdictErrors:    c.errors.Load(),
		Overflows:        c.overflows.Load(),
	}
}
