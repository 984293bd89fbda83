// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"sync"
	"time"

	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/logging"
)

// Totals is a point-in-time sum over the tracked flows.
type Totals struct {
	Flows         int    `json:"flows"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

// TrafficStats holds the most recent sample and the derived rates.
type TrafficStats struct {
	Totals
	RxBytesPerSec float64   `json:"rx_bytes_per_sec"`
	TxBytesPerSec float64   `json:"tx_bytes_per_sec"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Collector periodically samples flow totals and derives byte rates.
type Collector struct {
	source   func() Totals
	clk      clock.Clock
	logger   *logging.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu    sync.RWMutex
	stats TrafficStats
	prev  Totals
	prevT time.Time
}

// NewCollector creates a new traffic collector.
func NewCollector(source func() Totals, logger *logging.Logger, interval time.Duration) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Collector{
		source:   source,
		clk:      clock.RealClock{},
		logger:   logger.WithComponent("metrics"),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sampling loop until Stop is called.
func (c *Collector) Start() {
	c.logger.Info("Starting traffic collector", "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sample()
		case <-c.stopCh:
			c.logger.Info("Stopping traffic collector")
			return
		}
	}
}

// Stop ends the sampling loop. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Sample takes one reading now.
func (c *Collector) Sample() {
	cur := c.source()
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := TrafficStats{Totals: cur, SampledAt: now}
	if !c.prevT.IsZero() {
		elapsed := now.Sub(c.prevT).Seconds()
		st.RxBytesPerSec = c.calculateRate(cur.BytesReceived, c.prev.BytesReceived, elapsed)
		st.TxBytesPerSec = c.calculateRate(cur.BytesSent, c.prev.BytesSent, elapsed)
	}
	c.stats = st
	c.prev = cur
	c.prevT = now
}

// Stats returns the latest sample.
func (c *Collector) Stats() TrafficStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// calculateRate computes the rate between two totals. Totals shrink when
// flows expire; in that case current is taken as the delta from zero.
func (c *Collector) calculateRate(current, previous uint64, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}

	var delta uint64
	if current < previous {
		delta = current
		c.logger.Debug("Flow totals shrank", "current", current, "previous", previous)
	} else {
		delta = current - previous
	}

	return float64(delta) / elapsedSeconds
}

// SetClock replaces the collector's time source. Call before Start.
func (c *Collector) SetClock(clk clock.Clock) {
	if clk != nil {
		c.clk = clk
	}
}
