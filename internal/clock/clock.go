// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package clock abstracts time so flow ageing can be driven by tests and
// pcap replay.
package clock

import (
	"sync"
	"time"
)

// Clock supplies a non-decreasing timestamp.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock. Values returned by time.Now carry a
// monotonic reading, so comparisons between them are monotonic.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// Now returns the current time from the real clock.
func Now() time.Time { return time.Now() }

// MockClock is a manually driven clock.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock returns a MockClock starting at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// Now returns the mock time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *MockClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t. Times before the current value are ignored so
// the clock never runs backwards, even for out-of-order pcap timestamps.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
}
