// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package expiry

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/flow"
)

func key(src string, sport uint16) flow.Key {
	return flow.Key{
		SrcAddr:  netip.MustParseAddr(src),
		DstAddr:  netip.MustParseAddr("10.0.0.100"),
		SrcPort:  sport,
		DstPort:  80,
		Protocol: flow.ProtoTCP,
	}
}

func insert(t *testing.T, tbl *flow.Table, k flow.Key, at time.Time) {
	t.Helper()
	require.NoError(t, tbl.Insert(flow.NewRecord(k, [flow.SessionKeySize]byte{1}, at, 60)))
}

func TestSweepRemovesOnlyIdleFlows(t *testing.T) {
	start := time.Unix(0, 0)
	clk := clock.NewMockClock(start)
	tbl := flow.NewTable(10)

	insert(t, tbl, key("10.0.0.1", 1), start)
	insert(t, tbl, key("10.0.0.2", 2), start.Add(10*time.Second))
	insert(t, tbl, key("10.0.0.3", 3), start.Add(25*time.Second))

	s := NewScheduler(tbl, clk, 30*time.Second, 5*time.Second, nil, nil)

	clk.Set(start.Add(29 * time.Second))
	assert.Equal(t, 0, s.Sweep())
	assert.Equal(t, 3, tbl.Len())

	clk.Set(start.Add(40 * time.Second))
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, tbl.Len())

	_, err := tbl.SessionKey(key("10.0.0.3", 3))
	assert.NoError(t, err)
}

func TestSweepScenario(t *testing.T) {
	start := time.Unix(0, 0)
	clk := clock.NewMockClock(start)
	tbl := flow.NewTable(2)
	s := NewScheduler(tbl, clk, 30*time.Second, 5*time.Second, nil, nil)

	insert(t, tbl, key("10.0.0.1", 1234), start)
	insert(t, tbl, key("10.0.0.2", 5000), start.Add(time.Second))
	assert.ErrorIs(t, tbl.Insert(flow.NewRecord(key("10.0.0.3", 1), [flow.SessionKeySize]byte{}, start.Add(2*time.Second), 1)), flow.ErrCapacityExceeded)

	// B was last seen at t=1, so it is only past the cutoff once t=31 has
	// begun.
	clk.Set(start.Add(31*time.Second + time.Millisecond))
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 0, tbl.Len())

	insert(t, tbl, key("10.0.0.3", 1), start.Add(32*time.Second))
	assert.Equal(t, 1, tbl.Len())
}

func TestSweepKeepsFlowAtCutoff(t *testing.T) {
	start := time.Unix(0, 0)
	clk := clock.NewMockClock(start)
	tbl := flow.NewTable(4)
	s := NewScheduler(tbl, clk, 30*time.Second, 5*time.Second, nil, nil)

	insert(t, tbl, key("10.0.0.1", 1), start)

	clk.Set(start.Add(30 * time.Second))
	assert.Equal(t, 0, s.Sweep(), "last_seen equal to the cutoff is not stale")
	assert.Equal(t, 1, tbl.Len())

	clk.Set(start.Add(30*time.Second + time.Nanosecond))
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, tbl.Len())
}

func TestDefaults(t *testing.T) {
	s := NewScheduler(flow.NewTable(1), nil, 0, -time.Second, nil, nil)
	assert.Equal(t, DefaultTimeout, s.Timeout())
	assert.Equal(t, DefaultPeriod, s.Period())
}

// countingTable records sweeps without touching real records.
type countingTable struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTable) RemoveIf(func(*flow.Record) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0
}

func (c *countingTable) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	tbl := &countingTable{}
	s := NewScheduler(tbl, nil, time.Minute, 5*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return tbl.Calls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	n := tbl.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, tbl.Calls())
}
