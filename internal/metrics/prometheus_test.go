// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(func() float64 { return 3 })

	m.Packet(OutcomeCreated)
	m.Packet(OutcomeCreated)
	m.Packet(OutcomeUnmatched)
	m.Packet("bogus")
	m.TrackedBytes(120)
	m.Swept(2)
	m.Swept(0)
	m.SetActive(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Packets.WithLabelValues(OutcomeCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Packets.WithLabelValues(OutcomeUnmatched)))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.Bytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sweeps))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FlowsExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Active))
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(func() float64 { return 5 })
	require.NoError(t, m.Register(reg))

	n, err := testutil.GatherAndCount(reg, "flowbridge_flows")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second registration of the same collector must fail.
	assert.Error(t, m.Register(reg))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Packet(OutcomeCreated)
	m.TrackedBytes(1)
	m.Swept(1)
	m.Drained(1)
	m.SetActive(false)
}

func TestEveryOutcomeHasCounter(t *testing.T) {
	m := NewMetrics(nil)
	for _, o := range Outcomes() {
		assert.True(t, KnownOutcome(o), o)
		m.Packet(o)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Packets.WithLabelValues(o)), o)
	}
	assert.False(t, KnownOutcome("bogus"))
}
