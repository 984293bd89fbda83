// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for classified packets. The classifier's outcomes are
// defined from these.
const (
	OutcomeInactive   = "inactive"
	OutcomeMalformed  = "malformed"
	OutcomeFamily     = "unsupported_family"
	OutcomeFragment   = "fragment"
	OutcomeUnmatched  = "unmatched"
	OutcomeIgnored    = "ignored_protocol"
	OutcomeUpdated    = "updated"
	OutcomeCreated    = "created"
	OutcomeCapacity   = "capacity_exceeded"
	OutcomeKeyFailure = "key_failure"
	OutcomePanic      = "panic"
)

var outcomes = []string{
	OutcomeInactive, OutcomeMalformed, OutcomeFamily, OutcomeFragment, OutcomeUnmatched,
	OutcomeIgnored, OutcomeUpdated, OutcomeCreated, OutcomeCapacity,
	OutcomeKeyFailure, OutcomePanic,
}

// Metrics holds the bridge's Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Packets      *prometheus.CounterVec
	Bytes        prometheus.Counter
	FlowsExpired prometheus.Counter
	FlowsDrained prometheus.Counter
	Sweeps       prometheus.Counter
	Active       prometheus.Gauge

	// Pre-resolved children so the packet path skips label hashing.
	byOutcome map[string]prometheus.Counter

	flowCount prometheus.Collector
}

// NewMetrics creates the metric set. flowCount is sampled on every scrape
// and may be nil.
func NewMetrics(flowCount func() float64) *Metrics {
	m := &Metrics{
		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbridge_packets_total",
			Help: "Packets seen by the classifier, by outcome",
		}, []string{"outcome"}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowbridge_tracked_bytes_total",
			Help: "Bytes credited to tracked flows",
		}),
		FlowsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowbridge_flows_expired_total",
			Help: "Flows removed by the expiry sweep",
		}),
		FlowsDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowbridge_flows_drained_total",
			Help: "Flows removed at shutdown",
		}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowbridge_sweeps_total",
			Help: "Completed expiry sweeps",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowbridge_active",
			Help: "Whether classification is enabled (1) or not (0)",
		}),
		byOutcome: make(map[string]prometheus.Counter, len(outcomes)),
	}

	for _, o := range outcomes {
		m.byOutcome[o] = m.Packets.WithLabelValues(o)
	}

	if flowCount != nil {
		m.flowCount = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "flowbridge_flows",
			Help: "Flows currently tracked",
		}, flowCount)
	}

	return m
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Packets.Describe(ch)
	m.Bytes.Describe(ch)
	m.FlowsExpired.Describe(ch)
	m.FlowsDrained.Describe(ch)
	m.Sweeps.Describe(ch)
	m.Active.Describe(ch)
	if m.flowCount != nil {
		m.flowCount.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Packets.Collect(ch)
	m.Bytes.Collect(ch)
	m.FlowsExpired.Collect(ch)
	m.FlowsDrained.Collect(ch)
	m.Sweeps.Collect(ch)
	m.Active.Collect(ch)
	if m.flowCount != nil {
		m.flowCount.Collect(ch)
	}
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m)
}

// Outcomes returns every packet outcome label.
func Outcomes() []string {
	return append([]string(nil), outcomes...)
}

// KnownOutcome reports whether outcome has a packet counter.
func KnownOutcome(outcome string) bool {
	for _, o := range outcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

// Packet counts one classified packet. Labels outside Outcomes are dropped.
func (m *Metrics) Packet(outcome string) {
	if m == nil {
		return
	}
	if c, ok := m.byOutcome[outcome]; ok {
		c.Inc()
	}
}

// TrackedBytes credits n bytes to tracked flows.
func (m *Metrics) TrackedBytes(n int) {
	if m == nil {
		return
	}
	m.Bytes.Add(float64(n))
}

// Swept records one sweep that removed n flows.
func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.Sweeps.Inc()
	m.FlowsExpired.Add(float64(n))
}

// Drained records n flows removed at shutdown.
func (m *Metrics) Drained(n int) {
	if m == nil {
		return
	}
	m.FlowsDrained.Add(float64(n))
}

// SetActive mirrors the bridge's active flag.
func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.Active.Set(1)
	} else {
		m.Active.Set(0)
	}
}
