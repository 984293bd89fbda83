// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bridge owns the flow-tracking bridge: its settings, flow table,
// classifier and expiry scheduler, and the control contract used by the
// admin surface.
package bridge

import (
	"context"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"grimm.is/flowbridge/internal/classifier"
	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/expiry"
	"grimm.is/flowbridge/internal/flow"
	"grimm.is/flowbridge/internal/logging"
	"grimm.is/flowbridge/internal/metrics"
	"grimm.is/flowbridge/internal/seal"
	"grimm.is/flowbridge/internal/sessionkey"
)

// Version is reported in status output.
const Version = "1.0.0"

var (
	// ErrInvalidAddress is returned for target addresses that are not IPv4
	// dotted quads.
	ErrInvalidAddress = errors.New(errors.KindValidation, "invalid IPv4 address")
	// ErrStopped is returned by control calls after Close.
	ErrStopped = errors.New(errors.KindUnavailable, "bridge stopped")
)

// Config holds the bridge settings.
type Config struct {
	Active         bool
	TargetAddr     netip.Addr
	TargetPort     uint16
	MaxConnections int
	FlowTimeout    time.Duration
	SweepInterval  time.Duration
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Active:         true,
		TargetAddr:     netip.AddrFrom4([4]byte{192, 168, 1, 100}),
		TargetPort:     8080,
		MaxConnections: flow.DefaultMaxConnections,
		FlowTimeout:    expiry.DefaultTimeout,
		SweepInterval:  expiry.DefaultPeriod,
	}
}

// Options carries collaborators. All fields are optional.
type Options struct {
	Clock   clock.Clock
	Rand    io.Reader
	Cipher  seal.Cipher
	Metrics *metrics.Metrics
	Logger  *logging.Logger

	// ManualSweep disables the background scheduler; the caller drives
	// expiry through Sweep.
	ManualSweep bool
}

// settings is replaced wholesale so readers never see a torn update.
type settings struct {
	active bool
	target netip.Addr
	port   uint16
}

// Status is the externally visible bridge state.
type Status struct {
	Version         string     `json:"version"`
	InstanceID      string     `json:"instance_id"`
	State           State      `json:"state"`
	Active          bool       `json:"active"`
	TargetAddr      netip.Addr `json:"target_addr"`
	TargetPort      uint16     `json:"target_port"`
	ConnectionCount int        `json:"connection_count"`
	MaxConnections  int        `json:"max_connections"`
	FlowTimeout     string     `json:"flow_timeout"`
	SweepInterval   string     `json:"sweep_interval"`
}

// Controller is the bridge. Create one with New and release it with Close.
type Controller struct {
	id       uuid.UUID
	settings atomic.Pointer[settings]
	state    atomic.Int32

	// mu serializes control writes and lifecycle changes.
	mu sync.Mutex
	// inflight is read-held by Classify so Close can wait out packets that
	// passed the state check before draining.
	inflight sync.RWMutex
	hooks    []func(netip.Addr) error

	keyMu     sync.RWMutex
	globalKey [flow.SessionKeySize]byte

	table      *flow.Table
	classifier *classifier.Classifier
	scheduler  *expiry.Scheduler
	cipher     seal.Cipher
	metrics    *metrics.Metrics
	logger     *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a controller, generates its global key and starts the expiry
// scheduler unless opts.ManualSweep is set.
func New(cfg Config, opts Options) (*Controller, error) {
	if cfg.TargetAddr.IsValid() && !cfg.TargetAddr.Is4() {
		return nil, errors.Attr(ErrInvalidAddress, "target_addr", cfg.TargetAddr.String())
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Cipher == nil {
		opts.Cipher = seal.XChaCha{Rand: opts.Rand}
	}

	keys := sessionkey.New(opts.Rand)
	gk, err := keys.Generate()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEntropy, "generate global key")
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEntropy, "generate instance id")
	}

	c := &Controller{
		id:        id,
		globalKey: gk,
		table:     flow.NewTable(cfg.MaxConnections),
		cipher:    opts.Cipher,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithComponent("bridge"),
	}
	clear(gk[:])

	c.classifier, err = classifier.New(classifier.Options{
		Table:   c.table,
		Policy:  gate{c},
		Keys:    keys,
		Clock:   opts.Clock,
		Metrics: opts.Metrics,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.scheduler = expiry.NewScheduler(c.table, opts.Clock, cfg.FlowTimeout, cfg.SweepInterval, opts.Metrics, opts.Logger)

	c.settings.Store(&settings{active: cfg.Active, target: cfg.TargetAddr, port: cfg.TargetPort})
	c.state.Store(int32(stateFor(cfg.Active)))
	c.metrics.SetActive(cfg.Active)

	if !opts.ManualSweep {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.done = make(chan struct{})
		go func() {
			defer close(c.done)
			c.scheduler.Run(ctx)
		}()
	}

	c.logger.Info("bridge started",
		"instance", c.id.String(),
		"active", cfg.Active,
		"target", cfg.TargetAddr,
		"max_connections", c.table.Capacity())
	return c, nil
}

func stateFor(active bool) State {
	if active {
		return StateActive
	}
	return StateInactive
}

// gate adapts the controller to classifier.Policy.
type gate struct{ c *Controller }

func (g gate) Gate() (bool, netip.Addr) {
	s := g.c.settings.Load()
	return s.active, s.target
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// InstanceID identifies this controller instance.
func (c *Controller) InstanceID() string {
	return c.id.String()
}

// Classify observes one packet. It always returns VerdictAccept.
func (c *Controller) Classify(pkt []byte) classifier.Verdict {
	c.inflight.RLock()
	defer c.inflight.RUnlock()
	if !c.State().Running() {
		return classifier.VerdictAccept
	}
	return c.classifier.Classify(pkt)
}

// Status reports the current settings and flow count.
func (c *Controller) Status() Status {
	s := c.settings.Load()
	return Status{
		Version:         Version,
		InstanceID:      c.id.String(),
		State:           c.State(),
		Active:          s.active,
		TargetAddr:      s.target,
		TargetPort:      s.port,
		ConnectionCount: c.table.Len(),
		MaxConnections:  c.table.Capacity(),
		FlowTimeout:     c.scheduler.Timeout().String(),
		SweepInterval:   c.scheduler.Period().String(),
	}
}

// Flows returns a fresh, ordered copy of every tracked flow.
func (c *Controller) Flows() []flow.Snapshot {
	return c.table.Snapshot()
}

// Totals sums the tracked flows for the traffic collector.
func (c *Controller) Totals() metrics.Totals {
	var t metrics.Totals
	c.table.ForEach(func(r *flow.Record) bool {
		t.Flows++
		t.BytesSent += r.BytesSent
		t.BytesReceived += r.BytesReceived
		return true
	})
	return t
}

// SetActive turns classification on or off. It is idempotent and takes
// effect for the next packet.
func (c *Controller) SetActive(active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.State().Running() {
		return ErrStopped
	}

	cur := c.settings.Load()
	if cur.active != active {
		next := *cur
		next.active = active
		c.settings.Store(&next)
		c.logger.Info("bridge activation changed", "active", active)
	}
	c.state.Store(int32(stateFor(active)))
	c.metrics.SetActive(active)
	return nil
}

// SetTargetAddr parses addr as an IPv4 dotted quad and makes it the target.
// On error the previous target stays in effect.
func (c *Controller) SetTargetAddr(addr string) error {
	target, err := ParseTarget(addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.State().Running() {
		c.mu.Unlock()
		return ErrStopped
	}
	next := *c.settings.Load()
	prev := next.target
	next.target = target
	c.settings.Store(&next)
	hooks := append([]func(netip.Addr) error(nil), c.hooks...)
	c.mu.Unlock()

	c.logger.Info("bridge target changed", "from", prev, "to", target)
	for _, fn := range hooks {
		if err := fn(target); err != nil {
			c.logger.WithError(err).Warn("target change hook failed", "target", target)
		}
	}
	return nil
}

// ParseTarget validates a target address string.
func ParseTarget(addr string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, errors.Attr(ErrInvalidAddress, "input", addr)
	}
	return ip, nil
}

// OnTargetChange registers fn to run after every successful SetTargetAddr.
// Hooks run outside the controller lock.
func (c *Controller) OnTargetChange(fn func(netip.Addr) error) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Sweep runs one expiry pass now and returns the number of flows removed.
func (c *Controller) Sweep() int {
	if !c.State().Running() {
		return 0
	}
	return c.scheduler.Sweep()
}

// SealFor encrypts data with the session key of the given flow.
func (c *Controller) SealFor(key flow.Key, data []byte) ([]byte, error) {
	sk, err := c.sessionKey(key)
	if err != nil {
		return nil, err
	}
	defer clear(sk[:])
	return c.cipher.Seal(sk, data)
}

// OpenFor decrypts data sealed by SealFor for the same flow.
func (c *Controller) OpenFor(key flow.Key, data []byte) ([]byte, error) {
	sk, err := c.sessionKey(key)
	if err != nil {
		return nil, err
	}
	defer clear(sk[:])
	return c.cipher.Open(sk, data)
}

func (c *Controller) sessionKey(key flow.Key) ([flow.SessionKeySize]byte, error) {
	if !c.State().Running() {
		return [flow.SessionKeySize]byte{}, ErrStopped
	}
	sk, err := c.table.SessionKey(key)
	if err != nil {
		return sk, errors.Attr(err, "flow", key.String())
	}
	return sk, nil
}

// GlobalKeyMAC authenticates data with the bridge's global key.
func (c *Controller) GlobalKeyMAC(data []byte) []byte {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return seal.MAC(c.globalKey, data)
}

// Close stops the scheduler, drains the table and zeroes the global key.
// Calling Close more than once is safe.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.State().Running() {
		return nil
	}
	c.inflight.Lock()
	c.state.Store(int32(StateShuttingDown))
	c.inflight.Unlock()

	next := *c.settings.Load()
	next.active = false
	c.settings.Store(&next)
	c.metrics.SetActive(false)

	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	drained := c.table.Drain()
	c.metrics.Drained(drained)

	c.keyMu.Lock()
	clear(c.globalKey[:])
	c.keyMu.Unlock()

	c.state.Store(int32(StateStopped))
	c.logger.Info("bridge stopped", "drained", drained)
	return nil
}
