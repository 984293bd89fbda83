// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package classifier turns raw IPv4 packets into flow table updates.
//
// The classifier is fail-open: Classify returns VerdictAccept for every
// packet, whatever happens to the flow table. It never blocks on I/O and
// never removes flows.
package classifier

import (
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/flow"
	"grimm.is/flowbridge/internal/logging"
	"grimm.is/flowbridge/internal/metrics"
	"grimm.is/flowbridge/internal/sessionkey"
)

// Policy supplies the activation flag and target address. Both values must
// come from one consistent snapshot.
type Policy interface {
	Gate() (active bool, target netip.Addr)
}

// KeySource produces per-flow session keys.
type KeySource interface {
	Generate() ([flow.SessionKeySize]byte, error)
}

// Options configures a Classifier.
type Options struct {
	Table  *flow.Table
	Policy Policy

	// Keys defaults to a crypto/rand generator, Clock to the real clock.
	Keys  KeySource
	Clock clock.Clock

	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Classifier feeds packets into a flow table.
type Classifier struct {
	table   *flow.Table
	policy  Policy
	keys    KeySource
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *logging.Logger

	// Bounds error logging on the packet path; metrics count everything.
	logLimit *rate.Limiter
}

// New creates a classifier.
func New(opts Options) (*Classifier, error) {
	if opts.Table == nil {
		return nil, errors.New(errors.KindValidation, "classifier requires a flow table")
	}
	if opts.Policy == nil {
		return nil, errors.New(errors.KindValidation, "classifier requires a policy")
	}
	if opts.Keys == nil {
		opts.Keys = sessionkey.New(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	return &Classifier{
		table:   opts.Table,
		policy:  opts.Policy,
		keys:    opts.Keys,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		logger:  opts.Logger.WithComponent("classifier"),

		logLimit: rate.NewLimiter(rate.Every(time.Second), 10),
	}, nil
}

// Classify observes one packet and always accepts it.
func (c *Classifier) Classify(pkt []byte) (v Verdict) {
	v = VerdictAccept
	defer func() {
		if r := recover(); r != nil {
			c.metrics.Packet(string(OutcomePanic))
			if c.logLimit.Allow() {
				c.logger.Error("classifier panic", "panic", r, "len", len(pkt))
			}
			v = VerdictAccept
		}
	}()

	o := c.Inspect(pkt)
	c.metrics.Packet(string(o))
	if o.Tracked() {
		c.metrics.TrackedBytes(len(pkt))
	}
	return v
}

// Inspect applies pkt to the flow table and reports what happened.
func (c *Classifier) Inspect(pkt []byte) Outcome {
	active, target := c.policy.Gate()
	if !active {
		return OutcomeInactive
	}

	d := decoderPool.Get().(*decoder)
	defer decoderPool.Put(d)

	key, o := d.parse(pkt)
	if o != "" {
		return o
	}
	if !target.IsValid() || !key.Involves(target) {
		return OutcomeUnmatched
	}
	if o := d.ports(&key); o != "" {
		return o
	}

	return c.observe(key, len(pkt))
}

// observe credits an existing flow or creates a new one. The session key is
// generated outside the table lock; the record is inserted whole or not at
// all.
func (c *Classifier) observe(key flow.Key, length int) Outcome {
	now := c.clock.Now()

	if c.table.Touch(key, now, length) {
		return OutcomeUpdated
	}
	if !c.table.HasRoom() {
		return OutcomeCapacity
	}

	sk, err := c.keys.Generate()
	if err != nil {
		if c.logLimit.Allow() {
			c.logger.WithError(err).Debug("session key generation failed", "flow", key.String())
		}
		return OutcomeKeyFailure
	}
	rec := flow.NewRecord(key, sk, now, length)
	clear(sk[:])

	err = c.table.Insert(rec)
	switch {
	case err == nil:
		return OutcomeCreated
	case errors.Is(err, flow.ErrDuplicateKey):
		// Another packet of the same flow won the race.
		clear(rec.SessionKey[:])
		if c.table.Touch(key, now, length) {
			return OutcomeUpdated
		}
		return OutcomeCapacity
	default:
		clear(rec.SessionKey[:])
		return OutcomeCapacity
	}
}
