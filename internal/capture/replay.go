// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package capture

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
)

// pcapng section header block type, as read from the start of a file.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// ReplayTarget receives replayed packets and sweeps.
type ReplayTarget interface {
	Classifier
	Sweep() int
}

// ReplayStats summarises one replay run.
type ReplayStats struct {
	Packets   int       `json:"packets"`
	Delivered int       `json:"delivered"`
	Skipped   int       `json:"skipped"`
	Sweeps    int       `json:"sweeps"`
	Expired   int       `json:"expired"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
}

// Replayer drives a ReplayTarget from a capture file. Simulated time follows
// packet timestamps, and a sweep runs each time it crosses a period boundary.
type Replayer struct {
	target ReplayTarget
	clock  *clock.MockClock
	period time.Duration
	logger *logging.Logger
}

// NewReplayer creates a replayer. clk must be the clock the target reads.
func NewReplayer(target ReplayTarget, clk *clock.MockClock, period time.Duration, logger *logging.Logger) *Replayer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Replayer{
		target: target,
		clock:  clk,
		period: period,
		logger: logger.WithComponent("replay"),
	}
}

// Replay reads a pcap or pcapng stream until EOF or ctx is cancelled.
func (r *Replayer) Replay(ctx context.Context, in io.Reader) (ReplayStats, error) {
	var stats ReplayStats

	src, link, err := openCapture(in)
	if err != nil {
		return stats, err
	}
	r.logger.Info("replay started", "link_type", link.String())

	var nextSweep time.Time
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		data, ci, err := src.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, errors.Wrap(err, errors.KindValidation, "read capture")
		}
		stats.Packets++

		ts := ci.Timestamp
		if stats.First.IsZero() {
			stats.First = ts
			r.clock.Set(ts)
			if r.period > 0 {
				nextSweep = ts.Add(r.period)
			}
		}
		stats.Last = ts

		for r.period > 0 && !ts.Before(nextSweep) {
			r.clock.Set(nextSweep)
			stats.Expired += r.target.Sweep()
			stats.Sweeps++
			nextSweep = nextSweep.Add(r.period)
		}
		r.clock.Set(ts)

		pkt := networkPayload(data, link)
		if pkt == nil {
			stats.Skipped++
			continue
		}
		r.target.Classify(pkt)
		stats.Delivered++
	}

	r.logger.Info("replay finished",
		"packets", stats.Packets,
		"delivered", stats.Delivered,
		"sweeps", stats.Sweeps,
		"expired", stats.Expired)
	return stats, nil
}

// openCapture detects pcap versus pcapng by the leading magic.
func openCapture(in io.Reader) (gopacket.PacketDataSource, layers.LinkType, error) {
	br := bufio.NewReader(in)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.KindValidation, "read capture header")
	}

	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.KindValidation, "open pcapng")
		}
		return ng, ng.LinkType(), nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.KindValidation, "open pcap")
	}
	return pr, pr.LinkType(), nil
}

// networkPayload returns the IP packet inside a captured frame, or nil when
// the frame carries none.
func networkPayload(data []byte, link layers.LinkType) []byte {
	switch link {
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return data
	}

	p := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	nl := p.NetworkLayer()
	if nl == nil {
		return nil
	}
	out := make([]byte, 0, len(nl.LayerContents())+len(nl.LayerPayload()))
	out = append(out, nl.LayerContents()...)
	return append(out, nl.LayerPayload()...)
}
