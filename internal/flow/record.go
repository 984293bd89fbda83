// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"net/netip"
	"time"
)

// SessionKeySize is the length of a per-flow session key in bytes.
const SessionKeySize = 32

// Record is the mutable state kept for one Key. Records are only touched
// while the owning Table's lock is held.
type Record struct {
	Key           Key
	BytesSent     uint64
	BytesReceived uint64
	Created       time.Time
	LastSeen      time.Time
	SessionKey    [SessionKeySize]byte
	// Encrypted is always set at creation; reserved for conditional sealing.
	Encrypted bool
}

// NewRecord builds a record for the first packet of a flow.
func NewRecord(key Key, sessionKey [SessionKeySize]byte, now time.Time, length int) *Record {
	return &Record{
		Key:           key,
		BytesReceived: uint64(length),
		Created:       now,
		LastSeen:      now,
		SessionKey:    sessionKey,
		Encrypted:     true,
	}
}

// Touch records another packet of length bytes seen at now. Matched traffic
// is always credited to BytesReceived, whichever way it travels. LastSeen
// only moves forward.
func (r *Record) Touch(now time.Time, length int) {
	if now.After(r.LastSeen) {
		r.LastSeen = now
	}
	r.BytesReceived += uint64(length)
}

// Idle reports whether the record has gone longer than timeout without
// traffic. A record last seen exactly timeout ago is still live.
func (r *Record) Idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.LastSeen) > timeout
}

func (r *Record) wipe() {
	clear(r.SessionKey[:])
}

// Snapshot is the externally visible copy of a Record. It never includes the
// session key.
type Snapshot struct {
	SrcAddr       netip.Addr `json:"src_addr"`
	DstAddr       netip.Addr `json:"dst_addr"`
	SrcPort       uint16     `json:"src_port"`
	DstPort       uint16     `json:"dst_port"`
	Protocol      Protocol   `json:"protocol"`
	BytesSent     uint64     `json:"bytes_sent"`
	BytesReceived uint64     `json:"bytes_received"`
	LastSeen      time.Time  `json:"last_seen"`
}

// Key rebuilds the flow key of the snapshot.
func (s Snapshot) Key() Key {
	return Key{
		SrcAddr:  s.SrcAddr,
		DstAddr:  s.DstAddr,
		SrcPort:  s.SrcPort,
		DstPort:  s.DstPort,
		Protocol: s.Protocol,
	}
}

func (r *Record) snapshot() Snapshot {
	return Snapshot{
		SrcAddr:       r.Key.SrcAddr,
		DstAddr:       r.Key.DstAddr,
		SrcPort:       r.Key.SrcPort,
		DstPort:       r.Key.DstPort,
		Protocol:      r.Key.Protocol,
		BytesSent:     r.BytesSent,
		BytesReceived: r.BytesReceived,
		LastSeen:      r.LastSeen,
	}
}
