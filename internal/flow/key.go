// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"fmt"
	"net/netip"
	"strconv"
)

// Protocol is an IP protocol number.
type Protocol uint8

const (
	ProtoICMP Protocol = 1
	ProtoTCP  Protocol = 6
	ProtoUDP  Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	case ProtoICMP:
		return "ICMP"
	default:
		return strconv.Itoa(int(p))
	}
}

// HasPorts reports whether the protocol carries a port pair we track.
func (p Protocol) HasPorts() bool {
	return p == ProtoTCP || p == ProtoUDP
}

// Key is the exact-match 5-tuple of a flow. Direction is not normalised:
// a reply with swapped endpoints is a different Key.
type Key struct {
	SrcAddr  netip.Addr
	DstAddr  netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol Protocol
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s -> %s",
		k.Protocol,
		netip.AddrPortFrom(k.SrcAddr, k.SrcPort),
		netip.AddrPortFrom(k.DstAddr, k.DstPort))
}

// Involves reports whether addr is either endpoint of the flow.
func (k Key) Involves(addr netip.Addr) bool {
	return k.SrcAddr == addr || k.DstAddr == addr
}

// Less orders keys by source, destination, ports, then protocol.
func (k Key) Less(o Key) bool {
	if c := k.SrcAddr.Compare(o.SrcAddr); c != 0 {
		return c < 0
	}
	if c := k.DstAddr.Compare(o.DstAddr); c != 0 {
		return c < 0
	}
	if k.SrcPort != o.SrcPort {
		return k.SrcPort < o.SrcPort
	}
	if k.DstPort != o.DstPort {
		return k.DstPort < o.DstPort
	}
	return k.Protocol < o.Protocol
}
