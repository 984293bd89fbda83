// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import (
	"net/netip"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/flowbridge/internal/flow"
)

// decoder holds reusable layer structs so per-packet decoding does not
// allocate new layers.
type decoder struct {
	ip  layers.IPv4
	tcp layers.TCP
	udp layers.UDP
}

var decoderPool = sync.Pool{
	New: func() any { return new(decoder) },
}

// parse extracts the IPv4 addresses and transport protocol. The returned key
// has no ports yet.
func (d *decoder) parse(pkt []byte) (flow.Key, Outcome) {
	if len(pkt) == 0 || pkt[0]>>4 != 4 {
		if len(pkt) > 0 && pkt[0]>>4 == 6 {
			return flow.Key{}, OutcomeFamily
		}
		return flow.Key{}, OutcomeMalformed
	}
	if err := d.ip.DecodeFromBytes(pkt, gopacket.NilDecodeFeedback); err != nil {
		return flow.Key{}, OutcomeMalformed
	}

	src, ok1 := netip.AddrFromSlice(d.ip.SrcIP.To4())
	dst, ok2 := netip.AddrFromSlice(d.ip.DstIP.To4())
	if !ok1 || !ok2 {
		return flow.Key{}, OutcomeMalformed
	}

	return flow.Key{
		SrcAddr:  src,
		DstAddr:  dst,
		Protocol: flow.Protocol(d.ip.Protocol),
	}, ""
}

// ports fills in the transport ports of key from the IPv4 payload.
func (d *decoder) ports(key *flow.Key) Outcome {
	// Later fragments carry no transport header.
	if d.ip.FragOffset != 0 {
		return OutcomeFragment
	}

	switch d.ip.Protocol {
	case layers.IPProtocolTCP:
		if err := d.tcp.DecodeFromBytes(d.ip.Payload, gopacket.NilDecodeFeedback); err != nil {
			return OutcomeMalformed
		}
		key.SrcPort = uint16(d.tcp.SrcPort)
		key.DstPort = uint16(d.tcp.DstPort)
	case layers.IPProtocolUDP:
		if err := d.udp.DecodeFromBytes(d.ip.Payload, gopacket.NilDecodeFeedback); err != nil {
			return OutcomeMalformed
		}
		key.SrcPort = uint16(d.udp.SrcPort)
		key.DstPort = uint16(d.udp.DstPort)
	default:
		return OutcomeIgnored
	}
	return ""
}

// Decode returns the flow key for an IPv4 TCP or UDP packet. The second
// result is empty on success.
func Decode(pkt []byte) (flow.Key, Outcome) {
	d := decoderPool.Get().(*decoder)
	defer decoderPool.Put(d)

	key, o := d.parse(pkt)
	if o != "" {
		return key, o
	}
	if o := d.ports(&key); o != "" {
		return flow.Key{}, o
	}
	return key, ""
}
