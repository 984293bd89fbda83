// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

var (
	MACA = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	MACB = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
)

// TCP returns a serialized IPv4/TCP packet carrying payload.
func TCP(t testing.TB, src, dst string, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	return serialize(t, nil, ipv4(src, dst, layers.IPProtocolTCP),
		&layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), ACK: true}, payload)
}

// UDP returns a serialized IPv4/UDP packet carrying payload.
func UDP(t testing.TB, src, dst string, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	return serialize(t, nil, ipv4(src, dst, layers.IPProtocolUDP),
		&layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}, payload)
}

// EthernetTCP wraps an IPv4/TCP SYN in an Ethernet frame.
func EthernetTCP(t testing.TB, src, dst string, sport, dport uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: MACA, DstMAC: MACB, EthernetType: layers.EthernetTypeIPv4}
	return serialize(t, eth, ipv4(src, dst, layers.IPProtocolTCP),
		&layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), SYN: true}, nil)
}

// EthernetARP returns a broadcast ARP request frame.
func EthernetARP(t testing.TB) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: MACA, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   MACA,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{10, 0, 0, 100},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, arp); err != nil {
		t.Fatalf("serialize arp: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

type checksummed interface {
	gopacket.SerializableLayer
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func serialize(t testing.TB, link gopacket.SerializableLayer, ip *layers.IPv4, l4 checksummed, payload []byte) []byte {
	t.Helper()
	if err := l4.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set checksum layer: %v", err)
	}

	ls := make([]gopacket.SerializableLayer, 0, 4)
	if link != nil {
		ls = append(ls, link)
	}
	ls = append(ls, ip, l4)
	if len(payload) > 0 {
		ls = append(ls, gopacket.Payload(payload))
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize packet: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}
