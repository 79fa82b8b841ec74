// File: intnet/snoop/ipv6.go
// IPv6 and ICMPv6 neighbor-discovery handling for spec §4.7 ("MAC sharing
// on wire", ICMPv6 ND option rewriting) and §4.8 ("Outbound IPv6").
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package snoop

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/ringnet/intnetsw/intnet/cache"
	"github.com/ringnet/intnetsw/intnet/mac"
)

// LearnOutboundIPv6 implements spec §4.8's "Outbound IPv6" rule: a unicast,
// non-loopback source address on a link-local-eligible IPv6 packet is
// learned against the transmitting interface's cache.
func LearnOutboundIPv6(c *cache.AddrCache, bl *cache.Blacklist, frame []byte) bool {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	l := pkt.Layer(layers.LayerTypeIPv6)
	if l == nil {
		return false
	}
	ip := l.(*layers.IPv6)
	if !goodIPv6Source(ip.SrcIP) {
		return false
	}
	c.Add(bl, ip.SrcIP.To16())
	return true
}

// DADTarget reports the target address of an inbound ICMPv6 Neighbor
// Solicitation whose source address is unspecified (::), the signature of
// Duplicate Address Detection (spec §4.7: "inbound ICMPv6 NS DAD cache
// invalidation"). A DAD probe means the address is not yet claimed, so any
// stale cache entry for it must be dropped. ok is false for anything else.
func DADTarget(frame []byte) (target []byte, ok bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ipL := pkt.Layer(layers.LayerTypeIPv6)
	nsL := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation)
	if ipL == nil || nsL == nil {
		return nil, false
	}
	ip := ipL.(*layers.IPv6)
	if !ip.SrcIP.IsUnspecified() {
		return nil, false
	}
	ns := nsL.(*layers.ICMPv6NeighborSolicitation)
	return ns.TargetAddress.To16(), true
}

// RewriteOutboundICMPv6ShareMac implements spec §4.7's outbound rewrite for
// ICMPv6 neighbor discovery: under SHARED_MAC_ON_WIRE, the source-LLA
// option of an outbound NS/RS, and the target-LLA option of an outbound NA,
// must name the trunk's shared host MAC rather than the guest's own, with
// the ICMPv6 checksum recomputed to match. Returns the rewritten frame and
// true if a rewrite was applied.
func RewriteOutboundICMPv6ShareMac(frame []byte, hostMac mac.Addr) ([]byte, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	eth, _ := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	ip, _ := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	icmp, _ := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	if eth == nil || ip == nil || icmp == nil {
		return frame, false
	}

	rewriteOpt := func(opts []layers.ICMPv6Option, want layers.ICMPv6Opt) bool {
		rewritten := false
		for i := range opts {
			if opts[i].Type == want && len(opts[i].Data) == 6 {
				opts[i].Data = append([]byte(nil), hostMac[:]...)
				rewritten = true
			}
		}
		return rewritten
	}

	var payload gopacket.SerializableLayer
	rewritten := false
	switch {
	case pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation) != nil:
		ns := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation)
		rewritten = rewriteOpt(ns.Options, layers.ICMPv6OptSourceAddress)
		payload = ns
	case pkt.Layer(layers.LayerTypeICMPv6RouterSolicitation) != nil:
		rs := pkt.Layer(layers.LayerTypeICMPv6RouterSolicitation).(*layers.ICMPv6RouterSolicitation)
		rewritten = rewriteOpt(rs.Options, layers.ICMPv6OptSourceAddress)
		payload = rs
	case pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement) != nil:
		na := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
		rewritten = rewriteOpt(na.Options, layers.ICMPv6OptTargetAddress)
		payload = na
	default:
		return frame, false
	}
	if !rewritten {
		return frame, false
	}

	eth.SrcMAC = append([]byte(nil), hostMac[:]...)
	icmp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	sopts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, sopts, eth, ip, icmp, payload); err != nil {
		return frame, false
	}
	return buf.Bytes(), true
}
