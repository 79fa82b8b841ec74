// File: intnet/snoop/arp.go
// ARP handling for spec §4.7 ("MAC sharing on wire") and §4.8 ("Address
// snooping", "Outbound ARP").
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package snoop

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/ringnet/intnetsw/intnet/cache"
	"github.com/ringnet/intnetsw/intnet/mac"
)

// ARPInfo is the subset of an ARP packet's fields the switching path needs.
type ARPInfo struct {
	Request    bool // Operation == ARPRequest
	SenderMac  mac.Addr
	SenderIP   net.IP
	TargetMac  mac.Addr
	TargetIP   net.IP
	hasSHA     bool
	hasTHA     bool
}

// ParseARP decodes frame as an Ethernet+ARP packet. ok is false for anything
// that isn't ARP over Ethernet, or whose hardware/protocol address sizes
// don't match Ethernet+IPv4 (the only combination spec §4.7/§4.8 cover).
func ParseARP(frame []byte) (ARPInfo, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	l := pkt.Layer(layers.LayerTypeARP)
	if l == nil {
		return ARPInfo{}, false
	}
	a := l.(*layers.ARP)
	if a.HwAddressSize != 6 || a.ProtAddressSize != 4 {
		return ARPInfo{}, false
	}

	info := ARPInfo{
		Request:  a.Operation == layers.ARPRequest,
		SenderIP: net.IP(a.SourceProtAddress),
		TargetIP: net.IP(a.DstProtAddress),
	}
	if m, ok := macFromHW(a.SourceHwAddress); ok {
		info.SenderMac = m
		info.hasSHA = true
	}
	if m, ok := macFromHW(a.DstHwAddress); ok {
		info.TargetMac = m
		info.hasTHA = true
	}
	return info, true
}

// LearnOutboundARP applies spec §4.8's ARP learning rule to an outbound
// frame already decoded by ParseARP: the sender's protocol address is
// learned against the transmitting interface's cache, and on a reply the
// target's protocol address is dropped from the cache (the replying host
// is about to answer directly, so the asker's own stale mapping on this
// interface, if any, should not shadow a real future lookup).
//
// Caller must already hold the owning network's address spinlock, per
// intnet/cache's own locking contract.
func LearnOutboundARP(c *cache.AddrCache, bl *cache.Blacklist, info ARPInfo) {
	if info.SenderIP != nil && !info.SenderIP.IsUnspecified() {
		c.Add(bl, info.SenderIP.To4())
	}
	if !info.Request && info.TargetIP != nil {
		c.Delete(info.TargetIP.To4())
	}
}

// RewriteOutboundShareMac implements spec §4.7's outbound rewrite for ARP:
// when SHARED_MAC_ON_WIRE is set, guest frames leave with the trunk's host
// MAC instead of the guest's own, so ar_sha (and the Ethernet source) must
// be rewritten to match, keeping the ARP payload internally consistent with
// the frame it rides on. ar_tha is left alone -- it names the peer, not us.
// Returns the rewritten frame and true if a rewrite was applied.
func RewriteOutboundShareMac(frame []byte, hostMac mac.Addr) ([]byte, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	eth, _ := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	arp, _ := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	if eth == nil || arp == nil {
		return frame, false
	}

	eth.SrcMAC = net.HardwareAddr(hostMac[:])
	arp.SourceHwAddress = hostMac[:]

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return frame, false
	}
	return buf.Bytes(), true
}

// RewriteInboundArpReply implements spec §4.7's inbound rewrite: a reply
// arriving from the wire addressed to the trunk's shared host MAC has its
// ar_tha rewritten back to the actual guest MAC, found via lookup against
// the target protocol address (the address the reply is answering).
// Returns the rewritten frame and true if a rewrite was applied.
func RewriteInboundArpReply(frame []byte, lookup func(ip net.IP) (mac.Addr, bool)) ([]byte, bool) {
	info, ok := ParseARP(frame)
	if !ok || info.Request || !info.hasTHA {
		return frame, false
	}
	guestMac, ok := lookup(info.TargetIP)
	if !ok {
		return frame, false
	}

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	eth, _ := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	arp, _ := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	if eth == nil || arp == nil {
		return frame, false
	}

	eth.DstMAC = net.HardwareAddr(guestMac[:])
	arp.DstHwAddress = guestMac[:]

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return frame, false
	}
	return buf.Bytes(), true
}
