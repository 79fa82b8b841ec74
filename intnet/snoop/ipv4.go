// File: intnet/snoop/ipv4.go
// IPv4 and DHCPv4 handling for spec §4.8 ("Outbound IPv4", "DHCPv4 snoop").
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

// LearnOutboundIPv4 implements spec §4.8's "Outbound IPv4" rule: a good
// (unicast, non-broadcast, non-multicast, non-zero) source address in a
// checksum-valid IPv4 header is learned against the transmitting
// interface's cache. Returns false if frame isn't IPv4, its header checksum
// doesn't validate, or the source address isn't eligible.
func LearnOutboundIPv4(c *cache.AddrCache, bl *cache.Blacklist, frame []byte) bool {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	l := pkt.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return false
	}
	ip := l.(*layers.IPv4)

	if !validIPv4Checksum(ip) {
		return false
	}
	if !goodIPv4Source(ip.SrcIP) {
		return false
	}
	c.Add(bl, ip.SrcIP.To4())
	return true
}

// validIPv4Checksum recomputes the IPv4 header checksum over ip's original
// bytes (spec §4.8: "checksum-validated learning" guards against acting on
// a corrupt header). The internet checksum of a header that already
// includes a correct checksum field sums to all-ones.
func validIPv4Checksum(ip *layers.IPv4) bool {
	hdr := ip.Contents
	if len(hdr) < 20 || len(hdr)%2 != 0 {
		return false
	}
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return sum&0xffff == 0xffff
}

// DHCPInfo is the subset of a DHCPv4 message the snoop path acts on.
type DHCPInfo struct {
	MsgType  layers.DHCPMsgType
	YourIP   net.IP // yiaddr, populated on ACK
	ClientIP net.IP // ciaddr, the client's own address on RELEASE
	ChAddr   mac.Addr
}

// ParseDHCPv4 decodes frame as a UDP/IPv4 DHCP message addressed to or from
// port 67/68. ok is false for anything else.
func ParseDHCPv4(frame []byte) (DHCPInfo, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpL := pkt.Layer(layers.LayerTypeUDP)
	dhcpL := pkt.Layer(layers.LayerTypeDHCPv4)
	if udpL == nil || dhcpL == nil {
		return DHCPInfo{}, false
	}
	udp := udpL.(*layers.UDP)
	if (udp.SrcPort != 67 && udp.SrcPort != 68) && (udp.DstPort != 67 && udp.DstPort != 68) {
		return DHCPInfo{}, false
	}
	d := dhcpL.(*layers.DHCPv4)

	info := DHCPInfo{YourIP: d.YourClientIP, ClientIP: d.ClientIP}
	if m, ok := macFromHW(d.ClientHWAddr); ok {
		info.ChAddr = m
	}
	for _, opt := range d.Options {
		if opt.Type == layers.DHCPOptMessageType && len(opt.Data) == 1 {
			info.MsgType = layers.DHCPMsgType(opt.Data[0])
		}
	}
	return info, true
}

// ApplyDHCPSnoop implements spec §4.8's "DHCPv4 snoop" rule against every
// interface cache sharing info.ChAddr (the caller iterates interfaces; this
// function decides what a single interface's cache should do). On DHCPACK,
// yiaddr is inserted; on DHCPRELEASE, the client's own address is removed.
// Discover/Request carry no address decision here -- their broadcast-flag
// fixup is handled by ForceBroadcastFlag.
func ApplyDHCPSnoop(c *cache.AddrCache, bl *cache.Blacklist, info DHCPInfo) {
	switch info.MsgType {
	case layers.DHCPMsgTypeAck:
		if info.YourIP != nil && !info.YourIP.IsUnspecified() {
			c.Add(bl, info.YourIP.To4())
		}
	case layers.DHCPMsgTypeRelease:
		if info.ClientIP != nil {
			c.Delete(info.ClientIP.To4())
		}
		if info.YourIP != nil {
			c.Delete(info.YourIP.To4())
		}
	}
}

// ForceBroadcastFlag implements spec §4.8's DHCPDISCOVER/DHCPREQUEST
// broadcast-flag forcing under SHARED_MAC_ON_WIRE: since the guest's real
// MAC is hidden from the wire, a unicast offer/ack addressed to it would
// never reach the guest, so the client's broadcast bit is forced on and the
// frame is reserialized with its checksums recomputed. Returns the rewritten frame
// and true if a rewrite was applied.
func ForceBroadcastFlag(frame []byte) ([]byte, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	eth, _ := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	ip, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	dhcpL := pkt.Layer(layers.LayerTypeDHCPv4)
	if eth == nil || ip == nil || udp == nil || dhcpL == nil {
		return frame, false
	}
	d := dhcpL.(*layers.DHCPv4)
	if d.Flags&0x8000 != 0 {
		return frame, false // already set
	}

	msgType := layers.DHCPMsgType(0)
	for _, opt := range d.Options {
		if opt.Type == layers.DHCPOptMessageType && len(opt.Data) == 1 {
			msgType = layers.DHCPMsgType(opt.Data[0])
		}
	}
	if msgType != layers.DHCPMsgTypeDiscover && msgType != layers.DHCPMsgTypeRequest {
		return frame, false
	}

	d.Flags |= 0x8000
	udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, d); err != nil {
		return frame, false
	}
	return buf.Bytes(), true
}
