// File: intnet/snoop/ethernet.go
// Plain-Ethernet-frame edits for spec §4.7 ("MAC sharing on wire"): the
// default source-MAC rewrite applied to any outbound frame that isn't ARP
// or ICMPv6 ND (those get their own protocol-aware rewrite, arp.go/ipv6.go),
// and detection of inbound unicast-addressed-to-us frames that are
// logically broadcast/multicast traffic arriving disguised as unicast.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package snoop

import (
	"encoding/binary"

	"github.com/ringnet/intnetsw/intnet/mac"
)

const ethHeaderLen = 14

// RewriteOutboundSourceMac implements spec §4.7's plain rewrite: replaces
// the 6-byte source MAC of an Ethernet frame with hostMac in place,
// returning false if frame is too short to hold an Ethernet header. Unlike
// the ARP/ICMPv6 variants this never touches the payload, so it never needs
// to reserialize or recompute a checksum.
func RewriteOutboundSourceMac(frame []byte, hostMac mac.Addr) bool {
	if len(frame) < ethHeaderLen {
		return false
	}
	copy(frame[6:12], hostMac[:])
	return true
}

// LooksBroadcast implements spec §4.7's inbound check: a frame whose
// payload is logically addressed to everyone (an IPv4 datagram to the
// limited broadcast address 255.255.255.255, or an IPv6 datagram to a
// multicast address) arrived disguised as unicast -- typically a trunk that
// itself delivers broadcast traffic as a unicast copy per destination. The
// frame's Ethernet destination is not examined, and subnet-directed IPv4
// broadcasts are not detected. dstOverride names
// the multicast/broadcast Ethernet address the frame should be rewritten
// to before delivery so higher layers see it as the broadcast it is.
func LooksBroadcast(frame []byte) (dstOverride mac.Addr, ok bool) {
	info, isARP := ParseARP(frame)
	if isARP {
		// Broadcast ARP requests already carry ff:ff:ff:ff:ff:ff on the
		// wire; nothing to fix up.
		_ = info
		return mac.Addr{}, false
	}
	if len(frame) < ethHeaderLen+20 {
		return mac.Addr{}, false
	}
	etherType := binary.BigEndian.Uint16(frame[12:14])
	switch etherType {
	case 0x0800: // IPv4
		if len(frame) < ethHeaderLen+20 {
			return mac.Addr{}, false
		}
		dst := frame[ethHeaderLen+16 : ethHeaderLen+20]
		if dst[0] == 255 && dst[1] == 255 && dst[2] == 255 && dst[3] == 255 {
			return mac.Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, true
		}
		return mac.Addr{}, false
	case 0x86DD: // IPv6
		if len(frame) < ethHeaderLen+40 {
			return mac.Addr{}, false
		}
		dst := frame[ethHeaderLen+24 : ethHeaderLen+40]
		if dst[0] != 0xff {
			return mac.Addr{}, false
		}
		return mac.Addr{0x33, 0x33, dst[12], dst[13], dst[14], dst[15]}, true
	default:
		return mac.Addr{}, false
	}
}
