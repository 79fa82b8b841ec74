// File: intnet/snoop/snoop.go
// Package snoop implements address snooping and the MAC-sharing edit path
// (spec §4.7 "MAC sharing on wire", §4.8 "Address snooping"): decoding
// ARP/DHCPv4/ICMPv6/IPv4/IPv6 from an Ethernet frame and deciding what, if
// anything, an interface's address cache or the frame itself should learn
// or have rewritten.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Decoding uses github.com/google/gopacket and google/gopacket/layers, the
// same pair yerden-go-snf's sniffer example and the doublezero reference
// material use for Ethernet/ARP/IP parsing. Functions here take
// intnet/cache.AddrCache/Blacklist and intnet/mac.Addr directly and never
// import intnet/network or intnet/mactab: the per-interface iteration
// spec §4.8's DHCP rules need (apply to "every interface with matching
// chaddr") is the caller's (network package's) job, using the plain
// decoded DHCPInfo this package returns.

package snoop

import (
	"net"

	"github.com/ringnet/intnetsw/intnet/mac"
)

// goodIPv4Source reports whether addr is eligible to be learned as an
// outbound source (spec §4.8 "Outbound IPv4"): not 0.0.0.0, not the
// limited broadcast, not loopback, not multicast, not "this network".
func goodIPv4Source(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	if ip4.IsUnspecified() || ip4[0] == 0 {
		return false
	}
	if ip4.Equal(net.IPv4bcast) {
		return false
	}
	if ip4.IsLoopback() || ip4.IsMulticast() {
		return false
	}
	return true
}

// goodIPv6Source reports whether addr is eligible to be learned (spec
// §4.8 "Outbound IPv6"): unicast, not ::, not ff00::/8, not ::1.
func goodIPv6Source(ip net.IP) bool {
	ip16 := ip.To16()
	if ip16 == nil || ip.To4() != nil {
		return false
	}
	if ip16.IsUnspecified() || ip16.IsLoopback() || ip16.IsMulticast() {
		return false
	}
	return true
}

// macFromHW copies a gopacket net.HardwareAddr/[]byte into a mac.Addr,
// reporting false if it isn't exactly 6 bytes.
func macFromHW(hw []byte) (mac.Addr, bool) {
	var m mac.Addr
	if len(hw) != len(m) {
		return m, false
	}
	copy(m[:], hw)
	return m, true
}
