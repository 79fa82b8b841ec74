// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package snoop

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/cache"
	"github.com/ringnet/intnetsw/intnet/mac"
)

// buildARP hand-encodes a minimal Ethernet+ARP frame (IPv4 over Ethernet)
// so tests don't depend on this package's own serialization helpers.
func buildARP(op uint16, sha, tha mac.Addr, spa, tpa net.IP) []byte {
	f := make([]byte, 14+28)
	copy(f[0:6], tha[:])
	copy(f[6:12], sha[:])
	binary.BigEndian.PutUint16(f[12:14], 0x0806)

	a := f[14:]
	binary.BigEndian.PutUint16(a[0:2], 1)      // hw type ethernet
	binary.BigEndian.PutUint16(a[2:4], 0x0800) // proto type ipv4
	a[4] = 6
	a[5] = 4
	binary.BigEndian.PutUint16(a[6:8], op)
	copy(a[8:14], sha[:])
	copy(a[14:18], spa.To4())
	copy(a[18:24], tha[:])
	copy(a[24:28], tpa.To4())
	return f
}

func TestParseARPRequest(t *testing.T) {
	sha := mac.Addr{2, 0, 0, 0, 0, 1}
	tha := mac.Addr{} // unknown on a request
	spa := net.IPv4(10, 0, 0, 1)
	tpa := net.IPv4(10, 0, 0, 2)

	frame := buildARP(1, sha, tha, spa, tpa)
	info, ok := ParseARP(frame)
	if !ok {
		t.Fatalf("ParseARP: not recognized")
	}
	if !info.Request {
		t.Fatalf("Request = false, want true")
	}
	if info.SenderMac != sha {
		t.Fatalf("SenderMac = %v, want %v", info.SenderMac, sha)
	}
	if !info.SenderIP.Equal(spa) {
		t.Fatalf("SenderIP = %v, want %v", info.SenderIP, spa)
	}
}

func TestLearnOutboundARPRequestAddsSender(t *testing.T) {
	c := cache.New(api.AddrFamilyIPv4, 4)
	bl := cache.NewBlacklist()
	sha := mac.Addr{2, 0, 0, 0, 0, 1}
	spa := net.IPv4(10, 0, 0, 1)
	tpa := net.IPv4(10, 0, 0, 2)

	info, ok := ParseARP(buildARP(1, sha, mac.Addr{}, spa, tpa))
	if !ok {
		t.Fatalf("ParseARP failed")
	}
	LearnOutboundARP(c, bl, info)

	if !c.Lookup(spa.To4()) {
		t.Fatalf("sender address not learned")
	}
}

func TestLearnOutboundARPReplyDeletesStaleTarget(t *testing.T) {
	c := cache.New(api.AddrFamilyIPv4, 4)
	bl := cache.NewBlacklist()
	tpa := net.IPv4(10, 0, 0, 2)
	c.Add(bl, tpa.To4())

	sha := mac.Addr{2, 0, 0, 0, 0, 1}
	tha := mac.Addr{2, 0, 0, 0, 0, 2}
	spa := net.IPv4(10, 0, 0, 1)

	info, ok := ParseARP(buildARP(2, sha, tha, spa, tpa))
	if !ok {
		t.Fatalf("ParseARP failed")
	}
	LearnOutboundARP(c, bl, info)

	if c.Lookup(tpa.To4()) {
		t.Fatalf("stale target address still present after reply")
	}
	if !c.Lookup(spa.To4()) {
		t.Fatalf("replying sender address not learned")
	}
}

func TestRewriteOutboundSourceMac(t *testing.T) {
	frame := make([]byte, 64)
	guestMac := mac.Addr{2, 0, 0, 0, 0, 9}
	hostMac := mac.Addr{2, 0, 0, 0, 0, 1}
	copy(frame[6:12], guestMac[:])

	if ok := RewriteOutboundSourceMac(frame, hostMac); !ok {
		t.Fatalf("RewriteOutboundSourceMac returned false")
	}
	var got mac.Addr
	copy(got[:], frame[6:12])
	if got != hostMac {
		t.Fatalf("source mac = %v, want %v", got, hostMac)
	}
}

func TestLooksBroadcastIPv4(t *testing.T) {
	frame := make([]byte, 14+20)
	binary.BigEndian.PutUint16(frame[12:14], 0x0800)
	ip := frame[14:]
	ip[0] = 0x45
	copy(ip[16:20], net.IPv4bcast.To4())

	dst, ok := LooksBroadcast(frame)
	if !ok {
		t.Fatalf("LooksBroadcast: not detected")
	}
	want := mac.Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if dst != want {
		t.Fatalf("dstOverride = %v, want %v", dst, want)
	}
}

func TestLooksBroadcastUnicastIsFalse(t *testing.T) {
	frame := make([]byte, 14+20)
	binary.BigEndian.PutUint16(frame[12:14], 0x0800)
	ip := frame[14:]
	ip[0] = 0x45
	copy(ip[16:20], net.IPv4(10, 0, 0, 5).To4())

	if _, ok := LooksBroadcast(frame); ok {
		t.Fatalf("LooksBroadcast: false positive on unicast destination")
	}
}

func TestGoodIPv4Source(t *testing.T) {
	cases := []struct {
		ip   net.IP
		good bool
	}{
		{net.IPv4(10, 0, 0, 1), true},
		{net.IPv4zero, false},
		{net.IPv4bcast, false},
		{net.IPv4(127, 0, 0, 1), false},
		{net.IPv4(224, 0, 0, 1), false},
	}
	for _, c := range cases {
		if got := goodIPv4Source(c.ip); got != c.good {
			t.Errorf("goodIPv4Source(%v) = %v, want %v", c.ip, got, c.good)
		}
	}
}

func TestGoodIPv6Source(t *testing.T) {
	cases := []struct {
		ip   net.IP
		good bool
	}{
		{net.ParseIP("fe80::1"), true},
		{net.IPv6unspecified, false},
		{net.IPv6loopback, false},
		{net.ParseIP("ff02::1"), false},
	}
	for _, c := range cases {
		if got := goodIPv6Source(c.ip); got != c.good {
			t.Errorf("goodIPv6Source(%v) = %v, want %v", c.ip, got, c.good)
		}
	}
}
