// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package network

import (
	"context"
	"testing"

	"github.com/ringnet/intnetsw/api"
)

// ethIPv4Frame builds a minimal 14-byte Ethernet header (no payload),
// enough for parseDstMac/extractL3Dst and gopacket's lazy layer decoding to
// agree there is no IPv4/ARP/ICMPv6 body to act on.
func ethIPv4Frame(dst, src [6]byte) []byte {
	f := make([]byte, 14)
	copy(f[0:6], dst[:])
	copy(f[6:12], src[:])
	f[12], f[13] = 0x08, 0x00
	return f
}

func TestSwitchForwardsUnknownUnicastToWireWithMacRewrite(t *testing.T) {
	n := New("n0", api.TrunkNetAdp, "eth0", api.FlagTrunkWireEnabled|api.FlagSharedMacOnWire)
	trunk := newFakeTrunk()
	n.AttachTrunk(trunk)

	ifc, err := n.AddInterface(4096)
	if err != nil {
		t.Fatalf("AddInterface: %v", err)
	}
	if err := n.SetInterfaceActive(ifc.Slot(), true); err != nil {
		t.Fatalf("SetInterfaceActive: %v", err)
	}
	// Mirrors what Manager.OpenOrCreate does on every Open against an
	// existing network: recompute the derived HostActive/WireActive bits.
	n.MergeOpenFlags(api.NetFlags(0))

	srcMac := [6]byte{0x02, 0, 0, 0, 0, 1}
	frame := ethIPv4Frame([6]byte{0x02, 0, 0, 0, 0, 9}, srcMac)

	if err := n.Switch(context.Background(), ifc.Slot(), frame); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	trunk.mu.Lock()
	defer trunk.mu.Unlock()
	if len(trunk.xmitted) != 1 {
		t.Fatalf("trunk received %d frames, want 1", len(trunk.xmitted))
	}
	got := trunk.xmitted[0]
	if string(got[6:12]) == string(srcMac[:]) {
		t.Fatalf("outbound frame still carries the guest's own source MAC under SHARED_MAC_ON_WIRE")
	}
	if string(got[6:12]) != string(trunk.hostMac[:]) {
		t.Fatalf("outbound frame source MAC = %x, want trunk host MAC %x", got[6:12], trunk.hostMac[:])
	}
}

func TestSwitchFromTrunkRewritesDisguisedBroadcastBeforeSwitching(t *testing.T) {
	n := New("n0", api.TrunkNetAdp, "eth0", api.FlagTrunkHostEnabled|api.FlagSharedMacOnWire)
	trunk := newFakeTrunk()
	n.AttachTrunk(trunk)

	ifc, err := n.AddInterface(4096)
	if err != nil {
		t.Fatalf("AddInterface: %v", err)
	}
	if err := n.SetInterfaceActive(ifc.Slot(), true); err != nil {
		t.Fatalf("SetInterfaceActive: %v", err)
	}
	n.MergeOpenFlags(api.NetFlags(0))

	// A unicast-to-us IPv4 datagram whose payload is addressed to the
	// limited broadcast address: LooksBroadcast should catch this and
	// rewrite the Ethernet destination before the switch decision is made.
	frame := make([]byte, 14+20)
	copy(frame[0:6], trunk.hostMac[:])
	copy(frame[6:12], []byte{0xaa, 0, 0, 0, 0, 2})
	frame[12], frame[13] = 0x08, 0x00
	copy(frame[14+16:14+20], []byte{255, 255, 255, 255})

	if _, err := n.SwitchFromTrunk(context.Background(), api.DirWire, frame); err != nil {
		t.Fatalf("SwitchFromTrunk: %v", err)
	}

	want := [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if string(frame[0:6]) != string(want[:]) {
		t.Fatalf("frame destination = %x, want broadcast %x (LooksBroadcast rewrite not wired)", frame[0:6], want)
	}
}
