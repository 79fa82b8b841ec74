// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package trunk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/ring"
)

type fakeBackend struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	sendErr error
}

func (b *fakeBackend) Send(ctx context.Context, dst api.Direction, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, append([]byte(nil), frame...))
	return b.sendErr
}

func (b *fakeBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakeCore struct {
	mu           sync.Mutex
	received     [][]byte
	dropOK       bool
	err          error
	addrNotified []bool
}

func (c *fakeCore) SwitchFromTrunk(ctx context.Context, srcDir api.Direction, frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, append([]byte(nil), frame...))
	return c.dropOK, c.err
}

func (c *fakeCore) NotifyHostAddress(added bool, family api.AddrFamily, addr []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrNotified = append(c.addrNotified, added)
}

func ethFrame(dst []byte, etherType uint16, rest ...byte) []byte {
	f := make([]byte, 14+len(rest))
	copy(f[0:6], dst)
	f[12] = byte(etherType >> 8)
	f[13] = byte(etherType)
	copy(f[14:], rest)
	return f
}

func TestPreRecvBroadcastsMulticastAndARP(t *testing.T) {
	tr := New(&fakeCore{}, &fakeBackend{}, "t0")

	multicast := ethFrame([]byte{0x01, 0, 0, 0, 0, 1}, 0x0800)
	if got := tr.PreRecv(api.DirWire, multicast); got != api.DecisionBroadcast {
		t.Fatalf("PreRecv(multicast) = %v, want Broadcast", got)
	}

	arp := ethFrame([]byte{0x02, 0, 0, 0, 0, 1}, 0x0806)
	if got := tr.PreRecv(api.DirWire, arp); got != api.DecisionBroadcast {
		t.Fatalf("PreRecv(ARP) = %v, want Broadcast", got)
	}

	unicast := ethFrame([]byte{0x02, 0, 0, 0, 0, 2}, 0x0800)
	if got := tr.PreRecv(api.DirWire, unicast); got != api.DecisionIntNet {
		t.Fatalf("PreRecv(unicast IPv4) = %v, want IntNet", got)
	}

	if got := tr.PreRecv(api.DirWire, []byte{1, 2, 3}); got != api.DecisionInvalid {
		t.Fatalf("PreRecv(short frame) = %v, want Invalid", got)
	}
}

func TestRecvForwardsToCoreAndRefusesWhenDisconnecting(t *testing.T) {
	core := &fakeCore{dropOK: true}
	tr := New(core, &fakeBackend{}, "t0")

	frame := []byte{1, 2, 3}
	drop, err := tr.Recv(context.Background(), api.DirWire, frame)
	if err != nil || !drop {
		t.Fatalf("Recv = (%v, %v), want (true, nil)", drop, err)
	}
	if len(core.received) != 1 {
		t.Fatalf("core received %d frames, want 1", len(core.received))
	}

	tr.SetState(api.TrunkDisconnecting)
	if _, err := tr.Recv(context.Background(), api.DirWire, frame); err != api.ErrWrongOrder {
		t.Fatalf("Recv while Disconnecting = %v, want ErrWrongOrder", err)
	}
}

func TestReportsAreRecorded(t *testing.T) {
	tr := New(&fakeCore{}, &fakeBackend{}, "t0")

	tr.ReportPromiscuousMode(true)
	if !tr.Promiscuous() {
		t.Fatalf("Promiscuous() = false after ReportPromiscuousMode(true)")
	}

	tr.ReportNoPreemptDsts(api.DirHost)
	if tr.NoPreemptDsts() != api.DirHost {
		t.Fatalf("NoPreemptDsts() = %v, want DirHost", tr.NoPreemptDsts())
	}

	tr.ReportGsoCapabilities(1<<uint(ring.GsoTCPv4), api.DirWire)
	if !tr.hasGsoCapability(api.DirWire, ring.GsoTCPv4) {
		t.Fatalf("hasGsoCapability(wire, TCPv4) = false after reporting it")
	}
	if tr.hasGsoCapability(api.DirHost, ring.GsoTCPv4) {
		t.Fatalf("hasGsoCapability(host, TCPv4) = true, want false (never reported for host)")
	}
}

func TestXmitGsoFallsBackWhenBackendLacksCapability(t *testing.T) {
	backend := &fakeBackend{}
	tr := New(&fakeCore{}, backend, "t0")

	payload := make([]byte, 14+20+3000) // Ethernet+IPv4 header plus a 3000-byte body
	gctx := ring.GsoContext{Type: ring.GsoTCPv4, MTU: 1400, HdrLen: 34}

	if err := tr.XmitGso(context.Background(), api.DirWire, gctx, payload); err != nil {
		t.Fatalf("XmitGso: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.sent) < 2 {
		t.Fatalf("expected GSO fallback to carve multiple segments, got %d", len(backend.sent))
	}
	for _, seg := range backend.sent {
		if len(seg) > int(gctx.HdrLen)+int(gctx.MTU) {
			t.Fatalf("carved segment length %d exceeds header+MTU budget", len(seg))
		}
	}
}

func TestXmitGsoSkipsCarveWhenBackendHasCapability(t *testing.T) {
	backend := &fakeBackend{}
	tr := New(&fakeCore{}, backend, "t0")
	tr.ReportGsoCapabilities(1<<uint(ring.GsoTCPv4), api.DirWire)

	payload := make([]byte, 14+20+3000)
	gctx := ring.GsoContext{Type: ring.GsoTCPv4, MTU: 1400, HdrLen: 34}

	if err := tr.XmitGso(context.Background(), api.DirWire, gctx, payload); err != nil {
		t.Fatalf("XmitGso: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.sent) != 1 || len(backend.sent[0]) != len(payload) {
		t.Fatalf("expected backend to receive the single unsegmented frame, got %d segments", len(backend.sent))
	}
}

func TestDisconnectAndReleaseWaitsForIdleThenCloses(t *testing.T) {
	backend := &fakeBackend{}
	tr := New(&fakeCore{}, backend, "t0")

	tr.busy.Acquire()
	released := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		released <- tr.DisconnectAndRelease(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	backend.mu.Lock()
	closedEarly := backend.closed
	backend.mu.Unlock()
	if closedEarly {
		t.Fatalf("backend closed before busy counter drained")
	}

	tr.busy.Release()
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("DisconnectAndRelease: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("DisconnectAndRelease never returned after busy drained")
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if !backend.closed {
		t.Fatalf("backend not closed after DisconnectAndRelease")
	}
}

func TestDisconnectMarksDisconnectingAndCallsHookOnce(t *testing.T) {
	tr := New(&fakeCore{}, &fakeBackend{}, "t0")

	var calls int
	var mu sync.Mutex
	hook := func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	tr.Disconnect(hook)
	tr.Disconnect(hook)

	if tr.State() != api.TrunkDisconnecting {
		t.Fatalf("State() = %v, want TrunkDisconnecting", tr.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("disconnect hook called %d times, want 1", calls)
	}
}

func TestNotifyHostAddressForwardsToCore(t *testing.T) {
	core := &fakeCore{}
	tr := New(core, &fakeBackend{}, "t0")

	tr.NotifyHostAddress(true, api.AddrFamilyIPv4, []byte{10, 0, 0, 1})
	tr.NotifyHostAddress(false, api.AddrFamilyIPv4, []byte{10, 0, 0, 1})

	core.mu.Lock()
	defer core.mu.Unlock()
	if len(core.addrNotified) != 2 || !core.addrNotified[0] || core.addrNotified[1] {
		t.Fatalf("addrNotified = %v, want [true false]", core.addrNotified)
	}
}

func TestSgRetainReleaseIsNoopSafe(t *testing.T) {
	tr := New(&fakeCore{}, &fakeBackend{}, "t0")
	h := tr.SgRetain([]byte{1, 2, 3})
	tr.SgRelease(h)
	// Releasing twice must not panic.
	tr.SgRelease(h)
}
