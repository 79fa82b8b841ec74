// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/busyctr"
	"github.com/ringnet/intnetsw/intnet/mac"
)

// fakeTrunk is a minimal TrunkHandle for exercising Network in isolation.
type fakeTrunk struct {
	mu         sync.Mutex
	busy       *busyctr.Counter
	states     []api.TrunkState
	hostMac    mac.Addr
	released   int
	releaseErr error
	xmitted    [][]byte
}

func newFakeTrunk() *fakeTrunk {
	return &fakeTrunk{busy: busyctr.New(), hostMac: mac.Addr{0xaa, 0, 0, 0, 0, 1}}
}

func (t *fakeTrunk) Busy() *busyctr.Counter { return t.busy }
func (t *fakeTrunk) SetState(s api.TrunkState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = append(t.states, s)
}
func (t *fakeTrunk) Xmit(ctx context.Context, dst api.Direction, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.xmitted = append(t.xmitted, append([]byte(nil), frame...))
	return nil
}
func (t *fakeTrunk) NotifyMacAddress(m mac.Addr) {}
func (t *fakeTrunk) DisconnectAndRelease(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released++
	return t.releaseErr
}
func (t *fakeTrunk) HostMac() mac.Addr             { return t.hostMac }
func (t *fakeTrunk) CanXmitNow(dst api.Direction) bool { return true }

func TestMergeOpenFlagsHonorsFixedPair(t *testing.T) {
	n := New("n0", api.TrunkNone, "", api.FlagAccessRestricted|api.FlagAccessFixed)
	n.effective = api.FlagAccessRestricted | api.FlagAccessFixed

	if err := n.CheckCompatible(api.FlagAccessPublic); err != api.ErrIncompatibleFlags {
		t.Fatalf("CheckCompatible against FIXED restricted access = %v, want ErrIncompatibleFlags", err)
	}
	if err := n.CheckCompatible(api.FlagAccessRestricted); err != nil {
		t.Fatalf("CheckCompatible matching FIXED value: %v", err)
	}
}

func TestMergeOpenFlagsRequireExact(t *testing.T) {
	n := New("n0", api.TrunkNone, "", api.FlagTrunkHostEnabled)
	n.effective = api.FlagTrunkHostEnabled

	requested := api.FlagTrunkHostDisabled | api.FlagRequireExact
	if err := n.CheckCompatible(requested); err != api.ErrIncompatibleFlags {
		t.Fatalf("CheckCompatible with REQUIRE_EXACT mismatch = %v, want ErrIncompatibleFlags", err)
	}
}

func TestMergeOpenFlagsAsRestrictiveIsSticky(t *testing.T) {
	n := New("n0", api.TrunkNone, "", api.FlagPromiscAllowClients)
	n.effective = api.FlagPromiscAllowClients

	n.MergeOpenFlags(api.FlagPromiscDenyClients | api.FlagRequireAsRestrictive)
	if !n.effective.Has(api.FlagPromiscDenyClients) {
		t.Fatalf("effective flags after restrictive merge = %v, want FlagPromiscDenyClients set", n.effective)
	}

	// A later opener asking for the relaxed value must not win: the
	// min-flags ratchet keeps the network at its most restrictive.
	n.MergeOpenFlags(api.FlagPromiscAllowClients)
	if !n.effective.Has(api.FlagPromiscDenyClients) {
		t.Fatalf("sticky min-flags ratchet lost after relaxed re-open: effective = %v", n.effective)
	}
}

func TestAddInterfaceAndDetach(t *testing.T) {
	n := New("n0", api.TrunkNone, "", 0)
	ifc, err := n.AddInterface(4096)
	if err != nil {
		t.Fatalf("AddInterface: %v", err)
	}
	if ifc.Active() {
		t.Fatalf("freshly added interface must start inactive")
	}
	if got := n.macTab.Cap(); got == 0 {
		t.Fatalf("MAC table did not grow for first interface")
	}

	n.Detach(ifc.Slot())
}

func TestSetInterfaceActiveTogglesTrunkState(t *testing.T) {
	n := New("n0", api.TrunkNone, "", api.FlagTrunkHostEnabled|api.FlagTrunkWireEnabled)
	trunk := newFakeTrunk()
	n.AttachTrunk(trunk)

	ifc, err := n.AddInterface(4096)
	if err != nil {
		t.Fatalf("AddInterface: %v", err)
	}

	if err := ifc.SetActive(context.Background(), true); err != nil {
		t.Fatalf("SetActive(true): %v", err)
	}
	trunk.mu.Lock()
	states := append([]api.TrunkState(nil), trunk.states...)
	trunk.mu.Unlock()
	if len(states) == 0 || states[len(states)-1] != api.TrunkActive {
		t.Fatalf("trunk states = %v, want last entry TrunkActive", states)
	}

	if err := ifc.SetActive(context.Background(), false); err != nil {
		t.Fatalf("SetActive(false): %v", err)
	}
	trunk.mu.Lock()
	states = append([]api.TrunkState(nil), trunk.states...)
	trunk.mu.Unlock()
	if states[len(states)-1] != api.TrunkInactive {
		t.Fatalf("trunk states = %v, want last entry TrunkInactive", states)
	}
}

func TestDestroyDeactivatesAndReleasesTrunk(t *testing.T) {
	n := New("n0", api.TrunkNone, "", api.FlagTrunkHostEnabled)
	trunk := newFakeTrunk()
	n.AttachTrunk(trunk)

	ifc, err := n.AddInterface(4096)
	if err != nil {
		t.Fatalf("AddInterface: %v", err)
	}
	if err := ifc.SetActive(context.Background(), true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	// SetActive(true) already recorded TrunkActive; Destroy's transitions
	// start after it.
	trunk.mu.Lock()
	before := len(trunk.states)
	trunk.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if trunk.released != 1 {
		t.Fatalf("trunk released %d times, want 1", trunk.released)
	}
	trunk.mu.Lock()
	firstState := trunk.states[before]
	trunk.mu.Unlock()
	if firstState != api.TrunkDisconnecting {
		t.Fatalf("first trunk state transition of Destroy = %v, want TrunkDisconnecting", firstState)
	}

	// A second Destroy must be a harmless no-op.
	if err := n.Destroy(ctx); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if trunk.released != 1 {
		t.Fatalf("second Destroy re-released trunk: released = %d", trunk.released)
	}
}

func TestManagerOpenOrCreateJoinsByName(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	n1, err := m.OpenOrCreate(ctx, "lan0", api.TrunkNone, "", api.FlagAccessRestricted)
	if err != nil {
		t.Fatalf("first OpenOrCreate: %v", err)
	}
	n2, err := m.OpenOrCreate(ctx, "lan0", api.TrunkNone, "", api.FlagAccessRestricted)
	if err != nil {
		t.Fatalf("second OpenOrCreate: %v", err)
	}
	if n1 != n2 {
		t.Fatalf("OpenOrCreate with matching name returned two different networks")
	}
}

func TestManagerOpenOrCreateRefusesIncompatibleFlags(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	if _, err := m.OpenOrCreate(ctx, "lan0", api.TrunkNone, "", api.FlagAccessRestricted|api.FlagAccessFixed); err != nil {
		t.Fatalf("first OpenOrCreate: %v", err)
	}
	if _, err := m.OpenOrCreate(ctx, "lan0", api.TrunkNone, "", api.FlagAccessPublic); err != api.ErrIncompatibleFlags {
		t.Fatalf("joining with conflicting FIXED flag = %v, want ErrIncompatibleFlags", err)
	}
}

func TestManagerOpenOrCreateRequiresFactoryForRealTrunk(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.OpenOrCreate(context.Background(), "wan0", api.TrunkNetAdp, "eth0", 0); err != api.ErrNotImplemented {
		t.Fatalf("OpenOrCreate with nil factory = %v, want ErrNotImplemented", err)
	}
}

func TestManagerReleaseDestroysAndForgetsNetwork(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()
	if _, err := m.OpenOrCreate(ctx, "lan0", api.TrunkNone, "", 0); err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	if err := m.Release(ctx, "lan0"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := m.Lookup("lan0"); ok {
		t.Fatalf("network still registered after Release")
	}
	// Releasing an already-released name is a no-op.
	if err := m.Release(ctx, "lan0"); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestReconnectRestoresTrunkOnFirstSuccess(t *testing.T) {
	n := New("n0", api.TrunkNetAdp, "eth0", api.FlagTrunkHostEnabled)
	trunk := newFakeTrunk()

	recreate := func(ctx context.Context) (TrunkHandle, error) { return trunk, nil }
	n.OnTrunkDisconnected(recreate)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n.addrMu.Lock()
		got := n.trunk
		n.addrMu.Unlock()
		if got != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	n.addrMu.Lock()
	got := n.trunk
	n.addrMu.Unlock()
	if got != trunk {
		t.Fatalf("reconnection thread did not install the recreated trunk in time")
	}
}

func TestReconnectStopsPromptlyOnSignal(t *testing.T) {
	n := New("n0", api.TrunkNetAdp, "eth0", api.FlagTrunkHostEnabled)

	recreate := func(ctx context.Context) (TrunkHandle, error) { return nil, context.DeadlineExceeded }
	n.OnTrunkDisconnected(recreate)

	// Let the thread enter its between-attempts sleep before signaling.
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		n.stopReconnect(time.Second)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("stopReconnect did not return within its own timeout")
	}
}

func TestSetCPUAffinityDoesNotBlockReconnectThread(t *testing.T) {
	n := New("n0", api.TrunkNetAdp, "eth0", api.FlagTrunkHostEnabled)
	n.SetCPUAffinity(0)

	trunk := newFakeTrunk()
	recreate := func(ctx context.Context) (TrunkHandle, error) { return trunk, nil }
	n.OnTrunkDisconnected(recreate)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n.addrMu.Lock()
		got := n.trunk
		n.addrMu.Unlock()
		if got != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	// No assertion on the OS-level pin itself (best-effort, platform- and
	// privilege-dependent); this only confirms the configured CPU doesn't
	// block the reconnection thread from completing its work.
	n.addrMu.Lock()
	got := n.trunk
	n.addrMu.Unlock()
	if got != trunk {
		t.Fatalf("reconnection thread did not install the recreated trunk when CPU affinity was requested")
	}
}

func TestMergeOpenFlagsUpdatesConfigStore(t *testing.T) {
	n := New("n0", api.TrunkNone, "", api.NetFlags(0))
	n.MergeOpenFlags(api.FlagSharedMacOnWire)

	snap := n.ConfigStore().GetSnapshot()
	got, ok := snap["effective_flags"].(api.NetFlags)
	if !ok || !got.Has(api.FlagSharedMacOnWire) {
		t.Fatalf("ConfigStore snapshot = %v, want effective_flags with FlagSharedMacOnWire set", snap)
	}
}
