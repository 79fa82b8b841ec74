// File: intnet/iface/iface.go
// Package iface implements the per-client interface object (spec §3.1, §4.4
// "Interface"): its shared ring buffer, address caches, busy counter, wait
// primitive, and send-ring drain loop with inline MAC learning.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// If depends on mactab/ring/cache/busyctr/api but never on intnet/network:
// it reaches its owning network only through the small NetworkHandle
// interface below, the same device mactab uses (its generic IfHandle
// constraint) to avoid an iface<->network import cycle.

package iface

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/busyctr"
	"github.com/ringnet/intnetsw/intnet/cache"
	"github.com/ringnet/intnetsw/intnet/mac"
	"github.com/ringnet/intnetsw/intnet/objreg"
	"github.com/ringnet/intnetsw/intnet/ring"
)

// NetworkHandle is the slice of Network's behavior an interface needs:
// the address spinlock, MAC-change/active-count notification into the
// trunk, policy queries, and detachment at close. Network implements this
// interface; iface never imports the network package itself.
type NetworkHandle interface {
	Lock()
	Unlock()
	// NotifyMacChange forwards a learned or explicitly-set MAC to the
	// trunk backend. Must be called with the address lock already
	// released (spec §4.4: "notifies the trunk ... outside the spinlock").
	NotifyMacChange(slot int, m mac.Addr)
	// SetInterfaceActive updates the network's active-interface count and,
	// on a 0<->1 transition, flips the trunk's state (spec §4.4).
	SetInterfaceActive(slot int, active bool) error
	// AllowPromiscuous reports whether clients may go promiscuous: true
	// unless PROMISC_DENY_CLIENTS is in effect.
	AllowPromiscuous() bool
	// SetPromiscuous updates slot's MAC-table entry under the address
	// lock and retallies the network's n_promisc/n_promisc_no_trunk
	// counters, returning the effective promiscuous state and whether it
	// sees trunk-origin traffic (spec §4.4, §4.5).
	SetPromiscuous(slot int, on bool) (effective, seesTrunk bool)
	// Blacklist exposes the network's host-address blacklist so Send's
	// inline address learning can consult it while already holding Lock.
	Blacklist() *cache.Blacklist
	// Switch builds a destination table for one send-ring frame
	// originating at slot and delivers it (spec §4.3/§4.4). It must
	// return api.ErrTryAgain exactly when the outcome is BadContext.
	Switch(ctx context.Context, slot int, frame []byte) error
	// Detach unlinks slot from the MAC table (spec §3.2, §4.4
	// close/destructor); nothing else is released.
	Detach(slot int)
}

// addrFamilyCount mirrors api.AddrFamily's three families.
const addrFamilyCount = 3

// If is one client's interface into the switch.
type If struct {
	handle objreg.Handle
	net    NetworkHandle
	slot   int

	buf   *ring.IntNetBuf
	busy  *busyctr.Counter
	recvMu sync.Mutex // serializes producer writes into buf.Recv (recv_in_lock)

	mu     sync.Mutex // guards the fields below, local to this interface
	mac    mac.Addr
	macSet bool
	active bool

	promiscRequested bool
	promiscEffective bool
	promiscSeesTrunk bool

	caches [addrFamilyCount]*cache.AddrCache

	noMoreWaits atomic.Bool
	sleepers    atomic.Int32

	waitMu sync.Mutex
	waitCh chan struct{}

	log *logrus.Entry
}

// Open creates an interface bound to slot within net's MAC table, with a
// freshly allocated shared buffer of ringSize bytes per direction (spec
// §4.4 "open"). The interface starts inactive and with the dummy MAC.
func Open(net NetworkHandle, slot int, ringSize uint32) *If {
	ifc := &If{
		net:   net,
		slot:  slot,
		buf:   ring.NewIntNetBuf(ringSize),
		busy:   busyctr.New(),
		mac:    mac.Dummy,
		waitCh: make(chan struct{}),
		log:    logrus.WithField("component", "iface").WithField("slot", slot),
	}
	for f := api.AddrFamily(0); int(f) < addrFamilyCount; f++ {
		ifc.caches[f] = cache.New(f, cache.DefaultCapacity)
	}
	return ifc
}

// SetHandle records the objreg handle this interface was registered under,
// used by Close to release its own registry entry.
func (f *If) SetHandle(h objreg.Handle) { f.handle = h }

// Handle returns the objreg handle identifying this interface.
func (f *If) Handle() objreg.Handle { return f.handle }

// Slot returns this interface's index into the owning network's MAC table.
func (f *If) Slot() int { return f.slot }

// Mac implements mactab.IfHandle.
func (f *If) Mac() mac.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mac
}

// Buffer returns the shared ring-buffer region for mapping into client
// address space (spec §6.1 IfGetBufferPtrs).
func (f *If) Buffer() *ring.IntNetBuf { return f.buf }

// Busy returns this interface's busy counter.
func (f *If) Busy() *busyctr.Counter { return f.busy }

// Cache returns the address cache for family.
func (f *If) Cache(family api.AddrFamily) *cache.AddrCache {
	if int(family) < 0 || int(family) >= addrFamilyCount {
		return nil
	}
	return f.caches[family]
}

// SetPromiscuous requests promiscuous mode on or off (spec §4.4
// set_promiscuous). Refused with ErrIncompatibleFlags if the network's
// policy forbids client promiscuity.
func (f *If) SetPromiscuous(on bool) error {
	if on && !f.net.AllowPromiscuous() {
		return api.ErrIncompatibleFlags
	}
	effective, seesTrunk := f.net.SetPromiscuous(f.slot, on)
	f.mu.Lock()
	f.promiscRequested = on
	f.promiscEffective = effective
	f.promiscSeesTrunk = seesTrunk
	f.mu.Unlock()
	return nil
}

// SetMacAddress sets the interface's MAC explicitly (spec §4.4
// set_mac_address): updates local state then notifies the trunk outside
// the address lock.
func (f *If) SetMacAddress(m mac.Addr) error {
	f.net.Lock()
	f.mu.Lock()
	f.mac = m
	f.macSet = true
	f.mu.Unlock()
	f.net.Unlock()
	f.net.NotifyMacChange(f.slot, m)
	return nil
}

// SetActive flips the active bit and asks the network to update its
// active-interface count and trunk state (spec §4.4 set_active).
// Deactivation first waits for the interface's own busy counter to drain
// so no in-flight Send races a torn-down MAC-table entry.
func (f *If) SetActive(ctx context.Context, active bool) error {
	if !active {
		if err := f.busy.Quiesce(ctx); err != nil {
			return err
		}
	}
	if err := f.net.SetInterfaceActive(f.slot, active); err != nil {
		return err
	}
	f.mu.Lock()
	f.active = active
	f.mu.Unlock()
	return nil
}

// Active reports the interface's current active flag.
func (f *If) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Send drains every frame currently queued in the send ring, learning the
// source MAC inline on first sight (spec §4.4 "Send-buffer processing
// contract") and invoking the switch for each. Frames are processed
// strictly in order; a BadContext outcome aborts the drain with
// ErrTryAgain so the caller can resume later from task context, per spec
// §4.4 "Failure semantics".
func (f *If) Send(ctx context.Context) error {
	f.busy.Acquire()
	defer f.busy.Release()

	for {
		ref, ok := f.buf.Send.NextReadable()
		if !ok {
			return nil
		}
		typ, _ := f.buf.Send.Header(ref)
		payload := f.buf.Send.Payload(ref)

		switch typ {
		case ring.HdrFrame:
			if len(payload) < 12 {
				f.buf.Send.BadFrames.Add(1)
				f.buf.Send.Skip(ref)
				continue
			}
			f.learnSourceMac(payload)
			if err := f.net.Switch(ctx, f.slot, payload); err != nil {
				f.buf.Send.Skip(ref)
				return err
			}
		case ring.HdrGso:
			gctx := f.buf.Send.GsoContext(ref)
			if !gctx.IsValid() {
				f.buf.Send.BadFrames.Add(1)
				f.buf.Send.Skip(ref)
				continue
			}
			if len(payload) >= 12 {
				f.learnSourceMac(payload)
			}
			if err := f.net.Switch(ctx, f.slot, payload); err != nil {
				f.buf.Send.Skip(ref)
				return err
			}
		default:
			f.buf.Send.BadFrames.Add(1)
		}
		f.buf.Send.Skip(ref)
	}
}

// learnSourceMac implements spec §4.4's inline learning rule: the first
// time a frame is seen with mac_set=false and a non-multicast source MAC,
// that MAC becomes the interface's learned MAC, written under the address
// spinlock, and is then passed to NotifyMacChange for the MAC table and
// the trunk.
func (f *If) learnSourceMac(frame []byte) {
	f.mu.Lock()
	if f.macSet {
		f.mu.Unlock()
		return
	}
	var src mac.Addr
	copy(src[:], frame[6:12])
	if src.IsMulticast() || src.IsZero() {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.net.Lock()
	f.mu.Lock()
	learned := !f.macSet
	if learned {
		f.mac = src
		f.macSet = true
	}
	f.mu.Unlock()
	f.net.Unlock()
	if learned {
		f.net.NotifyMacChange(f.slot, src)
	}
}

// Deliver copies frame into this interface's receive ring, serialized
// against concurrent senders by recv_in_lock (spec §5 lock #4). Overflow
// and corruption are counted in the ring's own statistics, never
// returned, per spec §7 recovery policy.
func (f *If) Deliver(frame []byte, replaceDstMac bool, newMac [6]byte) {
	f.recvMu.Lock()
	defer f.recvMu.Unlock()

	ref, dst, err := f.buf.Recv.Allocate(uint32(len(frame)))
	if err != nil {
		return
	}
	copy(dst, frame)
	if replaceDstMac && len(dst) >= 6 {
		copy(dst[0:6], newMac[:])
	}
	f.buf.Recv.Commit(ref)
	f.signal()
}

// signal wakes every goroutine currently blocked in Wait by closing and
// replacing the broadcast channel -- a closed channel's receive fires for
// every listener at once, which is the "sleepers+1 signals" delivery of
// spec §5 without needing to track an exact sleeper count.
func (f *If) signal() {
	f.waitMu.Lock()
	close(f.waitCh)
	f.waitCh = make(chan struct{})
	f.waitMu.Unlock()
}

// Wait blocks until the receive ring has data, the interface is signalled,
// ctx is done, or AbortWait(true) has been called (spec §4.4 "wait").
func (f *If) Wait(ctx context.Context) error {
	if f.noMoreWaits.Load() {
		return api.ErrSemDestroyed
	}
	f.sleepers.Add(1)
	defer f.sleepers.Add(-1)

	if f.buf.Recv.ReadableBytes() > 0 {
		return nil
	}
	f.waitMu.Lock()
	ch := f.waitCh
	f.waitMu.Unlock()

	select {
	case <-ch:
		if f.noMoreWaits.Load() {
			return api.ErrSemDestroyed
		}
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return api.ErrTimeout
		}
		return api.ErrInterrupted
	}
}

// AbortWait implements spec §4.4/§5 "abort_wait": if noMoreWaits, all
// future Waits return ErrSemDestroyed immediately; either way every
// currently blocked Wait is woken.
func (f *If) AbortWait(noMoreWaits bool) {
	if noMoreWaits {
		f.noMoreWaits.Store(true)
	}
	f.signal()
}

// Close tears the interface down: aborts all waiters, waits for sleepers
// to drain (bounded retry, spec §5 "yields until sleepers==0, retrying up
// to 0x1000 times"), waits for its busy counter to quiesce, and detaches
// from the network.
func (f *If) Close(ctx context.Context) error {
	f.AbortWait(true)
	const maxSpin = 0x1000
	for i := 0; i < maxSpin; i++ {
		if f.sleepers.Load() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
	}
	if err := f.busy.Quiesce(ctx); err != nil {
		return err
	}
	f.net.Detach(f.slot)
	f.log.Debug("interface closed")
	return nil
}

// Stats returns a point-in-time snapshot of this interface's ring
// statistics (spec §3.1 IntNetBuf statistics header).
func (f *If) Stats() ring.Stats {
	return f.buf.Snapshot()
}
