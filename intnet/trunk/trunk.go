// File: intnet/trunk/trunk.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Trunk is the host-backend side of a network: the switch port (callbacks
// the backend calls into the core) and the interface port (callbacks the
// core calls into the backend), per spec §4.9 "Trunk interface". Trunk
// implements network.TrunkHandle; network never imports intnet/trunk.

package trunk

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/busyctr"
	"github.com/ringnet/intnetsw/intnet/mac"
	"github.com/ringnet/intnetsw/intnet/objreg"
	"github.com/ringnet/intnetsw/intnet/ring"
)

// Backend is the host-stack driver a Trunk forwards frames to (NetFlt,
// NetAdp, SrvNat in the original; a test double or userspace tap here).
// Real backends live outside this module and are wired in at Open time.
type Backend interface {
	// Send hands one already-carved frame to the backend for delivery
	// toward dst. Called with the trunk's busy counter held.
	Send(ctx context.Context, dst api.Direction, frame []byte) error
	// Close releases the backend's own resources. Called once, from
	// DisconnectAndRelease.
	Close(ctx context.Context) error
}

// SwitchCore is the slice of Network's behavior the trunk needs in order
// to hand a received frame to the switching core (spec §4.9 recv).
// network.Network implements this; trunk never imports intnet/network.
type SwitchCore interface {
	SwitchFromTrunk(ctx context.Context, srcDir api.Direction, frame []byte) (backendMayDrop bool, err error)
	// NotifyHostAddress applies a host-side address change to the
	// network's blacklist and interface caches (spec §4.2, §4.9).
	NotifyHostAddress(added bool, family api.AddrFamily, addr []byte)
}

// Trunk is one network's trunk port.
type Trunk struct {
	core    SwitchCore
	backend Backend

	busy *busyctr.Counter

	mu          sync.Mutex
	state       api.TrunkState
	hostMac     mac.Addr
	promiscuous bool
	gsoCaps     [2]uint32 // indexed by api.Direction's two bits (host=0, wire=1)
	noPreempt   api.Direction

	sg *objreg.Registry[*scatterGather]

	disconnectOnce sync.Once

	log *logrus.Entry
}

// scatterGather is the refcounted handle a backend retains across an
// asynchronous recv (spec §4.9 sg_retain/sg_release).
type scatterGather struct {
	frame []byte
}

// New constructs a Trunk bound to core and backend, initially Inactive and
// reporting no GSO capability on either direction.
func New(core SwitchCore, backend Backend, name string) *Trunk {
	return &Trunk{
		core:    core,
		backend: backend,
		busy:    busyctr.New(),
		sg:      objreg.New[*scatterGather](),
		log:     logrus.WithField("component", "trunk").WithField("trunk", name),
	}
}

// --- Switch port: callbacks the backend calls into the core. ---

// PreRecv is the cheap prefilter run before a full switch (spec §4.9
// pre_recv): multicast/broadcast and ARP frames go to Broadcast; any
// other frame of at least 14 bytes goes to IntNet with no MAC-table or
// shared-MAC check, and a shorter one is Invalid.
func (t *Trunk) PreRecv(srcDir api.Direction, headBytes []byte) api.SwitchDecision {
	if len(headBytes) < 14 {
		return api.DecisionInvalid
	}
	dst := headBytes[0:6]
	if isMulticastOrBroadcast(dst) || isARP(headBytes) {
		return api.DecisionBroadcast
	}
	return api.DecisionIntNet
}

func isMulticastOrBroadcast(addr []byte) bool {
	return addr[0]&1 == 1
}

func isARP(frame []byte) bool {
	return len(frame) >= 14 && frame[12] == 0x08 && frame[13] == 0x06
}

// Recv switches frame, arriving from srcDir, through the core (spec §4.9
// recv). Returns true if the backend may drop its own copy.
func (t *Trunk) Recv(ctx context.Context, srcDir api.Direction, frame []byte) (bool, error) {
	if t.State() == api.TrunkDisconnecting {
		return false, api.ErrWrongOrder
	}
	t.busy.Acquire()
	defer t.busy.Release()
	return t.core.SwitchFromTrunk(ctx, srcDir, frame)
}

// SgRetain / SgRelease reference-count the backend's scatter-gather
// descriptor across an asynchronous recv (spec §4.9).
func (t *Trunk) SgRetain(frame []byte) objreg.Handle {
	return t.sg.Register(&scatterGather{frame: frame}, func(*scatterGather) {})
}

func (t *Trunk) SgRelease(h objreg.Handle) { t.sg.Release(h) }

// ReportMacAddress records the backend's reported host MAC (spec §4.9).
func (t *Trunk) ReportMacAddress(m mac.Addr) {
	t.mu.Lock()
	t.hostMac = m
	t.mu.Unlock()
}

// ReportPromiscuousMode records whether the backend itself runs
// promiscuous (spec §4.9), feeding host_promisc_real / wire_promisc_real.
func (t *Trunk) ReportPromiscuousMode(on bool) {
	t.mu.Lock()
	t.promiscuous = on
	t.mu.Unlock()
}

// Promiscuous returns the most recently reported backend promiscuous
// state, feeding host_promisc_real / wire_promisc_real (spec §4.5).
func (t *Trunk) Promiscuous() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.promiscuous
}

// ReportGsoCapabilities records dst's supported GSO type bitmask (spec
// §4.9 report_gso_capabilities(mask, dst)).
func (t *Trunk) ReportGsoCapabilities(mask uint32, dst api.Direction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dst == api.DirWire {
		t.gsoCaps[1] = mask
	} else {
		t.gsoCaps[0] = mask
	}
}

// ReportNoPreemptDsts records which directions the backend can service
// with preemption disabled (spec §4.9).
func (t *Trunk) ReportNoPreemptDsts(mask api.Direction) {
	t.mu.Lock()
	t.noPreempt = mask
	t.mu.Unlock()
}

// NoPreemptDsts returns the most recently reported no-preempt mask.
func (t *Trunk) NoPreemptDsts() api.Direction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.noPreempt
}

// NotifyHostAddress forwards a host-side address change (spec §4.2, §4.9
// notify_host_address) to the core, which maintains the blacklist and
// purges any now-invalid interface cache entries.
func (t *Trunk) NotifyHostAddress(added bool, family api.AddrFamily, addr []byte) {
	t.log.WithFields(logrus.Fields{"added": added, "family": family}).Debug("host address change reported")
	t.core.NotifyHostAddress(added, family, addr)
}

// Disconnect implements the backend-initiated disconnect callback (spec
// §4.9 disconnect(if_port, release_busy_cb)): the core detaches, spawns
// the reconnection thread, and the backend is released immediately so it
// never blocks on a long-running lock.
func (t *Trunk) Disconnect(onDisconnect func()) {
	t.mu.Lock()
	t.state = api.TrunkDisconnecting
	t.mu.Unlock()

	t.disconnectOnce.Do(func() {
		if onDisconnect != nil {
			onDisconnect()
		}
	})
}

// --- Interface port: callbacks the core calls into the backend. This half
// implements network.TrunkHandle. ---

// Busy exposes the trunk's busy counter so the core can hold a reference
// across NotifyMacChange and similar callbacks (spec §4.4).
func (t *Trunk) Busy() *busyctr.Counter { return t.busy }

// SetState implements network.TrunkHandle (spec §4.9 set_state).
func (t *Trunk) SetState(s api.TrunkState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// State returns the trunk's current lifecycle state.
func (t *Trunk) State() api.TrunkState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// HostMac implements network.TrunkHandle.
func (t *Trunk) HostMac() mac.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hostMac
}

// NotifyMacAddress implements network.TrunkHandle: an interface's MAC
// changed, forward to the backend so it can update its own filters. The
// default backend contract has no such hook; concrete backends that need
// one type-assert for it.
func (t *Trunk) NotifyMacAddress(m mac.Addr) {
	if n, ok := t.backend.(interface{ NotifyMacAddress(mac.Addr) }); ok {
		n.NotifyMacAddress(m)
	}
}

// CanXmitNow implements network.TrunkHandle (spec §4.3 BadContext). The
// original refuses to call into certain backends from interrupt context
// unless report_no_preempt_dsts named that direction; Go has no interrupt
// context and every goroutine may block, so the distinction collapses and
// this always returns true. Kept as a named method so network's
// BadContext/TryAgain plumbing
// stays in place for a future backend that does need to refuse.
func (t *Trunk) CanXmitNow(dst api.Direction) bool {
	return true
}

// Xmit implements network.TrunkHandle: hands frame to the backend
// unchanged (spec §4.3). GSO carving is done by XmitGso, not here.
func (t *Trunk) Xmit(ctx context.Context, dst api.Direction, frame []byte) error {
	if t.State() == api.TrunkDisconnecting {
		return api.ErrWrongOrder
	}
	t.busy.Acquire()
	defer t.busy.Release()
	return t.backend.Send(ctx, dst, frame)
}

// XmitGso is Xmit for a frame whose ring header carried a GsoContext: it
// is carved into segments first if the backend's reported GSO
// capabilities for dst don't include gctx.Type (spec §4.9 "GSO fallback").
func (t *Trunk) XmitGso(ctx context.Context, dst api.Direction, gctx ring.GsoContext, frame []byte) error {
	if t.hasGsoCapability(dst, gctx.Type) {
		return t.Xmit(ctx, dst, frame)
	}
	segments := carveGsoSegments(frame, gctx.HdrLen, gctx.MTU)
	t.log.WithFields(logrus.Fields{"segments": len(segments), "dst": dst}).Debug("GSO fallback: carving in software")
	for _, seg := range segments {
		if err := t.Xmit(ctx, dst, seg); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trunk) hasGsoCapability(dst api.Direction, gsoType ring.GsoType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := 0
	if dst == api.DirWire {
		idx = 1
	}
	return t.gsoCaps[idx]&(1<<uint8(gsoType)) != 0
}

// DisconnectAndRelease implements network.TrunkHandle: waits for the
// trunk to go idle, then closes the backend (spec §4.5 destruction step
// 6). The escalating 10s/30s/360s retry schedule lives in the caller
// (intnet/network's Destroy); this call just makes one bounded attempt
// against ctx's own deadline.
func (t *Trunk) DisconnectAndRelease(ctx context.Context) error {
	t.SetState(api.TrunkDisconnecting)
	if err := t.busy.Quiesce(ctx); err != nil {
		return err
	}
	return t.backend.Close(ctx)
}
