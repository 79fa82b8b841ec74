// File: intnet/network/network.go
// Package network implements the per-named-network object: MAC table,
// address blacklist, policy flags, lifecycle, and the switching glue
// between interfaces and the trunk (spec §3.1, §3.2, §4.3, §4.5, §4.6).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Network is the concrete type instantiating mactab.MacTab[*iface.If] and
// mactab.DstTab[*iface.If]; it implements iface.NetworkHandle and
// TrunkHandle's counterpart interface so iface and trunk never import this
// package, the same import-cycle avoidance mactab documents for its own
// generic parameter.

package network

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/control"
	"github.com/ringnet/intnetsw/intnet/busyctr"
	"github.com/ringnet/intnetsw/intnet/cache"
	"github.com/ringnet/intnetsw/intnet/iface"
	"github.com/ringnet/intnetsw/intnet/mac"
	"github.com/ringnet/intnetsw/intnet/mactab"
	"github.com/ringnet/intnetsw/intnet/objreg"
)

// TrunkHandle is the slice of Trunk's behavior Network needs: lifecycle
// state transitions, frame transmission, and the reported host MAC.
// intnet/trunk.Trunk implements this; network never imports intnet/trunk.
type TrunkHandle interface {
	Busy() *busyctr.Counter
	SetState(state api.TrunkState)
	Xmit(ctx context.Context, dst api.Direction, frame []byte) error
	NotifyMacAddress(m mac.Addr)
	DisconnectAndRelease(ctx context.Context) error
	HostMac() mac.Addr
	// CanXmitNow reports whether the current goroutine's execution context
	// may call Xmit for dst without blocking (spec §4.3 BadContext).
	CanXmitNow(dst api.Direction) bool
}

// scratchSize sizes the network's 2 KiB scratch buffer (spec §3.1). No
// code path reads or writes that buffer, and Go gives it no 64-byte
// alignment.
const scratchSize = 2048

// Network is one named internal network.
type Network struct {
	handle objreg.Handle
	name   string

	bigMu sync.Mutex // create/open/destroy mutex (spec §5 lock #1)

	addrMu sync.Mutex // address spinlock (spec §5 lock #2)
	macTab *mactab.MacTab[*iface.If]
	bl     *cache.Blacklist
	dstTabs *dstTabPool

	effective api.NetFlags // recomputed effective flags
	minFlags  api.NetFlags // REQUIRE_AS_RESTRICTIVE sticky ratchet

	trunkType api.TrunkType
	trunkName string
	trunk     TrunkHandle

	nActive int

	scratch [scratchSize]byte

	destroyed bool
	ifReg     *objreg.Registry[*iface.If]

	reconnMu sync.Mutex
	reconn   *reconnect

	// cpuAffinity is the logical CPU the reconnection thread pins itself
	// to, best-effort, so the thread that re-attaches a trunk backend
	// stays on a cache-warm core under sustained reconnect churn
	// (spec §2, §4.5). -1 means "no affinity requested".
	cpuAffinity int

	// ctrl mirrors the effective policy flags as a hot-reloadable config
	// snapshot (spec §4.5 flag-merge), debug exposes live introspection
	// probes over the same state, and metricsReg is the internal runtime
	// snapshot distinct from the package metrics' Prometheus exporter.
	ctrl      *control.ConfigStore
	debug     *control.DebugProbes
	metricsReg *control.MetricsRegistry

	log *logrus.Entry
}

// New constructs a Network with no trunk attached yet; Manager.OpenOrCreate
// wires the trunk factory result in afterwards.
func New(name string, trunkType api.TrunkType, trunkName string, flags api.NetFlags) *Network {
	n := &Network{
		name:       name,
		macTab:     mactab.New[*iface.If](mactab.GrowStep),
		bl:         cache.NewBlacklist(),
		dstTabs:    newDstTabPool(),
		effective:  flags,
		trunkType:  trunkType,
		trunkName:  trunkName,
		ifReg:      objreg.New[*iface.If](),
		ctrl:        control.NewConfigStore(),
		debug:       control.NewDebugProbes(),
		metricsReg:  control.NewMetricsRegistry(),
		cpuAffinity: -1,
		log:         logrus.WithField("component", "network").WithField("network", name),
	}
	n.ctrl.OnReload(func() {
		n.log.WithField("effective_flags", n.EffectiveFlags()).Debug("policy flags hot-reloaded")
	})
	n.debug.RegisterProbe("effective_flags", func() any { return n.EffectiveFlags() })
	n.debug.RegisterProbe("active_interfaces", func() any { return n.NActive() })
	control.RegisterPlatformProbes(n.debug)
	return n
}

// ConfigStore exposes the network's hot-reloadable policy-flag mirror
// (spec §4.5), kept in sync by MergeOpenFlags.
func (n *Network) ConfigStore() *control.ConfigStore { return n.ctrl }

// DebugProbes exposes the network's live introspection probes.
func (n *Network) DebugProbes() *control.DebugProbes { return n.debug }

// MetricsSnapshot returns the network's internal runtime metrics, a
// lighter-weight complement to the package metrics' Prometheus exporter.
func (n *Network) MetricsSnapshot() map[string]any { return n.metricsReg.GetSnapshot() }

// SetCPUAffinity requests that this network's reconnection thread pin
// itself to cpuID (spec §2, §4.5). Pass a negative value to clear a
// previous request.
func (n *Network) SetCPUAffinity(cpuID int) {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	n.cpuAffinity = cpuID
}

// Name returns the network's join-by-name key.
func (n *Network) Name() string { return n.name }

// AttachTrunk installs the trunk backend handle constructed by the trunk
// factory for n.trunkType (spec §4.5 "instantiates the trunk factory").
func (n *Network) AttachTrunk(t TrunkHandle) {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	n.trunk = t
	n.macTab.TrunkPresent = t != nil
	if t != nil {
		n.macTab.WireMac = t.HostMac()
	}
}

// Lock/Unlock implement iface.NetworkHandle's address-spinlock contract.
func (n *Network) Lock()   { n.addrMu.Lock() }
func (n *Network) Unlock() { n.addrMu.Unlock() }

// Blacklist implements iface.NetworkHandle.
func (n *Network) Blacklist() *cache.Blacklist { return n.bl }

// AllowPromiscuous implements iface.NetworkHandle: client promiscuity is
// allowed unless PROMISC_DENY_CLIENTS is in effect.
func (n *Network) AllowPromiscuous() bool {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	return !n.effective.Has(api.FlagPromiscDenyClients)
}

// EffectiveFlags returns a snapshot of the network's current effective
// policy flags.
func (n *Network) EffectiveFlags() api.NetFlags {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	return n.effective
}

// SetPromiscuous implements iface.NetworkHandle: updates slot's MAC-table
// entry under the address lock and retallies the aggregate counters (spec
// §3.1 invariants, §4.4).
func (n *Network) SetPromiscuous(slot int, on bool) (effective, seesTrunk bool) {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	seesTrunk = on && n.effective.Has(api.FlagPromiscAllowTrunkHost|api.FlagPromiscAllowTrunkWire)
	n.macTab.SetPromiscuous(slot, on, seesTrunk)
	return on, seesTrunk
}

// NotifyMacChange implements iface.NetworkHandle: writes the MAC-table
// entry (address lock already released by the caller) and forwards to the
// trunk backend with a busy reference held (spec §4.4).
func (n *Network) NotifyMacChange(slot int, m mac.Addr) {
	n.addrMu.Lock()
	n.macTab.SetMac(slot, m)
	n.addrMu.Unlock()

	if n.trunk == nil {
		return
	}
	n.trunk.Busy().Acquire()
	defer n.trunk.Busy().Release()
	n.trunk.NotifyMacAddress(m)
}

// SetInterfaceActive implements iface.NetworkHandle (spec §4.4
// set_active): flips the MAC-table active bit, updates the network active
// count, and on a 0<->1 transition flips the trunk's state.
func (n *Network) SetInterfaceActive(slot int, active bool) error {
	n.addrMu.Lock()
	n.macTab.SetActive(slot, active)
	was := n.nActive
	if active {
		n.nActive++
	} else if n.nActive > 0 {
		n.nActive--
	}
	now := n.nActive
	n.addrMu.Unlock()

	if n.trunk == nil {
		return nil
	}
	if was == 0 && now > 0 {
		n.trunk.SetState(api.TrunkActive)
	} else if was > 0 && now == 0 {
		n.trunk.SetState(api.TrunkInactive)
	}
	return nil
}

// AddInterface grows the MAC table if needed and links a new, inactive
// interface into it (spec §4.4 open, §4.6 capacity growth). The slot is
// reserved first (with a nil placeholder, never dereferenced while the
// entry is inactive) so the *iface.If constructor can be told its own
// slot; SetIfRef then binds the real reference in before the interface
// becomes reachable by any other caller.
func (n *Network) AddInterface(ringSize uint32) (*iface.If, error) {
	n.bigMu.Lock()
	defer n.bigMu.Unlock()

	n.addrMu.Lock()
	slot, err := n.macTab.AddInterface(nil, mac.Dummy)
	n.addrMu.Unlock()
	if err != nil {
		return nil, err
	}

	ifc := iface.Open(n, slot, ringSize)

	n.addrMu.Lock()
	n.macTab.SetIfRef(slot, ifc)
	n.addrMu.Unlock()

	h := n.ifReg.Register(ifc, func(i *iface.If) { n.log.WithField("if", i.Slot()).Debug("interface destructed") })
	ifc.SetHandle(h)
	return ifc, nil
}

// Detach implements iface.NetworkHandle: unlinks slot from the MAC table;
// nothing else is released.
func (n *Network) Detach(slot int) {
	n.addrMu.Lock()
	n.macTab.RemoveInterface(slot)
	n.addrMu.Unlock()
}

// NActive reports the number of currently active interfaces.
func (n *Network) NActive() int {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	return n.nActive
}

// NotifyHostAddress implements the trunk's SwitchCore contract for
// notify_host_address (spec §4.2, §4.9): when the host stack claims an
// address it is blacklisted so no interface ever learns it, and any stale
// copy already sitting in an interface cache is purged; when the host
// releases it, it comes back off the blacklist so a future snoop can learn
// it again.
func (n *Network) NotifyHostAddress(added bool, family api.AddrFamily, addr []byte) {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	if added {
		n.bl.Add(int(family), addr)
		n.macTab.Range(func(_ int, _ mac.Addr, _, _, _ bool, ifc *iface.If) {
			if ifc == nil {
				return
			}
			if c := ifc.Cache(family); c != nil {
				c.Delete(addr)
			}
		})
		return
	}
	n.bl.Remove(int(family), addr)
}
