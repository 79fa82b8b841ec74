// File: intnet/network/policy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Policy-flag compatibility checking and merging (spec §4.5 "Policy-flag
// compatibility and merging", §6.3, §8 "Policy conformance").
//
// Open Question decision: the source's exact bit arithmetic for "does the
// opener's request conflict with a FIXED pair" is reconstructed here from
// the spec's prose rather than transliterated from original_source/, since
// the prose is the authoritative description for this port. Interpretation
// chosen: a pair only participates in a compatibility check or merge when
// the opener actually specified one of its two bits; an opener silent on a
// pair always defers to the network's current value for that pair.

package network

import (
	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/iface"
	"github.com/ringnet/intnetsw/intnet/mac"
)

// CheckCompatible reports whether requested may join a network whose
// current effective flags are n.effective, per spec §4.5 / §8 "Policy
// conformance". The sticky min-flags ratchet is not consulted here.
func (n *Network) CheckCompatible(requested api.NetFlags) error {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()
	return n.checkCompatibleLocked(requested)
}

func (n *Network) checkCompatibleLocked(requested api.NetFlags) error {
	requireExact := requested.Has(api.FlagRequireExact)
	for _, p := range api.NetPairs() {
		if !requested.Any(p.Restrictive() | p.Relaxed()) {
			continue // opener silent on this pair: no conflict possible
		}
		reqRestrictive := requested.Has(p.Restrictive())
		existingRestrictive := n.effective.Has(p.Restrictive())

		fixed := n.effective.Has(p.Fixed())
		if fixed || requireExact {
			if reqRestrictive != existingRestrictive {
				return api.ErrIncompatibleFlags
			}
		}
	}
	return nil
}

// MergeOpenFlags applies requested's policy pairs to the network, updating
// the sticky REQUIRE_AS_RESTRICTIVE ratchet and recomputing the effective
// flags and every interface's promiscuous accounting (spec §4.5). Must be
// called only after CheckCompatible has returned nil.
func (n *Network) MergeOpenFlags(requested api.NetFlags) {
	n.addrMu.Lock()
	defer n.addrMu.Unlock()

	asRestrictive := requested.Has(api.FlagRequireAsRestrictive)
	for _, p := range api.NetPairs() {
		if !requested.Any(p.Restrictive() | p.Relaxed()) {
			continue
		}
		reqRestrictive := requested.Has(p.Restrictive())
		if asRestrictive && reqRestrictive {
			n.minFlags |= p.Restrictive()
		}

		if n.effective.Has(p.Fixed()) {
			continue // FIXED pairs never change after the network is created
		}

		wantRestrictive := n.minFlags.Has(p.Restrictive()) || reqRestrictive
		n.setPairLocked(p, wantRestrictive)
	}
	if requested.Has(api.FlagSharedMacOnWire) {
		n.effective |= api.FlagSharedMacOnWire
	}
	n.recomputeDerivedLocked()
	n.ctrl.SetConfig(map[string]any{
		"effective_flags": n.effective,
		"min_flags":       n.minFlags,
	})
}

func (n *Network) setPairLocked(p api.PairMask, restrictive bool) {
	n.effective &^= p.Restrictive() | p.Relaxed()
	if restrictive {
		n.effective |= p.Restrictive()
	} else {
		n.effective |= p.Relaxed()
	}
}

// recomputeDerivedLocked recomputes the boolean states derived from the
// effective flags (spec §4.5): host/wire active and promiscuous-effective,
// then retallies every interface's promiscuous accounting.
func (n *Network) recomputeDerivedLocked() {
	trunkPresent := n.macTab.TrunkPresent
	n.macTab.HostActive = trunkPresent && n.nActive > 0 && n.effective.Has(api.FlagTrunkHostEnabled)
	n.macTab.WireActive = trunkPresent && n.nActive > 0 && n.effective.Has(api.FlagTrunkWireEnabled)

	n.macTab.HostPromiscEffective = (n.macTab.HostPromiscReal || n.effective.Has(api.FlagTrunkHostPromiscMode)) &&
		n.effective.Has(api.FlagPromiscAllowTrunkHost)
	n.macTab.WirePromiscEffective = (n.macTab.WirePromiscReal || n.effective.Has(api.FlagTrunkWirePromiscMode)) &&
		n.effective.Has(api.FlagPromiscAllowTrunkWire)

	// spec §4.5: "each interface's promisc_effective and
	// promisc_sees_trunk is recomputed". A client's requested promiscuity
	// never changes here -- only whether it is allowed to see trunk
	// traffic, which follows straight from the network's own flags.
	seesTrunk := n.effective.Has(api.FlagPromiscAllowTrunkHost | api.FlagPromiscAllowTrunkWire)
	var toUpdate []int
	n.macTab.Range(func(slot int, _ mac.Addr, _ bool, promisc bool, _ bool, _ *iface.If) {
		if promisc {
			toUpdate = append(toUpdate, slot)
		}
	})
	for _, slot := range toUpdate {
		n.macTab.SetPromiscuous(slot, true, seesTrunk)
	}

	n.metricsReg.Set("host_active", n.macTab.HostActive)
	n.metricsReg.Set("wire_active", n.macTab.WireActive)
	n.metricsReg.Set("active_interfaces", n.nActive)
}
