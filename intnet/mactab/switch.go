// File: intnet/mactab/switch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Destination-table building: broadcast, unicast, and L3 (shared-MAC-on-
// wire) switching (spec §4.3). All three run under the network address
// spinlock; the lock is released by the caller once the DstTab has been
// built, per spec §5.

package mactab

import (
	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/mac"
)

// SenderNone marks a trunk-originated frame: there is no local sender
// slot to exclude from broadcast/unicast fan-out.
const SenderNone = -1

// SwitchBroadcast fans a frame out to every other active interface and to
// whichever trunk directions are active, excluding the sender's own
// direction (spec §4.3 "Broadcast").
func SwitchBroadcast[IF IfHandle](t *MacTab[IF], senderSlot int, senderDir api.Direction, dst *DstTab[IF]) {
	dst.Reset()
	t.Range(func(slot int, m mac.Addr, active, promisc, seesTrunk bool, ifRef IF) {
		if !active || slot == senderSlot {
			return
		}
		dst.add(DstEntry[IF]{If: ifRef})
	})
	dst.TrunkDst = trunkDirMask(t) &^ senderDir
}

// SwitchUnicast builds a destination table for a frame addressed to
// dstMac (spec §4.3 "Unicast").
func SwitchUnicast[IF IfHandle](t *MacTab[IF], senderSlot int, senderDir api.Direction, dstMac mac.Addr, dst *DstTab[IF]) {
	dst.Reset()
	exactFound := false
	t.Range(func(slot int, m mac.Addr, active, promisc, seesTrunk bool, ifRef IF) {
		if !active || slot == senderSlot {
			return
		}
		switch {
		case m == dstMac:
			exactFound = true
			dst.add(DstEntry[IF]{If: ifRef})
		case m.IsDummy():
			dst.add(DstEntry[IF]{If: ifRef})
		case promisc && canSeeSource(senderDir, seesTrunk):
			dst.add(DstEntry[IF]{If: ifRef})
		}
	})
	dst.TrunkDst = unicastTrunkMask(t, dstMac, exactFound) &^ senderDir
}

// SwitchLevel3 resolves a wire-origin, trunk-destined frame by L3 address
// against each interface's own cache (spec §4.3 "L3 switch", used only
// under SHARED_MAC_ON_WIRE). lookup reports whether ifRef's cache
// contains l3Addr. If no interface has a cache hit, it falls back to
// trunk-and-promiscuous-only delivery.
func SwitchLevel3[IF IfHandle](t *MacTab[IF], l3Addr []byte, lookup func(IF, []byte) bool, dst *DstTab[IF]) {
	dst.Reset()
	hit := false
	t.Range(func(slot int, m mac.Addr, active, promisc, seesTrunk bool, ifRef IF) {
		if !active {
			return
		}
		if lookup(ifRef, l3Addr) {
			hit = true
			dst.add(DstEntry[IF]{If: ifRef, ReplaceDstMac: true, NewMac: m})
			return
		}
		if promisc && canSeeSource(api.DirWire, seesTrunk) {
			dst.add(DstEntry[IF]{If: ifRef})
		}
	})
	if !hit {
		SwitchTrunkAndPromisc(t, dst)
	}
}

// SwitchTrunkAndPromisc includes only promiscuous interfaces that may see
// wire-origin traffic, plus the active trunk directions other than the
// wire -- the fallback path for SwitchLevel3 when no interface cache
// matched the L3 destination.
func SwitchTrunkAndPromisc[IF IfHandle](t *MacTab[IF], dst *DstTab[IF]) {
	dst.Reset()
	t.Range(func(slot int, m mac.Addr, active, promisc, seesTrunk bool, ifRef IF) {
		if active && promisc && canSeeSource(api.DirWire, seesTrunk) {
			dst.add(DstEntry[IF]{If: ifRef})
		}
	})
	dst.TrunkDst = trunkDirMask(t) &^ api.DirWire
}

// canSeeSource reports whether a promiscuous entry may see traffic that
// originated from senderDir: local (DirNone) senders are always visible
// to a promiscuous client; trunk-origin senders require the entry's
// promisc_sees_trunk bit (spec §4.3).
func canSeeSource(senderDir api.Direction, seesTrunk bool) bool {
	if senderDir == api.DirNone {
		return true
	}
	return seesTrunk
}

func trunkDirMask[IF IfHandle](t *MacTab[IF]) api.Direction {
	var m api.Direction
	if t.HostActive {
		m |= api.DirHost
	}
	if t.WireActive {
		m |= api.DirWire
	}
	return m
}

// unicastTrunkMask implements spec §4.3's trunk-inclusion rule for
// unicast: "Include the trunk if the host MAC matches / host is
// promiscuous / host MAC is dummy; include the wire direction if no
// exact match was found or the wire is promiscuous."
func unicastTrunkMask[IF IfHandle](t *MacTab[IF], dstMac mac.Addr, exactFound bool) api.Direction {
	var m api.Direction
	if t.HostActive && (t.HostMac == dstMac || t.HostPromiscEffective || t.HostMac.IsDummy()) {
		m |= api.DirHost
	}
	if t.WireActive && (!exactFound || t.WirePromiscEffective) {
		m |= api.DirWire
	}
	return m
}
