// File: intnet/network/switch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Switch is the network's half of the send/recv control flow (spec §2
// "Control flow on transmit"/"Control flow on trunk input"): build a
// destination table under the address lock, release the lock, then copy
// into every local destination and, if applicable, hand the frame to the
// trunk.

package network

import (
	"context"
	"encoding/binary"
	"net"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/iface"
	"github.com/ringnet/intnetsw/intnet/mac"
	"github.com/ringnet/intnetsw/intnet/mactab"
	"github.com/ringnet/intnetsw/intnet/snoop"
)

// ifHandle names the concrete IF type parameter this network instantiates
// mactab with, kept as a local alias so switch.go reads less noisily.
type ifHandle = *iface.If

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
)

func parseDstMac(frame []byte) (mac.Addr, bool) {
	var m mac.Addr
	if len(frame) < 14 {
		return m, false
	}
	copy(m[:], frame[0:6])
	return m, true
}

// extractL3Dst returns the destination L3 address for an IPv4 or IPv6
// frame, or nil if the frame is neither (spec §4.3 "L3 switch").
func extractL3Dst(frame []byte) []byte {
	if len(frame) < 14 {
		return nil
	}
	ethType := binary.BigEndian.Uint16(frame[12:14])
	switch ethType {
	case etherTypeIPv4:
		if len(frame) < 14+20 {
			return nil
		}
		return frame[14+16 : 14+20]
	case etherTypeIPv6:
		if len(frame) < 14+40 {
			return nil
		}
		return frame[14+24 : 14+40]
	default:
		return nil
	}
}

// Switch implements the local-sender half of spec §4.3: called by an
// iface.If's Send drain for each frame it reads off its send ring.
func (n *Network) Switch(ctx context.Context, senderSlot int, frame []byte) error {
	dstMac, ok := parseDstMac(frame)
	if !ok {
		return nil // too short for an Ethernet header: dropped here without being counted
	}

	dst := n.dstTabs.acquire()
	defer n.dstTabs.release(dst)

	n.addrMu.Lock()
	n.snoopOutbound(senderSlot, frame)
	if dstMac.IsDummy() || dstMac.IsMulticast() {
		mactab.SwitchBroadcast(n.macTab, senderSlot, api.DirNone, dst)
	} else {
		mactab.SwitchUnicast(n.macTab, senderSlot, api.DirNone, dstMac, dst)
	}
	n.addrMu.Unlock()

	if err := n.deliverLocal(ctx, dst, frame); err != nil {
		return err
	}

	trunkDst := dst.TrunkDst
	if trunkDst == api.DirNone || n.trunk == nil {
		return nil
	}
	if !n.trunk.CanXmitNow(trunkDst) {
		return api.ErrTryAgain
	}
	return n.trunk.Xmit(ctx, trunkDst, n.rewriteOutboundShareMac(trunkDst, frame))
}

// SwitchFromTrunk implements the trunk-origin half of spec §4.3: called by
// the trunk backend's recv callback (relayed through intnet/trunk). Returns
// true if the backend may drop its own copy of the frame because every
// destination was serviced locally.
func (n *Network) SwitchFromTrunk(ctx context.Context, srcDir api.Direction, frame []byte) (backendMayDrop bool, err error) {
	dstMac, ok := parseDstMac(frame)
	if !ok {
		return false, nil
	}

	dst := n.dstTabs.acquire()
	defer n.dstTabs.release(dst)

	n.addrMu.Lock()
	sharedMac := n.effective.Has(api.FlagSharedMacOnWire)
	if srcDir == api.DirWire {
		n.snoopInboundDad(frame)
		n.snoopInboundDhcp(frame)
		if sharedMac {
			frame, dstMac = n.rewriteInboundShareMac(frame, dstMac)
		}
	}
	switch {
	case dstMac.IsDummy() || dstMac.IsMulticast():
		mactab.SwitchBroadcast(n.macTab, mactab.SenderNone, srcDir, dst)
	case sharedMac && srcDir == api.DirWire && n.trunk != nil && dstMac == n.trunk.HostMac():
		l3 := extractL3Dst(frame)
		mactab.SwitchLevel3(n.macTab, l3, n.l3CacheHit, dst)
	default:
		mactab.SwitchUnicast(n.macTab, mactab.SenderNone, srcDir, dstMac, dst)
	}
	n.addrMu.Unlock()

	if err := n.deliverLocal(ctx, dst, frame); err != nil {
		return false, err
	}

	otherDir := dst.TrunkDst &^ srcDir
	if otherDir != api.DirNone && n.trunk != nil {
		if !n.trunk.CanXmitNow(otherDir) {
			return false, api.ErrTryAgain
		}
		if err := n.trunk.Xmit(ctx, otherDir, n.rewriteOutboundShareMac(otherDir, frame)); err != nil {
			return false, err
		}
	}
	return len(dst.Entries) > 0 && otherDir == api.DirNone, nil
}

// rewriteOutboundShareMac implements spec §4.7's outbound MAC-sharing
// rewrites: when SHARED_MAC_ON_WIRE is in effect and dirs names the wire
// direction, the guest's real MAC (and, for DHCPDISCOVER/REQUEST, the
// broadcast bit) must never appear on the wire. Traffic bound only for the
// host direction is returned unchanged -- hiding guest identity is a
// wire-only concern. Called without addrMu held; reads only the trunk's
// reported host MAC and the network's immutable flag snapshot.
func (n *Network) rewriteOutboundShareMac(dirs api.Direction, frame []byte) []byte {
	if !n.effective.Has(api.FlagSharedMacOnWire) || dirs&api.DirWire == 0 || n.trunk == nil {
		return frame
	}
	hostMac := n.trunk.HostMac()

	if _, ok := snoop.ParseARP(frame); ok {
		if rewritten, did := snoop.RewriteOutboundShareMac(frame, hostMac); did {
			return rewritten
		}
		return frame
	}
	if rewritten, did := snoop.RewriteOutboundICMPv6ShareMac(frame, hostMac); did {
		return rewritten
	}
	if rewritten, did := snoop.ForceBroadcastFlag(frame); did {
		frame = rewritten
	}
	snoop.RewriteOutboundSourceMac(frame, hostMac)
	return frame
}

// rewriteInboundShareMac implements spec §4.7's inbound MAC-sharing
// rewrites for a frame arriving from the wire: an ARP reply addressed to
// the shared host MAC is rewritten back to the real guest MAC via an
// L3-cache lookup, and a frame that is unicast-to-us but logically
// broadcast/multicast has its Ethernet destination rewritten to match
// before the switch decides where it goes. Called with addrMu already
// held; returns the (possibly rewritten) frame and the destination MAC the
// caller should switch on.
func (n *Network) rewriteInboundShareMac(frame []byte, dstMac mac.Addr) ([]byte, mac.Addr) {
	if rewritten, did := snoop.RewriteInboundArpReply(frame, n.l3CacheOwner); did {
		if m, ok := parseDstMac(rewritten); ok {
			return rewritten, m
		}
	}
	if override, did := snoop.LooksBroadcast(frame); did {
		copy(frame[0:6], override[:])
		return frame, override
	}
	return frame, dstMac
}

// l3CacheHit reports whether ifc's IPv4 cache contains l3Addr, used as the
// lookup callback for mactab.SwitchLevel3.
func (n *Network) l3CacheHit(ifc ifHandle, l3Addr []byte) bool {
	if l3Addr == nil {
		return false
	}
	c := ifc.Cache(api.AddrFamilyIPv4)
	if len(l3Addr) == 16 {
		c = ifc.Cache(api.AddrFamilyIPv6)
	}
	if c == nil {
		return false
	}
	return c.Lookup(l3Addr)
}

// l3CacheOwner scans every interface's IPv4 cache for ip and returns the
// owning interface's MAC -- the lookup RewriteInboundArpReply needs to
// learn which guest an inbound ARP reply is actually meant for (spec §4.7).
// Called with addrMu already held.
func (n *Network) l3CacheOwner(ip net.IP) (mac.Addr, bool) {
	addr := ip.To4()
	if addr == nil {
		return mac.Addr{}, false
	}
	var found mac.Addr
	var ok bool
	n.macTab.Range(func(_ int, m mac.Addr, _, _, _ bool, ifc ifHandle) {
		if ok || ifc == nil {
			return
		}
		if c := ifc.Cache(api.AddrFamilyIPv4); c != nil && c.Lookup(addr) {
			found, ok = m, true
		}
	})
	return found, ok
}

// snoopOutbound implements spec §4.8's learning rules against the sending
// interface's own address caches. Called with addrMu already held.
func (n *Network) snoopOutbound(senderSlot int, frame []byte) {
	ifc := n.macTab.IfRef(senderSlot)
	if ifc == nil {
		return
	}
	if info, ok := snoop.ParseARP(frame); ok {
		snoop.LearnOutboundARP(ifc.Cache(api.AddrFamilyIPv4), n.bl, info)
		return
	}
	if info, ok := snoop.ParseDHCPv4(frame); ok {
		snoop.ApplyDHCPSnoop(ifc.Cache(api.AddrFamilyIPv4), n.bl, info)
	}
	if snoop.LearnOutboundIPv4(ifc.Cache(api.AddrFamilyIPv4), n.bl, frame) {
		return
	}
	snoop.LearnOutboundIPv6(ifc.Cache(api.AddrFamilyIPv6), n.bl, frame)
}

// snoopInboundDad implements spec §4.7's "inbound ICMPv6 NS DAD cache
// invalidation": a DAD probe for an address means no interface should keep
// a stale IPv6 cache entry for it. Called with addrMu already held.
func (n *Network) snoopInboundDad(frame []byte) {
	target, ok := snoop.DADTarget(frame)
	if !ok {
		return
	}
	n.macTab.Range(func(_ int, _ mac.Addr, _, _, _ bool, ifc ifHandle) {
		if c := ifc.Cache(api.AddrFamilyIPv6); c != nil {
			c.Delete(target)
		}
	})
}

// snoopInboundDhcp implements spec §4.8's DHCPv4 ACK/RELEASE address
// decisions for a message arriving from the wire, applied against whichever
// interface's MAC matches the message's client hardware address. Called
// with addrMu already held.
func (n *Network) snoopInboundDhcp(frame []byte) {
	info, ok := snoop.ParseDHCPv4(frame)
	if !ok || info.ChAddr.IsZero() {
		return
	}
	n.macTab.Range(func(_ int, m mac.Addr, _, _, _ bool, ifc ifHandle) {
		if ifc == nil || m != info.ChAddr {
			return
		}
		snoop.ApplyDHCPSnoop(ifc.Cache(api.AddrFamilyIPv4), n.bl, info)
	})
}

func (n *Network) deliverLocal(ctx context.Context, dst *mactab.DstTab[ifHandle], frame []byte) error {
	for _, e := range dst.Entries {
		e.If.Deliver(frame, e.ReplaceDstMac, e.NewMac)
	}
	return nil
}
