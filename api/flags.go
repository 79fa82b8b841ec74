// Package api
// Author: momentics <momentics@gmail.com>
//
// Open-network policy flags (spec §6.3). Organized as restrictive/relaxed
// bit pairs plus a FIXED bit per pair (spec §4.5 "Policy-flag compatibility
// and merging").

package api

// NetFlags is the 32-bit policy-flag word carried in an Open request and
// stored as a network's "requested" flags, its "min flags" (the sticky
// REQUIRE_AS_RESTRICTIVE ratchet), and its recomputed "effective" flags.
type NetFlags uint32

const (
	// Access control pair.
	FlagAccessRestricted NetFlags = 1 << iota
	FlagAccessPublic
	FlagAccessFixed

	// Whether clients may request promiscuous mode at all.
	FlagPromiscDenyClients
	FlagPromiscAllowClients
	FlagPromiscClientsFixed

	// Whether the trunk host side is treated as promiscuous.
	FlagPromiscDenyTrunkHost
	FlagPromiscAllowTrunkHost

	// Whether the trunk wire side is treated as promiscuous.
	FlagPromiscDenyTrunkWire
	FlagPromiscAllowTrunkWire

	// Forward-to-host pair.
	FlagTrunkHostDisabled
	FlagTrunkHostEnabled

	// Force host-side promiscuous regardless of backend report.
	FlagTrunkHostChasteMode
	FlagTrunkHostPromiscMode

	// Forward-to-wire pair.
	FlagTrunkWireDisabled
	FlagTrunkWireEnabled

	// Force wire-side promiscuous regardless of backend report.
	FlagTrunkWireChasteMode
	FlagTrunkWirePromiscMode

	// Fixed bit shared by all four trunk-side pairs above.
	FlagTrunkFixed

	// All guests share the trunk's host MAC on the wire; requires L3
	// switching inbound and MAC rewriting outbound (spec §4.7).
	FlagSharedMacOnWire

	// Open-time modifiers, not stored as part of effective flags.
	FlagRequireExact
	FlagRequireAsRestrictive

	// Darwin DHCP broadcast-flag workaround bit (spec §9 Open Question);
	// off by default. No code reads it, so setting it changes nothing.
	FlagDHCPBroadcastWorkaround
)

// Per-interface promiscuous pairs (spec §6.3 tail).
const (
	IfFlagPromiscAllow NetFlags = 1 << iota
	IfFlagPromiscDeny
	IfFlagPromiscSeeTrunk
	IfFlagPromiscNoTrunk
)

// PairMask groups the three restrictive/relaxed/fixed bits that must be
// considered together when merging two networks' flags.
type PairMask struct {
	restrictive, relaxed, fixed NetFlags
}

// netPairs enumerates the eight net-level policy pairs in merge order
// (spec §4.5, §6.3).
var netPairs = []PairMask{
	{FlagAccessRestricted, FlagAccessPublic, FlagAccessFixed},
	{FlagPromiscDenyClients, FlagPromiscAllowClients, FlagPromiscClientsFixed},
	{FlagPromiscDenyTrunkHost, FlagPromiscAllowTrunkHost, FlagTrunkFixed},
	{FlagPromiscDenyTrunkWire, FlagPromiscAllowTrunkWire, FlagTrunkFixed},
	{FlagTrunkHostDisabled, FlagTrunkHostEnabled, FlagTrunkFixed},
	{FlagTrunkHostChasteMode, FlagTrunkHostPromiscMode, FlagTrunkFixed},
	{FlagTrunkWireDisabled, FlagTrunkWireEnabled, FlagTrunkFixed},
	{FlagTrunkWireChasteMode, FlagTrunkWirePromiscMode, FlagTrunkFixed},
}

// NetPairs exposes the mergeable policy pairs for use by intnet/network's
// flag-compatibility and merge logic.
func NetPairs() []PairMask { return netPairs }

// Restrictive returns the pair's restrictive bit.
func (p PairMask) Restrictive() NetFlags { return p.restrictive }

// Relaxed returns the pair's relaxed bit.
func (p PairMask) Relaxed() NetFlags { return p.relaxed }

// Fixed returns the pair's FIXED bit.
func (p PairMask) Fixed() NetFlags { return p.fixed }

// Has reports whether all bits in mask are set in f.
func (f NetFlags) Has(mask NetFlags) bool { return f&mask == mask }

// Any reports whether any bit in mask is set in f.
func (f NetFlags) Any(mask NetFlags) bool { return f&mask != 0 }
