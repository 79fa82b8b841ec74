// Package api
// Author: momentics <momentics@gmail.com>
//
// Shared small value types that appear on both sides of the service
// boundary: trunk directions, trunk types, switch decisions (spec §4.3,
// §4.9, §6.2).

package api

// Direction is a bitmask of the two trunk-side directions a frame can be
// delivered to or arrive from.
type Direction uint8

const (
	DirNone Direction = 0
	DirHost Direction = 1 << 0
	DirWire Direction = 1 << 1
	DirBoth           = DirHost | DirWire
)

func (d Direction) String() string {
	switch d {
	case DirNone:
		return "none"
	case DirHost:
		return "host"
	case DirWire:
		return "wire"
	case DirBoth:
		return "host+wire"
	default:
		return "invalid"
	}
}

// TrunkType selects the host-stack backend a network's trunk port
// connects to (spec §6.2).
type TrunkType int32

const (
	TrunkNone TrunkType = iota
	TrunkWhateverNone
	TrunkNetFlt
	TrunkNetAdp
	TrunkSrvNat
)

// RequiresName reports whether this trunk type requires a non-empty trunk
// name at Open time.
func (t TrunkType) RequiresName() bool {
	return t == TrunkNetFlt || t == TrunkNetAdp
}

// SwitchDecision is the outcome of building a destination table for one
// frame (spec §4.3 "Decision outcomes").
type SwitchDecision int32

const (
	// DecisionDrop means there is no destination for the frame.
	DecisionDrop SwitchDecision = iota
	// DecisionIntNet means only local interfaces are destinations.
	DecisionIntNet
	// DecisionTrunk means only the trunk is a destination.
	DecisionTrunk
	// DecisionBroadcast means both local interfaces and the trunk are
	// destinations.
	DecisionBroadcast
	// DecisionBadContext means the trunk is reachable but the calling
	// context cannot invoke its xmit callback; the caller must retry
	// from task context.
	DecisionBadContext
	// DecisionInvalid means the frame header was malformed.
	DecisionInvalid
)

// AddrFamily selects which per-interface L3 address cache an operation
// targets (spec §3.1 AddrCache).
type AddrFamily int

const (
	AddrFamilyIPv4 AddrFamily = iota
	AddrFamilyIPv6
	AddrFamilyIPX
	addrFamilyCount
)

// AddrSize returns the byte length compared for this address family.
func (f AddrFamily) AddrSize() int {
	switch f {
	case AddrFamilyIPv4:
		return 4
	case AddrFamilyIPv6:
		return 16
	case AddrFamilyIPX:
		return 10
	default:
		return 0
	}
}
