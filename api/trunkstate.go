// Package api
// Author: momentics <momentics@gmail.com>
//
// TrunkState is shared between intnet/network and intnet/trunk so neither
// package needs to import the other's concrete types to agree on the
// trunk's lifecycle state (spec §4.9 "set_state").

package api

// TrunkState is the trunk's lifecycle state as seen through its
// interface-port (spec §4.9 set_state(Inactive|Active|Disconnecting)).
type TrunkState int32

const (
	TrunkInactive TrunkState = iota
	TrunkActive
	TrunkDisconnecting
)

func (s TrunkState) String() string {
	switch s {
	case TrunkInactive:
		return "inactive"
	case TrunkActive:
		return "active"
	case TrunkDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}
