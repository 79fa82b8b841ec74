// File: intnet/mactab/dsttab.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DstTab is the scratch destination-table object built under the network
// address spinlock and consumed after it is released (spec §3.1, §4.3).
// Preallocated per interface and per trunk (task and per-CPU variants) so
// switching never allocates on the hot path.

package mactab

import "github.com/ringnet/intnetsw/api"

// DstEntry names one local destination: the interface reference and
// whether its Ethernet destination MAC must be rewritten (spec §3.1,
// §4.3 L3-switch path).
type DstEntry[IF IfHandle] struct {
	If            IF
	ReplaceDstMac bool
	NewMac        [6]byte
}

// DstTab is an ordered list of local destinations plus a trunk-direction
// bitmask.
type DstTab[IF IfHandle] struct {
	Entries  []DstEntry[IF]
	TrunkDst api.Direction
}

// NewDstTab preallocates a DstTab with room for capacity local entries
// (spec §3.1 "Preallocated to n_entries_allocated").
func NewDstTab[IF IfHandle](capacity int) *DstTab[IF] {
	return &DstTab[IF]{Entries: make([]DstEntry[IF], 0, capacity)}
}

// Reset empties the table for reuse, keeping the backing array.
func (d *DstTab[IF]) Reset() {
	d.Entries = d.Entries[:0]
	d.TrunkDst = api.DirNone
}

// Grow ensures the backing array can hold at least n entries without
// reallocating mid-switch (spec §4.6 growth of per-interface/per-trunk
// destination tables in step with MacTab.Grow).
func (d *DstTab[IF]) Grow(n int) {
	if cap(d.Entries) >= n {
		return
	}
	grown := make([]DstEntry[IF], len(d.Entries), n)
	copy(grown, d.Entries)
	d.Entries = grown
}

func (d *DstTab[IF]) add(e DstEntry[IF]) {
	d.Entries = append(d.Entries, e)
}

// Decision classifies a built DstTab into the outcome categories of spec
// §4.3 "Decision outcomes" (Drop/IntNet/Trunk/Broadcast). BadContext and
// Invalid are determined by the caller (trunk-callability and frame
// validity are outside DstTab's scope) and are not produced here.
func (d *DstTab[IF]) Decision() api.SwitchDecision {
	hasLocal := len(d.Entries) > 0
	hasTrunk := d.TrunkDst != api.DirNone
	switch {
	case hasLocal && hasTrunk:
		return api.DecisionBroadcast
	case hasLocal:
		return api.DecisionIntNet
	case hasTrunk:
		return api.DecisionTrunk
	default:
		return api.DecisionDrop
	}
}
