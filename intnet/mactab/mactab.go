// File: intnet/mactab/mactab.go
// Package mactab implements the per-network MAC lookup table and the
// destination-table switching engine (spec §3.1 MacTab/DstTab, §4.3).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MacTab is generic over the interface-reference type so this package has
// no import-time dependency on intnet/iface -- the same separation the
// teacher uses for its generic RingBuffer[T]/ObjectPool[T] (pool/objpool.go,
// internal/concurrency/ring.go).

package mactab

import (
	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/mac"
)

// IfHandle is the minimal contract MacTab needs from an interface
// reference: its current learned MAC address.
type IfHandle interface {
	Mac() mac.Addr
}

// entry is one MacTab row (spec §3.1).
type entry[IF IfHandle] struct {
	valid            bool
	mac              mac.Addr
	promiscEffective bool
	promiscSeesTrunk bool
	active           bool
	ifRef            IF
}

// MaxEntries is the hard ceiling on table growth (spec §3.1, §4.6):
// 1024 guest slots + 1 + 16 slack, the original INTNET_MAX_IFS.
const MaxEntries = 1024 + 1 + 16

// GrowStep is how many entries Grow adds at a time (spec §4.6).
const GrowStep = 16

// MacTab is the per-network array of interface entries plus trunk-side
// aggregate state (spec §3.1).
type MacTab[IF IfHandle] struct {
	entries []entry[IF]

	nPromisc        int
	nPromiscNoTrunk int

	TrunkPresent bool
	HostMac      mac.Addr
	// HostPromiscReal is what the backend itself reports; HostPromiscEffective
	// additionally folds in TRUNK_HOST_PROMISC_MODE and PROMISC_ALLOW_TRUNK_HOST
	// (spec §4.5).
	HostPromiscReal      bool
	HostPromiscEffective bool
	HostActive           bool
	WireMac              mac.Addr
	WirePromiscReal      bool
	WirePromiscEffective bool
	WireActive           bool
}

// New creates a MacTab with an initial capacity (rounded up to a multiple
// of GrowStep).
func New[IF IfHandle](initialCapacity int) *MacTab[IF] {
	if initialCapacity <= 0 {
		initialCapacity = GrowStep
	}
	n := ((initialCapacity + GrowStep - 1) / GrowStep) * GrowStep
	if n > MaxEntries {
		n = MaxEntries
	}
	return &MacTab[IF]{entries: make([]entry[IF], n)}
}

// Cap returns the current entry-array capacity.
func (t *MacTab[IF]) Cap() int { return len(t.entries) }

// Grow adds GrowStep entries, up to MaxEntries. Returns api.ErrOutOfRange
// if already at the ceiling (spec §4.6).
func (t *MacTab[IF]) Grow() error {
	if len(t.entries) >= MaxEntries {
		return api.ErrOutOfRange
	}
	next := len(t.entries) + GrowStep
	if next > MaxEntries {
		next = MaxEntries
	}
	grown := make([]entry[IF], next)
	copy(grown, t.entries)
	t.entries = grown
	return nil
}

// AddInterface links a new, inactive interface entry into the first free
// slot, growing the table first if necessary. Returns the slot index.
func (t *MacTab[IF]) AddInterface(ifRef IF, initialMac mac.Addr) (int, error) {
	for {
		for i := range t.entries {
			if !t.entries[i].valid {
				t.entries[i] = entry[IF]{valid: true, mac: initialMac, ifRef: ifRef}
				return i, nil
			}
		}
		if err := t.Grow(); err != nil {
			return -1, api.ErrNoMemory
		}
	}
}

// RemoveInterface unlinks the entry at slot.
func (t *MacTab[IF]) RemoveInterface(slot int) {
	if slot < 0 || slot >= len(t.entries) {
		return
	}
	if t.entries[slot].promiscEffective {
		t.nPromisc--
		if !t.entries[slot].promiscSeesTrunk {
			t.nPromiscNoTrunk--
		}
	}
	t.entries[slot] = entry[IF]{}
}

// SetActive flips the active bit for slot (spec §4.4 set_active). It
// returns nothing: network active-count bookkeeping is the caller's
// responsibility since it spans both MacTab and Network.
func (t *MacTab[IF]) SetActive(slot int, active bool) {
	if slot < 0 || slot >= len(t.entries) {
		return
	}
	t.entries[slot].active = active
}

// SetMac updates the learned MAC for slot (spec §4.4 set_mac_address /
// inline learning in If.send()).
func (t *MacTab[IF]) SetMac(slot int, m mac.Addr) {
	if slot < 0 || slot >= len(t.entries) {
		return
	}
	t.entries[slot].mac = m
}

// Mac returns the learned MAC for slot.
func (t *MacTab[IF]) Mac(slot int) mac.Addr {
	if slot < 0 || slot >= len(t.entries) {
		return mac.Addr{}
	}
	return t.entries[slot].mac
}

// IfRef returns the interface reference bound to slot, the zero IF value if
// slot is out of range or was never bound.
func (t *MacTab[IF]) IfRef(slot int) IF {
	if slot < 0 || slot >= len(t.entries) {
		var zero IF
		return zero
	}
	return t.entries[slot].ifRef
}

// SetIfRef rebinds slot's interface reference. Used when the caller must
// reserve a slot before it can construct the IF value that slot needs to
// know (spec §4.4 open: the interface object's own constructor takes its
// MAC-table slot as an argument).
func (t *MacTab[IF]) SetIfRef(slot int, ifRef IF) {
	if slot < 0 || slot >= len(t.entries) {
		return
	}
	t.entries[slot].ifRef = ifRef
}

// SetPromiscuous updates the effective promiscuous state for slot and
// retallies the aggregate n_promisc/n_promisc_no_trunk counters (spec
// §3.1 invariants).
func (t *MacTab[IF]) SetPromiscuous(slot int, effective, seesTrunk bool) {
	if slot < 0 || slot >= len(t.entries) {
		return
	}
	e := &t.entries[slot]
	if e.promiscEffective {
		t.nPromisc--
		if !e.promiscSeesTrunk {
			t.nPromiscNoTrunk--
		}
	}
	e.promiscEffective = effective
	e.promiscSeesTrunk = seesTrunk
	if effective {
		t.nPromisc++
		if !seesTrunk {
			t.nPromiscNoTrunk++
		}
	}
}

// NPromisc and NPromiscNoTrunk expose the aggregate counters for the
// invariant n_promisc <= n_entries (spec §3.1), checked in tests.
func (t *MacTab[IF]) NPromisc() int        { return t.nPromisc }
func (t *MacTab[IF]) NPromiscNoTrunk() int { return t.nPromiscNoTrunk }

// Range calls fn for every valid entry with its slot index.
func (t *MacTab[IF]) Range(fn func(slot int, m mac.Addr, active, promisc, seesTrunk bool, ifRef IF)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.valid {
			fn(i, e.mac, e.active, e.promiscEffective, e.promiscSeesTrunk, e.ifRef)
		}
	}
}
