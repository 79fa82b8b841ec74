// File: intnet/cache/addrcache.go
// Package cache implements the per-interface L3-address learning tables
// and the per-network host-address blacklist (spec §3.1 AddrCache, §4.2).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Callers must already hold the owning network's address spinlock (spec
// §5, lock order item 2) before calling any method here -- AddrCache does
// no locking of its own, the same contract the original VBox AddrCache had
// with its parent's spinlock.

package cache

import (
	"bytes"

	"github.com/eapache/queue"
	"github.com/ringnet/intnetsw/api"
)

// entry is one learned address, stored at its natural byte width.
type entry struct {
	addr []byte
}

// AddrCache is a fixed-capacity, FIFO-eviction table of same-family
// addresses for one interface (spec §3.1, §4.2). Oldest-first eviction
// order is tracked with an eapache/queue.Queue rather than shifting a
// slice by hand on every insert.
type AddrCache struct {
	family   api.AddrFamily
	addrSize int
	capacity int
	q        *queue.Queue
}

// DefaultCapacity matches the typical VirtualBox per-family cache size
// (spec §3.1: "Fixed-capacity table ... typically 32").
const DefaultCapacity = 32

// New creates an AddrCache for the given family with the given capacity
// (0 selects DefaultCapacity).
func New(family api.AddrFamily, capacity int) *AddrCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &AddrCache{
		family:   family,
		addrSize: family.AddrSize(),
		capacity: capacity,
		q:        queue.New(),
	}
}

// Family reports which address family this cache holds.
func (c *AddrCache) Family() api.AddrFamily { return c.family }

// Len reports the number of entries currently cached.
func (c *AddrCache) Len() int { return c.q.Length() }

func (c *AddrCache) at(i int) entry { return c.q.Get(i).(entry) }

// Lookup reports whether addr (exactly c.addrSize bytes) is present. The
// first and last entries are checked before the full scan, mirroring the
// "optimized paths" called out in spec §4.2.
func (c *AddrCache) Lookup(addr []byte) bool {
	n := c.q.Length()
	if n == 0 {
		return false
	}
	if bytes.Equal(c.at(0).addr, addr) || bytes.Equal(c.at(n-1).addr, addr) {
		return true
	}
	for i := 1; i < n-1; i++ {
		if bytes.Equal(c.at(i).addr, addr) {
			return true
		}
	}
	return false
}

// Add inserts addr, evicting the oldest entry first if the cache is full.
// If bl is non-nil and contains addr, Add is a silent no-op -- the address
// is owned by the host (spec §4.2 "Blacklist").
func (c *AddrCache) Add(bl *Blacklist, addr []byte) {
	if bl != nil && bl.ContainsFamily(int(c.family), addr) {
		return
	}
	if c.Lookup(addr) {
		return
	}
	if c.q.Length() >= c.capacity {
		c.q.Remove()
	}
	cp := append([]byte(nil), addr...)
	c.q.Add(entry{addr: cp})
}

// Delete removes the first entry matching addr, if any.
func (c *AddrCache) Delete(addr []byte) {
	n := c.q.Length()
	if n == 0 {
		return
	}
	idx := -1
	for i := 0; i < n; i++ {
		if bytes.Equal(c.at(i).addr, addr) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	// Re-home the queue without the matched entry: pop everything,
	// re-add all but the match. FIFO order is preserved.
	rest := make([]entry, 0, n-1)
	for i := 0; i < n; i++ {
		e := c.q.Remove().(entry)
		if i != idx {
			rest = append(rest, e)
		}
	}
	for _, e := range rest {
		c.q.Add(e)
	}
}

// Range calls fn for every cached address, oldest first.
func (c *AddrCache) Range(fn func(addr []byte)) {
	n := c.q.Length()
	for i := 0; i < n; i++ {
		fn(c.at(i).addr)
	}
}
