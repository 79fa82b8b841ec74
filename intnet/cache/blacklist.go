// File: intnet/cache/blacklist.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Blacklist is the per-network table of host-owned L3 addresses (spec
// §3.1, §4.2): addresses the trunk backend reports as belonging to the
// host stack itself, which must never be learned into any interface's
// AddrCache.

package cache

import "bytes"

// Blacklist holds host-owned addresses across all address families for
// one network. Same caller-holds-addrLock contract as AddrCache.
type Blacklist struct {
	entries map[entryKey][]byte
}

type entryKey struct {
	family int
	bucket string
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[entryKey][]byte)}
}

func keyOf(family int, addr []byte) entryKey {
	return entryKey{family: family, bucket: string(addr)}
}

// Add inserts addr as host-owned, reported by the trunk's
// notify_host_address(added=true) callback.
func (b *Blacklist) Add(family int, addr []byte) {
	b.entries[keyOf(family, addr)] = append([]byte(nil), addr...)
}

// Remove deletes addr, reported by notify_host_address(added=false).
func (b *Blacklist) Remove(family int, addr []byte) {
	delete(b.entries, keyOf(family, addr))
}

// ContainsFamily reports whether addr is blacklisted specifically for
// family.
func (b *Blacklist) ContainsFamily(family int, addr []byte) bool {
	v, ok := b.entries[keyOf(family, addr)]
	return ok && bytes.Equal(v, addr)
}
