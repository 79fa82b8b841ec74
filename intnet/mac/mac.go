// File: intnet/mac/mac.go
// Package mac defines the 6-byte Ethernet address type shared across the
// switch (spec §3.1).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mac

import "fmt"

// Size is the byte length of an Ethernet MAC address.
const Size = 6

// Addr is a 6-byte Ethernet MAC address.
type Addr [Size]byte

// Dummy is the placeholder MAC used before an interface's real address is
// learned: all bits set.
var Dummy = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Broadcast is the Ethernet broadcast destination; identical bit pattern to
// Dummy but kept distinct so call sites read intent, not coincidence.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// FromBytes copies a 6-byte slice into an Addr. Panics if b is shorter than
// Size -- callers must validate frame length first.
func FromBytes(b []byte) Addr {
	var a Addr
	copy(a[:], b[:Size])
	return a
}

// IsDummy reports whether a equals the all-ones placeholder address.
func (a Addr) IsDummy() bool {
	return a == Dummy
}

// IsMulticast reports whether the lowest bit of the first octet is set, the
// IEEE 802 convention for group addresses (which also covers broadcast).
func (a Addr) IsMulticast() bool {
	return a[0]&0x01 != 0
}

// IsZero reports whether every octet is zero.
func (a Addr) IsZero() bool {
	return a == Addr{}
}

// String renders the address as colon-separated hex, e.g. "52:54:00:12:34:56".
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}
