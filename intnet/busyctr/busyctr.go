// File: intnet/busyctr/busyctr.go
// Package busyctr implements the per-object busy counter used to coordinate
// in-flight senders/receivers with deactivation and destruction
// (spec §3.2, §5, §9).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The counter is a 32-bit value: the low 30 bits count outstanding
// acquisitions, bit 30 is a wakeup-request flag set by a waiter so the
// final releaser knows to signal it (spec: "bit 30 reserved as the
// 'wakeup requested' flag"). Every interface and every trunk owns one of
// these; Network.Destroy, If.SetActive(false), If.Close and
// Trunk.DisconnectAndRelease call Quiesce on the relevant counters before
// touching what they protect.

package busyctr

import (
	"context"
	"sync/atomic"
)

// WakeupMask is the reserved "wakeup requested" bit (bit 30).
const WakeupMask uint32 = 1 << 30

// Counter is an atomic in-flight counter with a wakeup-request bit.
// Construct it with New: the zero value has no wake channel, so a Quiesce
// on it is never woken by Release.
type Counter struct {
	v    atomic.Uint32
	wake chan struct{}
}

// New returns a ready Counter.
func New() *Counter {
	return &Counter{wake: make(chan struct{}, 1)}
}

// Acquire increments the busy count and returns the new raw value. Callers
// must pair every Acquire with a Release, and must never dereference the
// object the counter guards once a busy reference has not yet been
// acquired.
func (c *Counter) Acquire() uint32 {
	return c.v.Add(1)
}

// Release decrements the busy count. If the result is exactly WakeupMask --
// meaning all real holders are gone and a waiter has set the flag -- it
// wakes whichever goroutine is blocked in Quiesce.
func (c *Counter) Release() {
	v := c.v.Add(^uint32(0))
	if v == WakeupMask {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// Count returns the current holder count, excluding the wakeup flag.
func (c *Counter) Count() uint32 {
	return c.v.Load() &^ WakeupMask
}

// Busy reports whether any Acquire is currently outstanding.
func (c *Counter) Busy() bool {
	return c.Count() != 0
}

// Quiesce blocks until the counter has no outstanding holders, setting the
// wakeup-request flag so the last Release knows to signal, then CASes the
// counter back to zero (spec §3.2 "Waiters set the flag with CAS and sleep
// ... until counter drops to exactly WAKEUP_MASK; final decrementer
// signals"). Returns ctx.Err() if ctx is cancelled first; the flag is left
// set in that case so a later Quiesce call can resume waiting.
func (c *Counter) Quiesce(ctx context.Context) error {
	for {
		cur := c.v.Load()
		if cur == 0 || cur == WakeupMask {
			if c.v.CompareAndSwap(cur, 0) {
				return nil
			}
			continue
		}
		c.v.CompareAndSwap(cur, cur|WakeupMask)
		select {
		case <-c.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
