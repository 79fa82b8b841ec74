// File: intnet/network/dstpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// dstTabPool is this package's rendering of the trunk's per-CPU and
// task-context destination-table pools (spec §3.1 "Trunk" owns "per-CPU
// interrupt-context destination-table slots, two task-context destination-
// table slots"; §4.9 recv: "taken from the per-CPU pool ... the task pool
// otherwise, or allocated on the fly as last resort; always returned to
// the pool afterwards").
//
// Go goroutines have no fixed CPU of execution and no notion of disabled
// preemption, so the per-CPU array becomes a round-robin pool sized to
// GOMAXPROCS; the task pool stays a small fixed-size fallback exactly as
// in the original.

package network

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ringnet/intnetsw/intnet/mactab"
)

type dstTabPool struct {
	mu     sync.Mutex
	round  []*mactab.DstTab[ifHandle]
	task   []*mactab.DstTab[ifHandle]
	cursor uint64
}

func newDstTabPool() *dstTabPool {
	return &dstTabPool{
		round: make([]*mactab.DstTab[ifHandle], runtime.GOMAXPROCS(0)),
		task:  make([]*mactab.DstTab[ifHandle], 2),
	}
}

// acquire returns a reset, ready-to-use scratch table, preferring the
// round-robin pool before falling back to the task pool and finally to an
// on-the-fly allocation.
func (p *dstTabPool) acquire() *mactab.DstTab[ifHandle] {
	idx := int(atomic.AddUint64(&p.cursor, 1)) % len(p.round)

	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.round[idx]; t != nil {
		p.round[idx] = nil
		return t
	}
	for i, t := range p.task {
		if t != nil {
			p.task[i] = nil
			return t
		}
	}
	return mactab.NewDstTab[ifHandle](mactab.GrowStep)
}

// release resets dst and returns it to whichever slot is free, or drops it
// if every slot is already occupied (the pool is sized for the steady
// state, not a hard cap).
func (p *dstTabPool) release(dst *mactab.DstTab[ifHandle]) {
	dst.Reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.round {
		if t == nil {
			p.round[i] = dst
			return
		}
	}
	for i, t := range p.task {
		if t == nil {
			p.task[i] = dst
			return
		}
	}
}
