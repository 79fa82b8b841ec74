// File: intnet/ring/ringbuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuf is the SPSC byte ring described in spec §3.1/§4.1. It operates on
// a caller-owned byte slice (the shared IntNetBuf region, spec §3.1) rather
// than allocating its own storage, so it can be positioned as one of the
// two rings (recv, send) inside a single mapped buffer.

package ring

import (
	"sync/atomic"

	"github.com/ringnet/intnetsw/api"
)

// RingBuf is a contiguous byte region with four cursors: Start/End are
// immutable after Init; Read/Write move under acquire/release semantics
// (spec §3.1). One producer calls Allocate/Commit; one consumer calls
// NextReadable/Skip.
type RingBuf struct {
	buf   []byte
	start uint32
	end   uint32

	write atomic.Uint32
	read  atomic.Uint32

	// Statistics: monotonic, 64-bit, advisory under concurrent read
	// (spec §5 "Sharing discipline").
	Frames    atomic.Uint64
	Bytes     atomic.Uint64
	Overflows atomic.Uint64
	BadFrames atomic.Uint64
	Yields    atomic.Uint64
	Lost      atomic.Uint64
}

// HeaderRef names a committed or in-flight header by its absolute byte
// offset within the shared region, for use with Commit/Skip.
type HeaderRef uint32

// Init binds the ring to buf[start:end). end-start must be large enough
// to hold at least one maximally sized frame plus its header; callers
// (IntNetBuf) size regions generously.
func (r *RingBuf) Init(buf []byte, start, end uint32) {
	r.buf = buf
	r.start = start
	r.end = end
	r.write.Store(start)
	r.read.Store(start)
}

func (r *RingBuf) span() uint32 { return r.end - r.start }

// Capacity returns the ring's total byte span, for the shared-region
// descriptor a transport hands back from IfGetBufferPtrs (spec §6.1).
func (r *RingBuf) Capacity() uint32 { return r.span() }

// ReadableBytes returns a snapshot of currently occupied bytes (spec §4.1).
func (r *RingBuf) ReadableBytes() uint32 {
	w := r.write.Load()
	rd := r.read.Load()
	return modSub(w, rd, r.span())
}

// WritableBytes returns a snapshot of free bytes, reserving one byte so
// off_write can never advance onto off_read (disambiguates full vs empty).
func (r *RingBuf) WritableBytes() uint32 {
	span := r.span()
	return span - r.ReadableBytes() - 1
}

func modSub(a, b, span uint32) uint32 {
	return (a - b) % span
}

// Allocate reserves space for a Frame header plus an 8-byte-aligned
// payload of length n, wrapping with a Padding header if the tail of the
// ring lacks room (spec §4.1 "Algorithm"). It returns the header's
// location and a slice into the shared buffer the caller must fill before
// Commit.
func (r *RingBuf) Allocate(n uint32) (HeaderRef, []byte, error) {
	return r.allocate(HdrFrame, n, 0)
}

// AllocateGso is Allocate for a frame carrying a GsoContext immediately
// after the header (spec §4.1, §3.1).
func (r *RingBuf) AllocateGso(n uint32, ctx GsoContext) (HeaderRef, []byte, error) {
	ref, payload, err := r.allocate(HdrGso, n, gsoCtxSize)
	if err != nil {
		return 0, nil, err
	}
	putGsoCtx(r.buf, uint32(ref)+HdrSize, ctx)
	return ref, payload, nil
}

func (r *RingBuf) allocate(typ HdrType, n, extra uint32) (HeaderRef, []byte, error) {
	need := align8(HdrSize + extra + n)
	span := r.span()
	if need > span-1 {
		r.Overflows.Add(1)
		return 0, nil, api.ErrNoMemory
	}

	write := r.write.Load()
	tail := r.end - write

	if tail < need || (tail > need && tail-need < HdrSize) {
		// Not enough room before the physical end, or the frame would
		// leave a remainder too small for a padding header: pad the tail
		// and restart at start, provided the wrap target plus needed
		// space actually fits (spec §4.1). The padded tail bytes are
		// wasted, so the free-space check must cover both the padding
		// and the new allocation.
		if r.WritableBytes() < tail+need {
			r.Overflows.Add(1)
			return 0, nil, api.ErrNoMemory
		}
		if tail >= HdrSize {
			putHdr(r.buf, write, hdr{Type: HdrPadding, Len: tail - HdrSize, Off: HdrSize})
		} else if tail > 0 {
			// Not even room for a padding header. The condition above
			// keeps every frame ending either at r.end or at least
			// HdrSize before it, so this is not reached; if it were, the
			// allocation is refused as an overflow.
			r.Overflows.Add(1)
			return 0, nil, api.ErrNoMemory
		}
		write = r.start
	} else if r.WritableBytes() < need {
		r.Overflows.Add(1)
		return 0, nil, api.ErrNoMemory
	}

	ref := HeaderRef(write)
	putHdr(r.buf, write, hdr{Type: typ, Len: n, Off: int32(HdrSize + extra)})
	payloadStart := write + HdrSize + extra
	payload := r.buf[payloadStart : payloadStart+n]
	return ref, payload, nil
}

// pendingWrite tracks, per allocation, where off_write must land on
// Commit -- computed from the header just written so Commit needs no
// extra bookkeeping structure.
func (r *RingBuf) pendingWrite(ref HeaderRef) uint32 {
	h := getHdr(r.buf, uint32(ref))
	end := uint32(ref) + align8(uint32(h.Off)+h.Len)
	if end > r.end {
		end = r.end
	}
	if end == r.end {
		return r.start
	}
	return end
}

// Commit release-stores the new off_write past the frame at ref. Payload
// writes must happen-before Commit (spec §4.1).
func (r *RingBuf) Commit(ref HeaderRef) {
	next := r.pendingWrite(ref)
	r.Frames.Add(1)
	h := getHdr(r.buf, uint32(ref))
	r.Bytes.Add(uint64(h.Len))
	r.write.Store(next)
}

// NextReadable returns the next non-Padding header, silently skipping and
// consuming any Padding headers in place (spec §4.1). ok is false when the
// ring is empty.
func (r *RingBuf) NextReadable() (HeaderRef, bool) {
	for {
		read := r.read.Load()
		write := r.write.Load()
		if read == write {
			return 0, false
		}
		h := getHdr(r.buf, read)
		switch h.Type {
		case HdrPadding:
			r.read.Store(r.start)
		case HdrFrame, HdrGso:
			return HeaderRef(read), true
		default:
			// Corrupted header: count and skip as if Padding (spec §4.1
			// "Failure modes").
			r.BadFrames.Add(1)
			next := r.start
			if uint32(read)+HdrSize < r.end {
				next = uint32(read) + HdrSize
			}
			r.read.Store(next)
		}
	}
}

// Skip release-stores off_read past the header at ref.
func (r *RingBuf) Skip(ref HeaderRef) {
	h := getHdr(r.buf, uint32(ref))
	next := uint32(ref) + align8(uint32(h.Off)+h.Len)
	if next >= r.end {
		next = r.start
	}
	r.read.Store(next)
}

// Header exposes the decoded header at ref for readers that need Type/Len
// (e.g. the trunk GSO path).
func (r *RingBuf) Header(ref HeaderRef) (typ HdrType, length uint32) {
	h := getHdr(r.buf, uint32(ref))
	return h.Type, h.Len
}

// Payload returns the payload slice for the frame at ref.
func (r *RingBuf) Payload(ref HeaderRef) []byte {
	h := getHdr(r.buf, uint32(ref))
	start := uint32(ref) + uint32(h.Off)
	return r.buf[start : start+h.Len]
}

// GsoContext returns the GSO descriptor for a Gso-typed header at ref.
func (r *RingBuf) GsoContext(ref HeaderRef) GsoContext {
	return getGsoCtx(r.buf, uint32(ref)+HdrSize)
}

// Reset rewinds both cursors to start, discarding all queued frames. Used
// only when an interface is freshly (re)opened.
func (r *RingBuf) Reset() {
	r.write.Store(r.start)
	r.read.Store(r.start)
}
