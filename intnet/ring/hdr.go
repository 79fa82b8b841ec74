// File: intnet/ring/hdr.go
// Package ring implements the lock-free frame ring buffer described in
// spec §3.1 and §4.1: a single-producer/single-consumer byte ring carrying
// fixed-size headers that each describe a contiguous (post-padding)
// payload region.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ring

import "encoding/binary"

// HdrType is the frame-header type tag (spec §6.4): 1=Frame, 2=Gso,
// 3=Padding.
type HdrType uint32

const (
	HdrFrame   HdrType = 1
	HdrGso     HdrType = 2
	HdrPadding HdrType = 3
)

// HdrSize is the fixed, 8-byte-aligned size of a ring header: Type(4) +
// Len(4) + Off(4) + reserved(4).
const HdrSize = 16

// align8 rounds n up to the next multiple of 8, matching the "headers are
// 8-byte aligned" invariant (spec §3.1).
func align8(n uint32) uint32 {
	return (n + 7) &^ 7
}

// hdr is the decoded, in-memory view of a ring header. Off is the byte
// offset from the start of the header to the payload, allowing the Padding
// header's "payload" to simply be skipped forward.
type hdr struct {
	Type HdrType
	Len  uint32
	Off  int32
}

// putHdr encodes h at buf[pos:pos+HdrSize], little-endian (spec §6.4).
func putHdr(buf []byte, pos uint32, h hdr) {
	b := buf[pos : pos+HdrSize]
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Type))
	binary.LittleEndian.PutUint32(b[4:8], h.Len)
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.Off))
}

// getHdr decodes the header at buf[pos:pos+HdrSize].
func getHdr(buf []byte, pos uint32) hdr {
	b := buf[pos : pos+HdrSize]
	return hdr{
		Type: HdrType(binary.LittleEndian.Uint32(b[0:4])),
		Len:  binary.LittleEndian.Uint32(b[4:8]),
		Off:  int32(binary.LittleEndian.Uint32(b[8:12])),
	}
}

// GsoType enumerates the segmentation-offload frame kinds the switch can
// carry and fall back to software-segmenting (spec §4.9 "GSO fallback").
type GsoType uint8

const (
	GsoNone GsoType = iota
	GsoTCPv4
	GsoTCPv6
	GsoUDP
	gsoTypeCount
)

// GsoContext describes a GSO frame immediately following a Gso header
// (spec §3.1, §4.9): the segmentation type, the size of the unsegmented
// payload, the MTU to split to, and the header length to replicate per
// segment.
type GsoContext struct {
	Type       GsoType
	MTU        uint16
	HdrLen     uint16
	UnpaddedID uint32 // opaque to the ring; only its low 16 bits are stored
}

// gsoCtxSize is the on-wire size of GsoContext, 8-byte aligned.
const gsoCtxSize = 8

func putGsoCtx(buf []byte, pos uint32, c GsoContext) {
	b := buf[pos : pos+gsoCtxSize]
	b[0] = byte(c.Type)
	binary.LittleEndian.PutUint16(b[2:4], c.MTU)
	binary.LittleEndian.PutUint16(b[4:6], c.HdrLen)
	binary.LittleEndian.PutUint16(b[6:8], uint16(c.UnpaddedID))
}

func getGsoCtx(buf []byte, pos uint32) GsoContext {
	b := buf[pos : pos+gsoCtxSize]
	return GsoContext{
		Type:   GsoType(b[0]),
		MTU:    binary.LittleEndian.Uint16(b[2:4]),
		HdrLen: binary.LittleEndian.Uint16(b[4:6]),

		UnpaddedID: uint32(binary.LittleEndian.Uint16(b[6:8])),
	}
}

// IsValid reports whether the GSO type is within the known range and MTU
// is non-zero (spec §4.4 "gso_is_valid").
func (c GsoContext) IsValid() bool {
	return c.Type > GsoNone && c.Type < gsoTypeCount && c.MTU > 0
}
