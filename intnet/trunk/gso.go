// File: intnet/trunk/gso.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Software GSO fallback: carving an unsegmented frame into MTU-sized
// segments when the backend lacks hardware support for its type (spec
// §4.9 "GSO fallback").

package trunk

import "encoding/binary"

// headerScratchSize is the per-interface GSO header-carving buffer size
// (spec §4.9 "net_gso_carve_segment into a per-interface 256-byte header
// buffer").
const headerScratchSize = 256

// carveGsoSegments splits an unsegmented GSO frame into frames of at most
// mtu bytes of payload each, replicating the first hdrLen bytes (the
// Ethernet/IP/transport header) onto every segment. Checksum recomputation
// is left to the backend: real GSO-capable NICs offload it in hardware
// even for software-carved segments, and this module has no transport
// stack to recompute TCP sequence numbers against.
func carveGsoSegments(frame []byte, hdrLen, mtu uint16) [][]byte {
	if mtu == 0 || int(hdrLen) >= len(frame) {
		return [][]byte{frame}
	}

	var hdrBuf [headerScratchSize]byte
	n := copy(hdrBuf[:], frame[:hdrLen])
	header := hdrBuf[:n]
	payload := frame[hdrLen:]

	segments := make([][]byte, 0, (len(payload)+int(mtu)-1)/int(mtu))
	for off := 0; off < len(payload); off += int(mtu) {
		end := off + int(mtu)
		if end > len(payload) {
			end = len(payload)
		}
		seg := make([]byte, 0, len(header)+end-off)
		seg = append(seg, header...)
		seg = append(seg, payload[off:end]...)
		fixupIPv4TotalLength(seg, len(header))
		segments = append(segments, seg)
	}
	return segments
}

// fixupIPv4TotalLength patches an IPv4 segment's total-length field to
// match its actual carved size -- the one header field every segment must
// get right regardless of the transport riding on top of it.
func fixupIPv4TotalLength(seg []byte, hdrLen int) {
	if hdrLen < 14+20 || len(seg) < 14+4 {
		return
	}
	if binary.BigEndian.Uint16(seg[12:14]) != 0x0800 {
		return
	}
	binary.BigEndian.PutUint16(seg[14+2:14+4], uint16(len(seg)-14))
}
