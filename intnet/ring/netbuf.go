// File: intnet/ring/netbuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IntNetBuf is the per-interface shared region (spec §3.1): a small
// statistics header followed by two RingBufs, Recv (core->client) and Send
// (client->core). In this single-process Go module there is no real cross
// address-space mapping; IntNetBuf models the same contract (one shared
// struct, concurrently touched only via the ring cursors' atomics) so the
// ordering guarantees of spec §5 hold without a syscall per frame.

package ring

// DefaultRingSize is the default capacity of each of the two rings, large
// enough to hold a handful of MTU-sized frames (spec §8 scenario 6 uses
// 4096 explicitly for overflow testing).
const DefaultRingSize = 256 * 1024

// IntNetBuf is the shared buffer mapped (conceptually) into both the core
// and the client. Recv carries core->client frames; Send carries
// client->core frames.
type IntNetBuf struct {
	Recv RingBuf
	Send RingBuf

	recvData []byte
	sendData []byte
}

// NewIntNetBuf allocates both rings with the given per-ring byte capacity.
func NewIntNetBuf(ringSize uint32) *IntNetBuf {
	if ringSize == 0 {
		ringSize = DefaultRingSize
	}
	b := &IntNetBuf{
		recvData: make([]byte, ringSize),
		sendData: make([]byte, ringSize),
	}
	b.Recv.Init(b.recvData, 0, ringSize)
	b.Send.Init(b.sendData, 0, ringSize)
	return b
}

// Stats is a point-in-time snapshot of both rings' monotonic counters,
// corresponding to the "small statistics header" of spec §3.1.
type Stats struct {
	RecvFrames, RecvBytes, RecvOverflows, RecvBadFrames, RecvYields, RecvLost uint64
	SendFrames, SendBytes, SendOverflows, SendBadFrames, SendYields, SendLost uint64
}

// Snapshot reads all counters. Cross-thread reads may be torn and are
// advisory only (spec §5).
func (b *IntNetBuf) Snapshot() Stats {
	return Stats{
		RecvFrames: b.Recv.Frames.Load(), RecvBytes: b.Recv.Bytes.Load(),
		RecvOverflows: b.Recv.Overflows.Load(), RecvBadFrames: b.Recv.BadFrames.Load(),
		RecvYields: b.Recv.Yields.Load(), RecvLost: b.Recv.Lost.Load(),
		SendFrames: b.Send.Frames.Load(), SendBytes: b.Send.Bytes.Load(),
		SendOverflows: b.Send.Overflows.Load(), SendBadFrames: b.Send.BadFrames.Load(),
		SendYields: b.Send.Yields.Load(), SendLost: b.Send.Lost.Load(),
	}
}
