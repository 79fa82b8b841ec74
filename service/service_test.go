// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package service

import (
	"context"
	"testing"

	"github.com/rs/xid"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/mac"
	"github.com/ringnet/intnetsw/intnet/network"
)

func newTestService() *Service {
	return New(network.NewManager(nil))
}

func TestOpenReturnsUsableHandle(t *testing.T) {
	s := newTestService()
	session := xid.New()

	reply, err := s.Open(context.Background(), session, OpenRequest{
		NetworkName: "lan0",
		TrunkType:   api.TrunkNone,
		CbSend:      4096,
		CbRecv:      4096,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reply.Joined {
		t.Fatalf("Joined = true on first Open, want false")
	}

	if err := s.IfSetPromiscuous(session, reply.IfHandle, true); err != nil {
		t.Fatalf("IfSetPromiscuous: %v", err)
	}
}

func TestOpenReportsJoinOnSecondSession(t *testing.T) {
	s := newTestService()
	s1, s2 := xid.New(), xid.New()

	req := OpenRequest{NetworkName: "lan0", TrunkType: api.TrunkNone, CbSend: 4096, CbRecv: 4096}
	if _, err := s.Open(context.Background(), s1, req); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	reply, err := s.Open(context.Background(), s2, req)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if !reply.Joined {
		t.Fatalf("Joined = false on second Open of the same network, want true")
	}
}

func TestIfOpsRefuseWrongSession(t *testing.T) {
	s := newTestService()
	owner, other := xid.New(), xid.New()

	reply, err := s.Open(context.Background(), owner, OpenRequest{NetworkName: "lan0", TrunkType: api.TrunkNone, CbSend: 4096, CbRecv: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.IfSetPromiscuous(other, reply.IfHandle, true); err != api.ErrInvalidHandle {
		t.Fatalf("IfSetPromiscuous with wrong session = %v, want ErrInvalidHandle", err)
	}
	if err := s.IfSetMacAddress(other, reply.IfHandle, mac.Addr{2, 0, 0, 0, 0, 1}); err != api.ErrInvalidHandle {
		t.Fatalf("IfSetMacAddress with wrong session = %v, want ErrInvalidHandle", err)
	}
}

func TestIfCloseReleasesHandle(t *testing.T) {
	s := newTestService()
	session := xid.New()

	reply, err := s.Open(context.Background(), session, OpenRequest{NetworkName: "lan0", TrunkType: api.TrunkNone, CbSend: 4096, CbRecv: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.IfClose(context.Background(), session, reply.IfHandle); err != nil {
		t.Fatalf("IfClose: %v", err)
	}
	if err := s.IfSetPromiscuous(session, reply.IfHandle, true); err != api.ErrInvalidHandle {
		t.Fatalf("IfSetPromiscuous after close = %v, want ErrInvalidHandle", err)
	}
}

func TestIfCloseUnknownHandleIsInvalidHandle(t *testing.T) {
	s := newTestService()
	if err := s.IfClose(context.Background(), xid.New(), xid.New()); err != api.ErrInvalidHandle {
		t.Fatalf("IfClose unknown handle = %v, want ErrInvalidHandle", err)
	}
}

func TestIfGetBufferPtrsReportsNonZeroCapacity(t *testing.T) {
	s := newTestService()
	session := xid.New()

	reply, err := s.Open(context.Background(), session, OpenRequest{NetworkName: "lan0", TrunkType: api.TrunkNone, CbSend: 4096, CbRecv: 8192})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ptrs, err := s.IfGetBufferPtrs(session, reply.IfHandle)
	if err != nil {
		t.Fatalf("IfGetBufferPtrs: %v", err)
	}
	if ptrs.RecvCapacity == 0 || ptrs.SendCapacity == 0 {
		t.Fatalf("IfGetBufferPtrs returned zero capacity: %+v", ptrs)
	}
}

func TestIfWaitAbortedReturnsSemDestroyed(t *testing.T) {
	s := newTestService()
	session := xid.New()

	reply, err := s.Open(context.Background(), session, OpenRequest{NetworkName: "lan0", TrunkType: api.TrunkNone, CbSend: 4096, CbRecv: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.IfAbortWait(session, reply.IfHandle, true); err != nil {
		t.Fatalf("IfAbortWait: %v", err)
	}
	if err := s.IfWait(context.Background(), session, reply.IfHandle); err != api.ErrSemDestroyed {
		t.Fatalf("IfWait after AbortWait(true) = %v, want ErrSemDestroyed", err)
	}
}
