// File: service/service.go
// Package service implements the client-facing request/reply surface
// (spec §6.1): a locked handle table keyed by opaque session and
// interface handles, dispatching the nine Open/IfXxx opcodes onto
// intnet/network and intnet/iface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The transport that carries these requests (a direct syscall path or an
// IPC/XPC daemon wrapper) is out of scope (spec §1); Service only defines
// the request/reply Go types and their validation/dispatch semantics so a
// transport can be wired in without touching the switching core.

package service

import (
	"context"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/ringnet/intnetsw/api"
	"github.com/ringnet/intnetsw/intnet/iface"
	"github.com/ringnet/intnetsw/intnet/mac"
	"github.com/ringnet/intnetsw/intnet/network"
	"github.com/ringnet/intnetsw/intnet/objreg"
	"github.com/ringnet/intnetsw/intnet/ring"
)

// Handle is the opaque if_handle returned by Open and carried on every
// subsequent IfXxx request, sharing its identifier space with
// intnet/objreg's own handles (spec §6.1, §9).
type Handle = xid.ID

// SessionID is the opaque session identifier the transport attaches to
// every request (spec §6.1: "carries a session identifier, opaque to the
// core"). The service never inspects it beyond matching it against the
// session that opened a given handle.
type SessionID = xid.ID

// boundIf is one entry in the handle table: the live interface plus the
// session that opened it, so every IfXxx request can be checked against
// the session that originally ran Open.
type boundIf struct {
	session SessionID
	ifc     *iface.If
}

// Service is the top-level request dispatcher. One Service wraps one
// Manager; multiple independent test harnesses may run their own Service
// over their own Manager without interfering.
type Service struct {
	mgr     *network.Manager
	handles *objreg.Registry[*boundIf]
	log     *logrus.Entry
}

// New constructs a Service dispatching Open's network creation/joining
// through mgr.
func New(mgr *network.Manager) *Service {
	return &Service{
		mgr:     mgr,
		handles: objreg.New[*boundIf](),
		log:     logrus.WithField("component", "service"),
	}
}

// lookup resolves handle to its bound interface, refusing it if session
// does not match the session that opened it (spec §6.1: "validates the
// session and looks up handles via a locked handle table").
func (s *Service) lookup(session SessionID, h Handle) (*boundIf, error) {
	b, ok := s.handles.Lookup(h)
	if !ok || b.session != session {
		return nil, api.ErrInvalidHandle
	}
	return b, nil
}

// OpenRequest is the Open opcode's payload (spec §6.1).
type OpenRequest struct {
	NetworkName string
	TrunkType   api.TrunkType
	TrunkName   string
	Flags       api.NetFlags
	// CbSend/CbRecv are the client's requested send/recv ring sizes in
	// bytes. IntNetBuf allocates one size for both rings (intnet/ring);
	// the larger of the two is used, a documented simplification (see
	// DESIGN.md) rather than splitting IntNetBuf into independently sized
	// regions.
	CbSend uint32
	CbRecv uint32
}

// OpenReply is the Open opcode's reply (spec §6.1).
type OpenReply struct {
	IfHandle Handle
	// Joined is true when an existing network was joined rather than
	// created (spec §6.1: "Success may return AlreadyInitialized
	// indicating an existing network was joined").
	Joined bool
}

// Open implements spec §6.1's Open opcode: resolves or creates the named
// network, adds a new interface to it, and binds the resulting handle to
// session.
func (s *Service) Open(ctx context.Context, session SessionID, req OpenRequest) (OpenReply, error) {
	n, err := s.mgr.OpenOrCreate(ctx, req.NetworkName, req.TrunkType, req.TrunkName, req.Flags)
	if err != nil {
		return OpenReply{}, err
	}
	// Joined is informational only (spec §6.1: "Success may return
	// AlreadyInitialized"), so a best-effort check -- whether the network
	// already had at least one interface before ours -- is enough; it is
	// never used to gate correctness.
	joined := len(n.Interfaces()) > 0

	ringSize := req.CbSend
	if req.CbRecv > ringSize {
		ringSize = req.CbRecv
	}
	ifc, err := n.AddInterface(ringSize)
	if err != nil {
		return OpenReply{}, err
	}

	h := s.handles.Register(&boundIf{session: session, ifc: ifc}, func(*boundIf) {})
	s.log.WithFields(logrus.Fields{"network": req.NetworkName, "joined": joined}).Info("open")
	return OpenReply{IfHandle: h, Joined: joined}, nil
}

// IfClose implements spec §6.1's IfClose opcode: closes the interface and
// releases the service's own handle-table entry.
func (s *Service) IfClose(ctx context.Context, session SessionID, h Handle) error {
	b, err := s.lookup(session, h)
	if err != nil {
		return err
	}
	if err := b.ifc.Close(ctx); err != nil {
		return err
	}
	s.handles.Release(h)
	return nil
}

// BufferPtrs is IfGetBufferPtrs' reply payload: in this single-process
// module there is no separate address space to map into, so the "shared
// region descriptor" of spec §6.1 is the IntNetBuf pointer itself plus its
// two ring capacities, which a future shared-memory transport can
// translate into whatever descriptor (fd, mmap offset) it needs.
type BufferPtrs struct {
	Buf          *ring.IntNetBuf
	RecvCapacity uint32
	SendCapacity uint32
}

// IfGetBufferPtrs implements spec §6.1's IfGetBufferPtrs opcode.
func (s *Service) IfGetBufferPtrs(session SessionID, h Handle) (BufferPtrs, error) {
	b, err := s.lookup(session, h)
	if err != nil {
		return BufferPtrs{}, err
	}
	buf := b.ifc.Buffer()
	return BufferPtrs{
		Buf:          buf,
		RecvCapacity: buf.Recv.Capacity(),
		SendCapacity: buf.Send.Capacity(),
	}, nil
}

// IfSetPromiscuous implements spec §6.1's IfSetPromiscuous opcode.
func (s *Service) IfSetPromiscuous(session SessionID, h Handle, on bool) error {
	b, err := s.lookup(session, h)
	if err != nil {
		return err
	}
	return b.ifc.SetPromiscuous(on)
}

// IfSetMacAddress implements spec §6.1's IfSetMacAddress opcode.
func (s *Service) IfSetMacAddress(session SessionID, h Handle, m mac.Addr) error {
	b, err := s.lookup(session, h)
	if err != nil {
		return err
	}
	return b.ifc.SetMacAddress(m)
}

// IfSetActive implements spec §6.1's IfSetActive opcode.
func (s *Service) IfSetActive(ctx context.Context, session SessionID, h Handle, on bool) error {
	b, err := s.lookup(session, h)
	if err != nil {
		return err
	}
	return b.ifc.SetActive(ctx, on)
}

// IfSend implements spec §6.1's IfSend opcode: drains the interface's send
// ring. Retryable with ErrTryAgain, per the notes column, when the switch
// refuses a trunk direction from this calling context.
func (s *Service) IfSend(ctx context.Context, session SessionID, h Handle) error {
	b, err := s.lookup(session, h)
	if err != nil {
		return err
	}
	return b.ifc.Send(ctx)
}

// IfWait implements spec §6.1's IfWait opcode.
func (s *Service) IfWait(ctx context.Context, session SessionID, h Handle) error {
	b, err := s.lookup(session, h)
	if err != nil {
		return err
	}
	return b.ifc.Wait(ctx)
}

// IfAbortWait implements spec §6.1's IfAbortWait opcode.
func (s *Service) IfAbortWait(session SessionID, h Handle, noMoreWaits bool) error {
	b, err := s.lookup(session, h)
	if err != nil {
		return err
	}
	b.ifc.AbortWait(noMoreWaits)
	return nil
}
