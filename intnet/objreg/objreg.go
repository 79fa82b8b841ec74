// File: intnet/objreg/objreg.go
// Package objreg is the generic, refcounted object registry used to break
// the Network/Interface/Trunk reference cycle (spec §3.2, §9): "a
// refcount-based object registry; interfaces hold strong refs to the
// network; the network holds no strong refs to interfaces."
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handles are opaque xid.IDs (spec §6.1's request/reply handle table and
// this registry share the same identifier space) rather than raw pointers,
// so a session can hold a handle across RPC boundaries without keeping the
// Go object itself reachable from untrusted input.

package objreg

import (
	"sync"

	"github.com/rs/xid"
)

// Handle names one registered object.
type Handle = xid.ID

// entry pairs an object with its refcount and destructor. refs is
// protected by Registry.mu rather than made atomic: AddRef/Release always
// need the map lock anyway to guard the zero-refcount-delete race, so a
// second synchronization mechanism would buy nothing.
type entry[T any] struct {
	obj     T
	refs    int32
	destroy func(T)
}

// Registry is a generic, refcounted table of live objects of type T. One
// instantiation is used per concrete type (Registry[*iface.If],
// Registry[*boundIf], Registry[*scatterGather]) so destructors never need
// a type switch.
type Registry[T any] struct {
	mu      sync.Mutex
	objects map[Handle]*entry[T]
}

// New creates an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{objects: make(map[Handle]*entry[T])}
}

// Register inserts obj under a fresh handle with one reference held on the
// caller's behalf (the "creation" reference: the caller must Release it
// exactly once, typically when it destroys its own last strong pointer).
// destroy is invoked, outside the registry lock, the moment the refcount
// drops to zero.
func (r *Registry[T]) Register(obj T, destroy func(T)) Handle {
	h := xid.New()
	r.mu.Lock()
	r.objects[h] = &entry[T]{obj: obj, refs: 1, destroy: destroy}
	r.mu.Unlock()
	return h
}

// AddRef resolves h to its object and increments its refcount. Returns
// false if h is unknown (already destroyed or never registered).
func (r *Registry[T]) AddRef(h Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.objects[h]
	if !ok {
		var zero T
		return zero, false
	}
	e.refs++
	return e.obj, true
}

// Lookup resolves h without taking a reference. Safe only while the
// caller already holds a reference (directly or transitively) that keeps
// the object from being destroyed concurrently.
func (r *Registry[T]) Lookup(h Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.objects[h]
	if !ok {
		var zero T
		return zero, false
	}
	return e.obj, true
}

// Release drops one reference on h. When the count reaches zero the entry
// is removed and its destructor runs.
func (r *Registry[T]) Release(h Handle) {
	r.mu.Lock()
	e, ok := r.objects[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	dead := e.refs == 0
	if dead {
		delete(r.objects, h)
	}
	r.mu.Unlock()

	if dead && e.destroy != nil {
		e.destroy(e.obj)
	}
}

// RefCount reports h's current reference count, or 0 if h is unknown.
// Diagnostic only -- never gate logic on a value read outside the
// registry lock.
func (r *Registry[T]) RefCount(h Handle) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.objects[h]
	if !ok {
		return 0
	}
	return e.refs
}

// Len reports how many objects are currently live.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}
