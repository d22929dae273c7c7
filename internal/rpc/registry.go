// Copyright 2026 The sgcore Authors. All rights reserved.

package rpc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sig-graph/sgcore/internal/rpcwire"
)

// Dispatchable is implemented by any Go value registered with a Server so
// it can be addressed by attribute path over the wire. sgcore prefers this
// explicit interface over reflection-driven attribute access: a registered
// type states exactly which attributes/methods are RPC-reachable, instead
// of exposing its whole Go surface.
type Dispatchable interface {
	// RPCGetAttr resolves a dotted/indexed attribute path to a value. want
	// tells the implementation which wire shape the caller prefers
	// (spec.md §4.2's auto/value/proxy/none return policy) — e.g. an
	// implementation backing a sub-object registers it with the owning
	// Server and returns a Proxy-kind Value when want is ReturnProxy or
	// ReturnAuto and the attribute is not plain data.
	RPCGetAttr(attrs []rpcwire.AttrStep, want ReturnPolicy) (rpcwire.Value, error)
	// RPCCall invokes the method named by the last attribute step with the
	// given positional/keyword arguments, honoring want the same way.
	RPCCall(attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, want ReturnPolicy) (rpcwire.Value, error)
}

// ErrUnknownObject is returned when a request names an obj_id the registry
// has no entry for (spec.md §4.1: "a stale proxy handle fails explicitly").
var ErrUnknownObject = fmt.Errorf("rpc: unknown object id")

type entry struct {
	obj      Dispatchable
	typeName string
	refCount int64
}

// Registry is a per-server-address object table with reference counting
// (spec.md §4.1 "Object registry"). Registration is by explicit Register
// call rather than on first proxy creation, matching the teacher's pattern
// of registering long-lived components once at startup
// (internal/server/server.go wiring its handlers into a single registry).
type Registry struct {
	mu      sync.Mutex
	objects map[uint64]*entry
	names   map[string]uint64
	nextID  atomic.Uint64
}

// NewRegistry creates an empty object registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[uint64]*entry), names: make(map[string]uint64)}
}

// Register adds obj under a freshly allocated object id with refcount 1 and
// returns that id.
func (r *Registry) Register(obj Dispatchable, typeName string) uint64 {
	id := r.nextID.Add(1)
	r.mu.Lock()
	r.objects[id] = &entry{obj: obj, typeName: typeName, refCount: 1}
	r.mu.Unlock()
	return id
}

// Lookup returns the Dispatchable registered under id, or ErrUnknownObject.
func (r *Registry) Lookup(id uint64) (Dispatchable, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.objects[id]
	if !ok {
		return nil, "", ErrUnknownObject
	}
	return e.obj, e.typeName, nil
}

// Retain increments the refcount of id, used when a proxy handle referring
// to it is duplicated across a transfer (spec.md §4.1). Proxy refcounting
// is off by default per spec.md's Open Question (b): nothing in sgcore
// calls Retain outside tests, while Release is called when a NodeGroup
// removes or closes its nodes and by the server's release action.
func (r *Registry) Retain(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.objects[id]
	if !ok {
		return ErrUnknownObject
	}
	e.refCount++
	return nil
}

// Release decrements the refcount of id and removes the entry once it
// drops to zero, returning whether removal happened.
func (r *Registry) Release(id uint64) (removed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.objects[id]
	if !ok {
		return false, ErrUnknownObject
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(r.objects, id)
		return true, nil
	}
	return false, nil
}

// Bind makes id additionally reachable under name by the top-level getitem
// action (spec.md §4.2 "getitem(name) — return the named top-level object
// registered at the server"), a namespace separate from the numeric ids
// Register hands out: a Host binds itself under "host", and each NodeGroup
// it creates is bound under its own name, so a client that only knows a
// name (not an id) can still resolve a proxy without a well-known constant
// for every kind of top-level object.
func (r *Registry) Bind(name string, id uint64) {
	r.mu.Lock()
	r.names[name] = id
	r.mu.Unlock()
}

// Unbind removes a name binding previously set by Bind, without touching
// the underlying object's refcount — used when the named object (e.g. a
// NodeGroup) is closed and its name should stop resolving via getitem.
func (r *Registry) Unbind(name string) {
	r.mu.Lock()
	delete(r.names, name)
	r.mu.Unlock()
}

// Named resolves a top-level object name bound via Bind to its object id.
func (r *Registry) Named(name string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.names[name]
	if !ok {
		return 0, fmt.Errorf("%w: name %q", ErrUnknownObject, name)
	}
	return id, nil
}

// ReleaseAll drops every entry in the registry, regardless of refcount —
// used on server shutdown (spec.md §4.2 action release_all).
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	r.objects = make(map[uint64]*entry)
	r.names = make(map[string]uint64)
	r.mu.Unlock()
}

// Len reports how many objects are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}
