// Copyright 2026 The sgcore Authors. All rights reserved.

// Package nodegroup implements the per-process node registry and type
// factory (spec.md §4.6): one NodeGroup owns every Node instantiated in
// its process, enforces unique node names, and exposes itself as an RPC
// target so a remote Manager can create/remove/inspect nodes.
package nodegroup

import (
	"fmt"
	"sync"

	"github.com/sig-graph/sgcore/internal/node"
	"github.com/sig-graph/sgcore/internal/rpc"
	"github.com/sig-graph/sgcore/internal/rpcwire"
)

// Factory builds a fresh node.Impl for a registered type name.
type Factory func() node.Impl

// ErrNodeRunning is returned by RemoveNode when the node is still started
// (spec.md §4.6: "a node cannot be removed while started").
var ErrNodeRunning = fmt.Errorf("nodegroup: node is still started")

// ErrDuplicateName is returned by CreateNode when the requested name is
// already registered (spec.md §4.6: "node names are unique within a
// NodeGroup").
var ErrDuplicateName = fmt.Errorf("nodegroup: node name already exists")

// ErrUnknownType is returned when CreateNode names a type that was never
// registered via RegisterType.
var ErrUnknownType = fmt.Errorf("nodegroup: unknown node type")

// NodeGroup owns a set of uniquely-named nodes within one process.
type NodeGroup struct {
	mu       sync.Mutex
	name     string
	types    map[string]Factory
	nodes    map[string]*node.Node
	nodeIDs  map[string]uint64

	// registry and address let CreateNode register each Node it creates
	// and hand back a proxy pointing at it, so a remote Manager can drive
	// configure/initialize/start/stop on the node directly instead of only
	// ever reaching it indirectly through the owning NodeGroup (spec.md
	// §4.6(d): "each created node is referenceable by proxy").
	registry *rpc.Registry
	address  string
}

// New creates an empty NodeGroup whose created Nodes are registered against
// registry (the same Registry the NodeGroup itself is registered in, see
// internal/host.Host.CreateNodeGroup) so each one can be returned to a
// caller as a proxy. address is the owning Host's bound RPC address,
// embedded in every proxy record CreateNode returns.
func New(name string, registry *rpc.Registry, address string) *NodeGroup {
	return &NodeGroup{
		name:     name,
		types:    make(map[string]Factory),
		nodes:    make(map[string]*node.Node),
		nodeIDs:  make(map[string]uint64),
		registry: registry,
		address:  address,
	}
}

// Name returns the NodeGroup's name.
func (g *NodeGroup) Name() string {
	return g.name
}

// RegisterType makes typeName available to CreateNode, analogous to the
// teacher's capability registration at startup (each of internal/agent's
// collaborators is constructed once and wired by name into daemon.go);
// here the wiring point is a NodeGroup instead of a daemon.
func (g *NodeGroup) RegisterType(typeName string, factory Factory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.types[typeName] = factory
}

// ListNodeTypes returns every registered type name.
func (g *NodeGroup) ListNodeTypes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.types))
	for t := range g.types {
		out = append(out, t)
	}
	return out
}

// CreateNode instantiates typeName under the unique name and returns it.
func (g *NodeGroup) CreateNode(name, typeName string) (*node.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	factory, ok := g.types[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}

	n := node.New(name, factory())
	g.nodes[name] = n
	if g.registry != nil {
		g.nodeIDs[name] = g.registry.Register(n, "node")
	}
	return n, nil
}

// NodeProxy returns the proxy record for the named node, registered when it
// was created. ok is false if the name is unknown or the NodeGroup has no
// registry attached.
func (g *NodeGroup) NodeProxy(name string) (rec *rpcwire.ProxyRecord, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.registry == nil {
		return nil, false
	}
	id, exists := g.nodeIDs[name]
	if !exists {
		return nil, false
	}
	return &rpcwire.ProxyRecord{Address: g.address, ObjID: id, TypeName: "node"}, true
}

// RemoveNode deletes a node from the group. It is an error to remove a
// started node (stop it first).
func (g *NodeGroup) RemoveNode(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[name]
	if !ok {
		return fmt.Errorf("nodegroup: no such node %q", name)
	}
	if n.State() == node.StateStarted {
		return fmt.Errorf("%w: %q", ErrNodeRunning, name)
	}
	delete(g.nodes, name)
	if g.registry != nil {
		if id, ok := g.nodeIDs[name]; ok {
			g.registry.Release(id)
			delete(g.nodeIDs, name)
		}
	}
	return nil
}

// Node returns the named node, or nil if it does not exist.
func (g *NodeGroup) Node(name string) *node.Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[name]
}

// AnyNodeRunning reports whether at least one node in the group is
// started (spec.md §4.6). Close does not consult it; it checks each
// node's state itself.
func (g *NodeGroup) AnyNodeRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		if n.State() == node.StateStarted {
			return true
		}
	}
	return false
}

// Close stops every started node and closes every node in the group.
// Unlike RemoveNode, Close tears everything down unconditionally — it is
// the group's own shutdown path, not a request to remove one node while
// others keep running.
func (g *NodeGroup) Close() error {
	g.mu.Lock()
	nodes := make([]*node.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	g.nodes = make(map[string]*node.Node)
	if g.registry != nil {
		for _, id := range g.nodeIDs {
			g.registry.Release(id)
		}
	}
	g.nodeIDs = make(map[string]uint64)
	g.mu.Unlock()

	var firstErr error
	for _, n := range nodes {
		if n.State() == node.StateStarted {
			if err := n.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if n.State() != node.StateCreated {
			if err := n.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RPCGetAttr implements rpc.Dispatchable.
func (g *NodeGroup) RPCGetAttr(attrs []rpcwire.AttrStep, want rpc.ReturnPolicy) (rpcwire.Value, error) {
	if len(attrs) != 1 || attrs[0].IsIndex {
		return rpcwire.Value{}, fmt.Errorf("nodegroup: unknown attribute path %v", attrs)
	}
	switch attrs[0].Name {
	case "name":
		return rpcwire.String(g.Name()), nil
	case "node_types":
		types := g.ListNodeTypes()
		vals := make([]rpcwire.Value, len(types))
		for i, t := range types {
			vals[i] = rpcwire.String(t)
		}
		return rpcwire.Slice(vals), nil
	case "any_node_running":
		return rpcwire.Bool(g.AnyNodeRunning()), nil
	default:
		return rpcwire.Value{}, fmt.Errorf("nodegroup: unknown attribute %q", attrs[0].Name)
	}
}

// RPCCall implements rpc.Dispatchable, exposing create_node/remove_node/
// close as remotely callable (spec.md §4.6).
func (g *NodeGroup) RPCCall(attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, want rpc.ReturnPolicy) (rpcwire.Value, error) {
	if len(attrs) != 1 || attrs[0].IsIndex {
		return rpcwire.Value{}, fmt.Errorf("nodegroup: unknown method path %v", attrs)
	}
	switch attrs[0].Name {
	case "create_node":
		if len(args) != 2 {
			return rpcwire.Value{}, fmt.Errorf("nodegroup: create_node wants (name, type_name)")
		}
		n, err := g.CreateNode(args[0].Str, args[1].Str)
		if err != nil {
			return rpcwire.Value{}, err
		}
		rec, ok := g.NodeProxy(n.Name())
		if !ok {
			return rpcwire.Value{}, fmt.Errorf("nodegroup: node %q has no registry binding", n.Name())
		}
		return rpcwire.FromProxy(rec), nil
	case "remove_node":
		if len(args) != 1 {
			return rpcwire.Value{}, fmt.Errorf("nodegroup: remove_node wants (name)")
		}
		return rpcwire.Nil(), g.RemoveNode(args[0].Str)
	case "close":
		return rpcwire.Nil(), g.Close()
	default:
		return rpcwire.Value{}, fmt.Errorf("nodegroup: unknown method %q", attrs[0].Name)
	}
}
