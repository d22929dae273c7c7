// Copyright 2026 The sgcore Authors. All rights reserved.

package node

import (
	"fmt"
	"sync"

	"github.com/sig-graph/sgcore/internal/ring"
	"github.com/sig-graph/sgcore/internal/rpc"
	"github.com/sig-graph/sgcore/internal/rpcwire"
	"github.com/sig-graph/sgcore/internal/stream"
)

// Impl is the capability a concrete node type provides. The lifecycle
// methods receive the owning *Node so they can declare ports and read the
// current state; sgcore keeps this as a narrow interface rather than a
// base-class-style embedding, following the teacher's preference for small
// interfaces over shared mutable base state (internal/agent's scanner/
// streamer/throttle are each a standalone type wired together by
// daemon.go, not subclasses of one another).
type Impl interface {
	// Configure merges params into the node's configuration. Called once
	// per configure() request; may be called repeatedly while the node is
	// not yet initialized (spec.md §4.5 invariant: "_configure is
	// idempotent and repeatable before _initialize").
	Configure(n *Node, params map[string]rpcwire.Value) error
	// Initialize resolves and binds the node's declared ports. Called
	// exactly once, on the configured→initialized transition.
	Initialize(n *Node) error
	// Start begins production/consumption. Called on the
	// initialized→started transition.
	Start(n *Node) error
	// Stop halts production/consumption without releasing resources.
	// Called on the started→initialized transition.
	Stop(n *Node) error
}

// OutputPort is a node's named, owned stream.OutputStream.
type OutputPort struct {
	Name   string
	Spec   stream.Spec
	Stream *stream.OutputStream
}

// InputPort is a node's named stream.InputStream, unconnected until
// ConnectInput is called.
type InputPort struct {
	Name   string
	Spec   stream.Spec
	Stream *stream.InputStream
}

// ErrInvalidTransition is returned when a lifecycle call is attempted from
// a state that forbids it (spec.md §4.5 transition table).
var ErrInvalidTransition = fmt.Errorf("node: invalid lifecycle transition")

// ErrCloseWhileStarted is returned by Close when the node is still started
// (spec.md §4.5: "close on a started node must fail; stop it first").
var ErrCloseWhileStarted = fmt.Errorf("node: cannot close a started node, stop it first")

// Node wraps an Impl with lifecycle-state enforcement, port declarations,
// and RPC dispatch (Node implements rpc.Dispatchable so it can be
// registered directly with an rpc.Registry).
type Node struct {
	mu    sync.Mutex
	name  string
	impl  Impl
	state State

	outputs map[string]*OutputPort
	inputs  map[string]*InputPort
}

// New creates a Node in the created state, wrapping impl.
func New(name string, impl Impl) *Node {
	return &Node{
		name:    name,
		impl:    impl,
		state:   StateCreated,
		outputs: make(map[string]*OutputPort),
		inputs:  make(map[string]*InputPort),
	}
}

// Name returns the node's registered name.
func (n *Node) Name() string {
	return n.name
}

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// DeclareOutput registers an output port with its (possibly partial) spec.
// Valid only before Initialize; a second call for the same name replaces
// the pending spec (spec.md §4.5: "output specs may be revised across
// repeated configure calls").
func (n *Node) DeclareOutput(name string, spec stream.Spec) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateCreated && n.state != StateConfigured {
		return fmt.Errorf("%w: cannot declare output %q in state %v", ErrInvalidTransition, name, n.state)
	}
	n.outputs[name] = &OutputPort{Name: name, Spec: spec}
	return nil
}

// DeclareInput registers an input port with the spec this node expects to
// receive. Valid only before Initialize.
func (n *Node) DeclareInput(name string, spec stream.Spec) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateCreated && n.state != StateConfigured {
		return fmt.Errorf("%w: cannot declare input %q in state %v", ErrInvalidTransition, name, n.state)
	}
	n.inputs[name] = &InputPort{Name: name, Spec: spec}
	return nil
}

// Output returns the named output port, or nil if undeclared.
func (n *Node) Output(name string) *OutputPort {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.outputs[name]
}

// Input returns the named input port, or nil if undeclared.
func (n *Node) Input(name string) *InputPort {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inputs[name]
}

// Configure merges params into the node's configuration. Repeatable any
// number of times while the node has not been initialized yet.
func (n *Node) Configure(params map[string]rpcwire.Value) error {
	n.mu.Lock()
	if n.state != StateCreated && n.state != StateConfigured {
		n.mu.Unlock()
		return fmt.Errorf("%w: configure from state %v", ErrInvalidTransition, n.state)
	}
	n.mu.Unlock()

	if err := n.impl.Configure(n, params); err != nil {
		return fmt.Errorf("node %q: configure: %w", n.name, err)
	}

	n.mu.Lock()
	n.state = StateConfigured
	n.mu.Unlock()
	return nil
}

// Initialize binds every declared output port's transport/ring and freezes
// dtype/shape across the node. Valid only from configured.
func (n *Node) Initialize() error {
	n.mu.Lock()
	if n.state != StateConfigured {
		n.mu.Unlock()
		return fmt.Errorf("%w: initialize from state %v", ErrInvalidTransition, n.state)
	}
	n.mu.Unlock()

	if err := n.impl.Initialize(n); err != nil {
		return fmt.Errorf("node %q: initialize: %w", n.name, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for name, port := range n.outputs {
		if port.Stream != nil {
			continue // already bound by Impl.Initialize
		}
		out := stream.NewOutputStream()
		if err := out.Configure(port.Spec); err != nil {
			return fmt.Errorf("node %q: output %q: %w", n.name, name, err)
		}
		resolved, err := out.Initialize("127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("node %q: output %q: %w", n.name, name, err)
		}
		port.Spec = resolved
		port.Stream = out
	}
	n.state = StateInitialized
	return nil
}

// ConnectInput dials address and attaches it as the named input port's
// live stream. localRing is the producer's shared ring for sharedmem
// transfer (nil for plaindata). The resolved spec's frozen fields
// (dtype/per-sample shape) must match what the port declared, or the
// connection is rejected (spec.md §4.5: "an input port's frozen fields
// must match its declared spec once connected").
func (n *Node) ConnectInput(name, address string, localRing *ring.Buffer) error {
	n.mu.Lock()
	port, ok := n.inputs[name]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("node: no such input port %q", name)
	}

	in, err := stream.Connect(address, localRing)
	if err != nil {
		return fmt.Errorf("node: connecting input %q: %w", name, err)
	}
	if !in.Spec().FrozenEqual(port.Spec) {
		in.Close()
		return fmt.Errorf("node: input %q: resolved spec %+v does not match declared spec %+v", name, in.Spec(), port.Spec)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	port.Stream = in
	port.Spec = in.Spec()
	return nil
}

// Start begins the node's production/consumption. Valid only from
// initialized.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.state != StateInitialized {
		n.mu.Unlock()
		return fmt.Errorf("%w: start from state %v", ErrInvalidTransition, n.state)
	}
	n.mu.Unlock()

	if err := n.impl.Start(n); err != nil {
		return fmt.Errorf("node %q: start: %w", n.name, err)
	}

	n.mu.Lock()
	n.state = StateStarted
	n.mu.Unlock()
	return nil
}

// Stop halts the node without releasing its resources. Valid only from
// started.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.state != StateStarted {
		n.mu.Unlock()
		return fmt.Errorf("%w: stop from state %v", ErrInvalidTransition, n.state)
	}
	n.mu.Unlock()

	if err := n.impl.Stop(n); err != nil {
		return fmt.Errorf("node %q: stop: %w", n.name, err)
	}

	n.mu.Lock()
	n.state = StateInitialized
	n.mu.Unlock()
	return nil
}

// Close releases the node's bound ports. Fails if the node is still
// started (spec.md §4.5: stop before close).
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateStarted {
		return ErrCloseWhileStarted
	}
	for _, port := range n.outputs {
		if port.Stream != nil {
			port.Stream.Close()
		}
	}
	for _, port := range n.inputs {
		if port.Stream != nil {
			port.Stream.Close()
		}
	}
	n.state = StateCreated
	return nil
}

// RPCGetAttr implements rpc.Dispatchable, exposing a node's name and state
// as remotely readable attributes.
func (n *Node) RPCGetAttr(attrs []rpcwire.AttrStep, want rpc.ReturnPolicy) (rpcwire.Value, error) {
	if len(attrs) != 1 || attrs[0].IsIndex {
		return rpcwire.Value{}, fmt.Errorf("node: unknown attribute path %v", attrs)
	}
	switch attrs[0].Name {
	case "name":
		return rpcwire.String(n.Name()), nil
	case "state":
		return rpcwire.String(n.State().String()), nil
	default:
		return rpcwire.Value{}, fmt.Errorf("node: unknown attribute %q", attrs[0].Name)
	}
}

// RPCCall implements rpc.Dispatchable, exposing the lifecycle methods
// (configure/initialize/start/stop/close) as remotely callable.
func (n *Node) RPCCall(attrs []rpcwire.AttrStep, args []rpcwire.Value, kwargs map[string]rpcwire.Value, want rpc.ReturnPolicy) (rpcwire.Value, error) {
	if len(attrs) != 1 || attrs[0].IsIndex {
		return rpcwire.Value{}, fmt.Errorf("node: unknown method path %v", attrs)
	}
	switch attrs[0].Name {
	case "configure":
		params := map[string]rpcwire.Value{}
		if len(args) == 1 && args[0].Kind == rpcwire.KindMap {
			params = args[0].Map
		}
		return rpcwire.Nil(), n.Configure(params)
	case "initialize":
		return rpcwire.Nil(), n.Initialize()
	case "start":
		return rpcwire.Nil(), n.Start()
	case "stop":
		return rpcwire.Nil(), n.Stop()
	case "close":
		return rpcwire.Nil(), n.Close()
	default:
		return rpcwire.Value{}, fmt.Errorf("node: unknown method %q", attrs[0].Name)
	}
}
