// Copyright 2026 The sgcore Authors. All rights reserved.

// Package rpc implements the object-proxy RPC substrate (spec.md §4.2):
// durable proxy handles, a per-address object registry, synchronous/
// asynchronous/fire-and-forget call modes, and request/response matching
// by request id.
package rpc

import "fmt"

// Action identifies the operation an envelope carries.
type Action byte

const (
	ActionPing Action = iota
	ActionGetItem
	ActionGetAttr
	ActionCallAttr
	ActionTransfer
	ActionImport
	ActionDelete
	ActionGetProxy
	ActionRelease
	ActionReleaseAll
	ActionCloseServer
)

var actionNames = [...]string{
	ActionPing:        "ping",
	ActionGetItem:     "getitem",
	ActionGetAttr:     "get_obj_attr",
	ActionCallAttr:    "call_obj",
	ActionTransfer:    "transfer",
	ActionImport:      "import",
	ActionDelete:      "delete",
	ActionGetProxy:    "get_proxy",
	ActionRelease:     "release",
	ActionReleaseAll:  "release_all",
	ActionCloseServer: "close_server",
}

func (a Action) String() string {
	if int(a) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", byte(a))
	}
	return actionNames[a]
}

// ReturnPolicy selects how a call result crosses the wire (spec.md §4.2:
// "auto wraps non-plain-data results as a proxy; value/proxy force one or
// the other; none discards the result").
type ReturnPolicy byte

const (
	ReturnAuto ReturnPolicy = iota
	ReturnValue
	ReturnProxy
	ReturnNone
)

// CallMode selects how the client waits for a response (spec.md §4.2).
type CallMode byte

const (
	// CallSync blocks the caller until the response arrives.
	CallSync CallMode = iota
	// CallAsync returns a Future immediately; the caller polls/waits on it.
	CallAsync
	// CallOff sends the request and returns immediately without a response,
	// and without allocating a request id or a future.
	CallOff
)
