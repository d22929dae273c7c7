// Copyright 2026 The sgcore Authors. All rights reserved.

// Package rpcwire implements the binary encoding used by the RPC substrate:
// scalars, byte strings, ordered sequences, string-keyed mappings, typed
// N-dimensional arrays, and proxy records.
package rpcwire

import "fmt"

// Kind tags the wire representation of a Value.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
	KindSlice
	KindMap
	KindArray
	KindProxy
)

// Value is the tagged union every envelope field is encoded as. Exactly one
// of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Bytes  []byte
	Slice  []Value
	Map    map[string]Value
	Array  *Array
	Proxy  *ProxyRecord
}

// Array is an N-dimensional typed sample buffer: dtype + shape + raw bytes
// in row-major order. Used both for stand-alone values and as the payload
// carried by a sample chunk once it leaves the ring buffer.
type Array struct {
	DType DType
	Shape []int64
	Data  []byte
}

// NElem returns the number of elements described by Shape.
func (a *Array) NElem() int64 {
	n := int64(1)
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func (a *Array) validate() error {
	want := a.NElem() * int64(a.DType.Size())
	if int64(len(a.Data)) != want {
		return fmt.Errorf("rpcwire: array data length %d does not match shape*dtype %d", len(a.Data), want)
	}
	return nil
}

func Nil() Value                 { return Value{Kind: KindNil} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value          { return Value{Kind: KindInt64, Int: i} }
func Float(f float64) Value      { return Value{Kind: KindFloat64, Float: f} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value       { return Value{Kind: KindBytes, Bytes: b} }
func Slice(s []Value) Value      { return Value{Kind: KindSlice, Slice: s} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func FromArray(a *Array) Value   { return Value{Kind: KindArray, Array: a} }
func FromProxy(p *ProxyRecord) Value { return Value{Kind: KindProxy, Proxy: p} }
