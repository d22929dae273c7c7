// Copyright 2026 The sgcore Authors. All rights reserved.

package rpcwire

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return got
}

func TestScalarRoundTrip(t *testing.T) {
	cases := []Value{
		Nil(),
		Bool(true),
		Bool(false),
		Int(-42),
		Float(3.5),
		String("hello"),
		Bytes([]byte{1, 2, 3}),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if got.Kind != v.Kind {
			t.Errorf("kind mismatch: want %v got %v", v.Kind, got.Kind)
		}
	}
}

func TestSliceAndMapRoundTrip(t *testing.T) {
	v := Slice([]Value{Int(1), String("a"), Bool(true)})
	got := roundTrip(t, v)
	if len(got.Slice) != 3 || got.Slice[1].Str != "a" {
		t.Fatalf("slice round-trip mismatch: %+v", got.Slice)
	}

	m := Map(map[string]Value{"x": Int(7)})
	gotMap := roundTrip(t, m)
	if gotMap.Map["x"].Int != 7 {
		t.Fatalf("map round-trip mismatch: %+v", gotMap.Map)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	a := &Array{
		DType: Float32,
		Shape: []int64{2, 3},
		Data:  make([]byte, 2*3*4),
	}
	got := roundTrip(t, FromArray(a))
	if got.Kind != KindArray {
		t.Fatalf("expected KindArray, got %v", got.Kind)
	}
	if got.Array.DType != Float32 || len(got.Array.Shape) != 2 {
		t.Fatalf("array metadata mismatch: %+v", got.Array)
	}
}

func TestArrayShapeMismatchRejected(t *testing.T) {
	a := &Array{DType: Int16, Shape: []int64{4}, Data: []byte{1, 2}} // needs 8 bytes
	var buf bytes.Buffer
	if err := Encode(&buf, FromArray(a)); err == nil {
		t.Fatal("expected error for mismatched array data length")
	}
}

func TestProxyRoundTrip(t *testing.T) {
	p := &ProxyRecord{
		Address:  "tcp://127.0.0.1:5000",
		ObjID:    99,
		TypeName: "Node",
		Attrs:    []AttrStep{Attr("v"), Index(1)},
	}
	got := roundTrip(t, FromProxy(p))
	if got.Kind != KindProxy {
		t.Fatalf("expected KindProxy, got %v", got.Kind)
	}
	if !got.Proxy.Equal(p) {
		t.Fatalf("proxy round-trip mismatch: %+v vs %+v", got.Proxy, p)
	}
}

func TestProxyWithAttrDerivesNewRecord(t *testing.T) {
	base := &ProxyRecord{Address: "a", ObjID: 1, TypeName: "T"}
	derived := base.WithAttr(Attr("field"))
	if len(base.Attrs) != 0 {
		t.Fatal("WithAttr must not mutate the receiver")
	}
	if len(derived.Attrs) != 1 || derived.Attrs[0].Name != "field" {
		t.Fatalf("unexpected derived attrs: %+v", derived.Attrs)
	}
}

func TestDecodeTruncatedFails(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(KindString))
	buf.Write([]byte{0, 0, 0, 10}) // claims 10 bytes, provides none
	if _, err := Decode(&buf); err == nil {
		t.Fatal("expected error decoding truncated string")
	}
}

func TestParseDType(t *testing.T) {
	d, err := ParseDType("float32")
	if err != nil || d != Float32 {
		t.Fatalf("ParseDType(float32) = %v, %v", d, err)
	}
	if _, err := ParseDType("bogus"); err == nil {
		t.Fatal("expected error for unknown dtype")
	}
}
