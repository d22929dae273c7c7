// Copyright 2026 The sgcore Authors. All rights reserved.

package rpcwire

import "fmt"

// DType identifies the element type of a sample array. The set is fixed and
// exhaustive; sgcore never carries an open-ended type name across the wire.
type DType byte

const (
	Int8 DType = iota
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float32
	Float64
)

var dtypeSizes = [...]int{
	Int8:    1,
	UInt8:   1,
	Int16:   2,
	UInt16:  2,
	Int32:   4,
	UInt32:  4,
	Int64:   8,
	UInt64:  8,
	Float32: 4,
	Float64: 8,
}

var dtypeNames = [...]string{
	Int8:    "int8",
	UInt8:   "uint8",
	Int16:   "int16",
	UInt16:  "uint16",
	Int32:   "int32",
	UInt32:  "uint32",
	Int64:   "int64",
	UInt64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

// Size returns the element width in bytes.
func (d DType) Size() int {
	if int(d) >= len(dtypeSizes) {
		return 0
	}
	return dtypeSizes[d]
}

func (d DType) String() string {
	if int(d) >= len(dtypeNames) {
		return fmt.Sprintf("dtype(%d)", byte(d))
	}
	return dtypeNames[d]
}

// ParseDType resolves a wire/config dtype name to its enum value.
func ParseDType(name string) (DType, error) {
	for d, n := range dtypeNames {
		if n == name {
			return DType(d), nil
		}
	}
	return 0, fmt.Errorf("rpcwire: unknown dtype %q", name)
}
