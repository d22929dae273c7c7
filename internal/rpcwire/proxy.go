// Copyright 2026 The sgcore Authors. All rights reserved.

package rpcwire

import "fmt"

// AttrStep is one step of a Proxy's attribute path: either a named field
// access or an integer index (item access).
type AttrStep struct {
	Name    string // set when this step is a field access
	Index   int64  // set when this step is an item access
	IsIndex bool
}

func Attr(name string) AttrStep    { return AttrStep{Name: name} }
func Index(i int64) AttrStep       { return AttrStep{Index: i, IsIndex: true} }

// ProxyRecord is the tagged-record wire form of a Proxy (spec.md §4.1):
// {__proxy__, address, obj_id, type_name, attributes}. Equality of two
// records is by (Address, ObjID, Attrs) per spec.md §3.
type ProxyRecord struct {
	Address  string
	ObjID    uint64
	TypeName string
	Attrs    []AttrStep
}

// Equal reports whether two proxy records identify the same remote handle.
func (p *ProxyRecord) Equal(o *ProxyRecord) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Address != o.Address || p.ObjID != o.ObjID || len(p.Attrs) != len(o.Attrs) {
		return false
	}
	for i := range p.Attrs {
		if p.Attrs[i] != o.Attrs[i] {
			return false
		}
	}
	return true
}

// WithAttr returns a derived proxy record with one more attribute step
// appended, leaving p unchanged.
func (p *ProxyRecord) WithAttr(step AttrStep) *ProxyRecord {
	attrs := make([]AttrStep, len(p.Attrs)+1)
	copy(attrs, p.Attrs)
	attrs[len(p.Attrs)] = step
	return &ProxyRecord{Address: p.Address, ObjID: p.ObjID, TypeName: p.TypeName, Attrs: attrs}
}

func (p *ProxyRecord) String() string {
	return fmt.Sprintf("proxy(%s#%d:%s)", p.Address, p.ObjID, p.TypeName)
}
