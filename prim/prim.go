package prim

import (
	"fmt"
	"strings"
)

// ElemType is a Futhark primitive element type.
type ElemType uint8

const (
	Bool ElemType = iota
	U8
	I8
	U16
	I16
	U32
	I32
	U64
	I64
	F16
	F32
	F64
)

// Class is the core wasm value type used to pass a scalar across a call.
type Class uint8

const (
	ClassI32 Class = iota
	ClassI64
	ClassF32
	ClassF64
)

func (c Class) String() string {
	switch c {
	case ClassI32:
		return "i32"
	case ClassI64:
		return "i64"
	case ClassF32:
		return "f32"
	case ClassF64:
		return "f64"
	default:
		return "unknown"
	}
}

type info struct {
	name  string
	tag   string
	size  int
	class Class
	ops   ops
}

var infos = [...]info{
	Bool: {"bool", "bool", 1, ClassI32, boolOps},
	U8:   {"u8", "  u8", 1, ClassI32, u8Ops},
	I8:   {"i8", "  i8", 1, ClassI32, i8Ops},
	U16:  {"u16", " u16", 2, ClassI32, u16Ops},
	I16:  {"i16", " i16", 2, ClassI32, i16Ops},
	U32:  {"u32", " u32", 4, ClassI32, u32Ops},
	I32:  {"i32", " i32", 4, ClassI32, i32Ops},
	U64:  {"u64", " u64", 8, ClassI64, u64Ops},
	I64:  {"i64", " i64", 8, ClassI64, i64Ops},
	F16:  {"f16", " f16", 2, ClassI32, f16Ops},
	F32:  {"f32", " f32", 4, ClassF32, f32Ops},
	F64:  {"f64", " f64", 8, ClassF64, f64Ops},
}

var byName = func() map[string]ElemType {
	m := make(map[string]ElemType, len(infos))
	for i := range infos {
		m[infos[i].name] = ElemType(i)
	}
	return m
}()

// All returns every element type in declaration order.
func All() []ElemType {
	out := make([]ElemType, len(infos))
	for i := range infos {
		out[i] = ElemType(i)
	}
	return out
}

// Valid reports whether t is one of the declared element types.
func (t ElemType) Valid() bool {
	return int(t) < len(infos)
}

func (t ElemType) String() string {
	if t.Valid() {
		return infos[t].name
	}
	return fmt.Sprintf("ElemType(%d)", uint8(t))
}

// Size returns the element width in bytes.
func (t ElemType) Size() int {
	return t.info().size
}

// Tag returns the 4-byte space-padded tag used by the binary data format.
func (t ElemType) Tag() string {
	return t.info().tag
}

// ValueClass returns the wasm value type the scalar travels as.
func (t ElemType) ValueClass() Class {
	return t.info().class
}

// info panics on an unknown ElemType. The set is closed; an out of range
// value can only come from a conversion bug, not from external input.
func (t ElemType) info() *info {
	if !t.Valid() {
		panic(fmt.Sprintf("prim: unknown element type %d", uint8(t)))
	}
	return &infos[t]
}

// Parse looks up an element type by its Futhark name ("i32", "f16", ...).
func Parse(name string) (ElemType, bool) {
	t, ok := byName[name]
	return t, ok
}

// MustLookup is like Parse but panics on an unknown name. Use it only for
// names that come from code, not from manifests or wire data.
func MustLookup(name string) ElemType {
	t, ok := Parse(name)
	if !ok {
		panic(fmt.Sprintf("prim: unknown element type %q", name))
	}
	return t
}

// FromTag looks up an element type by its binary format tag. Leading
// spaces are ignored, so both " i32" and "i32" resolve.
func FromTag(tag string) (ElemType, bool) {
	return Parse(strings.TrimLeft(tag, " "))
}

// IsPrim reports whether name is a primitive type name.
func IsPrim(name string) bool {
	_, ok := byName[name]
	return ok
}
