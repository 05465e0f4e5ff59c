package values

import (
	"strings"

	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/prim"
)

const (
	// Marker is the first byte of every binary value.
	Marker byte = 'b'
	// Version is the only binary format version understood.
	Version byte = 2

	headerSize = 7 // marker, version, rank, 4-byte tag
)

// Value is one decoded binary value. Data holds the bare scalar when the
// rank is zero and a flat buffer in row-major order otherwise.
type Value struct {
	Data  any
	Shape []int64
	Elem  prim.ElemType
}

// Rank returns the number of dimensions.
func (v Value) Rank() int {
	return len(v.Shape)
}

// Len returns the number of elements, 1 for scalars.
func (v Value) Len() int {
	return int(Product(v.Shape))
}

// TypeName returns the Futhark type of v, e.g. "[][]i32".
func (v Value) TypeName() string {
	return TypeName(v.Elem, v.Rank())
}

// TypeName builds a Futhark array type name from an element type and rank.
func TypeName(elem prim.ElemType, rank int) string {
	return strings.Repeat("[]", rank) + elem.String()
}

// ParseType splits a Futhark type name into element type and rank.
// "f32" is rank 0, "[][]u8" is rank 2.
func ParseType(typ string) (prim.ElemType, int, error) {
	rank := 0
	name := typ
	for strings.HasPrefix(name, "[]") {
		name = name[2:]
		rank++
	}
	elem, ok := prim.Parse(name)
	if !ok {
		return 0, 0, errors.UnknownType(errors.PhaseEncode, typ)
	}
	return elem, rank, nil
}

// Product returns the element count of shape. An empty shape is a scalar
// and yields 1.
func Product(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// EncodedSize returns the exact size of a binary value.
func EncodedSize(rank, width, n int) int {
	return headerSize + 8*rank + width*n
}
