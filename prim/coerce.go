package prim

import (
	"math"

	"github.com/x448/float16"
)

type numClass uint8

const (
	numSigned numClass = iota
	numUnsigned
	numFloat
)

// number is a Go numeric normalized to one of three representations.
type number struct {
	class numClass
	i     int64
	u     uint64
	f     float64
}

func numberOf(v any) (number, bool) {
	switch x := v.(type) {
	case int:
		return number{class: numSigned, i: int64(x)}, true
	case int8:
		return number{class: numSigned, i: int64(x)}, true
	case int16:
		return number{class: numSigned, i: int64(x)}, true
	case int32:
		return number{class: numSigned, i: int64(x)}, true
	case int64:
		return number{class: numSigned, i: x}, true
	case uint:
		return number{class: numUnsigned, u: uint64(x)}, true
	case uint8:
		return number{class: numUnsigned, u: uint64(x)}, true
	case uint16:
		return number{class: numUnsigned, u: uint64(x)}, true
	case uint32:
		return number{class: numUnsigned, u: uint64(x)}, true
	case uint64:
		return number{class: numUnsigned, u: x}, true
	case uintptr:
		return number{class: numUnsigned, u: uint64(x)}, true
	case float32:
		return number{class: numFloat, f: float64(x)}, true
	case float64:
		return number{class: numFloat, f: x}, true
	case float16.Float16:
		return number{class: numFloat, f: float64(x.Float32())}, true
	case bool:
		if x {
			return number{class: numUnsigned, u: 1}, true
		}
		return number{class: numUnsigned}, true
	default:
		return number{}, false
	}
}

func (n number) isZero() bool {
	switch n.class {
	case numSigned:
		return n.i == 0
	case numUnsigned:
		return n.u == 0
	default:
		return n.f == 0
	}
}

func (n number) float() float64 {
	switch n.class {
	case numSigned:
		return float64(n.i)
	case numUnsigned:
		return float64(n.u)
	default:
		return n.f
	}
}

// int64In returns n as an int64 when it is integral and within [lo, hi].
func (n number) int64In(lo, hi int64) (int64, bool) {
	switch n.class {
	case numSigned:
		return n.i, n.i >= lo && n.i <= hi
	case numUnsigned:
		if n.u > math.MaxInt64 {
			return 0, false
		}
		i := int64(n.u)
		return i, i >= lo && i <= hi
	default:
		if n.f != math.Trunc(n.f) || n.f < float64(lo) || n.f > float64(hi) {
			return 0, false
		}
		// float64(MaxInt64) rounds up to 2^63.
		if n.f >= math.MaxInt64 {
			return 0, false
		}
		return int64(n.f), true
	}
}

// uint64Below returns n as a uint64 when it is integral and within [0, hi].
func (n number) uint64Below(hi uint64) (uint64, bool) {
	switch n.class {
	case numSigned:
		if n.i < 0 {
			return 0, false
		}
		return uint64(n.i), uint64(n.i) <= hi
	case numUnsigned:
		return n.u, n.u <= hi
	default:
		if n.f != math.Trunc(n.f) || n.f < 0 || n.f > float64(hi) {
			return 0, false
		}
		if n.f >= math.MaxUint64 {
			return 0, false
		}
		return uint64(n.f), true
	}
}

type signedInt interface {
	~int8 | ~int16 | ~int32 | ~int64
}

type unsignedInt interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

func signedCoercer[T signedInt](lo, hi int64) func(any) (T, bool) {
	return func(v any) (T, bool) {
		n, ok := numberOf(v)
		if !ok {
			return 0, false
		}
		i, ok := n.int64In(lo, hi)
		return T(i), ok
	}
}

func unsignedCoercer[T unsignedInt](hi uint64) func(any) (T, bool) {
	return func(v any) (T, bool) {
		n, ok := numberOf(v)
		if !ok {
			return 0, false
		}
		u, ok := n.uint64Below(hi)
		return T(u), ok
	}
}
