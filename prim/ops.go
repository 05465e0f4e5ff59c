package prim

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/x448/float16"
)

// ops is the per-type behaviour table. Every function that accepts a
// buffer or scalar expects the concrete Go type of its element type;
// callers check with length or coerce first.
type ops struct {
	newBuffer func(n int) any
	view      func(b []byte, n int) any
	length    func(buf any) (int, bool)
	appendLE  func(dst []byte, buf any) []byte
	scalar    func(buf any, i int) any
	set       func(buf any, i int, v any)
	single    func(v any) any
	coerce    func(v any) (any, bool)
	decode    func(b []byte) any
	toBits    func(v any) uint64
	fromBits  func(bits uint64) any
}

type codec[T any] struct {
	size     int
	alias    bool
	load     func(b []byte) T
	store    func(dst []byte, v T) []byte
	coerce   func(v any) (T, bool)
	toBits   func(v T) uint64
	fromBits func(bits uint64) T
}

var littleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

func (c codec[T]) ops() ops {
	return ops{
		newBuffer: func(n int) any { return make([]T, n) },
		view:      func(b []byte, n int) any { return viewOf(c, b, n) },
		length: func(buf any) (int, bool) {
			s, ok := buf.([]T)
			return len(s), ok
		},
		appendLE: func(dst []byte, buf any) []byte {
			for _, v := range buf.([]T) {
				dst = c.store(dst, v)
			}
			return dst
		},
		scalar: func(buf any, i int) any { return buf.([]T)[i] },
		set:    func(buf any, i int, v any) { buf.([]T)[i] = v.(T) },
		single: func(v any) any { return []T{v.(T)} },
		coerce: func(v any) (any, bool) {
			x, ok := c.coerce(v)
			if !ok {
				return nil, false
			}
			return x, true
		},
		decode:   func(b []byte) any { return c.load(b) },
		toBits:   func(v any) uint64 { return c.toBits(v.(T)) },
		fromBits: func(bits uint64) any { return c.fromBits(bits) },
	}
}

// viewOf reinterprets b in place when the host layout matches the wire
// layout, and decodes a copy otherwise.
func viewOf[T any](c codec[T], b []byte, n int) []T {
	if n == 0 {
		return []T{}
	}
	b = b[:n*c.size]
	if c.alias && (c.size == 1 || littleEndian && uintptr(unsafe.Pointer(&b[0]))%uintptr(c.size) == 0) {
		return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
	}
	out := make([]T, n)
	for i := range out {
		out[i] = c.load(b[i*c.size:])
	}
	return out
}

var (
	boolOps = codec[bool]{
		size:  1,
		load:  func(b []byte) bool { return b[0] != 0 },
		store: func(dst []byte, v bool) []byte { return append(dst, boolByte(v)) },
		coerce: func(v any) (bool, bool) {
			if b, ok := v.(bool); ok {
				return b, true
			}
			n, ok := numberOf(v)
			if !ok {
				return false, false
			}
			return !n.isZero(), true
		},
		toBits:   func(v bool) uint64 { return uint64(boolByte(v)) },
		fromBits: func(bits uint64) bool { return uint32(bits) != 0 },
	}.ops()

	u8Ops = codec[uint8]{
		size:     1,
		alias:    true,
		load:     func(b []byte) uint8 { return b[0] },
		store:    func(dst []byte, v uint8) []byte { return append(dst, v) },
		coerce:   unsignedCoercer[uint8](math.MaxUint8),
		toBits:   func(v uint8) uint64 { return uint64(v) },
		fromBits: func(bits uint64) uint8 { return uint8(bits) },
	}.ops()

	i8Ops = codec[int8]{
		size:     1,
		alias:    true,
		load:     func(b []byte) int8 { return int8(b[0]) },
		store:    func(dst []byte, v int8) []byte { return append(dst, byte(v)) },
		coerce:   signedCoercer[int8](math.MinInt8, math.MaxInt8),
		toBits:   func(v int8) uint64 { return uint64(uint32(int32(v))) },
		fromBits: func(bits uint64) int8 { return int8(bits) },
	}.ops()

	u16Ops = codec[uint16]{
		size:     2,
		alias:    true,
		load:     binary.LittleEndian.Uint16,
		store:    binary.LittleEndian.AppendUint16,
		coerce:   unsignedCoercer[uint16](math.MaxUint16),
		toBits:   func(v uint16) uint64 { return uint64(v) },
		fromBits: func(bits uint64) uint16 { return uint16(bits) },
	}.ops()

	i16Ops = codec[int16]{
		size:     2,
		alias:    true,
		load:     func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) },
		store:    func(dst []byte, v int16) []byte { return binary.LittleEndian.AppendUint16(dst, uint16(v)) },
		coerce:   signedCoercer[int16](math.MinInt16, math.MaxInt16),
		toBits:   func(v int16) uint64 { return uint64(uint32(int32(v))) },
		fromBits: func(bits uint64) int16 { return int16(bits) },
	}.ops()

	u32Ops = codec[uint32]{
		size:     4,
		alias:    true,
		load:     binary.LittleEndian.Uint32,
		store:    binary.LittleEndian.AppendUint32,
		coerce:   unsignedCoercer[uint32](math.MaxUint32),
		toBits:   func(v uint32) uint64 { return uint64(v) },
		fromBits: func(bits uint64) uint32 { return uint32(bits) },
	}.ops()

	i32Ops = codec[int32]{
		size:     4,
		alias:    true,
		load:     func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) },
		store:    func(dst []byte, v int32) []byte { return binary.LittleEndian.AppendUint32(dst, uint32(v)) },
		coerce:   signedCoercer[int32](math.MinInt32, math.MaxInt32),
		toBits:   func(v int32) uint64 { return uint64(uint32(v)) },
		fromBits: func(bits uint64) int32 { return int32(bits) },
	}.ops()

	u64Ops = codec[uint64]{
		size:     8,
		alias:    true,
		load:     binary.LittleEndian.Uint64,
		store:    binary.LittleEndian.AppendUint64,
		coerce:   unsignedCoercer[uint64](math.MaxUint64),
		toBits:   func(v uint64) uint64 { return v },
		fromBits: func(bits uint64) uint64 { return bits },
	}.ops()

	i64Ops = codec[int64]{
		size:     8,
		alias:    true,
		load:     func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) },
		store:    func(dst []byte, v int64) []byte { return binary.LittleEndian.AppendUint64(dst, uint64(v)) },
		coerce:   signedCoercer[int64](math.MinInt64, math.MaxInt64),
		toBits:   func(v int64) uint64 { return uint64(v) },
		fromBits: func(bits uint64) int64 { return int64(bits) },
	}.ops()

	f16Ops = codec[float16.Float16]{
		size:  2,
		alias: true,
		load:  func(b []byte) float16.Float16 { return float16.Frombits(binary.LittleEndian.Uint16(b)) },
		store: func(dst []byte, v float16.Float16) []byte {
			return binary.LittleEndian.AppendUint16(dst, v.Bits())
		},
		coerce: func(v any) (float16.Float16, bool) {
			if h, ok := v.(float16.Float16); ok {
				return h, true
			}
			n, ok := numberOf(v)
			if !ok {
				return 0, false
			}
			return float16.Fromfloat32(float32(n.float())), true
		},
		toBits:   func(v float16.Float16) uint64 { return uint64(v.Bits()) },
		fromBits: func(bits uint64) float16.Float16 { return float16.Frombits(uint16(bits)) },
	}.ops()

	f32Ops = codec[float32]{
		size:  4,
		alias: true,
		load:  func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) },
		store: func(dst []byte, v float32) []byte {
			return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		},
		coerce: func(v any) (float32, bool) {
			n, ok := numberOf(v)
			if !ok {
				return 0, false
			}
			return float32(n.float()), true
		},
		toBits:   func(v float32) uint64 { return uint64(math.Float32bits(v)) },
		fromBits: func(bits uint64) float32 { return math.Float32frombits(uint32(bits)) },
	}.ops()

	f64Ops = codec[float64]{
		size:  8,
		alias: true,
		load:  func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) },
		store: func(dst []byte, v float64) []byte {
			return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
		},
		coerce: func(v any) (float64, bool) {
			n, ok := numberOf(v)
			if !ok {
				return 0, false
			}
			return n.float(), true
		},
		toBits:   func(v float64) uint64 { return math.Float64bits(v) },
		fromBits: func(bits uint64) float64 { return math.Float64frombits(bits) },
	}.ops()
)

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
