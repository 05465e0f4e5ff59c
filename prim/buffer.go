package prim

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/wippyai/futhark-host/errors"
)

// NewBuffer returns a zeroed flat buffer of n elements ([]int32 for I32,
// []float16.Float16 for F16, ...).
func (t ElemType) NewBuffer(n int) any {
	return t.info().ops.newBuffer(n)
}

// View interprets the first n*Size() bytes of b as n elements. The result
// aliases b when the host layout allows it and must not outlive b.
// View panics if b is shorter than n*Size().
func (t ElemType) View(b []byte, n int) any {
	return t.info().ops.view(b, n)
}

// Len returns the element count of buf, and false if buf is not a flat
// buffer of t.
func (t ElemType) Len(buf any) (int, bool) {
	return t.info().ops.length(buf)
}

// Bytes returns the little-endian byte image of a flat buffer of t.
func (t ElemType) Bytes(buf any) ([]byte, error) {
	n, ok := t.Len(buf)
	if !ok {
		return nil, t.bufferMismatch(buf)
	}
	return t.info().ops.appendLE(make([]byte, 0, n*t.Size()), buf), nil
}

// AppendBytes appends the little-endian byte image of buf to dst.
func (t ElemType) AppendBytes(dst []byte, buf any) ([]byte, error) {
	if _, ok := t.Len(buf); !ok {
		return dst, t.bufferMismatch(buf)
	}
	return t.info().ops.appendLE(dst, buf), nil
}

// Scalar returns element i of a flat buffer of t.
func (t ElemType) Scalar(buf any, i int) any {
	return t.info().ops.scalar(buf, i)
}

// Decode reads one element from the front of b.
func (t ElemType) Decode(b []byte) any {
	return t.info().ops.decode(b)
}

// Wrap returns a one-element buffer holding scalar v, coercing it first.
func (t ElemType) Wrap(v any) (any, error) {
	s, err := t.Coerce(v)
	if err != nil {
		return nil, err
	}
	return t.info().ops.single(s), nil
}

// Coerce converts a Go scalar into t's host representation. Integers are
// range checked and floats converted to integers must be integral.
func (t ElemType) Coerce(v any) (any, error) {
	s, ok := t.info().ops.coerce(v)
	if !ok {
		return nil, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
			GoType(fmt.Sprintf("%T", v)).
			FutType(t.String()).
			Value(v).
			Detail("cannot represent %v as %s", v, t).
			Build()
	}
	return s, nil
}

// Bits returns the raw wasm value of scalar v, which must already be in
// t's host representation.
func (t ElemType) Bits(v any) uint64 {
	return t.info().ops.toBits(v)
}

// FromBits converts a raw wasm value to t's host representation.
func (t ElemType) FromBits(bits uint64) any {
	return t.info().ops.fromBits(bits)
}

// FromSlice converts a host sequence into a flat buffer of t. A buffer
// that is already of t's type is returned unchanged and a flat buffer of
// another element type is rejected. Any other slice or array ([]any,
// []int, []uint, ...) is converted element by element.
func (t ElemType) FromSlice(seq any) (any, error) {
	if _, ok := t.Len(seq); ok {
		return seq, nil
	}
	for i := range infos {
		if _, ok := infos[i].ops.length(seq); ok {
			return nil, t.bufferMismatch(seq)
		}
	}

	rv := reflect.ValueOf(seq)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, t.bufferMismatch(seq)
	}

	n := rv.Len()
	o := t.info().ops
	buf := o.newBuffer(n)
	for i := 0; i < n; i++ {
		elem := rv.Index(i).Interface()
		s, ok := o.coerce(elem)
		if !ok {
			return nil, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
				Path(strconv.Itoa(i)).
				GoType(fmt.Sprintf("%T", elem)).
				FutType(t.String()).
				Value(elem).
				Detail("element %d cannot be represented as %s", i, t).
				Build()
		}
		o.set(buf, i, s)
	}
	return buf, nil
}

// ParseScalar parses the textual form of a scalar: decimal or 0x integers,
// floats, and true/false for bool. A Futhark type suffix such as "5i32" or
// "1.5f32" is accepted when it names t.
func (t ElemType) ParseScalar(s string) (any, error) {
	s = strings.TrimSpace(s)
	if suffix := t.String(); strings.HasSuffix(s, suffix) && t != Bool {
		s = strings.TrimSuffix(s, suffix)
	}

	var v any
	var err error
	switch {
	case t == Bool:
		v, err = strconv.ParseBool(s)
	case t == F16 || t == F32 || t == F64:
		v, err = strconv.ParseFloat(s, 64)
	case strings.HasPrefix(t.String(), "u"):
		v, err = strconv.ParseUint(s, 0, 64)
	default:
		v, err = strconv.ParseInt(s, 0, 64)
	}
	if err != nil {
		return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			FutType(t.String()).
			Value(s).
			Cause(err).
			Detail("parse %q as %s", s, t).
			Build()
	}
	return t.Coerce(v)
}

func (t ElemType) bufferMismatch(buf any) *errors.Error {
	return errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
		GoType(fmt.Sprintf("%T", buf)).
		FutType("[]" + t.String()).
		Detail("expected a flat buffer of %s", t).
		Build()
}
