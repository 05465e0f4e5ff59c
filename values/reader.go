package values

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/prim"
)

// Reader decodes consecutive binary values from a complete in-memory
// buffer. Decoded arrays alias the buffer where the element layout allows
// it, so the buffer must not be modified while values are in use.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Decode reads a single value from the front of b.
func Decode(b []byte, expected string) (Value, error) {
	return NewReader(b).ReadValue(expected)
}

// Offset returns the cursor position.
func (r *Reader) Offset() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// More reports whether anything but whitespace is left.
func (r *Reader) More() bool {
	r.skipSpace()
	return r.pos < len(r.buf)
}

// ReadAll decodes values until only whitespace remains.
func (r *Reader) ReadAll() ([]Value, error) {
	var out []Value
	for r.More() {
		v, err := r.ReadValue("")
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadValue decodes the next value. A non-empty expected type ("i32",
// "[][]f32") must match the decoded element type and rank. On error the
// cursor position is unspecified.
func (r *Reader) ReadValue(expected string) (Value, error) {
	r.skipSpace()

	header, err := r.take(headerSize, "header")
	if err != nil {
		return Value{}, err
	}
	if header[0] != Marker {
		return Value{}, errors.BadMarker(header[0])
	}
	if header[1] != Version {
		return Value{}, errors.UnsupportedVersion(header[1], Version)
	}

	rank := int(header[2])
	tag := string(header[3:7])
	elem, ok := prim.FromTag(tag)
	if !ok {
		return Value{}, errors.UnknownType(errors.PhaseDecode, tag)
	}

	if expected != "" {
		if got := TypeName(elem, rank); got != expected {
			return Value{}, errors.UnexpectedType(rank, elem.String(), expected)
		}
	}

	dims, err := r.take(8*rank, "shape")
	if err != nil {
		return Value{}, err
	}

	var shape []int64
	if rank > 0 {
		shape = make([]int64, rank)
		for i := range shape {
			d := int64(binary.LittleEndian.Uint64(dims[i*8:]))
			if d < 0 {
				return Value{}, errors.InvalidData(errors.PhaseDecode, []string{fmt.Sprintf("shape[%d]", i)},
					fmt.Sprintf("negative dimension %d", d))
			}
			shape[i] = d
		}
	}

	size := elem.Size()
	n, ok := elements(shape, int64(r.Remaining()/size))
	if !ok {
		return Value{}, errors.New(errors.PhaseDecode, errors.KindOutOfData).
			FutType(TypeName(elem, rank)).
			Detail("data for shape %v exceeds the %d remaining bytes", shape, r.Remaining()).
			Build()
	}
	data, err := r.take(int(n)*size, "data")
	if err != nil {
		return Value{}, err
	}

	if rank == 0 {
		return Value{Elem: elem, Data: elem.Decode(data)}, nil
	}
	return Value{Elem: elem, Shape: shape, Data: elem.View(data, int(n))}, nil
}

// elements returns the element count of shape, or false when it is
// larger than limit.
func elements(shape []int64, limit int64) (int64, bool) {
	for _, d := range shape {
		if d == 0 {
			return 0, true
		}
	}
	n := int64(1)
	for _, d := range shape {
		if n > limit/d {
			return 0, false
		}
		n *= d
	}
	return n, n <= limit
}

func (r *Reader) take(n int, what string) ([]byte, error) {
	if n > r.Remaining() {
		return nil, errors.OutOfData(errors.PhaseDecode, what, n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) skipSpace() {
	for r.pos < len(r.buf) {
		switch r.buf[r.pos] {
		case ' ', '\t', '\n':
			r.pos++
		default:
			return
		}
	}
}
