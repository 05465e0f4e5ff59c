package values

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/prim"
)

// Encode serializes data as a binary value of Futhark type typ.
//
// For a scalar type ("i32") data is a Go scalar and shape must be empty.
// For an array type ("[][]f32") data is a flat row-major buffer or any
// host sequence prim.FromSlice accepts, and shape has one entry per
// dimension. A rank 1 value with no shape takes its length from data.
func Encode(typ string, data any, shape ...int64) ([]byte, error) {
	return AppendValue(nil, typ, data, shape...)
}

// EncodeValue serializes a decoded Value.
func EncodeValue(v Value) ([]byte, error) {
	return Encode(v.TypeName(), v.Data, v.Shape...)
}

// AppendValue is like Encode but appends to dst.
func AppendValue(dst []byte, typ string, data any, shape ...int64) ([]byte, error) {
	elem, rank, err := ParseType(typ)
	if err != nil {
		return dst, err
	}

	buf, shape, err := normalize(elem, rank, typ, data, shape)
	if err != nil {
		return dst, err
	}

	n, _ := elem.Len(buf)
	size := EncodedSize(rank, elem.Size(), n)
	if cap(dst)-len(dst) < size {
		grown := make([]byte, len(dst), len(dst)+size)
		copy(grown, dst)
		dst = grown
	}

	dst = append(dst, Marker, Version, byte(rank))
	dst = append(dst, elem.Tag()...)
	for _, d := range shape {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(d))
	}
	return elem.AppendBytes(dst, buf)
}

// normalize turns data into a flat buffer of elem and checks it against
// shape.
func normalize(elem prim.ElemType, rank int, typ string, data any, shape []int64) (any, []int64, error) {
	if rank > 255 {
		return nil, nil, errors.New(errors.PhaseEncode, errors.KindUnsupported).
			FutType(typ).
			Detail("rank %d exceeds 255", rank).
			Build()
	}

	if rank == 0 {
		if len(shape) != 0 {
			return nil, nil, shapeError(typ, "scalar takes no shape, got %v", shape)
		}
		buf, err := elem.Wrap(data)
		if err != nil {
			return nil, nil, errors.Wrap(errors.PhaseEncode, errors.KindTypeMismatch, err,
				fmt.Sprintf("encode %s", typ))
		}
		return buf, nil, nil
	}

	buf, err := elem.FromSlice(data)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseEncode, errors.KindTypeMismatch, err,
			fmt.Sprintf("encode %s", typ))
	}
	n, _ := elem.Len(buf)

	if len(shape) == 0 && rank == 1 {
		shape = []int64{int64(n)}
	}
	if len(shape) != rank {
		return nil, nil, shapeError(typ, "shape %v has %d dimensions, want %d", shape, len(shape), rank)
	}
	for _, d := range shape {
		if d < 0 {
			return nil, nil, shapeError(typ, "negative dimension in shape %v", shape)
		}
	}
	if Product(shape) != int64(n) {
		return nil, nil, shapeError(typ, "shape %v needs %d elements, data has %d", shape, Product(shape), n)
	}
	return buf, shape, nil
}

func shapeError(typ, detail string, args ...any) *errors.Error {
	return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
		FutType(typ).
		Detail(detail, args...).
		Build()
}
