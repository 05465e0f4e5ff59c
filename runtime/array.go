package runtime

import (
	"context"
	"encoding/binary"
	"strconv"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/wippyai/futhark-host/engine"
	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/manifest"
	"github.com/wippyai/futhark-host/prim"
	"github.com/wippyai/futhark-host/resource"
	"github.com/wippyai/futhark-host/values"
)

// ArrayType is one array type declared in the manifest, e.g. "[][]f32".
// It creates arrays in foreign memory and wraps arrays returned by entry
// points.
type ArrayType struct {
	ctx  *Context
	name string
	ops  manifest.Ops
	elem prim.ElemType
	rank int
}

func newArrayType(c *Context, name string, info manifest.TypeInfo) (*ArrayType, error) {
	elem, ok := prim.Parse(info.ElemType)
	if !ok || info.Rank < 1 {
		return nil, errors.Schema([]string{"types", name}, "unsupported array type")
	}
	return &ArrayType{ctx: c, name: name, ops: info.Ops, elem: elem, rank: info.Rank}, nil
}

// Name returns the Futhark type name.
func (t *ArrayType) Name() string { return t.name }

// Elem returns the element type.
func (t *ArrayType) Elem() prim.ElemType { return t.elem }

// Rank returns the number of dimensions.
func (t *ArrayType) Rank() int { return t.rank }

// New copies host data into a new foreign array. data is a flat buffer of
// the element type in row-major order, or any slice whose elements
// convert to it; shape gives one length per dimension.
func (t *ArrayType) New(ctx context.Context, data any, shape ...int64) (*Array, error) {
	if len(shape) != t.rank {
		return nil, errors.New(errors.PhaseArray, errors.KindInvalidInput).
			FutType(t.name).
			Detail("shape has %d dimensions, want %d", len(shape), t.rank).
			Build()
	}
	for i, d := range shape {
		if d < 0 {
			return nil, errors.New(errors.PhaseArray, errors.KindInvalidInput).
				FutType(t.name).
				Path("shape", strconv.Itoa(i)).
				Detail("negative dimension %d", d).
				Build()
		}
	}

	buf, err := t.elem.FromSlice(data)
	if err != nil {
		return nil, err
	}
	n, _ := t.elem.Len(buf)
	if want := values.Product(shape); int64(n) != want {
		return nil, errors.New(errors.PhaseArray, errors.KindInvalidInput).
			FutType(t.name).
			Detail("data has %d elements, shape %v needs %d", n, shape, want).
			Build()
	}
	raw, err := t.elem.Bytes(buf)
	if err != nil {
		return nil, err
	}

	if err := t.ctx.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.ctx.release()
	return t.newLocked(ctx, raw, shape)
}

// NewValue creates a foreign array from a decoded binary value.
func (t *ArrayType) NewValue(ctx context.Context, v values.Value) (*Array, error) {
	if v.Elem != t.elem || v.Rank() != t.rank {
		return nil, errors.New(errors.PhaseArray, errors.KindTypeMismatch).
			FutType(t.name).
			Detail("value has type %s", v.TypeName()).
			Build()
	}
	return t.New(ctx, v.Data, v.Shape...)
}

func (t *ArrayType) newLocked(ctx context.Context, raw []byte, shape []int64) (_ *Array, err error) {
	c := t.ctx
	scratch := engine.NewScratch(c.foreign)
	defer func() {
		err = multierr.Append(err, scratch.Release(ctx))
	}()

	ptr, err := scratch.Alloc(ctx, uint32(len(raw)))
	if err != nil {
		return nil, err
	}
	if err := c.foreign.Write(ptr, raw); err != nil {
		return nil, err
	}

	params := make([]uint64, 0, 2+len(shape))
	params = append(params, uint64(c.ptr), uint64(ptr))
	for _, d := range shape {
		params = append(params, uint64(d))
	}
	ref, err := c.call(ctx, t.ops.New, params...)
	if err != nil {
		return nil, err
	}
	if ref == 0 {
		return nil, errors.ForeignCall(t.ops.New, 0, c.errorText(ctx), nil)
	}
	recordTransfer(ctx, t.name, "in", len(raw))
	return t.wrap(uint32(ref), append([]int64(nil), shape...)), nil
}

// FromForeign wraps an array the module already owns, reading its shape.
// The returned handle takes ownership of ref.
func (t *ArrayType) FromForeign(ctx context.Context, ref uint32) (*Array, error) {
	if err := t.ctx.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.ctx.release()
	return t.fromForeignLocked(ctx, ref)
}

func (t *ArrayType) fromForeignLocked(ctx context.Context, ref uint32) (*Array, error) {
	if ref == 0 {
		return nil, errors.New(errors.PhaseArray, errors.KindInvalidInput).
			FutType(t.name).
			Detail("null array reference").
			Build()
	}
	c := t.ctx
	p, err := c.call(ctx, t.ops.Shape, uint64(c.ptr), uint64(ref))
	if err != nil {
		return nil, err
	}
	raw, err := c.foreign.Read(uint32(p), uint32(8*t.rank))
	if err != nil {
		return nil, err
	}
	shape := make([]int64, t.rank)
	for i := range shape {
		shape[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return t.wrap(ref, shape), nil
}

func (t *ArrayType) wrap(ref uint32, shape []int64) *Array {
	a := &Array{typ: t, shape: shape}
	a.ref.Store(ref)
	a.handle = t.ctx.track(resource.KindArray, t.name, ref, a)
	return a
}

// Array is a host handle to an array in foreign memory. It owns the
// foreign array exclusively until Release; it is never freed implicitly.
type Array struct {
	typ      *ArrayType
	shape    []int64
	ref      atomic.Uint32
	released atomic.Bool
	handle   resource.Handle
}

// Type returns the array's type.
func (a *Array) Type() *ArrayType { return a.typ }

// Shape returns a copy of the array's shape without calling the module.
func (a *Array) Shape() []int64 {
	return append([]int64(nil), a.shape...)
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return len(a.shape) }

// Len returns the total number of elements.
func (a *Array) Len() int64 { return values.Product(a.shape) }

// Ref returns the foreign pointer, or 0 once released.
func (a *Array) Ref() uint32 { return a.ref.Load() }

// Released reports whether Release has been called.
func (a *Array) Released() bool { return a.released.Load() }

// Values copies the array's elements into a new flat host buffer of the
// element type ([]int32 for "[][]i32", ...), in row-major order.
func (a *Array) Values(ctx context.Context) (any, error) {
	if a.released.Load() {
		return nil, errors.UseAfterFree(errors.PhaseArray, a.typ.name, "values")
	}
	c := a.typ.ctx
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	return a.valuesLocked(ctx)
}

func (a *Array) valuesLocked(ctx context.Context) (_ any, err error) {
	if a.released.Load() {
		return nil, errors.UseAfterFree(errors.PhaseArray, a.typ.name, "values")
	}
	t := a.typ
	c := t.ctx
	n := int(a.Len())
	size := n * t.elem.Size()

	scratch := engine.NewScratch(c.foreign)
	defer func() {
		err = multierr.Append(err, scratch.Release(ctx))
	}()

	dst, err := scratch.Alloc(ctx, uint32(size))
	if err != nil {
		return nil, err
	}
	if err := c.check(ctx, t.ops.Values, uint64(c.ptr), uint64(a.ref.Load()), uint64(dst)); err != nil {
		return nil, err
	}
	raw, err := c.foreign.Read(dst, uint32(size))
	if err != nil {
		return nil, err
	}
	// raw aliases module memory, which dies with the scratch buffer.
	owned := append(make([]byte, 0, size), raw...)
	recordTransfer(ctx, t.name, "out", size)
	return t.elem.View(owned, n), nil
}

// Value returns the array's contents and shape as a binary codec value.
func (a *Array) Value(ctx context.Context) (values.Value, error) {
	data, err := a.Values(ctx)
	if err != nil {
		return values.Value{}, err
	}
	return values.Value{Data: data, Shape: a.Shape(), Elem: a.typ.elem}, nil
}

// Index reads the single element at the given position. It needs the
// manifest's index operation.
func (a *Array) Index(ctx context.Context, idx ...int64) (any, error) {
	t := a.typ
	if t.ops.Index == "" {
		return nil, errors.Unsupported(errors.PhaseArray, t.name+" has no index operation")
	}
	if len(idx) != t.rank {
		return nil, errors.New(errors.PhaseArray, errors.KindInvalidInput).
			FutType(t.name).
			Detail("index has %d coordinates, want %d", len(idx), t.rank).
			Build()
	}
	for i, x := range idx {
		if x < 0 || x >= a.shape[i] {
			return nil, errors.OutOfBounds(errors.PhaseArray, []string{t.name, strconv.Itoa(i)}, int(x), int(a.shape[i]))
		}
	}
	if a.released.Load() {
		return nil, errors.UseAfterFree(errors.PhaseArray, t.name, "index")
	}

	c := t.ctx
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	if a.released.Load() {
		return nil, errors.UseAfterFree(errors.PhaseArray, t.name, "index")
	}
	return t.indexLocked(ctx, a.ref.Load(), idx)
}

func (t *ArrayType) indexLocked(ctx context.Context, ref uint32, idx []int64) (_ any, err error) {
	c := t.ctx
	scratch := engine.NewScratch(c.foreign)
	defer func() {
		err = multierr.Append(err, scratch.Release(ctx))
	}()

	out, err := scratch.Alloc(ctx, uint32(t.elem.Size()))
	if err != nil {
		return nil, err
	}
	params := make([]uint64, 0, 3+len(idx))
	params = append(params, uint64(c.ptr), uint64(out), uint64(ref))
	for _, x := range idx {
		params = append(params, uint64(x))
	}
	if err := c.check(ctx, t.ops.Index, params...); err != nil {
		return nil, err
	}
	raw, err := c.foreign.Read(out, uint32(t.elem.Size()))
	if err != nil {
		return nil, err
	}
	return t.elem.Decode(raw), nil
}

// Release frees the foreign array. A second Release fails with a
// use-after-free error rather than freeing twice.
func (a *Array) Release(ctx context.Context) error {
	if a.released.Load() {
		return errors.UseAfterFree(errors.PhaseArray, a.typ.name, "release")
	}
	c := a.typ.ctx
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	if !a.released.CompareAndSwap(false, true) {
		return errors.UseAfterFree(errors.PhaseArray, a.typ.name, "release")
	}
	return a.releaseLocked(ctx)
}

// releaseLocked frees the array; released is already set.
func (a *Array) releaseLocked(ctx context.Context) error {
	c := a.typ.ctx
	ref := a.ref.Swap(0)
	c.untrack(a.handle)
	return c.check(ctx, a.typ.ops.Free, uint64(c.ptr), uint64(ref))
}
