package runtime

import (
	"context"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/wippyai/futhark-host/engine"
	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/manifest"
	"github.com/wippyai/futhark-host/resource"
)

// OpaqueType is a declared type that is not an array: an opaque value,
// a record or a sum. Its values only travel between entry points, except
// that records can be built and projected field by field.
type OpaqueType struct {
	ctx    *Context
	name   string
	info   manifest.TypeInfo
	fields []param
}

// Name returns the Futhark type name.
func (t *OpaqueType) Name() string { return t.name }

// Kind returns the manifest kind: opaque, record or sum.
func (t *OpaqueType) Kind() manifest.Kind { return t.info.Kind }

// Fields returns the record's field names, or nil for other kinds.
func (t *OpaqueType) Fields() []string {
	if t.info.Record == nil {
		return nil
	}
	names := make([]string, len(t.info.Record.Fields))
	for i, f := range t.info.Record.Fields {
		names[i] = f.Name
	}
	return names
}

func (t *OpaqueType) wrap(ref uint32) *Opaque {
	o := &Opaque{typ: t}
	o.ref.Store(ref)
	o.handle = t.ctx.track(resource.KindOpaque, t.name, ref, o)
	return o
}

// FromForeign wraps a pointer to a value of this type. The returned
// handle takes ownership of ref.
func (t *OpaqueType) FromForeign(ctx context.Context, ref uint32) (*Opaque, error) {
	if ref == 0 {
		return nil, errors.New(errors.PhaseArray, errors.KindInvalidInput).
			FutType(t.name).
			Detail("null reference").
			Build()
	}
	if err := t.ctx.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.ctx.release()
	return t.wrap(ref), nil
}

// NewRecord builds a record from its fields in manifest order.
func (t *OpaqueType) NewRecord(ctx context.Context, fields ...any) (_ *Opaque, err error) {
	if t.info.Record == nil || t.info.Record.New == "" {
		return nil, errors.Unsupported(errors.PhaseMarshal, t.name+" is not a record")
	}
	if len(fields) != len(t.fields) {
		return nil, errors.Arity(t.name, len(t.fields), len(fields))
	}
	args, err := lowerAll(t.name, t.fields, fields)
	if err != nil {
		return nil, err
	}

	c := t.ctx
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	scratch := engine.NewScratch(c.foreign)
	defer func() {
		err = multierr.Append(err, scratch.Release(ctx))
	}()
	out, err := scratch.Alloc(ctx, 4)
	if err != nil {
		return nil, err
	}
	params := []uint64{uint64(c.ptr), uint64(out)}
	for i := range args {
		v, err := args[i].bits()
		if err != nil {
			return nil, err
		}
		params = append(params, v)
	}
	if err := c.check(ctx, t.info.Record.New, params...); err != nil {
		return nil, err
	}
	ref, err := c.foreign.ReadU32(out)
	if err != nil {
		return nil, err
	}
	return t.wrap(ref), nil
}

// Restore rebuilds a value from bytes produced by Opaque.Store.
func (t *OpaqueType) Restore(ctx context.Context, data []byte) (_ *Opaque, err error) {
	if t.info.Ops.Restore == "" {
		return nil, errors.Unsupported(errors.PhaseMarshal, t.name+" has no restore operation")
	}
	c := t.ctx
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	scratch := engine.NewScratch(c.foreign)
	defer func() {
		err = multierr.Append(err, scratch.Release(ctx))
	}()
	p, err := scratch.Alloc(ctx, uint32(len(data)))
	if err != nil {
		return nil, err
	}
	if err := c.foreign.Write(p, data); err != nil {
		return nil, err
	}
	ref, err := c.call(ctx, t.info.Ops.Restore, uint64(c.ptr), uint64(p))
	if err != nil {
		return nil, err
	}
	if ref == 0 {
		return nil, errors.ForeignCall(t.info.Ops.Restore, 0, c.errorText(ctx), nil)
	}
	return t.wrap(uint32(ref)), nil
}

// Opaque is a host handle to a non-array value in foreign memory. Like
// Array it has a single owner and must be released explicitly.
type Opaque struct {
	typ      *OpaqueType
	ref      atomic.Uint32
	released atomic.Bool
	handle   resource.Handle
}

// Type returns the value's type.
func (o *Opaque) Type() *OpaqueType { return o.typ }

// Ref returns the foreign pointer, or 0 once released.
func (o *Opaque) Ref() uint32 { return o.ref.Load() }

// Released reports whether Release has been called.
func (o *Opaque) Released() bool { return o.released.Load() }

// Project reads one field of a record. Array and opaque fields come back
// as new handles the caller must release.
func (o *Opaque) Project(ctx context.Context, field string) (_ any, err error) {
	t := o.typ
	if t.info.Record == nil {
		return nil, errors.Unsupported(errors.PhaseMarshal, t.name+" is not a record")
	}
	idx := -1
	for i, f := range t.info.Record.Fields {
		if f.Name == field {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.NotFound(errors.PhaseMarshal, "field", field)
	}

	c := t.ctx
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	if o.released.Load() {
		return nil, errors.UseAfterFree(errors.PhaseMarshal, t.name, "project")
	}

	fp := t.fields[idx]
	scratch := engine.NewScratch(c.foreign)
	defer func() {
		err = multierr.Append(err, scratch.Release(ctx))
	}()
	out, err := scratch.Alloc(ctx, fp.slotSize())
	if err != nil {
		return nil, err
	}
	if err := c.check(ctx, t.info.Record.Fields[idx].Project, uint64(c.ptr), uint64(out), uint64(o.ref.Load())); err != nil {
		return nil, err
	}
	return fp.lift(ctx, out)
}

// Store serializes the value with the module's store operation.
func (o *Opaque) Store(ctx context.Context) ([]byte, error) {
	t := o.typ
	if t.info.Ops.Store == "" {
		return nil, errors.Unsupported(errors.PhaseMarshal, t.name+" has no store operation")
	}
	c := t.ctx
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	if o.released.Load() {
		return nil, errors.UseAfterFree(errors.PhaseMarshal, t.name, "store")
	}
	return o.storeLocked(ctx)
}

func (o *Opaque) storeLocked(ctx context.Context) (_ []byte, err error) {
	c := o.typ.ctx
	scratch := engine.NewScratch(c.foreign)
	defer func() {
		err = multierr.Append(err, scratch.Release(ctx))
	}()

	// void **p and size_t *n; a null *p asks the module to allocate.
	slots, err := scratch.Alloc(ctx, 8)
	if err != nil {
		return nil, err
	}
	if err := c.foreign.WriteU32(slots, 0); err != nil {
		return nil, err
	}
	if err := c.check(ctx, o.typ.info.Ops.Store, uint64(c.ptr), uint64(o.ref.Load()), uint64(slots), uint64(slots+4)); err != nil {
		return nil, err
	}
	p, err := c.foreign.ReadU32(slots)
	if err != nil {
		return nil, err
	}
	n, err := c.foreign.ReadU32(slots + 4)
	if err != nil {
		return nil, multierr.Append(err, c.foreign.Free(ctx, p))
	}
	raw, err := c.foreign.Read(p, n)
	if err != nil {
		return nil, multierr.Append(err, c.foreign.Free(ctx, p))
	}
	out := append([]byte(nil), raw...)
	return out, c.foreign.Free(ctx, p)
}

// Release frees the foreign value. Types without a free operation are
// only marked released. A second Release fails.
func (o *Opaque) Release(ctx context.Context) error {
	if o.released.Load() {
		return errors.UseAfterFree(errors.PhaseMarshal, o.typ.name, "release")
	}
	c := o.typ.ctx
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	if !o.released.CompareAndSwap(false, true) {
		return errors.UseAfterFree(errors.PhaseMarshal, o.typ.name, "release")
	}
	return o.releaseLocked(ctx)
}

func (o *Opaque) releaseLocked(ctx context.Context) error {
	c := o.typ.ctx
	ref := o.ref.Swap(0)
	c.untrack(o.handle)
	if o.typ.info.Ops.Free == "" {
		return nil
	}
	return c.check(ctx, o.typ.info.Ops.Free, uint64(c.ptr), uint64(ref))
}
