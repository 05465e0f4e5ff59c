package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/futhark-host/engine"
	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/manifest"
	"github.com/wippyai/futhark-host/prim"
	"github.com/wippyai/futhark-host/values"
)

type paramKind uint8

const (
	kindPrim paramKind = iota
	kindArray
	kindOpaque
)

// param is a resolved entry point input or output, record field or
// anything else crossing the boundary by type name.
type param struct {
	ctx    *Context
	array  *ArrayType
	opaque *OpaqueType
	name   string
	typ    string
	kind   paramKind
	elem   prim.ElemType
	unique bool
}

// slotSize is the size of an output slot: the scalar itself or a pointer.
func (p param) slotSize() uint32 {
	if p.kind == kindPrim {
		return uint32(p.elem.Size())
	}
	return 4
}

// lowered is one converted argument. Handles are re-read under the
// context lock so a concurrent Release is caught.
type lowered struct {
	arr    *Array
	opq    *Opaque
	typ    string
	scalar uint64
}

func (l lowered) bits() (uint64, error) {
	switch {
	case l.arr != nil:
		if l.arr.released.Load() {
			return 0, errors.UseAfterFree(errors.PhaseMarshal, l.typ, "pass as argument")
		}
		return uint64(l.arr.ref.Load()), nil
	case l.opq != nil:
		if l.opq.released.Load() {
			return 0, errors.UseAfterFree(errors.PhaseMarshal, l.typ, "pass as argument")
		}
		return uint64(l.opq.ref.Load()), nil
	}
	return l.scalar, nil
}

// lower converts a host argument for p.
func (p param) lower(path []string, arg any) (lowered, error) {
	switch p.kind {
	case kindPrim:
		v, err := p.elem.Coerce(arg)
		if err != nil {
			e := errors.ArgumentType(path, fmt.Sprintf("%T", arg), p.typ)
			e.Cause = err
			return lowered{}, e
		}
		return lowered{scalar: p.elem.Bits(v), typ: p.typ}, nil

	case kindArray:
		a, ok := arg.(*Array)
		if !ok || a == nil || a.typ != p.array {
			return lowered{}, errors.ArgumentType(path, argType(arg), p.typ)
		}
		if a.released.Load() {
			return lowered{}, errors.UseAfterFree(errors.PhaseMarshal, p.typ, "pass as argument")
		}
		return lowered{arr: a, typ: p.typ}, nil

	default:
		switch o := arg.(type) {
		case *Opaque:
			if o == nil || o.typ != p.opaque {
				return lowered{}, errors.ArgumentType(path, argType(arg), p.typ)
			}
			if o.released.Load() {
				return lowered{}, errors.UseAfterFree(errors.PhaseMarshal, p.typ, "pass as argument")
			}
			return lowered{opq: o, typ: p.typ}, nil
		case uint32:
			return lowered{scalar: uint64(o), typ: p.typ}, nil
		}
		return lowered{}, errors.ArgumentType(path, argType(arg), p.typ)
	}
}

// argType names a host argument in error messages, using the Futhark
// type for handles.
func argType(arg any) string {
	switch v := arg.(type) {
	case *Array:
		if v != nil {
			return "*Array(" + v.typ.name + ")"
		}
	case *Opaque:
		if v != nil {
			return "*Opaque(" + v.typ.name + ")"
		}
	}
	return fmt.Sprintf("%T", arg)
}

func lowerAll(owner string, params []param, args []any) ([]lowered, error) {
	out := make([]lowered, len(params))
	for i, p := range params {
		name := p.name
		if name == "" {
			name = strconv.Itoa(i)
		}
		l, err := p.lower([]string{owner, name}, args[i])
		if err != nil {
			return nil, err
		}
		out[i] = l
	}
	return out, nil
}

// lift reads a value of p's type from an output slot. The caller holds
// the context lock.
func (p param) lift(ctx context.Context, slot uint32) (any, error) {
	c := p.ctx
	if p.kind == kindPrim {
		raw, err := c.foreign.Read(slot, p.slotSize())
		if err != nil {
			return nil, err
		}
		return p.elem.Decode(raw), nil
	}

	ref, err := c.foreign.ReadU32(slot)
	if err != nil {
		return nil, err
	}
	if ref == 0 {
		return nil, errors.New(errors.PhaseCall, errors.KindForeignCall).
			FutType(p.typ).
			Detail("module returned a null %s reference", p.typ).
			Build()
	}
	if p.kind == kindOpaque {
		return p.opaque.wrap(ref), nil
	}
	a, err := p.array.fromForeignLocked(ctx, ref)
	if err != nil {
		// Unwrapped results would leak.
		return nil, multierr.Append(err, p.free(ctx, ref))
	}
	return a, nil
}

// free releases a foreign value of p's type that was never wrapped in a
// handle. The caller holds the context lock.
func (p param) free(ctx context.Context, ref uint32) error {
	if ref == 0 {
		return nil
	}
	fn := ""
	switch p.kind {
	case kindArray:
		fn = p.array.ops.Free
	case kindOpaque:
		fn = p.opaque.info.Ops.Free
	}
	if fn == "" {
		return nil
	}
	c := p.ctx
	return c.check(ctx, fn, uint64(c.ptr), uint64(ref))
}

// EntryPoint is a callable entry of the program.
type EntryPoint struct {
	ctx     *Context
	info    manifest.EntryPoint
	name    string
	inputs  []param
	outputs []param
}

// Name returns the entry point name.
func (e *EntryPoint) Name() string { return e.name }

// CFun returns the exported function implementing the entry point.
func (e *EntryPoint) CFun() string { return e.info.CFun }

// Inputs returns the manifest's input descriptions.
func (e *EntryPoint) Inputs() []manifest.Input { return e.info.Inputs }

// Outputs returns the manifest's output descriptions.
func (e *EntryPoint) Outputs() []manifest.Output { return e.info.Outputs }

// TuningParams returns the names of the entry point's tuning parameters.
func (e *EntryPoint) TuningParams() []string { return e.info.TuningParams }

// Signature renders the entry point as a Futhark declaration.
func (e *EntryPoint) Signature() string { return e.info.Signature(e.name) }

// Call runs the entry point. Scalar arguments are coerced to the declared
// primitive type; array and opaque arguments must be handles of the
// declared type created in this program. Results are returned in order:
// scalars as their host type, arrays as *Array and other declared types
// as *Opaque. Returned handles belong to the caller.
func (e *EntryPoint) Call(ctx context.Context, args ...any) (results []any, err error) {
	start := time.Now()
	ctx, span := startCallSpan(ctx, e.name, e.info.CFun)
	defer func() { endCallSpan(ctx, span, e.name, start, err) }()

	if len(args) != len(e.inputs) {
		return nil, errors.Arity(e.name, len(e.inputs), len(args))
	}
	in, err := lowerAll(e.name, e.inputs, args)
	if err != nil {
		return nil, err
	}

	c := e.ctx
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	return e.callLocked(ctx, in)
}

func (e *EntryPoint) callLocked(ctx context.Context, in []lowered) (results []any, err error) {
	c := e.ctx
	scratch := engine.NewScratch(c.foreign)
	defer func() {
		err = multierr.Append(err, scratch.Release(ctx))
	}()

	params := make([]uint64, 0, 1+len(e.outputs)+len(in))
	params = append(params, uint64(c.ptr))
	slots := make([]uint32, len(e.outputs))
	for i, out := range e.outputs {
		p, err := scratch.Alloc(ctx, out.slotSize())
		if err != nil {
			return nil, err
		}
		slots[i] = p
		params = append(params, uint64(p))
	}
	for _, l := range in {
		v, err := l.bits()
		if err != nil {
			return nil, err
		}
		params = append(params, v)
	}

	if err := c.check(ctx, e.info.CFun, params...); err != nil {
		return nil, err
	}

	results = make([]any, 0, len(e.outputs))
	for i, out := range e.outputs {
		v, err := out.lift(ctx, slots[i])
		if err != nil {
			err = multierr.Append(err, releaseLocked(ctx, results))
			return nil, multierr.Append(err, discardLocked(ctx, e.outputs[i+1:], slots[i+1:]))
		}
		results = append(results, v)
	}
	return results, nil
}

// releaseLocked frees the handles among vs, used to undo a partially
// lifted result.
func releaseLocked(ctx context.Context, vs []any) error {
	var err error
	for _, v := range vs {
		switch h := v.(type) {
		case *Array:
			if h.released.CompareAndSwap(false, true) {
				err = multierr.Append(err, h.releaseLocked(ctx))
			}
		case *Opaque:
			if h.released.CompareAndSwap(false, true) {
				err = multierr.Append(err, h.releaseLocked(ctx))
			}
		}
	}
	if err != nil {
		Logger().Warn("release partial results", zap.Error(err))
	}
	return err
}

// discardLocked frees the values the module wrote to output slots that
// were never lifted.
func discardLocked(ctx context.Context, outputs []param, slots []uint32) error {
	var err error
	for i, out := range outputs {
		if out.kind == kindPrim {
			continue
		}
		ref, rerr := out.ctx.foreign.ReadU32(slots[i])
		if rerr != nil {
			err = multierr.Append(err, rerr)
			continue
		}
		err = multierr.Append(err, out.free(ctx, ref))
	}
	if err != nil {
		Logger().Warn("free unread results", zap.Error(err))
	}
	return err
}

type releaser interface {
	Release(ctx context.Context) error
}

// CallValues runs the entry point on binary codec values: array inputs
// are copied into temporary foreign arrays and array outputs copied back
// out, and every handle involved is released before returning. Opaque
// inputs and outputs are not representable and fail.
func (e *EntryPoint) CallValues(ctx context.Context, in []values.Value) (_ []values.Value, err error) {
	if len(in) != len(e.inputs) {
		return nil, errors.Arity(e.name, len(e.inputs), len(in))
	}

	var temps []releaser
	defer func() {
		for _, t := range temps {
			err = multierr.Append(err, t.Release(ctx))
		}
	}()

	args := make([]any, len(in))
	for i, v := range in {
		p := e.inputs[i]
		path := []string{e.name, p.name}
		switch p.kind {
		case kindPrim:
			if v.Rank() != 0 || v.Elem != p.elem {
				return nil, errors.ArgumentType(path, v.TypeName(), p.typ)
			}
			args[i] = v.Data
		case kindArray:
			if v.Rank() != p.array.rank || v.Elem != p.elem {
				return nil, errors.ArgumentType(path, v.TypeName(), p.typ)
			}
			a, err := p.array.New(ctx, v.Data, v.Shape...)
			if err != nil {
				return nil, err
			}
			temps = append(temps, a)
			args[i] = a
		default:
			return nil, errors.Unsupported(errors.PhaseMarshal, "opaque input "+p.typ+" has no binary form")
		}
	}

	results, err := e.Call(ctx, args...)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if h, ok := r.(releaser); ok {
			temps = append(temps, h)
		}
	}

	out := make([]values.Value, len(results))
	for i, r := range results {
		switch v := r.(type) {
		case *Array:
			if out[i], err = v.Value(ctx); err != nil {
				return nil, err
			}
		case *Opaque:
			return nil, errors.Unsupported(errors.PhaseMarshal, "opaque output "+v.typ.name+" has no binary form")
		default:
			out[i] = values.Value{Data: v, Elem: e.outputs[i].elem}
		}
	}
	return out, nil
}
