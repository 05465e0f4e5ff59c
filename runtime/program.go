package runtime

import (
	"context"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	futharkhost "github.com/wippyai/futhark-host"
	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/manifest"
	"github.com/wippyai/futhark-host/prim"
)

// Program is a loaded Futhark program: one module instance, one context
// and the types and entry points its manifest declares.
type Program struct {
	manifest *manifest.Manifest
	ctx      *Context
	arrays   map[string]*ArrayType
	opaques  map[string]*OpaqueType
	entries  map[string]*EntryPoint
	closers  []func(context.Context) error
}

// NewProgram binds a manifest to an instantiated module and creates its
// context. Every export the manifest names must be present; all missing
// ones are reported together.
func NewProgram(ctx context.Context, foreign futharkhost.Foreign, m *manifest.Manifest) (*Program, error) {
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseManifest, "nil manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := checkExports(foreign, m); err != nil {
		return nil, err
	}

	c, err := newContext(ctx, foreign)
	if err != nil {
		return nil, err
	}
	p := &Program{
		manifest: m,
		ctx:      c,
		arrays:   make(map[string]*ArrayType),
		opaques:  make(map[string]*OpaqueType),
		entries:  make(map[string]*EntryPoint, len(m.EntryPoints)),
	}
	if err := p.bind(); err != nil {
		return nil, multierr.Append(err, c.Close(ctx))
	}
	Logger().Debug("program loaded",
		zap.Int("entries", len(p.entries)),
		zap.Int("types", len(m.Types)))
	return p, nil
}

func checkExports(foreign futharkhost.Foreign, m *manifest.Manifest) error {
	missing := make(map[string][]string)
	for owner, syms := range m.Symbols() {
		for _, sym := range syms {
			if !foreign.HasExport(sym) {
				missing[owner] = append(missing[owner], sym)
			}
		}
	}
	for _, sym := range requiredContextSymbols {
		if !foreign.HasExport(sym) {
			missing["context"] = append(missing["context"], sym)
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingExportsError(missing)
	}
	return nil
}

func (p *Program) bind() error {
	m := p.manifest
	for _, name := range m.TypeNames() {
		info := m.Types[name]
		if info.Kind == manifest.KindArray {
			t, err := newArrayType(p.ctx, name, info)
			if err != nil {
				return err
			}
			p.arrays[name] = t
			continue
		}
		p.opaques[name] = &OpaqueType{ctx: p.ctx, name: name, info: info}
	}

	// Record fields may refer to any declared type, so they resolve once
	// every type exists.
	for name, t := range p.opaques {
		if t.info.Record == nil {
			continue
		}
		t.fields = make([]param, len(t.info.Record.Fields))
		for i, f := range t.info.Record.Fields {
			fp, err := p.resolve([]string{"types", name, "record", "fields", strconv.Itoa(i)}, f.Name, f.Type, false)
			if err != nil {
				return err
			}
			t.fields[i] = fp
		}
	}

	for _, name := range m.EntryNames() {
		info := m.EntryPoints[name]
		e := &EntryPoint{
			ctx:     p.ctx,
			info:    info,
			name:    name,
			inputs:  make([]param, len(info.Inputs)),
			outputs: make([]param, len(info.Outputs)),
		}
		for i, in := range info.Inputs {
			ip, err := p.resolve([]string{"entry_points", name, "inputs", strconv.Itoa(i)}, in.Name, in.Type, in.Unique)
			if err != nil {
				return err
			}
			e.inputs[i] = ip
		}
		for i, out := range info.Outputs {
			op, err := p.resolve([]string{"entry_points", name, "outputs", strconv.Itoa(i)}, strconv.Itoa(i), out.Type, out.Unique)
			if err != nil {
				return err
			}
			e.outputs[i] = op
		}
		p.entries[name] = e
	}
	return nil
}

func (p *Program) resolve(path []string, name, typ string, unique bool) (param, error) {
	pr := param{ctx: p.ctx, name: name, typ: typ, unique: unique}
	if elem, ok := prim.Parse(typ); ok {
		pr.kind = kindPrim
		pr.elem = elem
		return pr, nil
	}
	if t, ok := p.arrays[typ]; ok {
		pr.kind = kindArray
		pr.array = t
		pr.elem = t.elem
		return pr, nil
	}
	if t, ok := p.opaques[typ]; ok {
		pr.kind = kindOpaque
		pr.opaque = t
		return pr, nil
	}
	return param{}, errors.Schema(path, "unknown type %q", typ)
}

// Entry returns the named entry point.
func (p *Program) Entry(name string) (*EntryPoint, error) {
	e, ok := p.entries[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "entry point", name)
	}
	return e, nil
}

// ArrayType returns the named array type, e.g. "[]f64".
func (p *Program) ArrayType(name string) (*ArrayType, error) {
	t, ok := p.arrays[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseArray, "array type", name)
	}
	return t, nil
}

// OpaqueType returns the named opaque, record or sum type.
func (p *Program) OpaqueType(name string) (*OpaqueType, error) {
	t, ok := p.opaques[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseMarshal, "opaque type", name)
	}
	return t, nil
}

// EntryNames returns the entry point names in sorted order.
func (p *Program) EntryNames() []string {
	return p.manifest.EntryNames()
}

// Manifest returns the program's manifest. It must not be modified.
func (p *Program) Manifest() *manifest.Manifest {
	return p.manifest
}

// Context returns the program's Futhark context.
func (p *Program) Context() *Context {
	return p.ctx
}

// Call is shorthand for Entry(name) followed by Call.
func (p *Program) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	e, err := p.Entry(name)
	if err != nil {
		return nil, err
	}
	return e.Call(ctx, args...)
}

// onClose registers cleanup run after the context is freed, in reverse
// order of registration.
func (p *Program) onClose(fn func(context.Context) error) {
	p.closers = append(p.closers, fn)
}

// Close frees the context and then the module instance. Handles not yet
// released are reported as leaks and die with the instance.
func (p *Program) Close(ctx context.Context) error {
	err := p.ctx.Close(ctx)
	for i := len(p.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, p.closers[i](ctx))
	}
	p.closers = nil
	return err
}
