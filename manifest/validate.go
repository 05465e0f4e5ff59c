package manifest

import (
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/prim"
)

// Validate checks the manifest for internal consistency. All problems are
// reported, in sorted order, combined into one error.
func (m *Manifest) Validate() error {
	var err error
	for _, name := range m.TypeNames() {
		err = multierr.Append(err, validateType(name, m.Types[name]))
	}
	for _, name := range m.EntryNames() {
		err = multierr.Append(err, m.validateEntry(name, m.EntryPoints[name]))
	}
	return err
}

func validateType(name string, t TypeInfo) error {
	path := []string{"types", name}

	switch t.Kind {
	case KindArray:
	case KindOpaque, KindRecord, KindSum:
		return nil
	default:
		return errors.Schema(path, "unknown kind %q", t.Kind)
	}

	if _, ok := prim.Parse(t.ElemType); !ok {
		return errors.Schema(path, "unknown elemtype %q", t.ElemType)
	}
	if t.Rank < 1 {
		return errors.Schema(path, "array rank %d must be at least 1", t.Rank)
	}
	if want := strings.Repeat("[]", t.Rank) + t.ElemType; want != name {
		return errors.Schema(path, "array of rank %d over %s must be named %q", t.Rank, t.ElemType, want)
	}

	var err error
	for _, op := range []struct{ name, sym string }{
		{"new", t.Ops.New},
		{"free", t.Ops.Free},
		{"shape", t.Ops.Shape},
		{"values", t.Ops.Values},
	} {
		if op.sym == "" {
			err = multierr.Append(err, errors.Schema(append(path, "ops"), "missing %q operation", op.name))
		}
	}
	return err
}

func (m *Manifest) validateEntry(name string, e EntryPoint) error {
	path := []string{"entry_points", name}
	if e.CFun == "" {
		return errors.Schema(path, "missing cfun")
	}

	var err error
	for i, in := range e.Inputs {
		if !m.knownType(in.Type) {
			err = multierr.Append(err, errors.Schema(append(path, "inputs", strconv.Itoa(i)),
				"unknown type %q", in.Type))
		}
	}
	for i, out := range e.Outputs {
		if !m.knownType(out.Type) {
			err = multierr.Append(err, errors.Schema(append(path, "outputs", strconv.Itoa(i)),
				"unknown type %q", out.Type))
		}
	}
	return err
}

func (m *Manifest) knownType(name string) bool {
	if prim.IsPrim(name) {
		return true
	}
	_, ok := m.Types[name]
	return ok
}
