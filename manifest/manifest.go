package manifest

import (
	"os"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/wippyai/futhark-host/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind is the kind of a declared type.
type Kind string

const (
	KindArray  Kind = "array"
	KindOpaque Kind = "opaque"
	KindRecord Kind = "record"
	KindSum    Kind = "sum"
)

// Manifest describes a compiled Futhark program: its entry points and the
// non-primitive types they use. It is read-only once parsed.
type Manifest struct {
	EntryPoints map[string]EntryPoint `json:"entry_points"`
	Types       map[string]TypeInfo   `json:"types"`
	Backend     string                `json:"backend"`
	Version     string                `json:"version"`
}

// EntryPoint is one callable entry.
type EntryPoint struct {
	CFun         string   `json:"cfun"`
	Inputs       []Input  `json:"inputs"`
	Outputs      []Output `json:"outputs"`
	TuningParams []string `json:"tuning_params"`
}

// Signature renders the entry point the way it is declared in Futhark,
// e.g. "entry main (n: i64) (xs: []f32): (f32, []f32)".
func (e EntryPoint) Signature(name string) string {
	var b strings.Builder
	b.WriteString("entry ")
	b.WriteString(name)
	for _, in := range e.Inputs {
		b.WriteString(" (")
		b.WriteString(in.Name)
		b.WriteString(": ")
		if in.Unique {
			b.WriteByte('*')
		}
		b.WriteString(in.Type)
		b.WriteByte(')')
	}
	b.WriteString(": ")
	outs := make([]string, len(e.Outputs))
	for i, out := range e.Outputs {
		outs[i] = out.Type
		if out.Unique {
			outs[i] = "*" + out.Type
		}
	}
	if len(outs) == 1 {
		b.WriteString(outs[0])
	} else {
		b.WriteString("(" + strings.Join(outs, ", ") + ")")
	}
	return b.String()
}

type Input struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Unique bool   `json:"unique"`
}

type Output struct {
	Type   string `json:"type"`
	Unique bool   `json:"unique"`
}

// TypeInfo describes a declared type. ElemType and Rank are set for
// arrays only.
type TypeInfo struct {
	Record   *Record `json:"record,omitempty"`
	Kind     Kind    `json:"kind"`
	CType    string  `json:"ctype"`
	ElemType string  `json:"elemtype,omitempty"`
	Ops      Ops     `json:"ops"`
	Rank     int     `json:"rank,omitempty"`
}

// Ops names the exported functions operating on a type. Empty means the
// operation is not available.
type Ops struct {
	New       string `json:"new,omitempty"`
	Free      string `json:"free,omitempty"`
	Shape     string `json:"shape,omitempty"`
	Values    string `json:"values,omitempty"`
	Index     string `json:"index,omitempty"`
	NewRaw    string `json:"new_raw,omitempty"`
	ValuesRaw string `json:"values_raw,omitempty"`
	Store     string `json:"store,omitempty"`
	Restore   string `json:"restore,omitempty"`
}

// Record describes the fields of a record type.
type Record struct {
	New    string  `json:"new"`
	Fields []Field `json:"fields"`
}

type Field struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Project string `json:"project"`
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.PhaseManifest, errors.KindInvalidData).
			Cause(err).
			Detail("decode manifest").
			Build()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseManifest, errors.KindNotFound).
			Cause(err).
			Detail("read manifest %s", path).
			Build()
	}
	return Parse(data)
}

// Entry returns the named entry point.
func (m *Manifest) Entry(name string) (EntryPoint, bool) {
	e, ok := m.EntryPoints[name]
	return e, ok
}

// Type returns the named declared type.
func (m *Manifest) Type(name string) (TypeInfo, bool) {
	t, ok := m.Types[name]
	return t, ok
}

// EntryNames returns entry point names in sorted order.
func (m *Manifest) EntryNames() []string {
	return sortedKeys(m.EntryPoints)
}

// TypeNames returns declared type names in sorted order.
func (m *Manifest) TypeNames() []string {
	return sortedKeys(m.Types)
}

// Symbols returns, per owning type or entry point, the exports a module
// must provide for every manifest operation to be callable. Optional
// operations count once the manifest names them; the raw array variants
// are never called and are left out.
func (m *Manifest) Symbols() map[string][]string {
	out := make(map[string][]string, len(m.Types)+len(m.EntryPoints))
	for name, e := range m.EntryPoints {
		out[name] = []string{e.CFun}
	}
	for name, t := range m.Types {
		var syms []string
		if t.Kind == KindArray {
			syms = append(syms, t.Ops.New, t.Ops.Free, t.Ops.Shape, t.Ops.Values)
			syms = appendNamed(syms, t.Ops.Index)
		} else {
			syms = appendNamed(syms, t.Ops.Free)
		}
		syms = appendNamed(syms, t.Ops.Store, t.Ops.Restore)
		if t.Record != nil {
			syms = appendNamed(syms, t.Record.New)
			for _, f := range t.Record.Fields {
				syms = appendNamed(syms, f.Project)
			}
		}
		if len(syms) > 0 {
			out[name] = syms
		}
	}
	return out
}

func appendNamed(syms []string, names ...string) []string {
	for _, n := range names {
		if n != "" {
			syms = append(syms, n)
		}
	}
	return syms
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
