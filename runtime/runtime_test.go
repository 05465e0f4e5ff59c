package runtime

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/futhark-host/engine"
	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/internal/wasmtest"
	"github.com/wippyai/futhark-host/manifest"
)

func loadTestProgram(t *testing.T) *Program {
	t.Helper()
	ctx := context.Background()

	rt, err := New(ctx)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })

	p, err := rt.Load(ctx, wasmtest.Program(), []byte(wasmtest.Manifest))
	if err != nil {
		t.Fatalf("load program: %v", err)
	}
	t.Cleanup(func() { p.Close(ctx) })
	return p
}

// outstanding returns guest mallocs not yet matched by a free.
func outstanding(t *testing.T, p *Program) int32 {
	t.Helper()
	ctx := context.Background()
	f := p.ctx.foreign
	m, err := f.Call(ctx, wasmtest.ExportMallocCount)
	if err != nil {
		t.Fatalf("malloc_count: %v", err)
	}
	n, err := f.Call(ctx, wasmtest.ExportFreeCount)
	if err != nil {
		t.Fatalf("free_count: %v", err)
	}
	return int32(m[0]) - int32(n[0])
}

func TestLoad_EntryNames(t *testing.T) {
	p := loadTestProgram(t)

	got := strings.Join(p.EntryNames(), ",")
	want := "add,dims,fail,flip,half,mkpoint,negate,norm1,pair,sum"
	if got != want {
		t.Errorf("EntryNames = %s, want %s", got, want)
	}
	if p.Context().Ptr() != 2 {
		t.Errorf("context ptr = %d, want 2", p.Context().Ptr())
	}
	if p.Manifest().Backend != "c" {
		t.Errorf("backend = %q", p.Manifest().Backend)
	}
}

func TestLoad_ManifestErrors(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	defer rt.Close(ctx)

	t.Run("invalid json", func(t *testing.T) {
		_, err := rt.Load(ctx, wasmtest.Program(), []byte("{"))
		var e *errors.Error
		if !stderrors.As(err, &e) || e.Phase != errors.PhaseManifest {
			t.Fatalf("expected manifest error, got %v", err)
		}
	})

	t.Run("missing exports", func(t *testing.T) {
		doc := strings.Replace(wasmtest.Manifest, "futhark_entry_sum", "futhark_entry_gone", 1)
		_, err := rt.Load(ctx, wasmtest.Program(), []byte(doc))
		var missing *errors.MissingExportsError
		if !stderrors.As(err, &missing) {
			t.Fatalf("expected MissingExportsError, got %v", err)
		}
		if len(missing.Exports) != 1 || missing.Exports[0].Owner != "sum" || missing.Exports[0].Symbol != "futhark_entry_gone" {
			t.Errorf("missing = %+v", missing.Exports)
		}
	})

	t.Run("nil manifest", func(t *testing.T) {
		_, err := rt.LoadManifest(ctx, wasmtest.Program(), nil)
		if err == nil {
			t.Fatal("expected error for nil manifest")
		}
	})

	t.Run("module without allocator", func(t *testing.T) {
		_, err := rt.Load(ctx, wasmtest.WithoutAllocator(), []byte(wasmtest.Manifest))
		var missing *errors.MissingExportsError
		if !stderrors.As(err, &missing) {
			t.Fatalf("expected MissingExportsError, got %v", err)
		}
	})
}

func TestLoadFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	wasmPath := filepath.Join(dir, "prog.wasm")
	manifestPath := filepath.Join(dir, "prog.json")
	if err := os.WriteFile(wasmPath, wasmtest.Program(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(manifestPath, []byte(wasmtest.Manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	rt, err := NewWithConfig(ctx, &engine.Config{Mode: engine.ModeInterpreter})
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	defer rt.Close(ctx)

	p, err := rt.LoadFiles(ctx, wasmPath, manifestPath)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	res, err := p.Call(ctx, "add", int64(40), int64(2))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res[0] != int64(42) {
		t.Errorf("add = %v, want 42", res[0])
	}
	if err := p.Close(ctx); err != nil {
		t.Errorf("close: %v", err)
	}

	_, err = rt.LoadFiles(ctx, filepath.Join(dir, "missing.wasm"), manifestPath)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCall_Scalars(t *testing.T) {
	p := loadTestProgram(t)
	ctx := context.Background()

	tests := []struct {
		entry string
		args  []any
		want  any
	}{
		{"add", []any{int64(1) << 40, int64(2)}, int64(1)<<40 + 2},
		{"add", []any{3, -5}, int64(-2)},
		{"half", []any{float32(3)}, float32(1.5)},
		{"negate", []any{2.5}, -2.5},
		{"flip", []any{true}, false},
		{"flip", []any{false}, true},
	}
	for _, tt := range tests {
		res, err := p.Call(ctx, tt.entry, tt.args...)
		if err != nil {
			t.Errorf("%s%v: %v", tt.entry, tt.args, err)
			continue
		}
		if len(res) != 1 || res[0] != tt.want {
			t.Errorf("%s%v = %#v, want %#v", tt.entry, tt.args, res, tt.want)
		}
	}
	if n := outstanding(t, p); n != 0 {
		t.Errorf("outstanding allocations = %d, want 0", n)
	}
}

func TestCall_ArrayOutput(t *testing.T) {
	p := loadTestProgram(t)
	ctx := context.Background()

	res, err := p.Call(ctx, "pair", int32(3), int32(-5))
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	arr, ok := res[0].(*Array)
	if !ok {
		t.Fatalf("result is %T, want *Array", res[0])
	}
	if arr.Type().Name() != "[]i32" {
		t.Errorf("type = %s", arr.Type().Name())
	}
	if s := arr.Shape(); len(s) != 1 || s[0] != 2 {
		t.Errorf("shape = %v, want [2]", s)
	}

	data, err := arr.Values(ctx)
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	xs := data.([]int32)
	if len(xs) != 2 || xs[0] != 3 || xs[1] != -5 {
		t.Errorf("values = %v, want [3 -5]", xs)
	}

	if n := outstanding(t, p); n != 1 {
		t.Errorf("outstanding allocations = %d, want 1", n)
	}
	if err := arr.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n := outstanding(t, p); n != 0 {
		t.Errorf("outstanding allocations after release = %d, want 0", n)
	}
}

func TestCall_ArrayInput(t *testing.T) {
	p := loadTestProgram(t)
	ctx := context.Background()

	i32s, err := p.ArrayType("[]i32")
	if err != nil {
		t.Fatal(err)
	}
	xs, err := i32s.New(ctx, []int{1, 2, 3, 4}, 4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer xs.Release(ctx)

	res, err := p.Call(ctx, "sum", xs)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if res[0] != int32(10) {
		t.Errorf("sum = %v, want 10", res[0])
	}

	// The input is still owned by the caller.
	if xs.Released() {
		t.Error("input released by call")
	}
	res, err = p.Call(ctx, "sum", xs)
	if err != nil || res[0] != int32(10) {
		t.Errorf("second sum = %v, %v", res, err)
	}
}

func TestCall_MultipleOutputs(t *testing.T) {
	p := loadTestProgram(t)
	ctx := context.Background()

	f32s, err := p.ArrayType("[][]f32")
	if err != nil {
		t.Fatal(err)
	}
	m, err := f32s.New(ctx, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Release(ctx)

	res, err := p.Call(ctx, "dims", m)
	if err != nil {
		t.Fatalf("dims: %v", err)
	}
	if len(res) != 2 || res[0] != int64(2) || res[1] != int64(3) {
		t.Errorf("dims = %v, want [2 3]", res)
	}

	v, err := m.Value(ctx)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v.TypeName() != "[][]f32" || v.Len() != 6 {
		t.Errorf("value = %s with %d elements", v.TypeName(), v.Len())
	}
	if got := v.Data.([]float32); got[5] != 6 {
		t.Errorf("last element = %v", got[5])
	}
}

func TestCall_Opaque(t *testing.T) {
	p := loadTestProgram(t)
	ctx := context.Background()

	res, err := p.Call(ctx, "mkpoint", 3, 4)
	if err != nil {
		t.Fatalf("mkpoint: %v", err)
	}
	pt, ok := res[0].(*Opaque)
	if !ok {
		t.Fatalf("result is %T, want *Opaque", res[0])
	}
	if pt.Type().Name() != "point" || pt.Type().Kind() != manifest.KindOpaque {
		t.Errorf("type = %s (%s)", pt.Type().Name(), pt.Type().Kind())
	}
	if pt.Type().Fields() != nil {
		t.Errorf("opaque has fields %v", pt.Type().Fields())
	}

	res, err = p.Call(ctx, "norm1", pt)
	if err != nil {
		t.Fatalf("norm1: %v", err)
	}
	if res[0] != int32(7) {
		t.Errorf("norm1 = %v, want 7", res[0])
	}

	if _, err := pt.Store(ctx); err == nil {
		t.Error("store without store op should fail")
	}
	if err := pt.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := p.Call(ctx, "norm1", pt); !stderrors.Is(err, errors.ErrUseAfterFree) {
		t.Errorf("norm1 on released point: %v", err)
	}
	if n := outstanding(t, p); n != 0 {
		t.Errorf("outstanding allocations = %d, want 0", n)
	}
}

func TestCall_ForeignFailure(t *testing.T) {
	p := loadTestProgram(t)
	ctx := context.Background()

	_, err := p.Call(ctx, "fail", 1)
	if !stderrors.Is(err, errors.ErrForeignCall) {
		t.Fatalf("expected foreign call error, got %v", err)
	}
	if !strings.Contains(err.Error(), wasmtest.ErrorText) {
		t.Errorf("error %q does not carry %q", err, wasmtest.ErrorText)
	}

	// The message was consumed with the failure.
	msg, err := p.Context().LastError(ctx)
	if err != nil || msg != "" {
		t.Errorf("LastError = %q, %v", msg, err)
	}
	if n := outstanding(t, p); n != 0 {
		t.Errorf("outstanding allocations = %d, want 0", n)
	}

	// The context stays usable.
	res, err := p.Call(ctx, "add", 1, 1)
	if err != nil || res[0] != int64(2) {
		t.Errorf("add after failure = %v, %v", res, err)
	}
}

func TestCall_ArgumentErrors(t *testing.T) {
	p := loadTestProgram(t)
	ctx := context.Background()

	f32s, _ := p.ArrayType("[][]f32")
	m, err := f32s.New(ctx, []float32{1}, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(ctx)

	tests := []struct {
		name  string
		entry string
		args  []any
		want  error
	}{
		{"too few", "add", []any{1}, errors.ErrArity},
		{"too many", "flip", []any{true, false}, errors.ErrArity},
		{"string for i64", "add", []any{"1", 2}, errors.ErrArgumentType},
		{"overflow", "pair", []any{int64(1) << 40, 0}, errors.ErrArgumentType},
		{"wrong array type", "sum", []any{m}, errors.ErrArgumentType},
		{"slice for array", "sum", []any{[]int32{1}}, errors.ErrArgumentType},
		{"array for opaque", "norm1", []any{m}, errors.ErrArgumentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Call(ctx, tt.entry, tt.args...)
			if !stderrors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := p.Entry("nope"); err == nil {
		t.Error("expected error for unknown entry")
	}
	if n := outstanding(t, p); n != 1 {
		t.Errorf("outstanding allocations = %d, want 1", n)
	}
}

func TestEntryPoint_Signature(t *testing.T) {
	p := loadTestProgram(t)

	tests := map[string]string{
		"pair":  "entry pair (a: i32) (b: i32): []i32",
		"dims":  "entry dims (m: [][]f32): (i64, i64)",
		"norm1": "entry norm1 (p: point): i32",
	}
	for name, want := range tests {
		e, err := p.Entry(name)
		if err != nil {
			t.Fatal(err)
		}
		if got := e.Signature(); got != want {
			t.Errorf("Signature(%s) = %q, want %q", name, got, want)
		}
	}

	e, _ := p.Entry("pair")
	if e.CFun() != "futhark_entry_pair" || len(e.Inputs()) != 2 || len(e.Outputs()) != 1 {
		t.Errorf("pair = %s %v %v", e.CFun(), e.Inputs(), e.Outputs())
	}
}

func TestProgram_CloseReportsLeaks(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close(ctx)

	p, err := rt.Load(ctx, wasmtest.Program(), []byte(wasmtest.Manifest))
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Call(ctx, "pair", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	arr := res[0].(*Array)

	live := p.Context().Live()
	if len(live) != 1 || live[0].Type != "[]i32" || live[0].Ref != arr.Ref() {
		t.Errorf("Live = %+v", live)
	}
	if s := p.Context().Stats(); s.Created != 1 || s.Live != 1 {
		t.Errorf("Stats = %+v", s)
	}

	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !p.Context().Closed() {
		t.Error("context not closed")
	}
	if err := p.Close(ctx); err != nil {
		t.Errorf("second close: %v", err)
	}

	var e *errors.Error
	if _, err := p.Call(ctx, "add", 1, 2); !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Errorf("call after close: %v", err)
	}
	if err := arr.Release(ctx); !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Errorf("release after close: %v", err)
	}
}
