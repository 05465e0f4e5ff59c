package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/futhark-host/config"
	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/internal/wasmtest"
	"github.com/wippyai/futhark-host/manifest"
	"github.com/wippyai/futhark-host/values"
)

func requireKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	require.Error(t, err)
	var e *errors.Error
	require.True(t, stderrors.As(err, &e), "not a structured error: %v", err)
	assert.Equal(t, kind, e.Kind)
}

func decodeText(t *testing.T, b []byte) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, decodeAll(b, &out))
	return out.String()
}

func TestEncodeArgs(t *testing.T) {
	tests := []struct {
		name  string
		typ   string
		shape string
		args  []string
		want  string
	}{
		{"scalar", "i64", "", []string{"42"}, "42i64\n"},
		{"bool", "bool", "", []string{"true"}, "true\n"},
		{"vector", "[]f32", "", []string{"1", "2.5"}, "[1.0f32, 2.5f32]\n"},
		{"matrix", "[][]i32", "2,2", []string{"1", "2", "3", "4"}, "[[1i32, 2i32], [3i32, 4i32]]\n"},
		{"empty", "[]u8", "", nil, "empty([0]u8)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := encodeArgs(tt.typ, tt.shape, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decodeText(t, b))
		})
	}
}

func TestEncodeArgs_Errors(t *testing.T) {
	tests := []struct {
		name  string
		typ   string
		shape string
		args  []string
	}{
		{"unknown type", "i128", "", []string{"1"}},
		{"scalar arity", "i32", "", []string{"1", "2"}},
		{"bad scalar", "i32", "", []string{"x"}},
		{"missing shape", "[][]i32", "", []string{"1"}},
		{"bad dimension", "[]i32", "-1", nil},
		{"shape mismatch", "[][]i32", "2,3", []string{"1", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := encodeArgs(tt.typ, tt.shape, tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParseShape(t *testing.T) {
	shape, err := parseShape("", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, shape)

	shape, err = parseShape("2, 0", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 0}, shape)

	_, err = parseShape("", 2, 4)
	requireKind(t, err, errors.KindInvalidInput)

	_, err = parseShape("2,x", 2, 4)
	requireKind(t, err, errors.KindInvalidInput)
}

func TestDecodeAll_StopsAtBadData(t *testing.T) {
	a, err := values.Encode("i32", int32(7))
	require.NoError(t, err)
	raw := append(a, 'b', 2)

	var out bytes.Buffer
	err = decodeAll(raw, &out)
	assert.Error(t, err)
	assert.Equal(t, "7i32\n", out.String())
}

func TestWriteInspect(t *testing.T) {
	m, err := manifest.Parse([]byte(wasmtest.Manifest))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeInspect(&out, m, false))
	text := out.String()

	assert.Contains(t, text, "Futhark program 0.25.0 (fake) (c)")
	assert.Contains(t, text, "entry add (a: i64) (b: i64): i64\n")
	assert.Contains(t, text, "entry dims (m: [][]f32): (i64, i64)\n")
	assert.Contains(t, text, "entry mkpoint (x: i32) (y: i32): point\n")
	assert.Contains(t, text, "  point  opaque\n")
	assert.Contains(t, text, "  []i32  array\n")
	assert.NotContains(t, text, "\x1b[")
}

type programFiles struct {
	wasm     string
	manifest string
	dir      string
}

func writeProgram(t *testing.T) programFiles {
	t.Helper()
	dir := t.TempDir()
	f := programFiles{
		wasm:     filepath.Join(dir, "prog.wasm"),
		manifest: filepath.Join(dir, "prog.json"),
		dir:      dir,
	}
	require.NoError(t, os.WriteFile(f.wasm, wasmtest.Program(), 0o644))
	require.NoError(t, os.WriteFile(f.manifest, []byte(wasmtest.Manifest), 0o644))
	cfg = config.Default()
	return f
}

func encodeInputs(t *testing.T, pairs ...any) []byte {
	t.Helper()
	var b []byte
	for i := 0; i < len(pairs); i += 2 {
		var err error
		b, err = values.AppendValue(b, pairs[i].(string), pairs[i+1])
		require.NoError(t, err)
	}
	return b
}

func TestRunEntry_Binary(t *testing.T) {
	f := writeProgram(t)
	in := encodeInputs(t, "i64", int64(2), "i64", int64(40))

	var out bytes.Buffer
	err := runEntry(context.Background(), runOptions{
		wasm: f.wasm, manifest: f.manifest, entry: "add", input: "-", output: "-",
	}, bytes.NewReader(in), &out)
	require.NoError(t, err)

	v, err := values.Decode(out.Bytes(), "i64")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Data)
}

func TestRunEntry_TextToFile(t *testing.T) {
	f := writeProgram(t)
	inPath := filepath.Join(f.dir, "in.bin")
	outPath := filepath.Join(f.dir, "out.txt")
	require.NoError(t, os.WriteFile(inPath, encodeInputs(t, "i32", int32(7), "i32", int32(8)), 0o644))

	err := runEntry(context.Background(), runOptions{
		wasm: f.wasm, manifest: f.manifest, entry: "pair", input: inPath, output: outPath, text: true,
	}, nil, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "[7i32, 8i32]\n", string(got))
}

func TestRunEntry_Errors(t *testing.T) {
	f := writeProgram(t)
	base := runOptions{wasm: f.wasm, manifest: f.manifest, input: "-", output: "-"}

	t.Run("unknown entry", func(t *testing.T) {
		o := base
		o.entry = "nope"
		err := runEntry(context.Background(), o, bytes.NewReader(nil), &bytes.Buffer{})
		requireKind(t, err, errors.KindNotFound)
	})

	t.Run("trailing input", func(t *testing.T) {
		o := base
		o.entry = "half"
		in := encodeInputs(t, "f32", float32(1), "f32", float32(2))
		err := runEntry(context.Background(), o, bytes.NewReader(in), &bytes.Buffer{})
		requireKind(t, err, errors.KindInvalidInput)
	})

	t.Run("wrong input type", func(t *testing.T) {
		o := base
		o.entry = "half"
		in := encodeInputs(t, "f64", float64(1))
		err := runEntry(context.Background(), o, bytes.NewReader(in), &bytes.Buffer{})
		assert.ErrorIs(t, err, errors.ErrTypeMismatch)
	})

	t.Run("foreign failure", func(t *testing.T) {
		o := base
		o.entry = "fail"
		in := encodeInputs(t, "i32", int32(1))
		err := runEntry(context.Background(), o, bytes.NewReader(in), &bytes.Buffer{})
		assert.ErrorIs(t, err, errors.ErrForeignCall)
		assert.Contains(t, err.Error(), wasmtest.ErrorText)
	})
}

type closeRecorder struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.closeErr
}

func TestWriteAndClose_ReportsCloseError(t *testing.T) {
	v, err := values.Decode(encodeInputs(t, "i32", int32(5)), "i32")
	require.NoError(t, err)

	ok := &closeRecorder{}
	require.NoError(t, writeAndClose(ok, true, []values.Value{v}))
	assert.True(t, ok.closed)
	assert.Equal(t, "5i32\n", ok.String())

	diskFull := stderrors.New("disk full")
	failing := &closeRecorder{closeErr: diskFull}
	err = writeAndClose(failing, false, []values.Value{v})
	assert.ErrorIs(t, err, diskFull)
	assert.True(t, failing.closed)
}

func TestWriteOutputs_MissingDirectory(t *testing.T) {
	o := runOptions{output: filepath.Join(t.TempDir(), "missing", "out.bin")}
	err := writeOutputs(o, nil, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
