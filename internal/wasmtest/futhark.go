package wasmtest

import "fmt"

// Exports of the fake program used to check allocator balance.
const (
	ExportMallocCount = "malloc_count"
	ExportFreeCount   = "free_count"
)

// ErrorText is what futhark_context_get_error reports after the fail entry.
const ErrorText = "boom: index 7 out of bounds"

// ReportText is the futhark_context_report text.
const ReportText = `{"memory":{},"events":[]}`

const (
	fnMalloc = 0
	fnFree   = 1

	globalHeap    = 0
	globalFrees   = 1
	globalMallocs = 2
	globalErr     = 3

	heapBase     = 1024
	errorOffset  = 16
	reportOffset = 128
)

// Manifest describes Program's types and entry points.
const Manifest = `{
  "backend": "c",
  "version": "0.25.0 (fake)",
  "entry_points": {
    "pair":    {"cfun": "futhark_entry_pair",    "inputs": [{"name": "a", "type": "i32", "unique": false}, {"name": "b", "type": "i32", "unique": false}], "outputs": [{"type": "[]i32", "unique": false}], "tuning_params": []},
    "sum":     {"cfun": "futhark_entry_sum",     "inputs": [{"name": "xs", "type": "[]i32", "unique": false}], "outputs": [{"type": "i32", "unique": false}], "tuning_params": []},
    "add":     {"cfun": "futhark_entry_add",     "inputs": [{"name": "a", "type": "i64", "unique": false}, {"name": "b", "type": "i64", "unique": false}], "outputs": [{"type": "i64", "unique": false}], "tuning_params": []},
    "dims":    {"cfun": "futhark_entry_dims",    "inputs": [{"name": "m", "type": "[][]f32", "unique": false}], "outputs": [{"type": "i64", "unique": false}, {"type": "i64", "unique": false}], "tuning_params": []},
    "half":    {"cfun": "futhark_entry_half",    "inputs": [{"name": "x", "type": "f32", "unique": false}], "outputs": [{"type": "f32", "unique": false}], "tuning_params": []},
    "negate":  {"cfun": "futhark_entry_negate",  "inputs": [{"name": "x", "type": "f64", "unique": false}], "outputs": [{"type": "f64", "unique": false}], "tuning_params": []},
    "flip":    {"cfun": "futhark_entry_flip",    "inputs": [{"name": "b", "type": "bool", "unique": false}], "outputs": [{"type": "bool", "unique": false}], "tuning_params": []},
    "mkpoint": {"cfun": "futhark_entry_mkpoint", "inputs": [{"name": "x", "type": "i32", "unique": false}, {"name": "y", "type": "i32", "unique": false}], "outputs": [{"type": "point", "unique": false}], "tuning_params": []},
    "norm1":   {"cfun": "futhark_entry_norm1",   "inputs": [{"name": "p", "type": "point", "unique": false}], "outputs": [{"type": "i32", "unique": false}], "tuning_params": []},
    "fail":    {"cfun": "futhark_entry_fail",    "inputs": [{"name": "x", "type": "i32", "unique": false}], "outputs": [{"type": "i32", "unique": false}], "tuning_params": []}
  },
  "types": {
    "[]i32":   {"kind": "array", "ctype": "struct futhark_i32_1d *", "elemtype": "i32", "rank": 1,
                "ops": {"new": "futhark_new_i32_1d", "free": "futhark_free_i32_1d", "shape": "futhark_shape_i32_1d", "values": "futhark_values_i32_1d"}},
    "[][]f32": {"kind": "array", "ctype": "struct futhark_f32_2d *", "elemtype": "f32", "rank": 2,
                "ops": {"new": "futhark_new_f32_2d", "free": "futhark_free_f32_2d", "shape": "futhark_shape_f32_2d", "values": "futhark_values_f32_2d"}},
    "point":   {"kind": "opaque", "ctype": "struct futhark_opaque_point *",
                "ops": {"free": "futhark_free_opaque_point"}}
  }
}`

// Program returns a reactor module implementing Manifest. Memory is
// handed out by a bump allocator; malloc and free calls are counted and
// exported through ExportMallocCount and ExportFreeCount.
func Program() []byte {
	m := &Module{
		MemoryPages:  2,
		ExportMemory: true,
		Globals:      []int32{heapBase, 0, 0, 0},
		Data: []Data{
			{Offset: errorOffset, Bytes: cstring(ErrorText)},
			{Offset: reportOffset, Bytes: cstring(ReportText)},
		},
	}
	m.Funcs = append(m.Funcs, allocator()...)
	m.Funcs = append(m.Funcs, contextFuncs()...)
	m.Funcs = append(m.Funcs, arrayFuncs("i32", 4, 1)...)
	m.Funcs = append(m.Funcs, arrayFuncs("f32", 4, 2)...)
	m.Funcs = append(m.Funcs, entryFuncs()...)
	m.Funcs = append(m.Funcs,
		Func{Name: ExportMallocCount, Results: []ValType{I32}, Body: new(Code).GlobalGet(globalMallocs)},
		Func{Name: ExportFreeCount, Results: []ValType{I32}, Body: new(Code).GlobalGet(globalFrees)},
	)
	return m.Bytes()
}

// WithoutAllocator returns a module exporting memory but no malloc/free.
func WithoutAllocator() []byte {
	m := &Module{
		MemoryPages:  1,
		ExportMemory: true,
		Funcs: []Func{
			{Name: "answer", Results: []ValType{I32}, Body: new(Code).I32Const(42)},
		},
	}
	return m.Bytes()
}

func cstring(s string) []byte {
	return append([]byte(s), 0)
}

func allocator() []Func {
	malloc := new(Code).
		GlobalGet(globalMallocs).I32Const(1).I32Add().GlobalSet(globalMallocs).
		GlobalGet(globalHeap).
		GlobalGet(globalHeap).LocalGet(0).I32Add().I32Const(7).I32Add().I32Const(-8).I32And().
		GlobalSet(globalHeap)

	free := new(Code).
		LocalGet(0).If().
		GlobalGet(globalFrees).I32Const(1).I32Add().GlobalSet(globalFrees).
		End()

	return []Func{
		{Name: "malloc", Params: []ValType{I32}, Results: []ValType{I32}, Body: malloc},
		{Name: "free", Params: []ValType{I32}, Body: free},
	}
}

// copyString mallocs a copy of the static string at off, leaving the
// pointer on the stack. tmp is a scratch i32 local.
func copyString(c *Code, off int32, s string, tmp uint32) *Code {
	n := int32(len(s) + 1)
	return c.I32Const(n).Call(fnMalloc).LocalTee(tmp).
		I32Const(off).I32Const(n).MemoryCopy().
		LocalGet(tmp)
}

func contextFuncs() []Func {
	ctxOnly := []ValType{I32}
	status := []ValType{I32}

	getError := new(Code).GlobalGet(globalErr).I32Eqz().IfI32().
		I32Const(0).
		Else().
		I32Const(0).GlobalSet(globalErr)
	copyString(getError, errorOffset, ErrorText, 1).End()

	report := copyString(new(Code), reportOffset, ReportText, 1)

	return []Func{
		{Name: "_initialize"},
		{Name: "futhark_context_config_new", Results: []ValType{I32}, Body: new(Code).I32Const(1)},
		{Name: "futhark_context_config_free", Params: ctxOnly},
		{Name: "futhark_context_new", Params: ctxOnly, Results: []ValType{I32}, Body: new(Code).I32Const(2)},
		{Name: "futhark_context_free", Params: ctxOnly},
		{Name: "futhark_context_sync", Params: ctxOnly, Results: status, Body: new(Code).I32Const(0)},
		{Name: "futhark_context_clear_caches", Params: ctxOnly, Results: status, Body: new(Code).I32Const(0)},
		{Name: "futhark_context_pause_profiling", Params: ctxOnly},
		{Name: "futhark_context_unpause_profiling", Params: ctxOnly},
		{Name: "futhark_context_get_error", Params: ctxOnly, Results: []ValType{I32}, Locals: []ValType{I32}, Body: getError},
		{Name: "futhark_context_report", Params: ctxOnly, Results: []ValType{I32}, Locals: []ValType{I32}, Body: report},
	}
}

// arrayFuncs builds new, free, shape and values for an array of the given
// element width and rank. An array is a block holding rank i64 dims
// followed by the elements.
func arrayFuncs(elem string, size int32, rank int) []Func {
	suffix := fmt.Sprintf("%s_%dd", elem, rank)
	header := int32(8 * rank)

	// new(ctx, data, dims...): locals arr, nbytes
	newParams := []ValType{I32, I32}
	for range rank {
		newParams = append(newParams, I64)
	}
	arr := uint32(2 + rank)
	nbytes := arr + 1
	newBody := new(Code).LocalGet(2)
	for k := 1; k < rank; k++ {
		newBody.LocalGet(uint32(2 + k)).I64Mul()
	}
	newBody.I32WrapI64().I32Const(size).I32Mul().LocalSet(nbytes).
		LocalGet(nbytes).I32Const(header).I32Add().Call(fnMalloc).LocalSet(arr)
	for k := range rank {
		newBody.LocalGet(arr).LocalGet(uint32(2 + k)).I64Store(uint32(8 * k))
	}
	newBody.LocalGet(arr).I32Const(header).I32Add().LocalGet(1).LocalGet(nbytes).MemoryCopy().
		LocalGet(arr)

	freeBody := new(Code).LocalGet(1).Call(fnFree).I32Const(0)
	shapeBody := new(Code).LocalGet(1)

	// values(ctx, arr, dst)
	valuesBody := new(Code).LocalGet(2).
		LocalGet(1).I32Const(header).I32Add().
		LocalGet(1).I64Load(0)
	for k := 1; k < rank; k++ {
		valuesBody.LocalGet(1).I64Load(uint32(8 * k)).I64Mul()
	}
	valuesBody.I32WrapI64().I32Const(size).I32Mul().MemoryCopy().I32Const(0)

	return []Func{
		{Name: "futhark_new_" + suffix, Params: newParams, Results: []ValType{I32}, Locals: []ValType{I32, I32}, Body: newBody},
		{Name: "futhark_free_" + suffix, Params: []ValType{I32, I32}, Results: []ValType{I32}, Body: freeBody},
		{Name: "futhark_shape_" + suffix, Params: []ValType{I32, I32}, Results: []ValType{I32}, Body: shapeBody},
		{Name: "futhark_values_" + suffix, Params: []ValType{I32, I32, I32}, Results: []ValType{I32}, Body: valuesBody},
	}
}

func entryFuncs() []Func {
	status := []ValType{I32}

	pair := new(Code).
		I32Const(16).Call(fnMalloc).LocalSet(4).
		LocalGet(4).I64Const(2).I64Store(0).
		LocalGet(4).LocalGet(2).I32Store(8).
		LocalGet(4).LocalGet(3).I32Store(12).
		LocalGet(1).LocalGet(4).I32Store(0).
		I32Const(0)

	// sum(ctx, out, xs): locals i, n, acc
	sum := new(Code).
		LocalGet(2).I64Load(0).I32WrapI64().LocalSet(4).
		Block().Loop().
		LocalGet(3).LocalGet(4).I32GeU().BrIf(1).
		LocalGet(5).
		LocalGet(2).LocalGet(3).I32Const(4).I32Mul().I32Add().I32Load(8).
		I32Add().LocalSet(5).
		LocalGet(3).I32Const(1).I32Add().LocalSet(3).
		Br(0).
		End().End().
		LocalGet(1).LocalGet(5).I32Store(0).
		I32Const(0)

	add := new(Code).LocalGet(1).LocalGet(2).LocalGet(3).I64Add().I64Store(0).I32Const(0)

	dims := new(Code).
		LocalGet(1).LocalGet(3).I64Load(0).I64Store(0).
		LocalGet(2).LocalGet(3).I64Load(8).I64Store(0).
		I32Const(0)

	half := new(Code).LocalGet(1).LocalGet(2).F32Const(0.5).F32Mul().F32Store(0).I32Const(0)
	negate := new(Code).LocalGet(1).LocalGet(2).F64Neg().F64Store(0).I32Const(0)
	flip := new(Code).LocalGet(1).LocalGet(2).I32Eqz().I32Store8(0).I32Const(0)

	mkpoint := new(Code).
		I32Const(8).Call(fnMalloc).LocalSet(4).
		LocalGet(4).LocalGet(2).I32Store(0).
		LocalGet(4).LocalGet(3).I32Store(4).
		LocalGet(1).LocalGet(4).I32Store(0).
		I32Const(0)

	norm1 := new(Code).
		LocalGet(1).
		LocalGet(2).I32Load(0).LocalGet(2).I32Load(4).I32Add().
		I32Store(0).
		I32Const(0)

	fail := new(Code).I32Const(1).GlobalSet(globalErr).I32Const(1)

	freePoint := new(Code).LocalGet(1).Call(fnFree).I32Const(0)

	return []Func{
		{Name: "futhark_entry_pair", Params: []ValType{I32, I32, I32, I32}, Results: status, Locals: []ValType{I32}, Body: pair},
		{Name: "futhark_entry_sum", Params: []ValType{I32, I32, I32}, Results: status, Locals: []ValType{I32, I32, I32}, Body: sum},
		{Name: "futhark_entry_add", Params: []ValType{I32, I32, I64, I64}, Results: status, Body: add},
		{Name: "futhark_entry_dims", Params: []ValType{I32, I32, I32, I32}, Results: status, Body: dims},
		{Name: "futhark_entry_half", Params: []ValType{I32, I32, F32}, Results: status, Body: half},
		{Name: "futhark_entry_negate", Params: []ValType{I32, I32, F64}, Results: status, Body: negate},
		{Name: "futhark_entry_flip", Params: []ValType{I32, I32, I32}, Results: status, Body: flip},
		{Name: "futhark_entry_mkpoint", Params: []ValType{I32, I32, I32, I32}, Results: status, Locals: []ValType{I32}, Body: mkpoint},
		{Name: "futhark_entry_norm1", Params: []ValType{I32, I32, I32}, Results: status, Body: norm1},
		{Name: "futhark_entry_fail", Params: []ValType{I32, I32, I32}, Results: status, Body: fail},
		{Name: "futhark_free_opaque_point", Params: []ValType{I32, I32}, Results: status, Body: freePoint},
	}
}
