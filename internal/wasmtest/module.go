// Package wasmtest assembles small core wasm modules for tests, including
// a fake Futhark program that follows the wasm32 C API calling convention.
package wasmtest

// ValType is a wasm value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
	F32 ValType = 0x7d
	F64 ValType = 0x7c
)

const (
	sectionType   = 0x01
	sectionFunc   = 0x03
	sectionMemory = 0x05
	sectionGlobal = 0x06
	sectionExport = 0x07
	sectionCode   = 0x0a
	sectionData   = 0x0b

	exportKindFunc   = 0x00
	exportKindMemory = 0x02
)

// Func is one defined function. Functions are indexed in declaration order
// and exported under Name unless Name is empty.
type Func struct {
	Name    string
	Params  []ValType
	Results []ValType
	Locals  []ValType
	Body    *Code
}

// Data is an active data segment in memory 0.
type Data struct {
	Offset int32
	Bytes  []byte
}

// Module is a single-memory core module. Globals are mutable i32s.
type Module struct {
	Funcs        []Func
	Globals      []int32
	Data         []Data
	MemoryPages  uint32
	ExportMemory bool
}

// Bytes encodes the module in the wasm binary format.
func (m *Module) Bytes() []byte {
	out := []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version
	}
	section := func(id byte, payload []byte) {
		out = append(out, id)
		out = appendU32(out, uint32(len(payload)))
		out = append(out, payload...)
	}

	// One type per function keeps indices trivial.
	types := appendU32(nil, uint32(len(m.Funcs)))
	funcs := appendU32(nil, uint32(len(m.Funcs)))
	for i, f := range m.Funcs {
		types = append(types, 0x60)
		types = appendValTypes(types, f.Params)
		types = appendValTypes(types, f.Results)
		funcs = appendU32(funcs, uint32(i))
	}
	if len(m.Funcs) > 0 {
		section(sectionType, types)
		section(sectionFunc, funcs)
	}

	if m.MemoryPages > 0 {
		section(sectionMemory, appendU32([]byte{0x01, 0x00}, m.MemoryPages))
	}

	if len(m.Globals) > 0 {
		globals := appendU32(nil, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			globals = append(globals, byte(I32), 0x01, 0x41)
			globals = appendS64(globals, int64(g))
			globals = append(globals, 0x0b)
		}
		section(sectionGlobal, globals)
	}

	var exports []byte
	var count uint32
	if m.ExportMemory && m.MemoryPages > 0 {
		exports = appendName(exports, "memory")
		exports = append(exports, exportKindMemory, 0x00)
		count++
	}
	for i, f := range m.Funcs {
		if f.Name == "" {
			continue
		}
		exports = appendName(exports, f.Name)
		exports = append(exports, exportKindFunc)
		exports = appendU32(exports, uint32(i))
		count++
	}
	section(sectionExport, append(appendU32(nil, count), exports...))

	if len(m.Funcs) > 0 {
		code := appendU32(nil, uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			body := appendU32(nil, uint32(len(f.Locals)))
			for _, l := range f.Locals {
				body = append(body, 0x01, byte(l))
			}
			if f.Body != nil {
				body = append(body, f.Body.b...)
			}
			body = append(body, 0x0b)
			code = appendU32(code, uint32(len(body)))
			code = append(code, body...)
		}
		section(sectionCode, code)
	}

	if len(m.Data) > 0 {
		data := appendU32(nil, uint32(len(m.Data)))
		for _, d := range m.Data {
			data = append(data, 0x00, 0x41)
			data = appendS64(data, int64(d.Offset))
			data = append(data, 0x0b)
			data = appendU32(data, uint32(len(d.Bytes)))
			data = append(data, d.Bytes...)
		}
		section(sectionData, data)
	}

	return out
}

func appendValTypes(dst []byte, ts []ValType) []byte {
	dst = appendU32(dst, uint32(len(ts)))
	for _, t := range ts {
		dst = append(dst, byte(t))
	}
	return dst
}
