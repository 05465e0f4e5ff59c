package runtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
)

// fakeForeign is an in-process stand-in for a compiled Futhark module.
// It implements arrays of i32 with an index operation and a record type
// "rec" {x: i32, ys: []i32} with store and restore, and lets tests break
// individual operations.
type fakeForeign struct {
	mem   []byte
	heap  uint32
	live  map[uint32]uint32
	funcs map[string]func(p []uint64) []uint64

	pendingError string
	failAlloc    bool
	configFreed  bool
	contextFreed bool
}

const fakeManifest = `{
  "backend": "c",
  "version": "fake",
  "entry_points": {
    "first": {"cfun": "futhark_entry_first", "inputs": [{"name": "r", "type": "rec", "unique": false}], "outputs": [{"type": "i32", "unique": false}], "tuning_params": []},
    "split": {"cfun": "futhark_entry_split", "inputs": [{"name": "x", "type": "i32", "unique": false}],
              "outputs": [{"type": "[]i32", "unique": false}, {"type": "[]i32", "unique": false}, {"type": "rec", "unique": false}], "tuning_params": []}
  },
  "types": {
    "[]i32": {"kind": "array", "ctype": "struct futhark_i32_1d *", "elemtype": "i32", "rank": 1,
              "ops": {"new": "futhark_new_i32_1d", "free": "futhark_free_i32_1d", "shape": "futhark_shape_i32_1d",
                      "values": "futhark_values_i32_1d", "index": "futhark_index_i32_1d"}},
    "rec": {"kind": "record", "ctype": "struct futhark_opaque_rec *",
            "ops": {"free": "futhark_free_opaque_rec", "store": "futhark_store_opaque_rec", "restore": "futhark_restore_opaque_rec"},
            "record": {"new": "futhark_new_opaque_rec", "fields": [
              {"name": "x", "type": "i32", "project": "futhark_project_opaque_rec_x"},
              {"name": "ys", "type": "[]i32", "project": "futhark_project_opaque_rec_ys"}]}}
  }
}`

func newFakeForeign() *fakeForeign {
	f := &fakeForeign{
		mem:  make([]byte, 1<<16),
		heap: 64,
		live: make(map[uint32]uint32),
	}
	ok := func() []uint64 { return []uint64{0} }
	f.funcs = map[string]func([]uint64) []uint64{
		symConfigNew:  func([]uint64) []uint64 { return []uint64{1} },
		symConfigFree: func([]uint64) []uint64 { f.configFreed = true; return nil },
		symContextNew: func([]uint64) []uint64 { return []uint64{2} },
		symContextFree: func([]uint64) []uint64 {
			f.contextFreed = true
			return nil
		},
		symSync:        func([]uint64) []uint64 { return ok() },
		symClearCaches: func([]uint64) []uint64 { return ok() },
		symGetError: func([]uint64) []uint64 {
			if f.pendingError == "" {
				return []uint64{0}
			}
			p := f.mustAlloc(uint32(len(f.pendingError) + 1))
			copy(f.mem[p:], f.pendingError)
			f.mem[p+uint32(len(f.pendingError))] = 0
			f.pendingError = ""
			return []uint64{uint64(p)}
		},

		"futhark_new_i32_1d": func(p []uint64) []uint64 {
			n := uint32(p[2])
			data := make([]int32, n)
			for i := range data {
				data[i] = int32(binary.LittleEndian.Uint32(f.mem[uint32(p[1])+4*uint32(i):]))
			}
			return []uint64{uint64(f.newArray(data))}
		},
		"futhark_free_i32_1d": func(p []uint64) []uint64 {
			f.release(uint32(p[1]))
			return ok()
		},
		"futhark_shape_i32_1d": func(p []uint64) []uint64 { return []uint64{p[1]} },
		"futhark_values_i32_1d": func(p []uint64) []uint64 {
			data := f.arrayData(uint32(p[1]))
			for i, v := range data {
				binary.LittleEndian.PutUint32(f.mem[uint32(p[2])+4*uint32(i):], uint32(v))
			}
			return ok()
		},
		"futhark_index_i32_1d": func(p []uint64) []uint64 {
			data := f.arrayData(uint32(p[2]))
			i := int64(p[3])
			if i < 0 || i >= int64(len(data)) {
				f.pendingError = "index out of bounds"
				return []uint64{1}
			}
			binary.LittleEndian.PutUint32(f.mem[uint32(p[1]):], uint32(data[i]))
			return ok()
		},

		// A record is {x i32, ys *array}; it owns a copy of ys.
		"futhark_new_opaque_rec": func(p []uint64) []uint64 {
			r := f.newRecord(int32(uint32(p[2])), f.arrayData(uint32(p[3])))
			binary.LittleEndian.PutUint32(f.mem[uint32(p[1]):], r)
			return ok()
		},
		"futhark_free_opaque_rec": func(p []uint64) []uint64 {
			r := uint32(p[1])
			f.release(binary.LittleEndian.Uint32(f.mem[r+4:]))
			f.release(r)
			return ok()
		},
		"futhark_project_opaque_rec_x": func(p []uint64) []uint64 {
			copy(f.mem[uint32(p[1]):], f.mem[uint32(p[2]):uint32(p[2])+4])
			return ok()
		},
		"futhark_project_opaque_rec_ys": func(p []uint64) []uint64 {
			ys := binary.LittleEndian.Uint32(f.mem[uint32(p[2])+4:])
			binary.LittleEndian.PutUint32(f.mem[uint32(p[1]):], f.newArray(f.arrayData(ys)))
			return ok()
		},
		"futhark_store_opaque_rec": func(p []uint64) []uint64 {
			r := uint32(p[1])
			ys := f.arrayData(binary.LittleEndian.Uint32(f.mem[r+4:]))
			n := uint32(8 + 4*len(ys))
			buf := f.mustAlloc(n)
			copy(f.mem[buf:], f.mem[r:r+4])
			binary.LittleEndian.PutUint32(f.mem[buf+4:], uint32(len(ys)))
			for i, v := range ys {
				binary.LittleEndian.PutUint32(f.mem[buf+8+4*uint32(i):], uint32(v))
			}
			binary.LittleEndian.PutUint32(f.mem[uint32(p[2]):], buf)
			binary.LittleEndian.PutUint32(f.mem[uint32(p[3]):], n)
			return ok()
		},
		"futhark_restore_opaque_rec": func(p []uint64) []uint64 {
			buf := uint32(p[1])
			x := int32(binary.LittleEndian.Uint32(f.mem[buf:]))
			ys := make([]int32, binary.LittleEndian.Uint32(f.mem[buf+4:]))
			for i := range ys {
				ys[i] = int32(binary.LittleEndian.Uint32(f.mem[buf+8+4*uint32(i):]))
			}
			return []uint64{uint64(f.newRecord(x, ys))}
		},
		"futhark_entry_first": func(p []uint64) []uint64 {
			ys := f.arrayData(binary.LittleEndian.Uint32(f.mem[uint32(p[2])+4:]))
			if len(ys) == 0 {
				f.pendingError = "empty array"
				return []uint64{1}
			}
			binary.LittleEndian.PutUint32(f.mem[uint32(p[1]):], uint32(ys[0]))
			return ok()
		},
		// split writes ([x], [x, x], {x, [x]}); x == 0 makes the first
		// result a null pointer while the others are still produced.
		"futhark_entry_split": func(p []uint64) []uint64 {
			x := int32(uint32(p[4]))
			var first uint32
			if x != 0 {
				first = f.newArray([]int32{x})
			}
			binary.LittleEndian.PutUint32(f.mem[uint32(p[1]):], first)
			binary.LittleEndian.PutUint32(f.mem[uint32(p[2]):], f.newArray([]int32{x, x}))
			binary.LittleEndian.PutUint32(f.mem[uint32(p[3]):], f.newRecord(x, []int32{x}))
			return ok()
		},
	}
	return f
}

func (f *fakeForeign) mustAlloc(n uint32) uint32 {
	p, err := f.Alloc(context.Background(), n)
	if err != nil {
		panic(err)
	}
	return p
}

// newArray lays out an array as an i64 length followed by the elements.
func (f *fakeForeign) newArray(data []int32) uint32 {
	p := f.mustAlloc(8 + 4*uint32(len(data)))
	binary.LittleEndian.PutUint64(f.mem[p:], uint64(len(data)))
	for i, v := range data {
		binary.LittleEndian.PutUint32(f.mem[p+8+4*uint32(i):], uint32(v))
	}
	return p
}

func (f *fakeForeign) arrayData(p uint32) []int32 {
	n := binary.LittleEndian.Uint64(f.mem[p:])
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(f.mem[p+8+4*uint32(i):]))
	}
	return out
}

func (f *fakeForeign) newRecord(x int32, ys []int32) uint32 {
	r := f.mustAlloc(8)
	binary.LittleEndian.PutUint32(f.mem[r:], uint32(x))
	binary.LittleEndian.PutUint32(f.mem[r+4:], f.newArray(ys))
	return r
}

func (f *fakeForeign) release(p uint32) {
	if err := f.Free(context.Background(), p); err != nil {
		panic(err)
	}
}

// liveBlocks returns the allocations not yet freed, sorted.
func (f *fakeForeign) liveBlocks() []uint32 {
	out := make([]uint32, 0, len(f.live))
	for p := range f.live {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *fakeForeign) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(f.mem)) {
		return fmt.Errorf("access [%d, %d) out of bounds", offset, uint64(offset)+uint64(length))
	}
	return nil
}

func (f *fakeForeign) Read(offset, length uint32) ([]byte, error) {
	if err := f.check(offset, length); err != nil {
		return nil, err
	}
	return f.mem[offset : offset+length], nil
}

func (f *fakeForeign) Write(offset uint32, data []byte) error {
	if err := f.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(f.mem[offset:], data)
	return nil
}

func (f *fakeForeign) ReadU32(offset uint32) (uint32, error) {
	b, err := f.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (f *fakeForeign) ReadU64(offset uint32) (uint64, error) {
	b, err := f.Read(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (f *fakeForeign) WriteU32(offset, value uint32) error {
	return f.Write(offset, binary.LittleEndian.AppendUint32(nil, value))
}

func (f *fakeForeign) WriteU64(offset uint32, value uint64) error {
	return f.Write(offset, binary.LittleEndian.AppendUint64(nil, value))
}

func (f *fakeForeign) Alloc(_ context.Context, size uint32) (uint32, error) {
	if f.failAlloc {
		return 0, fmt.Errorf("out of memory")
	}
	p := f.heap
	f.heap = (f.heap + size + 7) &^ 7
	if f.heap == p {
		f.heap += 8
	}
	if f.heap > uint32(len(f.mem)) {
		return 0, fmt.Errorf("out of memory")
	}
	f.live[p] = size
	return p, nil
}

func (f *fakeForeign) Free(_ context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	if _, ok := f.live[ptr]; !ok {
		return fmt.Errorf("free of unallocated pointer %#x", ptr)
	}
	delete(f.live, ptr)
	return nil
}

func (f *fakeForeign) Call(_ context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, ok := f.funcs[name]
	if !ok {
		return nil, fmt.Errorf("no export %q", name)
	}
	return fn(params), nil
}

func (f *fakeForeign) HasExport(name string) bool {
	_, ok := f.funcs[name]
	return ok
}
