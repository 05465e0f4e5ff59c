package futharkhost

import "context"

// Memory is the linear memory of a loaded Futhark module.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates linear memory through the module's malloc and free
// exports.
type Allocator interface {
	Alloc(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr uint32) error
}

// Caller invokes exported functions with raw wasm values: i32 and i64 as
// their unsigned bit patterns, f32 and f64 as IEEE bits.
type Caller interface {
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	HasExport(name string) bool
}

// Foreign is everything the marshaling layer needs from a loaded module.
// Implementations are not safe for concurrent use.
type Foreign interface {
	Memory
	Allocator
	Caller
}
