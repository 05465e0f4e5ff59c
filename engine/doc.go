// Package engine hosts Futhark modules compiled to WebAssembly on wazero.
//
// # Architecture
//
// The engine package provides three main types:
//
//	WazeroEngine   - Creates and manages the wazero runtime and host modules
//	WazeroModule   - A compiled module, can create instances
//	WazeroInstance - A running module: memory, malloc/free and exported calls
//
// # Instantiation Flow
//
//  1. WazeroEngine.LoadModule() compiles the binary and checks that it
//     exports memory, malloc and free
//  2. WazeroModule.Instantiate() sets up the wasi_snapshot_preview1 and env
//     host modules once per engine, then instantiates the module, running
//     _initialize for reactor builds
//  3. WazeroInstance.Call() invokes exports with raw wasm values
//
// # Calling Convention
//
// Futhark's C API compiled to wasm32 passes pointers as i32. Scalars use
// their natural wasm type; 8, 16 and 32 bit integers and f16 bit patterns
// all travel as i32:
//
//	Futhark      Wasm
//	──────────────────
//	bool, u8-u32 i32
//	i8-i32, f16  i32
//	u64, i64     i64
//	f32          f32
//	f64          f64
//	pointers     i32
//
// # Scratch Allocations
//
// Buffers handed to a single foreign call are allocated through a Scratch
// list and freed together with a deferred Release, so no path leaks them.
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use.
// WazeroInstance is NOT thread-safe and should be used by a single goroutine;
// the runtime package serializes access for you.
package engine
