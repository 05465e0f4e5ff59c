// Package futharkhost runs Futhark programs compiled to WebAssembly from Go.
//
// A Futhark program compiled for wasm ships as a module plus a manifest
// (manifest.json) describing its entry points and array types. This
// module loads both, translates Go values into the module's memory and
// back, and reads and writes the Futhark binary data format.
//
// # Packages
//
//	futharkhost/       Root package with the Memory, Allocator and Foreign interfaces
//	├── prim/          Primitive element types and their Go representations
//	├── values/        Binary data format codec (version 2)
//	├── manifest/      manifest.json parsing and validation
//	├── engine/        wazero host for the compiled module
//	├── runtime/       Contexts, array handles and entry point calls
//	├── resource/      Live handle tracking
//	├── config/        File and environment configuration
//	├── errors/        Structured error types
//	└── cmd/futhark-run/  CLI: inspect, run, encode, decode, interactive
//
// # Quick Start
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	prog, err := rt.Load(ctx, wasmBytes, manifestBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer prog.Close(ctx)
//
//	render, _ := prog.Entry("render")
//	out, err := render.Call(ctx, int32(640), int32(480))
//	img := out[0].(*runtime.Array)
//	pixels, err := img.Values(ctx) // []uint32
//	img.Release(ctx)
//
// # Handles
//
// Arrays returned by entry points live in the module's memory until they
// are released. A handle has exactly one owner; Release consumes it and a
// second Release fails with errors.ErrUseAfterFree.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. A Program's Context serializes every
// call into the module, so handles and entry points may be shared between
// goroutines, but calls are executed one at a time.
package futharkhost
