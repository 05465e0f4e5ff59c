// Package runtime loads compiled Futhark programs and calls their entry
// points.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	prog, err := rt.LoadFiles(ctx, "dotprod.wasm", "dotprod.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer prog.Close(ctx)
//
//	f32s, _ := prog.ArrayType("[]f32")
//	xs, _ := f32s.New(ctx, []float32{1, 2, 3}, 3)
//	defer xs.Release(ctx)
//
//	out, err := prog.Call(ctx, "main", xs, xs)
//	fmt.Println(out[0]) // float32(14)
//
// # Types
//
// Entry point inputs and outputs are typed by the manifest:
//
//	Futhark type     Go value
//	───────────────────────────────────────
//	i8..i64          int8..int64
//	u8..u64          uint8..uint64
//	f16              float16.Float16
//	f32, f64         float32, float64
//	bool             bool
//	[]..[]T          *Array
//	anything else    *Opaque
//
// Scalar arguments may be any Go number that converts exactly.
//
// # Ownership
//
// Arrays and opaque values live in module memory. A handle has a single
// owner and is never freed by the garbage collector: call Release when
// done. Releasing twice, or using a released handle, fails with
// errors.ErrUseAfterFree. Handles still live when the program closes are
// logged as leaks; Context.Live lists them.
//
// # Concurrency
//
// A Program is safe for concurrent use, but its context runs one foreign
// operation at a time. Callers waiting for the context give up when their
// context.Context is canceled; an operation already running completes.
// Load several programs to run entry points in parallel.
//
// # Telemetry
//
// Entry point calls create spans and record metrics through the global
// OpenTelemetry providers. The package logger is a no-op until SetLogger.
package runtime
