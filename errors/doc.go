// Package errors provides structured error types for the futhark-host module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: path, Go/Futhark type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindArgumentType).
//		Path("main", "arg1").
//		GoType("*runtime.Array").
//		FutType("[]f32").
//		Detail("array of type []i32 passed").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Arity("main", 2, 3)
//	err := errors.OutOfData(errors.PhaseDecode, "payload", 24, 16)
//
// The Kind sentinels (ErrFormat, ErrOutOfData, ErrUseAfterFree, ...) match any
// error of that Kind through errors.Is, whatever the phase:
//
//	if errors.Is(err, fherrors.ErrUseAfterFree) { ... }
package errors
