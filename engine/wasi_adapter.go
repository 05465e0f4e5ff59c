package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

const (
	wasiModuleName = "wasi_snapshot_preview1"
	envModuleName  = "env"
)

// InstantiateWASI instantiates WASI preview1, which Emscripten-built
// Futhark modules import for clocks, stdio and proc_exit.
func InstantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasiModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}

// InstantiateEnv instantiates the "env" host module with the Emscripten
// hooks a standalone Futhark module may import.
func InstantiateEnv(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	return r.NewHostModuleBuilder(envModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			var size uint32
			if mem := mod.Memory(); mem != nil {
				size = mem.Size()
			}
			Logger().Debug("guest memory grew",
				zap.Uint32("index", api.DecodeU32(stack[0])),
				zap.Uint32("bytes", size))
		}), []api.ValueType{api.ValueTypeI32}, nil).
		Export("emscripten_notify_memory_growth").
		Instantiate(ctx)
}
