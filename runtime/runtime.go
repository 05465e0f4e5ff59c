package runtime

import (
	"context"
	"os"

	"github.com/wippyai/futhark-host/engine"
	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/manifest"
)

// Runtime compiles and instantiates Futhark wasm modules. Programs loaded
// from one Runtime share its wazero engine.
type Runtime struct {
	engine *engine.WazeroEngine
}

func New(ctx context.Context) (*Runtime, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates a runtime on an engine built from cfg.
func NewWithConfig(ctx context.Context, cfg *engine.Config) (*Runtime, error) {
	eng, err := engine.NewWazeroEngineWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Load("create engine", err)
	}
	return &Runtime{engine: eng}, nil
}

// Close releases all runtime resources.
// All programs must be closed before calling this.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Load compiles wasm, instantiates it and binds the manifest JSON to it.
func (r *Runtime) Load(ctx context.Context, wasm, manifestJSON []byte) (*Program, error) {
	m, err := manifest.Parse(manifestJSON)
	if err != nil {
		return nil, err
	}
	return r.LoadManifest(ctx, wasm, m)
}

// LoadFiles reads a module and its manifest from disk.
func (r *Runtime) LoadFiles(ctx context.Context, wasmPath, manifestPath string) (*Program, error) {
	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Cause(err).
			Detail("read module %s", wasmPath).
			Build()
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	return r.LoadManifest(ctx, wasm, m)
}

// LoadManifest is Load with an already parsed manifest.
func (r *Runtime) LoadManifest(ctx context.Context, wasm []byte, m *manifest.Manifest) (*Program, error) {
	mod, err := r.engine.LoadModule(ctx, wasm)
	if err != nil {
		return nil, err
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}

	p, err := NewProgram(ctx, inst, m)
	if err != nil {
		_ = inst.Close(ctx)
		_ = mod.Close(ctx)
		return nil, err
	}
	p.onClose(mod.Close)
	p.onClose(inst.Close)
	return p, nil
}
