package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	futharkhost "github.com/wippyai/futhark-host"
	"github.com/wippyai/futhark-host/errors"
)

const (
	exportMemory     = "memory"
	exportMalloc     = "malloc"
	exportFree       = "free"
	exportInitialize = "_initialize"
)

// Mode selects how wazero executes guest code.
type Mode string

const (
	ModeCompiler    Mode = "compiler"
	ModeInterpreter Mode = "interpreter"
)

// WazeroEngine hosts compiled Futhark modules on a wazero runtime.
type WazeroEngine struct {
	runtime      wazero.Runtime
	cfg          Config
	hostInitMu   sync.Mutex
	hostInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// Stdout and Stderr receive the guest's WASI output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Mode selects compiler or interpreter. Empty picks wazero's default
	// for the platform.
	Mode Mode

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental),
	// needed by modules built with shared memory.
	EnableThreads bool
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	var runtimeCfg wazero.RuntimeConfig
	switch c.Mode {
	case ModeCompiler:
		runtimeCfg = wazero.NewRuntimeConfigCompiler()
	case ModeInterpreter:
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	case "":
		runtimeCfg = wazero.NewRuntimeConfig()
	default:
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(c.Mode).
			Detail("unknown engine mode %q", c.Mode).
			Build()
	}

	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	if c.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}

	Logger().Debug("engine created",
		zap.String("mode", string(c.Mode)),
		zap.Uint32("memory_limit_pages", c.MemoryLimitPages))

	return &WazeroEngine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     c,
	}, nil
}

// LoadModule compiles a Futhark wasm module. The module must export its
// linear memory and the malloc/free pair.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	var missing []string
	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		missing = append(missing, exportMemory)
	}
	exports := compiled.ExportedFunctions()
	for _, name := range []string{exportMalloc, exportFree} {
		if _, ok := exports[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		_ = compiled.Close(ctx)
		return nil, errors.NewMissingExportsError(map[string][]string{"module": missing})
	}

	_, reactor := exports[exportInitialize]
	return &WazeroModule{
		engine:   e,
		compiled: compiled,
		reactor:  reactor,
	}, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// InitHostModules instantiates the WASI and env host modules for this
// engine's runtime. Safe for concurrent calls from modules sharing the
// same engine.
func (e *WazeroEngine) InitHostModules(ctx context.Context) error {
	if e.hostInitDone.Load() {
		return nil
	}

	e.hostInitMu.Lock()
	defer e.hostInitMu.Unlock()

	if e.hostInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasiModuleName) == nil {
		if _, err := InstantiateWASI(ctx, e.runtime); err != nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate WASI")
		}
	}
	if e.runtime.Module(envModuleName) == nil {
		if _, err := InstantiateEnv(ctx, e.runtime); err != nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate env")
		}
	}

	e.hostInitDone.Store(true)
	return nil
}

// WazeroModule is a compiled Futhark module
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	reactor  bool
}

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	Name string
}

// ExportNames returns the module's exported function names, sorted.
func (m *WazeroModule) ExportNames() []string {
	exports := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the compiled code.
func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

func (m *WazeroModule) Instantiate(ctx context.Context) (*WazeroInstance, error) {
	return m.InstantiateWithConfig(ctx, nil)
}

// InstantiateWithConfig creates an instance with custom configuration
func (m *WazeroModule) InstantiateWithConfig(ctx context.Context, cfg *InstanceConfig) (*WazeroInstance, error) {
	if err := m.engine.InitHostModules(ctx); err != nil {
		return nil, err
	}

	modConfig := wazero.NewModuleConfig()
	if cfg != nil && cfg.Name != "" {
		modConfig = modConfig.WithName(cfg.Name)
	} else {
		modConfig = modConfig.WithName("") // anonymous for parallel instantiation
	}
	if m.reactor {
		modConfig = modConfig.WithStartFunctions(exportInitialize)
	} else {
		modConfig = modConfig.WithStartFunctions()
	}
	if w := m.engine.cfg.Stdout; w != nil {
		modConfig = modConfig.WithStdout(w)
	}
	if w := m.engine.cfg.Stderr; w != nil {
		modConfig = modConfig.WithStderr(w)
	}

	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	wazInst := &WazeroInstance{
		instance:  instance,
		funcCache: make(map[string]api.Function),
	}
	if mem := instance.Memory(); mem != nil {
		wazInst.memory = &WazeroMemory{mem: mem}
	}
	wazInst.alloc = &wazeroAllocator{
		allocFn:  instance.ExportedFunction(exportMalloc),
		freeFn:   instance.ExportedFunction(exportFree),
		stackBuf: make([]uint64, 1),
	}

	Logger().Debug("module instantiated",
		zap.String("name", instance.Name()),
		zap.Bool("reactor", m.reactor),
		zap.Uint32("memory_bytes", wazInst.MemorySize()))

	return wazInst, nil
}

// WazeroInstance is a running Futhark module. It implements
// futharkhost.Foreign and is NOT thread-safe.
type WazeroInstance struct {
	instance  api.Module
	memory    *WazeroMemory
	alloc     *wazeroAllocator
	funcCache map[string]api.Function
	cacheMu   sync.RWMutex
}

// getExportedFunction returns an exported function, caching lookups.
func (i *WazeroInstance) getExportedFunction(name string) api.Function {
	i.cacheMu.RLock()
	fn, ok := i.funcCache[name]
	i.cacheMu.RUnlock()
	if ok {
		return fn
	}

	fn = i.instance.ExportedFunction(name)
	i.cacheMu.Lock()
	i.funcCache[name] = fn
	i.cacheMu.Unlock()
	return fn
}

// HasExport reports whether the module exports a function called name.
func (i *WazeroInstance) HasExport(name string) bool {
	if i.instance == nil {
		return false
	}
	return i.getExportedFunction(name) != nil
}

// Call invokes an exported function with raw wasm values.
func (i *WazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.instance == nil {
		return nil, errors.Closed(errors.PhaseCall, "instance")
	}
	fn := i.getExportedFunction(name)
	if fn == nil {
		return nil, errors.New(errors.PhaseCall, errors.KindMissingExport).
			Detail("export %q not found", name).
			Build()
	}
	if want := len(fn.Definition().ParamTypes()); want != len(params) {
		return nil, errors.New(errors.PhaseCall, errors.KindArity).
			Path(name).
			Detail("export takes %d parameters, got %d", want, len(params)).
			Build()
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, errors.Trap(name, err)
	}
	return results, nil
}

// MissingExports checks that every symbol is exported. symbols maps an
// owner (type or entry point name) to the exports it needs.
func (i *WazeroInstance) MissingExports(symbols map[string][]string) error {
	missing := make(map[string][]string)
	for owner, syms := range symbols {
		for _, sym := range syms {
			if sym != "" && !i.HasExport(sym) {
				missing[owner] = append(missing[owner], sym)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.NewMissingExportsError(missing)
}

// Memory returns the instance's linear memory, or nil if none is exported.
func (i *WazeroInstance) Memory() *WazeroMemory {
	return i.memory
}

// MemorySize returns the current linear memory size in bytes, or 0 if no memory.
func (i *WazeroInstance) MemorySize() uint32 {
	if i.memory == nil {
		return 0
	}
	return i.memory.Size()
}

func (i *WazeroInstance) Read(offset, length uint32) ([]byte, error) {
	if i.memory == nil {
		return nil, errors.Closed(errors.PhaseCall, "memory")
	}
	return i.memory.Read(offset, length)
}

func (i *WazeroInstance) Write(offset uint32, data []byte) error {
	if i.memory == nil {
		return errors.Closed(errors.PhaseCall, "memory")
	}
	return i.memory.Write(offset, data)
}

func (i *WazeroInstance) ReadU32(offset uint32) (uint32, error) {
	if i.memory == nil {
		return 0, errors.Closed(errors.PhaseCall, "memory")
	}
	return i.memory.ReadU32(offset)
}

func (i *WazeroInstance) ReadU64(offset uint32) (uint64, error) {
	if i.memory == nil {
		return 0, errors.Closed(errors.PhaseCall, "memory")
	}
	return i.memory.ReadU64(offset)
}

func (i *WazeroInstance) WriteU32(offset uint32, value uint32) error {
	if i.memory == nil {
		return errors.Closed(errors.PhaseCall, "memory")
	}
	return i.memory.WriteU32(offset, value)
}

func (i *WazeroInstance) WriteU64(offset uint32, value uint64) error {
	if i.memory == nil {
		return errors.Closed(errors.PhaseCall, "memory")
	}
	return i.memory.WriteU64(offset, value)
}

func (i *WazeroInstance) Alloc(ctx context.Context, size uint32) (uint32, error) {
	if i.alloc == nil {
		return 0, errors.Closed(errors.PhaseCall, "instance")
	}
	return i.alloc.Alloc(ctx, size)
}

func (i *WazeroInstance) Free(ctx context.Context, ptr uint32) error {
	if i.alloc == nil {
		return errors.Closed(errors.PhaseCall, "instance")
	}
	return i.alloc.Free(ctx, ptr)
}

func (i *WazeroInstance) Close(ctx context.Context) error {
	var err error
	if i.instance != nil {
		err = i.instance.Close(ctx)
		i.instance = nil
	}
	// Clear references to help GC
	i.funcCache = nil
	i.memory = nil
	i.alloc = nil
	return err
}

// wazeroAllocator implements futharkhost.Allocator using the module's
// malloc and free exports
type wazeroAllocator struct {
	allocFn    api.Function
	freeFn     api.Function
	stackBuf   []uint64
	stackMutex sync.Mutex
}

func (a *wazeroAllocator) Alloc(ctx context.Context, size uint32) (uint32, error) {
	if a.allocFn == nil {
		return 0, errors.AllocationFailed(errors.PhaseCall, size, fmt.Errorf("no allocator available"))
	}

	a.stackMutex.Lock()
	defer a.stackMutex.Unlock()

	a.stackBuf[0] = uint64(size)
	if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
		return 0, errors.AllocationFailed(errors.PhaseCall, size, err)
	}
	ptr := uint32(a.stackBuf[0])
	if ptr == 0 && size > 0 {
		return 0, errors.AllocationFailed(errors.PhaseCall, size, fmt.Errorf("malloc returned null"))
	}
	return ptr, nil
}

func (a *wazeroAllocator) Free(ctx context.Context, ptr uint32) error {
	if a.freeFn == nil || ptr == 0 {
		return nil
	}

	a.stackMutex.Lock()
	defer a.stackMutex.Unlock()

	a.stackBuf[0] = uint64(ptr)
	if err := a.freeFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
		Logger().Warn("Free: failed to call free",
			zap.Uint32("ptr", ptr),
			zap.Error(err))
		return errors.Trap(exportFree, err)
	}
	return nil
}

// WazeroMemory wraps wazero memory to implement futharkhost.Memory
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds("read", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return outOfBounds("write", offset, uint32(len(data)))
	}
	return nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, outOfBounds("read", offset, 4)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, outOfBounds("read", offset, 8)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return outOfBounds("write", offset, 4)
	}
	return nil
}

func (m *WazeroMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return outOfBounds("write", offset, 8)
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

func outOfBounds(op string, offset, length uint32) error {
	return errors.New(errors.PhaseCall, errors.KindOutOfBounds).
		Value(offset).
		Detail("memory %s out of bounds: offset=%d, length=%d", op, offset, length).
		Build()
}

// Compile-time check that WazeroMemory implements futharkhost.Memory and MemorySizer
var _ futharkhost.Memory = (*WazeroMemory)(nil)
var _ futharkhost.MemorySizer = (*WazeroMemory)(nil)

// Compile-time check that wazeroAllocator implements futharkhost.Allocator
var _ futharkhost.Allocator = (*wazeroAllocator)(nil)

// Compile-time check that WazeroInstance implements futharkhost.Foreign
var _ futharkhost.Foreign = (*WazeroInstance)(nil)
