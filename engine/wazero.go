package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/wasm"
)

// WazeroEngine owns a wazero runtime.
type WazeroEngine struct {
	runtime      wazero.Runtime
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// Interpreter selects the wazero interpreter instead of the compiler.
	Interpreter bool

	// CloseOnContextDone aborts guest execution when the call context is done.
	CloseOnContextDone bool
}

// NewWazeroEngine creates an engine with the default configuration.
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates an engine. A nil cfg means defaults.
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil {
		if cfg.Interpreter {
			runtimeCfg = wazero.NewRuntimeConfigInterpreter()
		}
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CloseOnContextDone {
			runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
		}
	}
	return &WazeroEngine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}, nil
}

// Runtime exposes the underlying wazero runtime.
func (e *WazeroEngine) Runtime() wazero.Runtime {
	return e.runtime
}

// LoadModule parses and compiles wasmBytes.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	parsed, err := wasm.ParseModule(wasmBytes)
	if err != nil {
		return nil, err
	}
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile failed", err)
	}
	Logger().Debug("module compiled",
		zap.Int("size", len(wasmBytes)),
		zap.Int("imports", len(compiled.ImportedFunctions())),
		zap.Int("exports", len(compiled.ExportedFunctions())))
	return &WazeroModule{
		engine:   e,
		compiled: compiled,
		parsed:   parsed,
		rawBytes: wasmBytes,
	}, nil
}

// HostFunc is a raw host function exported from a host module.
type HostFunc struct {
	Handler     api.GoModuleFunc
	Name        string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
	ParamNames  []string
}

// DefineHostModule instantiates a host module named namespace that exports funcs.
func (e *WazeroEngine) DefineHostModule(ctx context.Context, namespace string, funcs []HostFunc) (api.Module, error) {
	if e.runtime.Module(namespace) != nil {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindRegistration).
			Path(namespace).
			Detail("module %q already instantiated in this runtime", namespace).
			Build()
	}
	builder := e.runtime.NewHostModuleBuilder(namespace)
	for _, fn := range funcs {
		if fn.Handler == nil {
			return nil, errors.Registration(errors.PhaseInstantiate, namespace, fn.Name, fmt.Errorf("nil handler"))
		}
		fb := builder.NewFunctionBuilder().
			WithGoModuleFunction(fn.Handler, fn.ParamTypes, fn.ResultTypes)
		if len(fn.ParamNames) == len(fn.ParamTypes) && len(fn.ParamNames) > 0 {
			fb = fb.WithParameterNames(fn.ParamNames...)
		}
		builder = fb.Export(fn.Name)
	}
	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Registration(errors.PhaseInstantiate, namespace, "", err)
	}
	Logger().Debug("host module defined", zap.String("namespace", namespace), zap.Int("functions", len(funcs)))
	return mod, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// InitWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls.
func (e *WazeroEngine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}
	if e.runtime.Module(WASIModuleName) != nil {
		e.wasiInitDone.Store(true)
		return nil
	}
	if _, err := InstantiateWASI(ctx, e.runtime); err != nil {
		return errors.Registration(errors.PhaseInstantiate, WASIModuleName, "", err)
	}
	e.wasiInitDone.Store(true)
	return nil
}

// WazeroModule is a compiled module together with its parsed sections.
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	parsed   *wasm.Module
	rawBytes []byte
}

// Import is a function import of a compiled module.
type Import struct {
	Module string
	Name   string
	Params []api.ValueType
}

// ImportedFunctions lists function imports in index order.
func (m *WazeroModule) ImportedFunctions() []Import {
	defs := m.compiled.ImportedFunctions()
	out := make([]Import, 0, len(defs))
	for _, def := range defs {
		mod, name, _ := def.Import()
		out = append(out, Import{Module: mod, Name: name, Params: def.ParamTypes()})
	}
	return out
}

// Parsed returns the decoded module sections.
func (m *WazeroModule) Parsed() *wasm.Module {
	return m.parsed
}

// Bytes returns the module binary.
func (m *WazeroModule) Bytes() []byte {
	return m.rawBytes
}

// InstanceConfig holds configuration for module instantiation
type InstanceConfig struct {
	Stdout io.Writer
	Stderr io.Writer
	Name   string
	Args   []string
}

// Instantiate creates an instance. The binary's start section runs here;
// WASI "_start" does not and must be called explicitly.
func (m *WazeroModule) Instantiate(ctx context.Context, cfg *InstanceConfig) (*WazeroInstance, error) {
	modConfig := wazero.NewModuleConfig().WithStartFunctions()
	if cfg != nil {
		if cfg.Name != "" {
			modConfig = modConfig.WithName(cfg.Name)
		}
		if cfg.Stdout != nil {
			modConfig = modConfig.WithStdout(cfg.Stdout)
		}
		if cfg.Stderr != nil {
			modConfig = modConfig.WithStderr(cfg.Stderr)
		}
		if len(cfg.Args) > 0 {
			modConfig = modConfig.WithArgs(cfg.Args...)
		}
	}

	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	return &WazeroInstance{
		module:    m,
		instance:  instance,
		funcCache: make(map[string]api.Function),
	}, nil
}

func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// WazeroInstance is an instantiated module.
type WazeroInstance struct {
	instance  api.Module
	module    *WazeroModule
	funcCache map[string]api.Function
	cacheMu   sync.RWMutex
}

// ExportedFunction returns an exported function by name, or nil.
func (i *WazeroInstance) ExportedFunction(name string) api.Function {
	i.cacheMu.RLock()
	fn, ok := i.funcCache[name]
	i.cacheMu.RUnlock()
	if ok {
		return fn
	}
	fn = i.instance.ExportedFunction(name)
	if fn != nil {
		i.cacheMu.Lock()
		i.funcCache[name] = fn
		i.cacheMu.Unlock()
	}
	return fn
}

// Call invokes an exported function with raw wasm values.
func (i *WazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	return fn.Call(ctx, params...)
}

// ExportedFunctionIndices maps export names to function indices.
func (i *WazeroInstance) ExportedFunctionIndices() map[string]uint32 {
	defs := i.instance.ExportedFunctionDefinitions()
	out := make(map[string]uint32, len(defs))
	for name, def := range defs {
		out[name] = def.Index()
	}
	return out
}

// TableImage returns the initial content of the table exported as name,
// or of table 0 when name is empty.
func (i *WazeroInstance) TableImage(name string) (*wasm.TableImage, error) {
	parsed := i.module.parsed
	var idx uint32
	if name != "" {
		exp, ok := parsed.ExportNamed(name)
		if !ok || exp.Kind != wasm.KindTable {
			return nil, errors.NotFound(errors.PhaseInstantiate, "table export", name)
		}
		idx = exp.Idx
	}
	img, err := parsed.TableImage(idx)
	if err != nil {
		return nil, err
	}
	if len(img.Skipped) > 0 {
		Logger().Warn("element segments not statically applicable",
			zap.Uint32("table", idx), zap.Ints("segments", img.Skipped))
	}
	if len(img.Writes) > 0 {
		Logger().Warn("table is written at run time, indirect call targets will be unresolvable",
			zap.Uint32("table", idx), zap.Stringer("first", img.Writes[0]), zap.Int("writes", len(img.Writes)))
	}
	if img.Imported {
		Logger().Warn("table is imported, indirect call targets will be unresolvable", zap.Uint32("table", idx))
	}
	return img, nil
}

// Parsed returns the decoded sections of the instantiated module.
func (i *WazeroInstance) Parsed() *wasm.Module {
	return i.module.parsed
}

// Module exposes the wazero module.
func (i *WazeroInstance) Module() api.Module {
	return i.instance
}

// MemorySize returns the current linear memory size in bytes, or 0 if no memory.
func (i *WazeroInstance) MemorySize() uint32 {
	if mem := i.instance.Memory(); mem != nil {
		return mem.Size()
	}
	return 0
}

func (i *WazeroInstance) Close(ctx context.Context) error {
	if i.instance == nil {
		return nil
	}
	err := i.instance.Close(ctx)
	i.instance = nil
	i.funcCache = nil
	return err
}
