package runtime

import (
	"context"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-instrument/dispatch"
	"github.com/wippyai/wasm-instrument/engine"
	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/resolve"
	"github.com/wippyai/wasm-instrument/static"
)

// Config configures a Session. The zero value is usable.
type Config struct {
	// Engine configures the wazero runtime created for the session.
	Engine *engine.Config

	Stdout io.Writer
	Stderr io.Writer

	// Logger overrides the package logger for this session.
	Logger *zap.Logger

	// HookNamespace is the import module of the low-level hooks.
	// Defaults to dispatch.DefaultNamespace.
	HookNamespace string

	// ModuleName names the instantiated module in the wazero runtime.
	ModuleName string

	// Args are the WASI program arguments.
	Args []string

	// EnableWASI instantiates WASI preview1 before the module.
	EnableWASI bool
}

// Session wires one instrumented module to one analysis.
type Session struct {
	cfg      Config
	registry *event.Registry
	logger   *zap.Logger
	info     *static.ModuleInfo
	resolver *resolve.Resolver
	engine   *engine.WazeroEngine
	instance *Instance
	mu       sync.Mutex
	state    State
}

// NewSession creates a session in state Unloaded. A nil cfg uses defaults and
// a nil reg behaves like a registry without handlers.
func NewSession(cfg *Config, reg *event.Registry) *Session {
	s := &Session{registry: reg}
	if cfg != nil {
		s.cfg = *cfg
	}
	if s.cfg.HookNamespace == "" {
		s.cfg.HookNamespace = dispatch.DefaultNamespace
	}
	if s.registry == nil {
		s.registry = event.NewRegistry()
	}
	s.logger = s.cfg.Logger
	if s.logger == nil {
		s.logger = Logger()
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Registry returns the event registry. Registrations after instantiation fail.
func (s *Session) Registry() *event.Registry {
	return s.registry
}

// Info returns the loaded module info, or nil before LoadMetadata.
func (s *Session) Info() *static.ModuleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Resolver returns the table resolver, or nil before LoadMetadata.
func (s *Session) Resolver() *resolve.Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}

// Instance returns the instantiated module, or nil.
func (s *Session) Instance() *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance
}

// LoadMetadata moves the session from Unloaded to MetadataLoaded. The
// session keeps a copy of info, so the caller may reuse it.
func (s *Session) LoadMetadata(info *static.ModuleInfo) error {
	if info == nil {
		return errors.InvalidInput(errors.PhaseMetadata, "nil module info")
	}
	if err := info.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnloaded {
		return errors.InvalidState(s.state.String(), StateMetadataLoaded.String())
	}
	info = info.Clone()
	s.info = info
	s.resolver = resolve.New(info)
	s.state = StateMetadataLoaded
	s.logger.Debug("module info loaded",
		zap.Int("functions", len(info.Functions)),
		zap.Int("br_tables", len(info.BrTables)),
		zap.String("table_export", info.TableExportName))
	return nil
}

// LoadMetadataJSON decodes module info JSON and loads it.
func (s *Session) LoadMetadataJSON(r io.Reader) error {
	info, err := static.Load(r)
	if err != nil {
		return err
	}
	return s.LoadMetadata(info)
}

// LoadMetadataFile loads module info from a JSON file.
func (s *Session) LoadMetadataFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(errors.PhaseMetadata, errors.KindNotFound, err, "open "+path)
	}
	defer f.Close()
	return s.LoadMetadataJSON(f)
}

// Instantiate compiles and instantiates an instrumented module with the
// hook imports wired in. imports may be nil.
func (s *Session) Instantiate(ctx context.Context, wasmBytes []byte, imports *Imports) (*Instance, error) {
	s.mu.Lock()
	switch s.state {
	case StateUnloaded:
		s.mu.Unlock()
		return nil, errors.MissingStaticInfo()
	case StateMetadataLoaded:
	default:
		state := s.state
		s.mu.Unlock()
		return nil, errors.SessionInUse(state.String())
	}
	for _, ns := range imports.Namespaces() {
		if ns == s.cfg.HookNamespace {
			s.mu.Unlock()
			return nil, errors.ReservedNamespace(ns)
		}
	}
	// the registry is claimed before the state moves, so a registry already
	// bound to another session leaves this one in MetadataLoaded
	handlers, err := s.registry.Freeze()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateInstantiating
	info, resolver := s.info, s.resolver
	s.mu.Unlock()

	inst, err := s.instantiate(ctx, info, resolver, handlers, wasmBytes, imports)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		if inst != nil {
			_ = inst.inst.Close(ctx)
		}
		if s.engine != nil {
			_ = s.engine.Close(ctx)
			s.engine = nil
		}
		return nil, errors.InvalidState(StateClosed.String(), StateInstantiated.String())
	}
	if err != nil {
		s.state = StateFailed
		if s.engine != nil {
			_ = s.engine.Close(ctx)
			s.engine = nil
		}
		s.logger.Debug("instantiation failed", zap.Error(err))
		return nil, err
	}
	s.instance = inst
	s.state = StateInstantiated
	return inst, nil
}

// InstantiateStreaming reads the whole module from src and instantiates it.
// Hooks must be wired before compilation, so nothing is compiled while
// the bytes arrive.
func (s *Session) InstantiateStreaming(ctx context.Context, src Source, imports *Imports) (*Instance, error) {
	data, err := readSource(ctx, src)
	if err != nil {
		return nil, err
	}
	return s.Instantiate(ctx, data, imports)
}

// NewInstance is the synchronous construct-and-run entry point. It always
// fails: exports and table cannot be captured before the start function runs.
func (s *Session) NewInstance(context.Context, []byte, *Imports) (*Instance, error) {
	return nil, errors.SynchronousInstantiationUnsupported()
}

func (s *Session) instantiate(ctx context.Context, info *static.ModuleInfo, resolver *resolve.Resolver, handlers *event.Table, wasmBytes []byte, imports *Imports) (*Instance, error) {
	if missing := handlers.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for n, k := range missing {
			names[n] = k.String()
		}
		s.logger.Debug("hooks default to no-op", zap.Strings("kinds", names))
	}

	eng, err := engine.NewWazeroEngineWithConfig(ctx, s.cfg.Engine)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindInstantiation, err, "create engine")
	}
	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()

	mod, err := eng.LoadModule(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}

	translator := dispatch.NewTranslator(info, handlers, resolver, s.logger)
	hooks, err := s.hookFuncs(translator, mod)
	if err != nil {
		return nil, err
	}
	if want := len(info.Functions) + len(hooks.imports); mod.Parsed().NumFuncs() != want {
		return nil, errors.BrokenInvariant(errors.PhaseInstantiate,
			"module has %d functions, module info describes %d plus %d hook imports",
			mod.Parsed().NumFuncs(), len(info.Functions), len(hooks.imports))
	}
	if len(hooks.funcs) > 0 {
		if _, err := eng.DefineHostModule(ctx, s.cfg.HookNamespace, hooks.funcs); err != nil {
			return nil, err
		}
	}

	for _, ns := range imports.Namespaces() {
		if s.cfg.EnableWASI && ns == engine.WASIModuleName {
			return nil, errors.Registration(errors.PhaseInstantiate, ns, "", errors.InvalidInput(errors.PhaseInstantiate, "namespace provided by WASI"))
		}
		if _, err := eng.DefineHostModule(ctx, ns, imports.hostFuncs(ns)); err != nil {
			return nil, err
		}
	}
	if s.cfg.EnableWASI {
		if err := eng.InitWASI(ctx); err != nil {
			return nil, err
		}
	}

	wi, err := mod.Instantiate(ctx, &engine.InstanceConfig{
		Name:   s.cfg.ModuleName,
		Stdout: s.cfg.Stdout,
		Stderr: s.cfg.Stderr,
		Args:   s.cfg.Args,
	})
	if err != nil {
		return nil, err
	}

	handle, err := s.capture(info, wi)
	if err != nil {
		_ = wi.Close(ctx)
		return nil, err
	}
	if err := resolver.Capture(handle); err != nil {
		_ = wi.Close(ctx)
		return nil, err
	}
	s.logger.Debug("module instantiated",
		zap.Int("hooks", len(hooks.funcs)),
		zap.Int("exports", len(handle.Exports)),
		zap.Int("table", len(handle.Table)))
	return &Instance{session: s, inst: wi}, nil
}

type hookSet struct {
	funcs   []engine.HostFunc
	imports []engine.Import
}

// hookFuncs builds one host function per distinct hook import.
func (s *Session) hookFuncs(t *dispatch.Translator, mod *engine.WazeroModule) (hookSet, error) {
	var set hookSet
	seen := make(map[string]bool)
	for _, imp := range mod.ImportedFunctions() {
		if imp.Module != s.cfg.HookNamespace {
			continue
		}
		set.imports = append(set.imports, imp)
		if seen[imp.Name] {
			continue
		}
		seen[imp.Name] = true
		fn, err := t.HostFunc(imp.Name, imp.Params)
		if err != nil {
			return set, err
		}
		set.funcs = append(set.funcs, engine.HostFunc{
			Name:       imp.Name,
			Handler:    fn,
			ParamTypes: imp.Params,
		})
	}
	return set, nil
}

func (s *Session) capture(info *static.ModuleInfo, wi *engine.WazeroInstance) (resolve.Handle, error) {
	handle := resolve.Handle{Exports: wi.ExportedFunctionIndices()}
	parsed := wi.Parsed()
	if info.TableExportName == "" && parsed.NumImportedTables()+len(parsed.Tables) == 0 {
		return handle, nil
	}
	img, err := wi.TableImage(info.TableExportName)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return handle, errors.BrokenInvariant(errors.PhaseInstantiate,
				"module info names table export %q, module does not export it", info.TableExportName)
		}
		return handle, err
	}
	handle.Table = img.Slots
	handle.Volatile = !img.Static()
	handle.Growable = img.Grows
	return handle, nil
}

// Close releases the session's instance and wazero runtime and moves the
// session to Closed. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	eng := s.engine
	s.engine = nil
	s.instance = nil
	s.state = StateClosed
	s.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Close(ctx)
}
