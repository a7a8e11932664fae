package runtime

import (
	"slices"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-instrument/engine"
	"github.com/wippyai/wasm-instrument/errors"
)

// FuncDef defines a host function supplied by the caller.
type FuncDef struct {
	Handler     api.GoModuleFunc
	Name        string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// Imports is the caller's import object: host functions grouped by the
// module namespace the guest imports them from.
type Imports struct {
	funcs map[string]map[string]*FuncDef
	mu    sync.RWMutex
}

func NewImports() *Imports {
	return &Imports{funcs: make(map[string]map[string]*FuncDef)}
}

// DefineFunc registers a host function. It overwrites any existing
// function with the same namespace and name.
func (im *Imports) DefineFunc(namespace, name string, fn api.GoModuleFunc, params, results []api.ValueType) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseInstantiate, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseInstantiate, "function name cannot be empty")
	}
	if fn == nil {
		return errors.Registration(errors.PhaseInstantiate, namespace, name, errors.InvalidInput(errors.PhaseInstantiate, "nil handler"))
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	if im.funcs[namespace] == nil {
		im.funcs[namespace] = make(map[string]*FuncDef)
	}
	im.funcs[namespace][name] = &FuncDef{
		Name:        name,
		Handler:     fn,
		ParamTypes:  params,
		ResultTypes: results,
	}
	return nil
}

// Namespaces returns the defined namespaces in sorted order.
func (im *Imports) Namespaces() []string {
	if im == nil {
		return nil
	}
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make([]string, 0, len(im.funcs))
	for ns := range im.funcs {
		out = append(out, ns)
	}
	slices.Sort(out)
	return out
}

// Func looks up a single definition.
func (im *Imports) Func(namespace, name string) (*FuncDef, bool) {
	if im == nil {
		return nil, false
	}
	im.mu.RLock()
	defer im.mu.RUnlock()
	fn, ok := im.funcs[namespace][name]
	return fn, ok
}

func (im *Imports) hostFuncs(namespace string) []engine.HostFunc {
	im.mu.RLock()
	defer im.mu.RUnlock()
	defs := im.funcs[namespace]
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]engine.HostFunc, 0, len(names))
	for _, name := range names {
		d := defs[name]
		out = append(out, engine.HostFunc{
			Name:        d.Name,
			Handler:     d.Handler,
			ParamTypes:  d.ParamTypes,
			ResultTypes: d.ResultTypes,
		})
	}
	return out
}
