package runtime

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-instrument/engine"
	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

// Instance is an instrumented module instance.
type Instance struct {
	session *Session
	inst    *engine.WazeroInstance
}

// Call invokes an export with raw wasm values. Hook events fire
// synchronously during the call; a handler error aborts it and is
// returned here. A WASI exit with code 0 is not an error.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	res, err := i.inst.Call(ctx, name, params...)
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) && exit.ExitCode() == 0 {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// CallValues invokes an export with typed values.
func (i *Instance) CallValues(ctx context.Context, name string, args ...event.Value) ([]event.Value, error) {
	fn := i.inst.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	def := fn.Definition()
	if len(def.ParamTypes()) != len(args) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(name).
			Detail("expected %d arguments, got %d", len(def.ParamTypes()), len(args)).
			Build()
	}
	params := make([]uint64, len(args))
	for n, a := range args {
		params[n] = a.Bits
	}
	raw, err := i.Call(ctx, name, params...)
	if err != nil {
		return nil, err
	}
	out := make([]event.Value, 0, len(raw))
	for n, r := range raw {
		vt, ok := ValType(def.ResultTypes()[n])
		if !ok {
			return nil, errors.Unsupported(errors.PhaseRuntime, "result type "+api.ValueTypeName(def.ResultTypes()[n]))
		}
		out = append(out, event.FromRaw(vt, r))
	}
	return out, nil
}

// ExportedFunction returns an export by name, or nil.
func (i *Instance) ExportedFunction(name string) api.Function {
	return i.inst.ExportedFunction(name)
}

// Module exposes the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.inst.Module()
}

// Session returns the session the instance belongs to.
func (i *Instance) Session() *Session {
	return i.session
}

func (i *Instance) Close(ctx context.Context) error {
	return i.inst.Close(ctx)
}

// ValType converts a numeric wazero value type.
func ValType(t api.ValueType) (static.ValType, bool) {
	switch t {
	case api.ValueTypeI32:
		return static.I32, true
	case api.ValueTypeI64:
		return static.I64, true
	case api.ValueTypeF32:
		return static.F32, true
	case api.ValueTypeF64:
		return static.F64, true
	}
	return 0, false
}
