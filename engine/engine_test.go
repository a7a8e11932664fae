package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/wasm"
)

// testModule imports env.inc (i32)->i32 and exports
// twice(x) = inc(inc(x)), a table with twice at slot 1, and a memory.
func testModule() []byte {
	m := &wasm.Module{}
	unary := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}})
	m.Imports = []wasm.Import{{Module: "env", Name: "inc", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: unary}}}
	m.Funcs = []uint32{unary}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}}}
	m.Memories = []wasm.Limits{{Min: 1}}
	m.Exports = []wasm.Export{
		{Name: "twice", Kind: wasm.KindFunc, Idx: 1},
		{Name: "tbl", Kind: wasm.KindTable, Idx: 0},
	}
	m.Elements = []wasm.Element{{Offset: wasm.NewCode().I32Const(1).End().Bytes(), FuncIdxs: []uint32{1}}}
	m.Code = []wasm.FuncBody{{Code: wasm.NewCode().LocalGet(0).Call(0).Call(0).End().Bytes()}}
	return m.Encode()
}

func incHost() HostFunc {
	return HostFunc{
		Name: "inc",
		Handler: func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = api.EncodeI32(api.DecodeI32(stack[0]) + 1)
		},
		ParamTypes:  []api.ValueType{api.ValueTypeI32},
		ResultTypes: []api.ValueType{api.ValueTypeI32},
		ParamNames:  []string{"x"},
	}
}

func newEngine(t *testing.T) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	eng, err := NewWazeroEngineWithConfig(ctx, &Config{Interpreter: true, MemoryLimitPages: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(ctx) })
	return eng
}

func TestLoadAndCall(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	mod, err := eng.LoadModule(ctx, testModule())
	require.NoError(t, err)
	require.Equal(t, []Import{{Module: "env", Name: "inc", Params: []api.ValueType{api.ValueTypeI32}}}, mod.ImportedFunctions())
	require.Len(t, mod.Parsed().Funcs, 1)

	_, err = eng.DefineHostModule(ctx, "env", []HostFunc{incHost()})
	require.NoError(t, err)

	inst, err := mod.Instantiate(ctx, &InstanceConfig{Name: "guest"})
	require.NoError(t, err)
	defer inst.Close(ctx)

	res, err := inst.Call(ctx, "twice", api.EncodeI32(40))
	require.NoError(t, err)
	require.Equal(t, int32(42), api.DecodeI32(res[0]))

	require.Equal(t, map[string]uint32{"twice": 1}, inst.ExportedFunctionIndices())
	require.Equal(t, uint32(65536), inst.MemorySize())
	require.Equal(t, "guest", inst.Module().Name())
}

func TestCallMissingExport(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mod, err := eng.LoadModule(ctx, testModule())
	require.NoError(t, err)
	_, err = eng.DefineHostModule(ctx, "env", []HostFunc{incHost()})
	require.NoError(t, err)
	inst, err := mod.Instantiate(ctx, nil)
	require.NoError(t, err)

	_, err = inst.Call(ctx, "nope")
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotFound})
}

func TestTableImage(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mod, err := eng.LoadModule(ctx, testModule())
	require.NoError(t, err)
	_, err = eng.DefineHostModule(ctx, "env", []HostFunc{incHost()})
	require.NoError(t, err)
	inst, err := mod.Instantiate(ctx, nil)
	require.NoError(t, err)

	img, err := inst.TableImage("tbl")
	require.NoError(t, err)
	require.Equal(t, []uint32{wasm.NullFunc, 1}, img.Slots)

	img, err = inst.TableImage("")
	require.NoError(t, err)
	require.Len(t, img.Slots, 2)

	_, err = inst.TableImage("twice")
	require.ErrorIs(t, err, &errors.Error{Kind: errors.KindNotFound})
}

func TestInstantiateMissingImport(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mod, err := eng.LoadModule(ctx, testModule())
	require.NoError(t, err)

	_, err = mod.Instantiate(ctx, nil)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseInstantiate, Kind: errors.KindInstantiation})
}

func TestLoadInvalid(t *testing.T) {
	_, err := newEngine(t).LoadModule(context.Background(), []byte("not wasm"))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindInvalidData})
}

func TestDefineHostModuleTwice(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	_, err := eng.DefineHostModule(ctx, "env", []HostFunc{incHost()})
	require.NoError(t, err)
	_, err = eng.DefineHostModule(ctx, "env", []HostFunc{incHost()})
	require.ErrorIs(t, err, &errors.Error{Kind: errors.KindRegistration})

	_, err = eng.DefineHostModule(ctx, "other", []HostFunc{{Name: "x"}})
	require.ErrorIs(t, err, &errors.Error{Kind: errors.KindRegistration})
}

func TestInitWASIConcurrent(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = eng.InitWASI(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NotNil(t, eng.Runtime().Module(WASIModuleName))
}
