package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/internal/testmod"
	"github.com/wippyai/wasm-instrument/static"
)

func TestDirectCall(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, false)
	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))

	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)
	require.Equal(t, StateInstantiated, s.State())

	res, err := inst.Call(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, int32(3), api.DecodeI32(res[0]))

	pre := rec.ofKind(event.KindCallPre)
	require.Len(t, pre, 1)
	call := pre[0].(event.CallPre)
	require.NotNil(t, call.Target)
	require.Equal(t, fnAdd, *call.Target)
	require.Nil(t, call.TableIndex)
	require.False(t, call.Indirect())
	require.Equal(t, []event.Value{event.I32(1), event.I32(2)}, call.Args)
	require.Equal(t, static.Loc(fnMain, 2), call.Location)

	post := rec.ofKind(event.KindCallPost)
	require.Len(t, post, 1)
	require.Equal(t, []event.Value{event.I32(3)}, post[0].(event.CallPost).Results)

	// call_pre and call_post bracket the callee's events
	var kinds []event.Kind
	for _, ev := range rec.events {
		kinds = append(kinds, ev.Kind())
	}
	require.Equal(t, []event.Kind{
		event.KindBegin, event.KindCallPre,
		event.KindBegin, event.KindBinary, event.KindReturn, event.KindEnd,
		event.KindCallPost, event.KindEnd,
	}, kinds)

	ret := rec.ofKind(event.KindReturn)[0].(event.Return)
	require.True(t, ret.Implicit())
	require.Equal(t, fnAdd, ret.Location.Func)
	rec.requireBalanced(t)
}

func TestIndirectCall(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, false)
	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))

	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	res, err := inst.Call(ctx, "indirect")
	require.NoError(t, err)
	require.Equal(t, int32(7), api.DecodeI32(res[0]))

	pre := rec.ofKind(event.KindCallPre)
	require.Len(t, pre, 1)
	call := pre[0].(event.CallPre)
	require.True(t, call.Indirect())
	require.Equal(t, uint32(0), *call.TableIndex)
	require.NotNil(t, call.Target)
	require.Equal(t, fnSeven, *call.Target)
	rec.requireBalanced(t)
}

func TestResolverDeterminism(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, false)
	s := newSession(t, info, nil)
	_, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	first, err := s.Resolver().Resolve(0)
	require.NoError(t, err)
	second, err := s.Resolver().Resolve(0)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, fnSeven, first)

	_, err = s.Resolver().Resolve(1)
	require.ErrorIs(t, err, errors.ErrNullTableEntry)
}

func TestStartFunctionUnresolvable(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, true)
	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))

	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	starts := rec.ofKind(event.KindStart)
	require.Len(t, starts, 1)
	require.Equal(t, fnInit, starts[0].Loc().Func)

	pre := rec.ofKind(event.KindCallPre)
	require.Len(t, pre, 1)
	call := pre[0].(event.CallPre)
	require.Nil(t, call.Target)
	require.Equal(t, uint32(0), *call.TableIndex)

	rec.reset()
	_, err = inst.Call(ctx, "indirect")
	require.NoError(t, err)
	call = rec.ofKind(event.KindCallPre)[0].(event.CallPre)
	require.NotNil(t, call.Target)
	require.Equal(t, fnSeven, *call.Target)
}

func TestMultiLevelBranch(t *testing.T) {
	ctx := context.Background()
	data, info := branchModule(t)
	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))
	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	_, err = inst.Call(ctx, "nested")
	require.NoError(t, err)

	br := rec.ofKind(event.KindBr)
	require.Len(t, br, 1)
	require.Equal(t, event.Label{Label: 1, Location: static.Loc(0, 4)}, br[0].(event.Br).Target)

	ends := rec.ofKind(event.KindEnd)
	require.Len(t, ends, 3)
	require.Equal(t, static.Loc(0, 1), ends[0].(event.End).Begin)
	require.Equal(t, static.Loc(0, 0), ends[1].(event.End).Begin)
	require.Equal(t, static.BlockFunction, ends[2].(event.End).Block)
	rec.requireBalanced(t)
}

func TestBranchTableEnds(t *testing.T) {
	ctx := context.Background()
	data, info := branchModule(t)
	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))
	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	tests := []struct {
		selector   uint32
		blockEnds  int
		wantTarget uint32
	}{
		{selector: 0, blockEnds: 2, wantTarget: 0},
		{selector: 1, blockEnds: 2, wantTarget: 1},
		{selector: 9, blockEnds: 2, wantTarget: 1},
	}
	for _, tt := range tests {
		rec.reset()
		_, err := inst.Call(ctx, "switch", api.EncodeU32(tt.selector))
		require.NoError(t, err)

		tables := rec.ofKind(event.KindBrTable)
		require.Len(t, tables, 1)
		ev := tables[0].(event.BrTable)
		require.Equal(t, tt.selector, ev.Selector)
		require.Equal(t, tt.wantTarget, ev.Taken().Label)

		var blockEnds int
		for _, e := range rec.ofKind(event.KindEnd) {
			if e.(event.End).Block == static.BlockBlock {
				blockEnds++
			}
		}
		require.Equal(t, tt.blockEnds, blockEnds)
		rec.requireBalanced(t)
	}
}

func TestNoOpDefault(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, true)
	s := newSession(t, info, nil)

	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)
	for _, name := range []string{"main", "indirect"} {
		_, err := inst.Call(ctx, name)
		require.NoError(t, err)
	}
}

func TestI64RoundTrip(t *testing.T) {
	ctx := context.Background()
	values := []int64{0, -1, 1, math.MaxInt64, math.MinInt64, 0x1234_5678_9abc_def0, -0x100000000}

	b := testmod.New()
	b.Func("consts", static.FuncType{}, nil, func(body *testmod.Body) {
		for n, v := range values {
			body.Hook("i64_const", int32(n), testmod.I64(v))
		}
	})
	b.Func("echo", static.FuncType{Params: []static.ValType{i64}, Results: []static.ValType{i64}}, nil, func(body *testmod.Body) {
		body.Code().LocalGet(0)
		body.Hook("return_I", -1, testmod.Local(0, i64))
	})
	data, info, err := b.Build()
	require.NoError(t, err)

	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))
	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	_, err = inst.Call(ctx, "consts")
	require.NoError(t, err)
	consts := rec.ofKind(event.KindConst)
	require.Len(t, consts, len(values))
	for n, v := range values {
		c := consts[n].(event.Const)
		require.Equal(t, "i64.const", c.Op)
		require.Equal(t, v, c.Value.I64())
	}

	for _, v := range values {
		rec.reset()
		res, err := inst.CallValues(ctx, "echo", event.I64(v))
		require.NoError(t, err)
		require.Equal(t, v, res[0].I64())
		ret := rec.ofKind(event.KindReturn)[0].(event.Return)
		require.Equal(t, []event.Value{event.I64(v)}, ret.Results)
	}
}

func TestHandlerErrorAbortsCall(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, false)
	boom := stderrors.New("boom")

	reg := event.NewRegistry()
	require.NoError(t, event.Handle(reg, func(context.Context, event.CallPost) error { return boom }))
	s := newSession(t, info, reg)
	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	_, err = inst.Call(ctx, "main")
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateInstantiated, s.State())
}

func TestCallerImports(t *testing.T) {
	ctx := context.Background()
	b := testmod.New()
	logFn := b.Import("env", "log", static.FuncType{Params: []static.ValType{i32}})
	b.Func("main", static.FuncType{}, nil, func(body *testmod.Body) {
		body.Hook("call_i", 0, testmod.I32(int32(logFn)), testmod.I32(42))
		body.Code().I32Const(42)
		body.Call(logFn)
		body.Hook("call_post", 0)
	})
	data, info, err := b.Build()
	require.NoError(t, err)

	var logged []int32
	imports := NewImports()
	require.NoError(t, imports.DefineFunc("env", "log", func(_ context.Context, _ api.Module, stack []uint64) {
		logged = append(logged, api.DecodeI32(stack[0]))
	}, []api.ValueType{api.ValueTypeI32}, nil))

	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))
	inst, err := s.Instantiate(ctx, data, imports)
	require.NoError(t, err)
	_, err = inst.Call(ctx, "main")
	require.NoError(t, err)

	require.Equal(t, []int32{42}, logged)
	call := rec.ofKind(event.KindCallPre)[0].(event.CallPre)
	require.Equal(t, logFn, *call.Target)
	require.Equal(t, "env.log", info.FunctionName(*call.Target))
}

func TestLifecycleErrors(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, false)

	t.Run("missing static info", func(t *testing.T) {
		s := NewSession(nil, nil)
		_, err := s.Instantiate(ctx, data, nil)
		require.ErrorIs(t, err, errors.ErrMissingStaticInfo)
		require.Equal(t, StateUnloaded, s.State())
	})

	t.Run("session in use", func(t *testing.T) {
		s := newSession(t, info, nil)
		_, err := s.Instantiate(ctx, data, nil)
		require.NoError(t, err)
		_, err = s.Instantiate(ctx, data, nil)
		require.ErrorIs(t, err, errors.ErrSessionInUse)
	})

	t.Run("metadata twice", func(t *testing.T) {
		s := newSession(t, info, nil)
		require.ErrorIs(t, s.LoadMetadata(info), &errors.Error{Kind: errors.KindInvalidStateTransition})
	})

	t.Run("reserved namespace", func(t *testing.T) {
		s := newSession(t, info, nil)
		imports := NewImports()
		require.NoError(t, imports.DefineFunc(s.cfg.HookNamespace, "nop", func(context.Context, api.Module, []uint64) {}, nil, nil))
		_, err := s.Instantiate(ctx, data, imports)
		require.ErrorIs(t, err, errors.ErrReservedNamespace)
		require.Equal(t, StateMetadataLoaded, s.State())
	})

	t.Run("state checked before namespace", func(t *testing.T) {
		s := NewSession(nil, nil)
		imports := NewImports()
		require.NoError(t, imports.DefineFunc(s.cfg.HookNamespace, "nop", func(context.Context, api.Module, []uint64) {}, nil, nil))
		_, err := s.Instantiate(ctx, data, imports)
		require.ErrorIs(t, err, errors.ErrMissingStaticInfo)
		require.Equal(t, StateUnloaded, s.State())
	})

	t.Run("shared registry", func(t *testing.T) {
		reg := event.NewRegistry()
		first := newSession(t, info, reg)
		_, err := first.Instantiate(ctx, data, nil)
		require.NoError(t, err)

		second := newSession(t, info, reg)
		_, err = second.Instantiate(ctx, data, nil)
		require.ErrorIs(t, err, errors.ErrSessionInUse)
		require.Equal(t, StateMetadataLoaded, second.State())
		require.Nil(t, second.Instance())
	})

	t.Run("closed", func(t *testing.T) {
		s := newSession(t, info, nil)
		_, err := s.Instantiate(ctx, data, nil)
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))
		require.Equal(t, StateClosed, s.State())
		require.Nil(t, s.Instance())
		require.NoError(t, s.Close(ctx))

		_, err = s.Instantiate(ctx, data, nil)
		require.ErrorIs(t, err, errors.ErrSessionInUse)

		unused := newSession(t, info, nil)
		require.NoError(t, unused.Close(ctx))
		require.Equal(t, StateClosed, unused.State())
		require.ErrorIs(t, unused.LoadMetadata(info), &errors.Error{Kind: errors.KindInvalidStateTransition})
	})

	t.Run("synchronous instantiation", func(t *testing.T) {
		s := newSession(t, info, nil)
		_, err := s.NewInstance(ctx, data, nil)
		require.ErrorIs(t, err, errors.ErrSynchronousInstantiationUnsupported)
	})

	t.Run("missing table export", func(t *testing.T) {
		bad := *info
		bad.TableExportName = "nope"
		s := newSession(t, &bad, nil)
		_, err := s.Instantiate(ctx, data, nil)
		require.ErrorIs(t, err, errors.ErrBrokenInvariant)
		require.Equal(t, StateFailed, s.State())
	})

	t.Run("function count mismatch", func(t *testing.T) {
		bad := *info
		bad.Functions = bad.Functions[:len(bad.Functions)-1]
		s := newSession(t, &bad, nil)
		_, err := s.Instantiate(ctx, data, nil)
		require.ErrorIs(t, err, errors.ErrBrokenInvariant)
	})

	t.Run("invalid module", func(t *testing.T) {
		s := newSession(t, info, nil)
		_, err := s.Instantiate(ctx, []byte("garbage"), nil)
		require.Error(t, err)
		require.Equal(t, StateFailed, s.State())
	})

	t.Run("register after instantiation", func(t *testing.T) {
		s := newSession(t, info, nil)
		_, err := s.Instantiate(ctx, data, nil)
		require.NoError(t, err)
		err = s.Registry().On(event.KindNop, func(context.Context, event.Event) error { return nil })
		require.ErrorIs(t, err, &errors.Error{Kind: errors.KindInvalidStateTransition})
	})
}

func TestLoadMetadataCopiesInfo(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, false)
	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))

	// caller edits after loading must not reach the session
	info.Functions[fnSeven].Exports[0] = "renamed"
	info.TableExportName = "nope"
	require.Equal(t, "seven", s.Info().FunctionName(fnSeven))

	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)
	_, err = inst.Call(ctx, "indirect")
	require.NoError(t, err)
	call := rec.ofKind(event.KindCallPre)[0].(event.CallPre)
	require.NotNil(t, call.Target)
	require.Equal(t, fnSeven, *call.Target)
}

func TestTableWrittenAtRunTime(t *testing.T) {
	ctx := context.Background()
	data, info := tableWriteModule(t)
	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))

	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	res, err := inst.Call(ctx, "indirect")
	require.NoError(t, err)
	require.Equal(t, int32(7), api.DecodeI32(res[0]))

	_, err = inst.Call(ctx, "mutate")
	require.NoError(t, err)
	res, err = inst.Call(ctx, "indirect")
	require.NoError(t, err)
	require.Equal(t, int32(9), api.DecodeI32(res[0]))

	// slot 0 held seven at instantiation and nine afterwards; neither
	// call may report the image's stale entry
	pre := rec.ofKind(event.KindCallPre)
	require.Len(t, pre, 2)
	for _, ev := range pre {
		call := ev.(event.CallPre)
		require.True(t, call.Indirect())
		require.Equal(t, uint32(0), *call.TableIndex)
		require.Nil(t, call.Target)
	}

	_, err = s.Resolver().Resolve(0)
	require.ErrorIs(t, err, errors.ErrUnresolvable)
}

func TestIfElseAndLoop(t *testing.T) {
	ctx := context.Background()
	data, info := choiceModule(t)
	rec := &recorder{}
	s := newSession(t, info, rec.registry(t))

	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	res, err := inst.Call(ctx, "choose", api.EncodeI32(1))
	require.NoError(t, err)
	require.Equal(t, int32(11), api.DecodeI32(res[0]))

	ifs := rec.ofKind(event.KindIf)
	require.Len(t, ifs, 1)
	require.True(t, ifs[0].(event.If).Cond)
	var blocks []static.BlockKind
	for _, ev := range rec.ofKind(event.KindBegin) {
		blocks = append(blocks, ev.(event.Begin).Block)
	}
	require.Equal(t, []static.BlockKind{static.BlockFunction, static.BlockIf, static.BlockLoop}, blocks)
	loopEnd := rec.ofKind(event.KindEnd)[1].(event.End)
	require.Equal(t, static.BlockLoop, loopEnd.Block)
	require.Equal(t, static.Loc(0, 8), loopEnd.Begin)
	rec.requireBalanced(t)

	rec.reset()
	res, err = inst.Call(ctx, "choose", api.EncodeI32(0))
	require.NoError(t, err)
	require.Equal(t, int32(21), api.DecodeI32(res[0]))

	require.False(t, rec.ofKind(event.KindIf)[0].(event.If).Cond)
	begins := rec.ofKind(event.KindBegin)
	require.Len(t, begins, 3)
	elseBegin := begins[1].(event.Begin)
	require.Equal(t, static.BlockElse, elseBegin.Block)
	require.Equal(t, static.Loc(0, 4), elseBegin.Location)
	require.NotNil(t, elseBegin.IfBegin)
	require.Equal(t, static.Loc(0, 1), *elseBegin.IfBegin)
	elseEnd := rec.ofKind(event.KindEnd)[0].(event.End)
	require.Equal(t, static.BlockElse, elseEnd.Block)
	require.Equal(t, static.Loc(0, 1), *elseEnd.IfBegin)
	rec.requireBalanced(t)
}

func TestLoadMetadataJSON(t *testing.T) {
	_, info := callModule(t, false)
	raw, err := info.MarshalJSON()
	require.NoError(t, err)

	s := NewSession(nil, nil)
	require.NoError(t, s.LoadMetadataJSON(bytes.NewReader(raw)))
	require.Equal(t, StateMetadataLoaded, s.State())
	require.Equal(t, len(info.Functions), len(s.Info().Functions))

	path := filepath.Join(t.TempDir(), "info.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	require.NoError(t, NewSession(nil, nil).LoadMetadataFile(path))

	err = NewSession(nil, nil).LoadMetadataFile(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseMetadata, Kind: errors.KindNotFound})

	err = NewSession(nil, nil).LoadMetadataJSON(bytes.NewReader([]byte("{")))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseMetadata, Kind: errors.KindInvalidData})
}

func TestInstantiateStreaming(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, false)

	t.Run("reader", func(t *testing.T) {
		s := newSession(t, info, nil)
		inst, err := s.InstantiateStreaming(ctx, FromReader(bytes.NewReader(data)), nil)
		require.NoError(t, err)
		require.NotNil(t, inst.ExportedFunction("main"))
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mod.wasm")
		require.NoError(t, os.WriteFile(path, data, 0o600))
		s := newSession(t, info, nil)
		_, err := s.InstantiateStreaming(ctx, FromFile(path), nil)
		require.NoError(t, err)
	})

	t.Run("url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/mod.wasm" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/wasm")
			_, _ = w.Write(data)
		}))
		defer srv.Close()

		s := newSession(t, info, nil)
		_, err := s.InstantiateStreaming(ctx, FromURL(srv.URL+"/mod.wasm", nil), nil)
		require.NoError(t, err)

		s = newSession(t, info, nil)
		_, err = s.InstantiateStreaming(ctx, FromURL(srv.URL+"/other.wasm", srv.Client()), nil)
		require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData})
		require.Equal(t, StateMetadataLoaded, s.State())
	})
}

func TestCallValuesArity(t *testing.T) {
	ctx := context.Background()
	data, info := callModule(t, false)
	s := newSession(t, info, nil)
	inst, err := s.Instantiate(ctx, data, nil)
	require.NoError(t, err)

	_, err = inst.CallValues(ctx, "add", event.I32(1))
	require.ErrorIs(t, err, &errors.Error{Kind: errors.KindInvalidInput})

	res, err := inst.CallValues(ctx, "add", event.I32(-4), event.I32(6))
	require.NoError(t, err)
	require.Equal(t, []event.Value{event.I32(2)}, res)

	_, err = inst.CallValues(ctx, "missing")
	require.ErrorIs(t, err, &errors.Error{Kind: errors.KindNotFound})
}
