package event

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/static"
)

func TestKindNames(t *testing.T) {
	require.Len(t, Kinds(), 23)
	for _, k := range Kinds() {
		parsed, ok := ParseKind(k.String())
		require.True(t, ok, k.String())
		require.Equal(t, k, parsed)
	}
	require.Equal(t, "call_pre", KindCallPre.String())
	require.Equal(t, "return_", KindReturn.String())
	_, ok := ParseKind("call")
	require.False(t, ok)
}

func TestValues(t *testing.T) {
	require.Equal(t, int32(-7), I32(-7).I32())
	require.Equal(t, uint32(0xFFFFFFF9), I32(-7).U32())
	require.Equal(t, int64(math.MinInt64), I64(math.MinInt64).I64())
	require.Equal(t, float32(1.5), F32(1.5).F32())
	require.Equal(t, math.Inf(-1), F64(math.Inf(-1)).F64())
	require.True(t, Bool(true).Bool())
	require.False(t, Bool(false).Bool())

	require.Equal(t, I32(-1), FromRaw(static.I32, 0xFFFFFFFF))
	require.Equal(t, F32(2.25), FromRaw(static.F32, uint64(math.Float32bits(2.25))))
	require.Equal(t, static.I32, Bool(true).ValType())

	require.Equal(t, "-7", I32(-7).String())
	require.Equal(t, "true", Bool(true).String())
	require.Equal(t, "0.5", F64(0.5).String())
}

func TestEventHelpers(t *testing.T) {
	require.True(t, Return{Location: static.Loc(1, -1)}.Implicit())
	require.False(t, Return{Location: static.Loc(1, 4)}.Implicit())

	slot := uint32(3)
	require.True(t, CallPre{TableIndex: &slot}.Indirect())
	require.False(t, CallPre{}.Indirect())

	bt := BrTable{
		Table:    []static.BranchTarget{{Label: 0}, {Label: 1}},
		Default:  static.BranchTarget{Label: 9},
		Selector: 5,
	}
	require.Equal(t, uint32(9), bt.Taken().Label)
	bt.Selector = 1
	require.Equal(t, uint32(1), bt.Taken().Label)

	require.Equal(t, uint64(1<<32+3), MemArg{Addr: math.MaxUint32, Offset: 4}.EffectiveAddr())
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	var order []string
	require.NoError(t, Handle(reg, func(_ context.Context, ev Nop) error {
		order = append(order, "first")
		return nil
	}))
	require.NoError(t, reg.On(KindNop, func(_ context.Context, ev Event) error {
		order = append(order, "second")
		return nil
	}))

	table, err := reg.Freeze()
	require.NoError(t, err)
	require.True(t, table.Provided(KindNop))
	require.False(t, table.Provided(KindBinary))
	require.Len(t, table.Missing(), 22)

	require.NoError(t, table.Dispatch(ctx, Nop{Location: static.Loc(0, 0)}))
	require.Equal(t, []string{"first", "second"}, order)

	// no-op default for unregistered kinds
	require.NoError(t, table.Dispatch(ctx, Binary{Op: "i32.add"}))

	err = reg.On(KindNop, func(context.Context, Event) error { return nil })
	require.ErrorIs(t, err, &errors.Error{Kind: errors.KindInvalidStateTransition})
}

func TestRegistryFreezeOnce(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Freeze()
	require.NoError(t, err)

	// a second instance must not share the handlers
	table, err := reg.Freeze()
	require.ErrorIs(t, err, errors.ErrSessionInUse)
	require.Nil(t, table)
}

func TestRegistryErrorStopsChain(t *testing.T) {
	reg := NewRegistry()
	boom := errors.InvalidInput(errors.PhaseDispatch, "boom")
	called := false
	require.NoError(t, reg.On(KindDrop, func(context.Context, Event) error { return boom }))
	require.NoError(t, reg.On(KindDrop, func(context.Context, Event) error {
		called = true
		return nil
	}))

	table, err := reg.Freeze()
	require.NoError(t, err)
	err = table.Dispatch(context.Background(), Drop{Value: I32(1)})
	require.Equal(t, boom, err)
	require.False(t, called)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.On(Kind(200), func(context.Context, Event) error { return nil }))
	require.Error(t, reg.On(KindNop, nil))
}

func TestOnAny(t *testing.T) {
	reg := NewRegistry()
	var seen []Kind
	require.NoError(t, reg.OnAny(func(_ context.Context, ev Event) error {
		seen = append(seen, ev.Kind())
		return nil
	}))
	table, err := reg.Freeze()
	require.NoError(t, err)
	require.Empty(t, table.Missing())

	ctx := context.Background()
	require.NoError(t, table.Dispatch(ctx, Start{}))
	require.NoError(t, table.Dispatch(ctx, Global{Op: GlobalSet}))
	require.Equal(t, []Kind{KindStart, KindGlobal}, seen)
}
