package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/internal/testmod"
	"github.com/wippyai/wasm-instrument/static"
)

var (
	i32 = static.I32
	i64 = static.I64
)

// recorder keeps every event in delivery order.
type recorder struct {
	events []event.Event
	mu     sync.Mutex
}

func (r *recorder) record(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) registry(t *testing.T) *event.Registry {
	t.Helper()
	reg := event.NewRegistry()
	require.NoError(t, reg.OnAny(r.record))
	return reg
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *recorder) ofKind(kind event.Kind) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, ev := range r.events {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

// requireBalanced checks that every block kind has as many begins as ends.
func (r *recorder) requireBalanced(t *testing.T) {
	t.Helper()
	counts := make(map[static.BlockKind]int)
	for _, ev := range r.ofKind(event.KindBegin) {
		counts[ev.(event.Begin).Block]++
	}
	for _, ev := range r.ofKind(event.KindEnd) {
		counts[ev.(event.End).Block]--
	}
	for kind, n := range counts {
		require.Zero(t, n, "unbalanced %s blocks", kind)
	}
}

// Original function indices of callModule.
const (
	fnAdd uint32 = iota
	fnSeven
	fnMain
	fnIndirect
	fnInit
)

// callModule: main() calls add(1, 2); indirect() calls table slot 0, which
// holds seven(); init() is the start function and calls slot 0 as well.
func callModule(t *testing.T, withStart bool) ([]byte, *static.ModuleInfo) {
	t.Helper()
	b := testmod.New()
	unit := static.FuncType{Results: []static.ValType{i32}}

	b.Func("add", static.FuncType{Params: []static.ValType{i32, i32}, Results: []static.ValType{i32}}, nil, func(body *testmod.Body) {
		body.Hook("begin_function", -1)
		tmp := body.Temp(i32)
		body.Code().LocalGet(0).LocalGet(1).Op(0x6A).LocalTee(tmp)
		body.Hook("i32_add", 2, testmod.Local(0, i32), testmod.Local(1, i32), testmod.Local(tmp, i32))
		body.Hook("return_i", -1, testmod.Local(tmp, i32))
		body.Hook("end_function", -1)
	})
	b.Func("seven", unit, nil, func(body *testmod.Body) {
		body.Hook("begin_function", -1)
		body.Code().I32Const(7)
		body.Hook("end_function", -1)
	})
	b.Func("main", unit, nil, func(body *testmod.Body) {
		body.Hook("begin_function", -1)
		body.Hook("call_ii", 2, testmod.I32(int32(fnAdd)), testmod.I32(1), testmod.I32(2))
		body.Code().I32Const(1).I32Const(2)
		body.Call(fnAdd)
		tmp := body.Temp(i32)
		body.Code().LocalTee(tmp)
		body.Hook("call_post_i", 2, testmod.Local(tmp, i32))
		body.Hook("end_function", -1)
	})
	b.Func("indirect", unit, nil, func(body *testmod.Body) {
		body.Hook("begin_function", -1)
		body.Hook("call_indirect", 1, testmod.I32(0))
		body.Code().I32Const(0)
		body.CallIndirect(unit)
		tmp := body.Temp(i32)
		body.Code().LocalTee(tmp)
		body.Hook("call_post_i", 1, testmod.Local(tmp, i32))
		body.Hook("end_function", -1)
	})
	b.Func("init", static.FuncType{}, nil, func(body *testmod.Body) {
		body.Hook("start", -1)
		body.Hook("call_indirect", 1, testmod.I32(0))
		body.Code().I32Const(0)
		body.CallIndirect(unit)
		body.Code().Drop()
	})
	b.Table("", 2, fnSeven)
	if withStart {
		b.Start(fnInit)
	}

	data, info, err := b.Build()
	require.NoError(t, err)
	return data, info
}

// branchModule: nested() leaves two blocks with br 1; switch(sel) leaves
// one or two blocks through br_table [0 1] default 1.
func branchModule(t *testing.T) ([]byte, *static.ModuleInfo) {
	t.Helper()
	b := testmod.New()
	var tableID uint32

	b.Func("nested", static.FuncType{}, nil, func(body *testmod.Body) {
		c := body.Code()
		body.Hook("begin_function", -1)
		c.Block(0x40)
		body.Hook("begin_block", 0)
		c.Block(0x40)
		body.Hook("begin_block", 1)
		body.Hook("br", 2, testmod.I32(1), testmod.I32(4))
		body.Hook("end_block", 3, testmod.I32(1))
		body.Hook("end_block", 4, testmod.I32(0))
		c.Br(1)
		body.Hook("end_block", 3, testmod.I32(1))
		c.End()
		body.Hook("end_block", 4, testmod.I32(0))
		c.End()
		body.Hook("end_function", -1)
	})
	sw := b.Func("switch", static.FuncType{Params: []static.ValType{i32}}, nil, func(body *testmod.Body) {
		c := body.Code()
		body.Hook("begin_function", -1)
		c.Block(0x40)
		body.Hook("begin_block", 0)
		c.Block(0x40)
		body.Hook("begin_block", 1)
		body.Hook("br_table", 3, testmod.Local(0, i32), testmod.I32(int32(tableID)))
		c.LocalGet(0).BrTable([]uint32{0, 1}, 1)
		body.Hook("end_block", 4, testmod.I32(1))
		c.End()
		body.Hook("end_block", 5, testmod.I32(0))
		c.End()
		body.Hook("end_function", -1)
	})

	inner := static.EndBlock{Kind: static.BlockBlock, Begin: static.Loc(sw, 1), End: static.Loc(sw, 4)}
	outer := static.EndBlock{Kind: static.BlockBlock, Begin: static.Loc(sw, 0), End: static.Loc(sw, 5)}
	leaveOne := static.BranchTarget{Label: 0, Location: static.Loc(sw, 4), Ends: []static.EndBlock{inner}}
	leaveTwo := static.BranchTarget{Label: 1, Location: static.Loc(sw, 5), Ends: []static.EndBlock{inner, outer}}
	tableID = b.BrTable(static.BranchTable{Table: []static.BranchTarget{leaveOne, leaveTwo}, Default: leaveTwo})

	data, info, err := b.Build()
	require.NoError(t, err)
	return data, info
}

// Original function indices of tableWriteModule.
const (
	fnTWSeven uint32 = iota
	fnTWNine
	fnTWMutate
	fnTWIndirect
)

// tableWriteModule: the table starts as [seven, nine]; mutate() stores nine
// into slot 0 with table.set; indirect() calls slot 0.
func tableWriteModule(t *testing.T) ([]byte, *static.ModuleInfo) {
	t.Helper()
	b := testmod.New()
	unit := static.FuncType{Results: []static.ValType{i32}}

	b.Func("seven", unit, nil, func(body *testmod.Body) {
		body.Code().I32Const(7)
	})
	b.Func("nine", unit, nil, func(body *testmod.Body) {
		body.Code().I32Const(9)
	})
	b.Func("mutate", static.FuncType{}, nil, func(body *testmod.Body) {
		body.Code().I32Const(0)
		body.RefFunc(fnTWNine)
		body.Code().TableSet(0)
	})
	b.Func("indirect", unit, nil, func(body *testmod.Body) {
		body.Hook("call_indirect", 1, testmod.I32(0))
		body.Code().I32Const(0)
		body.CallIndirect(unit)
	})
	b.Table("", 2, fnTWSeven, fnTWNine)

	data, info, err := b.Build()
	require.NoError(t, err)
	return data, info
}

// choiceModule: choose(x) stores 10 or 20 through if/else, then adds one
// inside a loop that runs once.
func choiceModule(t *testing.T) ([]byte, *static.ModuleInfo) {
	t.Helper()
	b := testmod.New()

	b.Func("choose", static.FuncType{Params: []static.ValType{i32}, Results: []static.ValType{i32}}, []static.ValType{i32}, func(body *testmod.Body) {
		c := body.Code()
		body.Hook("begin_function", -1)
		cond := body.Temp(i32)
		c.LocalGet(0).LocalTee(cond)
		body.Hook("if", 1, testmod.Local(cond, i32))
		c.If(0x40)
		body.Hook("begin_if", 1)
		c.I32Const(10).LocalSet(1)
		body.Hook("end_if", 4, testmod.I32(1))
		c.Else()
		body.Hook("begin_else", 4, testmod.I32(1))
		c.I32Const(20).LocalSet(1)
		body.Hook("end_else", 7, testmod.I32(4), testmod.I32(1))
		c.End()
		c.Loop(0x40)
		body.Hook("begin_loop", 8)
		c.LocalGet(1).I32Const(1).Op(0x6A).LocalSet(1)
		body.Hook("end_loop", 13, testmod.I32(8))
		c.End()
		c.LocalGet(1)
		body.Hook("end_function", -1)
	})

	data, info, err := b.Build()
	require.NoError(t, err)
	return data, info
}

func newSession(t *testing.T, info *static.ModuleInfo, reg *event.Registry) *Session {
	t.Helper()
	s := NewSession(&Config{ModuleName: "guest"}, reg)
	require.NoError(t, s.LoadMetadata(info))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}
