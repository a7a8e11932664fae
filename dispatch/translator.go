package dispatch

import (
	"context"
	"slices"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

// Resolver maps a table slot to a function index of the original module.
type Resolver interface {
	Resolve(slot uint32) (uint32, error)
}

// Translator turns low-level hook calls into events.
type Translator struct {
	info     *static.ModuleInfo
	handlers *event.Table
	resolver Resolver
	logger   *zap.Logger
}

// NewTranslator creates a Translator. A nil logger uses the package logger.
func NewTranslator(info *static.ModuleInfo, handlers *event.Table, resolver Resolver, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = Logger()
	}
	return &Translator{
		info:     info,
		handlers: handlers,
		resolver: resolver,
		logger:   logger,
	}
}

type emitFunc func(ctx context.Context, r *argReader, loc static.Location) error

// Params returns the wasm parameter list the rewriter declares for a hook.
func Params(name string) ([]api.ValueType, error) {
	hn, err := ParseHookName(name)
	if err != nil {
		return nil, err
	}
	args, err := hn.Args()
	if err != nil {
		return nil, err
	}
	return LowerParams(args), nil
}

// HostFunc returns the implementation of the low-level hook import name.
// params is the signature the module imports it with; a mismatch with the
// signature implied by the name is a broken invariant. Handler errors are
// raised as panics so the runtime aborts the guest call and returns them.
func (t *Translator) HostFunc(name string, params []api.ValueType) (api.GoModuleFunc, error) {
	hn, err := ParseHookName(name)
	if err != nil {
		return nil, err
	}
	args, err := hn.Args()
	if err != nil {
		return nil, err
	}
	if want := LowerParams(args); !slices.Equal(want, params) {
		return nil, errors.New(errors.PhaseHook, errors.KindBrokenInvariant).
			Path(name).
			Detail("imported with params (%s), expected (%s)", formatParams(params), formatParams(want)).
			Build()
	}

	emit, err := t.emitter(hn)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, _ api.Module, stack []uint64) {
		r := argReader{stack: stack}
		loc := r.location()
		if err := emit(ctx, &r, loc); err != nil {
			t.logger.Debug("hook aborted guest execution",
				zap.String("hook", name),
				zap.Stringer("location", loc),
				zap.Error(err))
			panic(err)
		}
	}, nil
}

func (t *Translator) dispatch(ctx context.Context, ev event.Event) error {
	return t.handlers.Dispatch(ctx, ev)
}

func (t *Translator) emitter(hn HookName) (emitFunc, error) {
	switch hn.Stem {
	case stemStart:
		return func(ctx context.Context, _ *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.Start{Location: loc})
		}, nil
	case stemNop:
		return func(ctx context.Context, _ *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.Nop{Location: loc})
		}, nil
	case stemUnreachable:
		return func(ctx context.Context, _ *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.Unreachable{Location: loc})
		}, nil
	case stemIf:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.If{Location: loc, Cond: r.i32() != 0})
		}, nil
	case stemBr:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			label := r.u32()
			target := static.Loc(loc.Func, r.i32())
			return t.dispatch(ctx, event.Br{Location: loc, Target: event.Label{Label: label, Location: target}})
		}, nil
	case stemBrIf:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			cond := r.i32() != 0
			label := r.u32()
			target := static.Loc(loc.Func, r.i32())
			return t.dispatch(ctx, event.BrIf{Location: loc, Target: event.Label{Label: label, Location: target}, Cond: cond})
		}, nil
	case stemBrTable:
		return t.brTable, nil
	case stemMemorySize:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.MemorySize{Location: loc, CurrentPages: r.u32()})
		}, nil
	case stemMemoryGrow:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			delta := r.u32()
			return t.dispatch(ctx, event.MemoryGrow{Location: loc, DeltaPages: delta, PreviousPages: r.i32()})
		}, nil
	case stemBeginFunction:
		return t.begin(static.BlockFunction), nil
	case stemBeginBlock:
		return t.begin(static.BlockBlock), nil
	case stemBeginLoop:
		return t.begin(static.BlockLoop), nil
	case stemBeginIf:
		return t.begin(static.BlockIf), nil
	case stemBeginElse:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			ifBegin := static.Loc(loc.Func, r.i32())
			return t.dispatch(ctx, event.Begin{Location: loc, Block: static.BlockElse, IfBegin: &ifBegin})
		}, nil
	case stemEndFunction:
		return func(ctx context.Context, _ *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.End{
				Location: loc,
				Block:    static.BlockFunction,
				Begin:    static.Loc(loc.Func, static.VirtualInstr),
			})
		}, nil
	case stemEndBlock:
		return t.end(static.BlockBlock), nil
	case stemEndLoop:
		return t.end(static.BlockLoop), nil
	case stemEndIf:
		return t.end(static.BlockIf), nil
	case stemEndElse:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			begin := static.Loc(loc.Func, r.i32())
			ifBegin := static.Loc(loc.Func, r.i32())
			return t.dispatch(ctx, event.End{Location: loc, Block: static.BlockElse, Begin: begin, IfBegin: &ifBegin})
		}, nil
	case stemDrop:
		ty := hn.Types[0]
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.Drop{Location: loc, Value: r.value(ty)})
		}, nil
	case stemSelect:
		ty := hn.Types[0]
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			cond := r.i32() != 0
			first := r.value(ty)
			return t.dispatch(ctx, event.Select{Location: loc, Cond: cond, First: first, Second: r.value(ty)})
		}, nil
	case stemLocalGet:
		return t.local(event.LocalGet, hn.Types[0]), nil
	case stemLocalSet:
		return t.local(event.LocalSet, hn.Types[0]), nil
	case stemLocalTee:
		return t.local(event.LocalTee, hn.Types[0]), nil
	case stemGlobalGet:
		return t.global(event.GlobalGet, hn.Types[0]), nil
	case stemGlobalSet:
		return t.global(event.GlobalSet, hn.Types[0]), nil
	case stemReturn:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.Return{Location: loc, Results: r.values(hn.Types)})
		}, nil
	case stemCallPost:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.CallPost{Location: loc, Results: r.values(hn.Types)})
		}, nil
	case stemCall:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			target := r.u32()
			return t.dispatch(ctx, event.CallPre{Location: loc, Target: &target, Args: r.values(hn.Types)})
		}, nil
	case stemCallIndirect:
		return t.callIndirect(hn.Types), nil
	}

	op, ok := lookupOp(hn.Stem)
	if !ok {
		return nil, errors.BrokenInvariant(errors.PhaseHook, "unknown low-level hook %q", hn.String())
	}
	return t.op(op), nil
}

func (t *Translator) begin(kind static.BlockKind) emitFunc {
	return func(ctx context.Context, _ *argReader, loc static.Location) error {
		return t.dispatch(ctx, event.Begin{Location: loc, Block: kind})
	}
}

func (t *Translator) end(kind static.BlockKind) emitFunc {
	return func(ctx context.Context, r *argReader, loc static.Location) error {
		begin := static.Loc(loc.Func, r.i32())
		return t.dispatch(ctx, event.End{Location: loc, Block: kind, Begin: begin})
	}
}

func (t *Translator) local(op event.LocalOp, ty static.ValType) emitFunc {
	return func(ctx context.Context, r *argReader, loc static.Location) error {
		idx := r.u32()
		return t.dispatch(ctx, event.Local{Location: loc, Op: op, Index: idx, Value: r.value(ty)})
	}
}

func (t *Translator) global(op event.GlobalOp, ty static.ValType) emitFunc {
	return func(ctx context.Context, r *argReader, loc static.Location) error {
		idx := r.u32()
		return t.dispatch(ctx, event.Global{Location: loc, Op: op, Index: idx, Value: r.value(ty)})
	}
}

// brTable fires the br_table event, then one end event per block the taken
// target leaves, innermost first.
func (t *Translator) brTable(ctx context.Context, r *argReader, loc static.Location) error {
	selector := r.u32()
	id := r.u32()
	bt, ok := t.info.BrTable(id)
	if !ok {
		return errors.BrokenInvariant(errors.PhaseDispatch,
			"br_table info %d at %s out of range (%d tables)", id, loc, len(t.info.BrTables))
	}

	if err := t.dispatch(ctx, event.BrTable{
		Location: loc,
		Table:    bt.Table,
		Default:  bt.Default,
		Selector: selector,
	}); err != nil {
		return err
	}

	for _, end := range bt.Target(selector).Ends {
		if err := t.dispatch(ctx, event.End{
			Location: end.End,
			Block:    end.Kind,
			Begin:    end.Begin,
			IfBegin:  end.IfBegin,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) callIndirect(types []static.ValType) emitFunc {
	return func(ctx context.Context, r *argReader, loc static.Location) error {
		slot := r.u32()
		args := r.values(types)
		target, err := t.resolve(slot, loc)
		if err != nil {
			return err
		}
		return t.dispatch(ctx, event.CallPre{Location: loc, Target: target, Args: args, TableIndex: &slot})
	}
}

// resolve returns nil for slots that cannot be resolved; only broken
// invariants are errors.
func (t *Translator) resolve(slot uint32, loc static.Location) (*uint32, error) {
	if t.resolver == nil {
		t.logger.Warn("cannot resolve table index without a resolver",
			zap.Uint32("slot", slot), zap.Stringer("location", loc))
		return nil, nil
	}
	idx, err := t.resolver.Resolve(slot)
	switch {
	case err == nil:
		return &idx, nil
	case errors.IsKind(err, errors.KindBrokenInvariant):
		return nil, err
	default:
		t.logger.Warn("indirect call target unresolved",
			zap.Uint32("slot", slot), zap.Stringer("location", loc), zap.Error(err))
		return nil, nil
	}
}

func (t *Translator) op(op *opSig) emitFunc {
	switch op.family {
	case familyConst:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			return t.dispatch(ctx, event.Const{Location: loc, Op: op.name, Value: r.value(op.result)})
		}
	case familyUnary:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			input := r.value(op.inputs[0])
			result := op.resultValue(r)
			return t.dispatch(ctx, event.Unary{Location: loc, Op: op.name, Input: input, Result: result})
		}
	case familyBinary:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			first := r.value(op.inputs[0])
			second := r.value(op.inputs[1])
			result := op.resultValue(r)
			return t.dispatch(ctx, event.Binary{Location: loc, Op: op.name, First: first, Second: second, Result: result})
		}
	case familyLoad:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			memarg := readMemArg(r)
			return t.dispatch(ctx, event.Load{Location: loc, Op: op.name, MemArg: memarg, Value: r.value(op.result)})
		}
	default:
		return func(ctx context.Context, r *argReader, loc static.Location) error {
			memarg := readMemArg(r)
			return t.dispatch(ctx, event.Store{Location: loc, Op: op.name, MemArg: memarg, Value: r.value(op.inputs[1])})
		}
	}
}

func (o *opSig) resultValue(r *argReader) event.Value {
	v := r.value(o.result)
	if o.boolean {
		return event.Bool(v.I32() != 0)
	}
	return v
}

func formatParams(params []api.ValueType) string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = api.ValueTypeName(p)
	}
	return strings.Join(names, ",")
}

// memarg arrives as (offset, align, addr)
func readMemArg(r *argReader) event.MemArg {
	offset := r.u32()
	align := r.u32()
	return event.MemArg{Offset: offset, Align: align, Addr: r.u32()}
}
