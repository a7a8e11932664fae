package dispatch

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

// JoinI64 rebuilds a 64-bit value the rewriter passed as two i32 halves.
func JoinI64(low, high int32) int64 {
	return int64(uint64(uint32(high))<<32 | uint64(uint32(low)))
}

// SplitI64 is the inverse of JoinI64.
func SplitI64(v int64) (low, high int32) {
	return int32(uint32(uint64(v))), int32(uint32(uint64(v) >> 32))
}

// LowerParams expands semantic hook arguments into the wasm parameter list:
// the (func, instr) location pair, then every argument with i64 split in two.
func LowerParams(args []static.ValType) []api.ValueType {
	params := make([]api.ValueType, 0, 2+len(args)*2)
	params = append(params, api.ValueTypeI32, api.ValueTypeI32)
	for _, t := range args {
		switch t {
		case static.I32:
			params = append(params, api.ValueTypeI32)
		case static.I64:
			params = append(params, api.ValueTypeI32, api.ValueTypeI32)
		case static.F32:
			params = append(params, api.ValueTypeF32)
		case static.F64:
			params = append(params, api.ValueTypeF64)
		}
	}
	return params
}

// argReader walks a host function's parameter stack.
type argReader struct {
	stack []uint64
	pos   int
}

func (r *argReader) next() uint64 {
	v := r.stack[r.pos]
	r.pos++
	return v
}

func (r *argReader) i32() int32 {
	return api.DecodeI32(r.next())
}

func (r *argReader) u32() uint32 {
	return api.DecodeU32(r.next())
}

func (r *argReader) location() static.Location {
	fn := r.u32()
	return static.Loc(fn, r.i32())
}

func (r *argReader) value(t static.ValType) event.Value {
	switch t {
	case static.I32:
		return event.I32(r.i32())
	case static.I64:
		low := r.i32()
		return event.I64(JoinI64(low, r.i32()))
	case static.F32:
		return event.F32Bits(uint32(r.next()))
	case static.F64:
		return event.F64Bits(r.next())
	}
	return event.Value{}
}

func (r *argReader) values(types []static.ValType) []event.Value {
	if len(types) == 0 {
		return nil
	}
	vals := make([]event.Value, len(types))
	for i, t := range types {
		vals[i] = r.value(t)
	}
	return vals
}
