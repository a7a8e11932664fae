package testmod

import (
	"github.com/wippyai/wasm-instrument/static"
	"github.com/wippyai/wasm-instrument/wasm"
)

const (
	opI32WrapI64 byte = 0xA7
	opI64ShrU    byte = 0x88
)

// Arg pushes the i32 words of one hook argument.
type Arg func(c *wasm.Code)

func I32(v int32) Arg {
	return func(c *wasm.Code) { c.I32Const(v) }
}

// I64 pushes v as (low, high).
func I64(v int64) Arg {
	return func(c *wasm.Code) {
		c.I32Const(int32(uint32(v)))
		c.I32Const(int32(uint32(uint64(v) >> 32)))
	}
}

func F32(v float32) Arg {
	return func(c *wasm.Code) { c.F32Const(v) }
}

func F64(v float64) Arg {
	return func(c *wasm.Code) { c.F64Const(v) }
}

// Local pushes local idx, split into two words if it is an i64.
func Local(idx uint32, t static.ValType) Arg {
	return func(c *wasm.Code) {
		c.LocalGet(idx)
		if t != static.I64 {
			return
		}
		c.Op(opI32WrapI64)
		c.LocalGet(idx).I64Const(32).Op(opI64ShrU).Op(opI32WrapI64)
	}
}

// Body writes the instrumented code of one function.
type Body struct {
	def     *funcDef
	hooks   *hookIndex
	mod     *wasm.Module
	code    *wasm.Code
	err     error
	locals  []static.ValType
	fn      uint32
	imports uint32
	shift   uint32
}

func (b *Builder) newBody(fn uint32, def *funcDef, hooks *hookIndex, mod *wasm.Module) *Body {
	return &Body{
		def:     def,
		hooks:   hooks,
		mod:     mod,
		code:    wasm.NewCode(),
		locals:  append([]static.ValType(nil), def.locals...),
		fn:      fn,
		imports: uint32(len(b.imports)),
	}
}

// Index is the function's original index.
func (b *Body) Index() uint32 {
	return b.fn
}

// Code gives direct access to the instruction stream.
func (b *Body) Code() *wasm.Code {
	return b.code
}

// Temp allocates a scratch local that is not part of the module info.
func (b *Body) Temp(t static.ValType) uint32 {
	b.locals = append(b.locals, t)
	return uint32(len(b.def.typ.Params) + len(b.locals) - 1)
}

// Hook emits a call to low-level hook name at instruction instr.
func (b *Body) Hook(name string, instr int32, args ...Arg) *Body {
	idx, err := b.hooks.lookup(name)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.code.I32Const(int32(b.fn)).I32Const(instr)
	for _, a := range args {
		a(b.code)
	}
	b.code.Call(b.imports + idx)
	return b
}

// Call emits a direct call of an original function.
func (b *Body) Call(orig uint32) *Body {
	if orig >= b.imports {
		orig += b.shift
	}
	b.code.Call(orig)
	return b
}

// CallIndirect emits call_indirect through table 0.
func (b *Body) CallIndirect(typ static.FuncType) *Body {
	b.code.CallIndirect(b.mod.AddType(wasmType(typ)), 0)
	return b
}

// RefFunc pushes a reference to an original function.
func (b *Body) RefFunc(orig uint32) *Body {
	if orig >= b.imports {
		orig += b.shift
	}
	b.code.RefFunc(orig)
	return b
}
