package wasm

import (
	"github.com/wippyai/wasm-instrument/wasm/internal/binary"
)

// Code assembles a function body one instruction at a time.
// Methods return the receiver so calls can be chained.
type Code struct {
	w *binary.Writer
}

func NewCode() *Code {
	return &Code{w: binary.NewWriter()}
}

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte {
	return c.w.Bytes()
}

// Op writes an opcode without immediates.
func (c *Code) Op(op byte) *Code {
	c.w.Byte(op)
	return c
}

func (c *Code) opU32(op byte, v uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(v)
	return c
}

func (c *Code) I32Const(v int32) *Code {
	c.w.Byte(OpI32Const)
	c.w.WriteS32(v)
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.w.Byte(OpI64Const)
	c.w.WriteS64(v)
	return c
}

func (c *Code) F32Const(v float32) *Code {
	c.w.Byte(OpF32Const)
	c.w.WriteF32(v)
	return c
}

func (c *Code) F64Const(v float64) *Code {
	c.w.Byte(OpF64Const)
	c.w.WriteF64(v)
	return c
}

// Block opens a block. Pass BlockTypeVoid or a value type byte.
func (c *Code) Block(bt byte) *Code {
	c.w.Byte(OpBlock)
	c.w.Byte(bt)
	return c
}

func (c *Code) Loop(bt byte) *Code {
	c.w.Byte(OpLoop)
	c.w.Byte(bt)
	return c
}

func (c *Code) If(bt byte) *Code {
	c.w.Byte(OpIf)
	c.w.Byte(bt)
	return c
}

func (c *Code) Else() *Code { return c.Op(OpElse) }
func (c *Code) End() *Code  { return c.Op(OpEnd) }

func (c *Code) Br(depth uint32) *Code   { return c.opU32(OpBr, depth) }
func (c *Code) BrIf(depth uint32) *Code { return c.opU32(OpBrIf, depth) }

func (c *Code) BrTable(labels []uint32, def uint32) *Code {
	c.w.Byte(OpBrTable)
	c.w.WriteU32(uint32(len(labels)))
	for _, l := range labels {
		c.w.WriteU32(l)
	}
	c.w.WriteU32(def)
	return c
}

func (c *Code) Return() *Code { return c.Op(OpReturn) }
func (c *Code) Drop() *Code   { return c.Op(OpDrop) }

func (c *Code) Call(funcIdx uint32) *Code { return c.opU32(OpCall, funcIdx) }

func (c *Code) CallIndirect(typeIdx, tableIdx uint32) *Code {
	c.opU32(OpCallIndirect, typeIdx)
	c.w.WriteU32(tableIdx)
	return c
}

func (c *Code) LocalGet(idx uint32) *Code  { return c.opU32(OpLocalGet, idx) }
func (c *Code) LocalSet(idx uint32) *Code  { return c.opU32(OpLocalSet, idx) }
func (c *Code) LocalTee(idx uint32) *Code  { return c.opU32(OpLocalTee, idx) }
func (c *Code) GlobalGet(idx uint32) *Code { return c.opU32(OpGlobalGet, idx) }
func (c *Code) GlobalSet(idx uint32) *Code { return c.opU32(OpGlobalSet, idx) }

// Mem writes a load or store opcode with its memarg.
func (c *Code) Mem(op byte, align, offset uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(align)
	c.w.WriteU32(offset)
	return c
}

func (c *Code) RefFunc(funcIdx uint32) *Code { return c.opU32(OpRefFunc, funcIdx) }

func (c *Code) TableGet(tableIdx uint32) *Code { return c.opU32(OpTableGet, tableIdx) }
func (c *Code) TableSet(tableIdx uint32) *Code { return c.opU32(OpTableSet, tableIdx) }

// Misc writes a 0xFC-prefixed instruction with its u32 immediates.
func (c *Code) Misc(sub uint32, imms ...uint32) *Code {
	c.opU32(OpPrefixMisc, sub)
	for _, v := range imms {
		c.w.WriteU32(v)
	}
	return c
}
