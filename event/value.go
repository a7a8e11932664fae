package event

import (
	"math"
	"strconv"

	"github.com/wippyai/wasm-instrument/static"
)

// ValueType tags the payload of a Value.
type ValueType uint8

const (
	ValueI32 ValueType = iota + 1
	ValueI64
	ValueF32
	ValueF64
	ValueBool
)

func (t ValueType) String() string {
	switch t {
	case ValueI32:
		return "i32"
	case ValueI64:
		return "i64"
	case ValueF32:
		return "f32"
	case ValueF64:
		return "f64"
	case ValueBool:
		return "bool"
	}
	return "invalid"
}

// Value is a runtime value observed by an event. Bits holds the raw
// representation: sign-agnostic integers and IEEE 754 bit patterns.
type Value struct {
	Bits uint64
	Type ValueType
}

func I32(v int32) Value      { return Value{Type: ValueI32, Bits: uint64(uint32(v))} }
func I64(v int64) Value      { return Value{Type: ValueI64, Bits: uint64(v)} }
func F32(v float32) Value    { return Value{Type: ValueF32, Bits: uint64(math.Float32bits(v))} }
func F64(v float64) Value    { return Value{Type: ValueF64, Bits: math.Float64bits(v)} }
func F32Bits(b uint32) Value { return Value{Type: ValueF32, Bits: uint64(b)} }
func F64Bits(b uint64) Value { return Value{Type: ValueF64, Bits: b} }

func Bool(v bool) Value {
	if v {
		return Value{Type: ValueBool, Bits: 1}
	}
	return Value{Type: ValueBool}
}

// FromRaw builds a Value of a wasm type from its raw 64-bit encoding.
func FromRaw(t static.ValType, raw uint64) Value {
	switch t {
	case static.I32:
		return Value{Type: ValueI32, Bits: raw & 0xFFFFFFFF}
	case static.I64:
		return Value{Type: ValueI64, Bits: raw}
	case static.F32:
		return Value{Type: ValueF32, Bits: raw & 0xFFFFFFFF}
	case static.F64:
		return Value{Type: ValueF64, Bits: raw}
	}
	return Value{}
}

func (v Value) I32() int32   { return int32(uint32(v.Bits)) }
func (v Value) U32() uint32  { return uint32(v.Bits) }
func (v Value) I64() int64   { return int64(v.Bits) }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }
func (v Value) Bool() bool   { return v.Bits != 0 }

// ValType returns the wasm type of the value; booleans report I32.
func (v Value) ValType() static.ValType {
	switch v.Type {
	case ValueI32, ValueBool:
		return static.I32
	case ValueI64:
		return static.I64
	case ValueF32:
		return static.F32
	case ValueF64:
		return static.F64
	}
	return 0
}

func (v Value) String() string {
	switch v.Type {
	case ValueI32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case ValueI64:
		return strconv.FormatInt(v.I64(), 10)
	case ValueF32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case ValueF64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool())
	}
	return "<invalid>"
}
