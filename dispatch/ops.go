package dispatch

import (
	"strings"

	"github.com/wippyai/wasm-instrument/static"
)

type opFamily uint8

const (
	familyConst opFamily = iota
	familyUnary
	familyBinary
	familyLoad
	familyStore
)

// opSig is the typing of one numeric or memory instruction.
type opSig struct {
	name   string
	inputs []static.ValType
	result static.ValType
	family opFamily
	// comparisons yield a boolean event value
	boolean bool
}

func (o *opSig) hookArgs() []static.ValType {
	i32 := static.I32
	switch o.family {
	case familyConst:
		return []static.ValType{o.result}
	case familyUnary:
		return []static.ValType{o.inputs[0], o.result}
	case familyBinary:
		return []static.ValType{o.inputs[0], o.inputs[1], o.result}
	case familyLoad:
		return []static.ValType{i32, i32, i32, o.result}
	case familyStore:
		return []static.ValType{i32, i32, i32, o.inputs[1]}
	}
	return nil
}

// ops is keyed by hook name ("i32_add"); opSig.name keeps the dotted form.
var ops = map[string]*opSig{}

func lookupOp(hookName string) (*opSig, bool) {
	op, ok := ops[hookName]
	return op, ok
}

func addOp(name string, family opFamily, result static.ValType, boolean bool, inputs ...static.ValType) {
	ops[strings.Replace(name, ".", "_", 1)] = &opSig{
		name:    name,
		family:  family,
		inputs:  inputs,
		result:  result,
		boolean: boolean,
	}
}

func init() {
	const (
		i32 = static.I32
		i64 = static.I64
		f32 = static.F32
		f64 = static.F64
	)

	for _, t := range []static.ValType{i32, i64, f32, f64} {
		addOp(t.String()+".const", familyConst, t, false)
	}

	// loads and stores: the result/stored value type is the prefix
	for _, name := range []string{
		"i32.load", "i64.load", "f32.load", "f64.load",
		"i32.load8_s", "i32.load8_u", "i32.load16_s", "i32.load16_u",
		"i64.load8_s", "i64.load8_u", "i64.load16_s", "i64.load16_u", "i64.load32_s", "i64.load32_u",
	} {
		t, _ := static.ValTypeFromName(name[:3])
		addOp(name, familyLoad, t, false, i32)
	}
	for _, name := range []string{
		"i32.store", "i64.store", "f32.store", "f64.store",
		"i32.store8", "i32.store16", "i64.store8", "i64.store16", "i64.store32",
	} {
		t, _ := static.ValTypeFromName(name[:3])
		addOp(name, familyStore, 0, false, i32, t)
	}

	addOp("i32.eqz", familyUnary, i32, true, i32)
	addOp("i64.eqz", familyUnary, i32, true, i64)
	for _, op := range []string{"clz", "ctz", "popcnt", "extend8_s", "extend16_s"} {
		addOp("i32."+op, familyUnary, i32, false, i32)
	}
	for _, op := range []string{"clz", "ctz", "popcnt", "extend8_s", "extend16_s", "extend32_s"} {
		addOp("i64."+op, familyUnary, i64, false, i64)
	}
	for _, t := range []static.ValType{f32, f64} {
		for _, op := range []string{"abs", "neg", "ceil", "floor", "trunc", "nearest", "sqrt"} {
			addOp(t.String()+"."+op, familyUnary, t, false, t)
		}
	}

	conversions := []struct {
		name    string
		in, out static.ValType
	}{
		{"i32.wrap_i64", i64, i32},
		{"i32.trunc_f32_s", f32, i32},
		{"i32.trunc_f32_u", f32, i32},
		{"i32.trunc_f64_s", f64, i32},
		{"i32.trunc_f64_u", f64, i32},
		{"i64.extend_i32_s", i32, i64},
		{"i64.extend_i32_u", i32, i64},
		{"i64.trunc_f32_s", f32, i64},
		{"i64.trunc_f32_u", f32, i64},
		{"i64.trunc_f64_s", f64, i64},
		{"i64.trunc_f64_u", f64, i64},
		{"f32.convert_i32_s", i32, f32},
		{"f32.convert_i32_u", i32, f32},
		{"f32.convert_i64_s", i64, f32},
		{"f32.convert_i64_u", i64, f32},
		{"f32.demote_f64", f64, f32},
		{"f64.convert_i32_s", i32, f64},
		{"f64.convert_i32_u", i32, f64},
		{"f64.convert_i64_s", i64, f64},
		{"f64.convert_i64_u", i64, f64},
		{"f64.promote_f32", f32, f64},
		{"i32.reinterpret_f32", f32, i32},
		{"i64.reinterpret_f64", f64, i64},
		{"f32.reinterpret_i32", i32, f32},
		{"f64.reinterpret_i64", i64, f64},
		{"i32.trunc_sat_f32_s", f32, i32},
		{"i32.trunc_sat_f32_u", f32, i32},
		{"i32.trunc_sat_f64_s", f64, i32},
		{"i32.trunc_sat_f64_u", f64, i32},
		{"i64.trunc_sat_f32_s", f32, i64},
		{"i64.trunc_sat_f32_u", f32, i64},
		{"i64.trunc_sat_f64_s", f64, i64},
		{"i64.trunc_sat_f64_u", f64, i64},
	}
	for _, c := range conversions {
		addOp(c.name, familyUnary, c.out, false, c.in)
	}

	for _, t := range []static.ValType{i32, i64} {
		for _, op := range []string{"eq", "ne", "lt_s", "lt_u", "gt_s", "gt_u", "le_s", "le_u", "ge_s", "ge_u"} {
			addOp(t.String()+"."+op, familyBinary, i32, true, t, t)
		}
		for _, op := range []string{
			"add", "sub", "mul", "div_s", "div_u", "rem_s", "rem_u",
			"and", "or", "xor", "shl", "shr_s", "shr_u", "rotl", "rotr",
		} {
			addOp(t.String()+"."+op, familyBinary, t, false, t, t)
		}
	}
	for _, t := range []static.ValType{f32, f64} {
		for _, op := range []string{"eq", "ne", "lt", "gt", "le", "ge"} {
			addOp(t.String()+"."+op, familyBinary, i32, true, t, t)
		}
		for _, op := range []string{"add", "sub", "mul", "div", "min", "max", "copysign"} {
			addOp(t.String()+"."+op, familyBinary, t, false, t, t)
		}
	}
}
