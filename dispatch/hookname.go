package dispatch

import (
	"sort"
	"strings"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/static"
)

// DefaultNamespace is the import module the rewriter places hooks in.
const DefaultNamespace = "__wasabi_hooks"

// Hook stems. Polymorphic stems carry a type suffix: "call_iF" is a call
// with an i32 and an f64 argument.
const (
	stemStart         = "start"
	stemNop           = "nop"
	stemUnreachable   = "unreachable"
	stemIf            = "if"
	stemBr            = "br"
	stemBrIf          = "br_if"
	stemBrTable       = "br_table"
	stemMemorySize    = "memory_size"
	stemMemoryGrow    = "memory_grow"
	stemBeginFunction = "begin_function"
	stemBeginBlock    = "begin_block"
	stemBeginLoop     = "begin_loop"
	stemBeginIf       = "begin_if"
	stemBeginElse     = "begin_else"
	stemEndFunction   = "end_function"
	stemEndBlock      = "end_block"
	stemEndLoop       = "end_loop"
	stemEndIf         = "end_if"
	stemEndElse       = "end_else"

	stemDrop         = "drop"
	stemSelect       = "select"
	stemLocalGet     = "local_get"
	stemLocalSet     = "local_set"
	stemLocalTee     = "local_tee"
	stemGlobalGet    = "global_get"
	stemGlobalSet    = "global_set"
	stemReturn       = "return"
	stemCall         = "call"
	stemCallIndirect = "call_indirect"
	stemCallPost     = "call_post"
)

var monomorphicStems = map[string]struct{}{
	stemStart: {}, stemNop: {}, stemUnreachable: {}, stemIf: {}, stemBr: {}, stemBrIf: {},
	stemBrTable: {}, stemMemorySize: {}, stemMemoryGrow: {},
	stemBeginFunction: {}, stemBeginBlock: {}, stemBeginLoop: {}, stemBeginIf: {}, stemBeginElse: {},
	stemEndFunction: {}, stemEndBlock: {}, stemEndLoop: {}, stemEndIf: {}, stemEndElse: {},
}

// longest first so "call_indirect" wins over "call"
var polymorphicStems = func() []string {
	stems := []string{
		stemDrop, stemSelect, stemLocalGet, stemLocalSet, stemLocalTee,
		stemGlobalGet, stemGlobalSet, stemReturn, stemCall, stemCallIndirect, stemCallPost,
	}
	sort.Slice(stems, func(i, j int) bool { return len(stems[i]) > len(stems[j]) })
	return stems
}()

// HookName is a decoded low-level hook import name.
type HookName struct {
	Stem  string
	Types []static.ValType
}

// String mangles the name back: stem, then '_' and the type chars if any.
func (h HookName) String() string {
	if len(h.Types) == 0 {
		return h.Stem
	}
	return h.Stem + "_" + static.FormatValTypes(h.Types)
}

// Polymorphic reports whether the stem takes a type suffix.
func (h HookName) Polymorphic() bool {
	for _, s := range polymorphicStems {
		if s == h.Stem {
			return true
		}
	}
	return false
}

// ParseHookName decodes a low-level hook import name.
func ParseHookName(name string) (HookName, error) {
	if _, ok := monomorphicStems[name]; ok {
		return HookName{Stem: name}, nil
	}
	if _, ok := lookupOp(name); ok {
		return HookName{Stem: name}, nil
	}

	for _, stem := range polymorphicStems {
		if name == stem {
			return HookName{Stem: stem}, nil
		}
		suffix, ok := strings.CutPrefix(name, stem+"_")
		if !ok || suffix == "" {
			continue
		}
		types, err := static.ParseValTypes(suffix)
		if err != nil {
			continue
		}
		return HookName{Stem: stem, Types: types}, nil
	}
	return HookName{}, errors.New(errors.PhaseHook, errors.KindBrokenInvariant).
		Detail("unknown low-level hook %q", name).
		Value(name).
		Build()
}

// Args returns the semantic argument types of the hook, after the location
// pair and before i64 lowering.
func (h HookName) Args() ([]static.ValType, error) {
	i32 := static.I32
	switch h.Stem {
	case stemStart, stemNop, stemUnreachable, stemBeginFunction, stemBeginBlock,
		stemBeginLoop, stemBeginIf, stemEndFunction:
		return nil, nil
	case stemIf, stemMemorySize, stemBeginElse, stemEndBlock, stemEndLoop, stemEndIf:
		return []static.ValType{i32}, nil
	case stemBr, stemBrTable, stemMemoryGrow, stemEndElse:
		return []static.ValType{i32, i32}, nil
	case stemBrIf:
		return []static.ValType{i32, i32, i32}, nil
	case stemDrop:
		if len(h.Types) != 1 {
			return nil, h.arity(1)
		}
		return h.Types, nil
	case stemSelect:
		if len(h.Types) != 2 || h.Types[0] != h.Types[1] {
			return nil, errors.BrokenInvariant(errors.PhaseHook, "hook %q: select needs two equal types", h.String())
		}
		return []static.ValType{i32, h.Types[0], h.Types[1]}, nil
	case stemLocalGet, stemLocalSet, stemLocalTee, stemGlobalGet, stemGlobalSet:
		if len(h.Types) != 1 {
			return nil, h.arity(1)
		}
		return []static.ValType{i32, h.Types[0]}, nil
	case stemReturn, stemCallPost:
		return h.Types, nil
	case stemCall, stemCallIndirect:
		return append([]static.ValType{i32}, h.Types...), nil
	}

	op, ok := lookupOp(h.Stem)
	if !ok {
		return nil, errors.BrokenInvariant(errors.PhaseHook, "unknown low-level hook %q", h.String())
	}
	return op.hookArgs(), nil
}

func (h HookName) arity(n int) error {
	return errors.BrokenInvariant(errors.PhaseHook, "hook %q: expected %d type(s), got %d", h.String(), n, len(h.Types))
}
