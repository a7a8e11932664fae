package static

import (
	"fmt"
	"strings"
)

// VirtualInstr is the instruction index of locations without a bytecode offset.
const VirtualInstr int32 = -1

// Location identifies the instruction at which an event occurred.
type Location struct {
	Func  uint32
	Instr int32
}

// Loc builds a Location.
func Loc(fn uint32, instr int32) Location {
	return Location{Func: fn, Instr: instr}
}

// IsVirtual reports whether the location has no corresponding instruction.
func (l Location) IsVirtual() bool {
	return l.Instr == VirtualInstr
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Func, l.Instr)
}

// ValType is a numeric WebAssembly value type.
type ValType byte

const (
	I32 ValType = iota + 1
	I64
	F32
	F64
)

// Char returns the one-letter form used by the rewriter: i, I, f, F.
func (t ValType) Char() byte {
	switch t {
	case I32:
		return 'i'
	case I64:
		return 'I'
	case F32:
		return 'f'
	case F64:
		return 'F'
	}
	return '?'
}

func (t ValType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return fmt.Sprintf("valtype(%d)", byte(t))
}

// ValTypeFromChar is the reverse of Char.
func ValTypeFromChar(c byte) (ValType, bool) {
	switch c {
	case 'i':
		return I32, true
	case 'I':
		return I64, true
	case 'f':
		return F32, true
	case 'F':
		return F64, true
	}
	return 0, false
}

// ValTypeFromName parses "i32", "i64", "f32" or "f64".
func ValTypeFromName(name string) (ValType, bool) {
	switch name {
	case "i32":
		return I32, true
	case "i64":
		return I64, true
	case "f32":
		return F32, true
	case "f64":
		return F64, true
	}
	return 0, false
}

// ParseValTypes decodes a compact type string such as "iIF".
func ParseValTypes(s string) ([]ValType, error) {
	if s == "" {
		return nil, nil
	}
	types := make([]ValType, len(s))
	for i := 0; i < len(s); i++ {
		t, ok := ValTypeFromChar(s[i])
		if !ok {
			return nil, fmt.Errorf("invalid type character %q in %q", s[i], s)
		}
		types[i] = t
	}
	return types, nil
}

// FormatValTypes is the reverse of ParseValTypes.
func FormatValTypes(types []ValType) string {
	var b strings.Builder
	b.Grow(len(types))
	for _, t := range types {
		b.WriteByte(t.Char())
	}
	return b.String()
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// ParseFuncType decodes the rewriter's "params|results" form, e.g. "ii|i".
func ParseFuncType(s string) (FuncType, error) {
	params, results, ok := strings.Cut(s, "|")
	if !ok {
		return FuncType{}, fmt.Errorf("function type %q lacks '|' separator", s)
	}
	p, err := ParseValTypes(params)
	if err != nil {
		return FuncType{}, err
	}
	r, err := ParseValTypes(results)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: p, Results: r}, nil
}

func (ft FuncType) String() string {
	return FormatValTypes(ft.Params) + "|" + FormatValTypes(ft.Results)
}

// BlockKind is the kind of a structured control block.
type BlockKind uint8

const (
	BlockFunction BlockKind = iota
	BlockBlock
	BlockLoop
	BlockIf
	BlockElse
)

var blockKindNames = [...]string{
	BlockFunction: "function",
	BlockBlock:    "block",
	BlockLoop:     "loop",
	BlockIf:       "if",
	BlockElse:     "else",
}

func (k BlockKind) String() string {
	if int(k) < len(blockKindNames) {
		return blockKindNames[k]
	}
	return fmt.Sprintf("blockkind(%d)", uint8(k))
}

// ParseBlockKind parses the lowercase block kind name.
func ParseBlockKind(s string) (BlockKind, bool) {
	for i, name := range blockKindNames {
		if name == s {
			return BlockKind(i), true
		}
	}
	return 0, false
}
