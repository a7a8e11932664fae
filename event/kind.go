package event

// Kind identifies the family of an event.
type Kind uint8

const (
	KindStart Kind = iota
	KindNop
	KindUnreachable
	KindIf
	KindBr
	KindBrIf
	KindBrTable
	KindBegin
	KindEnd
	KindDrop
	KindSelect
	KindCallPre
	KindCallPost
	KindReturn
	KindConst
	KindUnary
	KindBinary
	KindLoad
	KindStore
	KindMemorySize
	KindMemoryGrow
	KindLocal
	KindGlobal

	numKinds
)

// Names match the hook names analyses have always used.
var kindNames = [numKinds]string{
	KindStart:       "start",
	KindNop:         "nop",
	KindUnreachable: "unreachable",
	KindIf:          "if_",
	KindBr:          "br",
	KindBrIf:        "br_if",
	KindBrTable:     "br_table",
	KindBegin:       "begin",
	KindEnd:         "end",
	KindDrop:        "drop",
	KindSelect:      "select",
	KindCallPre:     "call_pre",
	KindCallPost:    "call_post",
	KindReturn:      "return_",
	KindConst:       "const_",
	KindUnary:       "unary",
	KindBinary:      "binary",
	KindLoad:        "load",
	KindStore:       "store",
	KindMemorySize:  "memory_size",
	KindMemoryGrow:  "memory_grow",
	KindLocal:       "local",
	KindGlobal:      "global",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "unknown"
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k < numKinds
}

// Kinds returns every event kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, numKinds)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// ParseKind looks a kind up by hook name, e.g. "call_pre".
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}
