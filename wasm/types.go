package wasm

// Module is a parsed WebAssembly module.
type Module struct {
	Start          *uint32
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // type index per defined function
	Tables         []TableType
	Memories       []Limits
	Globals        []Global
	Exports        []Export
	Elements       []Element
	Code           []FuncBody
	Data           []DataSegment
	CustomSections []CustomSection
	DataCount      *uint32
}

type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	}
	return "unknown"
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) Equal(other FuncType) bool {
	return equalTypes(ft.Params, other.Params) && equalTypes(ft.Results, other.Results)
}

func equalTypes(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc holds the descriptor for Kind; only the matching field is set.
type ImportDesc struct {
	Table   *TableType
	Memory  *Limits
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

type Limits struct {
	Max    *uint32
	Min    uint32
	Shared bool
}

type TableType struct {
	Limits   Limits
	ElemType ValType
}

type GlobalType struct {
	ValType ValType
	Mutable bool
}

type Global struct {
	Init []byte
	Type GlobalType
}

type Export struct {
	Name string
	Idx  uint32
	Kind byte
}

// Element is an element segment. Active segments (Flags bit 0 clear) carry
// an Offset expression; expression segments (bit 2 set) use Exprs instead
// of FuncIdxs.
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// Active reports whether the segment is copied into a table at instantiation.
func (e *Element) Active() bool {
	return e.Flags&0x01 == 0
}

type LocalEntry struct {
	Count uint32
	Type  ValType
}

// FuncBody is a function body with its instruction bytes, terminating end included.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// DataSegment is a data segment. Passive segments (Flags 1) have no offset.
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs counts function imports.
func (m *Module) NumImportedFuncs() int {
	return m.countImports(KindFunc)
}

// NumImportedTables counts table imports.
func (m *Module) NumImportedTables() int {
	return m.countImports(KindTable)
}

func (m *Module) countImports(kind byte) int {
	n := 0
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind == kind {
			n++
		}
	}
	return n
}

// NumFuncs is the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// FuncTypeOf returns the signature of function idx in the index space.
func (m *Module) FuncTypeOf(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	n := uint32(0)
	found := false
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindFunc {
			continue
		}
		if n == idx {
			typeIdx = m.Imports[i].Desc.TypeIdx
			found = true
			break
		}
		n++
	}
	if !found {
		local := idx - n
		if idx < n || uint64(local) >= uint64(len(m.Funcs)) {
			return FuncType{}, false
		}
		typeIdx = m.Funcs[local]
	}
	if uint64(typeIdx) >= uint64(len(m.Types)) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// ExportNamed returns the export with the given name.
func (m *Module) ExportNamed(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// FuncExports maps function index to its export names in section order.
func (m *Module) FuncExports() map[uint32][]string {
	out := make(map[uint32][]string)
	for _, e := range m.Exports {
		if e.Kind == KindFunc {
			out[e.Idx] = append(out[e.Idx], e.Name)
		}
	}
	return out
}

// AddType appends ft unless an equal type exists and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}
