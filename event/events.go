package event

import "github.com/wippyai/wasm-instrument/static"

// Event is implemented by every event type of this package.
type Event interface {
	Kind() Kind
	Loc() static.Location
}

// Label is a branch target: the relative label and the instruction it resolves to.
type Label struct {
	Label    uint32
	Location static.Location
}

// MemArg describes the memory operand of a load or store.
type MemArg struct {
	Addr   uint32
	Offset uint32
	Align  uint32
}

// EffectiveAddr is Addr plus Offset, computed without wrapping.
func (m MemArg) EffectiveAddr() uint64 {
	return uint64(m.Addr) + uint64(m.Offset)
}

// LocalOp distinguishes local.get, local.set and local.tee.
type LocalOp uint8

const (
	LocalGet LocalOp = iota
	LocalSet
	LocalTee
)

func (op LocalOp) String() string {
	switch op {
	case LocalGet:
		return "local.get"
	case LocalSet:
		return "local.set"
	case LocalTee:
		return "local.tee"
	}
	return "local.?"
}

// GlobalOp distinguishes global.get and global.set.
type GlobalOp uint8

const (
	GlobalGet GlobalOp = iota
	GlobalSet
)

func (op GlobalOp) String() string {
	switch op {
	case GlobalGet:
		return "global.get"
	case GlobalSet:
		return "global.set"
	}
	return "global.?"
}

// Start fires once when the module's start function begins.
type Start struct {
	Location static.Location
}

type Nop struct {
	Location static.Location
}

type Unreachable struct {
	Location static.Location
}

type If struct {
	Location static.Location
	Cond     bool
}

type Br struct {
	Location static.Location
	Target   Label
}

type BrIf struct {
	Location static.Location
	Target   Label
	Cond     bool
}

// BrTable carries the whole resolved table; Taken returns the entry the
// selector picked.
type BrTable struct {
	Table    []static.BranchTarget
	Default  static.BranchTarget
	Location static.Location
	Selector uint32
}

// Taken returns the branch target for Selector, clamped to Default.
func (e BrTable) Taken() static.BranchTarget {
	if uint64(e.Selector) < uint64(len(e.Table)) {
		return e.Table[e.Selector]
	}
	return e.Default
}

// Begin opens a block. IfBegin is only set for else blocks.
type Begin struct {
	IfBegin  *static.Location
	Location static.Location
	Block    static.BlockKind
}

// End closes the block opened at Begin. IfBegin is only set for else blocks.
type End struct {
	IfBegin  *static.Location
	Location static.Location
	Begin    static.Location
	Block    static.BlockKind
}

type Drop struct {
	Value    Value
	Location static.Location
}

type Select struct {
	First    Value
	Second   Value
	Location static.Location
	Cond     bool
}

// CallPre fires before the callee runs. For indirect calls TableIndex is the
// table slot and Target the resolved original function index, or nil when it
// could not be resolved.
type CallPre struct {
	Target     *uint32
	TableIndex *uint32
	Args       []Value
	Location   static.Location
}

// Indirect reports whether the call went through the table.
func (e CallPre) Indirect() bool {
	return e.TableIndex != nil
}

type CallPost struct {
	Results  []Value
	Location static.Location
}

// Return fires for explicit returns and for the fallthrough at function end.
type Return struct {
	Results  []Value
	Location static.Location
}

// Implicit reports whether the return is the function's fallthrough.
func (e Return) Implicit() bool {
	return e.Location.IsVirtual()
}

type Const struct {
	Op       string
	Value    Value
	Location static.Location
}

type Unary struct {
	Op       string
	Input    Value
	Result   Value
	Location static.Location
}

type Binary struct {
	Op       string
	First    Value
	Second   Value
	Result   Value
	Location static.Location
}

type Load struct {
	Op       string
	Value    Value
	MemArg   MemArg
	Location static.Location
}

type Store struct {
	Op       string
	Value    Value
	MemArg   MemArg
	Location static.Location
}

type MemorySize struct {
	Location     static.Location
	CurrentPages uint32
}

type MemoryGrow struct {
	Location      static.Location
	DeltaPages    uint32
	PreviousPages int32
}

type Local struct {
	Value    Value
	Location static.Location
	Index    uint32
	Op       LocalOp
}

type Global struct {
	Value    Value
	Location static.Location
	Index    uint32
	Op       GlobalOp
}

func (Start) Kind() Kind       { return KindStart }
func (Nop) Kind() Kind         { return KindNop }
func (Unreachable) Kind() Kind { return KindUnreachable }
func (If) Kind() Kind          { return KindIf }
func (Br) Kind() Kind          { return KindBr }
func (BrIf) Kind() Kind        { return KindBrIf }
func (BrTable) Kind() Kind     { return KindBrTable }
func (Begin) Kind() Kind       { return KindBegin }
func (End) Kind() Kind         { return KindEnd }
func (Drop) Kind() Kind        { return KindDrop }
func (Select) Kind() Kind      { return KindSelect }
func (CallPre) Kind() Kind     { return KindCallPre }
func (CallPost) Kind() Kind    { return KindCallPost }
func (Return) Kind() Kind      { return KindReturn }
func (Const) Kind() Kind       { return KindConst }
func (Unary) Kind() Kind       { return KindUnary }
func (Binary) Kind() Kind      { return KindBinary }
func (Load) Kind() Kind        { return KindLoad }
func (Store) Kind() Kind       { return KindStore }
func (MemorySize) Kind() Kind  { return KindMemorySize }
func (MemoryGrow) Kind() Kind  { return KindMemoryGrow }
func (Local) Kind() Kind       { return KindLocal }
func (Global) Kind() Kind      { return KindGlobal }

func (e Start) Loc() static.Location       { return e.Location }
func (e Nop) Loc() static.Location         { return e.Location }
func (e Unreachable) Loc() static.Location { return e.Location }
func (e If) Loc() static.Location          { return e.Location }
func (e Br) Loc() static.Location          { return e.Location }
func (e BrIf) Loc() static.Location        { return e.Location }
func (e BrTable) Loc() static.Location     { return e.Location }
func (e Begin) Loc() static.Location       { return e.Location }
func (e End) Loc() static.Location         { return e.Location }
func (e Drop) Loc() static.Location        { return e.Location }
func (e Select) Loc() static.Location      { return e.Location }
func (e CallPre) Loc() static.Location     { return e.Location }
func (e CallPost) Loc() static.Location    { return e.Location }
func (e Return) Loc() static.Location      { return e.Location }
func (e Const) Loc() static.Location       { return e.Location }
func (e Unary) Loc() static.Location       { return e.Location }
func (e Binary) Loc() static.Location      { return e.Location }
func (e Load) Loc() static.Location        { return e.Location }
func (e Store) Loc() static.Location       { return e.Location }
func (e MemorySize) Loc() static.Location  { return e.Location }
func (e MemoryGrow) Loc() static.Location  { return e.Location }
func (e Local) Loc() static.Location       { return e.Location }
func (e Global) Loc() static.Location      { return e.Location }
