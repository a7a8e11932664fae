package wasm

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/wasm/internal/binary"
)

// NullFunc marks a table slot without a function reference.
const NullFunc uint32 = math.MaxUint32

// TableImage is the initial content of a funcref table together with
// everything that can make it diverge from that content at run time.
type TableImage struct {
	// Slots holds a function index or NullFunc per slot.
	Slots []uint32
	// Skipped lists active element segments that could not be applied
	// statically, e.g. an offset reading an imported global.
	Skipped []int
	// Writes lists instructions that can store into the table.
	Writes []TableWrite
	// Grows is set when table.grow targets the table.
	Grows bool
	// Imported is set for a table owned by another module.
	Imported bool
}

// Static reports whether Slots holds for the whole lifetime of the
// instance. Slots past the initial size are still unknown when Grows.
func (img *TableImage) Static() bool {
	return len(img.Skipped) == 0 && len(img.Writes) == 0 && !img.Imported
}

// TableImage computes the content of table tableIdx right after
// instantiation by applying the active element segments in order, and
// scans the code for instructions that can rewrite it afterwards.
func (m *Module) TableImage(tableIdx uint32) (*TableImage, error) {
	tt, ok := m.tableType(tableIdx)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseParse, []string{"tables"}, int(tableIdx), m.NumImportedTables()+len(m.Tables))
	}
	if tt.ElemType != ValFuncRef {
		return nil, errors.InvalidData(errors.PhaseParse, []string{"tables", fmt.Sprint(tableIdx)}, "not a funcref table")
	}

	img := &TableImage{
		Slots:    make([]uint32, tt.Limits.Min),
		Imported: tableIdx < uint32(m.NumImportedTables()),
	}
	img.Writes, img.Grows = m.TableWrites(tableIdx)
	for i := range img.Slots {
		img.Slots[i] = NullFunc
	}
	for i := range m.Elements {
		e := &m.Elements[i]
		if !e.Active() || e.TableIdx != tableIdx {
			continue
		}
		offset, ok := m.evalI32(e.Offset)
		if !ok {
			img.Skipped = append(img.Skipped, i)
			continue
		}
		refs, ok := e.refs()
		if !ok {
			img.Skipped = append(img.Skipped, i)
			continue
		}
		start := uint64(uint32(offset))
		if start+uint64(len(refs)) > uint64(len(img.Slots)) {
			return nil, errors.New(errors.PhaseParse, errors.KindOutOfBounds).
				Path("elements", fmt.Sprint(i)).
				Detail("segment of %d entries at offset %d exceeds table size %d", len(refs), start, len(img.Slots)).
				Build()
		}
		copy(img.Slots[start:], refs)
	}
	return img, nil
}

func (m *Module) tableType(idx uint32) (TableType, bool) {
	n := uint32(0)
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindTable {
			continue
		}
		if n == idx {
			return *m.Imports[i].Desc.Table, true
		}
		n++
	}
	local := uint64(idx) - uint64(n)
	if idx < n || local >= uint64(len(m.Tables)) {
		return TableType{}, false
	}
	return m.Tables[local], true
}

func (e *Element) refs() ([]uint32, bool) {
	if e.Flags&0x04 == 0 {
		return e.FuncIdxs, true
	}
	out := make([]uint32, len(e.Exprs))
	for i, expr := range e.Exprs {
		if len(expr) == 0 {
			return nil, false
		}
		switch expr[0] {
		case OpRefFunc:
			idx, err := binary.NewReader(expr[1:]).ReadU32()
			if err != nil {
				return nil, false
			}
			out[i] = idx
		case OpRefNull:
			out[i] = NullFunc
		default:
			// global.get of a funcref global
			return nil, false
		}
	}
	return out, true
}

// evalI32 evaluates a constant i32 expression. global.get is followed
// into module-defined globals; imported globals are unknown until link
// time.
func (m *Module) evalI32(expr []byte) (int32, bool) {
	return m.evalI32Depth(expr, 0)
}

func (m *Module) evalI32Depth(expr []byte, depth int) (int32, bool) {
	if depth > len(m.Globals) {
		return 0, false
	}
	var stack []int32
	r := binary.NewReader(expr)
	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			return 0, false
		}
		switch op {
		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return 0, false
			}
			stack = append(stack, v)
		case OpGlobalGet:
			idx, err := r.ReadU32()
			if err != nil {
				return 0, false
			}
			imported := uint32(m.countImports(KindGlobal))
			if idx < imported || idx-imported >= uint32(len(m.Globals)) {
				return 0, false
			}
			g := m.Globals[idx-imported]
			if g.Type.ValType != ValI32 {
				return 0, false
			}
			v, ok := m.evalI32Depth(g.Init, depth+1)
			if !ok {
				return 0, false
			}
			stack = append(stack, v)
		case OpI32Add, OpI32Sub, OpI32Mul:
			if len(stack) < 2 {
				return 0, false
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			stack = stack[:len(stack)-2]
			switch op {
			case OpI32Add:
				stack = append(stack, a+b)
			case OpI32Sub:
				stack = append(stack, a-b)
			default:
				stack = append(stack, a*b)
			}
		case OpEnd:
			if r.Len() != 0 || len(stack) != 1 {
				return 0, false
			}
			return stack[0], true
		default:
			return 0, false
		}
	}
	return 0, false
}
