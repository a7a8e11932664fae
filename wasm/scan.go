package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-instrument/wasm/internal/binary"
)

// TableWrite is an instruction that can change table contents after
// instantiation.
type TableWrite struct {
	Op string
	// Func is the index of the function containing the instruction.
	Func uint32
	// Offset is the byte offset of the opcode within the function body.
	Offset int
}

func (w TableWrite) String() string {
	return fmt.Sprintf("%s in function %d at +%d", w.Op, w.Func, w.Offset)
}

// tableOp is a table-related instruction found while scanning a body.
type tableOp struct {
	name   string
	table  uint32
	offset int
	write  bool
	grow   bool
}

// TableWrites scans every function body for instructions that can modify
// table tableIdx. grows reports whether table.grow targets it. A body that
// cannot be decoded is reported as a write, since its effect is unknown.
func (m *Module) TableWrites(tableIdx uint32) (writes []TableWrite, grows bool) {
	imported := uint32(m.NumImportedFuncs())
	for i := range m.Code {
		fn := imported + uint32(i)
		err := scanBody(m.Code[i].Code, func(op tableOp) {
			if op.table != tableIdx {
				return
			}
			if op.grow {
				grows = true
			}
			if op.write {
				writes = append(writes, TableWrite{Op: op.name, Func: fn, Offset: op.offset})
			}
		})
		if err != nil {
			writes = append(writes, TableWrite{Op: "undecodable body: " + err.Error(), Func: fn})
		}
	}
	return writes, grows
}

// scanBody walks the instructions of a function body and reports every
// instruction with a table immediate.
func scanBody(code []byte, visit func(tableOp)) error {
	r := binary.NewReader(code)
	for r.Len() > 0 {
		at := r.Position()
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch {
		case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd, op == OpReturn,
			op == OpDrop, op == OpSelect, op == 0xD1, // ref.is_null
			op >= 0x45 && op <= 0xC4: // numeric
		case op == OpBlock, op == OpLoop, op == OpIf:
			_, err = r.ReadS64()
		case op == OpBr, op == OpBrIf, op == OpCall, op == 0x12, // return_call
			op >= OpLocalGet && op <= OpGlobalSet,
			op == 0x3F, op == 0x40, // memory.size, memory.grow
			op == OpRefFunc:
			_, err = r.ReadU32()
		case op == OpBrTable:
			err = skipBrTable(r)
		case op == OpCallIndirect, op == 0x13: // return_call_indirect
			_, err = r.ReadU32()
			if err == nil {
				var table uint32
				table, err = r.ReadU32()
				visit(tableOp{name: "call_indirect", table: table, offset: at})
			}
		case op == 0x1C: // typed select
			var n uint32
			if n, err = r.ReadU32(); err == nil {
				_, err = r.ReadBytes(int(n))
			}
		case op == OpTableGet, op == OpTableSet:
			var table uint32
			if table, err = r.ReadU32(); err == nil {
				if op == OpTableSet {
					visit(tableOp{name: "table.set", table: table, offset: at, write: true})
				} else {
					visit(tableOp{name: "table.get", table: table, offset: at})
				}
			}
		case op >= 0x28 && op <= 0x3E:
			err = skipMemArg(r)
		case op == OpI32Const:
			_, err = r.ReadS32()
		case op == OpI64Const:
			_, err = r.ReadS64()
		case op == OpF32Const:
			_, err = r.ReadBytes(4)
		case op == OpF64Const:
			_, err = r.ReadBytes(8)
		case op == OpRefNull:
			_, err = r.ReadS64()
		case op == OpPrefixMisc:
			err = scanMisc(r, at, visit)
		case op == OpPrefixSIMD:
			err = skipSIMD(r)
		case op == OpPrefixAtomic:
			err = skipAtomic(r)
		default:
			return fmt.Errorf("unknown opcode 0x%02x at %d", op, at)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func scanMisc(r *binary.Reader, at int, visit func(tableOp)) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7: // saturating truncations
		return nil
	case 9, 11, MiscElemDrop: // data.drop, memory.fill
		_, err = r.ReadU32()
		return err
	case 8, 10: // memory.init, memory.copy
		if _, err = r.ReadU32(); err != nil {
			return err
		}
		_, err = r.ReadU32()
		return err
	case MiscTableInit:
		if _, err = r.ReadU32(); err != nil {
			return err
		}
		table, err := r.ReadU32()
		visit(tableOp{name: "table.init", table: table, offset: at, write: true})
		return err
	case MiscTableCopy:
		dst, err := r.ReadU32()
		if err != nil {
			return err
		}
		src, err := r.ReadU32()
		visit(tableOp{name: "table.copy", table: dst, offset: at, write: true})
		if src != dst {
			visit(tableOp{name: "table.copy", table: src, offset: at})
		}
		return err
	case MiscTableGrow:
		table, err := r.ReadU32()
		visit(tableOp{name: "table.grow", table: table, offset: at, grow: true})
		return err
	case MiscTableSize:
		table, err := r.ReadU32()
		visit(tableOp{name: "table.size", table: table, offset: at})
		return err
	case MiscTableFill:
		table, err := r.ReadU32()
		visit(tableOp{name: "table.fill", table: table, offset: at, write: true})
		return err
	}
	return fmt.Errorf("unknown 0xfc sub-opcode %d at %d", sub, at)
}

func skipBrTable(r *binary.Reader) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint64(0); i <= uint64(n); i++ {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func skipMemArg(r *binary.Reader) error {
	align, err := r.ReadU32()
	if err != nil {
		return err
	}
	if align&0x40 != 0 { // multi-memory index follows
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	_, err = r.ReadU64()
	return err
}

func skipSIMD(r *binary.Reader) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	switch {
	case sub <= 0x0B, sub == 0x5C, sub == 0x5D: // loads and stores
		return skipMemArg(r)
	case sub == 0x0C, sub == 0x0D: // v128.const, i8x16.shuffle
		_, err = r.ReadBytes(16)
	case sub >= 0x15 && sub <= 0x22: // lane extract and replace
		_, err = r.ReadByte()
	case sub >= 0x54 && sub <= 0x5B: // lane loads and stores
		if err = skipMemArg(r); err == nil {
			_, err = r.ReadByte()
		}
	}
	return err
}

func skipAtomic(r *binary.Reader) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	if sub == 0x03 { // atomic.fence
		_, err = r.ReadByte()
		return err
	}
	return skipMemArg(r)
}
