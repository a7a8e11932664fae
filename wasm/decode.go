package wasm

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/wasm/internal/binary"
)

var (
	ErrInvalidMagic   = stderrors.New("invalid wasm magic number")
	ErrInvalidVersion = stderrors.New("invalid wasm version")
)

// ParseModule decodes a binary module. Function bodies are kept undecoded
// and alias data.
func ParseModule(data []byte) (*Module, error) {
	m, err := parseModule(data)
	if err != nil {
		return nil, errors.ParseFailed("module", err)
	}
	return m, nil
}

func parseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var last int
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				return nil, r.WrapError("section header", fmt.Errorf("unknown section id %d", id))
			}
			if order <= last {
				return nil, r.WrapError("section header", fmt.Errorf("section %d appears out of order", id))
			}
			last = order
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}
		if err := parseSection(sr, id, m); err != nil {
			return nil, sr.WrapError(sectionName(id), err)
		}
		if id != SectionCustom && sr.Len() != 0 {
			return nil, sr.WrapError(sectionName(id), fmt.Errorf("%d trailing bytes", sr.Len()))
		}
	}
	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section counts differ: %d vs %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func parseSection(r *binary.Reader, id byte, m *Module) error {
	switch id {
	case SectionCustom:
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: r.ReadRemaining()})
		return nil
	case SectionType:
		return parseVec(r, func() error {
			ft, err := readFuncType(r)
			m.Types = append(m.Types, ft)
			return err
		})
	case SectionImport:
		return parseVec(r, func() error {
			imp, err := readImport(r)
			m.Imports = append(m.Imports, imp)
			return err
		})
	case SectionFunction:
		return parseVec(r, func() error {
			idx, err := r.ReadU32()
			m.Funcs = append(m.Funcs, idx)
			return err
		})
	case SectionTable:
		return parseVec(r, func() error {
			tt, err := readTableType(r)
			m.Tables = append(m.Tables, tt)
			return err
		})
	case SectionMemory:
		return parseVec(r, func() error {
			lim, err := readLimits(r)
			m.Memories = append(m.Memories, lim)
			return err
		})
	case SectionGlobal:
		return parseVec(r, func() error {
			g, err := readGlobal(r)
			m.Globals = append(m.Globals, g)
			return err
		})
	case SectionExport:
		return parseVec(r, func() error {
			e, err := readExport(r)
			m.Exports = append(m.Exports, e)
			return err
		})
	case SectionStart:
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Start = &idx
		return nil
	case SectionElement:
		return parseVec(r, func() error {
			e, err := readElement(r)
			m.Elements = append(m.Elements, e)
			return err
		})
	case SectionDataCount:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.DataCount = &n
		return nil
	case SectionCode:
		return parseVec(r, func() error {
			body, err := readFuncBody(r)
			m.Code = append(m.Code, body)
			return err
		})
	case SectionData:
		return parseVec(r, func() error {
			d, err := readDataSegment(r)
			m.Data = append(m.Data, d)
			return err
		})
	case SectionTag:
		return fmt.Errorf("exception handling tags are not supported")
	}
	return fmt.Errorf("unknown section id %d", id)
}

func parseVec(r *binary.Reader, item func() error) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(n) > r.Len() {
		return fmt.Errorf("vector length %d exceeds section size", n)
	}
	for i := uint32(0); i < n; i++ {
		if err := item(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	types := make([]ValType, n)
	for i := range types {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		types[i] = ValType(b)
	}
	return types, nil
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	form, err := r.ReadByte()
	if err != nil {
		return FuncType{}, err
	}
	if form != FuncTypeByte {
		return FuncType{}, fmt.Errorf("unsupported type form 0x%02x", form)
	}
	params, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readImport(r *binary.Reader) (Import, error) {
	var imp Import
	var err error
	if imp.Module, err = r.ReadName(); err != nil {
		return imp, err
	}
	if imp.Name, err = r.ReadName(); err != nil {
		return imp, err
	}
	if imp.Desc.Kind, err = r.ReadByte(); err != nil {
		return imp, err
	}
	switch imp.Desc.Kind {
	case KindFunc:
		imp.Desc.TypeIdx, err = r.ReadU32()
	case KindTable:
		var tt TableType
		tt, err = readTableType(r)
		imp.Desc.Table = &tt
	case KindMemory:
		var lim Limits
		lim, err = readLimits(r)
		imp.Desc.Memory = &lim
	case KindGlobal:
		var gt GlobalType
		gt, err = readGlobalType(r)
		imp.Desc.Global = &gt
	default:
		err = fmt.Errorf("unsupported import kind %d", imp.Desc.Kind)
	}
	return imp, err
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > LimitsHasMax|LimitsShared {
		return Limits{}, fmt.Errorf("unsupported limits flags 0x%02x", flags)
	}
	lim := Limits{Shared: flags&LimitsShared != 0}
	if lim.Min, err = r.ReadU32(); err != nil {
		return lim, err
	}
	if flags&LimitsHasMax != 0 {
		maxPages, err := r.ReadU32()
		if err != nil {
			return lim, err
		}
		lim.Max = &maxPages
	}
	return lim, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	et := ValType(b)
	if et != ValFuncRef && et != ValExtern {
		return TableType{}, fmt.Errorf("unsupported table element type 0x%02x", b)
	}
	lim, err := readLimits(r)
	return TableType{ElemType: et, Limits: lim}, err
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	vt, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability %d", mut)
	}
	return GlobalType{ValType: ValType(vt), Mutable: mut == 1}, nil
}

func readGlobal(r *binary.Reader) (Global, error) {
	gt, err := readGlobalType(r)
	if err != nil {
		return Global{}, err
	}
	init, err := readInitExpr(r)
	return Global{Type: gt, Init: init}, err
}

func readExport(r *binary.Reader) (Export, error) {
	var e Export
	var err error
	if e.Name, err = r.ReadName(); err != nil {
		return e, err
	}
	if e.Kind, err = r.ReadByte(); err != nil {
		return e, err
	}
	e.Idx, err = r.ReadU32()
	return e, err
}

func readElement(r *binary.Reader) (Element, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return Element{}, err
	}
	if flags > 7 {
		return Element{}, fmt.Errorf("invalid element segment flags %d", flags)
	}
	e := Element{Flags: flags, Type: ValFuncRef}
	usesExprs := flags&0x04 != 0

	if flags&0x03 == 0x02 {
		if e.TableIdx, err = r.ReadU32(); err != nil {
			return e, err
		}
	}
	if e.Active() {
		if e.Offset, err = readInitExpr(r); err != nil {
			return e, err
		}
	}
	if flags&0x03 != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return e, err
		}
		if usesExprs {
			e.Type = ValType(b)
		} else {
			e.ElemKind = b
		}
	}

	n, err := r.ReadU32()
	if err != nil {
		return e, err
	}
	if int(n) > r.Len() {
		return e, io.ErrUnexpectedEOF
	}
	for i := uint32(0); i < n; i++ {
		if usesExprs {
			expr, err := readInitExpr(r)
			if err != nil {
				return e, err
			}
			e.Exprs = append(e.Exprs, expr)
			continue
		}
		idx, err := r.ReadU32()
		if err != nil {
			return e, err
		}
		e.FuncIdxs = append(e.FuncIdxs, idx)
	}
	return e, nil
}

func readFuncBody(r *binary.Reader) (FuncBody, error) {
	size, err := r.ReadU32()
	if err != nil {
		return FuncBody{}, err
	}
	br, err := r.Sub(int(size))
	if err != nil {
		return FuncBody{}, err
	}
	var body FuncBody
	err = parseVec(br, func() error {
		count, err := br.ReadU32()
		if err != nil {
			return err
		}
		t, err := br.ReadByte()
		body.Locals = append(body.Locals, LocalEntry{Count: count, Type: ValType(t)})
		return err
	})
	if err != nil {
		return body, err
	}
	body.Code = br.ReadRemaining()
	if len(body.Code) == 0 || body.Code[len(body.Code)-1] != OpEnd {
		return body, fmt.Errorf("function body does not end with end opcode")
	}
	return body, nil
}

func readDataSegment(r *binary.Reader) (DataSegment, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return DataSegment{}, err
	}
	d := DataSegment{Flags: flags}
	switch flags {
	case 0, 1:
	case 2:
		if d.MemIdx, err = r.ReadU32(); err != nil {
			return d, err
		}
	default:
		return d, fmt.Errorf("invalid data segment flags %d", flags)
	}
	if flags != 1 {
		if d.Offset, err = readInitExpr(r); err != nil {
			return d, err
		}
	}
	n, err := r.ReadU32()
	if err != nil {
		return d, err
	}
	d.Init, err = r.ReadBytes(int(n))
	return d, err
}

// readInitExpr returns a constant expression including its end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(op)
		switch op {
		case OpEnd:
			return buf.Bytes(), nil
		case OpI32Const, OpI64Const, OpGlobalGet, OpRefFunc, OpRefNull:
			if err := copyLEB128(r, &buf); err != nil {
				return nil, err
			}
		case OpF32Const:
			if err := copyN(r, &buf, 4); err != nil {
				return nil, err
			}
		case OpF64Const:
			if err := copyN(r, &buf, 8); err != nil {
				return nil, err
			}
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add:
		default:
			return nil, fmt.Errorf("unsupported opcode 0x%02x in constant expression", op)
		}
	}
}

func copyLEB128(r *binary.Reader, buf *bytes.Buffer) error {
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
		if b&0x80 == 0 {
			return nil
		}
	}
	return binary.ErrOverflow
}

func copyN(r *binary.Reader, buf *bytes.Buffer, n int) error {
	b, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// sectionOrder gives the canonical position of a non-custom section, or 0.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	}
	return 0
}

func sectionName(id byte) string {
	names := [...]string{"custom", "type", "import", "function", "table", "memory", "global", "export", "start", "element", "code", "data", "datacount", "tag"}
	if int(id) < len(names) {
		return names[id]
	}
	return fmt.Sprintf("section %d", id)
}
