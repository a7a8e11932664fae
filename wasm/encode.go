package wasm

import (
	"github.com/wippyai/wasm-instrument/wasm/internal/binary"
)

// Encode serializes the module. Custom sections are written after all
// known sections.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		writeSection(w, SectionType, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Types)))
			for _, ft := range m.Types {
				s.Byte(FuncTypeByte)
				writeValTypes(s, ft.Params)
				writeValTypes(s, ft.Results)
			}
		})
	}
	if len(m.Imports) > 0 {
		writeSection(w, SectionImport, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Imports)))
			for _, imp := range m.Imports {
				s.WriteName(imp.Module)
				s.WriteName(imp.Name)
				s.Byte(imp.Desc.Kind)
				switch imp.Desc.Kind {
				case KindFunc:
					s.WriteU32(imp.Desc.TypeIdx)
				case KindTable:
					writeTableType(s, *imp.Desc.Table)
				case KindMemory:
					writeLimits(s, *imp.Desc.Memory)
				case KindGlobal:
					writeGlobalType(s, *imp.Desc.Global)
				}
			}
		})
	}
	if len(m.Funcs) > 0 {
		writeSection(w, SectionFunction, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Funcs)))
			for _, idx := range m.Funcs {
				s.WriteU32(idx)
			}
		})
	}
	if len(m.Tables) > 0 {
		writeSection(w, SectionTable, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Tables)))
			for _, tt := range m.Tables {
				writeTableType(s, tt)
			}
		})
	}
	if len(m.Memories) > 0 {
		writeSection(w, SectionMemory, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Memories)))
			for _, lim := range m.Memories {
				writeLimits(s, lim)
			}
		})
	}
	if len(m.Globals) > 0 {
		writeSection(w, SectionGlobal, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Globals)))
			for _, g := range m.Globals {
				writeGlobalType(s, g.Type)
				s.WriteBytes(g.Init)
			}
		})
	}
	if len(m.Exports) > 0 {
		writeSection(w, SectionExport, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Exports)))
			for _, e := range m.Exports {
				s.WriteName(e.Name)
				s.Byte(e.Kind)
				s.WriteU32(e.Idx)
			}
		})
	}
	if m.Start != nil {
		writeSection(w, SectionStart, func(s *binary.Writer) {
			s.WriteU32(*m.Start)
		})
	}
	if len(m.Elements) > 0 {
		writeSection(w, SectionElement, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Elements)))
			for i := range m.Elements {
				writeElement(s, &m.Elements[i])
			}
		})
	}
	if m.DataCount != nil {
		writeSection(w, SectionDataCount, func(s *binary.Writer) {
			s.WriteU32(*m.DataCount)
		})
	}
	if len(m.Code) > 0 {
		writeSection(w, SectionCode, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Code)))
			for _, body := range m.Code {
				b := binary.NewWriter()
				b.WriteU32(uint32(len(body.Locals)))
				for _, l := range body.Locals {
					b.WriteU32(l.Count)
					b.Byte(byte(l.Type))
				}
				b.WriteBytes(body.Code)
				s.WriteSized(b.Bytes())
			}
		})
	}
	if len(m.Data) > 0 {
		writeSection(w, SectionData, func(s *binary.Writer) {
			s.WriteU32(uint32(len(m.Data)))
			for _, d := range m.Data {
				s.WriteU32(d.Flags)
				if d.Flags == 2 {
					s.WriteU32(d.MemIdx)
				}
				if d.Flags != 1 {
					s.WriteBytes(d.Offset)
				}
				s.WriteSized(d.Init)
			}
		})
	}
	for _, cs := range m.CustomSections {
		writeSection(w, SectionCustom, func(s *binary.Writer) {
			s.WriteName(cs.Name)
			s.WriteBytes(cs.Data)
		})
	}
	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, body func(*binary.Writer)) {
	s := binary.NewWriter()
	body(s)
	w.Byte(id)
	w.WriteSized(s.Bytes())
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, lim Limits) {
	var flags byte
	if lim.Max != nil {
		flags |= LimitsHasMax
	}
	if lim.Shared {
		flags |= LimitsShared
	}
	w.Byte(flags)
	w.WriteU32(lim.Min)
	if lim.Max != nil {
		w.WriteU32(*lim.Max)
	}
}

func writeTableType(w *binary.Writer, tt TableType) {
	w.Byte(byte(tt.ElemType))
	writeLimits(w, tt.Limits)
}

func writeGlobalType(w *binary.Writer, gt GlobalType) {
	w.Byte(byte(gt.ValType))
	if gt.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

func writeElement(w *binary.Writer, e *Element) {
	w.WriteU32(e.Flags)
	if e.Flags&0x03 == 0x02 {
		w.WriteU32(e.TableIdx)
	}
	if e.Active() {
		w.WriteBytes(e.Offset)
	}
	usesExprs := e.Flags&0x04 != 0
	if e.Flags&0x03 != 0 {
		if usesExprs {
			w.Byte(byte(e.Type))
		} else {
			w.Byte(e.ElemKind)
		}
	}
	if usesExprs {
		w.WriteU32(uint32(len(e.Exprs)))
		for _, expr := range e.Exprs {
			w.WriteBytes(expr)
		}
		return
	}
	w.WriteU32(uint32(len(e.FuncIdxs)))
	for _, idx := range e.FuncIdxs {
		w.WriteU32(idx)
	}
}
