package static

import (
	"slices"
	"strconv"

	"github.com/wippyai/wasm-instrument/errors"
)

// Import names the host module and field a function is imported from.
type Import struct {
	Module string
	Name   string
}

// FunctionInfo is the static description of one function of the original module.
type FunctionInfo struct {
	Import     *Import
	InstrCount *uint32
	Type       FuncType
	Exports    []string
	Locals     []ValType
}

// IsImported reports whether the function is imported, and thus never instrumented.
func (f *FunctionInfo) IsImported() bool {
	return f.Import != nil
}

// ExportedAs returns the first export name of the function, if any.
func (f *FunctionInfo) ExportedAs() (string, bool) {
	if len(f.Exports) == 0 {
		return "", false
	}
	return f.Exports[0], true
}

// EndBlock describes one block that is closed implicitly by a multi-level branch.
// IfBegin is set only for else blocks and points at the matching if.
type EndBlock struct {
	IfBegin *Location
	Begin   Location
	End     Location
	Kind    BlockKind
}

// BranchTarget is a br_table entry: the relative label, the instruction it
// resolves to and the blocks left on the way, innermost first.
type BranchTarget struct {
	Ends     []EndBlock
	Location Location
	Label    uint32
}

// BranchTable holds the resolved targets of one br_table site.
type BranchTable struct {
	Table   []BranchTarget `json:"table"`
	Default BranchTarget   `json:"default"`
}

// Target returns the entry taken for selector; out-of-range selectors take the default.
func (bt *BranchTable) Target(selector uint32) BranchTarget {
	if uint64(selector) < uint64(len(bt.Table)) {
		return bt.Table[selector]
	}
	return bt.Default
}

// ModuleInfo is the rewriter-produced description of the original module.
// It is immutable once loaded.
type ModuleInfo struct {
	Start                        *uint32
	TableExportName              string
	Functions                    []FunctionInfo
	Globals                      []ValType
	BrTables                     []BranchTable
	OriginalFunctionImportsCount int
}

// Clone returns a deep copy of m.
func (m *ModuleInfo) Clone() *ModuleInfo {
	out := &ModuleInfo{
		Start:                        clonePtr(m.Start),
		TableExportName:              m.TableExportName,
		Globals:                      slices.Clone(m.Globals),
		OriginalFunctionImportsCount: m.OriginalFunctionImportsCount,
	}
	if m.Functions != nil {
		out.Functions = make([]FunctionInfo, len(m.Functions))
		for i, fn := range m.Functions {
			out.Functions[i] = FunctionInfo{
				Import:     clonePtr(fn.Import),
				InstrCount: clonePtr(fn.InstrCount),
				Type:       FuncType{Params: slices.Clone(fn.Type.Params), Results: slices.Clone(fn.Type.Results)},
				Exports:    slices.Clone(fn.Exports),
				Locals:     slices.Clone(fn.Locals),
			}
		}
	}
	if m.BrTables != nil {
		out.BrTables = make([]BranchTable, len(m.BrTables))
		for i, bt := range m.BrTables {
			out.BrTables[i].Default = bt.Default.clone()
			if bt.Table != nil {
				out.BrTables[i].Table = make([]BranchTarget, len(bt.Table))
				for j, target := range bt.Table {
					out.BrTables[i].Table[j] = target.clone()
				}
			}
		}
	}
	return out
}

func (t BranchTarget) clone() BranchTarget {
	out := BranchTarget{Location: t.Location, Label: t.Label}
	if t.Ends != nil {
		out.Ends = make([]EndBlock, len(t.Ends))
		for i, end := range t.Ends {
			end.IfBegin = clonePtr(end.IfBegin)
			out.Ends[i] = end
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Function returns the info of function idx.
func (m *ModuleInfo) Function(idx uint32) (*FunctionInfo, bool) {
	if uint64(idx) >= uint64(len(m.Functions)) {
		return nil, false
	}
	return &m.Functions[idx], true
}

// BrTable returns the br_table site with the given id.
func (m *ModuleInfo) BrTable(id uint32) (*BranchTable, bool) {
	if uint64(id) >= uint64(len(m.BrTables)) {
		return nil, false
	}
	return &m.BrTables[id], true
}

// ExportIndex maps every export name to its function index.
func (m *ModuleInfo) ExportIndex() map[string]uint32 {
	idx := make(map[string]uint32, len(m.Functions))
	for i := range m.Functions {
		for _, name := range m.Functions[i].Exports {
			idx[name] = uint32(i)
		}
	}
	return idx
}

// FunctionName returns a human readable name: the export name, the import
// name, or the decimal index.
func (m *ModuleInfo) FunctionName(idx uint32) string {
	fn, ok := m.Function(idx)
	if !ok {
		return strconv.FormatUint(uint64(idx), 10)
	}
	if name, ok := fn.ExportedAs(); ok {
		return name
	}
	if fn.Import != nil {
		return fn.Import.Module + "." + fn.Import.Name
	}
	return strconv.FormatUint(uint64(idx), 10)
}

// Validate checks the invariants the runtime relies on.
func (m *ModuleInfo) Validate() error {
	for i := range m.Functions {
		fn := &m.Functions[i]
		path := []string{"functions", strconv.Itoa(i)}
		if fn.IsImported() && fn.InstrCount != nil {
			return errors.InvalidData(errors.PhaseMetadata, path, "imported function has an instruction count")
		}
		if !fn.IsImported() && fn.InstrCount == nil {
			return errors.InvalidData(errors.PhaseMetadata, path, "defined function lacks an instruction count")
		}
	}

	if m.Start != nil && uint64(*m.Start) >= uint64(len(m.Functions)) {
		return errors.OutOfBounds(errors.PhaseMetadata, []string{"start"}, int(*m.Start), len(m.Functions))
	}

	for i := range m.BrTables {
		bt := &m.BrTables[i]
		path := []string{"brTables", strconv.Itoa(i)}
		for j := range bt.Table {
			if err := m.validateTarget(&bt.Table[j], path); err != nil {
				return err
			}
		}
		if err := m.validateTarget(&bt.Default, append(path, "default")); err != nil {
			return err
		}
	}
	return nil
}

func (m *ModuleInfo) validateTarget(t *BranchTarget, path []string) error {
	if uint64(t.Location.Func) >= uint64(len(m.Functions)) {
		return errors.OutOfBounds(errors.PhaseMetadata, path, int(t.Location.Func), len(m.Functions))
	}
	for _, end := range t.Ends {
		if end.Kind == BlockElse && end.IfBegin == nil {
			return errors.InvalidData(errors.PhaseMetadata, path, "else block without matching if location")
		}
		if end.Kind != BlockElse && end.IfBegin != nil {
			return errors.InvalidData(errors.PhaseMetadata, path, end.Kind.String()+" block with if location")
		}
	}
	return nil
}
