package static

import (
	"encoding/json"
	"fmt"
)

// The rewriter keeps its JSON small: types are strings ("ii|i"), locations
// are [func, instr] pairs and end blocks are positional tuples.

type jsonFunction struct {
	Type       *string    `json:"type,omitempty"`
	TypeAlt    *string    `json:"type_,omitempty"`
	Import     *[2]string `json:"import"`
	Export     []string   `json:"export"`
	Locals     string     `json:"locals"`
	InstrCount *uint32    `json:"instrCount"`
}

// UnmarshalJSON accepts the rewriter's compact function record.
func (f *FunctionInfo) UnmarshalJSON(data []byte) error {
	var raw jsonFunction
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	typeStr := raw.Type
	if typeStr == nil {
		typeStr = raw.TypeAlt
	}
	if typeStr == nil {
		return fmt.Errorf("function record lacks a type")
	}
	ft, err := ParseFuncType(*typeStr)
	if err != nil {
		return err
	}
	locals, err := ParseValTypes(raw.Locals)
	if err != nil {
		return err
	}

	*f = FunctionInfo{Type: ft, Exports: raw.Export, Locals: locals}
	if raw.Import != nil {
		f.Import = &Import{Module: raw.Import[0], Name: raw.Import[1]}
		// older rewriters emit 0 for imported functions
		if raw.InstrCount != nil && *raw.InstrCount != 0 {
			f.InstrCount = raw.InstrCount
		}
	} else {
		f.InstrCount = raw.InstrCount
	}
	return nil
}

// MarshalJSON writes the compact function record.
func (f FunctionInfo) MarshalJSON() ([]byte, error) {
	typeStr := f.Type.String()
	raw := jsonFunction{
		Type:       &typeStr,
		Export:     f.Exports,
		Locals:     FormatValTypes(f.Locals),
		InstrCount: f.InstrCount,
	}
	if raw.Export == nil {
		raw.Export = []string{}
	}
	if f.Import != nil {
		raw.Import = &[2]string{f.Import.Module, f.Import.Name}
	}
	return json.Marshal(raw)
}

func (l *Location) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	if pair[0] < 0 || pair[0] > int64(^uint32(0)) {
		return fmt.Errorf("location: function index %d out of range", pair[0])
	}
	if pair[1] < int64(VirtualInstr) || pair[1] > int64(^uint32(0)>>1) {
		return fmt.Errorf("location: instruction index %d out of range", pair[1])
	}
	*l = Location{Func: uint32(pair[0]), Instr: int32(pair[1])}
	return nil
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{int64(l.Func), int64(l.Instr)})
}

type jsonTarget struct {
	Label    uint32              `json:"label"`
	Location Location            `json:"location"`
	Ends     [][]json.RawMessage `json:"ends"`
}

// UnmarshalJSON decodes a resolved br_table label. End block tuples carry
// only instruction indices; the function is taken from the target location.
func (t *BranchTarget) UnmarshalJSON(data []byte) error {
	var raw jsonTarget
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = BranchTarget{Label: raw.Label, Location: raw.Location}
	if len(raw.Ends) > 0 {
		t.Ends = make([]EndBlock, 0, len(raw.Ends))
	}
	for i, tuple := range raw.Ends {
		end, err := decodeEndBlock(raw.Location.Func, tuple)
		if err != nil {
			return fmt.Errorf("ends[%d]: %w", i, err)
		}
		t.Ends = append(t.Ends, end)
	}
	return nil
}

func decodeEndBlock(fn uint32, tuple []json.RawMessage) (EndBlock, error) {
	if len(tuple) < 3 {
		return EndBlock{}, fmt.Errorf("end block tuple has %d elements", len(tuple))
	}
	var name string
	if err := json.Unmarshal(tuple[0], &name); err != nil {
		return EndBlock{}, err
	}
	kind, ok := ParseBlockKind(name)
	if !ok {
		return EndBlock{}, fmt.Errorf("unknown block kind %q", name)
	}

	instrs := make([]int32, len(tuple)-1)
	for i := range instrs {
		if err := json.Unmarshal(tuple[i+1], &instrs[i]); err != nil {
			return EndBlock{}, err
		}
	}

	end := EndBlock{Kind: kind, Begin: Loc(fn, instrs[0]), End: Loc(fn, instrs[1])}
	switch {
	case kind == BlockElse && len(instrs) == 3:
		ifBegin := Loc(fn, instrs[2])
		end.IfBegin = &ifBegin
	case kind == BlockElse:
		return EndBlock{}, fmt.Errorf("else block tuple lacks the if location")
	case len(instrs) != 2:
		return EndBlock{}, fmt.Errorf("%s block tuple has %d elements", name, len(tuple))
	}
	return end, nil
}

func (t BranchTarget) MarshalJSON() ([]byte, error) {
	ends := make([][]any, 0, len(t.Ends))
	for _, e := range t.Ends {
		tuple := []any{e.Kind.String(), e.Begin.Instr, e.End.Instr}
		if e.IfBegin != nil {
			tuple = append(tuple, e.IfBegin.Instr)
		}
		ends = append(ends, tuple)
	}
	return json.Marshal(struct {
		Label    uint32   `json:"label"`
		Location Location `json:"location"`
		Ends     [][]any  `json:"ends"`
	}{t.Label, t.Location, ends})
}

type jsonModule struct {
	Functions                    []FunctionInfo `json:"functions"`
	Globals                      string         `json:"globals"`
	Start                        *uint32        `json:"start"`
	TableExportName              *string        `json:"tableExportName"`
	BrTables                     []BranchTable  `json:"brTables"`
	OriginalFunctionImportsCount int            `json:"originalFunctionImportsCount"`
}

func (m *ModuleInfo) UnmarshalJSON(data []byte) error {
	var raw jsonModule
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	globals, err := ParseValTypes(raw.Globals)
	if err != nil {
		return fmt.Errorf("globals: %w", err)
	}
	*m = ModuleInfo{
		Functions:                    raw.Functions,
		Globals:                      globals,
		Start:                        raw.Start,
		BrTables:                     raw.BrTables,
		OriginalFunctionImportsCount: raw.OriginalFunctionImportsCount,
	}
	if raw.TableExportName != nil {
		m.TableExportName = *raw.TableExportName
	}
	return nil
}

func (m ModuleInfo) MarshalJSON() ([]byte, error) {
	raw := jsonModule{
		Functions:                    m.Functions,
		Globals:                      FormatValTypes(m.Globals),
		Start:                        m.Start,
		BrTables:                     m.BrTables,
		OriginalFunctionImportsCount: m.OriginalFunctionImportsCount,
	}
	if raw.Functions == nil {
		raw.Functions = []FunctionInfo{}
	}
	if raw.BrTables == nil {
		raw.BrTables = []BranchTable{}
	}
	if m.TableExportName != "" {
		raw.TableExportName = &m.TableExportName
	}
	return json.Marshal(raw)
}
