package static

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-instrument/errors"
)

const sampleInfo = `{
  "functions": [
    {"type": "i|", "import": ["env", "print"], "export": [], "locals": "", "instrCount": null},
    {"type_": "ii|i", "import": null, "export": ["add", "plus"], "locals": "iF", "instrCount": 4},
    {"type": "i|", "import": null, "export": [], "locals": "", "instrCount": 12}
  ],
  "globals": "iI",
  "start": null,
  "tableExportName": "__wasabi_table",
  "brTables": [
    {
      "table": [
        {"label": 0, "location": [2, 5], "ends": [["block", 1, 5]]},
        {"label": 1, "location": [2, 11], "ends": [["block", 1, 5], ["loop", 0, 11]]}
      ],
      "default": {"label": 2, "location": [2, 11], "ends": [["else", 3, 9, 2], ["function", -1, 11]]}
    }
  ],
  "originalFunctionImportsCount": 1
}`

func TestParseFuncType(t *testing.T) {
	tests := []struct {
		in      string
		params  []ValType
		results []ValType
		wantErr bool
	}{
		{in: "|"},
		{in: "ii|i", params: []ValType{I32, I32}, results: []ValType{I32}},
		{in: "IfF|I", params: []ValType{I64, F32, F64}, results: []ValType{I64}},
		{in: "ii", wantErr: true},
		{in: "x|", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ft, err := ParseFuncType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.params, ft.Params)
			require.Equal(t, tt.results, ft.Results)
			require.Equal(t, tt.in, ft.String())
		})
	}
}

func TestValTypeNames(t *testing.T) {
	for _, vt := range []ValType{I32, I64, F32, F64} {
		byChar, ok := ValTypeFromChar(vt.Char())
		require.True(t, ok)
		require.Equal(t, vt, byChar)

		byName, ok := ValTypeFromName(vt.String())
		require.True(t, ok)
		require.Equal(t, vt, byName)
	}
	_, ok := ValTypeFromName("v128")
	require.False(t, ok)
}

func TestLocation(t *testing.T) {
	require.True(t, Loc(3, VirtualInstr).IsVirtual())
	require.False(t, Loc(3, 0).IsVirtual())
	require.Equal(t, "3:-1", Loc(3, -1).String())
}

func TestParse(t *testing.T) {
	info, err := Parse([]byte(sampleInfo))
	require.NoError(t, err)

	require.Len(t, info.Functions, 3)
	require.Equal(t, []ValType{I32, I64}, info.Globals)
	require.Nil(t, info.Start)
	require.Equal(t, "__wasabi_table", info.TableExportName)
	require.Equal(t, 1, info.OriginalFunctionImportsCount)

	imported := info.Functions[0]
	require.True(t, imported.IsImported())
	require.Equal(t, &Import{Module: "env", Name: "print"}, imported.Import)
	require.Nil(t, imported.InstrCount)

	add := info.Functions[1]
	require.False(t, add.IsImported())
	require.Equal(t, "ii|i", add.Type.String())
	require.Equal(t, []ValType{I32, F64}, add.Locals)
	require.NotNil(t, add.InstrCount)
	require.Equal(t, uint32(4), *add.InstrCount)
	name, ok := add.ExportedAs()
	require.True(t, ok)
	require.Equal(t, "add", name)

	bt, ok := info.BrTable(0)
	require.True(t, ok)
	require.Len(t, bt.Table, 2)
	require.Equal(t, []EndBlock{
		{Kind: BlockBlock, Begin: Loc(2, 1), End: Loc(2, 5)},
		{Kind: BlockLoop, Begin: Loc(2, 0), End: Loc(2, 11)},
	}, bt.Table[1].Ends)

	ifBegin := Loc(2, 2)
	require.Equal(t, []EndBlock{
		{Kind: BlockElse, Begin: Loc(2, 3), End: Loc(2, 9), IfBegin: &ifBegin},
		{Kind: BlockFunction, Begin: Loc(2, VirtualInstr), End: Loc(2, 11)},
	}, bt.Default.Ends)

	_, ok = info.BrTable(1)
	require.False(t, ok)
}

func TestBranchTableTarget(t *testing.T) {
	info, err := Parse([]byte(sampleInfo))
	require.NoError(t, err)
	bt := &info.BrTables[0]

	require.Equal(t, uint32(0), bt.Target(0).Label)
	require.Equal(t, uint32(1), bt.Target(1).Label)
	// out of range selectors take the default
	require.Equal(t, uint32(2), bt.Target(2).Label)
	require.Equal(t, uint32(2), bt.Target(^uint32(0)).Label)
}

func TestExportIndexAndNames(t *testing.T) {
	info, err := Parse([]byte(sampleInfo))
	require.NoError(t, err)

	idx := info.ExportIndex()
	require.Equal(t, map[string]uint32{"add": 1, "plus": 1}, idx)

	require.Equal(t, "env.print", info.FunctionName(0))
	require.Equal(t, "add", info.FunctionName(1))
	require.Equal(t, "2", info.FunctionName(2))
	require.Equal(t, "99", info.FunctionName(99))
}

func TestClone(t *testing.T) {
	info, err := Parse([]byte(sampleInfo))
	require.NoError(t, err)
	start := uint32(2)
	info.Start = &start

	c := info.Clone()
	require.Equal(t, info, c)

	*info.Start = 0
	info.TableExportName = "other"
	info.Globals[0] = F32
	info.Functions[0].Import.Name = "changed"
	*info.Functions[1].InstrCount = 99
	info.Functions[1].Exports[0] = "changed"
	info.Functions[1].Type.Params[0] = F64
	info.Functions[1].Locals[0] = F32
	info.BrTables[0].Table[1].Ends[0].Kind = BlockIf
	info.BrTables[0].Default.Ends[0].IfBegin.Instr = 7

	require.Equal(t, uint32(2), *c.Start)
	require.Equal(t, "__wasabi_table", c.TableExportName)
	require.Equal(t, I32, c.Globals[0])
	require.Equal(t, "print", c.Functions[0].Import.Name)
	require.Equal(t, uint32(4), *c.Functions[1].InstrCount)
	require.Equal(t, "add", c.Functions[1].Exports[0])
	require.Equal(t, I32, c.Functions[1].Type.Params[0])
	require.Equal(t, I32, c.Functions[1].Locals[0])
	require.Equal(t, BlockBlock, c.BrTables[0].Table[1].Ends[0].Kind)
	require.Equal(t, int32(2), c.BrTables[0].Default.Ends[0].IfBegin.Instr)
}

func TestParseRoundTrip(t *testing.T) {
	info, err := Parse([]byte(sampleInfo))
	require.NoError(t, err)

	data, err := info.MarshalJSON()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, info, again)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		json string
		kind errors.Kind
	}{
		{
			name: "malformed",
			json: `{"functions": [`,
			kind: errors.KindInvalidData,
		},
		{
			name: "bad type",
			json: `{"functions": [{"type": "q|", "import": null, "export": [], "locals": "", "instrCount": 1}]}`,
			kind: errors.KindInvalidData,
		},
		{
			name: "defined without instr count",
			json: `{"functions": [{"type": "|", "import": null, "export": [], "locals": "", "instrCount": null}]}`,
			kind: errors.KindInvalidData,
		},
		{
			name: "start out of range",
			json: `{"functions": [], "start": 3}`,
			kind: errors.KindOutOfBounds,
		},
		{
			name: "else without if",
			json: `{"functions": [{"type": "|", "import": null, "export": [], "locals": "", "instrCount": 3}],
			        "brTables": [{"table": [], "default": {"label": 0, "location": [0, 2], "ends": [["else", 0, 2]]}}]}`,
			kind: errors.KindInvalidData,
		},
		{
			name: "target function out of range",
			json: `{"functions": [], "brTables": [{"table": [], "default": {"label": 0, "location": [4, 2], "ends": []}}]}`,
			kind: errors.KindOutOfBounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.json))
			require.Error(t, err)
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			require.Equal(t, tt.kind, e.Kind)
			require.Equal(t, errors.PhaseMetadata, e.Phase)
		})
	}
}

func TestImportedZeroInstrCount(t *testing.T) {
	info, err := Parse([]byte(`{"functions": [{"type": "|", "import": ["m", "f"], "export": [], "locals": "", "instrCount": 0}]}`))
	require.NoError(t, err)
	require.Nil(t, info.Functions[0].InstrCount)
}
