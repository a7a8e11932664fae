// Package testmod assembles small instrumented modules together with the
// module info the rewriter would write for them.
//
// Function bodies are written against the original numbering. Hook imports
// are collected while the bodies are written and placed after the original
// imports, so bodies are generated twice: once to collect the hooks and
// once to emit code with final indices. Body callbacks must therefore be
// deterministic.
package testmod

import (
	"fmt"

	"github.com/wippyai/wasm-instrument/dispatch"
	"github.com/wippyai/wasm-instrument/static"
	"github.com/wippyai/wasm-instrument/wasm"
)

// DefaultTableExport is the export name the builder gives the table.
const DefaultTableExport = "__wasabi_table"

// Builder describes one instrumented module.
type Builder struct {
	namespace string
	imports   []funcImport
	funcs     []*funcDef
	table     *tableDef
	memory    *uint32
	start     *uint32
	globals   []globalDef
	brTables  []static.BranchTable
}

type funcImport struct {
	module, name string
	typ          static.FuncType
}

type funcDef struct {
	name   string
	typ    static.FuncType
	locals []static.ValType
	body   func(*Body)
}

type tableDef struct {
	export string
	size   uint32
	slots  []uint32
}

type globalDef struct {
	typ     static.ValType
	mutable bool
	init    int64
}

func New() *Builder {
	return &Builder{namespace: dispatch.DefaultNamespace}
}

// Namespace sets the hook import namespace.
func (b *Builder) Namespace(ns string) *Builder {
	b.namespace = ns
	return b
}

// Import declares an original function import and returns its index.
// Imports must be declared before functions.
func (b *Builder) Import(module, name string, typ static.FuncType) uint32 {
	if len(b.funcs) > 0 {
		panic("testmod: imports must precede functions")
	}
	b.imports = append(b.imports, funcImport{module: module, name: name, typ: typ})
	return uint32(len(b.imports) - 1)
}

// Func declares an exported function and returns its original index.
// locals are the declared locals after the parameters.
func (b *Builder) Func(name string, typ static.FuncType, locals []static.ValType, body func(*Body)) uint32 {
	b.funcs = append(b.funcs, &funcDef{name: name, typ: typ, locals: locals, body: body})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Table exports a funcref table of size slots holding funcs from slot 0.
// An empty export name uses DefaultTableExport.
func (b *Builder) Table(export string, size uint32, funcs ...uint32) *Builder {
	if export == "" {
		export = DefaultTableExport
	}
	b.table = &tableDef{export: export, size: size, slots: funcs}
	return b
}

// Memory adds an exported memory named "memory".
func (b *Builder) Memory(pages uint32) *Builder {
	b.memory = &pages
	return b
}

// Start makes fn the start function.
func (b *Builder) Start(fn uint32) *Builder {
	b.start = &fn
	return b
}

// Global adds a global of an integer type and returns its index.
func (b *Builder) Global(typ static.ValType, mutable bool, init int64) uint32 {
	b.globals = append(b.globals, globalDef{typ: typ, mutable: mutable, init: init})
	return uint32(len(b.globals) - 1)
}

// BrTable records static br_table info and returns its id.
func (b *Builder) BrTable(bt static.BranchTable) uint32 {
	b.brTables = append(b.brTables, bt)
	return uint32(len(b.brTables) - 1)
}

// Build returns the instrumented binary and its module info.
func (b *Builder) Build() ([]byte, *static.ModuleInfo, error) {
	// collect hooks
	hooks := &hookIndex{index: make(map[string]uint32)}
	for i, fn := range b.funcs {
		body := b.newBody(uint32(len(b.imports)+i), fn, hooks, &wasm.Module{})
		fn.body(body)
		if body.err != nil {
			return nil, nil, body.err
		}
	}
	hooks.frozen = true

	m := &wasm.Module{}
	for _, imp := range b.imports {
		m.Imports = append(m.Imports, wasm.Import{
			Module: imp.module,
			Name:   imp.name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: m.AddType(wasmType(imp.typ))},
		})
	}
	for _, name := range hooks.names {
		params, err := dispatch.Params(name)
		if err != nil {
			return nil, nil, err
		}
		ft := wasm.FuncType{}
		for _, p := range params {
			ft.Params = append(ft.Params, wasm.ValType(p))
		}
		m.Imports = append(m.Imports, wasm.Import{
			Module: b.namespace,
			Name:   name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: m.AddType(ft)},
		})
	}

	shift := uint32(len(hooks.names))
	instrumented := func(orig uint32) uint32 {
		if orig < uint32(len(b.imports)) {
			return orig
		}
		return orig + shift
	}

	for i, fn := range b.funcs {
		orig := uint32(len(b.imports) + i)
		m.Funcs = append(m.Funcs, m.AddType(wasmType(fn.typ)))
		body := b.newBody(orig, fn, hooks, m)
		body.shift = shift
		fn.body(body)
		if body.err != nil {
			return nil, nil, body.err
		}
		body.code.End()
		m.Code = append(m.Code, wasm.FuncBody{Locals: localEntries(body.locals), Code: body.code.Bytes()})
		m.Exports = append(m.Exports, wasm.Export{Name: fn.name, Kind: wasm.KindFunc, Idx: instrumented(orig)})
	}

	if b.table != nil {
		m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: b.table.size}}}
		m.Exports = append(m.Exports, wasm.Export{Name: b.table.export, Kind: wasm.KindTable})
		if len(b.table.slots) > 0 {
			idxs := make([]uint32, len(b.table.slots))
			for i, f := range b.table.slots {
				idxs[i] = instrumented(f)
			}
			m.Elements = []wasm.Element{{Offset: wasm.NewCode().I32Const(0).End().Bytes(), FuncIdxs: idxs, Type: wasm.ValFuncRef}}
		}
	}
	if b.memory != nil {
		m.Memories = []wasm.Limits{{Min: *b.memory}}
		m.Exports = append(m.Exports, wasm.Export{Name: "memory", Kind: wasm.KindMemory})
	}
	for _, g := range b.globals {
		init := wasm.NewCode()
		switch g.typ {
		case static.I32:
			init.I32Const(int32(g.init))
		case static.I64:
			init.I64Const(g.init)
		default:
			return nil, nil, fmt.Errorf("testmod: unsupported global type %s", g.typ)
		}
		m.Globals = append(m.Globals, wasm.Global{
			Type: wasm.GlobalType{ValType: wasmValType(g.typ), Mutable: g.mutable},
			Init: init.End().Bytes(),
		})
	}
	if b.start != nil {
		s := instrumented(*b.start)
		m.Start = &s
	}

	return m.Encode(), b.info(), nil
}

func (b *Builder) info() *static.ModuleInfo {
	info := &static.ModuleInfo{
		Start:                        b.start,
		BrTables:                     b.brTables,
		OriginalFunctionImportsCount: len(b.imports),
	}
	if b.table != nil {
		info.TableExportName = b.table.export
	}
	for _, imp := range b.imports {
		info.Functions = append(info.Functions, static.FunctionInfo{
			Type:   imp.typ,
			Import: &static.Import{Module: imp.module, Name: imp.name},
		})
	}
	for _, fn := range b.funcs {
		n := uint32(1)
		info.Functions = append(info.Functions, static.FunctionInfo{
			Type:       fn.typ,
			Exports:    []string{fn.name},
			Locals:     fn.locals,
			InstrCount: &n,
		})
	}
	for _, g := range b.globals {
		info.Globals = append(info.Globals, g.typ)
	}
	return info
}

type hookIndex struct {
	index  map[string]uint32
	names  []string
	frozen bool
}

func (h *hookIndex) lookup(name string) (uint32, error) {
	if idx, ok := h.index[name]; ok {
		return idx, nil
	}
	if h.frozen {
		return 0, fmt.Errorf("testmod: hook %q not seen while collecting; body is not deterministic", name)
	}
	if _, err := dispatch.Params(name); err != nil {
		return 0, err
	}
	h.index[name] = uint32(len(h.names))
	h.names = append(h.names, name)
	return h.index[name], nil
}

func wasmValType(t static.ValType) wasm.ValType {
	switch t {
	case static.I64:
		return wasm.ValI64
	case static.F32:
		return wasm.ValF32
	case static.F64:
		return wasm.ValF64
	}
	return wasm.ValI32
}

func wasmType(ft static.FuncType) wasm.FuncType {
	var out wasm.FuncType
	for _, p := range ft.Params {
		out.Params = append(out.Params, wasmValType(p))
	}
	for _, r := range ft.Results {
		out.Results = append(out.Results, wasmValType(r))
	}
	return out
}

func localEntries(locals []static.ValType) []wasm.LocalEntry {
	var out []wasm.LocalEntry
	for _, l := range locals {
		out = append(out, wasm.LocalEntry{Count: 1, Type: wasmValType(l)})
	}
	return out
}
