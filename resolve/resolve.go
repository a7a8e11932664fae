// Package resolve maps function table slots of an instrumented module back
// to function indices of the original module.
//
// The rewriter inserts its hook imports ahead of the original functions, so
// the instrumented numbering is shifted against the original one. The table
// holds instrumented indices; the rewriter exports every original function,
// so a slot resolves by identity through the exports: slot -> instrumented
// function -> export name -> original index from the module info.
package resolve

import (
	"sync/atomic"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/static"
	"github.com/wippyai/wasm-instrument/wasm"
)

// Null marks an empty table slot.
const Null = wasm.NullFunc

// Handle is what instantiation captures from the live module: exported
// functions by name and the table image, both in instrumented numbering.
//
// wazero exposes neither table reads nor funcref identity to the host, so
// the table is the image computed from the binary. Volatile marks a table
// that code can rewrite after instantiation; Growable one that code can
// extend past len(Table).
type Handle struct {
	Exports  map[string]uint32
	Table    []uint32
	Volatile bool
	Growable bool
}

type index struct {
	table    []uint32
	original map[uint32]uint32
	volatile bool
	growable bool
}

// Resolver resolves table slots once a Handle has been captured.
// Safe for concurrent use.
type Resolver struct {
	info  *static.ModuleInfo
	index atomic.Pointer[index]
}

func New(info *static.ModuleInfo) *Resolver {
	return &Resolver{info: info}
}

// Capture builds the reverse index. It may be called once.
func (r *Resolver) Capture(h Handle) error {
	if r.index.Load() != nil {
		return errors.InvalidState("captured", "captured")
	}

	byName := r.info.ExportIndex()
	original := make(map[uint32]uint32, len(h.Exports))
	for name, fn := range h.Exports {
		orig, ok := byName[name]
		if !ok {
			continue
		}
		if prev, seen := original[fn]; seen && prev != orig {
			return errors.BrokenInvariant(errors.PhaseResolve,
				"function %d is exported as original functions %d and %d", fn, prev, orig)
		}
		original[fn] = orig
	}

	table := make([]uint32, len(h.Table))
	copy(table, h.Table)

	idx := &index{table: table, original: original, volatile: h.Volatile, growable: h.Growable}
	if !r.index.CompareAndSwap(nil, idx) {
		return errors.InvalidState("captured", "captured")
	}
	return nil
}

// Captured reports whether Capture has run.
func (r *Resolver) Captured() bool {
	return r.index.Load() != nil
}

// TableLen returns the captured table length, 0 before Capture.
func (r *Resolver) TableLen() int {
	if idx := r.index.Load(); idx != nil {
		return len(idx.table)
	}
	return 0
}

// Resolve returns the original function index stored at slot.
//
// Before Capture, which is the case while the start function runs, it fails
// with ErrUnresolvable. So does every slot of a volatile table, and every
// slot past the initial size of a growable one. Empty or out-of-range slots
// fail with ErrNullTableEntry. A function without a matching export means the module
// info does not describe this module and fails with ErrBrokenInvariant.
func (r *Resolver) Resolve(slot uint32) (uint32, error) {
	idx := r.index.Load()
	if idx == nil {
		return 0, errors.Unresolvable(slot, "exports and table are not available before instantiation completes")
	}
	if idx.volatile {
		return 0, errors.Unresolvable(slot, "the table is written at run time")
	}
	if idx.growable && uint64(slot) >= uint64(len(idx.table)) {
		return 0, errors.Unresolvable(slot, "the slot lies in a region added by table.grow")
	}
	if uint64(slot) >= uint64(len(idx.table)) || idx.table[slot] == Null {
		return 0, errors.NullTableEntry(slot, len(idx.table))
	}

	fn := idx.table[slot]
	orig, ok := idx.original[fn]
	if !ok {
		return 0, errors.BrokenInvariant(errors.PhaseResolve,
			"table index %d holds function %d, which is not exported under any name in the module info", slot, fn)
	}
	return orig, nil
}
