// Package static holds the per-module metadata produced by the bytecode
// rewriter: function signatures, import/export names, local and global types
// and the resolved targets of every br_table site.
//
// The metadata is loaded once, before instantiation, and never mutated:
//
//	info, err := static.Load(f)
//	if err != nil {
//	    return err
//	}
//	fn := info.Functions[loc.Func]
//
// Locations are (function, instruction) pairs in the numbering of the
// original, uninstrumented module. Instruction -1 marks a virtual location
// such as the implicit begin/end of a function.
package static
