// Package dispatch translates low-level hook calls into events.
//
// The rewriter inserts one imported function per (instruction, type) pair it
// needs, all under the "__wasabi_hooks" import module. Names are mangled as
// the hook stem followed by '_' and one character per polymorphic type:
//
//	i  i32    I  i64    f  f32    F  f64
//
// so "call_iI" is a direct call with an i32 and an i64 argument and
// "local_get_F" reads an f64 local. Every hook receives the (func, instr)
// location first; i64 values arrive as (low, high) i32 halves because the
// rewriter's host boundary is 32-bit only.
//
// A Translator builds the Go implementation of each imported hook:
//
//	fn, err := tr.HostFunc("i64_add", params)
//
// It rejects names it does not know and signatures that disagree with the
// name, so a mismatched rewriter output fails at instantiation rather than
// at the first call.
package dispatch
