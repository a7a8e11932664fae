// Package engine wraps wazero for the instrumentation runtime.
//
// It owns the wazero runtime a session runs on and exposes the pieces the
// interceptor needs: compiling a module while keeping its parsed form,
// defining host modules from raw Go functions, and instantiating with
// access to exports and the initial function table.
//
//	WazeroEngine   - a wazero runtime plus WASI initialization
//	WazeroModule   - a compiled module with its import list and parsed sections
//	WazeroInstance - a live module with exported calls and table image
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use.
// WazeroInstance calls may run concurrently only if the guest tolerates it.
package engine
