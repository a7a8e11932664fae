// Package wasm reads and writes the parts of the WebAssembly binary format
// the instrumentation runtime inspects.
//
// The runtime needs a module's import list, exports, function table layout
// and start function before and after handing it to the engine. The engine
// does not expose table contents, so the table image is rebuilt here from
// the active element segments:
//
//	m, err := wasm.ParseModule(data)
//	slots, err := m.TableImage(0)
//
// Function bodies and data segments are kept as raw bytes. The encoder
// writes modules back out, which the test fixtures use to assemble
// instrumented modules without external tooling.
package wasm
