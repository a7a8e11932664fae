// Package wasminstrument runs WebAssembly modules instrumented by the Wasabi
// rewriter and delivers their execution events to Go analyses.
//
// The rewriter turns every instruction of interest into a call of an
// imported low-level hook, such as "i32_add" or "call_indirect_iI", and
// writes a JSON description of the original module next to the rewritten
// binary. This module supplies those hooks on top of wazero, decodes their
// flattened arguments into typed events and resolves the information the
// rewriter cannot know statically, like the target of call_indirect.
//
// # Architecture Overview
//
//	wasminstrument/
//	├── runtime/         Sessions: metadata, instantiation, calls
//	├── event/           High-level events, values and the handler registry
//	├── dispatch/        Low-level hook names and their translation to events
//	├── resolve/         Table slot to original function resolution
//	├── static/          Module info written by the rewriter
//	├── analysis/        Ready-made analyses (instruction mix, call graph, ...)
//	├── engine/          wazero integration and host module definition
//	├── wasm/            Core wasm binary decoding and encoding
//	├── errors/          Structured error types
//	└── cmd/run/         Command line runner with an interactive mode
//
// # Quick Start
//
//	reg := event.NewRegistry()
//	event.Handle(reg, func(ctx context.Context, ev event.CallPre) error {
//	    fmt.Println("call at", ev.Location)
//	    return nil
//	})
//
//	s := runtime.NewSession(nil, reg)
//	defer s.Close(ctx)
//	if err := s.LoadMetadataFile("prog.wasabi.json"); err != nil {
//	    log.Fatal(err)
//	}
//	inst, err := s.InstantiateStreaming(ctx, runtime.FromFile("prog.wasm"), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	inst.Call(ctx, "main")
//
// # Thread Safety
//
// A Session owns one module instance. Handlers run synchronously on the
// goroutine that called into the guest, so an analysis only needs locking
// when the instance is called from several goroutines.
package wasminstrument
