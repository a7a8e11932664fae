// Package runtime intercepts instantiation of instrumented modules.
//
// A Session carries everything one instrumented module needs: the static
// module info written by the rewriter, the analysis' event registry and
// the wazero runtime the module is instantiated on. Instantiation wires
// the low-level hook imports transparently:
//
//	reg := event.NewRegistry()
//	event.Handle(reg, func(ctx context.Context, ev event.CallPre) error {
//	    fmt.Println("call", ev.Target)
//	    return nil
//	})
//
//	s := runtime.NewSession(nil, reg)
//	if err := s.LoadMetadataFile("prog.wasabi.json"); err != nil {
//	    log.Fatal(err)
//	}
//	inst, err := s.Instantiate(ctx, wasmBytes, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close(ctx)
//	_, err = inst.Call(ctx, "main")
//
// # Lifecycle
//
//	Unloaded -> MetadataLoaded -> Instantiating -> Instantiated -> Closed
//
// Instantiating moves to Failed when instantiation goes wrong, and Close
// moves any state to Closed. A session instantiates at most one module, and
// its event registry serves only that instance; use one session and one
// registry per module instance.
//
// Hooks the analysis did not register dispatch to a no-op. Exports and the
// function table are captured after the module is instantiated, so table
// resolution attempted from the start function reports the target as unknown.
package runtime
