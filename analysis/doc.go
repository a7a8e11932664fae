// Package analysis contains ready-made analyses built on the event API.
//
// Each analysis registers its handlers on an event.Registry before the
// module is instantiated and produces a Report afterwards:
//
//	mix := analysis.NewInstructionMix()
//	if err := mix.Register(reg); err != nil {
//	    return err
//	}
//	// instantiate and run
//	fmt.Println(mix.Report(info).Render(false))
package analysis
