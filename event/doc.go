// Package event defines the semantic event stream delivered to analyses.
//
// Every executed instruction of an instrumented module produces one Event.
// Events are plain value types implementing Event; analyses register
// handlers per Kind on a Registry, or typed handlers through Handle:
//
//	reg := event.NewRegistry()
//	event.Handle(reg, func(ctx context.Context, ev event.CallPre) error {
//		if ev.Target != nil {
//			calls[*ev.Target]++
//		}
//		return nil
//	})
//
// Kinds without a handler are delivered to a no-op. A Registry is frozen
// into a Table when its session starts instantiating; later registrations
// fail.
package event
