// Package errors provides structured error types for the instrumentation runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries an optional path, the offending value and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindNullTableEntry).
//		Path("table", "7").
//		Detail("slot %d holds no function", 7).
//		Build()
//
// Or use the constructors for the runtime taxonomy:
//
//	err := errors.MissingStaticInfo()
//	err := errors.Unresolvable(slot, "exports not captured yet")
//
// The Err* sentinels match by Kind only, so callers can test a condition
// without caring about the phase that produced it:
//
//	if errors.Is(err, wierrors.ErrUnresolvable) { ... }
//
// Unresolvable and NullTableEntry are recoverable: the dispatcher reports them
// to analyses as an unknown call target. MissingStaticInfo,
// SynchronousInstantiationUnsupported and BrokenInvariant are fatal.
package errors
