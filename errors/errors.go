package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseMetadata    Phase = "metadata"    // static module info loading
	PhaseLoad        Phase = "load"        // module bytes loading
	PhaseInstantiate Phase = "instantiate" // instantiation interception
	PhaseHook        Phase = "hook"        // low-level hook wiring
	PhaseDispatch    Phase = "dispatch"    // event translation at run time
	PhaseResolve     Phase = "resolve"     // table slot resolution
	PhaseParse       Phase = "parse"       // wasm binary parsing
	PhaseRuntime     Phase = "runtime"     // calls into the instance
)

// Kind categorizes the error
type Kind string

const (
	KindMissingStaticInfo      Kind = "missing_static_info"
	KindSyncInstantiation      Kind = "sync_instantiation_unsupported"
	KindUnresolvable           Kind = "unresolvable"
	KindNullTableEntry         Kind = "null_table_entry"
	KindBrokenInvariant        Kind = "broken_invariant"
	KindSessionInUse           Kind = "session_in_use"
	KindReservedNamespace      Kind = "reserved_namespace"
	KindInvalidData            Kind = "invalid_data"
	KindInvalidInput           Kind = "invalid_input"
	KindNotFound               Kind = "not_found"
	KindNotInitialized         Kind = "not_initialized"
	KindOutOfBounds            Kind = "out_of_bounds"
	KindUnsupported            Kind = "unsupported"
	KindInstantiation          Kind = "instantiation"
	KindRegistration           Kind = "registration"
	KindInvalidStateTransition Kind = "invalid_state"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Two errors match when they share Phase and Kind; an empty Phase on the
// target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// Sentinels for errors.Is checks. They match on Kind regardless of Phase.
var (
	ErrMissingStaticInfo                   = &Error{Kind: KindMissingStaticInfo}
	ErrSynchronousInstantiationUnsupported = &Error{Kind: KindSyncInstantiation}
	ErrUnresolvable                        = &Error{Kind: KindUnresolvable}
	ErrNullTableEntry                      = &Error{Kind: KindNullTableEntry}
	ErrBrokenInvariant                     = &Error{Kind: KindBrokenInvariant}
	ErrSessionInUse                        = &Error{Kind: KindSessionInUse}
	ErrReservedNamespace                   = &Error{Kind: KindReservedNamespace}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the instrumentation runtime taxonomy

// MissingStaticInfo is returned when instantiation is attempted before the
// rewriter-produced module info and the low-level hook table are loaded.
func MissingStaticInfo() *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindMissingStaticInfo,
		Detail: "missing static info or low-level hooks, load the module info before instantiating",
	}
}

// SynchronousInstantiationUnsupported is returned by the construct-and-run
// entry point, which cannot capture exports before the start function runs.
func SynchronousInstantiationUnsupported() *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindSyncInstantiation,
		Detail: "synchronous instance construction cannot wire exports before the start function, use Instantiate",
	}
}

// Unresolvable reports a table slot that cannot be resolved yet.
func Unresolvable(slot uint32, detail string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindUnresolvable,
		Detail: fmt.Sprintf("table index %d: %s", slot, detail),
		Value:  slot,
	}
}

// NullTableEntry reports a table slot without a function.
func NullTableEntry(slot uint32, length int) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindNullTableEntry,
		Detail: fmt.Sprintf("table returned null at index %d (table length %d)", slot, length),
		Value:  slot,
	}
}

// BrokenInvariant reports a contract violation between the static module
// info and the actual module.
func BrokenInvariant(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindBrokenInvariant,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// SessionInUse is returned when a session is asked to instantiate a second module.
func SessionInUse(state string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindSessionInUse,
		Detail: fmt.Sprintf("session already %s, create a separate session per module instance", state),
	}
}

// ReservedNamespace is returned when caller imports collide with the hook namespace.
func ReservedNamespace(namespace string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindReservedNamespace,
		Detail: fmt.Sprintf("import namespace %q is reserved for low-level hooks", namespace),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error for missing module/instance
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a host registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// InvalidState reports a lifecycle transition that is not allowed.
func InvalidState(from, to string) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInvalidStateTransition,
		Detail: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
