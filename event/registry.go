package event

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-instrument/errors"
)

// Handler consumes one event. A non-nil error aborts the running guest call.
type Handler func(ctx context.Context, ev Event) error

// Registry collects handlers before instantiation. Registering twice for the
// same kind fans out to both handlers in registration order.
type Registry struct {
	handlers [numKinds]Handler
	mu       sync.Mutex
	frozen   bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// On registers h for kind.
func (r *Registry) On(kind Kind, h Handler) error {
	if !kind.Valid() {
		return errors.InvalidInput(errors.PhaseHook, "unknown event kind")
	}
	if h == nil {
		return errors.InvalidInput(errors.PhaseHook, "nil handler for "+kind.String())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.InvalidState("frozen", "register "+kind.String())
	}
	r.handlers[kind] = chain(r.handlers[kind], h)
	return nil
}

// OnAny registers h for every kind.
func (r *Registry) OnAny(h Handler) error {
	for _, k := range Kinds() {
		if err := r.On(k, h); err != nil {
			return err
		}
	}
	return nil
}

// Handle registers a handler typed on one event struct.
func Handle[E Event](r *Registry, fn func(ctx context.Context, ev E) error) error {
	var zero E
	return r.On(zero.Kind(), func(ctx context.Context, ev Event) error {
		return fn(ctx, ev.(E))
	})
}

// Freeze returns the immutable dispatch table. Later registrations fail.
// A registry serves one instance: freezing it again fails with
// ErrSessionInUse.
func (r *Registry) Freeze() (*Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, errors.SessionInUse("bound to an instance")
	}
	r.frozen = true

	t := &Table{}
	for k, h := range r.handlers {
		if h == nil {
			t.handlers[k] = nop
			continue
		}
		t.handlers[k] = h
		t.provided[k] = true
	}
	return t, nil
}

func chain(prev, next Handler) Handler {
	if prev == nil {
		return next
	}
	return func(ctx context.Context, ev Event) error {
		if err := prev(ctx, ev); err != nil {
			return err
		}
		return next(ctx, ev)
	}
}

func nop(context.Context, Event) error { return nil }

// Table is a frozen Registry. Safe for concurrent use.
type Table struct {
	handlers [numKinds]Handler
	provided [numKinds]bool
}

// Dispatch delivers ev to its handler synchronously.
func (t *Table) Dispatch(ctx context.Context, ev Event) error {
	return t.handlers[ev.Kind()](ctx, ev)
}

// Provided reports whether an analysis registered a handler for kind.
func (t *Table) Provided(kind Kind) bool {
	return kind.Valid() && t.provided[kind]
}

// Missing lists the kinds that fall back to the no-op handler.
func (t *Table) Missing() []Kind {
	var missing []Kind
	for _, k := range Kinds() {
		if !t.provided[k] {
			missing = append(missing, k)
		}
	}
	return missing
}
