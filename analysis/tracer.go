package analysis

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

// Tracer logs every event at debug level and counts events per kind.
type Tracer struct {
	logger *zap.Logger
	counts map[event.Kind]uint64
	mu     sync.Mutex
}

// NewTracer creates a tracer. A nil logger falls back to zap.L().
func NewTracer(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.L()
	}
	return &Tracer{logger: logger.Named("trace"), counts: make(map[event.Kind]uint64)}
}

func (t *Tracer) Name() string { return "trace" }

func (t *Tracer) Register(reg *event.Registry) error {
	return reg.OnAny(func(_ context.Context, ev event.Event) error {
		t.mu.Lock()
		t.counts[ev.Kind()]++
		t.mu.Unlock()
		if ce := t.logger.Check(zap.DebugLevel, ev.Kind().String()); ce != nil {
			ce.Write(zap.Stringer("loc", ev.Loc()), zap.Any("event", ev))
		}
		return nil
	})
}

// Count returns the number of events of kind seen so far.
func (t *Tracer) Count(kind event.Kind) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[kind]
}

func (t *Tracer) Report(*static.ModuleInfo) Report {
	r := Report{Title: "Event trace", Headers: []string{"event", "count"}}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range event.Kinds() {
		if n := t.counts[k]; n > 0 {
			r.Rows = append(r.Rows, []string{k.String(), strconv.FormatUint(n, 10)})
		}
	}
	return r
}
