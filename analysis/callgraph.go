package analysis

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

// Edge is a call graph edge between original function indices. Callee is
// nil for indirect calls whose target could not be resolved.
type Edge struct {
	Callee   *uint32
	Caller   uint32
	Indirect bool
}

type edgeKey struct {
	caller, callee uint32
	known          bool
	indirect       bool
}

// CallGraph records caller/callee pairs with call counts.
type CallGraph struct {
	edges map[edgeKey]uint64
	mu    sync.Mutex
}

func NewCallGraph() *CallGraph {
	return &CallGraph{edges: make(map[edgeKey]uint64)}
}

func (g *CallGraph) Name() string { return "call-graph" }

func (g *CallGraph) Register(reg *event.Registry) error {
	return event.Handle(reg, func(_ context.Context, ev event.CallPre) error {
		k := edgeKey{caller: ev.Location.Func, indirect: ev.Indirect()}
		if ev.Target != nil {
			k.callee, k.known = *ev.Target, true
		}
		g.mu.Lock()
		g.edges[k]++
		g.mu.Unlock()
		return nil
	})
}

// EdgeCount is an edge with the number of times it was taken.
type EdgeCount struct {
	Edge
	Count uint64
}

// Edges returns the recorded edges ordered by caller, then callee.
// Unresolved callees sort last.
func (g *CallGraph) Edges() []EdgeCount {
	g.mu.Lock()
	keys := make([]edgeKey, 0, len(g.edges))
	for k := range g.edges {
		keys = append(keys, k)
	}
	counts := make([]uint64, 0, len(keys))
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.caller != b.caller {
			return a.caller < b.caller
		}
		if a.known != b.known {
			return a.known
		}
		if a.callee != b.callee {
			return a.callee < b.callee
		}
		return !a.indirect && b.indirect
	})
	for _, k := range keys {
		counts = append(counts, g.edges[k])
	}
	g.mu.Unlock()

	out := make([]EdgeCount, len(keys))
	for i, k := range keys {
		e := Edge{Caller: k.caller, Indirect: k.indirect}
		if k.known {
			callee := k.callee
			e.Callee = &callee
		}
		out[i] = EdgeCount{Edge: e, Count: counts[i]}
	}
	return out
}

func (g *CallGraph) Report(info *static.ModuleInfo) Report {
	r := Report{Title: "Call graph", Headers: []string{"caller", "callee", "kind", "count"}}
	for _, e := range g.Edges() {
		callee := "?"
		if e.Callee != nil {
			callee = functionName(info, *e.Callee)
		}
		kind := "direct"
		if e.Indirect {
			kind = "indirect"
		}
		r.Rows = append(r.Rows, []string{functionName(info, e.Caller), callee, kind, strconv.FormatUint(e.Count, 10)})
	}
	return r
}

func functionName(info *static.ModuleInfo, idx uint32) string {
	if info == nil {
		return strconv.FormatUint(uint64(idx), 10)
	}
	return info.FunctionName(idx)
}
