package analysis

import (
	"sort"

	"github.com/wippyai/wasm-instrument/errors"
	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

// Analysis consumes events and summarizes them.
type Analysis interface {
	Name() string
	Register(reg *event.Registry) error
	Report(info *static.ModuleInfo) Report
}

var constructors = map[string]func() Analysis{
	"instruction-mix": func() Analysis { return NewInstructionMix() },
	"call-graph":      func() Analysis { return NewCallGraph() },
	"branch-coverage": func() Analysis { return NewBranchCoverage() },
	"block-counting":  func() Analysis { return NewBlockCounting() },
	"trace":           func() Analysis { return NewTracer(nil) },
}

// Names lists the analyses available through New.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates an analysis by name.
func New(name string) (Analysis, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "analysis", name)
	}
	return ctor(), nil
}
