package analysis

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

// BranchCoverage records which outcomes each conditional site produced.
// if, br_if and select record true/false; br_table records the selected
// table entry, with the default recorded as the table length.
type BranchCoverage struct {
	sites map[static.Location]*branchSite
	mu    sync.Mutex
}

type branchSite struct {
	outcomes map[uint32]uint64
	kind     event.Kind
	arms     int
}

func NewBranchCoverage() *BranchCoverage {
	return &BranchCoverage{sites: make(map[static.Location]*branchSite)}
}

func (c *BranchCoverage) Name() string { return "branch-coverage" }

func (c *BranchCoverage) record(loc static.Location, kind event.Kind, arms int, outcome uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	site, ok := c.sites[loc]
	if !ok {
		site = &branchSite{kind: kind, arms: arms, outcomes: make(map[uint32]uint64)}
		c.sites[loc] = site
	}
	site.outcomes[outcome]++
}

func boolOutcome(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (c *BranchCoverage) Register(reg *event.Registry) error {
	if err := event.Handle(reg, func(_ context.Context, ev event.If) error {
		c.record(ev.Location, event.KindIf, 2, boolOutcome(ev.Cond))
		return nil
	}); err != nil {
		return err
	}
	if err := event.Handle(reg, func(_ context.Context, ev event.BrIf) error {
		c.record(ev.Location, event.KindBrIf, 2, boolOutcome(ev.Cond))
		return nil
	}); err != nil {
		return err
	}
	if err := event.Handle(reg, func(_ context.Context, ev event.Select) error {
		c.record(ev.Location, event.KindSelect, 2, boolOutcome(ev.Cond))
		return nil
	}); err != nil {
		return err
	}
	return event.Handle(reg, func(_ context.Context, ev event.BrTable) error {
		outcome := ev.Selector
		if uint64(outcome) > uint64(len(ev.Table)) {
			outcome = uint32(len(ev.Table))
		}
		c.record(ev.Location, event.KindBrTable, len(ev.Table)+1, outcome)
		return nil
	})
}

// SiteCoverage summarizes one conditional site.
type SiteCoverage struct {
	Outcomes map[uint32]uint64
	Location static.Location
	Kind     event.Kind
	Arms     int
}

// Full reports whether every outcome of the site was observed.
func (s SiteCoverage) Full() bool {
	return len(s.Outcomes) == s.Arms
}

// Sites returns the observed sites ordered by location.
func (c *BranchCoverage) Sites() []SiteCoverage {
	c.mu.Lock()
	out := make([]SiteCoverage, 0, len(c.sites))
	for loc, site := range c.sites {
		outcomes := make(map[uint32]uint64, len(site.outcomes))
		for k, v := range site.outcomes {
			outcomes[k] = v
		}
		out = append(out, SiteCoverage{Location: loc, Kind: site.kind, Arms: site.arms, Outcomes: outcomes})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return locLess(out[i].Location, out[j].Location) })
	return out
}

func (c *BranchCoverage) Report(info *static.ModuleInfo) Report {
	r := Report{Title: "Branch coverage", Headers: []string{"function", "instr", "kind", "taken", "covered"}}
	for _, s := range c.Sites() {
		keys := make([]uint32, 0, len(s.Outcomes))
		for k := range s.Outcomes {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		taken := make([]string, len(keys))
		for i, k := range keys {
			taken[i] = outcomeName(s, k) + "=" + strconv.FormatUint(s.Outcomes[k], 10)
		}
		r.Rows = append(r.Rows, []string{
			functionName(info, s.Location.Func),
			strconv.FormatInt(int64(s.Location.Instr), 10),
			strings.TrimSuffix(s.Kind.String(), "_"),
			strings.Join(taken, " "),
			strconv.Itoa(len(s.Outcomes)) + "/" + strconv.Itoa(s.Arms),
		})
	}
	return r
}

func outcomeName(s SiteCoverage, k uint32) string {
	if s.Kind != event.KindBrTable {
		if k == 1 {
			return "true"
		}
		return "false"
	}
	if int(k) == s.Arms-1 {
		return "default"
	}
	return strconv.FormatUint(uint64(k), 10)
}

func locLess(a, b static.Location) bool {
	if a.Func != b.Func {
		return a.Func < b.Func
	}
	return a.Instr < b.Instr
}
