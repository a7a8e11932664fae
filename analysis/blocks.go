package analysis

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

type blockKey struct {
	loc  static.Location
	kind static.BlockKind
}

// BlockCounting counts how often each block was entered.
type BlockCounting struct {
	counts map[blockKey]uint64
	mu     sync.Mutex
}

func NewBlockCounting() *BlockCounting {
	return &BlockCounting{counts: make(map[blockKey]uint64)}
}

func (b *BlockCounting) Name() string { return "block-counting" }

func (b *BlockCounting) Register(reg *event.Registry) error {
	return event.Handle(reg, func(_ context.Context, ev event.Begin) error {
		b.mu.Lock()
		b.counts[blockKey{loc: ev.Location, kind: ev.Block}]++
		b.mu.Unlock()
		return nil
	})
}

// BlockCount is the entry count of one block.
type BlockCount struct {
	Location static.Location
	Kind     static.BlockKind
	Count    uint64
}

// Counts returns the counts ordered by location.
func (b *BlockCounting) Counts() []BlockCount {
	b.mu.Lock()
	out := make([]BlockCount, 0, len(b.counts))
	for k, n := range b.counts {
		out = append(out, BlockCount{Location: k.loc, Kind: k.kind, Count: n})
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return locLess(out[i].Location, out[j].Location)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func (b *BlockCounting) Report(info *static.ModuleInfo) Report {
	r := Report{Title: "Block counts", Headers: []string{"function", "instr", "block", "count"}}
	for _, c := range b.Counts() {
		r.Rows = append(r.Rows, []string{
			functionName(info, c.Location.Func),
			strconv.FormatInt(int64(c.Location.Instr), 10),
			c.Kind.String(),
			strconv.FormatUint(c.Count, 10),
		})
	}
	return r
}
