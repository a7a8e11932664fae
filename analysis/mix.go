package analysis

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/static"
)

// InstructionMix counts executed instructions by mnemonic.
type InstructionMix struct {
	counts map[string]uint64
	mu     sync.Mutex
}

func NewInstructionMix() *InstructionMix {
	return &InstructionMix{counts: make(map[string]uint64)}
}

func (m *InstructionMix) Name() string { return "instruction-mix" }

func (m *InstructionMix) inc(instr string) {
	m.mu.Lock()
	m.counts[instr]++
	m.mu.Unlock()
}

var fixedMnemonics = map[event.Kind]string{
	event.KindNop:         "nop",
	event.KindUnreachable: "unreachable",
	event.KindIf:          "if",
	event.KindBr:          "br",
	event.KindBrIf:        "br_if",
	event.KindBrTable:     "br_table",
	event.KindDrop:        "drop",
	event.KindSelect:      "select",
	event.KindMemorySize:  "memory.size",
	event.KindMemoryGrow:  "memory.grow",
}

func (m *InstructionMix) Register(reg *event.Registry) error {
	return reg.OnAny(func(_ context.Context, ev event.Event) error {
		if name, ok := fixedMnemonics[ev.Kind()]; ok {
			m.inc(name)
			return nil
		}
		switch ev := ev.(type) {
		case event.Unary:
			m.inc(ev.Op)
		case event.Binary:
			m.inc(ev.Op)
		case event.Const:
			m.inc(ev.Op)
		case event.Load:
			m.inc(ev.Op)
		case event.Store:
			m.inc(ev.Op)
		case event.Local:
			m.inc(ev.Op.String())
		case event.Global:
			m.inc(ev.Op.String())
		case event.CallPre:
			if ev.Indirect() {
				m.inc("call_indirect")
			} else {
				m.inc("call")
			}
		case event.Begin:
			// if has its own event and function begins are implicit
			if ev.Block != static.BlockIf && ev.Block != static.BlockFunction {
				m.inc(ev.Block.String())
			}
		case event.Return:
			if !ev.Implicit() {
				m.inc("return")
			}
		}
		return nil
	})
}

// InstrCount is one row of the instruction mix.
type InstrCount struct {
	Instr string
	Count uint64
}

// Counts returns the counts ordered by count, then by name.
func (m *InstructionMix) Counts() []InstrCount {
	m.mu.Lock()
	out := make([]InstrCount, 0, len(m.counts))
	for instr, n := range m.counts {
		out = append(out, InstrCount{Instr: instr, Count: n})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Instr < out[j].Instr
	})
	return out
}

func (m *InstructionMix) Report(*static.ModuleInfo) Report {
	r := Report{Title: "Instruction mix", Headers: []string{"instruction", "count"}}
	for _, c := range m.Counts() {
		r.Rows = append(r.Rows, []string{c.Instr, strconv.FormatUint(c.Count, 10)})
	}
	return r
}
