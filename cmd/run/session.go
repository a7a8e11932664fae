package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-instrument/analysis"
	"github.com/wippyai/wasm-instrument/event"
	"github.com/wippyai/wasm-instrument/runtime"
	"github.com/wippyai/wasm-instrument/static"
)

type options struct {
	logger   *zap.Logger
	wasmFile string
	infoFile string
	analyses []string
	args     []string
	wasi     bool
}

// loaded is an instantiated module with its analyses attached.
type loaded struct {
	session  *runtime.Session
	instance *runtime.Instance
	analyses []analysis.Analysis
	funcs    []funcInfo
}

type funcInfo struct {
	name    string
	params  []static.ValType
	results []static.ValType
}

func (f funcInfo) signature() string {
	params := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = p.String()
	}
	s := f.name + "(" + strings.Join(params, ", ") + ")"
	if len(f.results) > 0 {
		results := make([]string, len(f.results))
		for i, r := range f.results {
			results[i] = r.String()
		}
		s += " -> " + strings.Join(results, ", ")
	}
	return s
}

// defaultInfoFile maps prog.wasm to prog.wasabi.json next to it.
func defaultInfoFile(wasmFile string) string {
	return strings.TrimSuffix(wasmFile, ".wasm") + ".wasabi.json"
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func load(ctx context.Context, opts options) (*loaded, error) {
	reg := event.NewRegistry()
	var analyses []analysis.Analysis
	for _, name := range opts.analyses {
		var a analysis.Analysis
		if name == "trace" {
			a = analysis.NewTracer(opts.logger)
		} else {
			var err error
			if a, err = analysis.New(name); err != nil {
				return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(analysis.Names(), ", "))
			}
		}
		if err := a.Register(reg); err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}

	session := runtime.NewSession(&runtime.Config{
		Logger:     opts.logger,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Args:       append([]string{opts.wasmFile}, opts.args...),
		EnableWASI: opts.wasi,
	}, reg)

	infoFile := opts.infoFile
	if infoFile == "" {
		infoFile = defaultInfoFile(opts.wasmFile)
	}
	if err := session.LoadMetadataFile(infoFile); err != nil {
		return nil, err
	}

	inst, err := session.InstantiateStreaming(ctx, runtime.FromFile(opts.wasmFile), nil)
	if err != nil {
		_ = session.Close(ctx)
		return nil, err
	}

	l := &loaded{session: session, instance: inst, analyses: analyses}
	for name, def := range inst.Module().ExportedFunctionDefinitions() {
		fi := funcInfo{name: name}
		supported := true
		for _, t := range def.ParamTypes() {
			vt, ok := runtime.ValType(t)
			supported = supported && ok
			fi.params = append(fi.params, vt)
		}
		for _, t := range def.ResultTypes() {
			vt, ok := runtime.ValType(t)
			supported = supported && ok
			fi.results = append(fi.results, vt)
		}
		if supported {
			l.funcs = append(l.funcs, fi)
		}
	}
	sort.Slice(l.funcs, func(i, j int) bool { return l.funcs[i].name < l.funcs[j].name })
	return l, nil
}

func (l *loaded) lookup(name string) (funcInfo, bool) {
	for _, f := range l.funcs {
		if f.name == name {
			return f, true
		}
	}
	return funcInfo{}, false
}

// entryPoint picks a function when none was requested.
func (l *loaded) entryPoint() (string, bool) {
	for _, name := range []string{"_start", "main", "run"} {
		if _, ok := l.lookup(name); ok {
			return name, true
		}
	}
	if len(l.funcs) == 1 {
		return l.funcs[0].name, true
	}
	return "", false
}

func (l *loaded) call(ctx context.Context, f funcInfo, raw []string) ([]event.Value, error) {
	if len(raw) != len(f.params) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", f.name, len(f.params), len(raw))
	}
	args := make([]event.Value, len(raw))
	for i, s := range raw {
		v, err := parseValue(s, f.params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return l.instance.CallValues(ctx, f.name, args...)
}

func (l *loaded) reports(styled bool) string {
	var b strings.Builder
	for _, a := range l.analyses {
		b.WriteString(a.Report(l.session.Info()).Render(styled))
		b.WriteByte('\n')
	}
	return b.String()
}

func (l *loaded) close(ctx context.Context) {
	_ = l.session.Close(ctx)
}

func parseValue(s string, t static.ValType) (event.Value, error) {
	s = strings.TrimSpace(s)
	switch t {
	case static.I32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			// allow the unsigned range as well
			u, uerr := strconv.ParseUint(s, 0, 32)
			if uerr != nil {
				return event.Value{}, err
			}
			v = int64(int32(uint32(u)))
		}
		return event.I32(int32(v)), nil
	case static.I64:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(s, 0, 64)
			if uerr != nil {
				return event.Value{}, err
			}
			v = int64(u)
		}
		return event.I64(v), nil
	case static.F32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return event.Value{}, err
		}
		return event.F32(float32(v)), nil
	case static.F64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return event.Value{}, err
		}
		return event.F64(v), nil
	}
	return event.Value{}, fmt.Errorf("unsupported type %s", t)
}

func formatValues(vals []event.Value) string {
	if len(vals) == 0 {
		return "(no results)"
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.String()
	}
	return strings.Join(out, ", ")
}
