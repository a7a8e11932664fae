package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-instrument/analysis"
	"github.com/wippyai/wasm-instrument/engine"
	"github.com/wippyai/wasm-instrument/runtime"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to the instrumented wasm file")
		infoFile    = flag.String("info", "", "Path to the module info JSON (default: <wasm>.wasabi.json)")
		funcName    = flag.String("func", "", "Function to call (optional)")
		callArgs    = flag.String("args", "", "Call arguments (comma-separated)")
		analyses    = flag.String("analysis", "", "Analyses to attach (comma-separated)")
		argv        = flag.String("argv", "", "WASI program arguments (comma-separated)")
		enableWASI  = flag.Bool("wasi", false, "Instantiate WASI preview1 before the module")
		list        = flag.Bool("list", false, "List exported functions and analyses and exit")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-info file.json] [-func name] [-args 1,2] [-analysis a,b]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	runtime.SetLogger(logger)
	engine.SetLogger(logger)

	opts := options{
		logger:   logger,
		wasmFile: *wasmFile,
		infoFile: *infoFile,
		analyses: splitList(*analyses),
		args:     splitList(*argv),
		wasi:     *enableWASI,
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts, *funcName, splitList(*callArgs), *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

func run(opts options, funcName string, callArgs []string, listOnly bool) error {
	ctx := context.Background()

	l, err := load(ctx, opts)
	if err != nil {
		return err
	}
	defer l.close(ctx)

	info := l.session.Info()
	fmt.Printf("Module: %s\n", opts.wasmFile)
	fmt.Printf("Functions: %d (%d imported)\n", len(info.Functions), info.OriginalFunctionImportsCount)

	if listOnly {
		fmt.Printf("\nExported functions:\n")
		for _, f := range l.funcs {
			fmt.Printf("  %s\n", f.signature())
		}
		fmt.Printf("\nAnalyses:\n")
		for _, name := range analysis.Names() {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	if funcName == "" {
		var ok bool
		if funcName, ok = l.entryPoint(); !ok {
			fmt.Printf("\nNo function specified and no common entry point found.\n")
			fmt.Printf("Use -func to specify a function to call.\n")
			return nil
		}
	}
	f, ok := l.lookup(funcName)
	if !ok {
		return fmt.Errorf("no exported function %q", funcName)
	}

	fmt.Printf("\nCalling %s...\n", f.signature())
	results, err := l.call(ctx, f, callArgs)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}
	fmt.Printf("Result: %s\n\n", formatValues(results))

	fmt.Print(l.reports(term.IsTerminal(int(os.Stdout.Fd()))))
	return nil
}
