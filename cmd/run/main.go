package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/runtime"
)

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (f *multiFlag) String() string { return strings.Join(*f, ",") }

func (f *multiFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	var args, imports multiFlag
	var (
		wasmFile    = flag.String("wasm", "", "Path to module wasm file")
		funcName    = flag.String("func", "", "Exported function to call")
		configFile  = flag.String("config", "", "JSON runtime configuration")
		list        = flag.Bool("list", false, "List exported functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Development logging")
	)
	flag.Var(&args, "arg", "Argument to pass, parsed by parameter type (repeatable)")
	flag.Var(&imports, "import", "Serve an import module from a wasm file on wazero: name=path (repeatable)")
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> -func name [-arg v ...] [-import env=lib.wasm]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		runtime.SetLogger(logger.Named("runtime"))
		engine.SetLogger(logger.Named("engine"))
	}

	if err := run(*wasmFile, *funcName, *configFile, args, imports, *list, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, funcName, configFile string, args, imports []string, listOnly, interactive bool) error {
	ctx := context.Background()

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	opts := []runtime.Option{runtime.WithConfig(cfg)}

	if len(imports) > 0 {
		importers, closeAll, err := loadImporters(ctx, imports)
		if err != nil {
			return err
		}
		defer closeAll()
		opts = append(opts, runtime.WithImporters(importers...))
	}

	rt, err := runtime.FromFile(wasmFile, opts...)
	if err != nil {
		return fmt.Errorf("load %s: %w", wasmFile, err)
	}

	if interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("interactive mode requires a terminal")
		}
		return runInteractive(wasmFile, rt)
	}

	if listOnly {
		printExports(rt)
		return nil
	}

	if funcName == "" {
		funcName, err = defaultEntry(rt)
		if err != nil {
			return err
		}
	}

	export, err := findFunction(rt, funcName)
	if err != nil {
		return err
	}
	values, err := parseArgs(export.Type.Params, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}

	result, err := rt.Call(ctx, funcName, values...)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}
	fmt.Println(formatResult(result))
	return nil
}

// loadConfig decodes a JSON object over the default configuration.
func loadConfig(path string) (runtime.Config, error) {
	if path == "" {
		return runtime.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return runtime.Config{}, fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return runtime.Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return runtime.DecodeConfig(raw)
}

func loadImporters(ctx context.Context, specs []string) ([]runtime.Importer, func(), error) {
	var opened []*engine.WazeroImporter
	closeAll := func() {
		for _, imp := range opened {
			if err := imp.Close(ctx); err != nil {
				engine.Logger().Warn("close importer", zap.String("module", imp.Name()), zap.Error(err))
			}
		}
	}

	importers := make([]runtime.Importer, 0, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			closeAll()
			return nil, nil, fmt.Errorf("invalid -import %q, want name=path", spec)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("read import %s: %w", name, err)
		}
		imp, err := engine.NewWazeroImporter(ctx, name, data)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opened = append(opened, imp)
		importers = append(importers, imp)
	}
	return importers, closeAll, nil
}

func findFunction(rt *runtime.Runtime, name string) (runtime.FunctionExport, error) {
	for _, f := range rt.ExportedFunctions() {
		if f.Name == name {
			return f, nil
		}
	}
	return runtime.FunctionExport{}, fmt.Errorf("no exported function %q", name)
}

// defaultEntry picks a conventional entry point, or the only export.
func defaultEntry(rt *runtime.Runtime) (string, error) {
	funcs := rt.ExportedFunctions()
	for _, name := range []string{"_start", "run", "main"} {
		for _, f := range funcs {
			if f.Name == name {
				return name, nil
			}
		}
	}
	if len(funcs) == 1 {
		return funcs[0].Name, nil
	}
	return "", fmt.Errorf("no function specified and no common entry point found, use -func")
}

func printExports(rt *runtime.Runtime) {
	fmt.Println(titleStyle.Render("Exported functions"))
	for _, f := range rt.ExportedFunctions() {
		fmt.Println("  " + formatFunc(f))
	}
}
