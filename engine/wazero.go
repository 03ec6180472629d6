package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/wasm"
)

// Config holds configuration for the wazero runtime backing an importer.
type Config struct {
	// MemoryLimitPages sets the maximum memory of the backing module in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// Interpreter selects wazero's interpreter instead of the compiler.
	Interpreter bool
}

// WazeroImporter serves imports from a module running on wazero.
//
// Exported functions are callable imports. Immutable exported globals resolve
// to snapshot instances taken at resolution time. Tables and memories are not
// bridged: the two runtimes do not share storage.
type WazeroImporter struct {
	runtime  wazero.Runtime
	instance api.Module
	name     string
	mu       sync.Mutex
}

var _ runtime.Importer = (*WazeroImporter)(nil)

// NewWazeroImporter compiles and instantiates wasmBytes on wazero and serves
// its exports under the import module name.
func NewWazeroImporter(ctx context.Context, name string, wasmBytes []byte) (*WazeroImporter, error) {
	return NewWazeroImporterWithConfig(ctx, name, wasmBytes, nil)
}

// NewWazeroImporterWithConfig is NewWazeroImporter with a custom runtime configuration.
func NewWazeroImporterWithConfig(ctx context.Context, name string, wasmBytes []byte, cfg *Config) (*WazeroImporter, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil {
		if cfg.Interpreter {
			runtimeCfg = wazero.NewRuntimeConfigInterpreter()
		}
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "compile "+name)
	}
	instance, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInstantiation, err, "instantiate "+name)
	}

	Logger().Debug("wazero importer ready",
		zap.String("module", name),
		zap.Int("functions", len(compiled.ExportedFunctions())))
	return &WazeroImporter{runtime: r, instance: instance, name: name}, nil
}

func (w *WazeroImporter) Name() string { return w.name }

func (w *WazeroImporter) ResolveTable(_, _ string) (*runtime.TableInst, error) {
	return nil, nil
}

func (w *WazeroImporter) ResolveMemory(_, _ string) (*runtime.MemoryInst, error) {
	return nil, nil
}

// ResolveGlobal snapshots an immutable exported global. Mutable globals are
// rejected because later writes on either side would not be visible to the other.
func (w *WazeroImporter) ResolveGlobal(module, field string) (*runtime.GlobalInst, error) {
	g := w.instance.ExportedGlobal(field)
	if g == nil {
		return nil, nil
	}
	if _, ok := g.(api.MutableGlobal); ok {
		return nil, errors.Unsupported(errors.PhaseHost, fmt.Sprintf("mutable global %s.%s", module, field))
	}
	v, err := fromWazero(wasm.ValType(g.Type()), g.Get())
	if err != nil {
		return nil, err
	}
	return runtime.NewGlobalInst(v, false), nil
}

// Call pops the arguments for typ, runs the exported function on wazero and
// pushes its results.
func (w *WazeroImporter) Call(ctx context.Context, stack *runtime.Stack, module, field string, typ wasm.FuncType) error {
	fn := w.instance.ExportedFunction(field)
	if fn == nil {
		return errors.New(errors.PhaseHost, errors.KindNotFound).
			Path(module, field).
			Detail("wazero module does not export function").
			Build()
	}
	def := fn.Definition()
	if actual := signature(def); !actual.Equal(typ) {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path(module, field).
			Expected(typ.String()).
			Actual(actual.String()).
			Build()
	}

	args, err := stack.PopN(len(typ.Params))
	if err != nil {
		return err
	}
	params := make([]uint64, len(args))
	for i, a := range args {
		if a.Type() != typ.Params[i] {
			return errors.UnexpectedStackValueType(typ.Params[i].String(), a.Type().String())
		}
		if params[i], err = toWazero(a); err != nil {
			return err
		}
	}

	w.mu.Lock()
	raw, err := fn.Call(ctx, params...)
	w.mu.Unlock()
	if err != nil {
		Logger().Debug("wazero call failed", zap.String("func", module+"."+field), zap.Error(err))
		return errors.Wrap(errors.PhaseHost, errors.KindTrap, err, module+"."+field)
	}

	for i, t := range typ.Results {
		v, err := fromWazero(t, raw[i])
		if err != nil {
			return err
		}
		stack.Push(v)
	}
	return nil
}

// Close releases the wazero runtime and the module instance.
func (w *WazeroImporter) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runtime == nil {
		return nil
	}
	err := w.runtime.Close(ctx)
	w.runtime = nil
	w.instance = nil
	return err
}

func signature(def api.FunctionDefinition) wasm.FuncType {
	ft := wasm.FuncType{
		Params:  make([]wasm.ValType, len(def.ParamTypes())),
		Results: make([]wasm.ValType, len(def.ResultTypes())),
	}
	for i, t := range def.ParamTypes() {
		ft.Params[i] = wasm.ValType(t)
	}
	for i, t := range def.ResultTypes() {
		ft.Results[i] = wasm.ValType(t)
	}
	return ft
}

func toWazero(v runtime.Value) (uint64, error) {
	switch v.Type() {
	case wasm.ValI32:
		return api.EncodeI32(v.I32()), nil
	case wasm.ValI64:
		return api.EncodeI64(v.I64()), nil
	case wasm.ValF32:
		return api.EncodeF32(v.F32()), nil
	case wasm.ValF64:
		return api.EncodeF64(v.F64()), nil
	}
	return 0, errors.Unsupported(errors.PhaseHost, "passing "+v.Type().String()+" to wazero")
}

func fromWazero(t wasm.ValType, raw uint64) (runtime.Value, error) {
	switch t {
	case wasm.ValI32:
		return runtime.I32(api.DecodeI32(raw)), nil
	case wasm.ValI64:
		return runtime.I64(int64(raw)), nil
	case wasm.ValF32:
		return runtime.F32(api.DecodeF32(raw)), nil
	case wasm.ValF64:
		return runtime.F64(api.DecodeF64(raw)), nil
	}
	return runtime.Value{}, errors.Unsupported(errors.PhaseHost, "receiving "+t.String()+" from wazero")
}
