package runtime

import (
	"context"
	"fmt"
	"maps"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// HostFunc implements an imported function in Go. args match the declared
// params; the returned values must match the declared results.
type HostFunc func(ctx context.Context, args []Value) ([]Value, error)

type hostFunc struct {
	fn  HostFunc
	typ wasm.FuncType
}

// HostModule builds an Importer from Go functions and instances.
//
//	imp := runtime.NewHostModule("env").
//		Func("log", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, logFn).
//		Memory("memory", runtime.NewMemoryInst(wasm.MemoryType{Limits: wasm.Limits{Min: 1}})).
//		Build()
type HostModule struct {
	funcs    map[string]hostFunc
	tables   map[string]*TableInst
	memories map[string]*MemoryInst
	globals  map[string]*GlobalInst
	name     string
}

// NewHostModule starts an importer serving the module called name.
func NewHostModule(name string) *HostModule {
	return &HostModule{
		name:     name,
		funcs:    make(map[string]hostFunc),
		tables:   make(map[string]*TableInst),
		memories: make(map[string]*MemoryInst),
		globals:  make(map[string]*GlobalInst),
	}
}

// Func registers fn under field with the given signature.
func (h *HostModule) Func(field string, typ wasm.FuncType, fn HostFunc) *HostModule {
	h.funcs[field] = hostFunc{fn: fn, typ: typ.Clone()}
	return h
}

// Table exposes t under field. Importing modules share the instance.
func (h *HostModule) Table(field string, t *TableInst) *HostModule {
	h.tables[field] = t
	return h
}

// Memory exposes m under field. Importing modules share the instance.
func (h *HostModule) Memory(field string, m *MemoryInst) *HostModule {
	h.memories[field] = m
	return h
}

// Global exposes g under field. Importing modules share the instance.
func (h *HostModule) Global(field string, g *GlobalInst) *HostModule {
	h.globals[field] = g
	return h
}

// Build returns the importer. Later changes to the builder do not affect it.
func (h *HostModule) Build() *HostImporter {
	return &HostImporter{
		name:     h.name,
		funcs:    maps.Clone(h.funcs),
		tables:   maps.Clone(h.tables),
		memories: maps.Clone(h.memories),
		globals:  maps.Clone(h.globals),
	}
}

// HostImporter is the Importer produced by HostModule.Build.
type HostImporter struct {
	funcs    map[string]hostFunc
	tables   map[string]*TableInst
	memories map[string]*MemoryInst
	globals  map[string]*GlobalInst
	name     string
}

var _ Importer = (*HostImporter)(nil)

func (h *HostImporter) Name() string { return h.name }

func (h *HostImporter) ResolveTable(_, field string) (*TableInst, error) {
	return h.tables[field], nil
}

func (h *HostImporter) ResolveMemory(_, field string) (*MemoryInst, error) {
	return h.memories[field], nil
}

func (h *HostImporter) ResolveGlobal(_, field string) (*GlobalInst, error) {
	return h.globals[field], nil
}

func (h *HostImporter) Call(ctx context.Context, stack *Stack, module, field string, typ wasm.FuncType) error {
	f, ok := h.funcs[field]
	if !ok {
		return errors.New(errors.PhaseHost, errors.KindNotFound).
			Path(module, field).
			Detail("host function not defined").
			Build()
	}
	if !f.typ.Equal(typ) {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path(module, field).
			Expected(typ.String()).
			Actual(f.typ.String()).
			Build()
	}

	args, err := stack.PopN(len(typ.Params))
	if err != nil {
		return err
	}
	for i, a := range args {
		if a.typ != typ.Params[i] {
			return errors.UnexpectedStackValueType(typ.Params[i].String(), a.typ.String())
		}
	}

	results, err := f.fn(ctx, args)
	if err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindTrap, err, module+"."+field)
	}
	if len(results) != len(typ.Results) {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path(module, field).
			Expected(fmt.Sprintf("%d results", len(typ.Results))).
			Actual(fmt.Sprintf("%d results", len(results))).
			Build()
	}
	for i, v := range results {
		if v.typ != typ.Results[i] {
			return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Path(module, field, fmt.Sprintf("result[%d]", i)).
				Expected(typ.Results[i].String()).
				Actual(v.typ.String()).
				Build()
		}
		stack.Push(v)
	}
	return nil
}
