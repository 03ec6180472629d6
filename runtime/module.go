package runtime

import (
	"slices"
	"strings"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Export is a handle on an exported item. Exactly one of Func, Table,
// Memory or Global is set, selected by Kind. Tables, memories and globals
// are the store's own instances, so writes through the handle are seen by
// the running module and the other way round.
type Export struct {
	Func   FuncInst
	Table  *TableInst
	Memory *MemoryInst
	Global *GlobalInst
	Name   string
	Kind   ExternKind
	Idx    uint32
}

// Exports returns the handle of the export called name.
func (r *Runtime) Exports(name string) (Export, error) {
	ext, ok := r.store.Module.Exports[name]
	if !ok {
		return Export{}, errors.NotFoundExport(name)
	}
	e := Export{Name: name, Kind: ext.Kind, Idx: ext.Idx}
	switch ext.Kind {
	case ExternFunc:
		e.Func = r.store.Funcs[ext.Idx]
	case ExternTable:
		e.Table = r.store.Tables[ext.Idx]
	case ExternMemory:
		e.Memory = r.store.Memories[ext.Idx]
	case ExternGlobal:
		e.Global = r.store.Globals[ext.Idx]
	}
	return e, nil
}

func (r *Runtime) Memory(name string) (*MemoryInst, error) {
	e, err := r.exportOf(name, ExternMemory)
	return e.Memory, err
}

func (r *Runtime) Table(name string) (*TableInst, error) {
	e, err := r.exportOf(name, ExternTable)
	return e.Table, err
}

func (r *Runtime) Global(name string) (*GlobalInst, error) {
	e, err := r.exportOf(name, ExternGlobal)
	return e.Global, err
}

func (r *Runtime) exportOf(name string, kind ExternKind) (Export, error) {
	e, err := r.Exports(name)
	if err != nil {
		return Export{}, err
	}
	if e.Kind != kind {
		return Export{}, errors.InvalidExport(name, kind.String(), e.Kind.String())
	}
	return e, nil
}

// FunctionExport describes an exported function.
type FunctionExport struct {
	Name string
	Type wasm.FuncType
}

// ExportedFunctions lists the exported functions sorted by name.
func (r *Runtime) ExportedFunctions() []FunctionExport {
	var out []FunctionExport
	for name, ext := range r.store.Module.Exports {
		if ext.Kind != ExternFunc {
			continue
		}
		out = append(out, FunctionExport{Name: name, Type: r.store.Funcs[ext.Idx].FuncType()})
	}
	slices.SortFunc(out, func(a, b FunctionExport) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
