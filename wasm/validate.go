package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
)

// Validate checks that every index the module declares resolves within the
// fully assembled index spaces (imports first, then module definitions).
// Function bodies are not type-checked.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateTypeIndices,
		m.validateFunctionIndices,
		m.validateTableIndices,
		m.validateMemoryIndices,
		m.validateGlobalIndices,
		m.validateExports,
		m.validateStart,
		m.validateCounts,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalidIndex(format string, args ...any) error {
	return errors.New(errors.PhaseInstantiate, errors.KindNotFound).
		Detail(format, args...).Build()
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	if len(m.Funcs) > 0 && m.Types == nil {
		return errors.NotFoundTypeSection()
	}
	for _, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return errors.NotFoundFuncType(typeIdx)
		}
	}
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if m.Types == nil {
			return errors.NotFoundTypeSection()
		}
		if imp.Desc.TypeIdx >= numTypes {
			return errors.NotFoundFuncType(imp.Desc.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))

	for i, elem := range m.Elements {
		for j, expr := range elem.Init {
			if idx, ok := refFuncIndex(expr); ok && idx >= numFuncs {
				return invalidIndex("element %d entry %d references function %d of %d", i, j, idx, numFuncs)
			}
		}
	}
	for _, exp := range m.Exports {
		if exp.Desc.Kind == KindFunc && exp.Desc.Idx >= numFuncs {
			return invalidIndex("export %q references function %d of %d", exp.Name, exp.Desc.Idx, numFuncs)
		}
	}
	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumImportedTables() + len(m.Tables))

	for i, elem := range m.Elements {
		if elem.Mode == ElemActive && elem.TableIdx >= numTables {
			return invalidIndex("element %d references table %d of %d", i, elem.TableIdx, numTables)
		}
	}
	for _, exp := range m.Exports {
		if exp.Desc.Kind == KindTable && exp.Desc.Idx >= numTables {
			return invalidIndex("export %q references table %d of %d", exp.Name, exp.Desc.Idx, numTables)
		}
	}
	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))

	for i, seg := range m.Data {
		if seg.Mode == DataActive && seg.MemIdx >= numMemories {
			return invalidIndex("data segment %d references memory %d of %d", i, seg.MemIdx, numMemories)
		}
	}
	for _, exp := range m.Exports {
		if exp.Desc.Kind == KindMemory && exp.Desc.Idx >= numMemories {
			return invalidIndex("export %q references memory %d of %d", exp.Name, exp.Desc.Idx, numMemories)
		}
	}
	return nil
}

func (m *Module) validateGlobalIndices() error {
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	for _, exp := range m.Exports {
		if exp.Desc.Kind == KindGlobal && exp.Desc.Idx >= numGlobals {
			return invalidIndex("export %q references global %d of %d", exp.Name, exp.Desc.Idx, numGlobals)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool, len(m.Exports))
	for _, exp := range m.Exports {
		if seen[exp.Name] {
			return errors.InvalidData(errors.PhaseInstantiate, []string{exp.Name}, "duplicate export name")
		}
		seen[exp.Name] = true
	}
	return nil
}

// validateStart requires a parameterless start function. A declared result
// is allowed; it is left on the operand stack after instantiation.
func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	ft := m.FuncTypeOf(*m.Start)
	if ft == nil {
		return invalidIndex("start function %d not found", *m.Start)
	}
	if len(ft.Params) != 0 {
		return errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
			Path("start").Expected("no params").Actual(ft.String()).Build()
	}
	return nil
}

func (m *Module) validateCounts() error {
	if len(m.Code) != len(m.Funcs) {
		return errors.InvalidData(errors.PhaseInstantiate, []string{"code"},
			fmt.Sprintf("code section has %d bodies but function section declares %d", len(m.Code), len(m.Funcs)))
	}
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Data)) {
		return errors.InvalidData(errors.PhaseInstantiate, []string{"data count"},
			fmt.Sprintf("data count section declares %d segments, data section has %d", *m.DataCount, len(m.Data)))
	}
	return nil
}
