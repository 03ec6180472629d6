package runtime

import (
	"context"

	"github.com/wippyai/wasm-interp/wasm"
)

// Importer provides the imports of one module name.
//
// Resolve methods return a nil instance and nil error when the field is
// unknown. Call serves an imported function: the arguments are on top of
// stack, the last argument topmost, and the implementation must replace
// them with the function's results.
type Importer interface {
	Name() string
	ResolveTable(module, field string) (*TableInst, error)
	ResolveMemory(module, field string) (*MemoryInst, error)
	ResolveGlobal(module, field string) (*GlobalInst, error)
	Call(ctx context.Context, stack *Stack, module, field string, typ wasm.FuncType) error
}

func findImporter(importers []Importer, module string) Importer {
	for _, imp := range importers {
		if imp.Name() == module {
			return imp
		}
	}
	return nil
}
