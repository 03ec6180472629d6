package wasm

import "strings"

// Module is a decoded module. Each section field is nil when the section was
// absent from the binary and non-nil (possibly empty) when it was present.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices of module-defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FunctionBody
	Data     []DataSegment

	// DataCount holds the count from the data count section (ID 12).
	DataCount *uint32

	CustomSections []CustomSection
}

// Has reports whether the section with the given id was present.
func (m *Module) Has(id byte) bool {
	switch id {
	case SectionCustom:
		return m.CustomSections != nil
	case SectionType:
		return m.Types != nil
	case SectionImport:
		return m.Imports != nil
	case SectionFunction:
		return m.Funcs != nil
	case SectionTable:
		return m.Tables != nil
	case SectionMemory:
		return m.Memories != nil
	case SectionGlobal:
		return m.Globals != nil
	case SectionExport:
		return m.Exports != nil
	case SectionStart:
		return m.Start != nil
	case SectionElement:
		return m.Elements != nil
	case SectionCode:
		return m.Code != nil
	case SectionData:
		return m.Data != nil
	case SectionDataCount:
		return m.DataCount != nil
	}
	return false
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures have the same params and results.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no backing arrays with f.
func (f FuncType) Clone() FuncType {
	return FuncType{
		Params:  append([]ValType{}, f.Params...),
		Results: append([]ValType{}, f.Results...),
	}
}

func (f FuncType) String() string {
	var b strings.Builder
	b.WriteString("(")
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range f.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteString(")")
	return b.String()
}

// ValType is a value type byte. See constants.go for ValI32, ValI64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// Import is an imported function, table, memory or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item. Exactly one of TypeIdx, Table,
// Memory or Global is meaningful, selected by Kind.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table's element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory in pages.
type MemoryType struct {
	Limits Limits
}

// Limits bounds the size of a table or memory.
type Limits struct {
	Max *uint32
	Min uint32
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// ConstExpr is a constant initializer expression, terminated by end.
type ConstExpr []Instruction

// Global is a module-defined global with its initializer.
type Global struct {
	Init ConstExpr
	Type GlobalType
}

// ExportDesc identifies the exported item by kind and index.
type ExportDesc struct {
	Kind byte
	Idx  uint32
}

// Export is a named export.
type Export struct {
	Name string
	Desc ExportDesc
}

// ElemMode is the mode of an element segment.
type ElemMode byte

const (
	ElemActive ElemMode = iota
	ElemPassive
	ElemDeclarative
)

// Element is an element segment. Function index vectors are decoded into
// ref.func expressions so Init always holds one expression per entry.
type Element struct {
	Offset   ConstExpr
	Init     []ConstExpr
	TableIdx uint32
	Mode     ElemMode
	Type     ValType
}

// DataMode is the mode of a data segment.
type DataMode byte

const (
	DataActive DataMode = iota
	DataPassive
)

// DataSegment is a data segment. Offset is nil for passive segments.
type DataSegment struct {
	Offset ConstExpr
	Init   []byte
	MemIdx uint32
	Mode   DataMode
}

// FunctionBody is a code section entry. Locals are run-length expanded.
type FunctionBody struct {
	Locals []ValType
	Code   []Instruction
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

func (m *Module) numImported(kind byte) int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// NumImportedFuncs returns the number of imported functions.
func (m *Module) NumImportedFuncs() int { return m.numImported(KindFunc) }

// NumImportedTables returns the number of imported tables.
func (m *Module) NumImportedTables() int { return m.numImported(KindTable) }

// NumImportedMemories returns the number of imported memories.
func (m *Module) NumImportedMemories() int { return m.numImported(KindMemory) }

// NumImportedGlobals returns the number of imported globals.
func (m *Module) NumImportedGlobals() int { return m.numImported(KindGlobal) }

// FuncTypeOf returns the type of a function by its index in the function
// index space, or nil when the index or its type index is out of range.
func (m *Module) FuncTypeOf(funcIdx uint32) *FuncType {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return m.typeAt(imp.Desc.TypeIdx)
		}
		funcIdx--
	}
	if int(funcIdx) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[funcIdx])
}

func (m *Module) typeAt(idx uint32) *FuncType {
	if int(idx) >= len(m.Types) {
		return nil
	}
	return &m.Types[idx]
}

// AddType adds a function type and returns its index, reusing an equal one.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}
