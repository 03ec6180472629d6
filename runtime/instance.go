package runtime

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// FuncInst is a function instance. It is either an *InternalFuncInst
// backed by a code body or an *ExternalFuncInst served by an importer.
type FuncInst interface {
	FuncType() wasm.FuncType
	isFuncInst()
}

// InternalFuncInst is a module-defined function.
type InternalFuncInst struct {
	Module *ModuleInst
	Body   wasm.FunctionBody
	Type   wasm.FuncType
	ctl    controlMap
	store  *Store
}

func (f *InternalFuncInst) FuncType() wasm.FuncType { return f.Type }
func (*InternalFuncInst) isFuncInst()               {}

// ExternalFuncInst is an imported function. The importer is looked up by
// Module, among the importers of the store that imported it, when the
// function is called.
type ExternalFuncInst struct {
	Module string
	Field  string
	Type   wasm.FuncType
	store  *Store
}

func (f *ExternalFuncInst) FuncType() wasm.FuncType { return f.Type }
func (*ExternalFuncInst) isFuncInst()               {}

// TableInst is a table of references.
type TableInst struct {
	Max      *uint32
	Elements []Value
	ElemType wasm.ValType
}

// NewTableInst allocates a table of typ.Limits.Min null references.
func NewTableInst(typ wasm.TableType) *TableInst {
	t := &TableInst{ElemType: typ.ElemType, Max: typ.Limits.Max}
	t.Elements = make([]Value, typ.Limits.Min)
	for i := range t.Elements {
		t.Elements[i] = NullRef(typ.ElemType)
	}
	return t
}

func (t *TableInst) Size() uint32 { return uint32(len(t.Elements)) }

// Type returns the table type described by the current size.
func (t *TableInst) Type() wasm.TableType {
	return wasm.TableType{ElemType: t.ElemType, Limits: wasm.Limits{Min: t.Size(), Max: t.Max}}
}

func (t *TableInst) Get(idx uint32) (Value, error) {
	if idx >= t.Size() {
		return Value{}, errors.Trap(errors.TrapTableOutOfBounds)
	}
	return t.Elements[idx], nil
}

func (t *TableInst) Set(idx uint32, v Value) error {
	if idx >= t.Size() {
		return errors.Trap(errors.TrapTableOutOfBounds)
	}
	if v.typ != t.ElemType {
		return errors.UnexpectedStackValueType(t.ElemType.String(), v.typ.String())
	}
	t.Elements[idx] = v
	return nil
}

// Grow appends delta copies of init and returns the previous size, or
// false when the table would exceed its maximum or limit entries.
func (t *TableInst) Grow(delta, limit uint32, init Value) (uint32, bool) {
	old := t.Size()
	if t.Max != nil && *t.Max < limit {
		limit = *t.Max
	}
	if uint64(old)+uint64(delta) > uint64(limit) {
		return 0, false
	}
	if delta == 0 {
		return old, true
	}
	grown := make([]Value, delta)
	for i := range grown {
		grown[i] = init
	}
	t.Elements = append(t.Elements, grown...)
	return old, true
}

// MemoryInst is a linear memory.
type MemoryInst struct {
	Max  *uint32
	Data []byte
}

// NewMemoryInst allocates typ.Limits.Min zeroed pages.
func NewMemoryInst(typ wasm.MemoryType) *MemoryInst {
	return &MemoryInst{
		Data: make([]byte, uint64(typ.Limits.Min)*wasm.PageSize),
		Max:  typ.Limits.Max,
	}
}

// Pages returns the current size in pages.
func (m *MemoryInst) Pages() uint32 { return uint32(len(m.Data) / wasm.PageSize) }

// Type returns the memory type described by the current size.
func (m *MemoryInst) Type() wasm.MemoryType {
	return wasm.MemoryType{Limits: wasm.Limits{Min: m.Pages(), Max: m.Max}}
}

// Grow adds delta pages and returns the previous page count, or false when
// the memory would exceed its maximum or limit pages.
func (m *MemoryInst) Grow(delta, limit uint32) (uint32, bool) {
	old := m.Pages()
	if m.Max != nil && *m.Max < limit {
		limit = *m.Max
	}
	if uint64(old)+uint64(delta) > uint64(limit) {
		return 0, false
	}
	if delta > 0 {
		m.Data = append(m.Data, make([]byte, uint64(delta)*wasm.PageSize)...)
	}
	return old, true
}

// Read returns a view of n bytes at offset.
func (m *MemoryInst) Read(offset uint64, n uint32) ([]byte, error) {
	if offset+uint64(n) > uint64(len(m.Data)) {
		return nil, errors.Trap(errors.TrapMemoryOutOfBounds)
	}
	return m.Data[offset : offset+uint64(n)], nil
}

// Write copies b into memory at offset.
func (m *MemoryInst) Write(offset uint64, b []byte) error {
	if offset+uint64(len(b)) > uint64(len(m.Data)) {
		return errors.Trap(errors.TrapMemoryOutOfBounds)
	}
	copy(m.Data[offset:], b)
	return nil
}

func (m *MemoryInst) ReadUint32(offset uint64) (uint32, error) {
	b, err := m.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *MemoryInst) WriteUint32(offset uint64, v uint32) error {
	b, err := m.Read(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// GlobalInst is a global cell.
type GlobalInst struct {
	Value   Value
	Mutable bool
}

func NewGlobalInst(v Value, mutable bool) *GlobalInst {
	return &GlobalInst{Value: v, Mutable: mutable}
}

// Type returns the global type of the cell.
func (g *GlobalInst) Type() wasm.GlobalType {
	return wasm.GlobalType{ValType: g.Value.typ, Mutable: g.Mutable}
}

// Get returns the current value.
func (g *GlobalInst) Get() Value { return g.Value }

// Set stores v. Immutable globals and values of another type are rejected.
func (g *GlobalInst) Set(v Value) error {
	if !g.Mutable {
		return errors.Trap(errors.TrapImmutableGlobal)
	}
	if v.typ != g.Value.typ {
		return errors.UnexpectedStackValueType(g.Value.typ.String(), v.typ.String())
	}
	g.Value = v
	return nil
}

// ExternKind identifies what an ExternalVal refers to.
type ExternKind byte

const (
	ExternFunc   = ExternKind(wasm.KindFunc)
	ExternTable  = ExternKind(wasm.KindTable)
	ExternMemory = ExternKind(wasm.KindMemory)
	ExternGlobal = ExternKind(wasm.KindGlobal)
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// ExternalVal is an export resolved to an index into the store's vectors.
type ExternalVal struct {
	Kind ExternKind
	Idx  uint32
}

// ModuleInst holds the per-module lookup tables used during execution.
type ModuleInst struct {
	Exports map[string]ExternalVal
	Types   []wasm.FuncType
}
