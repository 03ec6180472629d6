package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Store owns every instance produced by instantiating one module.
//
// Imported items occupy the low indices of each vector, module-defined
// items follow in declaration order.
type Store struct {
	Module    *ModuleInst
	Start     *uint32
	Funcs     []FuncInst
	Tables    []*TableInst
	Memories  []*MemoryInst
	Globals   []*GlobalInst
	importers []Importer
	funcTypes []uint32
	elems     [][]Value
	datas     [][]byte
	cfg       Config
}

// NewStore instantiates m against importers with the default configuration.
// A nil importers slice means no importer set was supplied.
func NewStore(m *wasm.Module, importers []Importer) (*Store, error) {
	return newStore(m, importers, DefaultConfig())
}

func newStore(m *wasm.Module, importers []Importer, cfg Config) (*Store, error) {
	if m.Has(wasm.SectionImport) && importers == nil {
		return nil, errors.NoImports()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		Module:    &ModuleInst{Types: m.Types, Exports: make(map[string]ExternalVal, len(m.Exports))},
		importers: importers,
		funcTypes: m.Funcs,
		cfg:       cfg,
	}

	if err := s.resolveImports(m); err != nil {
		return nil, err
	}
	if err := s.allocate(m); err != nil {
		return nil, err
	}
	if err := s.initElements(m); err != nil {
		return nil, err
	}
	if err := s.initData(m); err != nil {
		return nil, err
	}
	if err := s.resolveExports(m); err != nil {
		return nil, err
	}
	s.Start = m.Start

	Logger().Debug("store allocated",
		zap.Int("funcs", len(s.Funcs)),
		zap.Int("tables", len(s.Tables)),
		zap.Int("memories", len(s.Memories)),
		zap.Int("globals", len(s.Globals)),
		zap.Int("exports", len(s.Module.Exports)))
	return s, nil
}

func (s *Store) resolveImports(m *wasm.Module) error {
	for _, imp := range m.Imports {
		importer := findImporter(s.importers, imp.Module)
		if importer == nil {
			return errors.NotFoundImportModule(imp.Module)
		}

		switch imp.Desc.Kind {
		case wasm.KindFunc:
			if m.Types == nil {
				return errors.NotFoundTypeSection()
			}
			if int(imp.Desc.TypeIdx) >= len(m.Types) {
				return errors.NotFoundFuncType(imp.Desc.TypeIdx)
			}
			s.Funcs = append(s.Funcs, &ExternalFuncInst{
				Module: imp.Module,
				Field:  imp.Name,
				Type:   m.Types[imp.Desc.TypeIdx].Clone(),
				store:  s,
			})

		case wasm.KindTable:
			t, err := importer.ResolveTable(imp.Module, imp.Name)
			if err != nil {
				return errors.Wrap(errors.PhaseInstantiate, errors.KindMissingImport, err, importPath(imp))
			}
			if t == nil {
				return errors.UnresolvedImport(imp.Module, imp.Name, "table")
			}
			if t.ElemType != imp.Desc.Table.ElemType || !limitsMatch(imp.Desc.Table.Limits, t.Size(), t.Max) {
				return errors.ImportTypeMismatch(imp.Module, imp.Name, describeTable(*imp.Desc.Table), describeTable(t.Type()))
			}
			if t.Size() > s.cfg.MaxTableSize {
				return errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
					Path(imp.Module, imp.Name).
					Value(t.Size()).
					Detail("table size exceeds max_table_size %d", s.cfg.MaxTableSize).
					Build()
			}
			s.Tables = append(s.Tables, t)

		case wasm.KindMemory:
			mem, err := importer.ResolveMemory(imp.Module, imp.Name)
			if err != nil {
				return errors.Wrap(errors.PhaseInstantiate, errors.KindMissingImport, err, importPath(imp))
			}
			if mem == nil {
				return errors.UnresolvedImport(imp.Module, imp.Name, "memory")
			}
			if !limitsMatch(imp.Desc.Memory.Limits, mem.Pages(), mem.Max) {
				return errors.ImportTypeMismatch(imp.Module, imp.Name, describeLimits(imp.Desc.Memory.Limits), describeLimits(mem.Type().Limits))
			}
			if mem.Pages() > s.cfg.MaxMemoryPages {
				return errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
					Path(imp.Module, imp.Name).
					Value(mem.Pages()).
					Detail("memory pages exceed max_memory_pages %d", s.cfg.MaxMemoryPages).
					Build()
			}
			s.Memories = append(s.Memories, mem)

		case wasm.KindGlobal:
			g, err := importer.ResolveGlobal(imp.Module, imp.Name)
			if err != nil {
				return errors.Wrap(errors.PhaseInstantiate, errors.KindMissingImport, err, importPath(imp))
			}
			if g == nil {
				return errors.UnresolvedImport(imp.Module, imp.Name, "global")
			}
			if g.Type() != *imp.Desc.Global {
				return errors.ImportTypeMismatch(imp.Module, imp.Name, describeGlobal(*imp.Desc.Global), describeGlobal(g.Type()))
			}
			s.Globals = append(s.Globals, g)

		default:
			return errors.InvalidData(errors.PhaseInstantiate, []string{imp.Module, imp.Name}, fmt.Sprintf("unknown import kind 0x%02x", imp.Desc.Kind))
		}
	}
	return nil
}

func (s *Store) allocate(m *wasm.Module) error {
	mod := s.Module
	for i, typeIdx := range s.funcTypes {
		body := m.Code[i]
		ctl, err := buildControlMap(len(s.Funcs), body.Code)
		if err != nil {
			return err
		}
		s.Funcs = append(s.Funcs, &InternalFuncInst{
			Type:   m.Types[typeIdx].Clone(),
			Body:   body,
			Module: mod,
			ctl:    ctl,
			store:  s,
		})
	}

	for i, tt := range m.Tables {
		if tt.Limits.Min > s.cfg.MaxTableSize {
			return errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
				Path(fmt.Sprintf("table[%d]", i)).
				Value(tt.Limits.Min).
				Detail("initial size exceeds max_table_size %d", s.cfg.MaxTableSize).
				Build()
		}
		s.Tables = append(s.Tables, NewTableInst(tt))
	}

	for i, mt := range m.Memories {
		if mt.Limits.Min > s.cfg.MaxMemoryPages {
			return errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
				Path(fmt.Sprintf("memory[%d]", i)).
				Value(mt.Limits.Min).
				Detail("initial pages exceed max_memory_pages %d", s.cfg.MaxMemoryPages).
				Build()
		}
		s.Memories = append(s.Memories, NewMemoryInst(mt))
	}

	for i, g := range m.Globals {
		v, err := s.evalConst(g.Init)
		if err != nil {
			return errors.Wrap(errors.PhaseInstantiate, errors.KindInvalidData, err, fmt.Sprintf("global[%d] initializer", i))
		}
		if v.typ != g.Type.ValType {
			return errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
				Path(fmt.Sprintf("global[%d]", i)).
				Expected(g.Type.ValType.String()).
				Actual(v.typ.String()).
				Build()
		}
		s.Globals = append(s.Globals, NewGlobalInst(v, g.Type.Mutable))
	}
	return nil
}

// initElements writes active segments into their tables. Passive segments
// stay available to table.init; active and declarative ones are dropped.
func (s *Store) initElements(m *wasm.Module) error {
	s.elems = make([][]Value, len(m.Elements))
	for i, e := range m.Elements {
		refs := make([]Value, len(e.Init))
		for j, expr := range e.Init {
			v, err := s.evalConst(expr)
			if err != nil {
				return errors.Wrap(errors.PhaseInstantiate, errors.KindInvalidData, err, fmt.Sprintf("elem[%d] item %d", i, j))
			}
			refs[j] = v
		}

		switch e.Mode {
		case wasm.ElemPassive:
			s.elems[i] = refs
		case wasm.ElemActive:
			if int(e.TableIdx) >= len(s.Tables) {
				return errors.NotFound(errors.PhaseInstantiate, "table", e.TableIdx)
			}
			offset, err := s.evalOffset(e.Offset)
			if err != nil {
				return errors.Wrap(errors.PhaseInstantiate, errors.KindInvalidData, err, fmt.Sprintf("elem[%d] offset", i))
			}
			t := s.Tables[e.TableIdx]
			if uint64(offset)+uint64(len(refs)) > uint64(t.Size()) {
				return errors.Instantiation(errors.Trap(errors.TrapTableOutOfBounds))
			}
			copy(t.Elements[offset:], refs)
		}
	}
	return nil
}

// initData writes active segments into memory. Passive segments stay
// available to memory.init.
func (s *Store) initData(m *wasm.Module) error {
	s.datas = make([][]byte, len(m.Data))
	for i, d := range m.Data {
		if d.Mode == wasm.DataPassive {
			s.datas[i] = d.Init
			continue
		}
		if int(d.MemIdx) >= len(s.Memories) {
			return errors.NotFound(errors.PhaseInstantiate, "memory", d.MemIdx)
		}
		offset, err := s.evalOffset(d.Offset)
		if err != nil {
			return errors.Wrap(errors.PhaseInstantiate, errors.KindInvalidData, err, fmt.Sprintf("data[%d] offset", i))
		}
		if err := s.Memories[d.MemIdx].Write(uint64(offset), d.Init); err != nil {
			return errors.Instantiation(err)
		}
	}
	return nil
}

func (s *Store) resolveExports(m *wasm.Module) error {
	for _, exp := range m.Exports {
		var n int
		switch exp.Desc.Kind {
		case wasm.KindFunc:
			n = len(s.Funcs)
		case wasm.KindTable:
			n = len(s.Tables)
		case wasm.KindMemory:
			n = len(s.Memories)
		case wasm.KindGlobal:
			n = len(s.Globals)
		default:
			return errors.InvalidData(errors.PhaseInstantiate, []string{"export", exp.Name}, fmt.Sprintf("unknown export kind 0x%02x", exp.Desc.Kind))
		}
		if int(exp.Desc.Idx) >= n {
			return errors.NotFound(errors.PhaseInstantiate, ExternKind(exp.Desc.Kind).String(), exp.Desc.Idx)
		}
		s.Module.Exports[exp.Name] = ExternalVal{Kind: ExternKind(exp.Desc.Kind), Idx: exp.Desc.Idx}
	}
	return nil
}

// evalConst evaluates a constant expression against the globals allocated so far.
func (s *Store) evalConst(expr wasm.ConstExpr) (Value, error) {
	stack := NewStack()
	for _, in := range expr {
		switch in.Opcode {
		case wasm.OpI32Const:
			stack.Push(I32(in.Imm.(wasm.I32Imm).Value))
		case wasm.OpI64Const:
			stack.Push(I64(in.Imm.(wasm.I64Imm).Value))
		case wasm.OpF32Const:
			stack.Push(F32(in.Imm.(wasm.F32Imm).Value))
		case wasm.OpF64Const:
			stack.Push(F64(in.Imm.(wasm.F64Imm).Value))
		case wasm.OpRefNull:
			stack.Push(NullRef(in.Imm.(wasm.RefNullImm).Type))
		case wasm.OpRefFunc:
			idx := in.Imm.(wasm.RefFuncImm).FuncIdx
			ref, ok := s.funcRef(idx)
			if !ok {
				return Value{}, errors.NotFound(errors.PhaseInstantiate, "function", idx)
			}
			stack.Push(ref)
		case wasm.OpGlobalGet:
			idx := in.Imm.(wasm.GlobalImm).GlobalIdx
			if int(idx) >= len(s.Globals) {
				return Value{}, errors.NotFoundGlobalVariable(idx)
			}
			stack.Push(s.Globals[idx].Value)
		case wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul,
			wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul:
			if err := execNumeric(stack, in.Opcode); err != nil {
				return Value{}, err
			}
		case wasm.OpEnd:
			v, err := stack.Pop()
			if err != nil {
				return Value{}, err
			}
			if stack.Len() != 0 {
				return Value{}, errors.InvalidData(errors.PhaseInstantiate, nil, "constant expression leaves extra values")
			}
			return v, nil
		default:
			return Value{}, errors.InvalidData(errors.PhaseInstantiate, nil,
				fmt.Sprintf("%s is not a constant instruction", wasm.OpcodeName(in.Opcode)))
		}
	}
	return Value{}, errors.InvalidData(errors.PhaseInstantiate, nil, "constant expression missing end")
}

func (s *Store) evalOffset(expr wasm.ConstExpr) (uint32, error) {
	v, err := s.evalConst(expr)
	if err != nil {
		return 0, err
	}
	if v.typ != wasm.ValI32 {
		return 0, errors.UnexpectedStackValueType(wasm.ValI32.String(), v.typ.String())
	}
	return v.U32(), nil
}

func limitsMatch(want wasm.Limits, size uint32, max *uint32) bool {
	if size < want.Min {
		return false
	}
	if want.Max == nil {
		return true
	}
	return max != nil && *max <= *want.Max
}

func importPath(imp wasm.Import) string {
	return imp.Module + "." + imp.Name
}

func describeLimits(l wasm.Limits) string {
	if l.Max == nil {
		return fmt.Sprintf("{min %d}", l.Min)
	}
	return fmt.Sprintf("{min %d, max %d}", l.Min, *l.Max)
}

func describeTable(t wasm.TableType) string {
	return t.ElemType.String() + " " + describeLimits(t.Limits)
}

func describeGlobal(g wasm.GlobalType) string {
	if g.Mutable {
		return "mut " + g.ValType.String()
	}
	return g.ValType.String()
}

// funcRef returns a reference to function idx that carries the instance
// itself, so the reference stays callable after it is written into a table
// shared with another store.
func (s *Store) funcRef(idx uint32) (Value, bool) {
	if int(idx) >= len(s.Funcs) {
		return Value{}, false
	}
	v := FuncRef(idx)
	v.fn = s.Funcs[idx]
	return v, true
}
