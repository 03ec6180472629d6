package wasm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// Header errors returned by Decode. Match them with errors.Is.
var (
	ErrInvalidMagic   = &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidMagic}
	ErrInvalidVersion = &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidVersion}
)

var sectionNames = [...]string{
	SectionCustom:    "custom",
	SectionType:      "type",
	SectionImport:    "import",
	SectionFunction:  "function",
	SectionTable:     "table",
	SectionMemory:    "memory",
	SectionGlobal:    "global",
	SectionExport:    "export",
	SectionStart:     "start",
	SectionElement:   "element",
	SectionCode:      "code",
	SectionData:      "data",
	SectionDataCount: "data count",
}

// SectionName returns the name of a known section id.
func SectionName(id byte) string {
	if int(id) < len(sectionNames) {
		return sectionNames[id]
	}
	return fmt.Sprintf("section 0x%02x", id)
}

// Decoder reads a module from a byte stream.
type Decoder struct {
	br *bufio.Reader
	r  *binary.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	br := bufio.NewReader(r)
	return &Decoder{br: br, r: binary.NewReader(br)}
}

// ParseModule decodes a module held in memory.
func ParseModule(data []byte) (*Module, error) {
	return NewDecoder(bytes.NewReader(data)).Decode()
}

// Decode reads the header and every section until the input is exhausted.
// No partial module is returned on error.
func (d *Decoder) Decode() (*Module, error) {
	if err := d.decodeHeader(); err != nil {
		return nil, err
	}

	m := &Module{}
	for d.more() {
		id, size, err := d.decodeSectionHeader()
		if err != nil {
			return nil, err
		}
		path := []string{SectionName(id)}

		payload, err := d.r.ReadBytes(int(size))
		if err != nil {
			return nil, decodeError(path, err)
		}

		pr := bytes.NewReader(payload)
		if err := decodeSection(id, binary.NewReader(pr), m); err != nil {
			return nil, decodeError(path, err)
		}
		if pr.Len() > 0 {
			return nil, errors.InvalidData(errors.PhaseDecode, path,
				fmt.Sprintf("%d unconsumed bytes at end of section", pr.Len()))
		}
	}
	return m, nil
}

func (d *Decoder) decodeHeader() error {
	magic, err := d.r.ReadBytes(4)
	if err != nil {
		return errors.New(errors.PhaseDecode, errors.KindInvalidMagic).
			Path("header", "magic").Detail("read magic").Cause(err).Build()
	}
	if !bytes.Equal(magic, []byte{0x00, 'a', 's', 'm'}) {
		return errors.New(errors.PhaseDecode, errors.KindInvalidMagic).
			Path("header", "magic").Expected(`"\x00asm"`).Actual(fmt.Sprintf("%q", magic)).Build()
	}

	version, err := d.r.ReadU32LE()
	if err != nil {
		return errors.New(errors.PhaseDecode, errors.KindInvalidVersion).
			Path("header", "version").Detail("read version").Cause(err).Build()
	}
	if version != Version {
		return errors.New(errors.PhaseDecode, errors.KindInvalidVersion).
			Path("header", "version").Expected("1").Actual(fmt.Sprint(version)).Value(version).Build()
	}
	return nil
}

func (d *Decoder) decodeSectionHeader() (byte, uint32, error) {
	id, err := d.r.ReadByte()
	if err != nil {
		return 0, 0, decodeError([]string{"section header"}, err)
	}
	if id > SectionDataCount {
		return 0, 0, errors.UnknownSection(id)
	}
	size, err := d.r.ReadU32()
	if err != nil {
		return 0, 0, decodeError([]string{SectionName(id), "size"}, err)
	}
	return id, size, nil
}

// more reports whether any input remains. Peek only blocks until one byte is
// available or the stream ends.
func (d *Decoder) more() bool {
	_, err := d.br.Peek(1)
	return err == nil
}

// decodeError converts byte-level failures into structured decode errors.
func decodeError(path []string, err error) error {
	var e *errors.Error
	if errors.As(err, &e) {
		if len(e.Path) == 0 {
			e.Path = path
		}
		return e
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return errors.Truncated(path, err)
	case errors.Is(err, binary.ErrOverflow):
		return errors.New(errors.PhaseDecode, errors.KindOverflow).
			Path(path...).Expected("u32").Detail("integer too large").Cause(err).Build()
	default:
		return errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path(path...).Cause(err).Build()
	}
}

func decodeSection(id byte, r *binary.Reader, m *Module) error {
	switch id {
	case SectionCustom:
		return decodeCustomSection(r, m)
	case SectionType:
		return decodeTypeSection(r, m)
	case SectionImport:
		return decodeImportSection(r, m)
	case SectionFunction:
		return decodeFunctionSection(r, m)
	case SectionTable:
		return decodeTableSection(r, m)
	case SectionMemory:
		return decodeMemorySection(r, m)
	case SectionGlobal:
		return decodeGlobalSection(r, m)
	case SectionExport:
		return decodeExportSection(r, m)
	case SectionStart:
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Start = &idx
		return nil
	case SectionElement:
		return decodeElementSection(r, m)
	case SectionCode:
		return decodeCodeSection(r, m)
	case SectionData:
		return decodeDataSection(r, m)
	case SectionDataCount:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.DataCount = &n
		return nil
	}
	return errors.UnknownSection(id)
}

// vecCap bounds preallocation so a forged count cannot force a huge allocation.
func vecCap(count uint32) int {
	return int(min(count, 4096))
}

func decodeCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	var data []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			break
		}
		data = append(data, b)
	}
	if m.CustomSections == nil {
		m.CustomSections = []CustomSection{}
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func decodeTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	types := make([]FuncType, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			if form == 0x4E || form == 0x50 || form == 0x4F || form == 0x5F || form == 0x5E {
				return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("gc type form 0x%02x", form))
			}
			return fmt.Errorf("type %d: expected functype 0x60, got 0x%02x", i, form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d params: %w", i, err)
		}
		results, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d results: %w", i, err)
		}
		types = append(types, FuncType{Params: params, Results: results})
	}
	m.Types = types
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	types := make([]ValType, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		t, err := readValType(r)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	t := ValType(b)
	switch t {
	case ValI32, ValI64, ValF32, ValF64, ValFuncRef, ValExtern:
		return t, nil
	case valV128:
		return 0, errors.Unsupported(errors.PhaseDecode, "v128 value type")
	case valRefNull, valRef, valAnyRef, valEqRef, valStructRef, valNullFunc, valNullExtern:
		return 0, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("gc reference type 0x%02x", b))
	}
	return 0, fmt.Errorf("invalid value type 0x%02x", b)
}

func decodeImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	imports := make([]Import, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
		case KindTable:
			var t TableType
			t, err = readTableType(r)
			imp.Desc.Table = &t
		case KindMemory:
			var mt MemoryType
			mt, err = readMemoryType(r)
			imp.Desc.Memory = &mt
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			imp.Desc.Global = &g
		case 4:
			return errors.Unsupported(errors.PhaseDecode, "tag imports")
		default:
			return fmt.Errorf("import %s.%s: unknown kind 0x%02x", module, name, kind)
		}
		if err != nil {
			return fmt.Errorf("import %s.%s: %w", module, name, err)
		}
		imports = append(imports, imp)
	}
	m.Imports = imports
	return nil
}

func decodeFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	funcs := make([]uint32, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		funcs = append(funcs, idx)
	}
	m.Funcs = funcs
	return nil
}

func decodeTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	tables := make([]TableType, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		t, err := readTableType(r)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}
	m.Tables = tables
	return nil
}

func decodeMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	mems := make([]MemoryType, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		mt, err := readMemoryType(r)
		if err != nil {
			return err
		}
		mems = append(mems, mt)
	}
	m.Memories = mems
	return nil
}

func decodeGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	globals := make([]Global, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readExpr(r)
		if err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		globals = append(globals, Global{Type: gt, Init: init})
	}
	m.Globals = globals
	return nil
}

func decodeExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	exports := make([]Export, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("export %q: unknown kind 0x%02x", name, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		exports = append(exports, Export{Name: name, Desc: ExportDesc{Kind: kind, Idx: idx}})
	}
	m.Exports = exports
	return nil
}

func decodeElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	elems := make([]Element, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		elem, err := readElement(r)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		elems = append(elems, elem)
	}
	m.Elements = elems
	return nil
}

// readElement decodes one element segment. Flag bit 0 selects passive or
// declarative, bit 1 an explicit table index (active) or declarative
// (otherwise), bit 2 expression entries instead of function indices.
func readElement(r *binary.Reader) (Element, error) {
	flags, err := r.ReadU32()
	if err != nil {
		return Element{}, err
	}
	if flags > 7 {
		return Element{}, fmt.Errorf("invalid element segment flags %d", flags)
	}
	f := byte(flags)
	elem := Element{Type: ValFuncRef}

	switch {
	case f&elemFlagPassiveOrDeclarative == 0:
		elem.Mode = ElemActive
	case f&elemFlagExplicitTable != 0:
		elem.Mode = ElemDeclarative
	default:
		elem.Mode = ElemPassive
	}
	usesExprs := f&elemFlagExprs != 0

	if elem.Mode == ElemActive {
		if f&elemFlagExplicitTable != 0 {
			if elem.TableIdx, err = r.ReadU32(); err != nil {
				return Element{}, err
			}
		}
		if elem.Offset, err = readExpr(r); err != nil {
			return Element{}, err
		}
	}

	// Flags 1-3 carry an elemkind byte, 5-7 a reference type.
	if f&0x03 != 0 {
		if usesExprs {
			if elem.Type, err = readValType(r); err != nil {
				return Element{}, err
			}
			if !elem.Type.IsRef() {
				return Element{}, fmt.Errorf("element type %s is not a reference type", elem.Type)
			}
		} else {
			kind, err := r.ReadByte()
			if err != nil {
				return Element{}, err
			}
			if kind != 0x00 {
				return Element{}, fmt.Errorf("invalid elemkind 0x%02x", kind)
			}
		}
	}

	n, err := r.ReadU32()
	if err != nil {
		return Element{}, err
	}
	elem.Init = make([]ConstExpr, 0, vecCap(n))
	for j := uint32(0); j < n; j++ {
		if usesExprs {
			expr, err := readExpr(r)
			if err != nil {
				return Element{}, err
			}
			elem.Init = append(elem.Init, expr)
			continue
		}
		idx, err := r.ReadU32()
		if err != nil {
			return Element{}, err
		}
		elem.Init = append(elem.Init, ConstExpr{
			{Opcode: OpRefFunc, Imm: RefFuncImm{FuncIdx: idx}},
			{Opcode: OpEnd},
		})
	}
	return elem, nil
}

func decodeCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	code := make([]FunctionBody, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		data, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		body, err := decodeFunctionBody(data)
		if err != nil {
			return fmt.Errorf("function body %d: %w", i, err)
		}
		code = append(code, body)
	}
	m.Code = code
	return nil
}

func decodeFunctionBody(data []byte) (FunctionBody, error) {
	br := bytes.NewReader(data)
	r := binary.NewReader(br)

	groups, err := r.ReadU32()
	if err != nil {
		return FunctionBody{}, err
	}
	locals := []ValType{}
	var total uint64
	for j := uint32(0); j < groups; j++ {
		n, err := r.ReadU32()
		if err != nil {
			return FunctionBody{}, err
		}
		t, err := readValType(r)
		if err != nil {
			return FunctionBody{}, err
		}
		total += uint64(n)
		if total > 50000 {
			return FunctionBody{}, fmt.Errorf("too many locals: %d", total)
		}
		for k := uint32(0); k < n; k++ {
			locals = append(locals, t)
		}
	}

	instrs := make([]Instruction, 0, br.Len()/2)
	for br.Len() > 0 {
		instr, err := readInstruction(r)
		if err != nil {
			return FunctionBody{}, fmt.Errorf("at offset %d: %w", r.Position(), err)
		}
		instrs = append(instrs, instr)
	}
	if len(instrs) == 0 || instrs[len(instrs)-1].Opcode != OpEnd {
		return FunctionBody{}, fmt.Errorf("function body does not end with end")
	}
	return FunctionBody{Locals: locals, Code: instrs}, nil
}

func decodeDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	segs := make([]DataSegment, 0, vecCap(count))
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("data segment %d: invalid flags %d", i, flags)
		}

		seg := DataSegment{Mode: DataActive}
		if flags == 1 {
			seg.Mode = DataPassive
		}
		if flags == 2 {
			if seg.MemIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if seg.Mode == DataActive {
			if seg.Offset, err = readExpr(r); err != nil {
				return fmt.Errorf("data segment %d offset: %w", i, err)
			}
		}

		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		if seg.Init, err = r.ReadBytes(int(n)); err != nil {
			return err
		}
		segs = append(segs, seg)
	}
	m.Data = segs
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	switch flags {
	case LimitsNoMax, LimitsHasMax:
	case 0x02, 0x03:
		return Limits{}, errors.Unsupported(errors.PhaseDecode, "shared memory")
	case 0x04, 0x05, 0x06, 0x07:
		return Limits{}, errors.Unsupported(errors.PhaseDecode, "64-bit memory")
	default:
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}

	var l Limits
	if l.Min, err = r.ReadU32(); err != nil {
		return Limits{}, err
	}
	if flags == LimitsHasMax {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		if l.Min > maxVal {
			return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, maxVal)
		}
		l.Max = &maxVal
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	t, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if !t.IsRef() {
		return TableType{}, fmt.Errorf("table element type %s is not a reference type", t)
	}
	l, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: t, Limits: l}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	l, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	if l.Min > MaxPages || (l.Max != nil && *l.Max > MaxPages) {
		return MemoryType{}, fmt.Errorf("memory size must be at most %d pages", MaxPages)
	}
	return MemoryType{Limits: l}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	t, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: t, Mutable: mut == 1}, nil
}
