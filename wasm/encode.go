package wasm

import (
	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// Encode writes the module in binary format. Sections are emitted in
// canonical order when present (non-nil), custom sections last.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if m.Types != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	if m.Imports != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec.WriteU32(imp.Desc.TypeIdx)
			case KindTable:
				writeTableType(sec, *imp.Desc.Table)
			case KindMemory:
				writeLimits(sec, imp.Desc.Memory.Limits)
			case KindGlobal:
				writeGlobalType(sec, *imp.Desc.Global)
			}
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	if m.Funcs != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	if m.Tables != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
		writeSection(w, SectionTable, sec.Bytes())
	}

	if m.Memories != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	if m.Globals != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			writeInstructions(sec, g.Init)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	if m.Exports != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Desc.Kind)
			sec.WriteU32(exp.Desc.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		writeSection(w, SectionStart, sec.Bytes())
	}

	if m.Elements != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Elements)))
		for i := range m.Elements {
			writeElement(sec, &m.Elements[i])
		}
		writeSection(w, SectionElement, sec.Bytes())
	}

	if m.DataCount != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.DataCount)
		writeSection(w, SectionDataCount, sec.Bytes())
	}

	if m.Code != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			bw := binary.NewWriter()
			writeLocals(bw, body.Locals)
			writeInstructions(bw, body.Code)
			sec.WriteU32(uint32(bw.Len()))
			sec.WriteBytes(bw.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	if m.Data != nil {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, seg := range m.Data {
			switch {
			case seg.Mode == DataPassive:
				sec.WriteU32(1)
			case seg.MemIdx != 0:
				sec.WriteU32(2)
				sec.WriteU32(seg.MemIdx)
				writeInstructions(sec, seg.Offset)
			default:
				sec.WriteU32(0)
				writeInstructions(sec, seg.Offset)
			}
			sec.WriteU32(uint32(len(seg.Init)))
			sec.WriteBytes(seg.Init)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

// writeLocals run-length encodes consecutive locals of the same type.
func writeLocals(w *binary.Writer, locals []ValType) {
	type group struct {
		n uint32
		t ValType
	}
	var groups []group
	for _, t := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == t {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{n: 1, t: t})
	}
	w.WriteU32(uint32(len(groups)))
	for _, g := range groups {
		w.WriteU32(g.n)
		w.Byte(byte(g.t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max != nil {
		w.Byte(LimitsHasMax)
		w.WriteU32(l.Min)
		w.WriteU32(*l.Max)
		return
	}
	w.Byte(LimitsNoMax)
	w.WriteU32(l.Min)
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// elemFlags picks the most compact encoding that can represent the segment.
func elemFlags(e *Element) uint32 {
	var flags uint32
	switch e.Mode {
	case ElemPassive:
		flags = 1
	case ElemDeclarative:
		flags = 3
	default:
		if e.TableIdx != 0 || e.Type != ValFuncRef {
			flags = 2
		}
	}
	if e.Type != ValFuncRef {
		return flags | 4
	}
	for _, expr := range e.Init {
		if _, ok := refFuncIndex(expr); !ok {
			return flags | 4
		}
	}
	return flags
}

// refFuncIndex reports whether expr is exactly ref.func idx; end.
func refFuncIndex(expr ConstExpr) (uint32, bool) {
	if len(expr) != 2 || expr[0].Opcode != OpRefFunc || expr[1].Opcode != OpEnd {
		return 0, false
	}
	imm, ok := expr[0].Imm.(RefFuncImm)
	return imm.FuncIdx, ok
}

func writeElement(w *binary.Writer, e *Element) {
	flags := elemFlags(e)
	w.WriteU32(flags)
	if flags&0x01 == 0 {
		if flags&0x02 != 0 {
			w.WriteU32(e.TableIdx)
		}
		writeInstructions(w, e.Offset)
	}
	usesExprs := flags&0x04 != 0
	if flags&0x03 != 0 {
		if usesExprs {
			w.Byte(byte(e.Type))
		} else {
			w.Byte(0x00)
		}
	}
	w.WriteU32(uint32(len(e.Init)))
	for _, expr := range e.Init {
		if usesExprs {
			writeInstructions(w, expr)
			continue
		}
		idx, _ := refFuncIndex(expr)
		w.WriteU32(idx)
	}
}
