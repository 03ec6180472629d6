package wasm

import (
	"bytes"
	"fmt"
	"math"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// Instruction is one decoded instruction. Imm holds the typed immediate for
// opcodes that carry one and is nil otherwise.
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type of block, loop and if.
// Negative values are the shorthands in constants.go, others are type indices.
type BlockImm struct {
	Type int32
}

// BranchImm holds the label index for br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds the type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set and local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// TableImm holds the table index for table.get and table.set.
type TableImm struct {
	TableIdx uint32
}

// MemoryImm is the memarg of loads and stores.
type MemoryImm struct {
	Align  uint32
	Offset uint32
}

// MemoryIdxImm holds the memory index of memory.size and memory.grow.
type MemoryIdxImm struct {
	MemIdx uint32
}

type I32Imm struct {
	Value int32
}

type I64Imm struct {
	Value int64
}

type F32Imm struct {
	Value float32
}

type F64Imm struct {
	Value float64
}

// RefNullImm holds the reference type of ref.null.
type RefNullImm struct {
	Type ValType
}

// RefFuncImm holds the function index of ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds the result types of a typed select.
type SelectTypeImm struct {
	Types []ValType
}

// MiscImm holds the sub-opcode and index operands of 0xFC instructions.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

func (i Instruction) String() string {
	name := OpcodeName(i.Opcode)
	if m, ok := i.Imm.(MiscImm); ok {
		name = MiscOpcodeName(m.SubOpcode)
		if len(m.Operands) > 0 {
			return fmt.Sprintf("%s %v", name, m.Operands)
		}
		return name
	}
	if i.Imm == nil {
		return name
	}
	return fmt.Sprintf("%s %+v", name, i.Imm)
}

// DecodeInstructions decodes a raw instruction sequence.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	br := bytes.NewReader(code)
	r := binary.NewReader(br)
	instrs := make([]Instruction, 0, len(code)/2)
	for br.Len() > 0 {
		instr, err := readInstruction(r)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

// readExpr reads instructions up to and including the end that closes the
// expression.
func readExpr(r *binary.Reader) ([]Instruction, error) {
	var instrs []Instruction
	depth := 0
	for {
		instr, err := readInstruction(r)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
		switch instr.Opcode {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			if depth == 0 {
				return instrs, nil
			}
			depth--
		}
	}
}

func readInstruction(r *binary.Reader) (Instruction, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	instr := Instruction{Opcode: op}

	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull:

	case OpBlock, OpLoop, OpIf:
		bt, err := r.ReadS33()
		if err != nil {
			return instr, err
		}
		if bt > math.MaxInt32 {
			return instr, fmt.Errorf("block type index %d: %w", bt, binary.ErrOverflow)
		}
		instr.Imm = BlockImm{Type: int32(bt)}

	case OpBr, OpBrIf:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BranchImm{LabelIdx: idx}

	case OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		labels := make([]uint32, 0, min(count, 1024))
		for i := uint32(0); i < count; i++ {
			l, err := r.ReadU32()
			if err != nil {
				return instr, err
			}
			labels = append(labels, l)
		}
		def, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case OpSelectType:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		types := make([]ValType, 0, min(count, 16))
		for i := uint32(0); i < count; i++ {
			t, err := readValType(r)
			if err != nil {
				return instr, err
			}
			types = append(types, t)
		}
		instr.Imm = SelectTypeImm{Types: types}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpTableGet, OpTableSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = TableImm{TableIdx: idx}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		memImm, err := readMemArg(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = memImm

	case OpMemorySize, OpMemoryGrow:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = MemoryIdxImm{MemIdx: idx}

	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return instr, err
		}
		instr.Imm = I32Imm{Value: v}

	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = I64Imm{Value: v}

	case OpF32Const:
		v, err := r.ReadF32()
		if err != nil {
			return instr, err
		}
		instr.Imm = F32Imm{Value: v}

	case OpF64Const:
		v, err := r.ReadF64()
		if err != nil {
			return instr, err
		}
		instr.Imm = F64Imm{Value: v}

	case OpRefNull:
		t, err := readValType(r)
		if err != nil {
			return instr, err
		}
		if !t.IsRef() {
			return instr, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("ref.null of non-reference type 0x%02x", byte(t)))
		}
		instr.Imm = RefNullImm{Type: t}

	case OpRefFunc:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = RefFuncImm{FuncIdx: idx}

	case OpPrefixMisc:
		imm, err := readMiscImmediate(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = imm

	case opPrefixGC:
		return instr, errors.Unsupported(errors.PhaseDecode, "gc instructions")
	case opPrefixSIMD:
		return instr, errors.Unsupported(errors.PhaseDecode, "simd instructions")
	case opPrefixAtomic:
		return instr, errors.Unsupported(errors.PhaseDecode, "atomic instructions")

	default:
		if isProposalOpcode(op) {
			return instr, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("opcode 0x%02x", op))
		}
		if op < OpI32Eqz || op > OpI64Extend32S {
			return instr, errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("unknown opcode 0x%02x", op))
		}
		// numeric instructions have no immediate
	}
	return instr, nil
}

// isProposalOpcode reports single-byte opcodes of exception handling, tail
// calls and typed function references.
func isProposalOpcode(op byte) bool {
	switch op {
	case 0x06, 0x07, 0x08, 0x09, 0x0A, 0x12, 0x13, 0x14, 0x15, 0x18, 0x19, 0x1F,
		0xD3, 0xD4, 0xD5, 0xD6:
		return true
	}
	return false
}

func readMemArg(r *binary.Reader) (MemoryImm, error) {
	align, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}
	if align&0x40 != 0 {
		return MemoryImm{}, errors.Unsupported(errors.PhaseDecode, "multi-memory memarg")
	}
	offset, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Align: align, Offset: offset}, nil
}

// miscOperandCount is the number of u32 index operands per 0xFC sub-opcode.
var miscOperandCount = map[uint32]int{
	MiscI32TruncSatF32S: 0,
	MiscI32TruncSatF32U: 0,
	MiscI32TruncSatF64S: 0,
	MiscI32TruncSatF64U: 0,
	MiscI64TruncSatF32S: 0,
	MiscI64TruncSatF32U: 0,
	MiscI64TruncSatF64S: 0,
	MiscI64TruncSatF64U: 0,
	MiscMemoryInit:      2, // dataidx, memidx
	MiscDataDrop:        1,
	MiscMemoryCopy:      2, // dst, src
	MiscMemoryFill:      1,
	MiscTableInit:       2, // elemidx, tableidx
	MiscElemDrop:        1,
	MiscTableCopy:       2, // dst, src
	MiscTableGrow:       1,
	MiscTableSize:       1,
	MiscTableFill:       1,
}

func readMiscImmediate(r *binary.Reader) (MiscImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}
	n, ok := miscOperandCount[sub]
	if !ok {
		return MiscImm{}, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("0xfc sub-opcode 0x%02x", sub))
	}
	imm := MiscImm{SubOpcode: sub}
	if n > 0 {
		imm.Operands = make([]uint32, n)
		for i := range imm.Operands {
			imm.Operands[i], err = r.ReadU32()
			if err != nil {
				return MiscImm{}, err
			}
		}
	}
	return imm, nil
}

// EncodeInstructions encodes an instruction sequence.
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	writeInstructions(w, instrs)
	return w.Bytes()
}

func writeInstructions(w *binary.Writer, instrs []Instruction) {
	for i := range instrs {
		writeInstruction(w, &instrs[i])
	}
}

func writeInstruction(w *binary.Writer, instr *Instruction) {
	w.Byte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		w.WriteS64(int64(imm.Type))
	case BranchImm:
		w.WriteU32(imm.LabelIdx)
	case BrTableImm:
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case CallIndirectImm:
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(imm.TableIdx)
	case SelectTypeImm:
		w.WriteU32(uint32(len(imm.Types)))
		for _, t := range imm.Types {
			w.Byte(byte(t))
		}
	case LocalImm:
		w.WriteU32(imm.LocalIdx)
	case GlobalImm:
		w.WriteU32(imm.GlobalIdx)
	case TableImm:
		w.WriteU32(imm.TableIdx)
	case MemoryImm:
		w.WriteU32(imm.Align)
		w.WriteU32(imm.Offset)
	case MemoryIdxImm:
		w.WriteU32(imm.MemIdx)
	case I32Imm:
		w.WriteS32(imm.Value)
	case I64Imm:
		w.WriteS64(imm.Value)
	case F32Imm:
		w.WriteF32(imm.Value)
	case F64Imm:
		w.WriteF64(imm.Value)
	case RefNullImm:
		w.Byte(byte(imm.Type))
	case RefFuncImm:
		w.WriteU32(imm.FuncIdx)
	case MiscImm:
		w.WriteU32(imm.SubOpcode)
		for _, o := range imm.Operands {
			w.WriteU32(o)
		}
	}
}
