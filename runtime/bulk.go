package runtime

import (
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// execMisc runs a 0xFC instruction: saturating truncation and the bulk
// memory and table operations.
func execMisc(store *Store, stack *Stack, imm wasm.MiscImm) error {
	switch imm.SubOpcode {
	case wasm.MiscI32TruncSatF32S, wasm.MiscI32TruncSatF32U, wasm.MiscI64TruncSatF32S, wasm.MiscI64TruncSatF32U:
		f, err := stack.PopF32()
		if err != nil {
			return err
		}
		stack.Push(truncSat(f, imm.SubOpcode%2 == 0, imm.SubOpcode >= wasm.MiscI64TruncSatF32S))
		return nil
	case wasm.MiscI32TruncSatF64S, wasm.MiscI32TruncSatF64U, wasm.MiscI64TruncSatF64S, wasm.MiscI64TruncSatF64U:
		f, err := stack.PopF64()
		if err != nil {
			return err
		}
		stack.Push(truncSat(f, imm.SubOpcode%2 == 0, imm.SubOpcode >= wasm.MiscI64TruncSatF32S))
		return nil
	case wasm.MiscMemoryInit:
		return memoryInit(store, stack, imm.Operands[0], imm.Operands[1])
	case wasm.MiscDataDrop:
		if int(imm.Operands[0]) >= len(store.datas) {
			return errors.NotFound(errors.PhaseRuntime, "data segment", imm.Operands[0])
		}
		store.datas[imm.Operands[0]] = nil
		return nil
	case wasm.MiscMemoryCopy:
		return memoryCopy(store, stack, imm.Operands[0], imm.Operands[1])
	case wasm.MiscMemoryFill:
		return memoryFill(store, stack, imm.Operands[0])
	case wasm.MiscTableInit:
		return tableInit(store, stack, imm.Operands[0], imm.Operands[1])
	case wasm.MiscElemDrop:
		if int(imm.Operands[0]) >= len(store.elems) {
			return errors.NotFound(errors.PhaseRuntime, "element segment", imm.Operands[0])
		}
		store.elems[imm.Operands[0]] = nil
		return nil
	case wasm.MiscTableCopy:
		return tableCopy(store, stack, imm.Operands[0], imm.Operands[1])
	case wasm.MiscTableGrow:
		return tableGrow(store, stack, imm.Operands[0])
	case wasm.MiscTableSize:
		t, err := store.table(imm.Operands[0])
		if err != nil {
			return err
		}
		stack.Push(I32(int32(t.Size())))
		return nil
	case wasm.MiscTableFill:
		return tableFill(store, stack, imm.Operands[0])
	}
	return errors.Unsupported(errors.PhaseRuntime, fmt.Sprintf("0xfc sub-opcode 0x%02x", imm.SubOpcode))
}

// popRange pops the d, s, n operand triple shared by the init and copy
// instructions, n topmost.
func popRange(stack *Stack) (d, s, n uint32, err error) {
	if n, err = stack.PopU32(); err != nil {
		return
	}
	if s, err = stack.PopU32(); err != nil {
		return
	}
	d, err = stack.PopU32()
	return
}

func inBounds(offset, n uint32, size int) bool {
	return uint64(offset)+uint64(n) <= uint64(size)
}

func memoryInit(store *Store, stack *Stack, dataIdx, memIdx uint32) error {
	mem, err := store.memory(memIdx)
	if err != nil {
		return err
	}
	if int(dataIdx) >= len(store.datas) {
		return errors.NotFound(errors.PhaseRuntime, "data segment", dataIdx)
	}
	d, s, n, err := popRange(stack)
	if err != nil {
		return err
	}
	data := store.datas[dataIdx]
	if !inBounds(s, n, len(data)) || !inBounds(d, n, len(mem.Data)) {
		return errors.Trap(errors.TrapMemoryOutOfBounds)
	}
	copy(mem.Data[d:], data[s:s+n])
	return nil
}

func memoryCopy(store *Store, stack *Stack, dstIdx, srcIdx uint32) error {
	dst, err := store.memory(dstIdx)
	if err != nil {
		return err
	}
	src, err := store.memory(srcIdx)
	if err != nil {
		return err
	}
	d, s, n, err := popRange(stack)
	if err != nil {
		return err
	}
	if !inBounds(s, n, len(src.Data)) || !inBounds(d, n, len(dst.Data)) {
		return errors.Trap(errors.TrapMemoryOutOfBounds)
	}
	copy(dst.Data[d:d+n], src.Data[s:s+n])
	return nil
}

func memoryFill(store *Store, stack *Stack, memIdx uint32) error {
	mem, err := store.memory(memIdx)
	if err != nil {
		return err
	}
	n, err := stack.PopU32()
	if err != nil {
		return err
	}
	val, err := stack.PopU32()
	if err != nil {
		return err
	}
	d, err := stack.PopU32()
	if err != nil {
		return err
	}
	if !inBounds(d, n, len(mem.Data)) {
		return errors.Trap(errors.TrapMemoryOutOfBounds)
	}
	region := mem.Data[d : d+n]
	for i := range region {
		region[i] = byte(val)
	}
	return nil
}

func tableInit(store *Store, stack *Stack, elemIdx, tableIdx uint32) error {
	t, err := store.table(tableIdx)
	if err != nil {
		return err
	}
	if int(elemIdx) >= len(store.elems) {
		return errors.NotFound(errors.PhaseRuntime, "element segment", elemIdx)
	}
	d, s, n, err := popRange(stack)
	if err != nil {
		return err
	}
	elem := store.elems[elemIdx]
	if !inBounds(s, n, len(elem)) || !inBounds(d, n, len(t.Elements)) {
		return errors.Trap(errors.TrapTableOutOfBounds)
	}
	copy(t.Elements[d:], elem[s:s+n])
	return nil
}

func tableCopy(store *Store, stack *Stack, dstIdx, srcIdx uint32) error {
	dst, err := store.table(dstIdx)
	if err != nil {
		return err
	}
	src, err := store.table(srcIdx)
	if err != nil {
		return err
	}
	d, s, n, err := popRange(stack)
	if err != nil {
		return err
	}
	if !inBounds(s, n, len(src.Elements)) || !inBounds(d, n, len(dst.Elements)) {
		return errors.Trap(errors.TrapTableOutOfBounds)
	}
	copy(dst.Elements[d:d+n], src.Elements[s:s+n])
	return nil
}

// tableGrow pushes the previous size, or -1 when the table cannot grow.
func tableGrow(store *Store, stack *Stack, idx uint32) error {
	t, err := store.table(idx)
	if err != nil {
		return err
	}
	n, err := stack.PopU32()
	if err != nil {
		return err
	}
	init, err := stack.PopType(t.ElemType)
	if err != nil {
		return err
	}
	old, ok := t.Grow(n, store.cfg.MaxTableSize, init)
	if !ok {
		stack.Push(I32(-1))
		return nil
	}
	stack.Push(I32(int32(old)))
	return nil
}

func tableFill(store *Store, stack *Stack, idx uint32) error {
	t, err := store.table(idx)
	if err != nil {
		return err
	}
	n, err := stack.PopU32()
	if err != nil {
		return err
	}
	val, err := stack.PopType(t.ElemType)
	if err != nil {
		return err
	}
	i, err := stack.PopU32()
	if err != nil {
		return err
	}
	if !inBounds(i, n, len(t.Elements)) {
		return errors.Trap(errors.TrapTableOutOfBounds)
	}
	for j := i; j < i+n; j++ {
		t.Elements[j] = val
	}
	return nil
}
