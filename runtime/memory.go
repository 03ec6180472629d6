package runtime

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func (s *Store) memory(idx uint32) (*MemoryInst, error) {
	if int(idx) >= len(s.Memories) {
		return nil, errors.NotFound(errors.PhaseRuntime, "memory", idx)
	}
	return s.Memories[idx], nil
}

func (s *Store) table(idx uint32) (*TableInst, error) {
	if int(idx) >= len(s.Tables) {
		return nil, errors.NotFound(errors.PhaseRuntime, "table", idx)
	}
	return s.Tables[idx], nil
}

// loadWidth is the number of bytes each load reads.
var loadWidth = map[byte]uint32{
	wasm.OpI32Load: 4, wasm.OpI64Load: 8, wasm.OpF32Load: 4, wasm.OpF64Load: 8,
	wasm.OpI32Load8S: 1, wasm.OpI32Load8U: 1, wasm.OpI32Load16S: 2, wasm.OpI32Load16U: 2,
	wasm.OpI64Load8S: 1, wasm.OpI64Load8U: 1, wasm.OpI64Load16S: 2, wasm.OpI64Load16U: 2,
	wasm.OpI64Load32S: 4, wasm.OpI64Load32U: 4,
}

func load(store *Store, stack *Stack, op byte, imm wasm.MemoryImm) error {
	mem, err := store.memory(0)
	if err != nil {
		return err
	}
	base, err := stack.PopU32()
	if err != nil {
		return err
	}
	b, err := mem.Read(uint64(base)+uint64(imm.Offset), loadWidth[op])
	if err != nil {
		return err
	}

	var v Value
	switch op {
	case wasm.OpI32Load:
		v = I32(int32(binary.LittleEndian.Uint32(b)))
	case wasm.OpI64Load:
		v = I64(int64(binary.LittleEndian.Uint64(b)))
	case wasm.OpF32Load:
		v = F32(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case wasm.OpF64Load:
		v = F64(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	case wasm.OpI32Load8S:
		v = I32(int32(int8(b[0])))
	case wasm.OpI32Load8U:
		v = I32(int32(b[0]))
	case wasm.OpI32Load16S:
		v = I32(int32(int16(binary.LittleEndian.Uint16(b))))
	case wasm.OpI32Load16U:
		v = I32(int32(binary.LittleEndian.Uint16(b)))
	case wasm.OpI64Load8S:
		v = I64(int64(int8(b[0])))
	case wasm.OpI64Load8U:
		v = I64(int64(b[0]))
	case wasm.OpI64Load16S:
		v = I64(int64(int16(binary.LittleEndian.Uint16(b))))
	case wasm.OpI64Load16U:
		v = I64(int64(binary.LittleEndian.Uint16(b)))
	case wasm.OpI64Load32S:
		v = I64(int64(int32(binary.LittleEndian.Uint32(b))))
	case wasm.OpI64Load32U:
		v = I64(int64(binary.LittleEndian.Uint32(b)))
	}
	stack.Push(v)
	return nil
}

func storeOp(store *Store, stack *Stack, op byte, imm wasm.MemoryImm) error {
	mem, err := store.memory(0)
	if err != nil {
		return err
	}

	var buf [8]byte
	var b []byte
	switch op {
	case wasm.OpI32Store, wasm.OpI32Store8, wasm.OpI32Store16:
		v, err := stack.PopU32()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[:], v)
		b = buf[:storeWidth(op)]
	case wasm.OpI64Store, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		v, err := stack.PopI64()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		b = buf[:storeWidth(op)]
	case wasm.OpF32Store:
		v, err := stack.PopF32()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		b = buf[:4]
	case wasm.OpF64Store:
		v, err := stack.PopF64()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		b = buf[:8]
	}

	base, err := stack.PopU32()
	if err != nil {
		return err
	}
	return mem.Write(uint64(base)+uint64(imm.Offset), b)
}

func storeWidth(op byte) int {
	switch op {
	case wasm.OpI32Store8, wasm.OpI64Store8:
		return 1
	case wasm.OpI32Store16, wasm.OpI64Store16:
		return 2
	case wasm.OpI32Store, wasm.OpI64Store32:
		return 4
	}
	return 8
}

func memorySize(store *Store, stack *Stack, idx uint32) error {
	mem, err := store.memory(idx)
	if err != nil {
		return err
	}
	stack.Push(I32(int32(mem.Pages())))
	return nil
}

// memoryGrow pushes the previous page count, or -1 when the memory cannot
// grow by the requested delta.
func memoryGrow(store *Store, stack *Stack, idx uint32) error {
	mem, err := store.memory(idx)
	if err != nil {
		return err
	}
	delta, err := stack.PopU32()
	if err != nil {
		return err
	}
	old, ok := mem.Grow(delta, store.cfg.MaxMemoryPages)
	if !ok {
		stack.Push(I32(-1))
		return nil
	}
	stack.Push(I32(int32(old)))
	return nil
}

func tableGet(store *Store, stack *Stack, idx uint32) error {
	t, err := store.table(idx)
	if err != nil {
		return err
	}
	i, err := stack.PopU32()
	if err != nil {
		return err
	}
	v, err := t.Get(i)
	if err != nil {
		return err
	}
	stack.Push(v)
	return nil
}

func tableSet(store *Store, stack *Stack, idx uint32) error {
	t, err := store.table(idx)
	if err != nil {
		return err
	}
	v, err := stack.PopRef()
	if err != nil {
		return err
	}
	i, err := stack.PopU32()
	if err != nil {
		return err
	}
	return t.Set(i, v)
}
