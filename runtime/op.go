package runtime

import (
	"math/bits"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// localGet pushes a copy of locals[idx].
func localGet(locals []Value, stack *Stack, idx uint32) error {
	if int(idx) >= len(locals) {
		return errors.NotFoundLocalVariable(idx)
	}
	stack.Push(locals[idx])
	return nil
}

// localSet pops a value into locals[idx], growing locals with I32(0) up to
// and including idx when needed.
func localSet(locals *[]Value, stack *Stack, idx uint32) error {
	v, err := stack.Pop()
	if err != nil {
		return err
	}
	if n := int(idx) + 1; n > len(*locals) {
		grown := make([]Value, n-len(*locals))
		for i := range grown {
			grown[i] = I32(0)
		}
		*locals = append(*locals, grown...)
	}
	(*locals)[idx] = v
	return nil
}

// localTee stores the top value into locals[idx] and leaves it on the stack.
func localTee(locals *[]Value, stack *Stack, idx uint32) error {
	v, err := stack.Pop()
	if err != nil {
		return err
	}
	stack.Push(v)
	stack.Push(v)
	return localSet(locals, stack, idx)
}

func globalGet(store *Store, stack *Stack, idx uint32) error {
	if int(idx) >= len(store.Globals) {
		return errors.NotFoundGlobalVariable(idx)
	}
	stack.Push(store.Globals[idx].Get())
	return nil
}

func globalSet(store *Store, stack *Stack, idx uint32) error {
	v, err := stack.Pop()
	if err != nil {
		return err
	}
	if int(idx) >= len(store.Globals) {
		return errors.NotFoundGlobalVariable(idx)
	}
	return store.Globals[idx].Set(v)
}

// popcnt serves both i32.popcnt and i64.popcnt: the count has the width of
// the operand.
func popcnt(stack *Stack) error {
	v, err := stack.Pop()
	if err != nil {
		return err
	}
	switch v.typ {
	case wasm.ValI32:
		stack.Push(I32(int32(bits.OnesCount32(v.U32()))))
	case wasm.ValI64:
		stack.Push(I64(int64(bits.OnesCount64(v.bits))))
	default:
		return errors.UnexpectedStackValueType("i32 or i64", v.typ.String())
	}
	return nil
}
