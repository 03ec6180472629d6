package runtime

import (
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Stack is the operand stack shared by every frame of a Runtime and by
// importers serving external calls.
type Stack struct {
	values []Value
}

// NewStack returns an empty operand stack.
func NewStack() *Stack {
	return &Stack{values: make([]Value, 0, 64)}
}

// Push places v on top of the stack.
func (s *Stack) Push(v Value) {
	s.values = append(s.values, v)
}

// Pop removes the top value. An empty stack yields a StackPop error.
func (s *Stack) Pop() (Value, error) {
	n := len(s.values)
	if n == 0 {
		return Value{}, errors.StackPop()
	}
	v := s.values[n-1]
	s.values = s.values[:n-1]
	return v, nil
}

// Peek returns the top value without removing it.
func (s *Stack) Peek() (Value, error) {
	if len(s.values) == 0 {
		return Value{}, errors.StackPop()
	}
	return s.values[len(s.values)-1], nil
}

// PopType pops a value and checks its tag.
func (s *Stack) PopType(t wasm.ValType) (Value, error) {
	v, err := s.Pop()
	if err != nil {
		return Value{}, err
	}
	if v.typ != t {
		return Value{}, errors.UnexpectedStackValueType(t.String(), v.typ.String())
	}
	return v, nil
}

// PopI32 pops an i32 operand.
func (s *Stack) PopI32() (int32, error) {
	v, err := s.PopType(wasm.ValI32)
	return v.I32(), err
}

// PopU32 pops an i32 operand and returns it unsigned.
func (s *Stack) PopU32() (uint32, error) {
	v, err := s.PopType(wasm.ValI32)
	return v.U32(), err
}

// PopI64 pops an i64 operand.
func (s *Stack) PopI64() (int64, error) {
	v, err := s.PopType(wasm.ValI64)
	return v.I64(), err
}

// PopF32 pops an f32 operand.
func (s *Stack) PopF32() (float32, error) {
	v, err := s.PopType(wasm.ValF32)
	return v.F32(), err
}

// PopF64 pops an f64 operand.
func (s *Stack) PopF64() (float64, error) {
	v, err := s.PopType(wasm.ValF64)
	return v.F64(), err
}

// PopRef pops a reference of any reference type.
func (s *Stack) PopRef() (Value, error) {
	v, err := s.Pop()
	if err != nil {
		return Value{}, err
	}
	if !v.typ.IsRef() {
		return Value{}, errors.UnexpectedStackValueType("reference", v.typ.String())
	}
	return v, nil
}

// PopN removes the top n values and returns them in push order.
func (s *Stack) PopN(n int) ([]Value, error) {
	if n > len(s.values) {
		return nil, errors.StackPop()
	}
	start := len(s.values) - n
	out := make([]Value, n)
	copy(out, s.values[start:])
	s.values = s.values[:start]
	return out, nil
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int { return len(s.values) }

// Values returns a copy of the stack contents, bottom first.
func (s *Stack) Values() []Value {
	out := make([]Value, len(s.values))
	copy(out, s.values)
	return out
}

// Reset empties the stack.
func (s *Stack) Reset() {
	clear(s.values)
	s.values = s.values[:0]
}

// unwind drops everything above height but keeps the top arity values.
func (s *Stack) unwind(height, arity int) error {
	top := len(s.values) - arity
	if top < height {
		return errors.StackPop()
	}
	if top > height {
		copy(s.values[height:], s.values[top:])
		s.values = s.values[:height+arity]
	}
	return nil
}
