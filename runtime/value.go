package runtime

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-interp/wasm"
)

// Value is a tagged operand. The tag is the value type; bits hold the raw
// representation (two's complement for integers, IEEE 754 bits for floats,
// index+1 for non-null references). A funcref produced by ref.func or an
// element segment also carries the function instance it names.
type Value struct {
	fn   FuncInst
	typ  wasm.ValType
	bits uint64
}

func I32(v int32) Value { return Value{typ: wasm.ValI32, bits: uint64(uint32(v))} }

func I64(v int64) Value { return Value{typ: wasm.ValI64, bits: uint64(v)} }

func F32(v float32) Value { return Value{typ: wasm.ValF32, bits: uint64(math.Float32bits(v))} }

func F64(v float64) Value { return Value{typ: wasm.ValF64, bits: math.Float64bits(v)} }

// FuncRef is a reference to function idx of the store that calls it.
func FuncRef(idx uint32) Value { return Value{typ: wasm.ValFuncRef, bits: uint64(idx) + 1} }

// ExternRef wraps an opaque host handle.
func ExternRef(handle uint32) Value { return Value{typ: wasm.ValExtern, bits: uint64(handle) + 1} }

// NullRef is the null reference of type t.
func NullRef(t wasm.ValType) Value { return Value{typ: t} }

// ValueFromBits builds a value from its raw representation.
func ValueFromBits(t wasm.ValType, bits uint64) Value {
	if t == wasm.ValI32 || t == wasm.ValF32 {
		bits &= math.MaxUint32
	}
	return Value{typ: t, bits: bits}
}

// ZeroValue returns the default value of t: zero for numbers, null for references.
func ZeroValue(t wasm.ValType) Value { return Value{typ: t} }

func (v Value) Type() wasm.ValType { return v.typ }

// Bits returns the raw representation.
func (v Value) Bits() uint64 { return v.bits }

func (v Value) I32() int32 { return int32(uint32(v.bits)) }

func (v Value) U32() uint32 { return uint32(v.bits) }

func (v Value) I64() int64 { return int64(v.bits) }

func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }

func (v Value) F64() float64 { return math.Float64frombits(v.bits) }

// IsNull reports whether a reference value is null.
func (v Value) IsNull() bool { return v.typ.IsRef() && v.bits == 0 }

// Ref returns the referenced index and false for null.
func (v Value) Ref() (uint32, bool) {
	if v.bits == 0 {
		return 0, false
	}
	return uint32(v.bits - 1), true
}

// Func returns the function instance a funcref carries, or nil for null
// references and references built by FuncRef.
func (v Value) Func() FuncInst { return v.fn }

func (v Value) String() string {
	switch v.typ {
	case wasm.ValI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case wasm.ValI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case wasm.ValF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case wasm.ValF64:
		return fmt.Sprintf("f64:%g", v.F64())
	case wasm.ValFuncRef, wasm.ValExtern:
		if idx, ok := v.Ref(); ok {
			return fmt.Sprintf("%s:%d", v.typ, idx)
		}
		return v.typ.String() + ":null"
	}
	return fmt.Sprintf("%s:%#x", v.typ, v.bits)
}
