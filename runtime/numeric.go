package runtime

import (
	"math"
	"math/bits"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

const (
	maxInt32Plus1  = 2147483648.0
	maxUint32Plus1 = 4294967296.0
	maxInt64Plus1  = 9223372036854775808.0
	maxUint64Plus1 = 18446744073709551616.0
)

type number interface {
	int32 | int64 | float32 | float64
}

type float interface {
	float32 | float64
}

type integer interface {
	int32 | int64
}

var (
	popI32 = (*Stack).PopI32
	popI64 = (*Stack).PopI64
	popF32 = (*Stack).PopF32
	popF64 = (*Stack).PopF64
)

type handler func(*Stack) error

// numericOps covers the stack-only numeric instructions, 0x45 through 0xC4,
// except popcnt.
var numericOps = [256]handler{
	wasm.OpI32Eqz: test(popI32, func(a int32) bool { return a == 0 }),
	wasm.OpI32Eq:  compare(popI32, eq[int32]),
	wasm.OpI32Ne:  compare(popI32, ne[int32]),
	wasm.OpI32LtS: compare(popI32, lt[int32]),
	wasm.OpI32LtU: compare(popI32, func(a, b int32) bool { return uint32(a) < uint32(b) }),
	wasm.OpI32GtS: compare(popI32, gt[int32]),
	wasm.OpI32GtU: compare(popI32, func(a, b int32) bool { return uint32(a) > uint32(b) }),
	wasm.OpI32LeS: compare(popI32, le[int32]),
	wasm.OpI32LeU: compare(popI32, func(a, b int32) bool { return uint32(a) <= uint32(b) }),
	wasm.OpI32GeS: compare(popI32, ge[int32]),
	wasm.OpI32GeU: compare(popI32, func(a, b int32) bool { return uint32(a) >= uint32(b) }),

	wasm.OpI64Eqz: test(popI64, func(a int64) bool { return a == 0 }),
	wasm.OpI64Eq:  compare(popI64, eq[int64]),
	wasm.OpI64Ne:  compare(popI64, ne[int64]),
	wasm.OpI64LtS: compare(popI64, lt[int64]),
	wasm.OpI64LtU: compare(popI64, func(a, b int64) bool { return uint64(a) < uint64(b) }),
	wasm.OpI64GtS: compare(popI64, gt[int64]),
	wasm.OpI64GtU: compare(popI64, func(a, b int64) bool { return uint64(a) > uint64(b) }),
	wasm.OpI64LeS: compare(popI64, le[int64]),
	wasm.OpI64LeU: compare(popI64, func(a, b int64) bool { return uint64(a) <= uint64(b) }),
	wasm.OpI64GeS: compare(popI64, ge[int64]),
	wasm.OpI64GeU: compare(popI64, func(a, b int64) bool { return uint64(a) >= uint64(b) }),

	wasm.OpF32Eq: compare(popF32, eq[float32]),
	wasm.OpF32Ne: compare(popF32, ne[float32]),
	wasm.OpF32Lt: compare(popF32, lt[float32]),
	wasm.OpF32Gt: compare(popF32, gt[float32]),
	wasm.OpF32Le: compare(popF32, le[float32]),
	wasm.OpF32Ge: compare(popF32, ge[float32]),

	wasm.OpF64Eq: compare(popF64, eq[float64]),
	wasm.OpF64Ne: compare(popF64, ne[float64]),
	wasm.OpF64Lt: compare(popF64, lt[float64]),
	wasm.OpF64Gt: compare(popF64, gt[float64]),
	wasm.OpF64Le: compare(popF64, le[float64]),
	wasm.OpF64Ge: compare(popF64, ge[float64]),

	wasm.OpI32Clz:  unop(popI32, I32, func(a int32) int32 { return int32(bits.LeadingZeros32(uint32(a))) }),
	wasm.OpI32Ctz:  unop(popI32, I32, func(a int32) int32 { return int32(bits.TrailingZeros32(uint32(a))) }),
	wasm.OpI32Add:  arith(popI32, I32, add[int32]),
	wasm.OpI32Sub:  arith(popI32, I32, sub[int32]),
	wasm.OpI32Mul:  arith(popI32, I32, mul[int32]),
	wasm.OpI32DivS: arithErr(popI32, I32, divS32),
	wasm.OpI32DivU: arithErr(popI32, I32, divU32),
	wasm.OpI32RemS: arithErr(popI32, I32, remS[int32]),
	wasm.OpI32RemU: arithErr(popI32, I32, remU32),
	wasm.OpI32And:  arith(popI32, I32, and[int32]),
	wasm.OpI32Or:   arith(popI32, I32, or[int32]),
	wasm.OpI32Xor:  arith(popI32, I32, xor[int32]),
	wasm.OpI32Shl:  arith(popI32, I32, func(a, b int32) int32 { return a << (uint32(b) % 32) }),
	wasm.OpI32ShrS: arith(popI32, I32, func(a, b int32) int32 { return a >> (uint32(b) % 32) }),
	wasm.OpI32ShrU: arith(popI32, I32, func(a, b int32) int32 { return int32(uint32(a) >> (uint32(b) % 32)) }),
	wasm.OpI32Rotl: arith(popI32, I32, func(a, b int32) int32 { return int32(bits.RotateLeft32(uint32(a), int(b%32))) }),
	wasm.OpI32Rotr: arith(popI32, I32, func(a, b int32) int32 { return int32(bits.RotateLeft32(uint32(a), -int(b%32))) }),

	wasm.OpI64Clz:  unop(popI64, I64, func(a int64) int64 { return int64(bits.LeadingZeros64(uint64(a))) }),
	wasm.OpI64Ctz:  unop(popI64, I64, func(a int64) int64 { return int64(bits.TrailingZeros64(uint64(a))) }),
	wasm.OpI64Add:  arith(popI64, I64, add[int64]),
	wasm.OpI64Sub:  arith(popI64, I64, sub[int64]),
	wasm.OpI64Mul:  arith(popI64, I64, mul[int64]),
	wasm.OpI64DivS: arithErr(popI64, I64, divS64),
	wasm.OpI64DivU: arithErr(popI64, I64, divU64),
	wasm.OpI64RemS: arithErr(popI64, I64, remS[int64]),
	wasm.OpI64RemU: arithErr(popI64, I64, remU64),
	wasm.OpI64And:  arith(popI64, I64, and[int64]),
	wasm.OpI64Or:   arith(popI64, I64, or[int64]),
	wasm.OpI64Xor:  arith(popI64, I64, xor[int64]),
	wasm.OpI64Shl:  arith(popI64, I64, func(a, b int64) int64 { return a << (uint64(b) % 64) }),
	wasm.OpI64ShrS: arith(popI64, I64, func(a, b int64) int64 { return a >> (uint64(b) % 64) }),
	wasm.OpI64ShrU: arith(popI64, I64, func(a, b int64) int64 { return int64(uint64(a) >> (uint64(b) % 64)) }),
	wasm.OpI64Rotl: arith(popI64, I64, func(a, b int64) int64 { return int64(bits.RotateLeft64(uint64(a), int(b%64))) }),
	wasm.OpI64Rotr: arith(popI64, I64, func(a, b int64) int64 { return int64(bits.RotateLeft64(uint64(a), -int(b%64))) }),

	wasm.OpF32Abs:      unop(popF32, F32, abs[float32]),
	wasm.OpF32Neg:      unop(popF32, F32, neg[float32]),
	wasm.OpF32Ceil:     unop(popF32, F32, ceil[float32]),
	wasm.OpF32Floor:    unop(popF32, F32, floor[float32]),
	wasm.OpF32Trunc:    unop(popF32, F32, trunc[float32]),
	wasm.OpF32Nearest:  unop(popF32, F32, nearest[float32]),
	wasm.OpF32Sqrt:     unop(popF32, F32, sqrt[float32]),
	wasm.OpF32Add:      arith(popF32, F32, add[float32]),
	wasm.OpF32Sub:      arith(popF32, F32, sub[float32]),
	wasm.OpF32Mul:      arith(popF32, F32, mul[float32]),
	wasm.OpF32Div:      arith(popF32, F32, div[float32]),
	wasm.OpF32Min:      arith(popF32, F32, fmin[float32]),
	wasm.OpF32Max:      arith(popF32, F32, fmax[float32]),
	wasm.OpF32Copysign: arith(popF32, F32, copysign[float32]),

	wasm.OpF64Abs:      unop(popF64, F64, abs[float64]),
	wasm.OpF64Neg:      unop(popF64, F64, neg[float64]),
	wasm.OpF64Ceil:     unop(popF64, F64, ceil[float64]),
	wasm.OpF64Floor:    unop(popF64, F64, floor[float64]),
	wasm.OpF64Trunc:    unop(popF64, F64, trunc[float64]),
	wasm.OpF64Nearest:  unop(popF64, F64, nearest[float64]),
	wasm.OpF64Sqrt:     unop(popF64, F64, sqrt[float64]),
	wasm.OpF64Add:      arith(popF64, F64, add[float64]),
	wasm.OpF64Sub:      arith(popF64, F64, sub[float64]),
	wasm.OpF64Mul:      arith(popF64, F64, mul[float64]),
	wasm.OpF64Div:      arith(popF64, F64, div[float64]),
	wasm.OpF64Min:      arith(popF64, F64, fmin[float64]),
	wasm.OpF64Max:      arith(popF64, F64, fmax[float64]),
	wasm.OpF64Copysign: arith(popF64, F64, copysign[float64]),

	wasm.OpI32WrapI64:        convert(popI64, I32, func(a int64) int32 { return int32(a) }),
	wasm.OpI32TruncF32S:      convertErr(popF32, I32, truncToI32[float32]),
	wasm.OpI32TruncF32U:      convertErr(popF32, I32, truncToU32[float32]),
	wasm.OpI32TruncF64S:      convertErr(popF64, I32, truncToI32[float64]),
	wasm.OpI32TruncF64U:      convertErr(popF64, I32, truncToU32[float64]),
	wasm.OpI64ExtendI32S:     convert(popI32, I64, func(a int32) int64 { return int64(a) }),
	wasm.OpI64ExtendI32U:     convert(popI32, I64, func(a int32) int64 { return int64(uint32(a)) }),
	wasm.OpI64TruncF32S:      convertErr(popF32, I64, truncToI64[float32]),
	wasm.OpI64TruncF32U:      convertErr(popF32, I64, truncToU64[float32]),
	wasm.OpI64TruncF64S:      convertErr(popF64, I64, truncToI64[float64]),
	wasm.OpI64TruncF64U:      convertErr(popF64, I64, truncToU64[float64]),
	wasm.OpF32ConvertI32S:    convert(popI32, F32, func(a int32) float32 { return float32(a) }),
	wasm.OpF32ConvertI32U:    convert(popI32, F32, func(a int32) float32 { return float32(uint32(a)) }),
	wasm.OpF32ConvertI64S:    convert(popI64, F32, func(a int64) float32 { return float32(a) }),
	wasm.OpF32ConvertI64U:    convert(popI64, F32, func(a int64) float32 { return float32(uint64(a)) }),
	wasm.OpF32DemoteF64:      convert(popF64, F32, func(a float64) float32 { return float32(a) }),
	wasm.OpF64ConvertI32S:    convert(popI32, F64, func(a int32) float64 { return float64(a) }),
	wasm.OpF64ConvertI32U:    convert(popI32, F64, func(a int32) float64 { return float64(uint32(a)) }),
	wasm.OpF64ConvertI64S:    convert(popI64, F64, func(a int64) float64 { return float64(a) }),
	wasm.OpF64ConvertI64U:    convert(popI64, F64, func(a int64) float64 { return float64(uint64(a)) }),
	wasm.OpF64PromoteF32:     convert(popF32, F64, func(a float32) float64 { return float64(a) }),
	wasm.OpI32ReinterpretF32: convert(popF32, I32, func(a float32) int32 { return int32(math.Float32bits(a)) }),
	wasm.OpI64ReinterpretF64: convert(popF64, I64, func(a float64) int64 { return int64(math.Float64bits(a)) }),
	wasm.OpF32ReinterpretI32: convert(popI32, F32, func(a int32) float32 { return math.Float32frombits(uint32(a)) }),
	wasm.OpF64ReinterpretI64: convert(popI64, F64, func(a int64) float64 { return math.Float64frombits(uint64(a)) }),

	wasm.OpI32Extend8S:  unop(popI32, I32, func(a int32) int32 { return int32(int8(a)) }),
	wasm.OpI32Extend16S: unop(popI32, I32, func(a int32) int32 { return int32(int16(a)) }),
	wasm.OpI64Extend8S:  unop(popI64, I64, func(a int64) int64 { return int64(int8(a)) }),
	wasm.OpI64Extend16S: unop(popI64, I64, func(a int64) int64 { return int64(int16(a)) }),
	wasm.OpI64Extend32S: unop(popI64, I64, func(a int64) int64 { return int64(int32(a)) }),
}

// execNumeric runs one stack-only numeric instruction.
func execNumeric(s *Stack, op byte) error {
	h := numericOps[op]
	if h == nil {
		return errors.Unsupported(errors.PhaseRuntime, "numeric opcode")
	}
	return h(s)
}

func unop[T any](pop func(*Stack) (T, error), push func(T) Value, f func(T) T) handler {
	return func(s *Stack) error {
		a, err := pop(s)
		if err != nil {
			return err
		}
		s.Push(push(f(a)))
		return nil
	}
}

func arith[T any](pop func(*Stack) (T, error), push func(T) Value, f func(a, b T) T) handler {
	return arithErr(pop, push, func(a, b T) (T, error) { return f(a, b), nil })
}

func arithErr[T any](pop func(*Stack) (T, error), push func(T) Value, f func(a, b T) (T, error)) handler {
	return func(s *Stack) error {
		b, err := pop(s)
		if err != nil {
			return err
		}
		a, err := pop(s)
		if err != nil {
			return err
		}
		r, err := f(a, b)
		if err != nil {
			return err
		}
		s.Push(push(r))
		return nil
	}
}

func test[T any](pop func(*Stack) (T, error), f func(T) bool) handler {
	return func(s *Stack) error {
		a, err := pop(s)
		if err != nil {
			return err
		}
		s.Push(boolValue(f(a)))
		return nil
	}
}

func compare[T any](pop func(*Stack) (T, error), f func(a, b T) bool) handler {
	return func(s *Stack) error {
		b, err := pop(s)
		if err != nil {
			return err
		}
		a, err := pop(s)
		if err != nil {
			return err
		}
		s.Push(boolValue(f(a, b)))
		return nil
	}
}

func convert[T, R any](pop func(*Stack) (T, error), push func(R) Value, f func(T) R) handler {
	return convertErr(pop, push, func(a T) (R, error) { return f(a), nil })
}

func convertErr[T, R any](pop func(*Stack) (T, error), push func(R) Value, f func(T) (R, error)) handler {
	return func(s *Stack) error {
		a, err := pop(s)
		if err != nil {
			return err
		}
		r, err := f(a)
		if err != nil {
			return err
		}
		s.Push(push(r))
		return nil
	}
}

func boolValue(b bool) Value {
	if b {
		return I32(1)
	}
	return I32(0)
}

func eq[T number](a, b T) bool { return a == b }
func ne[T number](a, b T) bool { return a != b }
func lt[T number](a, b T) bool { return a < b }
func gt[T number](a, b T) bool { return a > b }
func le[T number](a, b T) bool { return a <= b }
func ge[T number](a, b T) bool { return a >= b }

func add[T number](a, b T) T { return a + b }
func sub[T number](a, b T) T { return a - b }
func mul[T number](a, b T) T { return a * b }
func div[T float](a, b T) T  { return a / b }

func and[T integer](a, b T) T { return a & b }
func or[T integer](a, b T) T  { return a | b }
func xor[T integer](a, b T) T { return a ^ b }

func divS32(a, b int32) (int32, error) {
	if b == 0 {
		return 0, errors.Trap(errors.TrapIntegerDivideByZero)
	}
	if a == math.MinInt32 && b == -1 {
		return 0, errors.Trap(errors.TrapIntegerOverflow)
	}
	return a / b, nil
}

func divS64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errors.Trap(errors.TrapIntegerDivideByZero)
	}
	if a == math.MinInt64 && b == -1 {
		return 0, errors.Trap(errors.TrapIntegerOverflow)
	}
	return a / b, nil
}

func remS[T integer](a, b T) (T, error) {
	if b == 0 {
		return 0, errors.Trap(errors.TrapIntegerDivideByZero)
	}
	if b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func divU32(a, b int32) (int32, error) {
	if b == 0 {
		return 0, errors.Trap(errors.TrapIntegerDivideByZero)
	}
	return int32(uint32(a) / uint32(b)), nil
}

func remU32(a, b int32) (int32, error) {
	if b == 0 {
		return 0, errors.Trap(errors.TrapIntegerDivideByZero)
	}
	return int32(uint32(a) % uint32(b)), nil
}

func divU64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errors.Trap(errors.TrapIntegerDivideByZero)
	}
	return int64(uint64(a) / uint64(b)), nil
}

func remU64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errors.Trap(errors.TrapIntegerDivideByZero)
	}
	return int64(uint64(a) % uint64(b)), nil
}

func abs[T float](a T) T   { return T(math.Abs(float64(a))) }
func neg[T float](a T) T   { return -a }
func ceil[T float](a T) T  { return T(math.Ceil(float64(a))) }
func floor[T float](a T) T { return T(math.Floor(float64(a))) }
func trunc[T float](a T) T { return T(math.Trunc(float64(a))) }
func sqrt[T float](a T) T  { return T(math.Sqrt(float64(a))) }

func nearest[T float](a T) T {
	f := float64(a)
	return T(math.Copysign(math.RoundToEven(f), f))
}

func fmin[T float](a, b T) T { return min(a, b) }
func fmax[T float](a, b T) T { return max(a, b) }

func copysign[T float](a, b T) T {
	return T(math.Copysign(float64(a), float64(b)))
}

func truncToI32[T float](a T) (int32, error) {
	t, err := truncChecked(a, math.MinInt32, maxInt32Plus1)
	return int32(t), err
}

func truncToU32[T float](a T) (int32, error) {
	t, err := truncChecked(a, 0, maxUint32Plus1)
	return int32(uint32(t)), err
}

func truncToI64[T float](a T) (int64, error) {
	t, err := truncChecked(a, math.MinInt64, maxInt64Plus1)
	return int64(t), err
}

func truncToU64[T float](a T) (int64, error) {
	t, err := truncChecked(a, 0, maxUint64Plus1)
	if err != nil {
		return 0, err
	}
	return int64(uint64(t)), nil
}

// truncChecked truncates a toward zero and requires lo <= result < hi.
func truncChecked[T float](a T, lo, hi float64) (float64, error) {
	f := float64(a)
	if math.IsNaN(f) {
		return 0, errors.Trap(errors.TrapInvalidConversion)
	}
	t := math.Trunc(f)
	if t < lo || t >= hi {
		return 0, errors.Trap(errors.TrapIntegerOverflow)
	}
	return t, nil
}

// truncSat converts a float to an integer, clamping out of range values
// and mapping NaN to zero.
func truncSat[T float](a T, signed, wide bool) Value {
	f := float64(a)
	switch {
	case math.IsNaN(f):
		if wide {
			return I64(0)
		}
		return I32(0)
	case signed && wide:
		switch {
		case f < math.MinInt64:
			return I64(math.MinInt64)
		case f >= maxInt64Plus1:
			return I64(math.MaxInt64)
		}
		return I64(int64(f))
	case signed:
		switch {
		case f < math.MinInt32:
			return I32(math.MinInt32)
		case f >= maxInt32Plus1:
			return I32(math.MaxInt32)
		}
		return I32(int32(f))
	case wide:
		switch {
		case f <= -1:
			return I64(0)
		case f >= maxUint64Plus1:
			return I64(-1)
		}
		return I64(int64(uint64(f)))
	}
	switch {
	case f <= -1:
		return I32(0)
	case f >= maxUint32Plus1:
		return I32(-1)
	}
	return I32(int32(uint32(f)))
}
