package runtime

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func addModule() *wasm.Module {
	return buildModule(nil,
		fn{name: "add", typ: sig(vals(i32, i32), i32), code: []wasm.Instruction{
			getLocal(0), getLocal(1), ins(wasm.OpI32Add),
		}},
		fn{name: "nop", typ: sig(nil)},
	)
}

func TestCall(t *testing.T) {
	rt := instantiate(t, addModule())

	require.Equal(t, int32(3), callI32(t, rt, "add", I32(1), I32(2)))
	require.Equal(t, int32(-1), callI32(t, rt, "add", I32(math.MaxInt32), I32(math.MinInt32)))

	res, err := rt.Call(t.Context(), "nop")
	require.NoError(t, err)
	require.Nil(t, res)
	require.Zero(t, rt.Stack().Len())
}

func TestCallErrors(t *testing.T) {
	m := addModule()
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}}
	m.Exports = append(m.Exports, wasm.Export{Name: "tbl", Desc: wasm.ExportDesc{Kind: wasm.KindTable}})
	m = buildModule(m, fn{name: "pair", typ: sig(nil, i32, i32), code: []wasm.Instruction{constI32(1), constI32(2)}})
	rt := instantiate(t, m)

	tests := []struct {
		name   string
		export string
		args   []Value
		target error
		kind   errors.Kind
	}{
		{name: "missing export", export: "missing", target: errors.ErrNotFoundExport, kind: errors.KindNotFound},
		{name: "not a function", export: "tbl", target: errors.ErrInvalidExport, kind: errors.KindInvalidExport},
		{name: "too few args", export: "add", args: []Value{I32(1)}, kind: errors.KindInvalidInput},
		{name: "wrong arg type", export: "add", args: []Value{I32(1), I64(2)}, kind: errors.KindTypeMismatch},
		{name: "multiple results", export: "pair", kind: errors.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Call(t.Context(), tt.export, tt.args...)
			require.Error(t, err)
			if tt.target != nil {
				require.ErrorIs(t, err, tt.target)
			}
			var werr *errors.Error
			require.ErrorAs(t, err, &werr)
			require.Equal(t, tt.kind, werr.Kind)
			require.Zero(t, rt.Stack().Len())
		})
	}
}

func TestTrapResetsState(t *testing.T) {
	m := buildModule(addModule(),
		fn{name: "boom", typ: sig(vals(i32)), code: []wasm.Instruction{
			constI32(1), constI32(2), callIns(3),
		}},
		fn{typ: sig(nil), code: []wasm.Instruction{constI32(7), ins(wasm.OpUnreachable)}},
	)
	rt := instantiate(t, m)

	_, err := rt.Call(t.Context(), "boom", I32(0))
	require.ErrorIs(t, err, errors.ErrUnreachable)
	require.Zero(t, rt.Stack().Len())
	require.Empty(t, rt.frames)

	require.Equal(t, int32(5), callI32(t, rt, "add", I32(2), I32(3)))
	require.Zero(t, rt.Stack().Len())
}

func TestStackUnderflowTrap(t *testing.T) {
	rt := instantiate(t, buildModule(nil,
		fn{name: "under", typ: sig(nil, i32), code: []wasm.Instruction{ins(wasm.OpI32Add)}},
	))
	_, err := rt.Call(t.Context(), "under")
	require.ErrorIs(t, err, errors.ErrStackPop)
	require.Zero(t, rt.Stack().Len())
}

func TestTypeMismatchTrap(t *testing.T) {
	rt := instantiate(t, buildModule(nil,
		fn{name: "mixed", typ: sig(nil, i32), code: []wasm.Instruction{constI64(1), constI32(1), ins(wasm.OpI32Add)}},
	))
	_, err := rt.Call(t.Context(), "mixed")
	require.ErrorIs(t, err, errors.ErrUnexpectedStackValueType)
	require.Zero(t, rt.Stack().Len())
}

func TestControlFlow(t *testing.T) {
	m := buildModule(nil,
		fn{name: "fact", typ: sig(vals(i64), i64), locals: vals(i64), code: []wasm.Instruction{
			constI64(1), setLocal(1),
			blockIns(wasm.OpBlock, void),
			blockIns(wasm.OpLoop, void),
			getLocal(0), ins(wasm.OpI64Eqz), brIf(1),
			getLocal(1), getLocal(0), ins(wasm.OpI64Mul), setLocal(1),
			getLocal(0), constI64(1), ins(wasm.OpI64Sub), setLocal(0),
			br(0),
			end(),
			end(),
			getLocal(1),
		}},
		fn{name: "sign", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			getLocal(0), constI32(0), ins(wasm.OpI32LtS),
			blockIns(wasm.OpIf, wasm.BlockTypeI32),
			constI32(-1),
			ins(wasm.OpElse),
			getLocal(0), ins(wasm.OpI32Eqz),
			blockIns(wasm.OpIf, wasm.BlockTypeI32),
			constI32(0),
			ins(wasm.OpElse),
			constI32(1),
			end(),
			end(),
		}},
		fn{name: "switch", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			blockIns(wasm.OpBlock, void),
			blockIns(wasm.OpBlock, void),
			blockIns(wasm.OpBlock, void),
			getLocal(0),
			immIns(wasm.OpBrTable, wasm.BrTableImm{Labels: []uint32{0, 1}, Default: 2}),
			end(),
			constI32(100), ins(wasm.OpReturn),
			end(),
			constI32(200), ins(wasm.OpReturn),
			end(),
			constI32(300),
		}},
		fn{name: "blockResult", typ: sig(nil, i32), code: []wasm.Instruction{
			blockIns(wasm.OpBlock, wasm.BlockTypeI32),
			constI32(7), constI32(8), br(0),
			end(),
		}},
		fn{name: "ifNoElse", typ: sig(vals(i32), i32), locals: vals(i32), code: []wasm.Instruction{
			constI32(5), setLocal(1),
			getLocal(0),
			blockIns(wasm.OpIf, void),
			constI32(9), setLocal(1),
			end(),
			getLocal(1),
		}},
		fn{name: "earlyReturn", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			constI32(99),
			getLocal(0),
			blockIns(wasm.OpIf, void),
			constI32(1), ins(wasm.OpReturn),
			end(),
			ins(wasm.OpDrop),
			constI32(2),
		}},
		fn{name: "fib", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			getLocal(0), constI32(2), ins(wasm.OpI32LtS),
			blockIns(wasm.OpIf, wasm.BlockTypeI32),
			getLocal(0),
			ins(wasm.OpElse),
			getLocal(0), constI32(1), ins(wasm.OpI32Sub), callIns(6),
			getLocal(0), constI32(2), ins(wasm.OpI32Sub), callIns(6),
			ins(wasm.OpI32Add),
			end(),
		}},
		fn{name: "select", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			constI32(10), constI32(20), getLocal(0), ins(wasm.OpSelect),
		}},
	)
	rt := instantiate(t, m)

	res, err := rt.Call(t.Context(), "fact", I64(10))
	require.NoError(t, err)
	require.Equal(t, int64(3628800), res.I64())

	tests := []struct {
		fn   string
		arg  int32
		want int32
	}{
		{"sign", -5, -1},
		{"sign", 0, 0},
		{"sign", 9, 1},
		{"switch", 0, 100},
		{"switch", 1, 200},
		{"switch", 5, 300},
		{"switch", -1, 300},
		{"ifNoElse", 0, 5},
		{"ifNoElse", 1, 9},
		{"earlyReturn", 1, 1},
		{"earlyReturn", 0, 2},
		{"fib", 10, 55},
		{"select", 1, 10},
		{"select", 0, 20},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, callI32(t, rt, tt.fn, I32(tt.arg)), "%s(%d)", tt.fn, tt.arg)
		require.Zero(t, rt.Stack().Len())
	}

	require.Equal(t, int32(8), callI32(t, rt, "blockResult"))
}

func TestCallDepth(t *testing.T) {
	m := buildModule(nil, fn{name: "inf", typ: sig(nil), code: []wasm.Instruction{callIns(0)}})
	cfg := DefaultConfig()
	cfg.MaxCallDepth = 50
	rt := instantiate(t, m, WithConfig(cfg))

	_, err := rt.Call(t.Context(), "inf")
	require.ErrorIs(t, err, errors.ErrCallStackExhausted)
	require.Empty(t, rt.frames)
}

func TestNumericTraps(t *testing.T) {
	rt := instantiate(t, buildModule(nil,
		fn{name: "div_s", typ: sig(vals(i32, i32), i32), code: []wasm.Instruction{getLocal(0), getLocal(1), ins(wasm.OpI32DivS)}},
		fn{name: "rem_s", typ: sig(vals(i32, i32), i32), code: []wasm.Instruction{getLocal(0), getLocal(1), ins(wasm.OpI32RemS)}},
		fn{name: "div_u", typ: sig(vals(i32, i32), i32), code: []wasm.Instruction{getLocal(0), getLocal(1), ins(wasm.OpI32DivU)}},
		fn{name: "trunc", typ: sig(vals(f64), i32), code: []wasm.Instruction{getLocal(0), ins(wasm.OpI32TruncF64S)}},
		fn{name: "trunc_sat", typ: sig(vals(f64), i32), code: []wasm.Instruction{getLocal(0), misc(wasm.MiscI32TruncSatF64S)}},
	))

	require.Equal(t, int32(3), callI32(t, rt, "div_s", I32(7), I32(2)))
	require.Equal(t, int32(-3), callI32(t, rt, "div_s", I32(-7), I32(2)))
	require.Equal(t, int32(-1), callI32(t, rt, "rem_s", I32(-7), I32(2)))
	require.Equal(t, int32(0), callI32(t, rt, "rem_s", I32(math.MinInt32), I32(-1)))
	require.Equal(t, int32(0x7fffffff), callI32(t, rt, "div_u", I32(-1), I32(2)))
	require.Equal(t, int32(-3), callI32(t, rt, "trunc", F64(-3.9)))
	require.Equal(t, int32(math.MaxInt32), callI32(t, rt, "trunc_sat", F64(3e10)))
	require.Equal(t, int32(0), callI32(t, rt, "trunc_sat", F64(math.NaN())))

	traps := []struct {
		fn     string
		args   []Value
		target error
	}{
		{"div_s", []Value{I32(1), I32(0)}, errors.ErrIntegerDivideByZero},
		{"div_s", []Value{I32(math.MinInt32), I32(-1)}, errors.ErrIntegerOverflow},
		{"rem_s", []Value{I32(1), I32(0)}, errors.ErrIntegerDivideByZero},
		{"div_u", []Value{I32(1), I32(0)}, errors.ErrIntegerDivideByZero},
		{"trunc", []Value{F64(math.NaN())}, errors.ErrInvalidConversion},
		{"trunc", []Value{F64(3e10)}, errors.ErrIntegerOverflow},
	}
	for _, tt := range traps {
		_, err := rt.Call(t.Context(), tt.fn, tt.args...)
		require.ErrorIs(t, err, tt.target, tt.fn)
		require.ErrorIs(t, err, errors.ErrTrap)
		require.Zero(t, rt.Stack().Len())
	}
}

func memoryModule() *wasm.Module {
	maxPages := uint32(2)
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: &maxPages}}},
		Exports:  []wasm.Export{{Name: "mem", Desc: wasm.ExportDesc{Kind: wasm.KindMemory}}},
		Data: []wasm.DataSegment{{
			Mode:   wasm.DataActive,
			Offset: constExpr(constI32(16)),
			Init:   []byte("hi!"),
		}},
	}
	return buildModule(m,
		fn{name: "load8", typ: sig(vals(i32), i32), code: []wasm.Instruction{getLocal(0), mem(wasm.OpI32Load8U, 0)}},
		fn{name: "load", typ: sig(vals(i32), i32), code: []wasm.Instruction{getLocal(0), mem(wasm.OpI32Load, 4)}},
		fn{name: "store", typ: sig(vals(i32, i32)), code: []wasm.Instruction{getLocal(0), getLocal(1), mem(wasm.OpI32Store, 0)}},
		fn{name: "grow", typ: sig(vals(i32), i32), code: []wasm.Instruction{getLocal(0), immIns(wasm.OpMemoryGrow, wasm.MemoryIdxImm{})}},
		fn{name: "size", typ: sig(nil, i32), code: []wasm.Instruction{immIns(wasm.OpMemorySize, wasm.MemoryIdxImm{})}},
	)
}

func TestMemory(t *testing.T) {
	rt := instantiate(t, memoryModule())
	memory, err := rt.Memory("mem")
	require.NoError(t, err)

	require.Equal(t, int32('h'), callI32(t, rt, "load8", I32(16)))
	require.Equal(t, int32('!'), callI32(t, rt, "load8", I32(18)))

	_, err = rt.Call(t.Context(), "store", I32(100), I32(0x01020304))
	require.NoError(t, err)
	require.Equal(t, int32(0x01020304), callI32(t, rt, "load", I32(96)))
	require.Equal(t, byte(0x04), memory.Data[100])

	memory.Data[200] = 0xff
	require.Equal(t, int32(0xff), callI32(t, rt, "load8", I32(200)))

	require.Equal(t, int32(0), callI32(t, rt, "load8", I32(wasm.PageSize-1)))
	_, err = rt.Call(t.Context(), "load8", I32(wasm.PageSize))
	require.ErrorIs(t, err, errors.ErrMemoryOutOfBounds)
	_, err = rt.Call(t.Context(), "load", I32(wasm.PageSize-4))
	require.ErrorIs(t, err, errors.ErrMemoryOutOfBounds)
	_, err = rt.Call(t.Context(), "store", I32(-1), I32(1))
	require.ErrorIs(t, err, errors.ErrMemoryOutOfBounds)

	require.Equal(t, int32(1), callI32(t, rt, "grow", I32(1)))
	require.Equal(t, int32(2), callI32(t, rt, "size"))
	require.Equal(t, int32(-1), callI32(t, rt, "grow", I32(1)))
	require.Equal(t, uint32(2), memory.Pages())
	require.Equal(t, int32(0), callI32(t, rt, "load8", I32(wasm.PageSize)))
}

func TestMemoryGrowCappedByConfig(t *testing.T) {
	m := buildModule(&wasm.Module{Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}},
		fn{name: "grow", typ: sig(vals(i32), i32), code: []wasm.Instruction{getLocal(0), immIns(wasm.OpMemoryGrow, wasm.MemoryIdxImm{})}},
	)
	cfg := DefaultConfig()
	cfg.MaxMemoryPages = 3
	rt := instantiate(t, m, WithConfig(cfg))

	require.Equal(t, int32(1), callI32(t, rt, "grow", I32(2)))
	require.Equal(t, int32(-1), callI32(t, rt, "grow", I32(1)))

	cfg.MaxMemoryPages = 0
	_, err := FromBytes(m.Encode(), WithConfig(cfg))
	require.Error(t, err)
}

func TestTableGrowCappedByConfig(t *testing.T) {
	m := buildModule(&wasm.Module{
		Tables: []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}},
	},
		fn{name: "grow", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			immIns(wasm.OpRefNull, wasm.RefNullImm{Type: wasm.ValFuncRef}), getLocal(0), misc(wasm.MiscTableGrow, 0),
		}},
		fn{name: "size", typ: sig(nil, i32), code: []wasm.Instruction{misc(wasm.MiscTableSize, 0)}},
	)
	cfg := DefaultConfig()
	cfg.MaxTableSize = 8
	rt := instantiate(t, m, WithConfig(cfg))

	require.Equal(t, int32(1), callI32(t, rt, "grow", I32(7)))
	require.Equal(t, int32(-1), callI32(t, rt, "grow", I32(1)))
	require.Equal(t, int32(8), callI32(t, rt, "size"))

	rt = instantiate(t, m)
	require.Equal(t, int32(-1), callI32(t, rt, "grow", I32(-16)))
	require.Equal(t, int32(1), callI32(t, rt, "size"))
}

func TestTableSizeCappedAtInstantiation(t *testing.T) {
	m := &wasm.Module{Tables: []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: ^uint32(0)}}}}
	_, err := FromBytes(m.Encode())
	var werr *errors.Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.PhaseInstantiate, werr.Phase)
	require.Equal(t, errors.KindInvalidInput, werr.Kind)

	cfg := DefaultConfig()
	cfg.MaxTableSize = 16
	m.Tables[0].Limits.Min = 17
	_, err = FromBytes(m.Encode(), WithConfig(cfg))
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.KindInvalidInput, werr.Kind)

	m.Tables[0].Limits.Min = 16
	rt, err := FromBytes(m.Encode(), WithConfig(cfg))
	require.NoError(t, err)
	require.Equal(t, uint32(16), rt.Store().Tables[0].Size())
}

func TestDataSegmentOutOfBounds(t *testing.T) {
	m := memoryModule()
	m.Data[0].Offset = constExpr(constI32(wasm.PageSize - 1))
	_, err := FromBytes(m.Encode())
	require.ErrorIs(t, err, errors.ErrInstantiation)
	require.ErrorIs(t, err, errors.ErrMemoryOutOfBounds)
}

func TestBulkMemory(t *testing.T) {
	dataCount := uint32(1)
	m := buildModule(&wasm.Module{
		Memories:  []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Exports:   []wasm.Export{{Name: "mem", Desc: wasm.ExportDesc{Kind: wasm.KindMemory}}},
		Data:      []wasm.DataSegment{{Mode: wasm.DataPassive, Init: []byte("abcdef")}},
		DataCount: &dataCount,
	},
		fn{name: "init", typ: sig(nil), code: []wasm.Instruction{
			constI32(10), constI32(1), constI32(3), misc(wasm.MiscMemoryInit, 0, 0),
		}},
		fn{name: "drop", typ: sig(nil), code: []wasm.Instruction{misc(wasm.MiscDataDrop, 0)}},
		fn{name: "fill", typ: sig(nil), code: []wasm.Instruction{
			constI32(20), constI32('z'), constI32(4), misc(wasm.MiscMemoryFill, 0),
		}},
		fn{name: "copy", typ: sig(nil), code: []wasm.Instruction{
			constI32(30), constI32(10), constI32(3), misc(wasm.MiscMemoryCopy, 0, 0),
		}},
		fn{name: "fillOOB", typ: sig(nil), code: []wasm.Instruction{
			constI32(wasm.PageSize - 1), constI32(0), constI32(2), misc(wasm.MiscMemoryFill, 0),
		}},
	)
	rt := instantiate(t, m)
	memory, err := rt.Memory("mem")
	require.NoError(t, err)

	for _, name := range []string{"init", "fill", "copy"} {
		_, err := rt.Call(t.Context(), name)
		require.NoError(t, err, name)
	}
	require.Equal(t, "bcd", string(memory.Data[10:13]))
	require.Equal(t, "zzzz", string(memory.Data[20:24]))
	require.Equal(t, "bcd", string(memory.Data[30:33]))

	_, err = rt.Call(t.Context(), "fillOOB")
	require.ErrorIs(t, err, errors.ErrMemoryOutOfBounds)

	_, err = rt.Call(t.Context(), "drop")
	require.NoError(t, err)
	_, err = rt.Call(t.Context(), "init")
	require.ErrorIs(t, err, errors.ErrMemoryOutOfBounds)
}

func TestCallIndirect(t *testing.T) {
	refFunc := func(idx uint32) wasm.ConstExpr {
		return constExpr(immIns(wasm.OpRefFunc, wasm.RefFuncImm{FuncIdx: idx}))
	}
	m := buildModule(&wasm.Module{
		Types:  []wasm.FuncType{sig(nil, i32)},
		Tables: []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 3}}},
		Elements: []wasm.Element{{
			Mode:   wasm.ElemActive,
			Type:   wasm.ValFuncRef,
			Offset: constExpr(constI32(0)),
			Init:   []wasm.ConstExpr{refFunc(0), refFunc(1)},
		}},
	},
		fn{typ: sig(nil, i32), code: []wasm.Instruction{constI32(7)}},
		fn{typ: sig(vals(i32), i32), code: []wasm.Instruction{constI32(0), getLocal(0), ins(wasm.OpI32Sub)}},
		fn{name: "dispatch", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			getLocal(0), immIns(wasm.OpCallIndirect, wasm.CallIndirectImm{TypeIdx: 0}),
		}},
	)
	rt := instantiate(t, m)

	require.Equal(t, int32(7), callI32(t, rt, "dispatch", I32(0)))

	traps := []struct {
		idx  int32
		code string
	}{
		{1, errors.TrapIndirectCallType},
		{2, errors.TrapUninitializedElement},
		{3, errors.TrapUndefinedElement},
	}
	for _, tt := range traps {
		_, err := rt.Call(t.Context(), "dispatch", I32(tt.idx))
		require.ErrorIs(t, err, errors.Trap(tt.code), "index %d", tt.idx)
		require.Zero(t, rt.Stack().Len())
	}
}

func TestTableOps(t *testing.T) {
	maxSize := uint32(4)
	m := buildModule(&wasm.Module{
		Tables:  []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1, Max: &maxSize}}},
		Exports: []wasm.Export{{Name: "tbl", Desc: wasm.ExportDesc{Kind: wasm.KindTable}}},
	},
		fn{name: "grow", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			immIns(wasm.OpRefNull, wasm.RefNullImm{Type: wasm.ValFuncRef}), getLocal(0), misc(wasm.MiscTableGrow, 0),
		}},
		fn{name: "size", typ: sig(nil, i32), code: []wasm.Instruction{misc(wasm.MiscTableSize, 0)}},
		fn{name: "set", typ: sig(vals(i32)), code: []wasm.Instruction{
			getLocal(0), immIns(wasm.OpRefFunc, wasm.RefFuncImm{FuncIdx: 1}), immIns(wasm.OpTableSet, wasm.TableImm{}),
		}},
		fn{name: "isNull", typ: sig(vals(i32), i32), code: []wasm.Instruction{
			getLocal(0), immIns(wasm.OpTableGet, wasm.TableImm{}), ins(wasm.OpRefIsNull),
		}},
	)
	rt := instantiate(t, m)

	require.Equal(t, int32(1), callI32(t, rt, "grow", I32(2)))
	require.Equal(t, int32(3), callI32(t, rt, "size"))
	require.Equal(t, int32(-1), callI32(t, rt, "grow", I32(2)))

	require.Equal(t, int32(1), callI32(t, rt, "isNull", I32(2)))
	_, err := rt.Call(t.Context(), "set", I32(2))
	require.NoError(t, err)
	require.Equal(t, int32(0), callI32(t, rt, "isNull", I32(2)))

	tbl, err := rt.Table("tbl")
	require.NoError(t, err)
	idx, ok := tbl.Elements[2].Ref()
	require.True(t, ok)
	require.Equal(t, uint32(1), idx)

	_, err = rt.Call(t.Context(), "isNull", I32(3))
	require.ErrorIs(t, err, errors.ErrTableOutOfBounds)
}

func globalsModule() *wasm.Module {
	m := &wasm.Module{
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: constExpr(constI32(10))},
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: constExpr(constI32(1))},
		},
		Exports: []wasm.Export{
			{Name: "counter", Desc: wasm.ExportDesc{Kind: wasm.KindGlobal, Idx: 0}},
			{Name: "one", Desc: wasm.ExportDesc{Kind: wasm.KindGlobal, Idx: 1}},
		},
	}
	return buildModule(m,
		fn{name: "inc", typ: sig(nil, i32), code: []wasm.Instruction{
			getGlobal(0), constI32(1), ins(wasm.OpI32Add), setGlobal(0), getGlobal(0),
		}},
		fn{name: "setOne", typ: sig(nil), code: []wasm.Instruction{constI32(5), setGlobal(1)}},
		fn{name: "missing", typ: sig(nil, i32), code: []wasm.Instruction{getGlobal(9)}},
	)
}

func TestGlobalsShared(t *testing.T) {
	rt := instantiate(t, globalsModule())
	counter, err := rt.Global("counter")
	require.NoError(t, err)

	require.Equal(t, int32(11), callI32(t, rt, "inc"))
	require.Equal(t, int32(11), counter.Get().I32())

	require.NoError(t, counter.Set(I32(100)))
	require.Equal(t, int32(101), callI32(t, rt, "inc"))

	_, err = rt.Call(t.Context(), "setOne")
	require.ErrorIs(t, err, errors.Trap(errors.TrapImmutableGlobal))

	one, err := rt.Global("one")
	require.NoError(t, err)
	require.Equal(t, int32(1), one.Get().I32())
	require.Error(t, one.Set(I32(2)))

	_, err = rt.Call(t.Context(), "missing")
	require.ErrorIs(t, err, errors.ErrNotFoundGlobalVariable)
}

func TestExports(t *testing.T) {
	rt := instantiate(t, globalsModule())

	e, err := rt.Exports("inc")
	require.NoError(t, err)
	require.Equal(t, ExternFunc, e.Kind)
	require.Equal(t, sig(nil, i32).String(), e.Func.FuncType().String())

	e, err = rt.Exports("counter")
	require.NoError(t, err)
	require.Equal(t, ExternGlobal, e.Kind)
	require.Same(t, rt.Store().Globals[0], e.Global)

	_, err = rt.Memory("counter")
	require.ErrorIs(t, err, errors.ErrInvalidExport)
	_, err = rt.Exports("nope")
	require.ErrorIs(t, err, errors.ErrNotFoundExport)

	var names []string
	for _, f := range rt.ExportedFunctions() {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"inc", "missing", "setOne"}, names)
}

func TestStartFunction(t *testing.T) {
	t.Run("runs at instantiation", func(t *testing.T) {
		m := buildModule(globalsModule(),
			fn{typ: sig(nil), code: []wasm.Instruction{constI32(42), setGlobal(0)}},
		)
		start := uint32(3)
		m.Start = &start
		rt := instantiate(t, m)

		g, err := rt.Global("counter")
		require.NoError(t, err)
		require.Equal(t, int32(42), g.Get().I32())
		require.Zero(t, rt.Stack().Len())
	})

	t.Run("result is pushed", func(t *testing.T) {
		m := buildModule(nil, fn{typ: sig(nil, i32), code: []wasm.Instruction{constI32(5)}})
		start := uint32(0)
		m.Start = &start
		rt := instantiate(t, m)

		top, err := rt.Stack().Peek()
		require.NoError(t, err)
		require.Equal(t, I32(5), top)
	})

	t.Run("trap fails instantiation", func(t *testing.T) {
		m := buildModule(nil, fn{typ: sig(nil), code: []wasm.Instruction{ins(wasm.OpUnreachable)}})
		start := uint32(0)
		m.Start = &start
		_, err := FromBytes(m.Encode())
		require.ErrorIs(t, err, errors.ErrInstantiation)
		require.ErrorIs(t, err, errors.ErrUnreachable)
	})
}

func TestUnbalancedBody(t *testing.T) {
	tests := map[string][]wasm.Instruction{
		"block without end": {blockIns(wasm.OpBlock, void), end()},
		"else without if":   {ins(wasm.OpElse), end()},
		"trailing code":     {end(), ins(wasm.OpNop)},
	}
	for name, code := range tests {
		t.Run(name, func(t *testing.T) {
			m := &wasm.Module{
				Types: []wasm.FuncType{sig(nil)},
				Funcs: []uint32{0},
				Code:  []wasm.FunctionBody{{Locals: []wasm.ValType{}, Code: code}},
			}
			_, err := NewStore(m, nil)
			var werr *errors.Error
			require.ErrorAs(t, err, &werr)
			require.Equal(t, errors.PhaseInstantiate, werr.Phase)
			require.Equal(t, errors.KindInvalidData, werr.Kind)
		})
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.wasm")
	require.NoError(t, os.WriteFile(path, addModule().Encode(), 0o600))

	rt, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, int32(9), callI32(t, rt, "add", I32(4), I32(5)))

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.wasm"))
	var werr *errors.Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.PhaseLoad, werr.Phase)

	_, err = FromBytes([]byte("not a module"))
	require.ErrorIs(t, err, wasm.ErrInvalidMagic)
}

func TestTraceLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	cfg := DefaultConfig()
	cfg.Trace = true
	rt := instantiate(t, addModule(), WithConfig(cfg))
	require.Equal(t, int32(3), callI32(t, rt, "add", I32(1), I32(2)))

	traced := logs.FilterMessage("exec").All()
	require.Len(t, traced, 4)
	require.Equal(t, "local.get {LocalIdx:0}", traced[0].ContextMap()["instr"])
	require.NotEmpty(t, logs.FilterMessage("store allocated").All())
}
