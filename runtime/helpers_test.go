package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interp/wasm"
)

var (
	i32  = wasm.ValI32
	i64  = wasm.ValI64
	f64  = wasm.ValF64
	void = wasm.BlockTypeVoid
)

func sig(params []wasm.ValType, results ...wasm.ValType) wasm.FuncType {
	return wasm.FuncType{Params: params, Results: results}
}

func vals(ts ...wasm.ValType) []wasm.ValType { return ts }

func ins(op byte) wasm.Instruction { return wasm.Instruction{Opcode: op} }

func immIns(op byte, imm any) wasm.Instruction { return wasm.Instruction{Opcode: op, Imm: imm} }

func constI32(v int32) wasm.Instruction { return immIns(wasm.OpI32Const, wasm.I32Imm{Value: v}) }

func constI64(v int64) wasm.Instruction { return immIns(wasm.OpI64Const, wasm.I64Imm{Value: v}) }

func getLocal(i uint32) wasm.Instruction { return immIns(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: i}) }

func setLocal(i uint32) wasm.Instruction { return immIns(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: i}) }

func teeLocal(i uint32) wasm.Instruction { return immIns(wasm.OpLocalTee, wasm.LocalImm{LocalIdx: i}) }

func getGlobal(i uint32) wasm.Instruction {
	return immIns(wasm.OpGlobalGet, wasm.GlobalImm{GlobalIdx: i})
}

func setGlobal(i uint32) wasm.Instruction {
	return immIns(wasm.OpGlobalSet, wasm.GlobalImm{GlobalIdx: i})
}

func blockIns(op byte, bt int32) wasm.Instruction { return immIns(op, wasm.BlockImm{Type: bt}) }

func br(depth uint32) wasm.Instruction { return immIns(wasm.OpBr, wasm.BranchImm{LabelIdx: depth}) }

func brIf(depth uint32) wasm.Instruction { return immIns(wasm.OpBrIf, wasm.BranchImm{LabelIdx: depth}) }

func callIns(idx uint32) wasm.Instruction { return immIns(wasm.OpCall, wasm.CallImm{FuncIdx: idx}) }

func mem(op byte, offset uint32) wasm.Instruction {
	return immIns(op, wasm.MemoryImm{Align: 0, Offset: offset})
}

func misc(sub uint32, operands ...uint32) wasm.Instruction {
	return immIns(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: sub, Operands: operands})
}

func end() wasm.Instruction { return ins(wasm.OpEnd) }

func constExpr(in wasm.Instruction) wasm.ConstExpr {
	return wasm.ConstExpr{in, end()}
}

// fn is one function of a test module.
type fn struct {
	name   string
	typ    wasm.FuncType
	locals []wasm.ValType
	code   []wasm.Instruction
}

// buildModule assembles functions into a module, exporting each named one.
// Bodies get their final end appended.
func buildModule(base *wasm.Module, fns ...fn) *wasm.Module {
	m := base
	if m == nil {
		m = &wasm.Module{}
	}
	funcBase := uint32(m.NumImportedFuncs() + len(m.Funcs))
	for i, f := range fns {
		typeIdx := m.AddType(f.typ)
		m.Funcs = append(m.Funcs, typeIdx)
		locals := f.locals
		if locals == nil {
			locals = []wasm.ValType{}
		}
		code := append(append([]wasm.Instruction{}, f.code...), end())
		m.Code = append(m.Code, wasm.FunctionBody{Locals: locals, Code: code})
		if f.name != "" {
			m.Exports = append(m.Exports, wasm.Export{
				Name: f.name,
				Desc: wasm.ExportDesc{Kind: wasm.KindFunc, Idx: funcBase + uint32(i)},
			})
		}
	}
	return m
}

// instantiate round-trips m through the binary format and instantiates it.
func instantiate(t *testing.T, m *wasm.Module, opts ...Option) *Runtime {
	t.Helper()
	rt, err := FromBytes(m.Encode(), opts...)
	require.NoError(t, err)
	return rt
}

func callI32(t *testing.T, rt *Runtime, name string, args ...Value) int32 {
	t.Helper()
	res, err := rt.Call(t.Context(), name, args...)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, wasm.ValI32, res.Type())
	return res.I32()
}
