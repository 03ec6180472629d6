package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/wasm"
)

type export struct {
	name   string
	typ    wasm.FuncType
	locals []wasm.ValType
	code   []wasm.Instruction
}

func op(code byte) wasm.Instruction { return wasm.Instruction{Opcode: code} }

func with(code byte, imm any) wasm.Instruction { return wasm.Instruction{Opcode: code, Imm: imm} }

func local(i uint32) wasm.Instruction { return with(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: i}) }

func i32c(v int32) wasm.Instruction { return with(wasm.OpI32Const, wasm.I32Imm{Value: v}) }

func i64c(v int64) wasm.Instruction { return with(wasm.OpI64Const, wasm.I64Imm{Value: v}) }

func ft(params []wasm.ValType, results ...wasm.ValType) wasm.FuncType {
	return wasm.FuncType{Params: params, Results: results}
}

func types(ts ...wasm.ValType) []wasm.ValType { return ts }

// addFuncs appends module-defined functions to m, exporting the named ones.
func addFuncs(m *wasm.Module, fns ...export) *wasm.Module {
	base := uint32(m.NumImportedFuncs() + len(m.Funcs))
	for i, f := range fns {
		m.Funcs = append(m.Funcs, m.AddType(f.typ))
		locals := f.locals
		if locals == nil {
			locals = []wasm.ValType{}
		}
		code := append(append([]wasm.Instruction{}, f.code...), op(wasm.OpEnd))
		m.Code = append(m.Code, wasm.FunctionBody{Locals: locals, Code: code})
		if f.name != "" {
			m.Exports = append(m.Exports, wasm.Export{
				Name: f.name,
				Desc: wasm.ExportDesc{Kind: wasm.KindFunc, Idx: base + uint32(i)},
			})
		}
	}
	return m
}

func constExpr(in wasm.Instruction) wasm.ConstExpr { return wasm.ConstExpr{in, op(wasm.OpEnd)} }

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f64 = wasm.ValF64
)

func fixture() *wasm.Module {
	unary := ft(types(i32), i32)
	m := &wasm.Module{
		Types:    []wasm.FuncType{unary},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Tables:   []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}}},
		Elements: []wasm.Element{{
			Mode:   wasm.ElemActive,
			Type:   wasm.ValFuncRef,
			Offset: constExpr(i32c(0)),
			Init: []wasm.ConstExpr{
				constExpr(with(wasm.OpRefFunc, wasm.RefFuncImm{FuncIdx: 8})),
				constExpr(with(wasm.OpRefFunc, wasm.RefFuncImm{FuncIdx: 9})),
			},
		}},
	}
	return addFuncs(m,
		export{name: "fact", typ: ft(types(i64), i64), code: []wasm.Instruction{
			local(0), op(wasm.OpI64Eqz),
			with(wasm.OpIf, wasm.BlockImm{Type: wasm.BlockTypeI64}),
			i64c(1),
			op(wasm.OpElse),
			local(0), local(0), i64c(1), op(wasm.OpI64Sub),
			with(wasm.OpCall, wasm.CallImm{FuncIdx: 0}),
			op(wasm.OpI64Mul),
			op(wasm.OpEnd),
		}},
		export{name: "gcd", typ: ft(types(i32, i32), i32), locals: types(i32), code: []wasm.Instruction{
			with(wasm.OpBlock, wasm.BlockImm{Type: wasm.BlockTypeVoid}),
			with(wasm.OpLoop, wasm.BlockImm{Type: wasm.BlockTypeVoid}),
			local(1), op(wasm.OpI32Eqz), with(wasm.OpBrIf, wasm.BranchImm{LabelIdx: 1}),
			local(0), local(1), op(wasm.OpI32RemU), with(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: 2}),
			local(1), with(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: 0}),
			local(2), with(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: 1}),
			with(wasm.OpBr, wasm.BranchImm{LabelIdx: 0}),
			op(wasm.OpEnd),
			op(wasm.OpEnd),
			local(0),
		}},
		export{name: "div", typ: ft(types(i32, i32), i32), code: []wasm.Instruction{
			local(0), local(1), op(wasm.OpI32DivS),
		}},
		export{name: "hypot", typ: ft(types(f64, f64), f64), code: []wasm.Instruction{
			local(0), local(0), op(wasm.OpF64Mul),
			local(1), local(1), op(wasm.OpF64Mul),
			op(wasm.OpF64Add), op(wasm.OpF64Sqrt),
		}},
		export{name: "sat", typ: ft(types(f64), i32), code: []wasm.Instruction{
			local(0), with(wasm.OpPrefixMisc, wasm.MiscImm{SubOpcode: wasm.MiscI32TruncSatF64S}),
		}},
		export{name: "trunc", typ: ft(types(f64), i32), code: []wasm.Instruction{
			local(0), op(wasm.OpI32TruncF64S),
		}},
		export{name: "mem", typ: ft(types(i32, i64), i32), code: []wasm.Instruction{
			local(0), local(1), with(wasm.OpI64Store, wasm.MemoryImm{}),
			local(0), with(wasm.OpI32Load16S, wasm.MemoryImm{Offset: 4}),
		}},
		export{name: "bits", typ: unary, code: []wasm.Instruction{
			local(0), op(wasm.OpI32Popcnt),
			local(0), i32c(5), op(wasm.OpI32Rotl),
			op(wasm.OpI32Add),
		}},
		export{typ: unary, code: []wasm.Instruction{local(0), i32c(1), op(wasm.OpI32Add)}},
		export{typ: unary, code: []wasm.Instruction{local(0), local(0), op(wasm.OpI32Add)}},
		export{name: "dispatch", typ: ft(types(i32, i32), i32), code: []wasm.Instruction{
			local(1), local(0), with(wasm.OpCallIndirect, wasm.CallIndirectImm{TypeIdx: 0}),
		}},
		export{name: "fmin", typ: ft(types(f64, f64), f64), code: []wasm.Instruction{
			local(0), local(1), op(wasm.OpF64Min),
		}},
		export{name: "pick", typ: unary, code: []wasm.Instruction{
			i32c(10), i32c(20), local(0), op(wasm.OpSelect),
		}},
		export{name: "ext", typ: ft(types(i32), i64), code: []wasm.Instruction{
			local(0), op(wasm.OpI64ExtendI32U), op(wasm.OpI64Extend8S),
		}},
	)
}

// callWazero runs name on a wazero module instance and decodes its results.
func callWazero(ctx context.Context, mod api.Module, name string, args []runtime.Value) ([]runtime.Value, error) {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFoundExport(name)
	}
	params := make([]uint64, len(args))
	for i, a := range args {
		raw, err := toWazero(a)
		if err != nil {
			return nil, err
		}
		params[i] = raw
	}
	raw, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, err
	}
	results := make([]runtime.Value, len(raw))
	for i, t := range fn.Definition().ResultTypes() {
		if results[i], err = fromWazero(wasm.ValType(t), raw[i]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func TestDifferential(t *testing.T) {
	ctx := t.Context()
	bin := fixture().Encode()

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)
	mod, err := r.Instantiate(ctx, bin)
	require.NoError(t, err)

	rt, err := runtime.FromBytes(bin)
	require.NoError(t, err)

	I32, I64, F64 := runtime.I32, runtime.I64, runtime.F64
	tests := []struct {
		name string
		fn   string
		args []runtime.Value
		trap bool
	}{
		{"fact 0", "fact", []runtime.Value{I64(0)}, false},
		{"fact 20", "fact", []runtime.Value{I64(20)}, false},
		{"fact wraps", "fact", []runtime.Value{I64(25)}, false},
		{"gcd", "gcd", []runtime.Value{I32(1071), I32(462)}, false},
		{"gcd unsigned", "gcd", []runtime.Value{I32(-6), I32(4)}, false},
		{"div", "div", []runtime.Value{I32(-7), I32(2)}, false},
		{"div by zero", "div", []runtime.Value{I32(1), I32(0)}, true},
		{"div overflow", "div", []runtime.Value{I32(math.MinInt32), I32(-1)}, true},
		{"hypot", "hypot", []runtime.Value{F64(3), F64(4)}, false},
		{"hypot inf", "hypot", []runtime.Value{F64(math.MaxFloat64), F64(1)}, false},
		{"sat nan", "sat", []runtime.Value{F64(math.NaN())}, false},
		{"sat high", "sat", []runtime.Value{F64(1e12)}, false},
		{"sat low", "sat", []runtime.Value{F64(-1e12)}, false},
		{"trunc", "trunc", []runtime.Value{F64(-3.9)}, false},
		{"trunc nan", "trunc", []runtime.Value{F64(math.NaN())}, true},
		{"trunc overflow", "trunc", []runtime.Value{F64(3e9)}, true},
		{"mem", "mem", []runtime.Value{I32(64), I64(0x0000_8001_0000_0000)}, false},
		{"mem oob", "mem", []runtime.Value{I32(wasm.PageSize - 4), I64(1)}, true},
		{"bits", "bits", []runtime.Value{I32(-0x7ffffff1)}, false},
		{"dispatch inc", "dispatch", []runtime.Value{I32(0), I32(41)}, false},
		{"dispatch dbl", "dispatch", []runtime.Value{I32(1), I32(21)}, false},
		{"dispatch undefined", "dispatch", []runtime.Value{I32(2), I32(1)}, true},
		{"fmin zeros", "fmin", []runtime.Value{F64(0), F64(math.Copysign(0, -1))}, false},
		{"fmin", "fmin", []runtime.Value{F64(-1), F64(2)}, false},
		{"pick true", "pick", []runtime.Value{I32(1)}, false},
		{"pick false", "pick", []runtime.Value{I32(0)}, false},
		{"ext", "ext", []runtime.Value{I32(0x7f)}, false},
		{"ext negative", "ext", []runtime.Value{I32(0x80)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, wantErr := callWazero(ctx, mod, tt.fn, tt.args)
			got, gotErr := rt.Call(ctx, tt.fn, tt.args...)

			if tt.trap {
				require.Error(t, wantErr)
				require.ErrorIs(t, gotErr, errors.ErrTrap)
				require.Zero(t, rt.Stack().Len())
				return
			}
			require.NoError(t, wantErr)
			require.NoError(t, gotErr)
			require.Len(t, want, 1)
			require.NotNil(t, got)
			require.Equal(t, want[0].Type(), got.Type())
			require.Equal(t, want[0].Bits(), got.Bits(), "wazero %s, interpreter %s", want[0], got)
		})
	}
}

func provider() *wasm.Module {
	m := &wasm.Module{
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: i32}, Init: constExpr(i32c(100))},
			{Type: wasm.GlobalType{ValType: i64, Mutable: true}, Init: constExpr(i64c(1))},
		},
		Exports: []wasm.Export{
			{Name: "base", Desc: wasm.ExportDesc{Kind: wasm.KindGlobal, Idx: 0}},
			{Name: "counter", Desc: wasm.ExportDesc{Kind: wasm.KindGlobal, Idx: 1}},
		},
	}
	return addFuncs(m,
		export{name: "add", typ: ft(types(i32, i32), i32), code: []wasm.Instruction{
			local(0), local(1), op(wasm.OpI32Add),
		}},
		export{name: "boom", typ: ft(nil, i32), code: []wasm.Instruction{op(wasm.OpUnreachable)}},
	)
}

func importFunc(m *wasm.Module, name string, typ wasm.FuncType) {
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env",
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: m.AddType(typ)},
	})
}

func importGlobal(m *wasm.Module, name string, typ wasm.GlobalType) {
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env",
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &typ},
	})
}

func newImporter(t *testing.T) *WazeroImporter {
	t.Helper()
	imp, err := NewWazeroImporterWithConfig(t.Context(), "env", provider().Encode(), &Config{Interpreter: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, imp.Close(context.Background())) })
	return imp
}

func TestWazeroImporter(t *testing.T) {
	imp := newImporter(t)
	require.Equal(t, "env", imp.Name())

	m := &wasm.Module{}
	importFunc(m, "add", ft(types(i32, i32), i32))
	importFunc(m, "boom", ft(nil, i32))
	importFunc(m, "missing", ft(nil, i32))
	importGlobal(m, "base", wasm.GlobalType{ValType: i32})
	addFuncs(m,
		export{name: "sum", typ: ft(types(i32, i32), i32), code: []wasm.Instruction{
			local(0), local(1), with(wasm.OpCall, wasm.CallImm{FuncIdx: 0}),
			with(wasm.OpGlobalGet, wasm.GlobalImm{GlobalIdx: 0}),
			op(wasm.OpI32Add),
		}},
		export{name: "boom", typ: ft(nil, i32), code: []wasm.Instruction{with(wasm.OpCall, wasm.CallImm{FuncIdx: 1})}},
		export{name: "missing", typ: ft(nil, i32), code: []wasm.Instruction{with(wasm.OpCall, wasm.CallImm{FuncIdx: 2})}},
	)

	rt, err := runtime.FromModule(m, runtime.WithImporters(imp))
	require.NoError(t, err)

	res, err := rt.Call(t.Context(), "sum", runtime.I32(2), runtime.I32(3))
	require.NoError(t, err)
	require.Equal(t, int32(105), res.I32())

	_, err = rt.Call(t.Context(), "boom")
	var werr *errors.Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.PhaseHost, werr.Phase)
	require.Equal(t, errors.KindTrap, werr.Kind)
	require.Zero(t, rt.Stack().Len())

	_, err = rt.Call(t.Context(), "missing")
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.PhaseHost, werr.Phase)
	require.Equal(t, errors.KindNotFound, werr.Kind)

	res, err = rt.Call(t.Context(), "sum", runtime.I32(-100), runtime.I32(0))
	require.NoError(t, err)
	require.Equal(t, int32(0), res.I32())
}

func TestWazeroImporterResolution(t *testing.T) {
	imp := newImporter(t)

	g, err := imp.ResolveGlobal("env", "base")
	require.NoError(t, err)
	require.Equal(t, runtime.I32(100), g.Get())
	require.False(t, g.Mutable)

	_, err = imp.ResolveGlobal("env", "counter")
	var werr *errors.Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.KindUnsupported, werr.Kind)

	g, err = imp.ResolveGlobal("env", "nope")
	require.NoError(t, err)
	require.Nil(t, g)

	mem, err := imp.ResolveMemory("env", "memory")
	require.NoError(t, err)
	require.Nil(t, mem)

	m := &wasm.Module{}
	importGlobal(m, "counter", wasm.GlobalType{ValType: i64, Mutable: true})
	_, err = runtime.FromModule(m, runtime.WithImporters(imp))
	require.ErrorIs(t, err, errors.ErrNotFoundImportModule)

	m = &wasm.Module{}
	importFunc(m, "add", ft(types(i64, i64), i64))
	addFuncs(m, export{name: "add", typ: ft(types(i64, i64), i64), code: []wasm.Instruction{
		local(0), local(1), with(wasm.OpCall, wasm.CallImm{FuncIdx: 0}),
	}})
	rt, err := runtime.FromModule(m, runtime.WithImporters(imp))
	require.NoError(t, err)
	_, err = rt.Call(t.Context(), "add", runtime.I64(1), runtime.I64(2))
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.KindTypeMismatch, werr.Kind)
}

func TestNewWazeroImporterErrors(t *testing.T) {
	_, err := NewWazeroImporter(t.Context(), "env", []byte("not wasm"))
	var werr *errors.Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.PhaseHost, werr.Phase)

	m := &wasm.Module{}
	importFunc(m, "host", ft(nil))
	_, err = NewWazeroImporter(t.Context(), "env", m.Encode())
	require.ErrorAs(t, err, &werr)
	require.Equal(t, errors.KindInstantiation, werr.Kind)
}
