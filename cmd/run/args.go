package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))
)

func parseArgs(params []wasm.ValType, args []string) ([]runtime.Value, error) {
	if len(args) != len(params) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(params), len(args))
	}
	values := make([]runtime.Value, len(args))
	for i, a := range args {
		v, err := parseValue(a, params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

// parseValue converts s to a value of type t. Integers accept Go literal
// syntax and the full unsigned range of their width.
func parseValue(s string, t wasm.ValType) (runtime.Value, error) {
	s = strings.TrimSpace(s)
	switch t {
	case wasm.ValI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return runtime.I32(int32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return runtime.Value{}, fmt.Errorf("invalid i32 %q", s)
		}
		return runtime.I32(int32(uint32(v))), nil
	case wasm.ValI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return runtime.I64(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return runtime.Value{}, fmt.Errorf("invalid i64 %q", s)
		}
		return runtime.I64(int64(v)), nil
	case wasm.ValF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return runtime.Value{}, fmt.Errorf("invalid f32 %q", s)
		}
		return runtime.F32(float32(v)), nil
	case wasm.ValF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return runtime.Value{}, fmt.Errorf("invalid f64 %q", s)
		}
		return runtime.F64(v), nil
	case wasm.ValFuncRef, wasm.ValExtern:
		if s == "null" {
			return runtime.NullRef(t), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil || v == math.MaxUint32 {
			return runtime.Value{}, fmt.Errorf("invalid %s %q", t, s)
		}
		if t == wasm.ValFuncRef {
			return runtime.FuncRef(uint32(v)), nil
		}
		return runtime.ExternRef(uint32(v)), nil
	}
	return runtime.Value{}, fmt.Errorf("unsupported parameter type %s", t)
}

func formatResult(v *runtime.Value) string {
	if v == nil {
		return "(no result)"
	}
	return v.String()
}

func formatFunc(f runtime.FunctionExport) string {
	params := make([]string, len(f.Type.Params))
	for i, p := range f.Type.Params {
		params[i] = typeStyle.Render(p.String())
	}
	out := funcStyle.Render(f.Name) + "(" + strings.Join(params, ", ") + ")"
	if len(f.Type.Results) > 0 {
		results := make([]string, len(f.Type.Results))
		for i, r := range f.Type.Results {
			results[i] = typeStyle.Render(r.String())
		}
		out += " -> " + strings.Join(results, ", ")
	}
	return out
}
