package runtime

import (
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// LabelKind is the construct that pushed a label.
type LabelKind byte

const (
	LabelBlock LabelKind = iota
	LabelLoop
	LabelIf
)

func (k LabelKind) String() string {
	switch k {
	case LabelBlock:
		return "block"
	case LabelLoop:
		return "loop"
	case LabelIf:
		return "if"
	}
	return fmt.Sprintf("label(%d)", byte(k))
}

// Label is an entered block, loop or if.
//
// Arity is the number of values a branch to the label carries: the block's
// results, or its params for a loop. Height is the operand stack height
// below the block's params. Continuation is the pc a branch resumes at.
type Label struct {
	Kind         LabelKind
	Arity        int
	Height       int
	Continuation int
	end          int
}

// Frame is the activation record of an internal function call.
type Frame struct {
	fn        *InternalFuncInst
	store     *Store
	Locals    []Value
	Labels    []Label
	Type      wasm.FuncType
	StackBase int
	pc        int
}

func (f *Frame) pushLabel(l Label) {
	f.Labels = append(f.Labels, l)
}

func (f *Frame) popLabel() (Label, bool) {
	n := len(f.Labels)
	if n == 0 {
		return Label{}, false
	}
	l := f.Labels[n-1]
	f.Labels = f.Labels[:n-1]
	return l, true
}

// controlMap records, per structured instruction, the pc of its matching
// else and end.
type controlMap struct {
	ends  map[int]int
	elses map[int]int
}

func buildControlMap(funcIdx int, code []wasm.Instruction) (controlMap, error) {
	ctl := controlMap{ends: make(map[int]int), elses: make(map[int]int)}
	var open []int
	closed := false
	for pc, in := range code {
		if closed {
			return controlMap{}, unbalanced(funcIdx, pc, "instructions after final end")
		}
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			open = append(open, pc)
		case wasm.OpElse:
			if len(open) == 0 || code[open[len(open)-1]].Opcode != wasm.OpIf {
				return controlMap{}, unbalanced(funcIdx, pc, "else without if")
			}
			start := open[len(open)-1]
			if _, dup := ctl.elses[start]; dup {
				return controlMap{}, unbalanced(funcIdx, pc, "second else")
			}
			ctl.elses[start] = pc
		case wasm.OpEnd:
			if len(open) == 0 {
				closed = true
				continue
			}
			ctl.ends[open[len(open)-1]] = pc
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		return controlMap{}, unbalanced(funcIdx, open[len(open)-1], "block without end")
	}
	if !closed {
		return controlMap{}, unbalanced(funcIdx, len(code), "missing final end")
	}
	return ctl, nil
}

func unbalanced(funcIdx, pc int, detail string) error {
	return errors.InvalidData(errors.PhaseInstantiate, []string{fmt.Sprintf("func[%d]", funcIdx), fmt.Sprintf("pc[%d]", pc)}, detail)
}

// blockSig returns the param and result counts of a block type.
func blockSig(types []wasm.FuncType, bt int32) (params, results int, err error) {
	switch bt {
	case wasm.BlockTypeVoid:
		return 0, 0, nil
	case wasm.BlockTypeI32, wasm.BlockTypeI64, wasm.BlockTypeF32, wasm.BlockTypeF64,
		wasm.BlockTypeFunc, wasm.BlockTypeExt:
		return 0, 1, nil
	}
	if bt < 0 || int(bt) >= len(types) {
		return 0, 0, errors.NotFoundFuncType(uint32(bt))
	}
	ft := types[bt]
	return len(ft.Params), len(ft.Results), nil
}
