package runtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// invoke calls function idx of the runtime's store with its arguments on
// top of the operand stack and leaves its results there.
func (r *Runtime) invoke(idx uint32) error {
	return r.invokeIn(r.store, idx)
}

func (r *Runtime) invokeIn(store *Store, idx uint32) error {
	if int(idx) >= len(store.Funcs) {
		return errors.NotFound(errors.PhaseRuntime, "function", idx)
	}
	return r.invokeFunc(store.Funcs[idx])
}

// invokeFunc calls fn in the store that owns it.
func (r *Runtime) invokeFunc(fn FuncInst) error {
	switch f := fn.(type) {
	case *InternalFuncInst:
		return r.invokeInternal(f)
	case *ExternalFuncInst:
		return r.invokeExternal(f)
	default:
		return errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("unknown function instance %T", f))
	}
}

func (r *Runtime) invokeInternal(f *InternalFuncInst) error {
	if len(r.frames) >= r.cfg.MaxCallDepth {
		return errors.Trap(errors.TrapCallStackExhausted)
	}

	locals := make([]Value, len(f.Type.Params), len(f.Type.Params)+len(f.Body.Locals))
	for i := len(f.Type.Params) - 1; i >= 0; i-- {
		v, err := r.stack.PopType(f.Type.Params[i])
		if err != nil {
			return err
		}
		locals[i] = v
	}
	for _, t := range f.Body.Locals {
		locals = append(locals, ZeroValue(t))
	}

	frame := &Frame{
		fn:        f,
		store:     r.owner(f.store),
		Locals:    locals,
		Type:      f.Type,
		StackBase: r.stack.Len(),
	}
	frame.pushLabel(Label{
		Kind:         LabelBlock,
		Arity:        len(f.Type.Results),
		Height:       frame.StackBase,
		Continuation: len(f.Body.Code),
		end:          len(f.Body.Code) - 1,
	})

	r.frames = append(r.frames, frame)
	err := r.execute(frame)
	r.frames = r.frames[:len(r.frames)-1]
	if err != nil {
		return err
	}
	return r.stack.unwind(frame.StackBase, len(f.Type.Results))
}

func (r *Runtime) invokeExternal(f *ExternalFuncInst) error {
	importer := findImporter(r.owner(f.store).importers, f.Module)
	if importer == nil {
		return errors.New(errors.PhaseRuntime, errors.KindMissingImport).
			Path(f.Module, f.Field).
			Detail("not found import module %q", f.Module).
			Build()
	}

	before := r.stack.Len()
	if before < len(f.Type.Params) {
		return errors.StackPop()
	}
	if err := importer.Call(r.ctx, r.stack, f.Module, f.Field, f.Type); err != nil {
		var werr *errors.Error
		if errors.As(err, &werr) {
			return err
		}
		return errors.Wrap(errors.PhaseHost, errors.KindTrap, err, f.Module+"."+f.Field)
	}
	if want := before - len(f.Type.Params) + len(f.Type.Results); r.stack.Len() != want {
		return errors.New(errors.PhaseRuntime, errors.KindTrap).
			Path(f.Module, f.Field).
			Expected(fmt.Sprintf("stack height %d", want)).
			Actual(fmt.Sprintf("stack height %d", r.stack.Len())).
			Detail(errors.TrapExternalCallArity).
			Build()
	}
	return nil
}

// owner falls back to the runtime's store for instances built outside one.
func (r *Runtime) owner(s *Store) *Store {
	if s == nil {
		return r.store
	}
	return s
}

// execute runs the body of the frame on top of the call stack.
func (r *Runtime) execute(f *Frame) error {
	code := f.fn.Body.Code
	for f.pc < len(code) && len(f.Labels) > 0 {
		in := code[f.pc]
		if r.cfg.Trace {
			Logger().Debug("exec",
				zap.Int("depth", len(r.frames)),
				zap.Int("pc", f.pc),
				zap.Stringer("instr", in),
				zap.Int("stack", r.stack.Len()))
		}
		f.pc++
		if err := r.step(f, in); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) step(f *Frame, in wasm.Instruction) error {
	s := r.stack
	switch in.Opcode {
	case wasm.OpUnreachable:
		return errors.Trap(errors.TrapUnreachable)
	case wasm.OpNop:
		return nil
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		return r.enterBlock(f, in)
	case wasm.OpElse:
		// Reached only from the end of a taken then-branch.
		if n := len(f.Labels); n > 0 {
			f.pc = f.Labels[n-1].end
		}
		return nil
	case wasm.OpEnd:
		f.popLabel()
		return nil
	case wasm.OpBr:
		return r.branch(f, in.Imm.(wasm.BranchImm).LabelIdx)
	case wasm.OpBrIf:
		c, err := s.PopI32()
		if err != nil {
			return err
		}
		if c != 0 {
			return r.branch(f, in.Imm.(wasm.BranchImm).LabelIdx)
		}
		return nil
	case wasm.OpBrTable:
		imm := in.Imm.(wasm.BrTableImm)
		i, err := s.PopU32()
		if err != nil {
			return err
		}
		depth := imm.Default
		if int(i) < len(imm.Labels) {
			depth = imm.Labels[i]
		}
		return r.branch(f, depth)
	case wasm.OpReturn:
		return r.branch(f, uint32(len(f.Labels)-1))
	case wasm.OpCall:
		return r.invokeIn(f.store, in.Imm.(wasm.CallImm).FuncIdx)
	case wasm.OpCallIndirect:
		return r.callIndirect(f, in.Imm.(wasm.CallIndirectImm))

	case wasm.OpDrop:
		_, err := s.Pop()
		return err
	case wasm.OpSelect, wasm.OpSelectType:
		return selectOp(s, in.Opcode == wasm.OpSelect)

	case wasm.OpLocalGet:
		return localGet(f.Locals, s, in.Imm.(wasm.LocalImm).LocalIdx)
	case wasm.OpLocalSet:
		return localSet(&f.Locals, s, in.Imm.(wasm.LocalImm).LocalIdx)
	case wasm.OpLocalTee:
		return localTee(&f.Locals, s, in.Imm.(wasm.LocalImm).LocalIdx)
	case wasm.OpGlobalGet:
		return globalGet(f.store, s, in.Imm.(wasm.GlobalImm).GlobalIdx)
	case wasm.OpGlobalSet:
		return globalSet(f.store, s, in.Imm.(wasm.GlobalImm).GlobalIdx)

	case wasm.OpTableGet:
		return tableGet(f.store, s, in.Imm.(wasm.TableImm).TableIdx)
	case wasm.OpTableSet:
		return tableSet(f.store, s, in.Imm.(wasm.TableImm).TableIdx)

	case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load,
		wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
		wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U,
		wasm.OpI64Load32S, wasm.OpI64Load32U:
		return load(f.store, s, in.Opcode, in.Imm.(wasm.MemoryImm))
	case wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store,
		wasm.OpI32Store8, wasm.OpI32Store16, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		return storeOp(f.store, s, in.Opcode, in.Imm.(wasm.MemoryImm))
	case wasm.OpMemorySize:
		return memorySize(f.store, s, in.Imm.(wasm.MemoryIdxImm).MemIdx)
	case wasm.OpMemoryGrow:
		return memoryGrow(f.store, s, in.Imm.(wasm.MemoryIdxImm).MemIdx)

	case wasm.OpI32Const:
		s.Push(I32(in.Imm.(wasm.I32Imm).Value))
		return nil
	case wasm.OpI64Const:
		s.Push(I64(in.Imm.(wasm.I64Imm).Value))
		return nil
	case wasm.OpF32Const:
		s.Push(F32(in.Imm.(wasm.F32Imm).Value))
		return nil
	case wasm.OpF64Const:
		s.Push(F64(in.Imm.(wasm.F64Imm).Value))
		return nil

	case wasm.OpI32Popcnt, wasm.OpI64Popcnt:
		return popcnt(s)

	case wasm.OpRefNull:
		s.Push(NullRef(in.Imm.(wasm.RefNullImm).Type))
		return nil
	case wasm.OpRefIsNull:
		v, err := s.PopRef()
		if err != nil {
			return err
		}
		s.Push(boolValue(v.IsNull()))
		return nil
	case wasm.OpRefFunc:
		idx := in.Imm.(wasm.RefFuncImm).FuncIdx
		ref, ok := f.store.funcRef(idx)
		if !ok {
			return errors.NotFound(errors.PhaseRuntime, "function", idx)
		}
		s.Push(ref)
		return nil

	case wasm.OpPrefixMisc:
		return execMisc(f.store, s, in.Imm.(wasm.MiscImm))
	}

	if h := numericOps[in.Opcode]; h != nil {
		return h(s)
	}
	return errors.Unsupported(errors.PhaseRuntime, "opcode "+wasm.OpcodeName(in.Opcode))
}

func (r *Runtime) enterBlock(f *Frame, in wasm.Instruction) error {
	start := f.pc - 1
	params, results, err := blockSig(f.fn.Module.Types, in.Imm.(wasm.BlockImm).Type)
	if err != nil {
		return err
	}

	cond := int32(1)
	if in.Opcode == wasm.OpIf {
		if cond, err = r.stack.PopI32(); err != nil {
			return err
		}
	}

	height := r.stack.Len() - params
	if height < f.StackBase {
		return errors.StackPop()
	}
	end := f.fn.ctl.ends[start]
	l := Label{Height: height, Arity: results, Continuation: end + 1, end: end}
	switch in.Opcode {
	case wasm.OpLoop:
		l.Kind, l.Arity, l.Continuation = LabelLoop, params, start+1
	case wasm.OpIf:
		l.Kind = LabelIf
		if cond == 0 {
			elseAt, ok := f.fn.ctl.elses[start]
			if !ok {
				f.pc = end + 1
				return nil
			}
			f.pc = elseAt + 1
		}
	}
	f.pushLabel(l)
	return nil
}

// branch transfers control to the label depth levels out, keeping the
// label's arity values on top of its stack height.
func (r *Runtime) branch(f *Frame, depth uint32) error {
	if int(depth) >= len(f.Labels) {
		return errors.NotFound(errors.PhaseRuntime, "label", depth)
	}
	i := len(f.Labels) - 1 - int(depth)
	l := f.Labels[i]
	if err := r.stack.unwind(l.Height, l.Arity); err != nil {
		return err
	}
	if l.Kind == LabelLoop {
		f.Labels = f.Labels[:i+1]
	} else {
		f.Labels = f.Labels[:i]
	}
	f.pc = l.Continuation
	return nil
}

// callIndirect dispatches through a table entry. An entry written by
// another store carries its own instance and runs in that store.
func (r *Runtime) callIndirect(f *Frame, imm wasm.CallIndirectImm) error {
	t, err := f.store.table(imm.TableIdx)
	if err != nil {
		return err
	}
	if int(imm.TypeIdx) >= len(f.fn.Module.Types) {
		return errors.NotFoundFuncType(imm.TypeIdx)
	}
	i, err := r.stack.PopU32()
	if err != nil {
		return err
	}
	if i >= t.Size() {
		return errors.Trap(errors.TrapUndefinedElement)
	}
	ref := t.Elements[i]
	idx, ok := ref.Ref()
	if !ok {
		return errors.Trap(errors.TrapUninitializedElement)
	}
	if ref.typ != wasm.ValFuncRef {
		return errors.Trap(errors.TrapUndefinedElement)
	}
	callee := ref.fn
	if callee == nil {
		if int(idx) >= len(f.store.Funcs) {
			return errors.Trap(errors.TrapUndefinedElement)
		}
		callee = f.store.Funcs[idx]
	}
	want := f.fn.Module.Types[imm.TypeIdx]
	if !callee.FuncType().Equal(want) {
		return errors.New(errors.PhaseRuntime, errors.KindTrap).
			Expected(want.String()).
			Actual(callee.FuncType().String()).
			Detail(errors.TrapIndirectCallType).
			Build()
	}
	return r.invokeFunc(callee)
}

func selectOp(s *Stack, untyped bool) error {
	c, err := s.PopI32()
	if err != nil {
		return err
	}
	v2, err := s.Pop()
	if err != nil {
		return err
	}
	v1, err := s.Pop()
	if err != nil {
		return err
	}
	if untyped && v1.typ != v2.typ {
		return errors.UnexpectedStackValueType(v1.typ.String(), v2.typ.String())
	}
	if c != 0 {
		s.Push(v1)
	} else {
		s.Push(v2)
	}
	return nil
}
