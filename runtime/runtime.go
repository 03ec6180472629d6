package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Runtime executes the functions of one instantiated module.
// A Runtime is not safe for concurrent use.
type Runtime struct {
	ctx    context.Context
	store  *Store
	stack  *Stack
	frames []*Frame
	cfg    Config
}

type options struct {
	importers []Importer
	cfg       *Config
}

// Option configures runtime construction.
type Option func(*options)

// WithImporters supplies the importer set. Calling it, even with no
// importers, marks the set as supplied.
func WithImporters(importers ...Importer) Option {
	return func(o *options) {
		o.importers = append([]Importer{}, importers...)
	}
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = &cfg
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FromFile decodes and instantiates the module at path.
func FromFile(path string, opts ...Option) (*Runtime, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Load("open module file", err)
	}
	defer f.Close()
	return FromReader(f, opts...)
}

// FromReader decodes and instantiates a module read from r.
func FromReader(r io.Reader, opts ...Option) (*Runtime, error) {
	m, err := wasm.NewDecoder(r).Decode()
	if err != nil {
		return nil, err
	}
	return FromModule(m, opts...)
}

// FromBytes decodes and instantiates a module held in memory.
func FromBytes(b []byte, opts ...Option) (*Runtime, error) {
	return FromReader(bytes.NewReader(b), opts...)
}

// FromModule instantiates an already decoded module.
func FromModule(m *wasm.Module, opts ...Option) (*Runtime, error) {
	o := applyOptions(opts)
	cfg := DefaultConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := newStore(m, o.importers, cfg)
	if err != nil {
		return nil, err
	}
	return Instantiate(store, opts...)
}

// Instantiate wraps store in a Runtime and runs the start function, if
// any. The start function's result, if it has one, stays on the operand
// stack. A trap in the start function fails instantiation.
func Instantiate(store *Store, opts ...Option) (*Runtime, error) {
	o := applyOptions(opts)
	if o.cfg != nil {
		if err := o.cfg.Validate(); err != nil {
			return nil, err
		}
		store.cfg = *o.cfg
	}

	r := &Runtime{
		ctx:   context.Background(),
		store: store,
		stack: NewStack(),
		cfg:   store.cfg,
	}

	if store.Start != nil {
		Logger().Debug("running start function", zap.Uint32("func", *store.Start))
		if err := r.invoke(*store.Start); err != nil {
			r.reset()
			Logger().Debug("start function trapped", zap.Error(err))
			return nil, errors.Instantiation(err)
		}
	}
	return r, nil
}

// Store returns the store backing the runtime.
func (r *Runtime) Store() *Store { return r.store }

// Stack returns the operand stack.
func (r *Runtime) Stack() *Stack { return r.stack }

// Call invokes the exported function name with args and returns its
// result, or nil when the function has none. Any failure leaves the
// operand stack and call stack empty.
func (r *Runtime) Call(ctx context.Context, name string, args ...Value) (*Value, error) {
	r.ctx = ctx
	defer func() { r.ctx = context.Background() }()

	res, err := r.call(name, args)
	if err != nil {
		r.reset()
		Logger().Debug("call failed", zap.String("func", name), zap.Error(err))
		return nil, err
	}
	return res, nil
}

func (r *Runtime) call(name string, args []Value) (*Value, error) {
	for _, a := range args {
		r.stack.Push(a)
	}

	ext, ok := r.store.Module.Exports[name]
	if !ok {
		return nil, errors.NotFoundExport(name)
	}
	if ext.Kind != ExternFunc {
		return nil, errors.InvalidExport(name, ExternFunc.String(), ext.Kind.String())
	}
	if int(ext.Idx) >= len(r.store.Funcs) {
		return nil, errors.NotFound(errors.PhaseRuntime, "function", ext.Idx)
	}

	ft := r.store.Funcs[ext.Idx].FuncType()
	if err := checkArgs(name, ft, args); err != nil {
		return nil, err
	}
	if len(ft.Results) > 1 {
		return nil, errors.Unsupported(errors.PhaseRuntime, fmt.Sprintf("function %q returns %d results", name, len(ft.Results)))
	}

	if err := r.invoke(ext.Idx); err != nil {
		return nil, err
	}
	if len(ft.Results) == 0 {
		return nil, nil
	}
	v, err := r.stack.PopType(ft.Results[0])
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func checkArgs(name string, ft wasm.FuncType, args []Value) error {
	if len(args) != len(ft.Params) {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(name).
			Expected(fmt.Sprintf("%d arguments", len(ft.Params))).
			Actual(fmt.Sprintf("%d arguments", len(args))).
			Build()
	}
	for i, a := range args {
		if a.typ != ft.Params[i] {
			return errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
				Path(name, fmt.Sprintf("arg[%d]", i)).
				Expected(ft.Params[i].String()).
				Actual(a.typ.String()).
				Build()
		}
	}
	return nil
}

// reset returns the runtime to idle: empty operand stack, no frames.
func (r *Runtime) reset() {
	r.stack.Reset()
	clear(r.frames)
	r.frames = r.frames[:0]
}
