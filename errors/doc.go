// Package errors provides structured error types for the interpreter.
//
// Errors are categorized by Phase (decode, instantiate, runtime, ...) and Kind
// (error category). The Error type carries a location path, expected/actual type
// names and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
//		Path("func[3]", "local[1]").
//		Expected("i32").
//		Actual("f64").
//		Build()
//
// Or use the constructors for the failures the decoder, store and runtime raise:
//
//	err := errors.NotFoundExport("main")
//	err := errors.Trap(errors.TrapIntegerDivideByZero)
//
// Every error supports errors.Is against the package sentinels. A sentinel matches
// on Phase and Kind, and on Detail when the sentinel sets one:
//
//	if errors.Is(err, errors.ErrTrap) { ... }              // any trap
//	if errors.Is(err, errors.ErrIntegerDivideByZero) { ... } // one trap code
package errors
