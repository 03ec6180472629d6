// Package wasminterp is a WebAssembly core module interpreter written in Go.
//
// Modules are decoded from the binary format, instantiated into a store and
// executed one instruction at a time on an explicit operand stack. There is
// no compilation step and no cgo.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasminterp/
//	├── wasm/            Binary decoder, encoder, module types and validation
//	├── runtime/         Store, instances, operand stack and the interpreter loop
//	├── engine/          Importer serving exports of a module running on wazero
//	├── errors/          Structured error types for debugging
//	├── cmd/run/         Command line runner with an interactive mode
//	└── examples/basic/  Embedding example with Go host functions
//
// # Quick Start
//
// Load a module and call an export:
//
//	rt, err := runtime.FromFile("add.wasm")
//	if err != nil {
//		return err
//	}
//	res, err := rt.Call(ctx, "add", runtime.I32(1), runtime.I32(2))
//
// Modules with imports need importers, either Go functions built with
// runtime.NewHostModule or another module served by engine.WazeroImporter:
//
//	env := runtime.NewHostModule("env").
//		Func("log", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, logFn).
//		Build()
//	rt, err := runtime.FromFile("app.wasm", runtime.WithImporters(env))
//
// # Errors
//
// Every error returned by the public API is an *errors.Error carrying the
// phase that failed (decode, instantiate, runtime, load, config or host) and
// a kind. Traps are runtime errors of kind trap whose Detail names the trap:
//
//	if errors.Is(err, errors.ErrIntegerDivideByZero) { ... }
//
// A trap leaves the runtime usable: the operand stack and call stack are
// cleared before Call returns.
package wasminterp
