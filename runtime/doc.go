// Package runtime instantiates decoded modules and executes their functions
// on a stack machine.
//
// # Quick Start
//
//	rt, err := runtime.FromFile("add.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := rt.Call(ctx, "add", runtime.I32(1), runtime.I32(2))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.I32()) // 3
//
// # Imports
//
// Modules that declare imports need an importer set. Each Importer serves
// one module name; HostModule builds one from Go functions:
//
//	env := runtime.NewHostModule("env").
//	    Func("print", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}},
//	        func(ctx context.Context, args []runtime.Value) ([]runtime.Value, error) {
//	            fmt.Println(args[0].I32())
//	            return nil, nil
//	        }).
//	    Build()
//	rt, err := runtime.FromBytes(bin, runtime.WithImporters(env))
//
// Imported functions are resolved when called. Imported tables, memories
// and globals are resolved and type checked during instantiation.
//
// # Execution Model
//
// Execution is single-threaded. Tables, memories and globals are shared
// instances: the store, the running code and any Export handle see the same
// cell. A failed Call, trap or otherwise, resets the operand stack and the
// call stack so the next Call starts clean.
//
// Function bodies are not validated before execution; malformed code fails
// at the offending instruction with a stack or type error.
package runtime
