// Package engine bridges the interpreter to modules running on wazero.
//
// A WazeroImporter compiles a module with wazero and serves its exports as
// imports of an interpreted module:
//
//	imp, err := engine.NewWazeroImporter(ctx, "env", libBytes)
//	if err != nil {
//		return err
//	}
//	defer imp.Close(ctx)
//
//	rt, err := runtime.FromFile("app.wasm", runtime.WithImporters(imp))
//
// Function imports are forwarded on every call. Values cross the boundary
// in wazero's uint64 encoding, so only numeric types are supported.
// Immutable globals are copied once when the importing module is
// instantiated. Tables and memories stay on their own side and never
// resolve.
package engine
