// Package wasm decodes and encodes WebAssembly binary modules.
//
// The decoder covers the 2.0 core format: numeric and reference value
// types, sign-extension ops, saturating truncation, bulk memory and table
// operations. SIMD, threads, GC, exception handling and tail calls are
// rejected with an unsupported error.
//
// # Decoding
//
// A Decoder streams sections from any io.Reader:
//
//	f, _ := os.Open("module.wasm")
//	module, err := wasm.NewDecoder(f).Decode()
//
// or from memory:
//
//	module, err := wasm.ParseModule(data)
//
// The header must be "\0asm" followed by version 1. Section ids outside
// 0..12 are errors. When a section id repeats, the last occurrence wins.
//
// Errors are *errors.Error values from this module's errors package and
// can be matched with errors.Is:
//
//	if errors.Is(err, wasm.ErrInvalidMagic) { ... }
//
// # Module Structure
//
// Each section field of Module is nil when the section was absent and
// non-nil when it was present, even if empty. Module.Has reports presence
// by section id. Function bodies and constant expressions are decoded into
// []Instruction; Instruction.Imm carries a typed immediate (LocalImm,
// BlockImm, MemoryImm, ...).
//
// The decoder does not resolve indices. Validate checks index bounds
// against the assembled index spaces, where imports occupy the low indices.
//
// # Encoding
//
// Encode writes a module back in canonical section order:
//
//	data := module.Encode()
//	again, _ := wasm.ParseModule(data)
package wasm
