// Package vm implements a small reference interpreter for compiled
// minilang functions.
//
// It is the evaluator the compiler calls for macros, def initializers and
// :(...) expressions, and what the REPL and tests run programs with.
// This package contains:
//   - closures, maps, iterators and error values
//   - the bytecode interpreter
//   - a prelude of builtins and operator methods
//
// Generators, methods and assignment through references are outside what
// it runs; executing them raises an error.
package vm
