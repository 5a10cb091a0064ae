// Package bytecode defines the instruction stream produced by the
// compiler and consumed by a virtual machine.
//
// The format is designed around three needs of a single-pass compiler:
//
//   - Stable instruction pointers: instructions live in fixed-size blocks
//     that are never reallocated, so the compiler can hold an *Inst while
//     it compiles the rest of a construct.
//   - Deferred jump resolution: forward jumps name a Label; the Builder
//     records every pending site in a side table and rewrites them all when
//     the label is fixed.
//   - Fixed operand shapes: the opcode alone decides which operand fields of
//     an Inst are meaningful (see OpInfo).
//
// # Blocks
//
// A Code value is a list of blocks of equal capacity. When a block has one
// free slot left, the Builder writes an OpLink pseudo-instruction into it
// whose Target is the first address of the next block. Addresses are flat:
// block*BlockSize + index.
//
// # Stack discipline
//
// Every expression leaves exactly one value on the operand stack. Locals
// share the same stack: OpEnter reserves slots above the current depth and
// OpLeave drops them while keeping the value on top. Func.FrameSize is the
// deepest the stack can get on any path; Verify proves it.
package bytecode
