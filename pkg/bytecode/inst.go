package bytecode

import (
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// Jump target sentinels.
const (
	// NoTarget marks an OpTry that removes the active handler.
	NoTarget = -1
	// Pending marks a jump slot whose label has not been fixed yet.
	Pending = -2
)

// DeclInfo describes a declaration for debuggers and disassembly.
type DeclInfo struct {
	Name string
	Line int
	Slot int
}

// Inst is one instruction. Which operand fields are meaningful is decided
// by OpInfo(Op).Shape.
type Inst struct {
	Op     Opcode
	Line   int
	Target int
	Count  int
	Value  runtime.Value
	Chars  string
	Decls  []DeclInfo
	Table  []int
	Func   *Func
}

// Code is a block-linked instruction stream.
type Code struct {
	BlockSize int
	Blocks    [][]Inst
}

// At returns the instruction at addr, or nil if addr is out of range.
func (c *Code) At(addr int) *Inst {
	if addr < 0 || c.BlockSize <= 0 {
		return nil
	}
	b, i := addr/c.BlockSize, addr%c.BlockSize
	if b >= len(c.Blocks) || i >= len(c.Blocks[b]) {
		return nil
	}
	return &c.Blocks[b][i]
}

// Len returns one past the highest address in use.
func (c *Code) Len() int {
	if len(c.Blocks) == 0 {
		return 0
	}
	last := len(c.Blocks) - 1
	return last*c.BlockSize + len(c.Blocks[last])
}

// Walk calls fn for every instruction in address order, including links.
func (c *Code) Walk(fn func(addr int, in *Inst)) {
	for b := range c.Blocks {
		for i := range c.Blocks[b] {
			fn(b*c.BlockSize+i, &c.Blocks[b][i])
		}
	}
}

// FuncFlags describe how a function accepts its arguments.
type FuncFlags uint8

const (
	// FuncExtraArgs collects surplus positional arguments into the last parameter.
	FuncExtraArgs FuncFlags = 1 << iota
	// FuncNamedArgs collects named arguments into the last parameter.
	FuncNamedArgs
)

// Func is a compiled function: the closure descriptor handed to the VM.
type Func struct {
	Source    string
	StartLine int
	EndLine   int

	Entry     int
	FrameSize int
	NumParams int
	Flags     FuncFlags
	Params    []string

	// Decls lists every declaration of the function, for line and
	// variable information.
	Decls []DeclInfo

	// Upvalues says where each captured value comes from in the function
	// that creates the closure: a slot index when >= 0, otherwise the
	// creator's upvalue -1-i.
	Upvalues []int

	Code *Code
}

// UpvalueSource decodes an entry of Func.Upvalues.
func UpvalueSource(u int) (slot int, isLocal bool) {
	if u >= 0 {
		return u, true
	}
	return -1 - u, false
}

// Funcs returns fn and every function nested in it, depth first.
func (fn *Func) Funcs() []*Func {
	out := []*Func{fn}
	if fn.Code == nil {
		return out
	}
	fn.Code.Walk(func(_ int, in *Inst) {
		if in.Op == OpClosure && in.Func != nil {
			out = append(out, in.Func.Funcs()...)
		}
	})
	return out
}
