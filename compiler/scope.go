package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// DeclFlags describe how a declaration may be used.
type DeclFlags uint8

const (
	DeclConstant DeclFlags = 1 << iota // def: value known while compiling
	DeclForward                        // referenced before its initializer finished
	DeclBackfill                       // completion must resolve forward readers
	DeclByRef                          // ref: assignment goes through the bound reference
	DeclVariable                       // assignable; boxed when a closure captures it
)

// BindState is the state of a declaration's binding.
type BindState uint8

const (
	Unbound BindState = iota // initializer in progress
	Forward                  // initializer in progress, already referenced
	Bound                    // initializer finished
)

func (s BindState) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Forward:
		return "forward"
	}
	return "bound"
}

// Decl is a compile-time binding. Decls of one function form a chain
// through next, innermost first.
type Decl struct {
	Ident string
	Line  int
	Index int // stack slot, -1 for constants
	Flags DeclFlags

	state   BindState
	value   runtime.Value    // Bound constants
	forward *runtime.Forward // placeholder handed out while Forward
	next    *Decl
}

// State returns the binding state.
func (d *Decl) State() BindState { return d.state }

// Value returns the constant value of a bound def.
func (d *Decl) Value() (runtime.Value, bool) {
	if d.Flags&DeclConstant == 0 || d.state != Bound {
		return nil, false
	}
	return d.value, true
}

// markForward records a reference made while the initializer runs.
func (d *Decl) markForward() {
	switch d.state {
	case Unbound:
		d.state = Forward
		d.Flags |= DeclForward | DeclBackfill
		if d.Flags&DeclConstant != 0 {
			d.forward = &runtime.Forward{Name: d.Ident}
		}
	case Bound:
		panic(errorf(ErrInternal, "", d.Line, "forward reference to bound %s", d.Ident))
	}
}

// bind finishes the initializer. Binding twice is an internal error.
func (d *Decl) bind(v runtime.Value) {
	if d.state == Bound {
		panic(errorf(ErrInternal, "", d.Line, "%s bound twice", d.Ident))
	}
	if d.forward != nil {
		d.forward.Set(v)
	}
	d.state, d.value = Bound, v
}

func (d *Decl) info() bytecode.DeclInfo {
	return bytecode.DeclInfo{Name: d.Ident, Line: d.Line, Slot: d.Index}
}

// lookup finds name in the chain starting at d.
func lookup(d *Decl, name string) *Decl {
	for ; d != nil; d = d.next {
		if d.Ident == name {
			return d
		}
	}
	return nil
}

// loopRecord is an enclosing loop of the function being compiled.
type loopRecord struct {
	exit, next           bytecode.Label
	exitDepth, nextDepth int
	try                  *tryRecord // active on entry
}

// tryRecord is an active error handler.
type tryRecord struct {
	handler bytecode.Label
	retry   bytecode.Label
	depth   int
	up      *tryRecord
}

// oldRef says how `old` reads the value being replaced by an assignment.
type oldRef struct {
	op    bytecode.Opcode
	index int
}

// function is the compilation context of one function body, the toplevel
// included.
type function struct {
	up    *function
	owner Expr

	b     *bytecode.Builder
	scope *Decl
	// pending maps the declarations of entered blocks to their decls until
	// their statements are reached.
	pending map[*DeclSpec]*Decl

	loops   []*loopRecord
	try     *tryRecord
	handler *tryRecord // try whose on clause is being compiled
	olds    []*oldRef

	upvalues []int
	upDecls  []*Decl
	captured map[*Decl]int

	top, size int
	frames    []frame
	decls     []bytecode.DeclInfo

	params    []string
	flags     bytecode.FuncFlags
	constOnly bool
}

func newFunction(up *function, owner Expr, blockSize int) *function {
	return &function{
		up:       up,
		owner:    owner,
		b:        bytecode.NewBuilder(blockSize),
		pending:  make(map[*DeclSpec]*Decl),
		captured: make(map[*Decl]int),
	}
}

// declare adds a decl to the front of the scope chain.
func (fn *function) declare(d *Decl) {
	d.next = fn.scope
	fn.scope = d
	if d.Index >= 0 {
		fn.decls = append(fn.decls, d.info())
	}
}

// capture returns the index of the upvalue of fn through which it reads
// d, a decl of owner, adding upvalues along the way.
func (fn *function) capture(owner *function, d *Decl) int {
	var chain []*function
	for f := fn; f != owner; f = f.up {
		chain = append(chain, f)
	}
	source := d.Index
	index := -1
	for i := len(chain) - 1; i >= 0; i-- {
		f := chain[i]
		idx, ok := f.captured[d]
		if !ok {
			idx = len(f.upvalues)
			f.upvalues = append(f.upvalues, source)
			f.upDecls = append(f.upDecls, d)
			f.captured[d] = idx
		}
		source = -1 - idx
		index = idx
	}
	return index
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (fn *function) apply(in *bytecode.Inst) {
	pop, push := in.Effect()
	fn.top += push - pop
	if fn.top > fn.size {
		fn.size = fn.top
	}
}

// emit appends in and tracks its stack effect.
func (fn *function) emit(in bytecode.Inst) *bytecode.Inst {
	p := fn.b.Emit(in.Line, in.Op)
	*p = in
	fn.apply(p)
	return p
}

func (fn *function) op(line int, op bytecode.Opcode) *bytecode.Inst {
	return fn.emit(bytecode.Inst{Op: op, Line: line})
}

func (fn *function) opCount(line int, op bytecode.Opcode, count int) *bytecode.Inst {
	return fn.emit(bytecode.Inst{Op: op, Line: line, Count: count})
}

func (fn *function) constant(line int, v runtime.Value) *bytecode.Inst {
	if v == nil {
		return fn.op(line, bytecode.OpNil)
	}
	return fn.emit(bytecode.Inst{Op: bytecode.OpConst, Line: line, Value: v})
}

// jump emits a jump to l.
func (fn *function) jump(line int, op bytecode.Opcode, l bytecode.Label, count int) *bytecode.Inst {
	p := fn.b.EmitJump(line, op, l)
	p.Count = count
	fn.apply(p)
	return p
}

// bind fixes l here; code reached only through l starts at depth.
func (fn *function) bind(l bytecode.Label, depth int) {
	fn.b.Bind(l)
	fn.top = depth
	if depth > fn.size {
		fn.size = depth
	}
}

// restoreTry emits the OpTry that makes rec the active handler.
func (fn *function) restoreTry(line int, rec *tryRecord) {
	if rec == nil {
		fn.emit(bytecode.Inst{Op: bytecode.OpTry, Line: line, Target: bytecode.NoTarget})
		return
	}
	p := fn.b.EmitJump(line, bytecode.OpTry, rec.handler)
	p.Count = rec.depth
}
