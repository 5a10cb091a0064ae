package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// beginFunction switches compilation to a new child function of the
// current one. The finished *bytecode.Func is returned to the frame below
// the child's finishFrame.
func (t *task) beginFunction(owner Expr, params []*Param, extra, named bool, body Expr, constOnly bool) {
	child := newFunction(t.fn, owner, t.c.blockSize)
	child.constOnly = constOnly
	seen := make(map[string]int)
	for i, p := range params {
		if prev, ok := seen[p.Name]; ok {
			t.fail(errorf(ErrName, owner.base().Source, p.Line, "identifier %s redefined (lines %d and %d)", p.Name, prev, p.Line))
			return
		}
		seen[p.Name] = p.Line
		child.declare(&Decl{Ident: p.Name, Line: p.Line, Index: i, Flags: DeclVariable, state: Bound})
		child.params = append(child.params, p.Name)
	}
	child.top, child.size = len(params), len(params)
	if extra {
		child.flags |= bytecode.FuncExtraArgs
	}
	if named {
		child.flags |= bytecode.FuncNamedArgs
	}
	t.fn = child
	t.push(&finishFrame{e: owner})
	t.compile(orNil(body, owner))
}

// finishFunction returns the value of the body and builds the function.
func (t *task) finishFunction(f *finishFrame) {
	fn := t.fn
	b := f.e.base()
	fn.op(b.EndLine, bytecode.OpReturn)
	code, err := fn.b.Finish()
	if err != nil {
		t.fail(internalf("%v", err))
		return
	}
	out := &bytecode.Func{
		Source:    b.Source,
		StartLine: b.StartLine,
		EndLine:   b.EndLine,
		FrameSize: max(fn.size, len(fn.params)),
		NumParams: len(fn.params),
		Flags:     fn.flags,
		Params:    fn.params,
		Decls:     fn.decls,
		Upvalues:  fn.upvalues,
		Code:      code,
	}
	if f.toplevel {
		t.result = out
		t.next = stepDone
		return
	}
	parent := fn.up
	t.fn = parent
	// Captured lets still being initialized get their placeholder now, so
	// the closure shares it with later readers. Captured variables are
	// boxed so assignments on either side are seen by the other.
	for i, src := range fn.upvalues {
		d := fn.upDecls[i]
		switch {
		case src < 0 || d.Flags&DeclConstant != 0:
		case d.state != Bound:
			parent.opCount(b.StartLine, bytecode.OpLocalIndirect, src)
			parent.op(b.StartLine, bytecode.OpPop)
		case d.Flags&(DeclVariable|DeclByRef) == DeclVariable:
			parent.opCount(b.StartLine, bytecode.OpBox, src)
		}
	}
	t.ret(out)
}

func (t *task) resumeFun(f *funFrame, v runtime.Value) {
	code, ok := v.(*bytecode.Func)
	if !ok {
		t.fail(internalf("function compiled to %T", v))
		return
	}
	fn := t.fn
	line := lineOf(f.e)
	fn.emit(bytecode.Inst{Op: bytecode.OpClosure, Line: line, Func: code})
	if _, ok := f.e.(*MethExpr); ok {
		fn.opCount(line, bytecode.OpMethod, f.types)
	}
	t.ret(nil)
}

// desugar rewrites a comprehension as a function of nested for and if
// statements that suspends with each value.
func (e *GeneratorExpr) desugar() *FunExpr {
	if e.desugared != nil {
		return e.desugared
	}
	base := Base{Source: e.Source, StartLine: e.StartLine, EndLine: e.EndLine}
	var clauses []*GenClause
	for c := e.Clauses; c != nil; c = c.Next {
		clauses = append(clauses, c)
	}
	var body Expr = &SuspendExpr{Base: base, Value: e.Value}
	for i := len(clauses) - 1; i >= 0; i-- {
		c := clauses[i]
		cb := Base{Source: e.Source, StartLine: c.Line, EndLine: e.EndLine}
		if c.Filter != nil {
			body = &IfExpr{Base: cb, Cases: &IfCase{Line: c.Line, Cond: c.Filter, Body: body}}
		} else {
			body = &ForExpr{Base: cb, Key: c.Key, Names: c.Names, Unpack: c.Unpack, Seq: c.Seq, Body: body}
		}
	}
	e.desugared = &FunExpr{Base: base, Body: body}
	return e.desugared
}

// ---------------------------------------------------------------------------
// Calls and macros
// ---------------------------------------------------------------------------

func (t *task) compileCall(e *CallExpr) {
	if v, ok := t.constValue(e.Fn); ok {
		if m, ok := v.(*runtime.Macro); ok {
			t.expand(e, m)
			return
		}
	}
	t.args(e, append([]Expr{e.Fn}, Siblings(e.Args)...))
}

// expand calls a macro with its unevaluated arguments and compiles the
// expression it returns in place of the call.
func (t *task) expand(e *CallExpr, m *runtime.Macro) {
	args := Siblings(e.Args)
	if m.Arity >= 0 && len(args) != m.Arity {
		t.failAt(e, ErrMacro, "macro %s expects %d arguments, got %d", m.Name, m.Arity, len(args))
		return
	}
	values := make([]runtime.Value, len(args))
	for i, a := range args {
		values[i] = &ExprValue{Expr: a}
	}
	t.push(&macroFrame{e: e, m: m})
	t.call(e, ErrMacro, m.Fn, values)
}

func (t *task) resumeMacro(f *macroFrame, v runtime.Value) {
	if f.expanded {
		t.ret(v)
		return
	}
	ev, ok := v.(*ExprValue)
	if !ok || ev.Expr == nil {
		t.failAt(f.e, ErrMacro, "macro returned non-expression %s", runtime.Repr(v))
		return
	}
	log.Debugf("expanded %s at %s", f.m, Pos(f.e))
	f.expanded = true
	t.push(f)
	t.compile(ev.Expr)
}
