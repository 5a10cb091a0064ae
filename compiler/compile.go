package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// dispatch compiles e. Every rule leaves exactly one value on the stack
// and finishes with ret, fail, compile of a sub-expression with a frame
// pushed, or an evaluator call.
func (t *task) dispatch(e Expr) {
	if e == nil {
		t.fn.op(0, bytecode.OpNil)
		t.ret(nil)
		return
	}
	fn := t.fn
	line := lineOf(e)
	switch e := e.(type) {
	case *NilExpr, *BlankExpr:
		fn.op(line, bytecode.OpNil)
		t.ret(nil)
	case *ValueExpr:
		fn.constant(line, e.Value)
		t.ret(e.Value)
	case *IdentExpr:
		t.compileIdent(e)
	case *OldExpr:
		if len(fn.olds) == 0 {
			t.failAt(e, ErrCompiler, "old used outside an assignment")
			return
		}
		o := fn.olds[len(fn.olds)-1]
		fn.opCount(line, o.op, o.index)
		t.ret(nil)
	case *StringExpr:
		fn.op(line, bytecode.OpStringNew)
		t.stringParts(&stringFrame{e: e, parts: Siblings(e.Parts)})
	case *AssignExpr:
		t.compileAssign(e)
	case *CallExpr:
		t.compileCall(e)
	case *ConstCallExpr:
		t.args(e, Siblings(e.Args))
	case *ResolveExpr:
		if v, ok := t.constValue(e); ok {
			fn.constant(line, v)
			t.ret(v)
			return
		}
		t.args(e, []Expr{e.Parent})
	case *LogicExpr:
		t.push(&logicFrame{e: e, end: fn.b.NewLabel()})
		t.compile(e.Left)
	case *NotExpr:
		t.args(e, []Expr{e.Arg})
	case *IfExpr:
		t.compileIf(e)
	case *LoopExpr:
		t.compileLoop(e)
	case *CondExitExpr:
		t.compileCondExit(e)
	case *ExitExpr:
		if len(fn.loops) == 0 {
			t.failAt(e, ErrCompiler, "exit not in loop")
			return
		}
		t.args(e, []Expr{orNil(e.Value, e)})
	case *NextExpr:
		t.compileNext(e)
	case *ForExpr:
		t.push(&forFrame{e: e, stage: forSeq})
		t.compile(e.Seq)
	case *EachExpr:
		t.args(e, []Expr{e.Seq})
	case *BlockExpr:
		t.compileBlock(e)
	case *LocalExpr:
		t.compileLocal(e)
	case *FunExpr:
		t.push(&funFrame{e: e})
		t.beginFunction(e, e.Params, e.Extra, e.Named, e.Body, false)
	case *MethExpr:
		fn.constant(line, runtime.MethodFor(e.Name))
		types := make([]Expr, 0, len(e.Params))
		for _, p := range e.Params {
			types = append(types, orNil(p.Type, e))
		}
		t.args(e, types)
	case *RetExpr:
		t.args(e, []Expr{orNil(e.Value, e)})
	case *SuspendExpr:
		if e.Key != nil {
			t.args(e, []Expr{e.Key, orNil(e.Value, e)})
		} else {
			t.args(e, []Expr{orNil(e.Value, e)})
		}
	case *WithExpr:
		t.compileWith(e)
	case *SwitchExpr:
		t.push(&switchFrame{e: e, cases: Siblings(e.Cases)})
		t.compile(e.Subject)
	case *WhenExpr:
		t.compileWhen(e)
	case *ListExpr:
		t.args(e, Siblings(e.Elems))
	case *MapExpr:
		t.args(e, Siblings(e.Entries))
	case *InlineExpr:
		t.push(&evalFrame{e: e})
		t.beginFunction(e, nil, false, false, e.Value, true)
	case *QuoteExpr:
		t.args(e, Siblings(e.Args))
	case *UnquoteExpr:
		t.failAt(e, ErrCompiler, "unquote outside a quoted expression")
	case *GeneratorExpr:
		g := e.desugar()
		t.push(&funFrame{e: e})
		t.beginFunction(g, nil, false, false, g.Body, false)
	case *RetryExpr:
		if fn.handler == nil {
			t.failAt(e, ErrCompiler, "retry not in handler")
			return
		}
		d := fn.top
		fn.jump(line, bytecode.OpRetry, fn.handler.retry, fn.handler.depth)
		fn.top = d + 1
		t.ret(nil)
	default:
		t.fail(internalf("cannot compile %s expression", e.Kind()))
	}
}

// ---------------------------------------------------------------------------
// Argument lists
// ---------------------------------------------------------------------------

// args compiles items in order and then finishes owner.
func (t *task) args(owner Expr, items []Expr) {
	if len(items) == 0 {
		t.finishArgs(owner, 0)
		return
	}
	t.push(&argsFrame{e: owner, items: items, i: 1})
	t.compile(items[0])
}

func (t *task) resumeArgs(f *argsFrame) {
	if f.i < len(f.items) {
		e := f.items[f.i]
		f.i++
		t.push(f)
		t.compile(e)
		return
	}
	t.finishArgs(f.e, len(f.items))
}

func (t *task) finishArgs(owner Expr, n int) {
	fn := t.fn
	line := lineOf(owner)
	switch e := owner.(type) {
	case *CallExpr:
		fn.opCount(line, bytecode.OpCall, n-1)
	case *ConstCallExpr:
		fn.emit(bytecode.Inst{Op: bytecode.OpConstCall, Line: line, Value: e.Fn, Count: n})
	case *ResolveExpr:
		fn.emit(bytecode.Inst{Op: bytecode.OpResolve, Line: line, Value: e.Name})
	case *NotExpr:
		fn.op(line, bytecode.OpNot)
	case *ListExpr:
		op := bytecode.OpList
		if e.Op == KindTuple {
			op = bytecode.OpTuple
		}
		fn.opCount(line, op, n)
	case *MapExpr:
		fn.opCount(line, bytecode.OpMap, n/2)
	case *SuspendExpr:
		fn.opCount(line, bytecode.OpSuspend, n)
		fn.op(line, bytecode.OpResume)
	case *QuoteExpr:
		fn.emit(bytecode.Inst{Op: bytecode.OpQuote, Line: line, Value: &ExprValue{Expr: e.Body}, Count: n})
	case *RetExpr:
		d := fn.top
		fn.op(line, bytecode.OpReturn)
		fn.top = d
	case *ExitExpr:
		rec := fn.loops[len(fn.loops)-1]
		t.exitLoop(line, rec)
	case *EachExpr:
		t.compileEach(e)
	case *MethExpr:
		t.push(&funFrame{e: e, types: n})
		t.beginFunction(e, e.Params, e.Extra, false, e.Body, false)
		return
	default:
		t.fail(internalf("no argument rule for %s", owner.Kind()))
		return
	}
	t.ret(nil)
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func (t *task) stringParts(f *stringFrame) {
	fn := t.fn
	for f.i < len(f.parts) {
		p := f.parts[f.i]
		f.i++
		if v, ok := p.(*ValueExpr); ok {
			if s, ok := v.Value.(string); ok {
				fn.emit(bytecode.Inst{Op: bytecode.OpStringChars, Line: v.StartLine, Chars: s, Count: len(s)})
				continue
			}
		}
		t.push(f)
		t.compile(p)
		return
	}
	fn.op(f.e.EndLine, bytecode.OpStringEnd)
	t.ret(nil)
}

func (t *task) resumeString(f *stringFrame) {
	t.fn.opCount(lineOf(f.parts[f.i-1]), bytecode.OpStringAdd, 1)
	t.stringParts(f)
}

// ---------------------------------------------------------------------------
// Logic
// ---------------------------------------------------------------------------

func (t *task) resumeLogic(f *logicFrame) {
	fn := t.fn
	if f.done {
		fn.bind(f.end, fn.top)
		t.ret(nil)
		return
	}
	op := bytecode.OpAnd
	if f.e.Op == KindOr {
		op = bytecode.OpOr
	}
	fn.jump(f.e.StartLine, op, f.end, 0)
	f.done = true
	t.push(f)
	t.compile(f.e.Right)
}
