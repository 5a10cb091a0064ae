package compiler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

var log = commonlog.GetLogger("minilang.compiler")

// ---------------------------------------------------------------------------
// Compilation task
// ---------------------------------------------------------------------------

// A compilation is a loop over explicit steps. Each step either compiles
// an expression, hands a value to the frame waiting for it, or fails.
// Frames live on the function being compiled, so the Go stack stays flat
// however deep the tree is, and the loop can stop while the evaluator
// runs a macro or def initializer and resume later from its callback.

type stepKind uint8

const (
	stepNone stepKind = iota
	stepCompile
	stepReturn
	stepFail
	stepWait
	stepDone
)

// frame is a continuation: compilation state waiting for the value of a
// sub-expression. origin is the expression the frame belongs to, used for
// error traces.
type frame interface {
	origin() Expr
}

type task struct {
	c    *Compiler
	ctx  context.Context
	done func(*bytecode.Func, error)

	mu      sync.Mutex
	running bool
	next    stepKind
	expr    Expr
	value   runtime.Value
	err     error

	// call site of the evaluator call being waited on
	callAt  Expr
	callCat Category

	root   Expr
	fn     *function
	result *bytecode.Func
}

func (t *task) compile(e Expr)      { t.next, t.expr = stepCompile, e }
func (t *task) ret(v runtime.Value) { t.next, t.value = stepReturn, v }
func (t *task) fail(err error)      { t.next, t.err = stepFail, err }
func (t *task) push(f frame)        { t.fn.frames = append(t.fn.frames, f) }

func (t *task) failAt(e Expr, cat Category, format string, args ...any) {
	t.fail(errorAt(cat, e, format, args...))
}

func (t *task) start(root Expr) {
	t.root = root
	t.fn = newFunction(nil, root, t.c.blockSize)
	t.push(&finishFrame{e: root, toplevel: true})
	t.compile(root)
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	t.run()
}

func (t *task) run() {
	for {
		t.mu.Lock()
		step := t.next
		if step == stepWait {
			t.running = false
			t.mu.Unlock()
			return
		}
		e, v, err := t.expr, t.value, t.err
		t.next, t.expr, t.value, t.err = stepNone, nil, nil, nil
		t.mu.Unlock()

		switch step {
		case stepCompile:
			if cerr := t.ctx.Err(); cerr != nil {
				t.fail(t.cancelled(e, cerr))
				continue
			}
			t.guard(func() { t.dispatch(e) })
		case stepReturn:
			t.guard(func() { t.resume(v) })
		case stepFail:
			t.unwind(err)
			return
		case stepDone:
			log.Debugf("compiled %s", Pos(t.root))
			t.done(t.result, nil)
			return
		default:
			t.fail(internalf("compilation step left no continuation"))
		}
	}
}

// guard turns an *Error panic raised by a step into a failure.
func (t *task) guard(step func()) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			if e.Source == "" {
				e.Source = Pos(t.root).Source
			}
			t.fail(e)
		}
	}()
	step()
}

func (t *task) cancelled(at Expr, err error) *Error {
	if at == nil {
		at = t.root
	}
	e := errorAt(ErrCompiler, at, "compilation cancelled: %v", err)
	e.Err = err
	return e
}

// resume pops the frame on top of the current function and gives it v.
func (t *task) resume(v runtime.Value) {
	fn := t.fn
	n := len(fn.frames)
	if n == 0 {
		t.fail(internalf("value returned with no waiting frame"))
		return
	}
	f := fn.frames[n-1]
	fn.frames = fn.frames[:n-1]
	switch f := f.(type) {
	case *argsFrame:
		t.resumeArgs(f)
	case *stringFrame:
		t.resumeString(f)
	case *blockFrame:
		t.resumeBlock(f)
	case *catchFrame:
		t.resumeCatch(f)
	case *localFrame:
		t.resumeLocal(f)
	case *evalFrame:
		t.resumeEval(f, v)
	case *assignFrame:
		t.resumeAssign(f)
	case *logicFrame:
		t.resumeLogic(f)
	case *ifFrame:
		t.resumeIf(f)
	case *loopFrame:
		t.resumeLoop(f)
	case *condExitFrame:
		t.resumeCondExit(f)
	case *forFrame:
		t.resumeFor(f)
	case *switchFrame:
		t.resumeSwitch(f)
	case *whenFrame:
		t.resumeWhen(f)
	case *withFrame:
		t.resumeWith(f)
	case *funFrame:
		t.resumeFun(f, v)
	case *macroFrame:
		t.resumeMacro(f, v)
	case *finishFrame:
		t.finishFunction(f)
	default:
		t.fail(internalf("unknown frame %T", f))
	}
}

// unwind discards every frame, recording where each was waiting, and
// reports err.
func (t *task) unwind(err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = t.cancelled(t.root, err)
		e.Category = ErrInternal
	}
	for fn := t.fn; fn != nil; fn = fn.up {
		for i := len(fn.frames) - 1; i >= 0; i-- {
			if at := fn.frames[i].origin(); at != nil {
				p := Pos(at)
				e.AddTrace(p.Source, p.Line)
			}
		}
		fn.frames = nil
	}
	log.Debugf("compile failed: %s", e)
	t.done(nil, e)
}

// ---------------------------------------------------------------------------
// Evaluator calls
// ---------------------------------------------------------------------------

// call runs fn through the evaluator and suspends the task until the
// evaluator's continuation delivers the result to the frame on top.
func (t *task) call(at Expr, cat Category, fn runtime.Value, args []runtime.Value) {
	t.mu.Lock()
	t.next = stepWait
	t.callAt, t.callCat = at, cat
	t.mu.Unlock()
	log.Debugf("calling %s for %s", runtime.Repr(fn), Pos(at))
	t.c.evaluator.Call(t.ctx, fn, args, t.continueWith)
}

func (t *task) continueWith(v runtime.Value, err error) {
	t.mu.Lock()
	if t.next != stepWait {
		t.mu.Unlock()
		log.Warning("evaluator continuation invoked more than once")
		return
	}
	if err != nil {
		t.next, t.err = stepFail, promote(err, t.callAt, t.callCat)
	} else {
		t.next, t.value = stepReturn, v
	}
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()
	t.run()
}

// promote turns an evaluator failure into a compile error at the call
// site. An *Error keeps its category.
func promote(err error, at Expr, cat Category) *Error {
	var e *Error
	if errors.As(err, &e) {
		p := Pos(at)
		e.AddTrace(p.Source, p.Line)
		return e
	}
	e = errorAt(cat, at, "%v", err)
	e.Err = err
	return e
}

func lineOf(e Expr) int { return e.base().StartLine }

func endLineOf(e Expr) int { return e.base().EndLine }

// synthetic returns a nil expression at the position of e, standing in
// for an omitted operand.
func synthetic(e Expr) Expr {
	b := e.base()
	return &NilExpr{Base: Base{Source: b.Source, StartLine: b.StartLine, EndLine: b.EndLine}}
}

func orNil(v, at Expr) Expr {
	if v == nil {
		return synthetic(at)
	}
	return v
}

func internalf(format string, args ...any) *Error {
	return errorf(ErrInternal, "", 0, "%s", fmt.Sprintf(format, args...))
}
