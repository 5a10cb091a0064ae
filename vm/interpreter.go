package vm

import (
	"context"
	"errors"
	"strings"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// MaxCallDepth bounds nested calls of one run.
const MaxCallDepth = 512

// checkInterval is how many instructions run between context checks.
const checkInterval = 1024

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter runs compiled functions. It is not safe for concurrent use;
// an Evaluator creates one per call.
type Interpreter struct {
	ctx     context.Context
	methods *MethodTable
	depth   int
	steps   int
}

// NewInterpreter creates an interpreter dispatching operators through
// methods.
func NewInterpreter(ctx context.Context, methods *MethodTable) *Interpreter {
	if methods == nil {
		methods = DefaultMethods()
	}
	return &Interpreter{ctx: ctx, methods: methods}
}

// Call calls fn with args.
func (i *Interpreter) Call(fn Value, args []Value) (Value, error) {
	for n, a := range args {
		args[n] = deref(a)
	}
	switch f := deref(fn).(type) {
	case *Closure:
		return i.execute(f.Func, f.Upvalues, args)
	case *bytecode.Func:
		if len(f.Upvalues) > 0 {
			return nil, errorf("CallError", "function at %s:%d needs a closure", f.Source, f.StartLine)
		}
		return i.execute(f, nil, args)
	case *runtime.Builtin:
		v, err := f.Fn(args)
		if err != nil {
			return nil, raised(err)
		}
		return v, nil
	case *runtime.Method:
		return i.methods.Call(f, args)
	case *runtime.Macro:
		return i.Call(f.Fn, args)
	default:
		return nil, errorf("CallError", "%s is not callable", runtime.Repr(fn))
	}
}

// raised converts a Go error into an *Error value.
func raised(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Type: "Error", Message: err.Error()}
}

// frame is the execution state of one function call.
type frame struct {
	fn       *bytecode.Func
	upvalues []Value
	stack    []Value
	ip       int

	handler      int
	handlerDepth int
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) top() Value { return f.stack[len(f.stack)-1] }

func (f *frame) popN(n int) []Value {
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

// drop removes n values below the top.
func (f *frame) drop(n int) {
	v := f.pop()
	f.stack = f.stack[:len(f.stack)-n]
	f.push(v)
}

func (i *Interpreter) bindArgs(fn *bytecode.Func, args []Value) []Value {
	stack := make([]Value, fn.NumParams, fn.FrameSize+1)
	n := fn.NumParams
	if fn.Flags&(bytecode.FuncExtraArgs|bytecode.FuncNamedArgs) != 0 && n > 0 {
		n--
		if len(args) > n {
			stack[n] = append([]Value(nil), args[n:]...)
		} else {
			stack[n] = []Value{}
		}
	}
	copy(stack[:n], args)
	return stack
}

func (i *Interpreter) execute(fn *bytecode.Func, upvalues []Value, args []Value) (Value, error) {
	if i.depth >= MaxCallDepth {
		return nil, errorf("CallError", "call depth exceeds %d", MaxCallDepth)
	}
	i.depth++
	defer func() { i.depth-- }()

	f := &frame{fn: fn, upvalues: upvalues, stack: i.bindArgs(fn, args), ip: fn.Entry, handler: bytecode.NoTarget}
	for {
		i.steps++
		if i.steps%checkInterval == 0 {
			if err := i.ctx.Err(); err != nil {
				return nil, err
			}
		}
		v, done, err := i.step(f)
		if err == nil {
			if done {
				return v, nil
			}
			continue
		}
		var e *Error
		if !errors.As(err, &e) || f.handler == bytecode.NoTarget {
			return nil, err
		}
		f.stack = f.stack[:f.handlerDepth]
		f.push(e)
		f.ip = f.handler
		f.handler = bytecode.NoTarget
	}
}

// step executes one instruction. done reports a return with v.
func (i *Interpreter) step(f *frame) (v Value, done bool, err error) {
	in := f.fn.Code.At(f.ip)
	if in == nil {
		return nil, false, errorf("InternalError", "control left the code at %d", f.ip)
	}
	f.ip++
	switch in.Op {
	case bytecode.OpLink, bytecode.OpJump:
		f.ip = in.Target
	case bytecode.OpNil:
		f.push(nil)
	case bytecode.OpConst:
		f.push(in.Value)
	case bytecode.OpPop:
		f.pop()
	case bytecode.OpDup:
		f.push(f.top())

	case bytecode.OpLocal:
		f.push(deref(f.stack[in.Count]))
	case bytecode.OpLocalIndirect:
		s := f.stack[in.Count]
		if s == nil {
			s = &cell{}
			f.stack[in.Count] = s
		}
		f.push(deref(s))
	case bytecode.OpUpvalue:
		f.push(deref(f.upvalues[in.Count]))
	case bytecode.OpAssignLocal:
		f.stack[in.Count] = store(f.stack[in.Count], f.top())
	case bytecode.OpVar, bytecode.OpLet, bytecode.OpRef:
		f.stack[in.Count] = f.top()
	case bytecode.OpBox:
		if _, ok := f.stack[in.Count].(*cell); !ok {
			f.stack[in.Count] = &cell{value: f.stack[in.Count], set: true}
		}
	case bytecode.OpLetBackfill:
		if c, ok := f.stack[in.Count].(*cell); ok {
			c.value, c.set = f.top(), true
		}
		f.stack[in.Count] = f.top()
	case bytecode.OpAssignUpvalue:
		f.upvalues[in.Count] = store(f.upvalues[in.Count], f.top())
	case bytecode.OpAssign:
		return nil, false, errorf("TypeError", "assignment through a reference is not supported")
	case bytecode.OpUnpack:
		elems, err := unpack(f.pop(), in.Count)
		if err != nil {
			return nil, false, err
		}
		f.stack = append(f.stack, elems...)
	case bytecode.OpSymbols:
		src := f.pop()
		ns, ok := src.(runtime.Namespace)
		if !ok {
			return nil, false, errorf("TypeError", "cannot destructure %s by name", runtime.Repr(src))
		}
		for _, d := range in.Decls {
			m, _ := ns.Resolve(d.Name)
			f.push(m)
		}
	case bytecode.OpEnter:
		for range in.Decls {
			f.push(nil)
		}
	case bytecode.OpLeave:
		f.drop(in.Count)

	case bytecode.OpExit:
		f.drop(in.Count)
		f.ip = in.Target
	case bytecode.OpGoto:
		f.stack = f.stack[:len(f.stack)-in.Count]
		f.ip = in.Target
	case bytecode.OpIfNil:
		if f.pop() == nil {
			f.ip = in.Target
		}
	case bytecode.OpIfNotNil:
		if f.pop() != nil {
			f.ip = in.Target
		}
	case bytecode.OpAnd:
		if f.top() == nil {
			f.ip = in.Target
		} else {
			f.pop()
		}
	case bytecode.OpOr:
		if f.top() != nil {
			f.ip = in.Target
		} else {
			f.pop()
		}
	case bytecode.OpNot:
		if f.pop() == nil {
			f.push(true)
		} else {
			f.push(nil)
		}
	case bytecode.OpSwitch:
		n, ok := f.pop().(int64)
		last := len(in.Table) - 1
		if !ok || n < 0 || n >= int64(last) {
			f.ip = in.Table[last]
		} else {
			f.ip = in.Table[n]
		}
	case bytecode.OpReturn:
		return f.pop(), true, nil
	case bytecode.OpSuspend, bytecode.OpResume:
		return nil, false, errorf("TypeError", "generators are not supported")

	case bytecode.OpCall:
		args := f.popN(in.Count)
		r, err := i.Call(f.pop(), args)
		if err != nil {
			return nil, false, err
		}
		f.push(r)
	case bytecode.OpConstCall:
		r, err := i.Call(in.Value, f.popN(in.Count))
		if err != nil {
			return nil, false, err
		}
		f.push(r)
	case bytecode.OpResolve:
		parent := deref(f.pop())
		ns, ok := parent.(runtime.Namespace)
		if !ok {
			return nil, false, errorf("TypeError", "%s has no members", runtime.Repr(parent))
		}
		m, ok := ns.Resolve(in.Value.(string))
		if !ok {
			return nil, false, errorf("NameError", "%s not found in %s", in.Value, runtime.Repr(parent))
		}
		f.push(m)
	case bytecode.OpMethod:
		return nil, false, errorf("TypeError", "method definitions are not supported")
	case bytecode.OpClosure:
		c := &Closure{Func: in.Func, Upvalues: make([]Value, len(in.Func.Upvalues))}
		for n, u := range in.Func.Upvalues {
			if slot, local := bytecode.UpvalueSource(u); local {
				c.Upvalues[n] = f.stack[slot]
			} else {
				c.Upvalues[n] = f.upvalues[slot]
			}
		}
		f.push(c)

	case bytecode.OpTuple:
		f.push(runtime.Tuple(f.popN(in.Count)))
	case bytecode.OpList:
		f.push(f.popN(in.Count))
	case bytecode.OpMap:
		kv := f.popN(2 * in.Count)
		m := NewMap()
		for n := 0; n < len(kv); n += 2 {
			if err := m.Insert(deref(kv[n]), kv[n+1]); err != nil {
				return nil, false, err
			}
		}
		f.push(m)
	case bytecode.OpStringNew:
		f.push(&strings.Builder{})
	case bytecode.OpStringAdd:
		vals := f.popN(in.Count)
		sb := f.top().(*strings.Builder)
		for _, v := range vals {
			sb.WriteString(toString(deref(v)))
		}
	case bytecode.OpStringChars:
		f.top().(*strings.Builder).WriteString(in.Chars)
	case bytecode.OpStringEnd:
		f.push(f.pop().(*strings.Builder).String())
	case bytecode.OpQuote:
		tmpl, ok := in.Value.(*compiler.ExprValue)
		if !ok {
			return nil, false, errorf("TypeError", "quote of %s", runtime.Repr(in.Value))
		}
		f.push(&compiler.ExprValue{Expr: compiler.Instantiate(tmpl.Expr, f.popN(in.Count))})

	case bytecode.OpFor:
		it, err := iterate(deref(f.pop()))
		if err != nil {
			return nil, false, err
		}
		if it.done() {
			f.ip = in.Target
		} else {
			f.push(it)
		}
	case bytecode.OpNext:
		it := f.top().(*iterator)
		it.i++
		if it.done() {
			f.pop()
			f.ip = in.Target
		}
	case bytecode.OpKey:
		it := f.stack[in.Count].(*iterator)
		f.push(it.keys[it.i])
	case bytecode.OpValue:
		it := f.stack[in.Count].(*iterator)
		f.push(it.values[it.i])

	case bytecode.OpTry:
		f.handler, f.handlerDepth = in.Target, in.Count
	case bytecode.OpCatch:
		types := f.popN(in.Count)
		e, _ := f.top().(*Error)
		if !matches(e, types) {
			f.ip = in.Target
		}
	case bytecode.OpRaise:
		return nil, false, raised(asError(f.pop()))
	case bytecode.OpRetry:
		f.stack = f.stack[:in.Count]
		f.ip = in.Target

	default:
		return nil, false, errorf("InternalError", "unknown instruction %s", in.Op)
	}
	return nil, false, nil
}

func matches(e *Error, types []Value) bool {
	if e == nil {
		return false
	}
	for _, t := range types {
		if s, ok := deref(t).(string); ok && s == e.Type {
			return true
		}
	}
	return false
}

func asError(v Value) error {
	if e, ok := v.(*Error); ok {
		return e
	}
	return errorf("Error", "%s", runtime.Repr(v))
}

func unpack(v Value, n int) ([]Value, error) {
	var elems []Value
	switch s := deref(v).(type) {
	case runtime.Tuple:
		elems = s
	case []Value:
		elems = s
	case nil:
	default:
		return nil, errorf("TypeError", "cannot unpack %s", runtime.Repr(v))
	}
	out := make([]Value, n)
	copy(out, elems)
	return out, nil
}

func toString(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return runtime.Repr(v)
}
