package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

type refKind uint8

const (
	refConst refKind = iota
	refLocal
	refLocalIndirect
	refUpvalue
)

// reference says how the current function reads a name.
type reference struct {
	kind  refKind
	index int
	value runtime.Value
	decl  *Decl // nil for globals
}

func (r reference) load() bytecode.Opcode {
	switch r.kind {
	case refLocal:
		return bytecode.OpLocal
	case refLocalIndirect:
		return bytecode.OpLocalIndirect
	case refUpvalue:
		return bytecode.OpUpvalue
	}
	return bytecode.OpConst
}

// resolve looks name up through the enclosing functions and then the
// globals. References to unfinished declarations mark them forward;
// outer locals are captured.
func (t *task) resolve(at Expr, name string) (reference, *Error) {
	fn := t.fn
	constOnly := false
	for f := fn; f != nil; f = f.up {
		d := lookup(f.scope, name)
		if d == nil {
			if f.constOnly {
				constOnly = true
			}
			continue
		}
		if d.Flags&DeclConstant != 0 {
			if d.state == Bound {
				return reference{kind: refConst, value: d.value, decl: d}, nil
			}
			d.markForward()
			return reference{kind: refConst, value: d.forward, decl: d}, nil
		}
		if f == fn {
			if d.state != Bound {
				d.markForward()
				return reference{kind: refLocalIndirect, index: d.Index, decl: d}, nil
			}
			return reference{kind: refLocal, index: d.Index, decl: d}, nil
		}
		if constOnly {
			return reference{}, errorAt(ErrName, at, "identifier %s is not a constant", name)
		}
		if d.state != Bound {
			d.markForward()
		}
		return reference{kind: refUpvalue, index: fn.capture(f, d), decl: d}, nil
	}
	v, ok, err := t.c.globals.Lookup(name)
	if err != nil {
		e := errorAt(ErrName, at, "resolving %s: %v", name, err)
		e.Err = err
		return reference{}, e
	}
	if !ok {
		return reference{}, errorAt(ErrName, at, "identifier %s not declared", name)
	}
	return reference{kind: refConst, value: v}, nil
}

// peek returns the compile-time value of name without side effects: a
// bound def or a global.
func (t *task) peek(name string) (runtime.Value, bool) {
	for f := t.fn; f != nil; f = f.up {
		if d := lookup(f.scope, name); d != nil {
			return d.Value()
		}
	}
	v, ok, err := t.c.globals.Lookup(name)
	if err != nil || !ok {
		return nil, false
	}
	return v, true
}

// constValue returns the value of e when it is known while compiling.
func (t *task) constValue(e Expr) (runtime.Value, bool) {
	switch e := e.(type) {
	case *ValueExpr:
		return e.Value, true
	case *IdentExpr:
		return t.peek(e.Name)
	case *ResolveExpr:
		parent, ok := t.constValue(e.Parent)
		if !ok {
			return nil, false
		}
		ns, ok := parent.(runtime.Namespace)
		if !ok {
			return nil, false
		}
		return ns.Resolve(e.Name)
	}
	return nil, false
}

func (t *task) compileIdent(e *IdentExpr) {
	r, err := t.resolve(e, e.Name)
	if err != nil {
		t.fail(err)
		return
	}
	fn := t.fn
	if r.kind == refConst {
		fn.constant(e.StartLine, r.value)
		t.ret(r.value)
		return
	}
	fn.opCount(e.StartLine, r.load(), r.index)
	t.ret(nil)
}
