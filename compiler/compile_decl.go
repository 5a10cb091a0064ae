package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

func (t *task) compileBlock(e *BlockExpr) {
	fn := t.fn
	line := e.StartLine
	f := &blockFrame{e: e, scope: fn.scope}

	seen := make(map[string]int)
	var infos []bytecode.DeclInfo
	add := func(spec *DeclSpec, d *Decl) *Error {
		if prev, ok := seen[spec.Name]; ok {
			first, second := prev, spec.Line
			if first > second {
				first, second = second, first
			}
			return errorf(ErrName, e.Source, second, "identifier %s redefined (lines %d and %d)", spec.Name, first, second)
		}
		seen[spec.Name] = spec.Line
		fn.pending[spec] = d
		return nil
	}

	if e.Catches != nil {
		rec := &tryRecord{handler: fn.b.NewLabel(), retry: fn.b.NewLabel(), depth: fn.top, up: fn.try}
		fn.bind(rec.retry, fn.top)
		fn.jump(line, bytecode.OpTry, rec.handler, rec.depth)
		fn.try = rec
		f.try = rec
	}
	base := fn.top
	for _, spec := range e.Vars {
		d := &Decl{Ident: spec.Name, Line: spec.Line, Index: base + len(infos), Flags: DeclVariable}
		if err := add(spec, d); err != nil {
			t.fail(err)
			return
		}
		infos = append(infos, d.info())
	}
	for _, spec := range e.Lets {
		d := &Decl{Ident: spec.Name, Line: spec.Line, Index: base + len(infos)}
		if err := add(spec, d); err != nil {
			t.fail(err)
			return
		}
		infos = append(infos, d.info())
	}
	for _, spec := range e.Defs {
		d := &Decl{Ident: spec.Name, Line: spec.Line, Index: -1, Flags: DeclConstant}
		if err := add(spec, d); err != nil {
			t.fail(err)
			return
		}
	}
	if len(infos) > 0 {
		fn.emit(bytecode.Inst{Op: bytecode.OpEnter, Line: line, Decls: infos})
	}
	f.slots = len(infos)
	if e.Body == nil {
		fn.op(line, bytecode.OpNil)
		t.finishBlock(f)
		return
	}
	f.next = Next(e.Body)
	t.push(f)
	t.compile(e.Body)
}

func (t *task) resumeBlock(f *blockFrame) {
	if s := f.next; s != nil {
		t.fn.op(lineOf(s), bytecode.OpPop)
		f.next = Next(s)
		t.push(f)
		t.compile(s)
		return
	}
	t.finishBlock(f)
}

func (t *task) finishBlock(f *blockFrame) {
	fn := t.fn
	e := f.e
	line := e.EndLine
	if f.slots > 0 {
		fn.opCount(line, bytecode.OpLeave, f.slots)
	}
	fn.scope = f.scope
	for _, specs := range [][]*DeclSpec{e.Vars, e.Lets, e.Defs} {
		for _, spec := range specs {
			delete(fn.pending, spec)
		}
	}
	rec := f.try
	if rec == nil {
		t.ret(nil)
		return
	}
	fn.try = rec.up
	end := fn.b.NewLabel()
	fn.restoreTry(line, rec.up)
	fn.jump(line, bytecode.OpJump, end, 0)
	fn.bind(rec.handler, rec.depth+1)
	fn.restoreTry(e.Catches.Line, rec.up)
	t.catchClause(&catchFrame{e: e, rec: rec, clause: e.Catches, end: end})
}

// ---------------------------------------------------------------------------
// on clauses
// ---------------------------------------------------------------------------

// The handler starts with the error on top of the stack at the depth the
// block was entered. Each clause pushes its types and tests the error;
// the first match binds it to the clause name.

func (t *task) catchClause(f *catchFrame) {
	fn := t.fn
	c := f.clause
	if c == nil {
		fn.op(f.e.EndLine, bytecode.OpRaise)
		fn.bind(f.end, f.rec.depth+1)
		t.ret(nil)
		return
	}
	f.skip = fn.b.NewLabel()
	f.types = Siblings(c.Types)
	f.i = 0
	if len(f.types) == 0 {
		t.catchBody(f)
		return
	}
	f.stage = catchTypes
	f.i = 1
	t.push(f)
	t.compile(f.types[0])
}

func (t *task) catchBody(f *catchFrame) {
	fn := t.fn
	c := f.clause
	d := &Decl{Ident: c.Name, Line: c.Line, Index: f.rec.depth, Flags: DeclVariable, state: Bound}
	f.scope = fn.scope
	if c.Name != "" {
		fn.declare(d)
	}
	f.handler = fn.handler
	fn.handler = f.rec
	f.stage = catchBody
	t.push(f)
	t.compile(c.Body)
}

func (t *task) resumeCatch(f *catchFrame) {
	fn := t.fn
	c := f.clause
	switch f.stage {
	case catchTypes:
		if f.i < len(f.types) {
			e := f.types[f.i]
			f.i++
			t.push(f)
			t.compile(e)
			return
		}
		fn.jump(c.Line, bytecode.OpCatch, f.skip, len(f.types))
		t.catchBody(f)
	case catchBody:
		line := endLineOf(orNil(c.Body, f.e))
		fn.opCount(line, bytecode.OpLeave, 1)
		fn.scope = f.scope
		fn.handler = f.handler
		fn.jump(line, bytecode.OpJump, f.end, 0)
		fn.bind(f.skip, f.rec.depth+1)
		f.clause = c.Next
		t.catchClause(f)
	}
}

// ---------------------------------------------------------------------------
// var / let / def / ref
// ---------------------------------------------------------------------------

func (t *task) compileLocal(e *LocalExpr) {
	fn := t.fn
	decls := make([]*Decl, len(e.Decls))
	for i, spec := range e.Decls {
		d, ok := fn.pending[spec]
		if !ok {
			t.fail(internalf("%s declaration outside a block", spec.Name))
			return
		}
		decls[i] = d
	}
	base, shape := localBase(e.Op), localShape(e.Op)
	if base == KindRef {
		for _, d := range decls {
			d.Flags |= DeclByRef
		}
	}
	if base == KindDef {
		if shape == 0 {
			fn.declare(decls[0])
		}
		t.push(&evalFrame{e: e, decls: decls})
		t.beginFunction(e, nil, false, false, orNil(e.Value, e), true)
		return
	}
	if base == KindLet && shape == 0 {
		// visible to its own initializer, read through a placeholder
		fn.declare(decls[0])
	}
	t.push(&localFrame{e: e, decls: decls})
	t.compile(orNil(e.Value, e))
}

func storeOp(k Kind) bytecode.Opcode {
	switch k {
	case KindVar:
		return bytecode.OpVar
	case KindRef:
		return bytecode.OpRef
	}
	return bytecode.OpLet
}

func (t *task) resumeLocal(f *localFrame) {
	fn := t.fn
	e := f.e
	line := e.StartLine
	base := localBase(e.Op)
	if localShape(e.Op) == 0 {
		d := f.decls[0]
		op := storeOp(base)
		if base == KindLet {
			if d.state == Forward {
				op = bytecode.OpLetBackfill
			}
			fn.opCount(line, op, d.Index)
			d.bind(nil)
		} else {
			fn.opCount(line, op, d.Index)
			d.state = Bound
			fn.declare(d)
		}
		t.ret(nil)
		return
	}
	fn.op(line, bytecode.OpDup)
	if localShape(e.Op) == 1 {
		fn.opCount(line, bytecode.OpUnpack, len(f.decls))
	} else {
		fn.emit(bytecode.Inst{Op: bytecode.OpSymbols, Line: line, Decls: declInfos(f.decls)})
	}
	op := storeOp(base)
	for i := len(f.decls) - 1; i >= 0; i-- {
		fn.opCount(line, op, f.decls[i].Index)
		fn.op(line, bytecode.OpPop)
	}
	for _, d := range f.decls {
		d.state = Bound
		fn.declare(d)
	}
	t.ret(nil)
}

func declInfos(decls []*Decl) []bytecode.DeclInfo {
	infos := make([]bytecode.DeclInfo, len(decls))
	for i, d := range decls {
		infos[i] = d.info()
	}
	return infos
}

// resumeEval receives first the compiled initializer, then its value.
func (t *task) resumeEval(f *evalFrame, v runtime.Value) {
	if !f.running {
		code, ok := v.(*bytecode.Func)
		if !ok {
			t.fail(internalf("constant initializer compiled to %T", v))
			return
		}
		f.running = true
		t.push(f)
		t.call(f.e, ErrCompiler, code, nil)
		return
	}
	fn := t.fn
	line := lineOf(f.e)
	e, ok := f.e.(*LocalExpr)
	if !ok {
		fn.constant(line, v)
		t.ret(v)
		return
	}
	switch localShape(e.Op) {
	case 0:
		f.decls[0].bind(v)
	case 1:
		values, err := unpackConst(v, len(f.decls))
		if err != nil {
			t.failAt(e, ErrCompiler, "%v", err)
			return
		}
		for i, d := range f.decls {
			d.bind(values[i])
			fn.declare(d)
		}
	case 2:
		ns, ok := v.(runtime.Namespace)
		if !ok {
			t.failAt(e, ErrCompiler, "cannot destructure %s by name", runtime.Repr(v))
			return
		}
		for _, d := range f.decls {
			member, found := ns.Resolve(d.Ident)
			if !found {
				t.failAt(e, ErrName, "%s not found in %s", d.Ident, runtime.Repr(v))
				return
			}
			d.bind(member)
			fn.declare(d)
		}
	}
	log.Debugf("def %s = %s", e.Decls[0].Name, runtime.Repr(v))
	fn.constant(line, v)
	t.ret(v)
}

type unpackError struct{ v runtime.Value }

func (e *unpackError) Error() string { return "cannot unpack " + runtime.Repr(e.v) }

// unpackConst returns the first n elements of a tuple or list, padded
// with nil.
func unpackConst(v runtime.Value, n int) ([]runtime.Value, error) {
	var elems []runtime.Value
	switch v := v.(type) {
	case runtime.Tuple:
		elems = v
	case []runtime.Value:
		elems = v
	default:
		return nil, &unpackError{v}
	}
	out := make([]runtime.Value, n)
	copy(out, elems)
	return out, nil
}

// ---------------------------------------------------------------------------
// with
// ---------------------------------------------------------------------------

func (t *task) compileWith(e *WithExpr) {
	fn := t.fn
	f := &withFrame{e: e, scope: fn.scope, values: Siblings(e.Values)}
	base := fn.top
	for i, spec := range e.Decls {
		f.decls = append(f.decls, &Decl{Ident: spec.Name, Line: spec.Line, Index: base + i})
	}
	if len(f.decls) > 0 {
		fn.emit(bytecode.Inst{Op: bytecode.OpEnter, Line: e.StartLine, Decls: declInfos(f.decls)})
	}
	t.withNext(f)
}

func (t *task) withNext(f *withFrame) {
	t.push(f)
	if f.i < len(f.decls) {
		var v Expr
		if f.i < len(f.values) {
			v = f.values[f.i]
		}
		t.compile(orNil(v, f.e))
		return
	}
	t.compile(f.e.Body)
}

func (t *task) resumeWith(f *withFrame) {
	fn := t.fn
	if f.i < len(f.decls) {
		d := f.decls[f.i]
		fn.opCount(d.Line, bytecode.OpLet, d.Index)
		fn.op(d.Line, bytecode.OpPop)
		d.state = Bound
		fn.declare(d)
		f.i++
		t.withNext(f)
		return
	}
	if len(f.decls) > 0 {
		fn.opCount(f.e.EndLine, bytecode.OpLeave, len(f.decls))
	}
	fn.scope = f.scope
	t.ret(nil)
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

func (t *task) compileAssign(e *AssignExpr) {
	fn := t.fn
	line := e.StartLine
	switch target := e.Target.(type) {
	case *BlankExpr:
		t.compile(e.Value)
		return
	case *IdentExpr:
		r, err := t.resolve(target, target.Name)
		if err != nil {
			t.fail(err)
			return
		}
		if r.decl != nil && r.decl.Flags&DeclByRef != 0 {
			fn.opCount(line, r.load(), r.index)
			t.assignThrough(&assignFrame{e: e, general: true})
			return
		}
		switch r.kind {
		case refLocal, refLocalIndirect:
			fn.olds = append(fn.olds, &oldRef{op: r.load(), index: r.index})
			t.push(&assignFrame{e: e, store: bytecode.OpAssignLocal, index: r.index})
			t.compile(e.Value)
			return
		case refUpvalue:
			r.decl.Flags |= DeclVariable
			fn.olds = append(fn.olds, &oldRef{op: bytecode.OpUpvalue, index: r.index})
			t.push(&assignFrame{e: e, store: bytecode.OpAssignUpvalue, index: r.index})
			t.compile(e.Value)
			return
		}
		if r.decl != nil {
			t.failAt(e, ErrCompiler, "cannot assign to def %s", target.Name)
			return
		}
		// a global: assign through the value it names
		fn.constant(line, r.value)
		t.assignThrough(&assignFrame{e: e, general: true})
	default:
		t.push(&assignFrame{e: e, general: true})
		t.compile(e.Target)
	}
}

// assignThrough continues a general assignment with the target reference
// on top: the reference is duplicated so old can read it.
func (t *task) assignThrough(f *assignFrame) {
	fn := t.fn
	fn.op(f.e.StartLine, bytecode.OpDup)
	fn.olds = append(fn.olds, &oldRef{op: bytecode.OpLocal, index: fn.top - 1})
	f.store, f.index = bytecode.OpAssign, 1
	t.push(f)
	t.compile(f.e.Value)
}

func (t *task) resumeAssign(f *assignFrame) {
	fn := t.fn
	line := f.e.StartLine
	if f.general && f.store != bytecode.OpAssign {
		t.assignThrough(f)
		return
	}
	fn.olds = fn.olds[:len(fn.olds)-1]
	fn.opCount(line, f.store, f.index)
	t.ret(nil)
}
