package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// if / elseif / else
// ---------------------------------------------------------------------------

func (t *task) compileIf(e *IfExpr) {
	fn := t.fn
	t.ifCase(&ifFrame{e: e, c: e.Cases, depth: fn.top, end: fn.b.NewLabel()})
}

func (t *task) ifCase(f *ifFrame) {
	fn := t.fn
	c := f.c
	if c == nil {
		f.stage = ifElse
		if f.e.Else == nil {
			fn.op(f.e.EndLine, bytecode.OpNil)
			t.ifDone(f)
			return
		}
		t.push(f)
		t.compile(f.e.Else)
		return
	}
	f.next = fn.b.NewLabel()
	f.decl = nil
	if c.Bind != KindNil {
		d := &Decl{Ident: c.Name, Line: c.Line, Index: fn.top}
		if c.Bind == KindVar {
			d.Flags = DeclVariable
		}
		fn.emit(bytecode.Inst{Op: bytecode.OpEnter, Line: c.Line, Decls: []bytecode.DeclInfo{d.info()}})
		f.decl = d
	}
	f.stage = ifCond
	t.push(f)
	t.compile(c.Cond)
}

func (t *task) resumeIf(f *ifFrame) {
	fn := t.fn
	c := f.c
	switch f.stage {
	case ifCond:
		if d := f.decl; d != nil {
			op := bytecode.OpLet
			if c.Bind == KindVar {
				op = bytecode.OpVar
			}
			fn.opCount(c.Line, op, d.Index)
			d.state = Bound
			f.scope = fn.scope
			fn.declare(d)
		}
		fn.jump(c.Line, bytecode.OpIfNil, f.next, 0)
		f.stage = ifBody
		t.push(f)
		t.compile(c.Body)
	case ifBody:
		line := endLineOf(c.Body)
		bound := f.decl != nil
		if bound {
			fn.opCount(line, bytecode.OpLeave, 1)
			fn.scope = f.scope
		}
		fn.jump(line, bytecode.OpJump, f.end, 0)
		if bound {
			fn.bind(f.next, f.depth+1)
			fn.op(line, bytecode.OpPop)
		} else {
			fn.bind(f.next, f.depth)
		}
		f.c = c.Next
		t.ifCase(f)
	case ifElse:
		t.ifDone(f)
	}
}

func (t *task) ifDone(f *ifFrame) {
	t.fn.bind(f.end, f.depth+1)
	t.ret(nil)
}

// ---------------------------------------------------------------------------
// loop / while / until / exit / next
// ---------------------------------------------------------------------------

func (t *task) compileLoop(e *LoopExpr) {
	fn := t.fn
	rec := &loopRecord{
		exit:      fn.b.NewLabel(),
		next:      fn.b.NewLabel(),
		exitDepth: fn.top,
		nextDepth: fn.top,
		try:       fn.try,
	}
	fn.bind(rec.next, fn.top)
	fn.loops = append(fn.loops, rec)
	t.push(&loopFrame{e: e, rec: rec})
	t.compile(e.Body)
}

func (t *task) resumeLoop(f *loopFrame) {
	fn := t.fn
	line := f.e.EndLine
	fn.op(line, bytecode.OpPop)
	fn.jump(line, bytecode.OpJump, f.rec.next, 0)
	fn.loops = fn.loops[:len(fn.loops)-1]
	fn.bind(f.rec.exit, f.rec.exitDepth+1)
	t.ret(nil)
}

// exitLoop leaves rec with the value on top of the stack. The code after
// it is unreachable; the tracked depth keeps the value counted.
func (t *task) exitLoop(line int, rec *loopRecord) {
	fn := t.fn
	if fn.try != rec.try {
		fn.restoreTry(line, rec.try)
	}
	d := fn.top
	fn.jump(line, bytecode.OpExit, rec.exit, fn.top-1-rec.exitDepth)
	fn.top = d
}

func (t *task) compileNext(e *NextExpr) {
	fn := t.fn
	if len(fn.loops) == 0 {
		t.failAt(e, ErrCompiler, "next not in loop")
		return
	}
	rec := fn.loops[len(fn.loops)-1]
	if fn.try != rec.try {
		fn.restoreTry(e.StartLine, rec.try)
	}
	d := fn.top
	fn.jump(e.StartLine, bytecode.OpGoto, rec.next, fn.top-rec.nextDepth)
	fn.top = d + 1
	t.ret(nil)
}

func (t *task) compileCondExit(e *CondExitExpr) {
	fn := t.fn
	if len(fn.loops) == 0 {
		t.failAt(e, ErrCompiler, "%s not in loop", e.Op)
		return
	}
	f := &condExitFrame{e: e, rec: fn.loops[len(fn.loops)-1]}
	t.push(f)
	t.compile(e.Cond)
}

func (t *task) resumeCondExit(f *condExitFrame) {
	fn := t.fn
	line := f.e.StartLine
	if !f.value {
		f.cont = fn.b.NewLabel()
		op := bytecode.OpIfNotNil
		if f.e.Op == KindUntil {
			op = bytecode.OpIfNil
		}
		fn.jump(line, op, f.cont, 0)
		if f.e.Value != nil {
			f.value = true
			t.push(f)
			t.compile(f.e.Value)
			return
		}
		fn.op(line, bytecode.OpNil)
	}
	t.exitLoop(line, f.rec)
	fn.bind(f.cont, fn.top-1)
	fn.op(line, bytecode.OpNil)
	t.ret(nil)
}

// ---------------------------------------------------------------------------
// for / each
// ---------------------------------------------------------------------------

func (t *task) resumeFor(f *forFrame) {
	fn := t.fn
	e := f.e
	line := e.StartLine
	switch f.stage {
	case forSeq:
		f.depth = fn.top - 1
		f.orElse = fn.b.NewLabel()
		fn.jump(line, bytecode.OpFor, f.orElse, 0)
		f.rec = &loopRecord{
			exit:      fn.b.NewLabel(),
			next:      fn.b.NewLabel(),
			exitDepth: f.depth,
			nextDepth: f.depth + 1,
			try:       fn.try,
		}
		f.body = fn.b.NewLabel()
		fn.bind(f.body, f.depth+1)
		f.scope = fn.scope
		var decls []*Decl
		if e.Key != nil {
			fn.opCount(line, bytecode.OpKey, f.depth)
			decls = append(decls, &Decl{Ident: e.Key.Name, Line: e.Key.Line, Index: fn.top - 1, Flags: DeclVariable, state: Bound})
		}
		fn.opCount(line, bytecode.OpValue, f.depth)
		if e.Unpack {
			fn.opCount(line, bytecode.OpUnpack, len(e.Names))
		}
		base := fn.top - len(e.Names)
		for i, n := range e.Names {
			decls = append(decls, &Decl{Ident: n.Name, Line: n.Line, Index: base + i, Flags: DeclVariable, state: Bound})
		}
		for _, d := range decls {
			fn.declare(d)
		}
		f.slots = len(decls)
		fn.loops = append(fn.loops, f.rec)
		f.stage = forBody
		t.push(f)
		t.compile(e.Body)
	case forBody:
		end := e.Body
		if end == nil {
			end = e
		}
		bl := endLineOf(end)
		fn.op(bl, bytecode.OpPop)
		fn.loops = fn.loops[:len(fn.loops)-1]
		fn.scope = f.scope
		if f.slots > 0 {
			fn.jump(bl, bytecode.OpGoto, f.rec.next, f.slots)
		}
		fn.bind(f.rec.next, f.depth+1)
		fn.jump(bl, bytecode.OpNext, f.orElse, 0)
		fn.jump(bl, bytecode.OpJump, f.body, 0)
		fn.bind(f.orElse, f.depth)
		f.stage = forElse
		if e.Else != nil {
			t.push(f)
			t.compile(e.Else)
			return
		}
		fn.op(e.EndLine, bytecode.OpNil)
		t.forDone(f)
	case forElse:
		t.forDone(f)
	}
}

func (t *task) forDone(f *forFrame) {
	t.fn.bind(f.rec.exit, f.depth+1)
	t.ret(nil)
}

// compileEach suspends with every key and value of the sequence on top.
func (t *task) compileEach(e *EachExpr) {
	fn := t.fn
	line := e.StartLine
	depth := fn.top - 1
	orElse := fn.b.NewLabel()
	fn.jump(line, bytecode.OpFor, orElse, 0)
	body := fn.b.NewLabel()
	fn.bind(body, depth+1)
	fn.opCount(line, bytecode.OpKey, depth)
	fn.opCount(line, bytecode.OpValue, depth)
	fn.opCount(line, bytecode.OpSuspend, 2)
	fn.op(line, bytecode.OpResume)
	fn.op(line, bytecode.OpPop)
	fn.jump(line, bytecode.OpNext, orElse, 0)
	fn.jump(line, bytecode.OpJump, body, 0)
	fn.bind(orElse, depth)
	fn.op(line, bytecode.OpNil)
}

// ---------------------------------------------------------------------------
// switch
// ---------------------------------------------------------------------------

func (t *task) resumeSwitch(f *switchFrame) {
	fn := t.fn
	e := f.e
	switch {
	case !f.ready:
		f.ready = true
		f.labels = make([]bytecode.Label, len(f.cases)+1)
		for i := range f.labels {
			f.labels[i] = fn.b.NewLabel()
		}
		fn.apply(fn.b.EmitSwitch(e.StartLine, f.labels))
		f.depth = fn.top
		f.end = fn.b.NewLabel()
	case f.i <= len(f.cases):
		fn.jump(endLineOf(f.cases[f.i-1]), bytecode.OpJump, f.end, 0)
	default:
		// else finished
		fn.bind(f.end, f.depth+1)
		t.ret(nil)
		return
	}
	if f.i < len(f.cases) {
		fn.bind(f.labels[f.i], f.depth)
		c := f.cases[f.i]
		f.i++
		t.push(f)
		t.compile(c)
		return
	}
	fn.bind(f.labels[f.i], f.depth)
	f.i++
	if e.Else != nil {
		t.push(f)
		t.compile(e.Else)
		return
	}
	fn.op(e.EndLine, bytecode.OpNil)
	fn.bind(f.end, f.depth+1)
	t.ret(nil)
}

// ---------------------------------------------------------------------------
// when
// ---------------------------------------------------------------------------

// compileWhen keeps the subject in a hidden slot and tests it against
// each clause value with = or in.
func (t *task) compileWhen(e *WhenExpr) {
	fn := t.fn
	f := &whenFrame{e: e, stage: whenSubject, slot: fn.top, end: fn.b.NewLabel()}
	fn.emit(bytecode.Inst{Op: bytecode.OpEnter, Line: e.StartLine, Decls: []bytecode.DeclInfo{{Line: e.StartLine, Slot: f.slot}}})
	t.push(f)
	t.compile(e.Subject)
}

func (t *task) whenClause(f *whenFrame) {
	fn := t.fn
	c := f.clause
	if c == nil {
		f.stage = whenElse
		if f.e.Else != nil {
			t.push(f)
			t.compile(f.e.Else)
			return
		}
		fn.op(f.e.EndLine, bytecode.OpNil)
		t.whenDone(f)
		return
	}
	f.values = Siblings(c.Values)
	f.i = 0
	f.body = fn.b.NewLabel()
	f.next = fn.b.NewLabel()
	t.whenValue(f)
}

func (t *task) whenValue(f *whenFrame) {
	fn := t.fn
	c := f.clause
	if f.i < len(f.values) {
		fn.opCount(c.Line, bytecode.OpLocal, f.slot)
		v := f.values[f.i]
		f.i++
		f.stage = whenValue
		t.push(f)
		t.compile(v)
		return
	}
	fn.jump(c.Line, bytecode.OpJump, f.next, 0)
	fn.bind(f.body, f.slot+1)
	f.stage = whenBody
	t.push(f)
	t.compile(c.Body)
}

func (t *task) resumeWhen(f *whenFrame) {
	fn := t.fn
	switch f.stage {
	case whenSubject:
		fn.opCount(f.e.StartLine, bytecode.OpVar, f.slot)
		fn.op(f.e.StartLine, bytecode.OpPop)
		f.clause = f.e.Clauses
		t.whenClause(f)
	case whenValue:
		c := f.clause
		fn.emit(bytecode.Inst{Op: bytecode.OpConstCall, Line: c.Line, Value: runtime.MethodFor(c.Method), Count: 2})
		fn.jump(c.Line, bytecode.OpIfNotNil, f.body, 0)
		t.whenValue(f)
	case whenBody:
		c := f.clause
		line := endLineOf(orNil(c.Body, f.e))
		fn.opCount(line, bytecode.OpLeave, 1)
		fn.jump(line, bytecode.OpJump, f.end, 0)
		fn.bind(f.next, f.slot+1)
		f.clause = c.Next
		t.whenClause(f)
	case whenElse:
		t.whenDone(f)
	}
}

func (t *task) whenDone(f *whenFrame) {
	fn := t.fn
	fn.opCount(f.e.EndLine, bytecode.OpLeave, 1)
	fn.bind(f.end, f.slot+1)
	t.ret(nil)
}
