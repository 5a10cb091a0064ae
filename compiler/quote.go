package compiler

import "github.com/wrapl/minilang-sub003/pkg/runtime"

// Instantiate copies a quoted template, replacing each unquote with the
// value at its index. Expression values are spliced in as trees, other
// values become literals. Nested quotes are copied unchanged: their
// unquotes belong to them.
func Instantiate(template Expr, args []runtime.Value) Expr {
	c := &copier{args: args, specs: make(map[*DeclSpec]*DeclSpec), substitute: true}
	return c.expr(template)
}

// Copy returns a deep copy of e. Declarations are copied too, so the copy
// can be compiled alongside the original.
func Copy(e Expr) Expr {
	c := &copier{specs: make(map[*DeclSpec]*DeclSpec)}
	return c.expr(e)
}

type copier struct {
	args       []runtime.Value
	specs      map[*DeclSpec]*DeclSpec
	substitute bool
}

func (c *copier) spec(d *DeclSpec) *DeclSpec {
	if d == nil {
		return nil
	}
	if n, ok := c.specs[d]; ok {
		return n
	}
	n := &DeclSpec{Name: d.Name, Line: d.Line, Export: d.Export}
	c.specs[d] = n
	return n
}

func (c *copier) specList(ds []*DeclSpec) []*DeclSpec {
	if ds == nil {
		return nil
	}
	out := make([]*DeclSpec, len(ds))
	for i, d := range ds {
		out[i] = c.spec(d)
	}
	return out
}

// list copies a sibling chain.
func (c *copier) list(e Expr) Expr {
	var out []Expr
	for ; e != nil; e = Next(e) {
		out = append(out, c.expr(e))
	}
	return Chain(out...)
}

func (c *copier) base(b *Base) Base {
	return Base{Source: b.Source, StartLine: b.StartLine, EndLine: b.EndLine}
}

func (c *copier) expr(e Expr) Expr {
	if e == nil {
		return nil
	}
	switch e := e.(type) {
	case *NilExpr:
		return &NilExpr{Base: c.base(&e.Base)}
	case *BlankExpr:
		return &BlankExpr{Base: c.base(&e.Base)}
	case *OldExpr:
		return &OldExpr{Base: c.base(&e.Base)}
	case *NextExpr:
		return &NextExpr{Base: c.base(&e.Base)}
	case *RetryExpr:
		return &RetryExpr{Base: c.base(&e.Base)}
	case *ValueExpr:
		return &ValueExpr{Base: c.base(&e.Base), Value: e.Value}
	case *IdentExpr:
		return &IdentExpr{Base: c.base(&e.Base), Name: e.Name}
	case *StringExpr:
		return &StringExpr{Base: c.base(&e.Base), Parts: c.list(e.Parts)}
	case *AssignExpr:
		return &AssignExpr{Base: c.base(&e.Base), Target: c.expr(e.Target), Value: c.expr(e.Value)}
	case *CallExpr:
		return &CallExpr{Base: c.base(&e.Base), Fn: c.expr(e.Fn), Args: c.list(e.Args)}
	case *ConstCallExpr:
		return &ConstCallExpr{Base: c.base(&e.Base), Fn: e.Fn, Args: c.list(e.Args)}
	case *ResolveExpr:
		return &ResolveExpr{Base: c.base(&e.Base), Parent: c.expr(e.Parent), Name: e.Name}
	case *LogicExpr:
		return &LogicExpr{Base: c.base(&e.Base), Op: e.Op, Left: c.expr(e.Left), Right: c.expr(e.Right)}
	case *NotExpr:
		return &NotExpr{Base: c.base(&e.Base), Arg: c.expr(e.Arg)}
	case *IfExpr:
		var head, tail *IfCase
		for ic := e.Cases; ic != nil; ic = ic.Next {
			n := &IfCase{Line: ic.Line, Bind: ic.Bind, Name: ic.Name, Cond: c.expr(ic.Cond), Body: c.expr(ic.Body)}
			if head == nil {
				head = n
			} else {
				tail.Next = n
			}
			tail = n
		}
		return &IfExpr{Base: c.base(&e.Base), Cases: head, Else: c.expr(e.Else)}
	case *LoopExpr:
		return &LoopExpr{Base: c.base(&e.Base), Body: c.expr(e.Body)}
	case *ExitExpr:
		return &ExitExpr{Base: c.base(&e.Base), Value: c.expr(e.Value)}
	case *CondExitExpr:
		return &CondExitExpr{Base: c.base(&e.Base), Op: e.Op, Cond: c.expr(e.Cond), Value: c.expr(e.Value)}
	case *ForExpr:
		return &ForExpr{Base: c.base(&e.Base), Key: c.spec(e.Key), Names: c.specList(e.Names),
			Unpack: e.Unpack, Seq: c.expr(e.Seq), Body: c.expr(e.Body), Else: c.expr(e.Else)}
	case *EachExpr:
		return &EachExpr{Base: c.base(&e.Base), Seq: c.expr(e.Seq)}
	case *BlockExpr:
		b := &BlockExpr{Base: c.base(&e.Base), Vars: c.specList(e.Vars), Lets: c.specList(e.Lets),
			Defs: c.specList(e.Defs), Body: c.list(e.Body)}
		var tail *OnClause
		for oc := e.Catches; oc != nil; oc = oc.Next {
			n := &OnClause{Line: oc.Line, Name: oc.Name, Types: c.list(oc.Types), Body: c.expr(oc.Body)}
			if b.Catches == nil {
				b.Catches = n
			} else {
				tail.Next = n
			}
			tail = n
		}
		return b
	case *LocalExpr:
		return &LocalExpr{Base: c.base(&e.Base), Op: e.Op, Decls: c.specList(e.Decls), Value: c.expr(e.Value)}
	case *FunExpr:
		return &FunExpr{Base: c.base(&e.Base), Params: c.params(e.Params), Extra: e.Extra, Named: e.Named, Body: c.expr(e.Body)}
	case *MethExpr:
		return &MethExpr{Base: c.base(&e.Base), Name: e.Name, Params: c.params(e.Params), Extra: e.Extra, Body: c.expr(e.Body)}
	case *RetExpr:
		return &RetExpr{Base: c.base(&e.Base), Value: c.expr(e.Value)}
	case *SuspendExpr:
		return &SuspendExpr{Base: c.base(&e.Base), Key: c.expr(e.Key), Value: c.expr(e.Value)}
	case *WithExpr:
		return &WithExpr{Base: c.base(&e.Base), Decls: c.specList(e.Decls), Values: c.list(e.Values), Body: c.expr(e.Body)}
	case *SwitchExpr:
		return &SwitchExpr{Base: c.base(&e.Base), Subject: c.expr(e.Subject), Cases: c.list(e.Cases), Else: c.expr(e.Else)}
	case *WhenExpr:
		var head, tail *WhenClause
		for wc := e.Clauses; wc != nil; wc = wc.Next {
			n := &WhenClause{Line: wc.Line, Method: wc.Method, Values: c.list(wc.Values), Body: c.expr(wc.Body)}
			if head == nil {
				head = n
			} else {
				tail.Next = n
			}
			tail = n
		}
		return &WhenExpr{Base: c.base(&e.Base), Subject: c.expr(e.Subject), Clauses: head, Else: c.expr(e.Else)}
	case *ListExpr:
		return &ListExpr{Base: c.base(&e.Base), Op: e.Op, Elems: c.list(e.Elems)}
	case *MapExpr:
		return &MapExpr{Base: c.base(&e.Base), Entries: c.list(e.Entries)}
	case *InlineExpr:
		return &InlineExpr{Base: c.base(&e.Base), Value: c.expr(e.Value)}
	case *QuoteExpr:
		inner := &copier{specs: c.specs}
		return &QuoteExpr{Base: c.base(&e.Base), Body: inner.expr(e.Body), Args: inner.list(e.Args)}
	case *UnquoteExpr:
		if !c.substitute {
			return &UnquoteExpr{Base: c.base(&e.Base), Index: e.Index, Name: e.Name}
		}
		var v runtime.Value
		if e.Index < len(c.args) {
			v = c.args[e.Index]
		}
		if ev, ok := v.(*ExprValue); ok {
			return Copy(ev.Expr)
		}
		return &ValueExpr{Base: c.base(&e.Base), Value: v}
	case *GeneratorExpr:
		var head, tail *GenClause
		for gc := e.Clauses; gc != nil; gc = gc.Next {
			n := &GenClause{Line: gc.Line, Filter: c.expr(gc.Filter), Key: c.spec(gc.Key),
				Names: c.specList(gc.Names), Unpack: gc.Unpack, Seq: c.expr(gc.Seq)}
			if head == nil {
				head = n
			} else {
				tail.Next = n
			}
			tail = n
		}
		return &GeneratorExpr{Base: c.base(&e.Base), Value: c.expr(e.Value), Clauses: head}
	}
	panic(internalf("cannot copy %s expression", e.Kind()))
}

func (c *copier) params(ps []*Param) []*Param {
	if ps == nil {
		return nil
	}
	out := make([]*Param, len(ps))
	for i, p := range ps {
		out[i] = &Param{Name: p.Name, Line: p.Line, Type: c.expr(p.Type)}
	}
	return out
}
