package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Expression tree
// ---------------------------------------------------------------------------

// Kind identifies the form of an expression.
type Kind uint8

const (
	KindNil Kind = iota
	KindBlank
	KindValue
	KindIdent
	KindString
	KindAssign
	KindOld
	KindCall
	KindConstCall
	KindResolve
	KindAnd
	KindOr
	KindNot
	KindIf
	KindLoop
	KindNext
	KindExit
	KindWhile
	KindUntil
	KindFor
	KindEach
	KindBlock
	KindVar
	KindLet
	KindDef
	KindRef
	KindVarUnpack
	KindLetUnpack
	KindDefUnpack
	KindRefUnpack
	KindVarIn
	KindLetIn
	KindDefIn
	KindRefIn
	KindFun
	KindMeth
	KindRet
	KindSuspend
	KindWith
	KindSwitch
	KindWhen
	KindTuple
	KindList
	KindMap
	KindInline
	KindQuote
	KindUnquote
	KindGenerator
	KindRetry

	numKinds
)

var kindNames = [numKinds]string{
	KindNil: "nil", KindBlank: "blank", KindValue: "value", KindIdent: "ident",
	KindString: "string", KindAssign: "assign", KindOld: "old", KindCall: "call",
	KindConstCall: "const-call", KindResolve: "resolve", KindAnd: "and", KindOr: "or",
	KindNot: "not", KindIf: "if", KindLoop: "loop", KindNext: "next", KindExit: "exit",
	KindWhile: "while", KindUntil: "until", KindFor: "for", KindEach: "each",
	KindBlock: "block", KindVar: "var", KindLet: "let", KindDef: "def", KindRef: "ref",
	KindVarUnpack: "var-unpack", KindLetUnpack: "let-unpack", KindDefUnpack: "def-unpack",
	KindRefUnpack: "ref-unpack", KindVarIn: "var-in", KindLetIn: "let-in",
	KindDefIn: "def-in", KindRefIn: "ref-in", KindFun: "fun", KindMeth: "meth",
	KindRet: "ret", KindSuspend: "susp", KindWith: "with", KindSwitch: "switch",
	KindWhen: "when", KindTuple: "tuple", KindList: "list", KindMap: "map",
	KindInline: "inline", KindQuote: "quote", KindUnquote: "unquote",
	KindGenerator: "generator", KindRetry: "retry",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "unknown"
}

// Expr is a node of the expression tree. The set of implementations is
// closed: every concrete type is declared in this file.
type Expr interface {
	Kind() Kind
	base() *Base
}

// Base carries the source span of a node and its next sibling.
type Base struct {
	Source    string
	StartLine int
	EndLine   int
	Next      Expr
}

func (b *Base) base() *Base { return b }

// Pos returns the start position of e.
func Pos(e Expr) Position {
	b := e.base()
	return Position{b.Source, b.StartLine}
}

// Next returns the sibling following e.
func Next(e Expr) Expr { return e.base().Next }

// Siblings collects e and the siblings following it.
func Siblings(e Expr) []Expr {
	var out []Expr
	for ; e != nil; e = e.base().Next {
		out = append(out, e)
	}
	return out
}

// Chain links exprs as siblings and returns the first, or nil.
func Chain(exprs ...Expr) Expr {
	var head, tail Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if head == nil {
			head = e
		} else {
			tail.base().Next = e
		}
		tail = e
	}
	if tail != nil {
		tail.base().Next = nil
	}
	return head
}

// DeclSpec is a declared name as written in the source.
type DeclSpec struct {
	Name string
	Line int
	// Export is set on names declared with export.
	Export bool
}

// Param is a function parameter.
type Param struct {
	Name string
	Line int
	Type Expr // meth only
}

type (
	NilExpr   struct{ Base }
	BlankExpr struct{ Base }
	OldExpr   struct{ Base }
	NextExpr  struct{ Base }
	RetryExpr struct{ Base }

	ValueExpr struct {
		Base
		Value runtime.Value
	}

	IdentExpr struct {
		Base
		Name string
	}

	// StringExpr is an interpolated string; Parts alternates literal
	// ValueExpr chunks and embedded expressions.
	StringExpr struct {
		Base
		Parts Expr
	}

	AssignExpr struct {
		Base
		Target Expr
		Value  Expr
	}

	CallExpr struct {
		Base
		Fn   Expr
		Args Expr
	}

	// ConstCallExpr calls a constant, usually a *runtime.Method for an
	// operator, index or x:name(...) form.
	ConstCallExpr struct {
		Base
		Fn   runtime.Value
		Args Expr
	}

	ResolveExpr struct {
		Base
		Parent Expr
		Name   string
	}

	// LogicExpr is a short-circuit and/or.
	LogicExpr struct {
		Base
		Op          Kind
		Left, Right Expr
	}

	NotExpr struct {
		Base
		Arg Expr
	}

	IfExpr struct {
		Base
		Cases *IfCase
		Else  Expr
	}

	LoopExpr struct {
		Base
		Body Expr
	}

	ExitExpr struct {
		Base
		Value Expr
	}

	// CondExitExpr is a while or until statement inside a loop.
	CondExitExpr struct {
		Base
		Op    Kind
		Cond  Expr
		Value Expr
	}

	ForExpr struct {
		Base
		Key    *DeclSpec
		Names  []*DeclSpec
		Unpack bool
		Seq    Expr
		Body   Expr
		Else   Expr
	}

	EachExpr struct {
		Base
		Seq Expr
	}

	// BlockExpr is a scope: its declarations are visible to the statements
	// following them, and Catches handle errors raised in Body.
	BlockExpr struct {
		Base
		Vars    []*DeclSpec
		Lets    []*DeclSpec
		Defs    []*DeclSpec
		Body    Expr
		Catches *OnClause
	}

	// LocalExpr is a var, let, def or ref binding, single, unpacking or
	// destructuring with "in".
	LocalExpr struct {
		Base
		Op    Kind
		Decls []*DeclSpec
		Value Expr
	}

	FunExpr struct {
		Base
		Params []*Param
		Extra  bool
		Named  bool
		Body   Expr
	}

	MethExpr struct {
		Base
		Name   string
		Params []*Param
		Extra  bool
		Body   Expr
	}

	RetExpr struct {
		Base
		Value Expr
	}

	SuspendExpr struct {
		Base
		Key   Expr
		Value Expr
	}

	WithExpr struct {
		Base
		Decls  []*DeclSpec
		Values Expr
		Body   Expr
	}

	// SwitchExpr selects Cases[i] (0-based) by the integer value of Subject.
	SwitchExpr struct {
		Base
		Subject Expr
		Cases   Expr
		Else    Expr
	}

	WhenExpr struct {
		Base
		Subject Expr
		Clauses *WhenClause
		Else    Expr
	}

	// ListExpr is a tuple or list constructor.
	ListExpr struct {
		Base
		Op    Kind
		Elems Expr
	}

	// MapExpr holds alternating keys and values.
	MapExpr struct {
		Base
		Entries Expr
	}

	InlineExpr struct {
		Base
		Value Expr
	}

	// QuoteExpr is a template; Args are evaluated and substituted for the
	// UnquoteExprs of Body by index.
	QuoteExpr struct {
		Base
		Body Expr
		Args Expr
	}

	UnquoteExpr struct {
		Base
		Index int
		Name  string
	}

	GeneratorExpr struct {
		Base
		Value   Expr
		Clauses *GenClause

		desugared *FunExpr
	}
)

// IfCase is one if or elseif arm. Bind is KindVar or KindLet when the
// condition binds Name, KindNil otherwise.
type IfCase struct {
	Line int
	Bind Kind
	Name string
	Cond Expr
	Body Expr
	Next *IfCase
}

// OnClause handles errors whose type matches one of Types, or any error
// when Types is nil.
type OnClause struct {
	Line  int
	Name  string
	Types Expr
	Body  Expr
	Next  *OnClause
}

// WhenClause tests the subject with Method ("=" for is, "in" for in)
// against each of Values.
type WhenClause struct {
	Line   int
	Method string
	Values Expr
	Body   Expr
	Next   *WhenClause
}

// GenClause is a for or if part of a comprehension.
type GenClause struct {
	Line   int
	Filter Expr // if clause when non-nil
	Key    *DeclSpec
	Names  []*DeclSpec
	Unpack bool
	Seq    Expr
	Next   *GenClause
}

func (*NilExpr) Kind() Kind       { return KindNil }
func (*BlankExpr) Kind() Kind     { return KindBlank }
func (*OldExpr) Kind() Kind       { return KindOld }
func (*NextExpr) Kind() Kind      { return KindNext }
func (*RetryExpr) Kind() Kind     { return KindRetry }
func (*ValueExpr) Kind() Kind     { return KindValue }
func (*IdentExpr) Kind() Kind     { return KindIdent }
func (*StringExpr) Kind() Kind    { return KindString }
func (*AssignExpr) Kind() Kind    { return KindAssign }
func (*CallExpr) Kind() Kind      { return KindCall }
func (*ConstCallExpr) Kind() Kind { return KindConstCall }
func (*ResolveExpr) Kind() Kind   { return KindResolve }
func (e *LogicExpr) Kind() Kind   { return e.Op }
func (*NotExpr) Kind() Kind       { return KindNot }
func (*IfExpr) Kind() Kind        { return KindIf }
func (*LoopExpr) Kind() Kind      { return KindLoop }
func (*ExitExpr) Kind() Kind      { return KindExit }
func (e *CondExitExpr) Kind() Kind { return e.Op }
func (*ForExpr) Kind() Kind       { return KindFor }
func (*EachExpr) Kind() Kind      { return KindEach }
func (*BlockExpr) Kind() Kind     { return KindBlock }
func (e *LocalExpr) Kind() Kind   { return e.Op }
func (*FunExpr) Kind() Kind       { return KindFun }
func (*MethExpr) Kind() Kind      { return KindMeth }
func (*RetExpr) Kind() Kind       { return KindRet }
func (*SuspendExpr) Kind() Kind   { return KindSuspend }
func (*WithExpr) Kind() Kind      { return KindWith }
func (*SwitchExpr) Kind() Kind    { return KindSwitch }
func (*WhenExpr) Kind() Kind      { return KindWhen }
func (e *ListExpr) Kind() Kind    { return e.Op }
func (*MapExpr) Kind() Kind       { return KindMap }
func (*InlineExpr) Kind() Kind    { return KindInline }
func (*QuoteExpr) Kind() Kind     { return KindQuote }
func (*UnquoteExpr) Kind() Kind   { return KindUnquote }
func (*GeneratorExpr) Kind() Kind { return KindGenerator }

// localBase returns the plain binding kind (var, let, def or ref) of a
// LocalExpr kind.
func localBase(k Kind) Kind {
	switch k {
	case KindVar, KindVarUnpack, KindVarIn:
		return KindVar
	case KindLet, KindLetUnpack, KindLetIn:
		return KindLet
	case KindDef, KindDefUnpack, KindDefIn:
		return KindDef
	}
	return KindRef
}

// localShape returns 0 for a single binding, 1 for unpacking and 2 for
// destructuring with "in".
func localShape(k Kind) int {
	switch k {
	case KindVarUnpack, KindLetUnpack, KindDefUnpack, KindRefUnpack:
		return 1
	case KindVarIn, KindLetIn, KindDefIn, KindRefIn:
		return 2
	}
	return 0
}

// ExprValue wraps an expression so it can be passed through the runtime,
// as macro arguments and results and quoted templates.
type ExprValue struct {
	Expr Expr
}

func (v *ExprValue) String() string {
	if v.Expr == nil {
		return ":{}"
	}
	return ":{" + Format(v.Expr) + "}"
}
