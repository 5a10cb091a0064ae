package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// argsFrame compiles items left to right, then emits the instruction of
// owner that consumes them.
type argsFrame struct {
	e     Expr
	items []Expr
	i     int
}

type stringFrame struct {
	e     *StringExpr
	parts []Expr
	i     int
}

type blockFrame struct {
	e     *BlockExpr
	next  Expr
	scope *Decl
	slots int
	try   *tryRecord
}

type catchStage uint8

const (
	catchTypes catchStage = iota
	catchBody
)

type catchFrame struct {
	e      *BlockExpr
	rec    *tryRecord
	clause *OnClause
	end    bytecode.Label
	skip   bytecode.Label
	stage  catchStage
	types  []Expr
	i      int

	scope   *Decl
	handler *tryRecord
}

type localFrame struct {
	e     *LocalExpr
	decls []*Decl
}

// evalFrame waits for a constant-only child function, runs it, and binds
// its result as a def or inline value.
type evalFrame struct {
	e       Expr
	decls   []*Decl
	running bool
}

type assignFrame struct {
	e       *AssignExpr
	store   bytecode.Opcode
	index   int
	general bool
}

type logicFrame struct {
	e    *LogicExpr
	end  bytecode.Label
	done bool
}

type ifStage uint8

const (
	ifCond ifStage = iota
	ifBody
	ifElse
)

type ifFrame struct {
	e     *IfExpr
	c     *IfCase
	stage ifStage
	depth int
	next  bytecode.Label
	end   bytecode.Label
	decl  *Decl
	scope *Decl
}

type loopFrame struct {
	e   *LoopExpr
	rec *loopRecord
}

type condExitFrame struct {
	e     *CondExitExpr
	rec   *loopRecord
	cont  bytecode.Label
	value bool
}

type forStage uint8

const (
	forSeq forStage = iota
	forBody
	forElse
)

type forFrame struct {
	e      *ForExpr
	stage  forStage
	depth  int
	rec    *loopRecord
	body   bytecode.Label
	orElse bytecode.Label
	scope  *Decl
	slots  int
}

type switchFrame struct {
	e      *SwitchExpr
	cases  []Expr
	labels []bytecode.Label
	i      int
	depth  int
	end    bytecode.Label
	ready  bool
}

type whenStage uint8

const (
	whenSubject whenStage = iota
	whenValue
	whenBody
	whenElse
)

type whenFrame struct {
	e      *WhenExpr
	stage  whenStage
	slot   int
	clause *WhenClause
	values []Expr
	i      int
	body   bytecode.Label
	next   bytecode.Label
	end    bytecode.Label
}

type withFrame struct {
	e      *WithExpr
	decls  []*Decl
	values []Expr
	i      int
	scope  *Decl
}

// funFrame waits for a child function and emits its closure.
type funFrame struct {
	e     Expr
	types int
}

type macroFrame struct {
	e        *CallExpr
	m        *runtime.Macro
	expanded bool
}

// finishFrame is the bottom frame of every function: the value of the
// body is returned.
type finishFrame struct {
	e        Expr
	toplevel bool
}

func (f *argsFrame) origin() Expr     { return f.e }
func (f *stringFrame) origin() Expr   { return f.e }
func (f *blockFrame) origin() Expr    { return f.e }
func (f *catchFrame) origin() Expr    { return f.e }
func (f *localFrame) origin() Expr    { return f.e }
func (f *evalFrame) origin() Expr     { return f.e }
func (f *assignFrame) origin() Expr   { return f.e }
func (f *logicFrame) origin() Expr    { return f.e }
func (f *ifFrame) origin() Expr       { return f.e }
func (f *loopFrame) origin() Expr     { return f.e }
func (f *condExitFrame) origin() Expr { return f.e }
func (f *forFrame) origin() Expr      { return f.e }
func (f *switchFrame) origin() Expr   { return f.e }
func (f *whenFrame) origin() Expr     { return f.e }
func (f *withFrame) origin() Expr     { return f.e }
func (f *funFrame) origin() Expr      { return f.e }
func (f *macroFrame) origin() Expr    { return f.e }
func (f *finishFrame) origin() Expr   { return f.e }
