package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent with precedence climbing
// ---------------------------------------------------------------------------

// Level controls how much of a following and/or/for/:= an expression
// absorbs. Each level includes the ones before it.
type Level int

const (
	LevelSimple Level = iota
	LevelAnd
	LevelOr
	LevelFor
	LevelDefault
)

// Parser builds expression trees from a Lexer. Errors abort the parse and
// are returned by Parse as a single *Error.
type Parser struct {
	lexer  *Lexer
	source string
	last   int // line of the last consumed token

	quote   *quoteState
	pending Expr // parsed factor to be returned by the next parseFactor
}

type quoteState struct {
	args []Expr
}

// NewParser creates a parser over text.
func NewParser(source, text string, opts ...LexerOption) *Parser {
	p := &Parser{lexer: NewLexer(source, text, opts...), source: source}
	p.lexer.interpolate = p.interpolate
	return p
}

// Parse parses a whole source unit as a block.
func Parse(source, text string, opts ...LexerOption) (Expr, error) {
	return NewParser(source, text, opts...).Parse()
}

// Parse parses the remaining input as a toplevel block.
func (p *Parser) Parse() (e Expr, err error) {
	defer p.recover(&err)
	block := p.parseBlock(1, false, TokEOI)
	p.expect(TokEOI)
	return block, nil
}

// ParseExpression parses one expression at the given level.
func (p *Parser) ParseExpression(level Level) (e Expr, err error) {
	defer p.recover(&err)
	p.skipEOL()
	return p.parseExpression(level), nil
}

func (p *Parser) recover(err *error) {
	if r := recover(); r != nil {
		e, ok := r.(*Error)
		if !ok {
			panic(r)
		}
		*err = e
	}
}

// interpolate parses the {expr} of a single-quoted string. The closing
// brace is consumed through the lexer without reading past it.
func (p *Parser) interpolate(l *Lexer) Expr {
	sub := &Parser{lexer: l, source: p.source, quote: p.quote}
	return sub.parseInterpolation()
}

func (p *Parser) parseInterpolation() Expr {
	p.skipEOL()
	e := p.parseExpression(LevelDefault)
	p.skipEOL()
	p.expect(TokRBrace)
	return e
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (p *Parser) peek() Token { return p.lexer.Peek() }

func (p *Parser) next() Token {
	tok := p.lexer.Next()
	p.last = tok.Line
	return tok
}

func (p *Parser) at(t TokenType) bool { return p.peek().Type == t }

func (p *Parser) accept(t TokenType) bool {
	if p.at(t) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expect(t TokenType) Token {
	tok := p.peek()
	if tok.Type != t {
		p.failAt(tok, "expected %s, not %s", t, tok)
	}
	return p.next()
}

func (p *Parser) expectIdent() Token {
	return p.expect(TokIdent)
}

func (p *Parser) skipEOL() {
	for p.at(TokEOL) {
		p.next()
	}
}

func (p *Parser) failAt(tok Token, format string, args ...any) {
	panic(errorf(ErrSyntax, p.source, tok.Line, format, args...))
}

func (p *Parser) base(start int) Base {
	end := p.last
	if end < start {
		end = start
	}
	return Base{Source: p.source, StartLine: start, EndLine: end}
}

// atStatementEnd reports whether the next token cannot start an operand,
// so an optional value after exit, ret or while is absent.
func (p *Parser) atStatementEnd() bool {
	switch p.peek().Type {
	case TokEOL, TokEOI, TokSemicolon, TokEnd, TokElse, TokElseif, TokOn, TokCase,
		TokIs, TokIn, TokDo, TokThen, TokRParen, TokRBracket, TokRBrace, TokComma:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *Parser) parseExpression(level Level) Expr {
	start := p.peek().Line
	e := p.parseBinary(0)
	if level >= LevelAnd {
		for p.accept(TokAnd) {
			p.skipEOL()
			right := p.parseBinary(0)
			e = &LogicExpr{Base: p.base(start), Op: KindAnd, Left: e, Right: right}
		}
	}
	if level >= LevelOr {
		for p.accept(TokOr) {
			p.skipEOL()
			right := p.parseExpression(LevelAnd)
			e = &LogicExpr{Base: p.base(start), Op: KindOr, Left: e, Right: right}
		}
	}
	if level >= LevelFor && p.at(TokFor) {
		e = p.parseGenerator(start, e)
	}
	if level >= LevelDefault && p.accept(TokAssign) {
		p.skipEOL()
		value := p.parseExpression(LevelDefault)
		e = &AssignExpr{Base: p.base(start), Target: e, Value: value}
	}
	return e
}

// precedence orders binary operators by their first character.
func precedence(op string) int {
	switch op[0] {
	case '*', '/', '%', '\\':
		return 4
	case '+', '-':
		return 3
	case '=', '!', '<', '>', '~':
		return 2
	case '&', '|', '^':
		return 1
	}
	return 0
}

func (p *Parser) parseBinary(min int) Expr {
	start := p.peek().Line
	left := p.parseUnary()
	for {
		tok := p.peek()
		if tok.Type != TokOperator || tok.Text == "..." {
			return left
		}
		prec := precedence(tok.Text)
		if prec < min {
			return left
		}
		p.next()
		p.skipEOL()
		right := p.parseBinary(prec + 1)
		left.base().Next = right
		left = &ConstCallExpr{Base: p.base(start), Fn: runtime.MethodFor(tok.Text), Args: left}
	}
}

func (p *Parser) parseUnary() Expr {
	tok := p.peek()
	if p.pending == nil && tok.Type == TokOperator && tok.Text != "..." {
		p.next()
		arg := p.parseUnary()
		return &ConstCallExpr{Base: p.base(tok.Line), Fn: runtime.MethodFor(tok.Text), Args: arg}
	}
	return p.parseTerm()
}

// parseTerm parses a factor followed by call, index, method and scope
// suffixes.
func (p *Parser) parseTerm() Expr {
	start := p.peek().Line
	e := p.parseFactor()
	for {
		switch p.peek().Type {
		case TokLParen:
			p.next()
			args := p.parseList(TokRParen)
			e = &CallExpr{Base: p.base(start), Fn: e, Args: args}
		case TokLBracket:
			p.next()
			args := p.parseList(TokRBracket)
			e.base().Next = args
			e = &ConstCallExpr{Base: p.base(start), Fn: runtime.MethodFor("[]"), Args: e}
		case TokColon:
			p.next()
			tok := p.next()
			if tok.Type != TokIdent && tok.Type != TokOperator && !tok.Type.IsKeyword() {
				p.failAt(tok, "expected method name, not %s", tok)
			}
			var args Expr
			if p.accept(TokLParen) {
				args = p.parseList(TokRParen)
			}
			e.base().Next = args
			e = &ConstCallExpr{Base: p.base(start), Fn: runtime.MethodFor(tok.Text), Args: e}
		case TokScope:
			p.next()
			tok := p.next()
			if tok.Type != TokIdent && tok.Type != TokOperator && !tok.Type.IsKeyword() {
				p.failAt(tok, "expected name after ::, not %s", tok)
			}
			e = &ResolveExpr{Base: p.base(start), Parent: e, Name: tok.Text}
		default:
			return e
		}
	}
}

// parseList parses comma separated expressions up to and including close.
func (p *Parser) parseList(close TokenType) Expr {
	var items []Expr
	p.skipEOL()
	for !p.accept(close) {
		items = append(items, p.parseExpression(LevelDefault))
		p.skipEOL()
		if !p.accept(TokComma) {
			p.skipEOL()
			p.expect(close)
			break
		}
		p.skipEOL()
	}
	return Chain(items...)
}

func (p *Parser) parseGenerator(start int, value Expr) Expr {
	var head, tail *GenClause
	add := func(c *GenClause) {
		if head == nil {
			head = c
		} else {
			tail.Next = c
		}
		tail = c
	}
	for {
		switch {
		case p.at(TokFor):
			tok := p.next()
			c := &GenClause{Line: tok.Line}
			c.Key, c.Names, c.Unpack = p.parseForTarget()
			p.expect(TokIn)
			c.Seq = p.parseExpression(LevelOr)
			add(c)
		case head != nil && p.at(TokIf):
			tok := p.next()
			add(&GenClause{Line: tok.Line, Filter: p.parseExpression(LevelOr)})
		default:
			return &GeneratorExpr{Base: p.base(start), Value: value, Clauses: head}
		}
	}
}

// parseForTarget parses [key,] name or [key,] (a, b, ...).
func (p *Parser) parseForTarget() (key *DeclSpec, names []*DeclSpec, unpack bool) {
	parseTarget := func() ([]*DeclSpec, bool) {
		if p.accept(TokLParen) {
			var ds []*DeclSpec
			for {
				tok := p.expectIdent()
				ds = append(ds, &DeclSpec{Name: tok.Text, Line: tok.Line})
				if !p.accept(TokComma) {
					break
				}
			}
			p.expect(TokRParen)
			return ds, true
		}
		tok := p.expectIdent()
		return []*DeclSpec{{Name: tok.Text, Line: tok.Line}}, false
	}
	names, unpack = parseTarget()
	if !unpack && p.accept(TokComma) {
		key = names[0]
		names, unpack = parseTarget()
	}
	return key, names, unpack
}
