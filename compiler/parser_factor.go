package compiler

import (
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Factors
// ---------------------------------------------------------------------------

func (p *Parser) parseFactor() Expr {
	if e := p.pending; e != nil {
		p.pending = nil
		return e
	}
	tok := p.next()
	line := tok.Line
	switch tok.Type {
	case TokValue:
		return &ValueExpr{Base: p.base(line), Value: tok.Value}
	case TokExpr:
		return tok.Expr
	case TokIdent:
		return &IdentExpr{Base: p.base(line), Name: tok.Text}
	case TokBlank:
		return &BlankExpr{Base: p.base(line)}
	case TokNil:
		return &NilExpr{Base: p.base(line)}
	case TokOld:
		return &OldExpr{Base: p.base(line)}
	case TokNext:
		return &NextExpr{Base: p.base(line)}
	case TokRetry:
		return &RetryExpr{Base: p.base(line)}
	case TokLParen:
		return p.parseParen(line)
	case TokLBracket:
		elems := p.parseList(TokRBracket)
		return &ListExpr{Base: p.base(line), Op: KindList, Elems: elems}
	case TokLBrace:
		return p.parseMap(line)
	case TokIf:
		return p.parseIf(line)
	case TokLoop:
		body := p.parseBlock(line, false, TokEnd)
		p.expect(TokEnd)
		return &LoopExpr{Base: p.base(line), Body: body}
	case TokWhile, TokUntil:
		op := KindWhile
		if tok.Type == TokUntil {
			op = KindUntil
		}
		cond := p.parseExpression(LevelDefault)
		var value Expr
		if p.accept(TokComma) {
			value = p.parseExpression(LevelDefault)
		}
		return &CondExitExpr{Base: p.base(line), Op: op, Cond: cond, Value: value}
	case TokExit:
		var value Expr
		if !p.atStatementEnd() {
			value = p.parseExpression(LevelDefault)
		}
		return &ExitExpr{Base: p.base(line), Value: value}
	case TokRet:
		var value Expr
		if !p.atStatementEnd() {
			value = p.parseExpression(LevelDefault)
		}
		return &RetExpr{Base: p.base(line), Value: value}
	case TokFor:
		return p.parseFor(line)
	case TokEach:
		seq := p.parseExpression(LevelOr)
		return &EachExpr{Base: p.base(line), Seq: seq}
	case TokDo:
		block := p.parseBlock(line, true, TokEnd)
		p.expect(TokEnd)
		return block
	case TokFun:
		return p.parseFun(line)
	case TokMeth:
		return p.parseMeth(line)
	case TokSusp:
		value := p.parseExpression(LevelDefault)
		var key Expr
		if p.accept(TokComma) {
			key, value = value, p.parseExpression(LevelDefault)
		}
		return &SuspendExpr{Base: p.base(line), Key: key, Value: value}
	case TokWith:
		return p.parseWith(line)
	case TokSwitch:
		return p.parseSwitch(line)
	case TokWhen:
		return p.parseWhen(line)
	case TokNot:
		arg := p.parseBinary(0)
		return &NotExpr{Base: p.base(line), Arg: arg}
	case TokInline:
		p.skipEOL()
		value := p.parseExpression(LevelDefault)
		p.skipEOL()
		p.expect(TokRParen)
		return &InlineExpr{Base: p.base(line), Value: value}
	case TokQuote:
		return p.parseQuote(line)
	case TokUnquote:
		return p.parseUnquote(tok)
	}
	p.failAt(tok, "expected expression, not %s", tok)
	return nil
}

// parseParen parses a parenthesised expression or a tuple. A single
// expression without a trailing comma is returned unchanged.
func (p *Parser) parseParen(line int) Expr {
	p.skipEOL()
	if p.accept(TokRParen) {
		return &ListExpr{Base: p.base(line), Op: KindTuple}
	}
	first := p.parseExpression(LevelDefault)
	p.skipEOL()
	if !p.accept(TokComma) {
		p.expect(TokRParen)
		return first
	}
	rest := p.parseList(TokRParen)
	return &ListExpr{Base: p.base(line), Op: KindTuple, Elems: Chain(append([]Expr{first}, Siblings(rest)...)...)}
}

// parseMap parses {k is v, ...}. A key without a value maps to nil.
func (p *Parser) parseMap(line int) Expr {
	var entries []Expr
	p.skipEOL()
	for !p.accept(TokRBrace) {
		key := p.parseExpression(LevelOr)
		var value Expr
		if p.accept(TokIs) {
			value = p.parseExpression(LevelDefault)
		} else {
			value = &NilExpr{Base: p.base(p.last)}
		}
		entries = append(entries, key, value)
		p.skipEOL()
		if !p.accept(TokComma) {
			p.skipEOL()
			p.expect(TokRBrace)
			break
		}
		p.skipEOL()
	}
	return &MapExpr{Base: p.base(line), Entries: Chain(entries...)}
}

func (p *Parser) parseIf(line int) Expr {
	e := &IfExpr{}
	var tail *IfCase
	caseLine := line
	for {
		c := &IfCase{Line: caseLine}
		if p.at(TokVar) || p.at(TokLet) {
			c.Bind = KindVar
			if p.next().Type == TokLet {
				c.Bind = KindLet
			}
			c.Name = p.expectIdent().Text
			p.expect(TokAssign)
		}
		c.Cond = p.parseExpression(LevelDefault)
		p.skipEOL()
		p.expect(TokThen)
		c.Body = p.parseBlock(caseLine, false, TokElseif, TokElse, TokEnd)
		if tail == nil {
			e.Cases = c
		} else {
			tail.Next = c
		}
		tail = c
		if p.at(TokElseif) {
			caseLine = p.next().Line
			continue
		}
		break
	}
	if p.at(TokElse) {
		elseLine := p.next().Line
		e.Else = p.parseBlock(elseLine, false, TokEnd)
	}
	p.expect(TokEnd)
	e.Base = p.base(line)
	return e
}

func (p *Parser) parseFor(line int) Expr {
	key, names, unpack := p.parseForTarget()
	p.expect(TokIn)
	seq := p.parseExpression(LevelOr)
	p.skipEOL()
	p.expect(TokDo)
	body := p.parseBlock(line, false, TokElse, TokEnd)
	var elseBody Expr
	if p.at(TokElse) {
		elseLine := p.next().Line
		elseBody = p.parseBlock(elseLine, false, TokEnd)
	}
	p.expect(TokEnd)
	return &ForExpr{Base: p.base(line), Key: key, Names: names, Unpack: unpack, Seq: seq, Body: body, Else: elseBody}
}

// parseParams parses a parameter list after its opening parenthesis.
// "name..." collects extra arguments and a parameter after ";" collects
// named arguments; either must come last.
func (p *Parser) parseParams(typed bool) (params []*Param, extra, named bool) {
	p.skipEOL()
	if p.accept(TokRParen) {
		return nil, false, false
	}
	for {
		if extra || named {
			p.failAt(p.peek(), "expected ), not %s", p.peek())
		}
		tok := p.expectIdent()
		param := &Param{Name: tok.Text, Line: tok.Line}
		if op := p.peek(); op.Type == TokOperator && op.Text == "..." {
			p.next()
			extra = true
		}
		if typed && p.accept(TokColon) {
			param.Type = p.parseTerm()
		}
		params = append(params, param)
		p.skipEOL()
		switch {
		case p.accept(TokComma):
			p.skipEOL()
		case p.accept(TokSemicolon):
			p.skipEOL()
			tok := p.expectIdent()
			params = append(params, &Param{Name: tok.Text, Line: tok.Line})
			named = true
			p.skipEOL()
			p.expect(TokRParen)
			return params, extra, named
		default:
			p.expect(TokRParen)
			return params, extra, named
		}
	}
}

func (p *Parser) parseFun(line int) Expr {
	p.expect(TokLParen)
	params, extra, named := p.parseParams(false)
	body := p.parseBlock(line, false, TokEnd)
	p.expect(TokEnd)
	return &FunExpr{Base: p.base(line), Params: params, Extra: extra, Named: named, Body: body}
}

func (p *Parser) parseMeth(line int) Expr {
	tok := p.next()
	if tok.Type != TokIdent && tok.Type != TokOperator && !tok.Type.IsKeyword() {
		p.failAt(tok, "expected method name, not %s", tok)
	}
	p.expect(TokLParen)
	params, extra, named := p.parseParams(true)
	if named {
		p.failAt(tok, "named arguments not allowed in meth %s", tok.Text)
	}
	body := p.parseBlock(line, false, TokEnd)
	p.expect(TokEnd)
	return &MethExpr{Base: p.base(line), Name: tok.Text, Params: params, Extra: extra, Body: body}
}

func (p *Parser) parseWith(line int) Expr {
	var decls []*DeclSpec
	var values []Expr
	for {
		p.skipEOL()
		tok := p.expectIdent()
		p.expect(TokAssign)
		decls = append(decls, &DeclSpec{Name: tok.Text, Line: tok.Line})
		values = append(values, p.parseExpression(LevelDefault))
		if !p.accept(TokComma) {
			break
		}
	}
	p.skipEOL()
	p.expect(TokDo)
	body := p.parseBlock(line, false, TokEnd)
	p.expect(TokEnd)
	return &WithExpr{Base: p.base(line), Decls: decls, Values: Chain(values...), Body: body}
}

func (p *Parser) parseSwitch(line int) Expr {
	subject := p.parseExpression(LevelDefault)
	p.skipEOL()
	var cases []Expr
	for p.at(TokCase) {
		caseLine := p.next().Line
		cases = append(cases, p.parseBlock(caseLine, false, TokCase, TokElse, TokEnd))
	}
	var elseBody Expr
	if p.at(TokElse) {
		elseLine := p.next().Line
		elseBody = p.parseBlock(elseLine, false, TokEnd)
	}
	p.expect(TokEnd)
	return &SwitchExpr{Base: p.base(line), Subject: subject, Cases: Chain(cases...), Else: elseBody}
}

func (p *Parser) parseWhen(line int) Expr {
	e := &WhenExpr{Subject: p.parseExpression(LevelDefault)}
	p.skipEOL()
	var tail *WhenClause
	for p.at(TokIs) || p.at(TokIn) {
		tok := p.next()
		c := &WhenClause{Line: tok.Line, Method: "="}
		if tok.Type == TokIn {
			c.Method = "in"
		}
		var values []Expr
		for {
			values = append(values, p.parseExpression(LevelOr))
			if !p.accept(TokComma) {
				break
			}
			p.skipEOL()
		}
		c.Values = Chain(values...)
		p.skipEOL()
		p.expect(TokDo)
		c.Body = p.parseBlock(tok.Line, false, TokIs, TokIn, TokElse, TokEnd)
		if tail == nil {
			e.Clauses = c
		} else {
			tail.Next = c
		}
		tail = c
	}
	if p.at(TokElse) {
		elseLine := p.next().Line
		e.Else = p.parseBlock(elseLine, false, TokEnd)
	}
	p.expect(TokEnd)
	e.Base = p.base(line)
	return e
}

// parseQuote parses :{ ... }. Unquotes inside refer to this quote only.
func (p *Parser) parseQuote(line int) Expr {
	saved := p.quote
	q := &quoteState{}
	p.quote = q
	defer func() { p.quote = saved }()
	body := p.parseBlock(line, false, TokRBrace)
	p.expect(TokRBrace)
	var inner Expr = body
	if b, ok := body.(*BlockExpr); ok && b.Catches == nil && len(b.Vars)+len(b.Lets)+len(b.Defs) == 0 &&
		b.Body != nil && Next(b.Body) == nil {
		inner = b.Body
	}
	return &QuoteExpr{Base: p.base(line), Body: inner, Args: Chain(q.args...)}
}

func (p *Parser) parseUnquote(tok Token) Expr {
	if p.quote == nil {
		p.failAt(tok, ":$ outside quote")
	}
	var arg Expr
	name := ""
	if p.accept(TokLParen) {
		arg = p.parseExpression(LevelDefault)
		p.expect(TokRParen)
	} else {
		id := p.expectIdent()
		name = id.Text
		arg = &IdentExpr{Base: p.base(id.Line), Name: name}
	}
	index := len(p.quote.args)
	p.quote.args = append(p.quote.args, arg)
	return &UnquoteExpr{Base: p.base(tok.Line), Index: index, Name: name}
}

// ---------------------------------------------------------------------------
// Blocks and declarations
// ---------------------------------------------------------------------------

// parseBlock parses statements up to, not including, one of stop. With
// allowOn, trailing on clauses are attached as handlers. Blocks with
// exported declarations come back wrapped in an export call.
func (p *Parser) parseBlock(start int, allowOn bool, stop ...TokenType) Expr {
	b := &BlockExpr{}
	var stmts []Expr
	var exports []*DeclSpec
	stopped := func() bool {
		t := p.peek().Type
		for _, s := range stop {
			if t == s {
				return true
			}
		}
		return allowOn && t == TokOn
	}
	for {
		for p.accept(TokEOL) || p.accept(TokSemicolon) {
		}
		if stopped() {
			break
		}
		export := p.accept(TokExport)
		stmts = append(stmts, p.parseStatement(b, export, &exports)...)
		if !stopped() && !p.at(TokEOL) && !p.at(TokSemicolon) {
			p.failAt(p.peek(), "expected end of statement, not %s", p.peek())
		}
	}
	if allowOn {
		b.Catches = p.parseOnClauses(stop)
	}
	if len(exports) > 0 {
		names := make(runtime.Tuple, len(exports))
		idents := make([]Expr, len(exports))
		for i, d := range exports {
			names[i] = d.Name
			idents[i] = &IdentExpr{Base: Base{Source: p.source, StartLine: d.Line, EndLine: d.Line}, Name: d.Name}
		}
		stmts = append(stmts, &ListExpr{Base: p.base(p.last), Op: KindTuple, Elems: Chain(idents...)})
		b.Body = Chain(stmts...)
		b.Base = p.base(start)
		return &ConstCallExpr{
			Base: p.base(start),
			Fn:   runtime.MethodFor("export"),
			Args: Chain(&ValueExpr{Base: p.base(start), Value: names}, b),
		}
	}
	b.Body = Chain(stmts...)
	b.Base = p.base(start)
	return b
}

func (p *Parser) parseOnClauses(stop []TokenType) *OnClause {
	var head, tail *OnClause
	for p.at(TokOn) {
		line := p.next().Line
		c := &OnClause{Line: line, Name: p.expectIdent().Text}
		if p.accept(TokIn) {
			var types []Expr
			for {
				types = append(types, p.parseExpression(LevelOr))
				if !p.accept(TokComma) {
					break
				}
			}
			c.Types = Chain(types...)
		}
		p.skipEOL()
		p.expect(TokDo)
		c.Body = p.parseBlock(line, false, append([]TokenType{TokOn}, stop...)...)
		if head == nil {
			head = c
		} else {
			tail.Next = c
		}
		tail = c
	}
	return head
}

// parseStatement parses one statement of b, recording declarations in b's
// lists. A declaration statement may produce several bindings.
func (p *Parser) parseStatement(b *BlockExpr, export bool, exports *[]*DeclSpec) []Expr {
	tok := p.peek()
	switch tok.Type {
	case TokVar, TokLet, TokDef, TokRef:
		p.next()
		return p.parseDecls(b, tok, export, exports)
	case TokFun:
		p.next()
		if !p.at(TokIdent) {
			if export {
				p.failAt(tok, "expected declaration after export")
			}
			p.pending = p.parseFun(tok.Line)
			return []Expr{p.parseExpression(LevelDefault)}
		}
		name := p.next()
		fn := p.parseFun(tok.Line)
		d := &DeclSpec{Name: name.Text, Line: name.Line, Export: export}
		b.Lets = append(b.Lets, d)
		if export {
			*exports = append(*exports, d)
		}
		return []Expr{&LocalExpr{Base: p.base(tok.Line), Op: KindLet, Decls: []*DeclSpec{d}, Value: fn}}
	}
	if export {
		p.failAt(tok, "expected declaration after export, not %s", tok)
	}
	return []Expr{p.parseExpression(LevelDefault)}
}

func (p *Parser) parseDecls(b *BlockExpr, tok Token, export bool, exports *[]*DeclSpec) []Expr {
	var kind Kind
	var list *[]*DeclSpec
	switch tok.Type {
	case TokVar:
		kind, list = KindVar, &b.Vars
	case TokLet:
		kind, list = KindLet, &b.Lets
	case TokDef:
		kind, list = KindDef, &b.Defs
	default:
		kind, list = KindRef, &b.Lets
	}
	var out []Expr
	for {
		start := p.peek().Line
		e := &LocalExpr{Op: kind}
		if p.accept(TokLParen) {
			for {
				id := p.expectIdent()
				e.Decls = append(e.Decls, &DeclSpec{Name: id.Text, Line: id.Line})
				if !p.accept(TokComma) {
					break
				}
			}
			p.expect(TokRParen)
			if p.accept(TokIn) {
				e.Op = kind + (KindVarIn - KindVar)
			} else {
				p.expect(TokAssign)
				e.Op = kind + (KindVarUnpack - KindVar)
			}
			e.Value = p.parseExpression(LevelDefault)
		} else {
			id := p.expectIdent()
			e.Decls = []*DeclSpec{{Name: id.Text, Line: id.Line}}
			if p.accept(TokAssign) {
				e.Value = p.parseExpression(LevelDefault)
			} else if kind != KindVar {
				p.failAt(p.peek(), "expected :=, not %s", p.peek())
			}
		}
		e.Base = p.base(start)
		*list = append(*list, e.Decls...)
		if export {
			for _, d := range e.Decls {
				d.Export = true
			}
			*exports = append(*exports, e.Decls...)
		}
		out = append(out, e)
		if !p.accept(TokComma) {
			return out
		}
		p.skipEOL()
	}
}
