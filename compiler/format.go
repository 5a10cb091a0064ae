package compiler

import (
	"strconv"
	"strings"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// Format renders e as source text. Parsing the result yields a tree of the
// same shape; positions are not preserved. A block without handlers is
// rendered as its bare statements.
func Format(e Expr) string {
	if e == nil {
		return ""
	}
	var f printer
	if isStatements(e) {
		f.stmts(e)
		return strings.TrimPrefix(f.sb.String(), "\n")
	}
	f.expr(e)
	return f.sb.String()
}

type printer struct {
	sb     strings.Builder
	indent int
	quotes [][]Expr // unquote arguments of the enclosing quotes
}

func (f *printer) write(s ...string) {
	for _, x := range s {
		f.sb.WriteString(x)
	}
}

func (f *printer) newline() {
	f.sb.WriteByte('\n')
	for i := 0; i < f.indent; i++ {
		f.sb.WriteByte('\t')
	}
}

func isStatements(e Expr) bool {
	switch e := e.(type) {
	case *BlockExpr:
		return e.Catches == nil
	case *ConstCallExpr:
		return exportNames(e) != nil
	}
	return false
}

// exportNames returns the exported names of a block wrapped by the parser
// for export declarations, or nil.
func exportNames(e *ConstCallExpr) runtime.Tuple {
	if m, ok := e.Fn.(*runtime.Method); !ok || m.Name != "export" || e.Args == nil {
		return nil
	}
	v, ok := e.Args.(*ValueExpr)
	if !ok {
		return nil
	}
	names, _ := v.Value.(runtime.Tuple)
	if b, ok := Next(v).(*BlockExpr); !ok || b.Catches != nil {
		return nil
	}
	return names
}

// body writes the statements of e indented on their own lines, leaving
// the cursor on a fresh line at the outer indentation.
func (f *printer) body(e Expr) {
	f.indent++
	f.stmts(e)
	f.indent--
	f.newline()
}

func (f *printer) stmts(e Expr) {
	switch b := e.(type) {
	case nil:
		return
	case *BlockExpr:
		if b.Catches == nil {
			for s := b.Body; s != nil; s = Next(s) {
				f.newline()
				f.stmt(s, false)
			}
			return
		}
	case *ConstCallExpr:
		if names := exportNames(b); names != nil {
			block := Next(b.Args).(*BlockExpr)
			for s := block.Body; s != nil; s = Next(s) {
				if Next(s) == nil && s.Kind() == KindTuple {
					break
				}
				f.newline()
				f.stmt(s, isExported(s))
			}
			return
		}
	}
	f.newline()
	f.stmt(e, false)
}

func isExported(s Expr) bool {
	l, ok := s.(*LocalExpr)
	if !ok {
		return false
	}
	for _, d := range l.Decls {
		if d.Export {
			return true
		}
	}
	return false
}

func (f *printer) stmt(e Expr, export bool) {
	l, ok := e.(*LocalExpr)
	if !ok {
		f.expr(e)
		return
	}
	if export {
		f.write("export ")
	}
	f.write(localBase(l.Op).String(), " ")
	switch localShape(l.Op) {
	case 0:
		f.write(l.Decls[0].Name)
		if l.Value == nil {
			return
		}
		f.write(" := ")
	case 1:
		f.write("(", declNames(l.Decls), ") := ")
	case 2:
		f.write("(", declNames(l.Decls), ") in ")
	}
	f.expr(l.Value)
}

func declNames(ds []*DeclSpec) string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return strings.Join(names, ", ")
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Ranks order expression forms by how much trailing input they absorb;
// a form is written bare only where the parser accepts its rank.
const (
	rankTerm = iota
	rankUnary
	rankBinary
	rankNot
	rankAnd
	rankOr
	rankGenerator
	rankAssign
	rankOpen
)

func rank(e Expr) int {
	switch e := e.(type) {
	case *ConstCallExpr:
		if m, ok := e.Fn.(*runtime.Method); ok && isOperator(m.Name) {
			switch len(Siblings(e.Args)) {
			case 1:
				return rankUnary
			case 2:
				return rankBinary
			}
		}
		return rankTerm
	case *NotExpr:
		return rankNot
	case *LogicExpr:
		if e.Op == KindAnd {
			return rankAnd
		}
		return rankOr
	case *GeneratorExpr:
		return rankGenerator
	case *AssignExpr:
		return rankAssign
	case *ExitExpr, *RetExpr, *SuspendExpr, *EachExpr, *CondExitExpr, *LocalExpr:
		return rankOpen
	}
	return rankTerm
}

func isOperator(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if charClasses[name[i]] != classOperator {
			return false
		}
	}
	return true
}

// sub writes e, parenthesised when its rank exceeds max.
func (f *printer) sub(e Expr, max int) {
	if rank(e) > max {
		f.write("(")
		f.expr(e)
		f.write(")")
		return
	}
	f.expr(e)
}

func (f *printer) list(e Expr) {
	f.exprs(Siblings(e))
}

func (f *printer) exprs(es []Expr) {
	for i, x := range es {
		if i > 0 {
			f.write(", ")
		}
		f.expr(x)
	}
}

func (f *printer) expr(e Expr) {
	switch e := e.(type) {
	case *NilExpr:
		f.write("nil")
	case *BlankExpr:
		f.write("_")
	case *OldExpr:
		f.write("old")
	case *NextExpr:
		f.write("next")
	case *RetryExpr:
		f.write("retry")
	case *ValueExpr:
		f.write(literal(e.Value))
	case *IdentExpr:
		f.write(e.Name)
	case *StringExpr:
		f.write("'")
		for p := e.Parts; p != nil; p = Next(p) {
			if v, ok := p.(*ValueExpr); ok {
				if s, ok := v.Value.(string); ok {
					f.write(quoteChars(s, '\''))
					continue
				}
			}
			f.write("{")
			f.expr(p)
			f.write("}")
		}
		f.write("'")
	case *AssignExpr:
		f.sub(e.Target, rankGenerator)
		f.write(" := ")
		f.expr(e.Value)
	case *CallExpr:
		f.sub(e.Fn, rankTerm)
		f.write("(")
		f.list(e.Args)
		f.write(")")
	case *ConstCallExpr:
		f.constCall(e)
	case *ResolveExpr:
		f.sub(e.Parent, rankTerm)
		f.write("::", e.Name)
	case *LogicExpr:
		if e.Op == KindAnd {
			f.sub(e.Left, rankAnd)
			f.write(" and ")
			f.sub(e.Right, rankNot)
		} else {
			f.sub(e.Left, rankOr)
			f.write(" or ")
			f.sub(e.Right, rankAnd)
		}
	case *NotExpr:
		f.write("not ")
		f.sub(e.Arg, rankBinary)
	case *IfExpr:
		for c := e.Cases; c != nil; c = c.Next {
			if c == e.Cases {
				f.write("if ")
			} else {
				f.write("elseif ")
			}
			switch c.Bind {
			case KindVar:
				f.write("var ", c.Name, " := ")
			case KindLet:
				f.write("let ", c.Name, " := ")
			}
			f.expr(c.Cond)
			f.write(" then")
			f.body(c.Body)
		}
		if e.Else != nil {
			f.write("else")
			f.body(e.Else)
		}
		f.write("end")
	case *LoopExpr:
		f.write("loop")
		f.body(e.Body)
		f.write("end")
	case *CondExitExpr:
		f.write(e.Op.String(), " ")
		f.expr(e.Cond)
		if e.Value != nil {
			f.write(", ")
			f.expr(e.Value)
		}
	case *ExitExpr:
		f.write("exit")
		if e.Value != nil {
			f.write(" ")
			f.expr(e.Value)
		}
	case *RetExpr:
		f.write("ret")
		if e.Value != nil {
			f.write(" ")
			f.expr(e.Value)
		}
	case *ForExpr:
		f.write("for ")
		f.forTarget(e.Key, e.Names, e.Unpack)
		f.write(" in ")
		f.sub(e.Seq, rankOr)
		f.write(" do")
		f.body(e.Body)
		if e.Else != nil {
			f.write("else")
			f.body(e.Else)
		}
		f.write("end")
	case *EachExpr:
		f.write("each ")
		f.sub(e.Seq, rankOr)
	case *BlockExpr:
		f.write("do")
		f.indent++
		if e.Catches == nil {
			f.stmts(e)
		} else {
			for s := e.Body; s != nil; s = Next(s) {
				f.newline()
				f.stmt(s, false)
			}
		}
		f.indent--
		f.newline()
		for c := e.Catches; c != nil; c = c.Next {
			f.write("on ", c.Name)
			if c.Types != nil {
				f.write(" in ")
				for i, t := range Siblings(c.Types) {
					if i > 0 {
						f.write(", ")
					}
					f.sub(t, rankOr)
				}
			}
			f.write(" do")
			f.body(c.Body)
		}
		f.write("end")
	case *LocalExpr:
		f.stmt(e, false)
	case *FunExpr:
		f.write("fun(")
		f.params(e.Params, e.Extra, e.Named)
		f.write(")")
		f.body(e.Body)
		f.write("end")
	case *MethExpr:
		f.write("meth ", e.Name, "(")
		f.params(e.Params, e.Extra, false)
		f.write(")")
		f.body(e.Body)
		f.write("end")
	case *SuspendExpr:
		f.write("susp ")
		if e.Key != nil {
			f.expr(e.Key)
			f.write(", ")
		}
		f.expr(e.Value)
	case *WithExpr:
		f.write("with ")
		values := Siblings(e.Values)
		for i, d := range e.Decls {
			if i > 0 {
				f.write(", ")
			}
			f.write(d.Name, " := ")
			if i < len(values) {
				f.expr(values[i])
			} else {
				f.write("nil")
			}
		}
		f.write(" do")
		f.body(e.Body)
		f.write("end")
	case *SwitchExpr:
		f.write("switch ")
		f.expr(e.Subject)
		if e.Cases == nil {
			f.newline()
		}
		for c := e.Cases; c != nil; c = Next(c) {
			f.newline()
			f.write("case")
			f.body(c)
		}
		if e.Else != nil {
			f.write("else")
			f.body(e.Else)
		}
		f.write("end")
	case *WhenExpr:
		f.write("when ")
		f.expr(e.Subject)
		if e.Clauses == nil {
			f.newline()
		}
		for c := e.Clauses; c != nil; c = c.Next {
			f.newline()
			if c.Method == "in" {
				f.write("in ")
			} else {
				f.write("is ")
			}
			for i, v := range Siblings(c.Values) {
				if i > 0 {
					f.write(", ")
				}
				f.sub(v, rankOr)
			}
			f.write(" do")
			f.body(c.Body)
		}
		if e.Else != nil {
			f.write("else")
			f.body(e.Else)
		}
		f.write("end")
	case *ListExpr:
		if e.Op == KindList {
			f.write("[")
			f.list(e.Elems)
			f.write("]")
			return
		}
		f.write("(")
		f.list(e.Elems)
		if e.Elems != nil && Next(e.Elems) == nil {
			f.write(",")
		}
		f.write(")")
	case *MapExpr:
		f.write("{")
		entries := Siblings(e.Entries)
		for i := 0; i < len(entries); i += 2 {
			if i > 0 {
				f.write(", ")
			}
			f.sub(entries[i], rankOr)
			if i+1 < len(entries) && entries[i+1].Kind() != KindNil {
				f.write(" is ")
				f.expr(entries[i+1])
			}
		}
		f.write("}")
	case *InlineExpr:
		f.write(":(")
		f.expr(e.Value)
		f.write(")")
	case *QuoteExpr:
		f.quotes = append(f.quotes, Siblings(e.Args))
		f.write(":{")
		if b, ok := e.Body.(*BlockExpr); ok && !unwrapsInQuote(b) {
			for i, s := range Siblings(b.Body) {
				if i > 0 {
					f.write("; ")
				}
				f.stmt(s, false)
			}
		} else {
			f.expr(e.Body)
		}
		f.write("}")
		f.quotes = f.quotes[:len(f.quotes)-1]
	case *UnquoteExpr:
		if e.Name != "" {
			f.write(":$", e.Name)
			return
		}
		f.write(":$(")
		if n := len(f.quotes); n > 0 && e.Index < len(f.quotes[n-1]) {
			args := f.quotes[n-1]
			f.quotes = f.quotes[:n-1]
			f.expr(args[e.Index])
			f.quotes = append(f.quotes, args)
		} else {
			f.write("nil")
		}
		f.write(")")
	case *GeneratorExpr:
		f.sub(e.Value, rankOr)
		for c := e.Clauses; c != nil; c = c.Next {
			if c.Filter != nil {
				f.write(" if ")
				f.sub(c.Filter, rankOr)
				continue
			}
			f.write(" for ")
			f.forTarget(c.Key, c.Names, c.Unpack)
			f.write(" in ")
			f.sub(c.Seq, rankOr)
		}
	default:
		f.write("nil")
	}
}

// unwrapsInQuote reports whether a quote body block of this shape would
// have been parsed as its single statement.
func unwrapsInQuote(b *BlockExpr) bool {
	return b.Catches == nil && len(b.Vars)+len(b.Lets)+len(b.Defs) == 0 &&
		b.Body != nil && Next(b.Body) == nil
}

func (f *printer) constCall(e *ConstCallExpr) {
	args := Siblings(e.Args)
	m, ok := e.Fn.(*runtime.Method)
	if !ok {
		f.write(":(", literal(e.Fn), ")(")
		f.list(e.Args)
		f.write(")")
		return
	}
	if exportNames(e) != nil {
		f.write("do")
		f.body(e)
		f.write("end")
		return
	}
	switch {
	case isOperator(m.Name) && len(args) == 1:
		f.write(m.Name)
		if rank(args[0]) == rankUnary {
			f.write("(")
			f.expr(args[0])
			f.write(")")
		} else {
			f.sub(args[0], rankTerm)
		}
	case isOperator(m.Name) && len(args) == 2:
		prec := precedence(m.Name)
		f.operand(args[0], prec, false)
		f.write(" ", m.Name, " ")
		f.operand(args[1], prec, true)
	case m.Name == "[]" && len(args) > 0:
		f.sub(args[0], rankTerm)
		f.write("[")
		f.exprs(args[1:])
		f.write("]")
	case len(args) > 0:
		f.sub(args[0], rankTerm)
		f.write(":", m.Name)
		if len(args) > 1 {
			f.write("(")
			f.exprs(args[1:])
			f.write(")")
		}
	default:
		f.write(":(", literal(m), ")()")
	}
}

// operand writes one side of a binary operator of precedence prec.
func (f *printer) operand(e Expr, prec int, right bool) {
	switch rank(e) {
	case rankTerm, rankUnary:
		f.expr(e)
		return
	case rankBinary:
		p := precedence(e.(*ConstCallExpr).Fn.(*runtime.Method).Name)
		if p > prec || (p == prec && !right) {
			f.expr(e)
			return
		}
	}
	f.write("(")
	f.expr(e)
	f.write(")")
}

func (f *printer) forTarget(key *DeclSpec, names []*DeclSpec, unpack bool) {
	if key != nil {
		f.write(key.Name, ", ")
	}
	if unpack {
		f.write("(", declNames(names), ")")
	} else if len(names) > 0 {
		f.write(names[0].Name)
	}
}

func (f *printer) params(ps []*Param, extra, named bool) {
	for i, p := range ps {
		switch {
		case i == 0:
		case named && i == len(ps)-1:
			f.write("; ")
		default:
			f.write(", ")
		}
		f.write(p.Name)
		if extra && i == len(ps)-1-boolInt(named) {
			f.write("...")
		}
		if p.Type != nil {
			f.write(": ")
			f.sub(p.Type, rankTerm)
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// literal renders a constant in lexer syntax where one exists.
func literal(v runtime.Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return runtime.Repr(v)
	case complex128:
		if real(v) == 0 {
			return strconv.FormatFloat(imag(v), 'g', -1, 64) + "i"
		}
	case string:
		return `"` + quoteChars(v, '"') + `"`
	case []byte:
		return `b"` + quoteChars(string(v), '"') + `"`
	}
	return runtime.Repr(v)
}

// quoteChars escapes s for a string literal delimited by quote.
func quoteChars(s string, quote byte) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' || c == quote:
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '{' && quote == '\'':
			sb.WriteString(`\{`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c < 0x20 || c == 0x7f:
			sb.WriteString(`\x`)
			sb.WriteByte("0123456789abcdef"[c>>4])
			sb.WriteByte("0123456789abcdef"[c&15])
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
