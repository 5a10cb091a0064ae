package compiler

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Character classes
// ---------------------------------------------------------------------------

type charClass uint8

const (
	classOther charClass = iota
	classEOI
	classSpace
	classNewline
	classAlpha
	classDigit
	classOperator
	classDelimiter
	classColon
	classSQuote
	classDQuote
	numClasses
)

var charClasses [256]charClass

func init() {
	set := func(chars string, c charClass) {
		for i := 0; i < len(chars); i++ {
			charClasses[chars[i]] = c
		}
	}
	set(" \t\r\f\v", classSpace)
	set("\n", classNewline)
	set("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_", classAlpha)
	set("0123456789", classDigit)
	set("!#$%&*+-./<=>?@\\^|~`", classOperator)
	set("()[]{},;", classDelimiter)
	set(":", classColon)
	set("'", classSQuote)
	set("\"", classDQuote)
	for c := 0x80; c < 0x100; c++ {
		charClasses[c] = classAlpha
	}
}

// lexFunc scans one token starting at the current position. It returns
// false when it only skipped input (whitespace, comments).
type lexFunc func(*Lexer) (Token, bool)

var lexTable [numClasses]lexFunc

func init() {
	lexTable = [numClasses]lexFunc{
		classOther:     (*Lexer).lexOther,
		classEOI:       (*Lexer).lexEOI,
		classSpace:     (*Lexer).lexSpace,
		classNewline:   (*Lexer).lexNewline,
		classAlpha:     (*Lexer).lexAlpha,
		classDigit:     (*Lexer).lexNumber,
		classOperator:  (*Lexer).lexOperator,
		classDelimiter: (*Lexer).lexDelimiter,
		classColon:     (*Lexer).lexColon,
		classSQuote:    (*Lexer).lexInterpolated,
		classDQuote:    (*Lexer).lexString,
	}
}

var delimiterTokens = map[byte]TokenType{
	'(': TokLParen,
	')': TokRParen,
	'[': TokLBracket,
	']': TokRBracket,
	'{': TokLBrace,
	'}': TokRBrace,
	',': TokComma,
	';': TokSemicolon,
}

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

// Lexer tokenizes source text one token at a time.
type Lexer struct {
	source   string
	text     string
	pos      int
	line     int
	keywords *KeywordTable
	prefixes *PrefixTable

	// interpolate parses the expression inside {...} of a single-quoted
	// string, leaving the lexer just past the closing brace.
	interpolate func(*Lexer) Expr

	peeked  Token
	hasPeek bool
}

// LexerOption configures a Lexer.
type LexerOption func(*Lexer)

// WithKeywords sets the keyword table.
func WithKeywords(kt *KeywordTable) LexerOption {
	return func(l *Lexer) { l.keywords = kt }
}

// WithPrefixes sets the string prefix table.
func WithPrefixes(pt *PrefixTable) LexerOption {
	return func(l *Lexer) { l.prefixes = pt }
}

// NewLexer creates a lexer over text. source names the input in positions.
func NewLexer(source, text string, opts ...LexerOption) *Lexer {
	l := &Lexer{source: source, text: text, line: 1}
	for _, opt := range opts {
		opt(l)
	}
	if l.keywords == nil {
		l.keywords = DefaultKeywords()
	}
	if l.prefixes == nil {
		l.prefixes = defaultPrefixes
	}
	return l
}

var defaultPrefixes = NewPrefixTable()

// Line returns the current line.
func (l *Lexer) Line() int { return l.line }

// Next consumes and returns the next token. Malformed input panics with an
// *Error; Parse and Tokenize recover it.
func (l *Lexer) Next() Token {
	if l.hasPeek {
		l.hasPeek = false
		return l.peeked
	}
	return l.scan()
}

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() Token {
	if !l.hasPeek {
		tok := l.scan()
		l.peeked, l.hasPeek = tok, true
	}
	return l.peeked
}

func (l *Lexer) scan() Token {
	for {
		c := classEOI
		if l.pos < len(l.text) {
			c = charClasses[l.text[l.pos]]
		}
		if tok, ok := lexTable[c](l); ok {
			return tok
		}
	}
}

func (l *Lexer) token(t TokenType) Token {
	return Token{Type: t, Source: l.source, Line: l.line}
}

func (l *Lexer) fail(format string, args ...any) {
	panic(errorf(ErrLexical, l.source, l.line, format, args...))
}

func (l *Lexer) byteAt(i int) byte {
	if i < len(l.text) {
		return l.text[i]
	}
	return 0
}

func (l *Lexer) classAt(i int) charClass {
	if i < len(l.text) {
		return charClasses[l.text[i]]
	}
	return classEOI
}

func (l *Lexer) lexOther() (Token, bool) {
	l.fail("unexpected character %q", l.text[l.pos])
	return Token{}, false
}

func (l *Lexer) lexEOI() (Token, bool) {
	return l.token(TokEOI), true
}

func (l *Lexer) lexSpace() (Token, bool) {
	for l.classAt(l.pos) == classSpace {
		l.pos++
	}
	return Token{}, false
}

func (l *Lexer) lexNewline() (Token, bool) {
	tok := l.token(TokEOL)
	l.pos++
	l.line++
	return tok, true
}

func (l *Lexer) lexAlpha() (Token, bool) {
	start := l.pos
	for c := l.classAt(l.pos); c == classAlpha || c == classDigit; c = l.classAt(l.pos) {
		l.pos++
	}
	word := l.text[start:l.pos]
	if l.byteAt(l.pos) == '"' {
		return l.lexPrefixed(word), true
	}
	if word == "_" {
		return l.token(TokBlank), true
	}
	if t, ok := l.keywords.Lookup(word); ok {
		tok := l.token(t)
		tok.Text = word
		return tok, true
	}
	tok := l.token(TokIdent)
	tok.Text = word
	return tok, true
}

func (l *Lexer) lexPrefixed(prefix string) Token {
	fn, ok := l.prefixes.Lookup(prefix)
	if !ok {
		l.fail("unknown string prefix %s", prefix)
	}
	line := l.line
	l.pos++ // opening quote
	start := l.pos
	for {
		switch c := l.byteAt(l.pos); {
		case l.pos >= len(l.text):
			l.fail("unterminated string")
		case c == '\\':
			l.pos += 2
			continue
		case c == '\n':
			l.line++
		case c == '"':
			raw := l.text[start:l.pos]
			l.pos++
			v, err := fn(raw)
			if err != nil {
				l.fail("%s string: %v", prefix, err)
			}
			return Token{Type: TokValue, Value: v, Source: l.source, Line: line}
		}
		l.pos++
	}
}

func (l *Lexer) lexNumber() (Token, bool) {
	tok := l.token(TokValue)
	start := l.pos
	if l.text[l.pos] == '0' && strings.IndexByte("xXoObB", l.byteAt(l.pos+1)) >= 0 {
		l.pos += 2
		for c := l.classAt(l.pos); c == classAlpha || c == classDigit; c = l.classAt(l.pos) {
			l.pos++
		}
		v, err := strconv.ParseInt(l.text[start:l.pos], 0, 64)
		if err != nil {
			l.fail("invalid integer literal %s", l.text[start:l.pos])
		}
		tok.Value = v
		return tok, true
	}
	l.skipDigits()
	isReal := false
	if l.byteAt(l.pos) == '.' && l.classAt(l.pos+1) == classDigit {
		isReal = true
		l.pos++
		l.skipDigits()
	}
	if c := l.byteAt(l.pos); c == 'e' || c == 'E' {
		next := l.pos + 1
		if s := l.byteAt(next); s == '+' || s == '-' {
			next++
		}
		if l.classAt(next) == classDigit {
			isReal = true
			l.pos = next
			l.skipDigits()
		}
	}
	text := strings.ReplaceAll(l.text[start:l.pos], "_", "")
	if l.byteAt(l.pos) == 'i' && l.classAt(l.pos+1) != classAlpha && l.classAt(l.pos+1) != classDigit {
		l.pos++
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			l.fail("invalid complex literal %si", text)
		}
		tok.Value = complex(0, f)
		return tok, true
	}
	if isReal {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			l.fail("invalid real literal %s", text)
		}
		tok.Value = f
		return tok, true
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		l.fail("integer literal %s out of range", text)
	}
	tok.Value = v
	return tok, true
}

func (l *Lexer) skipDigits() {
	for c := l.byteAt(l.pos); (c >= '0' && c <= '9') || c == '_'; c = l.byteAt(l.pos) {
		l.pos++
	}
}

func (l *Lexer) lexOperator() (Token, bool) {
	start := l.pos
	for l.classAt(l.pos) == classOperator {
		l.pos++
	}
	tok := l.token(TokOperator)
	tok.Text = l.text[start:l.pos]
	return tok, true
}

func (l *Lexer) lexDelimiter() (Token, bool) {
	tok := l.token(delimiterTokens[l.text[l.pos]])
	l.pos++
	return tok, true
}

func (l *Lexer) lexColon() (Token, bool) {
	tok := l.token(TokColon)
	l.pos++
	var t TokenType
	switch l.byteAt(l.pos) {
	case '=':
		t = TokAssign
	case ':':
		t = TokScope
	case '(':
		t = TokInline
	case '$':
		t = TokUnquote
	case '{':
		t = TokQuote
	case '>':
		for l.pos < len(l.text) && l.text[l.pos] != '\n' {
			l.pos++
		}
		return Token{}, false
	case '<':
		l.pos++
		l.skipBlockComment(tok.Line)
		return Token{}, false
	default:
		return tok, true
	}
	l.pos++
	tok.Type = t
	return tok, true
}

// skipBlockComment skips a :< ... >: comment whose opener has been
// consumed. Comments nest.
func (l *Lexer) skipBlockComment(line int) {
	depth := 1
	for depth > 0 {
		if l.pos >= len(l.text) {
			panic(errorf(ErrLexical, l.source, line, "unterminated comment"))
		}
		switch c := l.text[l.pos]; {
		case c == '\n':
			l.line++
		case c == ':' && l.byteAt(l.pos+1) == '<':
			depth++
			l.pos++
		case c == '>' && l.byteAt(l.pos+1) == ':':
			depth--
			l.pos++
		}
		l.pos++
	}
}

func (l *Lexer) lexString() (Token, bool) {
	tok := l.token(TokValue)
	l.pos++
	var sb strings.Builder
	for {
		if l.pos >= len(l.text) {
			panic(errorf(ErrLexical, l.source, tok.Line, "unterminated string"))
		}
		c := l.text[l.pos]
		switch c {
		case '"':
			l.pos++
			tok.Value = sb.String()
			return tok, true
		case '\\':
			l.escape(&sb)
			continue
		case '\n':
			l.line++
		}
		sb.WriteByte(c)
		l.pos++
	}
}

// escape decodes the escape sequence at the current position.
func (l *Lexer) escape(sb *strings.Builder) {
	end := l.pos + 2
	switch l.byteAt(l.pos + 1) {
	case 'x':
		end = l.pos + 4
	case 'u':
		end = l.pos + 6
	}
	if end > len(l.text) {
		l.fail("unterminated escape sequence")
	}
	s, err := Unescape(l.text[l.pos:end])
	if err != nil {
		l.fail("%v", err)
	}
	sb.WriteString(s)
	l.pos = end
}

// lexInterpolated scans a single-quoted string. Each {expr} is parsed by
// the interpolate hook; the result is a StringExpr token, or a plain
// string value when there is no interpolation.
func (l *Lexer) lexInterpolated() (Token, bool) {
	tok := l.token(TokValue)
	l.pos++
	var (
		sb         strings.Builder
		head, tail Expr
	)
	add := func(e Expr) {
		if head == nil {
			head = e
		} else {
			tail.base().Next = e
		}
		tail = e
	}
	flush := func() {
		if sb.Len() > 0 {
			add(&ValueExpr{Base: Base{Source: l.source, StartLine: l.line, EndLine: l.line}, Value: sb.String()})
			sb.Reset()
		}
	}
	for {
		if l.pos >= len(l.text) {
			panic(errorf(ErrLexical, l.source, tok.Line, "unterminated string"))
		}
		c := l.text[l.pos]
		switch c {
		case '\'':
			l.pos++
			if head == nil {
				tok.Value = sb.String()
				return tok, true
			}
			flush()
			tok.Type = TokExpr
			tok.Expr = &StringExpr{Base: Base{Source: l.source, StartLine: tok.Line, EndLine: l.line}, Parts: head}
			return tok, true
		case '\\':
			l.escape(&sb)
			continue
		case '{':
			if l.interpolate == nil {
				l.fail("string interpolation needs a parser")
			}
			flush()
			l.pos++
			add(l.interpolate(l))
			continue
		case '\n':
			l.line++
		}
		sb.WriteByte(c)
		l.pos++
	}
}

// Tokenize returns all tokens of text up to and including end of input.
// Interpolated strings are returned as TokExpr tokens.
func Tokenize(source, text string, opts ...LexerOption) (toks []Token, err error) {
	l := NewLexer(source, text, opts...)
	l.interpolate = func(l *Lexer) Expr {
		p := &Parser{lexer: l, source: l.source}
		return p.parseInterpolation()
	}
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Type == TokEOI {
			return toks, nil
		}
	}
}
