package compiler

import (
	"reflect"
	"testing"
)

func tokenTypes(t *testing.T, src string) []TokenType {
	t.Helper()
	toks, err := Tokenize("test", src)
	if err != nil {
		t.Fatalf("Tokenize(%q) error = %v", src, err)
	}
	types := make([]TokenType, len(toks))
	for i, tok := range toks {
		types[i] = tok.Type
	}
	return types
}

func TestTokenizeTypes(t *testing.T) {
	tests := []struct {
		src  string
		want []TokenType
	}{
		{"let x := 1 + 2", []TokenType{TokLet, TokIdent, TokAssign, TokValue, TokOperator, TokValue, TokEOI}},
		{"a::b", []TokenType{TokIdent, TokScope, TokIdent, TokEOI}},
		{":(x)", []TokenType{TokInline, TokIdent, TokRParen, TokEOI}},
		{":{:$x}", []TokenType{TokQuote, TokUnquote, TokIdent, TokRBrace, TokEOI}},
		{"x:size", []TokenType{TokIdent, TokColon, TokIdent, TokEOI}},
		{"f(a, b); _", []TokenType{TokIdent, TokLParen, TokIdent, TokComma, TokIdent, TokRParen, TokSemicolon, TokBlank, TokEOI}},
		{"if\nend", []TokenType{TokIf, TokEOL, TokEnd, TokEOI}},
		{"x :> comment\ny", []TokenType{TokIdent, TokEOL, TokIdent, TokEOI}},
		{"x :< a :< nested >: b >: y", []TokenType{TokIdent, TokIdent, TokEOI}},
		{"[1, 2]", []TokenType{TokLBracket, TokValue, TokComma, TokValue, TokRBracket, TokEOI}},
		{"{a is 1}", []TokenType{TokLBrace, TokIdent, TokIs, TokValue, TokRBrace, TokEOI}},
		{"'a{x}b'", []TokenType{TokExpr, TokEOI}},
		{"'plain'", []TokenType{TokValue, TokEOI}},
		{"a...", []TokenType{TokIdent, TokOperator, TokEOI}},
	}
	for _, tt := range tests {
		if got := tokenTypes(t, tt.src); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestTokenizeValues(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"42", int64(42)},
		{"1_000", int64(1000)},
		{"0x1F", int64(31)},
		{"0b101", int64(5)},
		{"1.5", 1.5},
		{"2e3", 2000.0},
		{"3i", complex(0, 3)},
		{`"a\nb"`, "a\nb"},
		{`"\x41é"`, "Aé"},
		{`r"a\n"`, `a\n`},
		{`b"ab"`, []byte("ab")},
		{"'it\\'s'", "it's"},
	}
	for _, tt := range tests {
		toks, err := Tokenize("test", tt.src)
		if err != nil {
			t.Errorf("Tokenize(%q) error = %v", tt.src, err)
			continue
		}
		if toks[0].Type != TokValue {
			t.Errorf("Tokenize(%q) type = %v, want value", tt.src, toks[0].Type)
			continue
		}
		if !reflect.DeepEqual(toks[0].Value, tt.want) {
			t.Errorf("Tokenize(%q) value = %#v, want %#v", tt.src, toks[0].Value, tt.want)
		}
	}
}

func TestTokenizeText(t *testing.T) {
	toks, err := Tokenize("test", "foo <= bar")
	if err != nil {
		t.Fatal(err)
	}
	if toks[0].Text != "foo" || toks[1].Text != "<=" || toks[2].Text != "bar" {
		t.Errorf("texts = %q %q %q, want foo <= bar", toks[0].Text, toks[1].Text, toks[2].Text)
	}
}

func TestTokenizeLines(t *testing.T) {
	toks, err := Tokenize("test", "a\n\"x\ny\"\nb :< \n >: c")
	if err != nil {
		t.Fatal(err)
	}
	var lines []int
	for _, tok := range toks {
		if tok.Type == TokIdent || tok.Type == TokValue {
			lines = append(lines, tok.Line)
		}
	}
	want := []int{1, 2, 4, 5}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %v, want %v", lines, want)
	}
}

func TestTokenizeInterpolation(t *testing.T) {
	toks, err := Tokenize("test", "'x = {x + 1}!'")
	if err != nil {
		t.Fatal(err)
	}
	s, ok := toks[0].Expr.(*StringExpr)
	if !ok {
		t.Fatalf("token expr = %T, want *StringExpr", toks[0].Expr)
	}
	parts := Siblings(s.Parts)
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	if parts[1].Kind() != KindConstCall {
		t.Errorf("part 2 kind = %v, want const-call", parts[1].Kind())
	}
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated string", `"abc`},
		{"unterminated interpolated", "'abc"},
		{"unterminated comment", "x :< abc"},
		{"bad escape", `"\q"`},
		{"bad character", "\x01"},
		{"unknown prefix", `zz"abc"`},
		{"integer overflow", "99999999999999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize("test", tt.src)
			if err == nil {
				t.Fatalf("Tokenize(%q) succeeded", tt.src)
			}
			if CategoryOf(err) != ErrLexical {
				t.Errorf("category = %v, want lexical", CategoryOf(err))
			}
		})
	}
}

func TestCustomPrefix(t *testing.T) {
	pt := NewPrefixTable()
	pt.Register("up", func(raw string) (any, error) { return "UP:" + raw, nil })
	toks, err := Tokenize("test", `up"x"`, WithPrefixes(pt))
	if err != nil {
		t.Fatal(err)
	}
	if toks[0].Value != "UP:x" {
		t.Errorf("value = %v, want UP:x", toks[0].Value)
	}
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{`a\tb`, "a\tb", true},
		{`\{\}`, "{}", true},
		{`A`, "A", true},
		{`\x4`, "", false},
		{`\`, "", false},
		{`\z`, "", false},
	}
	for _, tt := range tests {
		got, err := Unescape(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("Unescape(%q) = %q, %v, want %q ok=%v", tt.in, got, err, tt.want, tt.ok)
		}
	}
}
