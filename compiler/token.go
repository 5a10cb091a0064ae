package compiler

import (
	"fmt"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType is the discriminant of a Token.
type TokenType int

const (
	TokEOI TokenType = iota
	TokEOL

	// Literals and names
	TokIdent    // foo
	TokBlank    // _
	TokValue    // 42, 1.5, 2i, "text", r"raw"
	TokExpr     // 'interpolated {x}'
	TokOperator // +, <=, ..

	// Delimiters
	TokLParen    // (
	TokRParen    // )
	TokLBracket  // [
	TokRBracket  // ]
	TokLBrace    // {
	TokRBrace    // }
	TokComma     // ,
	TokSemicolon // ;
	TokColon     // :
	TokAssign    // :=
	TokScope     // ::
	TokInline    // :(
	TokUnquote   // :$
	TokQuote     // :{

	// Keywords
	TokAnd
	TokOr
	TokNot
	TokIf
	TokThen
	TokElseif
	TokElse
	TokEnd
	TokLoop
	TokWhile
	TokUntil
	TokExit
	TokNext
	TokFor
	TokEach
	TokIn
	TokIs
	TokDo
	TokOn
	TokFun
	TokMeth
	TokRet
	TokSusp
	TokVar
	TokLet
	TokDef
	TokRef
	TokWith
	TokSwitch
	TokCase
	TokWhen
	TokRetry
	TokNil
	TokOld
	TokExport

	numTokenTypes
)

var tokenNames = [numTokenTypes]string{
	TokEOI:       "<end of input>",
	TokEOL:       "<end of line>",
	TokIdent:     "<identifier>",
	TokBlank:     "_",
	TokValue:     "<value>",
	TokExpr:      "<string>",
	TokOperator:  "<operator>",
	TokLParen:    "(",
	TokRParen:    ")",
	TokLBracket:  "[",
	TokRBracket:  "]",
	TokLBrace:    "{",
	TokRBrace:    "}",
	TokComma:     ",",
	TokSemicolon: ";",
	TokColon:     ":",
	TokAssign:    ":=",
	TokScope:     "::",
	TokInline:    ":(",
	TokUnquote:   ":$",
	TokQuote:     ":{",
	TokAnd:       "and",
	TokOr:        "or",
	TokNot:       "not",
	TokIf:        "if",
	TokThen:      "then",
	TokElseif:    "elseif",
	TokElse:      "else",
	TokEnd:       "end",
	TokLoop:      "loop",
	TokWhile:     "while",
	TokUntil:     "until",
	TokExit:      "exit",
	TokNext:      "next",
	TokFor:       "for",
	TokEach:      "each",
	TokIn:        "in",
	TokIs:        "is",
	TokDo:        "do",
	TokOn:        "on",
	TokFun:       "fun",
	TokMeth:      "meth",
	TokRet:       "ret",
	TokSusp:      "susp",
	TokVar:       "var",
	TokLet:       "let",
	TokDef:       "def",
	TokRef:       "ref",
	TokWith:      "with",
	TokSwitch:    "switch",
	TokCase:      "case",
	TokWhen:      "when",
	TokRetry:     "retry",
	TokNil:       "nil",
	TokOld:       "old",
	TokExport:    "export",
}

func (t TokenType) String() string {
	if t >= 0 && t < numTokenTypes {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokAnd && t < numTokenTypes
}

// Token is a lexical token.
type Token struct {
	Type   TokenType
	Text   string        // identifier or operator text
	Value  runtime.Value // TokValue payload
	Expr   Expr          // TokExpr payload
	Source string
	Line   int
}

func (t Token) String() string {
	switch t.Type {
	case TokIdent, TokOperator:
		return fmt.Sprintf("%s %q", t.Type, t.Text)
	case TokValue:
		return runtime.Repr(t.Value)
	}
	return t.Type.String()
}
