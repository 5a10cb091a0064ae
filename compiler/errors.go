package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies compile errors.
type Category int

const (
	ErrInternal Category = iota
	ErrLexical
	ErrSyntax
	ErrName
	ErrMacro
	ErrCompiler
)

var categoryNames = [...]string{
	ErrInternal: "internal",
	ErrLexical:  "lexical",
	ErrSyntax:   "syntax",
	ErrName:     "name",
	ErrMacro:    "macro",
	ErrCompiler: "compiler",
}

func (c Category) String() string {
	if c >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Position is a source location.
type Position struct {
	Source string
	Line   int
}

func (p Position) String() string { return fmt.Sprintf("%s:%d", p.Source, p.Line) }

// Error is a lexical, syntax or compile error. Trace lists the places the
// error unwound through, innermost first.
type Error struct {
	Category Category
	Message  string
	Source   string
	Line     int
	Trace    []Position
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d: %s error: %s", e.Source, e.Line, e.Category, e.Message)
}

// Unwrap returns the evaluator error that caused e, if any.
func (e *Error) Unwrap() error { return e.Err }

// AddTrace appends a location, skipping repeats of the last one.
func (e *Error) AddTrace(source string, line int) {
	p := Position{source, line}
	if n := len(e.Trace); n > 0 && e.Trace[n-1] == p {
		return
	}
	e.Trace = append(e.Trace, p)
}

// Detail renders the error followed by its trace, one location per line.
func (e *Error) Detail() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	for _, p := range e.Trace {
		sb.WriteString("\n\tat ")
		sb.WriteString(p.String())
	}
	return sb.String()
}

func errorf(cat Category, source string, line int, format string, args ...any) *Error {
	return &Error{Category: cat, Source: source, Line: line, Message: fmt.Sprintf(format, args...)}
}

func errorAt(cat Category, at Expr, format string, args ...any) *Error {
	b := at.base()
	return errorf(cat, b.Source, b.StartLine, format, args...)
}

// CategoryOf returns the category of err, or ErrInternal when err is not
// an *Error.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ErrInternal
}
