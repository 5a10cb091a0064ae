package compiler

import (
	"context"

	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// Compiler turns expression trees into bytecode functions. A Compiler is
// immutable after New and may run any number of compilations at once.
type Compiler struct {
	evaluator runtime.Evaluator
	globals   runtime.GlobalResolver
	blockSize int
	keywords  *KeywordTable
	prefixes  *PrefixTable
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithEvaluator sets the evaluator used for macros, def initializers and
// inline expressions. Without one those fail with a compiler error.
func WithEvaluator(ev runtime.Evaluator) Option {
	return func(c *Compiler) { c.evaluator = ev }
}

// WithGlobals sets the resolver for names not declared in any scope.
func WithGlobals(g runtime.GlobalResolver) Option {
	return func(c *Compiler) { c.globals = g }
}

// WithBlockSize sets the instruction block size of generated code.
func WithBlockSize(n int) Option {
	return func(c *Compiler) { c.blockSize = n }
}

// WithKeywordTable sets the keywords used by CompileSource and Parse.
func WithKeywordTable(kt *KeywordTable) Option {
	return func(c *Compiler) { c.keywords = kt }
}

// WithPrefixTable sets the literal prefixes used by CompileSource and Parse.
func WithPrefixTable(pt *PrefixTable) Option {
	return func(c *Compiler) { c.prefixes = pt }
}

// New creates a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		evaluator: runtime.NoEvaluator,
		globals:   runtime.NewGlobals(nil),
		blockSize: bytecode.DefaultBlockSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Globals returns the resolver for undeclared names.
func (c *Compiler) Globals() runtime.GlobalResolver { return c.globals }

// Evaluator returns the evaluator for compile-time calls.
func (c *Compiler) Evaluator() runtime.Evaluator { return c.evaluator }

// Keywords returns the keyword table used by Parse.
func (c *Compiler) Keywords() *KeywordTable {
	if c.keywords == nil {
		return DefaultKeywords()
	}
	return c.keywords
}

func (c *Compiler) lexerOptions() []LexerOption {
	var opts []LexerOption
	if c.keywords != nil {
		opts = append(opts, WithKeywords(c.keywords))
	}
	if c.prefixes != nil {
		opts = append(opts, WithPrefixes(c.prefixes))
	}
	return opts
}

// Parse parses source text with the compiler's lexer tables.
func (c *Compiler) Parse(source, text string) (Expr, error) {
	return Parse(source, text, c.lexerOptions()...)
}

// Compile compiles root as a function of no parameters. done is called
// exactly once, possibly from the goroutine that completes an evaluator
// call after Compile has returned.
func (c *Compiler) Compile(ctx context.Context, root Expr, done func(*bytecode.Func, error)) {
	if root == nil {
		root = &NilExpr{}
	}
	t := &task{c: c, ctx: ctx, done: done}
	t.start(root)
}

// CompileSync compiles root and waits for the result or for ctx.
func (c *Compiler) CompileSync(ctx context.Context, root Expr) (*bytecode.Func, error) {
	type result struct {
		fn  *bytecode.Func
		err error
	}
	if root == nil {
		root = &NilExpr{}
	}
	ch := make(chan result, 1)
	c.Compile(ctx, root, func(fn *bytecode.Func, err error) {
		ch <- result{fn, err}
	})
	select {
	case r := <-ch:
		return r.fn, r.err
	case <-ctx.Done():
		e := errorAt(ErrCompiler, root, "compilation cancelled: %v", ctx.Err())
		e.Err = ctx.Err()
		return nil, e
	}
}

// CompileSource parses and compiles text.
func (c *Compiler) CompileSource(ctx context.Context, source, text string) (*bytecode.Func, error) {
	root, err := c.Parse(source, text)
	if err != nil {
		return nil, err
	}
	return c.CompileSync(ctx, root)
}
