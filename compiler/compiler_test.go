package compiler_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/compiler/hash"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
	"github.com/wrapl/minilang-sub003/vm"
)

func newCompiler(opts ...compiler.Option) *compiler.Compiler {
	base := []compiler.Option{
		compiler.WithGlobals(vm.Prelude()),
		compiler.WithEvaluator(vm.NewEvaluator()),
	}
	return compiler.New(append(base, opts...)...)
}

func compileErr(t *testing.T, c *compiler.Compiler, src string) *compiler.Error {
	t.Helper()
	fn, err := c.CompileSource(context.Background(), "test", src)
	if err == nil {
		t.Fatalf("compile %q succeeded:\n%s", src, bytecode.Disassemble(fn))
	}
	var e *compiler.Error
	if !errors.As(err, &e) {
		t.Fatalf("compile %q error = %T %v, want *compiler.Error", src, err, err)
	}
	return e
}

func mustCompile(t *testing.T, c *compiler.Compiler, src string) *bytecode.Func {
	t.Helper()
	fn, err := c.CompileSource(context.Background(), "test", src)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	if err := bytecode.Verify(fn); err != nil {
		t.Fatalf("verify %q: %v\n%s", src, err, bytecode.Disassemble(fn))
	}
	return fn
}

// ---------------------------------------------------------------------------
// Compile errors
// ---------------------------------------------------------------------------

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		cat  compiler.Category
		line int
		msg  string
	}{
		{"undeclared", "1 +\n  nope", compiler.ErrName, 2, "identifier nope not declared"},
		{"used before declaration", "x; let x := 1", compiler.ErrName, 1, "identifier x not declared"},
		{"exit outside loop", "exit 1", compiler.ErrCompiler, 1, "exit not in loop"},
		{"next outside loop", "next", compiler.ErrCompiler, 1, "next not in loop"},
		{"while outside loop", "while nil", compiler.ErrCompiler, 1, "while not in loop"},
		{"exit inside fun", "loop fun() exit end end", compiler.ErrCompiler, 1, "exit not in loop"},
		{"old outside assignment", "old", compiler.ErrCompiler, 1, "old used outside an assignment"},
		{"retry outside handler", "retry", compiler.ErrCompiler, 1, "retry not in handler"},
		{"redefined", "let x := 1\nvar x", compiler.ErrName, 2, "identifier x redefined (lines 1 and 2)"},
		{"duplicate param", "fun(a, b, a) end", compiler.ErrName, 1, "identifier a redefined"},
		{"assign def", "def x := 1; x := 2", compiler.ErrCompiler, 1, "cannot assign to def x"},
		{"def reads let", "let y := 1\ndef x := y", compiler.ErrName, 2, "identifier y is not a constant"},
		{"inline reads var", "var y := 1; :(y)", compiler.ErrName, 1, "identifier y is not a constant"},
		{"unpack scalar", "def (a, b) := 5", compiler.ErrCompiler, 1, "5"},
		{"syntax", "if", compiler.ErrSyntax, 1, "expected expression"},
	}
	c := newCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := compileErr(t, c, tt.src)
			if e.Category != tt.cat {
				t.Errorf("category = %v, want %v (%v)", e.Category, tt.cat, e)
			}
			if e.Line != tt.line {
				t.Errorf("line = %d, want %d (%v)", e.Line, tt.line, e)
			}
			if !strings.Contains(e.Message, tt.msg) {
				t.Errorf("message = %q, want it to contain %q", e.Message, tt.msg)
			}
		})
	}
}

func TestErrorTrace(t *testing.T) {
	e := compileErr(t, newCompiler(), "do\n  1 + nope\nend")
	if e.Line != 2 {
		t.Errorf("line = %d, want 2", e.Line)
	}
	if len(e.Trace) == 0 {
		t.Fatal("trace is empty")
	}
	if last := e.Trace[len(e.Trace)-1]; last != (compiler.Position{Source: "test", Line: 1}) {
		t.Errorf("outermost trace entry = %v, want test:1", last)
	}
	for i := 1; i < len(e.Trace); i++ {
		if e.Trace[i] == e.Trace[i-1] {
			t.Errorf("trace repeats %v", e.Trace[i])
		}
	}
	if !strings.Contains(e.Detail(), "\n\tat test:1") {
		t.Errorf("Detail() = %q", e.Detail())
	}
}

func TestNoEvaluator(t *testing.T) {
	c := compiler.New(compiler.WithGlobals(vm.Prelude()))
	for _, src := range []string{"def x := 1", ":(1 + 1)"} {
		e := compileErr(t, c, src)
		if e.Category != compiler.ErrCompiler {
			t.Errorf("compile %q category = %v, want compiler", src, e.Category)
		}
		if !strings.Contains(e.Message, "no evaluator") {
			t.Errorf("compile %q message = %q", src, e.Message)
		}
	}
	// Plain code needs no evaluator.
	if _, err := c.CompileSource(context.Background(), "test", "let f := fun(x) x + 1 end; f(2)"); err != nil {
		t.Errorf("compile without def: %v", err)
	}
}

func TestDefRaises(t *testing.T) {
	e := compileErr(t, newCompiler(), "\ndef x := raise('Boom', 'bad')")
	if e.Category != compiler.ErrCompiler || e.Line != 2 {
		t.Errorf("error = %v, want compiler error at line 2", e)
	}
	var ve *vm.Error
	if !errors.As(e, &ve) {
		t.Fatalf("error does not wrap *vm.Error: %v", e)
	}
	if ve.Type != "Boom" || ve.Message != "bad" {
		t.Errorf("wrapped error = %v, want Boom: bad", ve)
	}
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newCompiler().CompileSource(ctx, "test", "1 + 2")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if compiler.CategoryOf(err) != compiler.ErrCompiler {
		t.Errorf("category = %v, want compiler", compiler.CategoryOf(err))
	}
}

// ---------------------------------------------------------------------------
// Code shape
// ---------------------------------------------------------------------------

func TestClosureLayout(t *testing.T) {
	fn := mustCompile(t, newCompiler(), "let f := fun(x) fun() x end end")
	funcs := fn.Funcs()
	if len(funcs) != 3 {
		t.Fatalf("Funcs() = %d functions, want 3", len(funcs))
	}
	outer, inner := funcs[1], funcs[2]
	if outer.NumParams != 1 || len(outer.Params) != 1 || outer.Params[0] != "x" {
		t.Errorf("outer params = %v", outer.Params)
	}
	if len(outer.Upvalues) != 0 {
		t.Errorf("outer upvalues = %v, want none", outer.Upvalues)
	}
	if len(inner.Upvalues) != 1 || inner.Upvalues[0] != 0 {
		t.Errorf("inner upvalues = %v, want [0]", inner.Upvalues)
	}
	if !strings.Contains(bytecode.Disassemble(fn), "CLOSURE") {
		t.Error("disassembly has no CLOSURE instruction")
	}
}

func TestCaptureThroughUpvalue(t *testing.T) {
	fn := mustCompile(t, newCompiler(), "fun(a) fun() fun() a end end end")
	funcs := fn.Funcs()
	if len(funcs) != 4 {
		t.Fatalf("Funcs() = %d functions, want 4", len(funcs))
	}
	mid, inner := funcs[2], funcs[3]
	if len(mid.Upvalues) != 1 || mid.Upvalues[0] != 0 {
		t.Errorf("middle upvalues = %v, want [0]", mid.Upvalues)
	}
	if len(inner.Upvalues) != 1 {
		t.Fatalf("inner upvalues = %v, want one", inner.Upvalues)
	}
	if slot, local := bytecode.UpvalueSource(inner.Upvalues[0]); local || slot != 0 {
		t.Errorf("inner upvalue source = %d local=%v, want upvalue 0", slot, local)
	}
}

func countOps(fn *bytecode.Func, op bytecode.Opcode) int {
	n := 0
	fn.Code.Walk(func(_ int, in *bytecode.Inst) {
		if in.Op == op {
			n++
		}
	})
	return n
}

func TestBoxCapturedVariables(t *testing.T) {
	tests := []struct {
		src  string
		fn   int // index into Funcs()
		want int
	}{
		{"var x := 1; fun() x end", 0, 1},
		{"var x := 1; fun() x end; fun() x := 2 end", 0, 2},
		{"let x := 1; fun() x end", 0, 0},
		{"let x := 1; fun() x := 2 end", 0, 1},
		{"ref r := 1; fun() r end", 0, 0},
		{"fun(a) fun() a end end", 1, 1},
		{"var x := 1; fun() fun() x end end", 0, 1},
	}
	c := newCompiler()
	for _, tt := range tests {
		fn := mustCompile(t, c, tt.src).Funcs()[tt.fn]
		if got := countOps(fn, bytecode.OpBox); got != tt.want {
			t.Errorf("%s: %d BOX instructions, want %d\n%s", tt.src, got, tt.want, bytecode.Disassemble(fn))
		}
	}
}

func TestRefAssignsThrough(t *testing.T) {
	fn := mustCompile(t, newCompiler(), "ref r := 1; r := 2")
	if countOps(fn, bytecode.OpAssign) != 1 || countOps(fn, bytecode.OpAssignLocal) != 0 {
		t.Errorf("assignment to ref does not go through the reference:\n%s", bytecode.Disassemble(fn))
	}
	fn = mustCompile(t, newCompiler(), "var v := 1; v := 2")
	if countOps(fn, bytecode.OpAssignLocal) != 1 {
		t.Errorf("assignment to var is not a local store:\n%s", bytecode.Disassemble(fn))
	}
}

func TestFunctionFlags(t *testing.T) {
	fn := mustCompile(t, newCompiler(), "fun(a, rest...) end\nfun(a; opts) end")
	funcs := fn.Funcs()
	if funcs[1].Flags&bytecode.FuncExtraArgs == 0 {
		t.Error("rest... did not set FuncExtraArgs")
	}
	if funcs[2].Flags&bytecode.FuncNamedArgs == 0 {
		t.Error("; opts did not set FuncNamedArgs")
	}
}

func TestDeclSlots(t *testing.T) {
	fn := mustCompile(t, newCompiler(), "var a := 1\nlet b := 2\ndo let c := 3 end")
	slots := make(map[string]int)
	for _, d := range fn.Decls {
		slots[d.Name] = d.Slot
	}
	if slots["a"] != 0 || slots["b"] != 1 || slots["c"] != 2 {
		t.Errorf("slots = %v, want a:0 b:1 c:2", slots)
	}
	if fn.FrameSize < 3 {
		t.Errorf("FrameSize = %d, want at least 3", fn.FrameSize)
	}
}

func TestDefFolds(t *testing.T) {
	fn := mustCompile(t, newCompiler(), "def x := 6 * 7\nx")
	found := false
	fn.Code.Walk(func(_ int, in *bytecode.Inst) {
		if in.Op == bytecode.OpConst && in.Value == int64(42) {
			found = true
		}
	})
	if !found {
		t.Errorf("def value not embedded:\n%s", bytecode.Disassemble(fn))
	}
}

func TestBlockSize(t *testing.T) {
	src := "var s := 0\nfor x in [1, 2, 3, 4, 5, 6, 7, 8] do s := s + x end\ns"
	fn := mustCompile(t, newCompiler(compiler.WithBlockSize(4)), src)
	if fn.Code.BlockSize != 4 || len(fn.Code.Blocks) < 2 {
		t.Fatalf("blocks = %d of %d, want several of 4", len(fn.Code.Blocks), fn.Code.BlockSize)
	}
	got, err := vm.NewEvaluator().Run(context.Background(), fn, nil)
	if err != nil || got != int64(36) {
		t.Errorf("run = %v, %v, want 36", got, err)
	}
}

// ---------------------------------------------------------------------------
// Evaluators and macros
// ---------------------------------------------------------------------------

// asyncConst answers every call with v from another goroutine.
func asyncConst(v runtime.Value) runtime.Evaluator {
	return runtime.EvaluatorFunc(func(_ context.Context, _ runtime.Value, _ []runtime.Value, k func(runtime.Value, error)) {
		go k(v, nil)
	})
}

func TestAsyncStubEvaluator(t *testing.T) {
	c := compiler.New(compiler.WithEvaluator(asyncConst(int64(7))))
	fn := mustCompile(t, c, "def x := 1\nx + 1")
	got, err := vm.NewEvaluator().Run(context.Background(), fn, nil)
	if err != nil || got != int64(8) {
		t.Errorf("run = %v, %v, want 8", got, err)
	}
}

func TestCompileCallback(t *testing.T) {
	c := compiler.New(compiler.WithEvaluator(asyncConst(int64(7))))
	root, err := c.Parse("test", "def x := 1; def y := 2; x + y")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	var calls int
	var fn *bytecode.Func
	c.Compile(context.Background(), root, func(f *bytecode.Func, err error) {
		defer wg.Done()
		calls++
		fn = f
		if err != nil {
			t.Errorf("compile: %v", err)
		}
	})
	wg.Wait()
	if calls != 1 || fn == nil {
		t.Fatalf("done called %d times, fn = %v", calls, fn)
	}
	got, err := vm.NewEvaluator().Run(context.Background(), fn, nil)
	if err != nil || got != int64(14) {
		t.Errorf("run = %v, %v, want 14", got, err)
	}
}

func TestDoubleContinuationIgnored(t *testing.T) {
	ev := runtime.EvaluatorFunc(func(_ context.Context, _ runtime.Value, _ []runtime.Value, k func(runtime.Value, error)) {
		k(int64(1), nil)
		k(int64(2), nil)
	})
	fn := mustCompile(t, compiler.New(compiler.WithEvaluator(ev)), "def x := 0; x")
	got, err := vm.NewEvaluator().Run(context.Background(), fn, nil)
	if err != nil || got != int64(1) {
		t.Errorf("run = %v, %v, want 1", got, err)
	}
}

func TestEvaluatorError(t *testing.T) {
	boom := errors.New("boom")
	ev := runtime.EvaluatorFunc(func(_ context.Context, _ runtime.Value, _ []runtime.Value, k func(runtime.Value, error)) {
		k(nil, boom)
	})
	e := compileErr(t, compiler.New(compiler.WithEvaluator(ev)), "let a := 1\ndef x := 0")
	if !errors.Is(e, boom) || e.Line != 2 || e.Category != compiler.ErrCompiler {
		t.Errorf("error = %v, want compiler error at line 2 wrapping boom", e)
	}
}

// identity returns its first argument expression unchanged.
var identity = runtime.EvaluatorFunc(func(_ context.Context, _ runtime.Value, args []runtime.Value, k func(runtime.Value, error)) {
	if len(args) == 0 {
		k(int64(0), nil)
		return
	}
	k(args[0], nil)
})

func macroGlobals(m *runtime.Macro) runtime.GlobalResolver {
	g := runtime.NewGlobals(vm.Prelude())
	g.Define(m.Name, m)
	return g
}

func TestMacroExpansion(t *testing.T) {
	g := macroGlobals(&runtime.Macro{Name: "same", Fn: "same", Arity: 1})
	c := compiler.New(compiler.WithGlobals(g), compiler.WithEvaluator(identity))
	fn := mustCompile(t, c, "let a := 4\nsame(a * 2)")
	got, err := vm.NewEvaluator().Run(context.Background(), fn, nil)
	if err != nil || got != int64(8) {
		t.Errorf("run = %v, %v, want 8", got, err)
	}
}

func TestMacroErrors(t *testing.T) {
	tests := []struct {
		name  string
		arity int
		src   string
		msg   string
	}{
		{"arity", 1, "m(1, 2)", "macro m expects 1 arguments, got 2"},
		{"non-expression", 0, "m()", "macro returned non-expression 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := macroGlobals(&runtime.Macro{Name: "m", Fn: "m", Arity: tt.arity})
			c := compiler.New(compiler.WithGlobals(g), compiler.WithEvaluator(identity))
			e := compileErr(t, c, tt.src)
			if e.Category != compiler.ErrMacro || e.Message != tt.msg {
				t.Errorf("error = %v, want macro error %q", e, tt.msg)
			}
		})
	}
}

func TestConcurrentCompiles(t *testing.T) {
	c := newCompiler()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.CompileSource(context.Background(), "test", "def a := 1; def b := a + 1; let f := fun(x) x * b end; f(3)")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("compile %d: %v", i, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

var formatSources = []string{
	"1 + 2 * 3",
	"(1 + 2) * 3",
	"a - (b - c)",
	"-(-x)",
	"not a and b or c",
	"var x := 1; x := old + 1",
	"let (a, b) := t; def (c) in m",
	"if let y := f() then y elseif z then 2 else 3 end",
	"loop while x; until y, 1; exit 2 end",
	"for k, (a, b) in xs do next else 0 end",
	"do f() on e in A, B do retry on e do e end",
	"fun(a, b...) a end; fun(a; n) n end",
	"meth +(a: A, b) a end",
	"switch x case 1 case 2 else 3 end",
	"when x is 1, 2 do a in xs do b else c end",
	"with a := 1, b := 2 do a + b end",
	"[1, 2][1]; {a is 1, b}; (1,); ()",
	"x:size; x:at(1, 2); a::b",
	":(1 + 2); :{ :$a + :$(b * 2) }",
	"'a{x}b\\{'; \"s\\n\"; b\"by\"",
	"x for x in xs if x",
	"susp k, v; ret",
	"export let a := 1\nlet b := 2",
	"export let b := 0\nlet b := 0",
	"switch A end; when A end",
	"switch A else 1 end; when A else 2 end",
}

func TestFormatRoundTrip(t *testing.T) {
	for _, src := range formatSources {
		tree, err := compiler.Parse("test", src)
		if err != nil {
			t.Errorf("Parse(%q): %v", src, err)
			continue
		}
		out := compiler.Format(tree)
		again, err := compiler.Parse("test", out)
		if err != nil {
			t.Errorf("Parse(Format(%q)) = Parse(%q): %v", src, out, err)
			continue
		}
		if !hash.Equal(tree, again) {
			t.Errorf("Format(%q) = %q does not parse to the same tree", src, out)
		}
		if out2 := compiler.Format(again); out2 != out {
			t.Errorf("Format is not stable for %q: %q then %q", src, out, out2)
		}
	}
}

// ---------------------------------------------------------------------------
// Fuzzing
// ---------------------------------------------------------------------------

func FuzzParse(f *testing.F) {
	for _, src := range formatSources {
		f.Add(src)
	}
	f.Fuzz(func(t *testing.T, src string) {
		tree, err := compiler.Parse("fuzz", src)
		if err != nil {
			if compiler.CategoryOf(err) == compiler.ErrInternal {
				t.Fatalf("Parse(%q) internal error: %v", src, err)
			}
			return
		}
		out := compiler.Format(tree)
		again, err := compiler.Parse("fuzz", out)
		if err != nil {
			t.Fatalf("Parse(Format(%q)) = Parse(%q): %v", src, out, err)
		}
		if !hash.Equal(tree, again) {
			t.Fatalf("Format(%q) = %q changes the tree", src, out)
		}
	})
}

func FuzzCompile(f *testing.F) {
	for _, src := range formatSources {
		f.Add(src)
	}
	c := newCompiler()
	f.Fuzz(func(t *testing.T, src string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fn, err := c.CompileSource(ctx, "fuzz", src)
		if err != nil {
			if compiler.CategoryOf(err) == compiler.ErrInternal {
				t.Fatalf("compile %q internal error: %v", src, err)
			}
			return
		}
		if err := bytecode.Verify(fn); err != nil {
			t.Fatalf("compile %q: %v\n%s", src, err, bytecode.Disassemble(fn))
		}
	})
}
