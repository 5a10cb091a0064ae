package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/wrapl/minilang-sub003/config"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/vm"
)

func newTestEnv(t *testing.T, dir string) *env {
	t.Helper()
	e, err := newEnv(context.Background(), config.Default(dir))
	if err != nil {
		t.Fatalf("newEnv failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func writeSource(t *testing.T, path, text string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, filepath.Join(dir, "lib", "b.mini"), "2")
	writeSource(t, filepath.Join(dir, "lib", "a.mini"), "1")
	writeSource(t, filepath.Join(dir, "lib", "readme.txt"), "")
	single := filepath.Join(dir, "main.mini")
	writeSource(t, single, "3")

	e := newTestEnv(t, dir)
	files, err := e.sourceFiles([]string{single, filepath.Join(dir, "lib")})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{single, filepath.Join(dir, "lib", "a.mini"), filepath.Join(dir, "lib", "b.mini")}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("sourceFiles = %v, want %v", files, want)
	}

	if _, err := e.sourceFiles([]string{filepath.Join(dir, "missing.mini")}); err == nil {
		t.Error("sourceFiles of a missing file succeeded")
	}
}

func TestCompileFilesCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.mini")
	bad1 := filepath.Join(dir, "bad1.mini")
	bad2 := filepath.Join(dir, "bad2.mini")
	writeSource(t, good, "1 + 2")
	writeSource(t, bad1, "exit 1")
	writeSource(t, bad2, "let x := \n")

	e := newTestEnv(t, dir)
	w := e.worker()
	defer w.Stop()

	var compiled []string
	err := e.compileFiles(w, []string{bad1, good, bad2}, func(path string, fn *bytecode.Func) error {
		compiled = append(compiled, path)
		return nil
	})
	if err == nil {
		t.Fatal("compileFiles succeeded")
	}
	if !reflect.DeepEqual(compiled, []string{good}) {
		t.Errorf("compiled = %v, want only %s", compiled, good)
	}
	msg := err.Error()
	if !strings.Contains(msg, bad1+":1: compiler error: exit not in loop") {
		t.Errorf("error does not report %s:\n%s", bad1, msg)
	}
	if !strings.Contains(msg, bad2) {
		t.Errorf("error does not report %s:\n%s", bad2, msg)
	}
	if n := strings.Count(msg, "\n") + 1; n < 2 {
		t.Errorf("expected one line per failure, got:\n%s", msg)
	}
}

func TestObjectPath(t *testing.T) {
	tests := []struct {
		path, outDir, want string
	}{
		{"src/a.mini", "", "src/a.minc"},
		{"src/a.mini", "out", "out/a.minc"},
		{"noext", "", "noext.minc"},
	}
	for _, tt := range tests {
		if got := objectPath(tt.path, tt.outDir); got != filepath.FromSlash(tt.want) {
			t.Errorf("objectPath(%q, %q) = %q, want %q", tt.path, tt.outDir, got, tt.want)
		}
	}
}

func TestCompileAndRunObject(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.mini")
	writeSource(t, src, "let x := 6\nx * 7")

	e := newTestEnv(t, dir)
	out := filepath.Join(dir, "out")
	if err := runCompile(e, []string{"-o", out, src}); err != nil {
		t.Fatalf("runCompile failed: %v", err)
	}

	fn, err := e.loadFunc(filepath.Join(out, "prog.minc"))
	if err != nil {
		t.Fatalf("loadFunc failed: %v", err)
	}
	v, err := vm.NewEvaluator().Run(context.Background(), fn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(42) {
		t.Errorf("result = %v, want 42", v)
	}
}

func TestCompileUnencodable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "host.mini")
	writeSource(t, src, "tuple(1, 2)")

	e := newTestEnv(t, dir)
	err := runCompile(e, []string{src})
	if err == nil || !strings.Contains(err.Error(), "no wire representation") {
		t.Errorf("runCompile error = %v, want unencodable constant", err)
	}
}

func TestFormatSource(t *testing.T) {
	e := newTestEnv(t, t.TempDir())
	out, err := e.formatSource("test", "if   x then 1 else 2 end")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "if x then") || !strings.HasSuffix(out, "end\n") {
		t.Errorf("formatSource = %q", out)
	}
	again, err := e.formatSource("test", out)
	if err != nil {
		t.Fatal(err)
	}
	if again != out {
		t.Errorf("formatting is not stable:\n%s\n---\n%s", out, again)
	}

	if _, err := e.formatSource("test", "if x then"); err == nil {
		t.Error("formatSource of broken input succeeded")
	}
}

func TestFmtKeepsCommentedFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "c.mini")
	original := "1   +   2 :> sum\n"
	writeSource(t, src, original)

	e := newTestEnv(t, dir)
	if err := runFmt(e, []string{"-w", src}); err == nil {
		t.Error("fmt -w of a commented file succeeded")
	}
	data, _ := os.ReadFile(src)
	if string(data) != original {
		t.Errorf("file rewritten to %q", data)
	}
}

func TestHasComments(t *testing.T) {
	for text, want := range map[string]bool{
		"1 + 2":               false,
		"x :> note":           true,
		":< block >: 1":       true,
		"f(x:method)":         false,
		"let s := \"a : > b\"": false,
	} {
		if got := hasComments(text); got != want {
			t.Errorf("hasComments(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestCacheSalt(t *testing.T) {
	a := config.Default(".")
	a.Compiler.Keywords = map[string]string{"si": "if", "fin": "end"}
	b := config.Default(".")
	b.Compiler.Keywords = map[string]string{"fin": "end", "si": "if"}
	if cacheSalt(a) != cacheSalt(b) {
		t.Errorf("salt depends on map order: %q vs %q", cacheSalt(a), cacheSalt(b))
	}
	b.Compiler.BlockSize = 8
	if cacheSalt(a) == cacheSalt(b) {
		t.Error("salt ignores block size")
	}
}

func TestCachedCompile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mini")
	writeSource(t, src, "2 * 21")

	cfg := config.Default(dir)
	cfg.Cache.Enabled = true
	e, err := newEnv(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.cache == nil {
		t.Fatal("cache not opened")
	}

	for i := 0; i < 2; i++ {
		if err := runCheck(e, []string{src}); err != nil {
			t.Fatal(err)
		}
	}
	if hits, misses := e.cache.Stats(); hits != 1 || misses != 1 {
		t.Errorf("cache stats = %d hits, %d misses, want 1, 1", hits, misses)
	}
	if _, err := os.Stat(cfg.CachePath()); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

func TestSession(t *testing.T) {
	var out bytes.Buffer
	s, err := newSession(newTestEnv(t, t.TempDir()), &out)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.eval("20 + 1\n"); err != nil {
		t.Fatal(err)
	}
	if err := s.eval("ans * 2\n"); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "21\n42\n" {
		t.Errorf("output = %q, want %q", got, "21\n42\n")
	}

	if err := s.eval("if ans then\n"); err != errIncomplete {
		t.Errorf("eval of open if = %v, want errIncomplete", err)
	}
	if err := s.eval("exit 1\n"); err == nil || err == errIncomplete {
		t.Errorf("eval of bad input = %v, want compile error", err)
	}
}

func TestSessionCommands(t *testing.T) {
	var out bytes.Buffer
	s, err := newSession(newTestEnv(t, t.TempDir()), &out)
	if err != nil {
		t.Fatal(err)
	}
	if s.command(":dis") || !s.listing {
		t.Error(":dis did not turn listings on")
	}
	if !s.command(":quit") {
		t.Error(":quit did not quit")
	}
	if s.command(":bogus") {
		t.Error("unknown command quit")
	}
	if !strings.Contains(out.String(), "unknown command") {
		t.Errorf("output = %q", out.String())
	}
}

func TestIsCommand(t *testing.T) {
	for line, want := range map[string]bool{
		":help":      true,
		"  :q":       true,
		":?":         true,
		":{ 1 + 2 }": false,
		":> comment": false,
		"x:meth":     false,
		":":          false,
	} {
		if got := isCommand(line); got != want {
			t.Errorf("isCommand(%q) = %v, want %v", line, got, want)
		}
	}
}
