package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/wrapl/minilang-sub003/compiler"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
[project]
name = "calc"
version = "0.1.0"

[source]
dirs = ["src", "lib"]
extension = ".ml"

[compiler]
block-size = 32

[compiler.keywords]
si = "if"

[compiler.prefixes]
x = "raw"

[cache]
enabled = true
path = "/tmp/calc.db"

[server]
grpc-addr = ":9000"

[log]
verbosity = 2
file = "minic.log"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Project.Name != "calc" || c.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", c.Project)
	}
	if !reflect.DeepEqual(c.Source.Dirs, []string{"src", "lib"}) {
		t.Errorf("source dirs = %v", c.Source.Dirs)
	}
	if c.Source.Extension != ".ml" {
		t.Errorf("extension = %q, want .ml", c.Source.Extension)
	}
	if c.Compiler.BlockSize != 32 {
		t.Errorf("block-size = %d, want 32", c.Compiler.BlockSize)
	}
	if c.Compiler.Keywords["si"] != "if" || c.Compiler.Prefixes["x"] != "raw" {
		t.Errorf("compiler = %+v", c.Compiler)
	}
	if !c.Cache.Enabled || c.CachePath() != "/tmp/calc.db" {
		t.Errorf("cache = %+v, path %s", c.Cache, c.CachePath())
	}
	if c.Server.GRPCAddr != ":9000" {
		t.Errorf("grpc-addr = %q, want :9000", c.Server.GRPCAddr)
	}
	if c.Log.Verbosity != 2 || c.Log.File != "minic.log" {
		t.Errorf("log = %+v", c.Log)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "[project]\nname = \"minimal\"\n")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(c.Source.Dirs, []string{"."}) {
		t.Errorf("source dirs = %v, want [.]", c.Source.Dirs)
	}
	if c.Source.Extension != ".mini" {
		t.Errorf("extension = %q, want .mini", c.Source.Extension)
	}
	if c.Cache.Enabled {
		t.Error("cache enabled by default")
	}
	if want := filepath.Join(c.Dir, ".minilang", "cache.db"); c.CachePath() != want {
		t.Errorf("cache path = %s, want %s", c.CachePath(), want)
	}
	if c.Server.GRPCAddr == "" || c.Server.Queue != 64 {
		t.Errorf("server = %+v", c.Server)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name, text, want string
	}{
		{"unknown key", "[compiler]\nblocksize = 3\n", "unknown key compiler.blocksize"},
		{"negative block size", "[compiler]\nblock-size = -1\n", "must be positive"},
		{"bad toml", "[compiler\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.text))
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of an empty directory succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "[project]\nname = \"outer\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil || c.Project.Name != "outer" {
		t.Fatalf("FindAndLoad = %+v, want project outer", c)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("Dir = %s, want %s", c.Dir, abs)
	}
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "b.mini"), "2")
	writeFile(t, filepath.Join(dir, "src", "a.mini"), "1")
	writeFile(t, filepath.Join(dir, "src", "notes.txt"), "")
	writeFile(t, filepath.Join(dir, "src", ".hidden", "c.mini"), "3")
	writeFile(t, filepath.Join(dir, "lib", "sub", "d.mini"), "4")

	c := Default(dir)
	c.Source.Dirs = []string{"src", "lib"}
	files, err := c.SourceFiles()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "lib", "sub", "d.mini"),
		filepath.Join(dir, "src", "a.mini"),
		filepath.Join(dir, "src", "b.mini"),
	}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("SourceFiles() = %v, want %v", files, want)
	}
}

func TestCompilerOptions(t *testing.T) {
	c, err := Parse([]byte(`
[compiler]
block-size = 8
[compiler.keywords]
si = "if"
alors = "then"
fin = "end"
[compiler.prefixes]
s = "string"
`))
	if err != nil {
		t.Fatal(err)
	}
	opts, err := c.CompilerOptions()
	if err != nil {
		t.Fatal(err)
	}
	comp := compiler.New(opts...)
	tree, err := comp.Parse("test", `si nil alors s"a\tb" fin`)
	if err != nil {
		t.Fatalf("Parse with aliases: %v", err)
	}
	got := compiler.Format(tree)
	if !strings.HasPrefix(got, "if nil then") || !strings.Contains(got, `"a\tb"`) {
		t.Errorf("Format = %q", got)
	}
	fn, err := comp.CompileSync(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if fn.Code.BlockSize != 8 {
		t.Errorf("block size = %d, want 8", fn.Code.BlockSize)
	}
}

func TestCompilerOptionsErrors(t *testing.T) {
	for _, text := range []string{
		"[compiler.keywords]\nsi = \"nope\"\n",
		"[compiler.prefixes]\nq = \"weird\"\n",
	} {
		c, err := Parse([]byte(text))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.CompilerOptions(); err == nil {
			t.Errorf("CompilerOptions(%q) succeeded", text)
		}
	}
}
