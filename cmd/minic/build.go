package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
	"github.com/wrapl/minilang-sub003/server"
	"github.com/wrapl/minilang-sub003/vm"
)

// ObjectExt is the extension of files written by minic compile.
const ObjectExt = ".minc"

// sourceFiles expands the command arguments: directories are walked for
// files with the configured extension. Without arguments the configured
// source directories are used.
func (e *env) sourceFiles(args []string) ([]string, error) {
	if len(args) == 0 {
		return e.cfg.SourceFiles()
	}
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(path) == e.cfg.Source.Extension {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// worker returns a compile worker sharing the environment's cache.
func (e *env) worker() *server.Worker {
	return server.NewWorker(e.compiler, e.cache, e.salt, e.cfg.Server.Queue)
}

// detail renders err with its trace when it is a compile error.
func detail(err error) string {
	var ce *compiler.Error
	if errors.As(err, &ce) {
		return ce.Detail()
	}
	return err.Error()
}

// errorList collects per-file errors.
func errorList(result *multierror.Error) error {
	if result == nil {
		return nil
	}
	result.ErrorFormat = func(es []error) string {
		lines := make([]string, len(es))
		for i, err := range es {
			lines[i] = detail(err)
		}
		return strings.Join(lines, "\n")
	}
	return result.ErrorOrNil()
}

// compileFiles compiles each file through w, calling emit for the ones
// that succeed. Failures are collected rather than stopping the run.
func (e *env) compileFiles(w *server.Worker, files []string, emit func(path string, fn *bytecode.Func) error) error {
	var result *multierror.Error
	for _, path := range files {
		if err := e.ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		text, err := os.ReadFile(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		fn, cached, err := w.Compile(e.ctx, path, string(text))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		log.Debugf("compiled %s (cached %t)", path, cached)
		if emit != nil {
			if err := emit(path, fn); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", path, err))
			}
		}
	}
	return errorList(result)
}

// objectPath returns where the compiled form of path is written.
func objectPath(path, outDir string) string {
	obj := strings.TrimSuffix(path, filepath.Ext(path)) + ObjectExt
	if outDir != "" {
		obj = filepath.Join(outDir, filepath.Base(obj))
	}
	return obj
}

func runCompile(e *env, args []string) error {
	flags := flag.NewFlagSet("compile", flag.ContinueOnError)
	outDir := flags.String("o", "", "Directory for .minc files (default: next to each source)")
	listing := flags.Bool("S", false, "Print the bytecode listing of each file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	files, err := e.sourceFiles(flags.Args())
	if err != nil {
		return err
	}
	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0755); err != nil {
			return err
		}
	}

	w := e.worker()
	defer w.Stop()
	return e.compileFiles(w, files, func(path string, fn *bytecode.Func) error {
		if *listing {
			fmt.Printf("; %s\n%s\n", path, bytecode.Disassemble(fn))
		}
		data, err := bytecode.Marshal(fn)
		if err != nil {
			return err
		}
		return os.WriteFile(objectPath(path, *outDir), data, 0644)
	})
}

func runCheck(e *env, args []string) error {
	files, err := e.sourceFiles(args)
	if err != nil {
		return err
	}
	w := e.worker()
	defer w.Stop()
	if err := e.compileFiles(w, files, nil); err != nil {
		return err
	}
	fmt.Printf("%d files ok\n", len(files))
	return nil
}

func runDis(e *env, args []string) error {
	files, err := e.sourceFiles(args)
	if err != nil {
		return err
	}
	w := e.worker()
	defer w.Stop()
	return e.compileFiles(w, files, func(path string, fn *bytecode.Func) error {
		fmt.Printf("; %s\n%s\n", path, bytecode.Disassemble(fn))
		return nil
	})
}

// loadFunc reads a source file, or a .minc file written by compile.
func (e *env) loadFunc(path string) (*bytecode.Func, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == ObjectExt {
		fn, err := bytecode.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		return fn, bytecode.Verify(fn)
	}
	return e.compiler.CompileSource(e.ctx, path, string(data))
}

func runRun(e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: minic run <file>")
	}
	fn, err := e.loadFunc(args[0])
	if err != nil {
		return errors.New(detail(err))
	}
	v, err := vm.NewEvaluator().Run(e.ctx, fn, nil)
	if err != nil {
		return err
	}
	if v != nil {
		fmt.Println(runtime.Repr(v))
	}
	return nil
}

func runCache(e *env, args []string) error {
	if e.cache == nil {
		return errors.New("compile cache is disabled (set [cache] enabled = true)")
	}
	sub := "stats"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "stats":
		n, err := e.cache.Len()
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d entries\n", e.cache.Path(), n)
		return nil
	case "clear":
		return e.cache.Clear()
	}
	return fmt.Errorf("unknown cache command %q (want stats or clear)", sub)
}
