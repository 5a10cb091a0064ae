// minic compiles, checks, formats and runs minilang sources.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/config"
	"github.com/wrapl/minilang-sub003/pkg/cache"
	"github.com/wrapl/minilang-sub003/vm"
)

var log = commonlog.GetLogger("minilang.minic")

type command struct {
	name    string
	summary string
	run     func(env *env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"compile", "compile sources and write .minc files", runCompile},
		{"check", "report compile errors without writing output", runCheck},
		{"dis", "print the bytecode listing of sources", runDis},
		{"run", "compile and run a source file", runRun},
		{"fmt", "print or rewrite sources in canonical form", runFmt},
		{"repl", "start an interactive session", runREPL},
		{"serve", "start the gRPC compile service", runServe},
		{"lsp", "start the language server on stdio", runLSP},
		{"cache", "inspect or clear the compile cache", runCache},
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: minic [options] <command> [arguments]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nWithout file arguments, compile, check and dis use the sources listed in %s.\n", config.FileName)
}

func main() {
	verbose := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	dir := flag.String("C", ".", "Directory to search for "+config.FileName)
	noCache := flag.Bool("no-cache", false, "Disable the compile cache")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	configureLogging(cfg, *verbose)
	if *noCache {
		cfg.Cache.Enabled = false
	}

	name, args := flag.Arg(0), flag.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		e, err := newEnv(ctx, cfg)
		if err == nil {
			err = c.run(e, args)
			e.Close()
		}
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "minic: unknown command %q\n", name)
	usage()
	os.Exit(2)
}

// loadConfig finds minilang.toml above dir, falling back to defaults.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(dir)
	}
	return cfg, nil
}

func configureLogging(cfg *config.Config, verbosity int) {
	if verbosity < 0 {
		verbosity = cfg.Log.Verbosity
	}
	var path *string
	if cfg.Log.File != "" {
		p := cfg.Log.File
		path = &p
	}
	commonlog.Configure(verbosity, path)
}

// env holds what the commands share: the configuration, a compiler set up
// from it and the compile cache when enabled.
type env struct {
	ctx      context.Context
	cfg      *config.Config
	compiler *compiler.Compiler
	cache    *cache.Cache
	salt     string
}

func newEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	opts, err := cfg.CompilerOptions()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.FileName, err)
	}
	opts = append(opts,
		compiler.WithGlobals(vm.Prelude()),
		compiler.WithEvaluator(vm.NewEvaluator()),
	)
	e := &env{
		ctx:      ctx,
		cfg:      cfg,
		compiler: compiler.New(opts...),
		salt:     cacheSalt(cfg),
	}
	if cfg.Cache.Enabled {
		e.cache, err = cache.Open(cfg.CachePath())
		if err != nil {
			log.Warningf("compile cache disabled: %s", err)
			e.cache = nil
		}
	}
	return e, nil
}

// cacheSalt describes the settings that change generated code for the
// same source text.
func cacheSalt(cfg *config.Config) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block-size=%d", cfg.Compiler.BlockSize)
	sections := []struct {
		name string
		m    map[string]string
	}{
		{"keywords", cfg.Compiler.Keywords},
		{"prefixes", cfg.Compiler.Prefixes},
	}
	for _, s := range sections {
		section, m := s.name, s.m
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, ";%s.%s=%s", section, k, m[k])
		}
	}
	return sb.String()
}

func (e *env) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}
