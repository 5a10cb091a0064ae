package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
	"github.com/wrapl/minilang-sub003/vm"
)

// session evaluates REPL input. The value of the last expression is
// bound to the global ans.
type session struct {
	env       *env
	globals   *runtime.Globals
	compiler  *compiler.Compiler
	evaluator *vm.Evaluator
	listing   bool
	out       io.Writer
}

func newSession(e *env, out io.Writer) (*session, error) {
	opts, err := e.cfg.CompilerOptions()
	if err != nil {
		return nil, err
	}
	s := &session{
		env:       e,
		globals:   runtime.NewGlobals(vm.Prelude()),
		evaluator: vm.NewEvaluator(),
		out:       out,
	}
	s.compiler = compiler.New(append(opts,
		compiler.WithGlobals(s.globals),
		compiler.WithEvaluator(s.evaluator),
	)...)
	return s, nil
}

// incomplete reports whether err says the input ended too early, so the
// REPL should keep reading.
func incomplete(err error) bool {
	var ce *compiler.Error
	if !errors.As(err, &ce) {
		return false
	}
	if ce.Category != compiler.ErrSyntax && ce.Category != compiler.ErrLexical {
		return false
	}
	return strings.Contains(ce.Message, "<end of input>") || strings.HasPrefix(ce.Message, "unterminated")
}

// eval compiles and runs input. It returns errIncomplete when more lines
// are needed.
func (s *session) eval(input string) error {
	tree, err := s.compiler.Parse("repl", input)
	if err != nil {
		if incomplete(err) {
			return errIncomplete
		}
		return err
	}
	fn, err := s.compiler.CompileSync(s.env.ctx, tree)
	if err != nil {
		return err
	}
	if s.listing {
		fmt.Fprintln(s.out, bytecode.Disassemble(fn))
	}
	v, err := s.evaluator.Run(s.env.ctx, fn, nil)
	if err != nil {
		return err
	}
	s.globals.Define("ans", v)
	fmt.Fprintln(s.out, runtime.Repr(v))
	return nil
}

var errIncomplete = errors.New("incomplete input")

// isCommand tells REPL commands from source lines starting with a quote
// or comment marker.
func isCommand(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != ':' {
		return false
	}
	c := line[1]
	return c == '?' || 'a' <= c && c <= 'z'
}

// command handles a :command line.
func (s *session) command(line string) (quit bool) {
	switch strings.TrimSpace(line) {
	case ":help", ":h", ":?":
		fmt.Fprintln(s.out, "REPL Commands:")
		fmt.Fprintln(s.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(s.out, "  :dis              Toggle bytecode listings")
		fmt.Fprintln(s.out, "  :globals          List names bound in this session")
		fmt.Fprintln(s.out, "  :quit, :q         Exit REPL")
		fmt.Fprintln(s.out, "The value of the last expression is available as ans.")
	case ":dis":
		s.listing = !s.listing
		fmt.Fprintf(s.out, "listings %s\n", map[bool]string{true: "on", false: "off"}[s.listing])
	case ":globals":
		fmt.Fprintln(s.out, strings.Join(s.globals.Names(), " "))
	case ":quit", ":q":
		return true
	default:
		fmt.Fprintf(s.out, "unknown command %s (try :help)\n", line)
	}
	return false
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".minilang_history")
}

func runREPL(e *env, args []string) error {
	s, err := newSession(e, os.Stdout)
	if err != nil {
		return err
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("minilang REPL (:help for commands, Ctrl-D to quit)")

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(">> ")
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if buf.Len() == 0 && isCommand(line) {
			if s.command(line) {
				return nil
			}
			continue
		}

		buf.WriteString(line)
		buf.WriteByte('\n')
		input := buf.String()
		if strings.TrimSpace(input) == "" {
			buf.Reset()
			continue
		}

		err = s.eval(input)
		if errors.Is(err, errIncomplete) {
			rl.SetPrompt(".. ")
			continue
		}
		buf.Reset()
		rl.SetPrompt(">> ")
		if err != nil {
			fmt.Fprintln(os.Stderr, detail(err))
		}
	}
}
