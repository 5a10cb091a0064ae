package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/wrapl/minilang-sub003/compiler"
)

// formatSource parses text and returns it in canonical form, ending in a
// single newline.
func (e *env) formatSource(source, text string) (string, error) {
	tree, err := e.compiler.Parse(source, text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(compiler.Format(tree), "\n") + "\n", nil
}

func runFmt(e *env, args []string) error {
	flags := flag.NewFlagSet("fmt", flag.ContinueOnError)
	write := flags.Bool("w", false, "Rewrite files in place instead of printing them")
	list := flags.Bool("l", false, "List files whose formatting differs")
	if err := flags.Parse(args); err != nil {
		return err
	}
	files, err := e.sourceFiles(flags.Args())
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, path := range files {
		text, err := os.ReadFile(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		out, err := e.formatSource(path, string(text))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		changed := !bytes.Equal(text, []byte(out))
		switch {
		case *list:
			if changed {
				fmt.Println(path)
			}
		case *write:
			if changed && hasComments(string(text)) {
				result = multierror.Append(result, fmt.Errorf("%s: not rewritten, comments would be lost", path))
			} else if changed {
				if err := os.WriteFile(path, []byte(out), 0644); err != nil {
					result = multierror.Append(result, err)
				}
			}
		default:
			fmt.Print(out)
		}
	}
	return errorList(result)
}

// hasComments reports whether text may contain :> or :< comments, which
// the formatter drops.
func hasComments(text string) bool {
	return strings.Contains(text, ":>") || strings.Contains(text, ":<")
}
