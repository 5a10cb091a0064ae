package config

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// KeywordTable returns the default keywords extended with the configured
// aliases, or nil when there are none.
func (c *Config) KeywordTable() (*compiler.KeywordTable, error) {
	if len(c.Compiler.Keywords) == 0 {
		return nil, nil
	}
	defaults := compiler.DefaultKeywords()
	words := make(map[string]compiler.TokenType)
	for _, w := range defaults.Words() {
		tok, _ := defaults.Lookup(w)
		words[w] = tok
	}
	for alias, keyword := range c.Compiler.Keywords {
		tok, ok := defaults.Lookup(keyword)
		if !ok {
			return nil, fmt.Errorf("keyword alias %s: %q is not a keyword", alias, keyword)
		}
		words[alias] = tok
	}
	return compiler.NewKeywordTable(words)
}

// PrefixTable returns the built-in prefixes extended with the configured
// ones, or nil when there are none.
func (c *Config) PrefixTable() (*compiler.PrefixTable, error) {
	if len(c.Compiler.Prefixes) == 0 {
		return nil, nil
	}
	pt := compiler.NewPrefixTable()
	for name, kind := range c.Compiler.Prefixes {
		var fn compiler.PrefixFunc
		switch kind {
		case "raw":
			fn = func(raw string) (runtime.Value, error) { return raw, nil }
		case "bytes":
			fn = func(raw string) (runtime.Value, error) {
				s, err := compiler.Unescape(raw)
				if err != nil {
					return nil, err
				}
				return []byte(s), nil
			}
		case "string":
			fn = func(raw string) (runtime.Value, error) { return compiler.Unescape(raw) }
		default:
			return nil, fmt.Errorf("prefix %s: unknown kind %q", name, kind)
		}
		pt.Register(name, fn)
	}
	return pt, nil
}

// CompilerOptions translates the [compiler] section into compiler options.
func (c *Config) CompilerOptions() ([]compiler.Option, error) {
	var opts []compiler.Option
	if c.Compiler.BlockSize > 0 {
		opts = append(opts, compiler.WithBlockSize(c.Compiler.BlockSize))
	}
	kt, err := c.KeywordTable()
	if err != nil {
		return nil, err
	}
	if kt != nil {
		opts = append(opts, compiler.WithKeywordTable(kt))
	}
	pt, err := c.PrefixTable()
	if err != nil {
		return nil, err
	}
	if pt != nil {
		opts = append(opts, compiler.WithPrefixTable(pt))
	}
	return opts, nil
}

// SourceFiles lists the source files under the configured directories,
// sorted. Hidden directories are skipped.
func (c *Config) SourceFiles() ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, dir := range c.SourceDirPaths() {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == c.Source.Extension && !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}
