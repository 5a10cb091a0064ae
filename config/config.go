// Package config handles minilang.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file looked up by Load.
const FileName = "minilang.toml"

// Config represents a minilang.toml project configuration.
type Config struct {
	Project  Project  `toml:"project"`
	Source   Source   `toml:"source"`
	Compiler Compiler `toml:"compiler"`
	Cache    Cache    `toml:"cache"`
	Server   Server   `toml:"server"`
	Log      Log      `toml:"log"`

	// Dir is the directory containing the minilang.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs      []string `toml:"dirs"`
	Extension string   `toml:"extension"`
}

// Compiler configures the compiler and its lexer tables.
type Compiler struct {
	BlockSize int `toml:"block-size"`

	// Keywords adds alternative spellings: alias = "keyword".
	Keywords map[string]string `toml:"keywords"`

	// Prefixes adds string prefixes: name = "raw" | "bytes" | "string".
	Prefixes map[string]string `toml:"prefixes"`
}

// Cache configures the compile cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Server configures the gRPC compile service.
type Server struct {
	GRPCAddr string `toml:"grpc-addr"`
	Queue    int    `toml:"queue"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no minilang.toml exists.
func Default(dir string) *Config {
	c := &Config{Dir: dir}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if len(c.Source.Dirs) == 0 {
		c.Source.Dirs = []string{"."}
	}
	if c.Source.Extension == "" {
		c.Source.Extension = ".mini"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(".minilang", "cache.db")
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = "localhost:7433"
	}
	if c.Server.Queue <= 0 {
		c.Server.Queue = 64
	}
}

// Load parses a minilang.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes configuration text and applies defaults. Unknown keys are
// an error.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if c.Compiler.BlockSize < 0 {
		return nil, fmt.Errorf("compiler.block-size must be positive, got %d", c.Compiler.BlockSize)
	}
	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a minilang.toml file,
// then loads and returns the configuration. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (c *Config) SourceDirPaths() []string {
	var paths []string
	for _, d := range c.Source.Dirs {
		paths = append(paths, c.resolve(d))
	}
	return paths
}

// CachePath returns the path of the compile cache database.
func (c *Config) CachePath() string {
	return c.resolve(c.Cache.Path)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}
