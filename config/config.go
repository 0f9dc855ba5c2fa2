// Package config handles sanskrit.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/sanskrit/codec"
	"github.com/chazu/sanskrit/compiler"
	"github.com/chazu/sanskrit/store"
	"github.com/chazu/sanskrit/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "sanskrit.toml"

// Config represents a sanskrit.toml file.
type Config struct {
	Limits    Limits    `toml:"limits"`
	Execution Execution `toml:"execution"`
	Store     Store     `toml:"store"`
	Log       Log       `toml:"log"`

	// Gas overrides entries of the default schedule by field name, for
	// example PackPerField = 2.
	Gas compiler.Schedule `toml:"gas"`

	// Path is the file the configuration was loaded from, if any.
	Path string `toml:"-"`
}

// Limits bounds parsing and execution.
type Limits struct {
	Depth      int `toml:"depth"`
	MaxStack   int `toml:"max_stack"`
	MaxFrames  int `toml:"max_frames"`
	HeapValues int `toml:"heap_values"`
	HeapBytes  int `toml:"heap_bytes"`
}

// Execution configures bundle execution.
type Execution struct {
	// SectionGas is the budget of bundle sections that declare none.
	SectionGas      uint64 `toml:"section_gas"`
	ParallelBundles int    `toml:"parallel_bundles"`
}

// Store selects the backend. An empty path keeps everything in memory.
type Store struct {
	Path         string `toml:"path"`
	BucketPrefix string `toml:"bucket_prefix"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Limits: Limits{
			Depth:      codec.DefaultDepth,
			MaxStack:   vm.DefaultLimits.Stack,
			MaxFrames:  vm.DefaultLimits.Frames,
			HeapValues: vm.DefaultLimits.Fields,
			HeapBytes:  vm.DefaultLimits.Bytes,
		},
		Execution: Execution{SectionGas: 1_000_000, ParallelBundles: 4},
		Store:     Store{BucketPrefix: "sanskrit."},
		Gas:       compiler.DefaultSchedule,
	}
}

// Load parses the file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if c.Store.Path != "" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(filepath.Dir(c.Path), c.Store.Path)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a sanskrit.toml file and
// loads it. Without one it returns the defaults.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate rejects limits that would make every input fail.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		v    int
	}{
		{"limits.depth", c.Limits.Depth},
		{"limits.max_stack", c.Limits.MaxStack},
		{"limits.max_frames", c.Limits.MaxFrames},
		{"limits.heap_values", c.Limits.HeapValues},
		{"limits.heap_bytes", c.Limits.HeapBytes},
	}
	for _, ch := range checks {
		if ch.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", ch.name, ch.v)
		}
	}
	if c.Execution.SectionGas == 0 {
		return fmt.Errorf("execution.section_gas must be positive")
	}
	if c.Execution.ParallelBundles < 0 {
		return fmt.Errorf("execution.parallel_bundles must not be negative, got %d", c.Execution.ParallelBundles)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity must not be negative, got %d", c.Log.Verbosity)
	}
	return nil
}

// VMLimits returns the interpreter limits.
func (c *Config) VMLimits() vm.Limits {
	return vm.Limits{
		Stack:  c.Limits.MaxStack,
		Frames: c.Limits.MaxFrames,
		Bytes:  c.Limits.HeapBytes,
		Fields: c.Limits.HeapValues,
	}
}

// Schedule returns the gas schedule.
func (c *Config) Schedule() *compiler.Schedule {
	s := c.Gas
	return &s
}

// OpenBackend opens the configured storage backend.
func (c *Config) OpenBackend() (store.Backend, error) {
	if c.Store.Path == "" {
		return store.NewMemory(), nil
	}
	b, err := store.OpenBolt(c.Store.Path, c.Store.BucketPrefix)
	if err != nil {
		return nil, err
	}
	return b, nil
}
