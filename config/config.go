// Package config handles tracefilter.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/chazu/tracefilter/compiler"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "tracefilter.toml"

// Config represents a tracefilter.toml configuration.
type Config struct {
	Limits   Limits   `toml:"limits"`
	Registry Registry `toml:"registry"`
	Log      Log      `toml:"log"`
	Fields   Fields   `toml:"fields"`

	// Dir is the directory containing the tracefilter.toml file (set at load time).
	Dir string `toml:"-"`
}

// Limits bounds compilation.
type Limits struct {
	MaxDepth        int `toml:"max-depth"`
	MaxLiterals     int `toml:"max-literals"`
	MaxFields       int `toml:"max-fields"`
	MaxInstructions int `toml:"max-instructions"`
}

// Registry configures the persistent filter registry.
type Registry struct {
	Database  string `toml:"database"`
	CacheSize int    `toml:"cache-size"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Fields lists the names editors offer for completion.
type Fields struct {
	Event   []string `toml:"event"`
	Context []string `toml:"context"`
}

// DefaultContexts are the per-event context names available under $ctx.
var DefaultContexts = []string{
	"cpu_id", "hostname", "nice", "pid", "ppid", "prio", "procname",
	"tid", "vpid", "vppid", "vtid",
}

// Default returns the configuration used when no tracefilter.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Limits.MaxDepth == 0 {
		c.Limits.MaxDepth = compiler.DefaultLimits.MaxDepth
	}
	if c.Limits.MaxLiterals == 0 {
		c.Limits.MaxLiterals = compiler.DefaultLimits.MaxLiterals
	}
	if c.Limits.MaxFields == 0 {
		c.Limits.MaxFields = compiler.DefaultLimits.MaxFields
	}
	if c.Limits.MaxInstructions == 0 {
		c.Limits.MaxInstructions = compiler.DefaultLimits.MaxInstructions
	}
	if c.Registry.Database == "" {
		c.Registry.Database = "filters.db"
	}
	if c.Registry.CacheSize == 0 {
		c.Registry.CacheSize = 256
	}
	if len(c.Fields.Context) == 0 {
		c.Fields.Context = append([]string(nil), DefaultContexts...)
	}
}

// Load parses a tracefilter.toml file from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a tracefilter.toml file,
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

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	limits := []struct {
		name  string
		value int
		max   int
	}{
		{"limits.max-depth", c.Limits.MaxDepth, 4096},
		{"limits.max-literals", c.Limits.MaxLiterals, compiler.DefaultLimits.MaxLiterals},
		{"limits.max-fields", c.Limits.MaxFields, compiler.DefaultLimits.MaxFields},
		{"limits.max-instructions", c.Limits.MaxInstructions, compiler.DefaultLimits.MaxInstructions},
	}
	for _, l := range limits {
		if l.value < 0 || l.value > l.max {
			errs = multierror.Append(errs, fmt.Errorf("%s = %d is outside 0..%d", l.name, l.value, l.max))
		}
	}
	if c.Registry.CacheSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("registry.cache-size = %d is negative", c.Registry.CacheSize))
	}
	for _, name := range c.Fields.Event {
		if !fieldName.MatchString(name) {
			errs = multierror.Append(errs, fmt.Errorf("fields.event: %q is not a valid field name", name))
		}
	}
	for _, name := range c.Fields.Context {
		if !fieldName.MatchString(name) {
			errs = multierror.Append(errs, fmt.Errorf("fields.context: %q is not a valid context name", name))
		}
	}
	return errs.ErrorOrNil()
}

// CompilerLimits converts the [limits] section for the compiler.
func (c *Config) CompilerLimits() compiler.Limits {
	return compiler.Limits{
		MaxDepth:        c.Limits.MaxDepth,
		MaxLiterals:     c.Limits.MaxLiterals,
		MaxFields:       c.Limits.MaxFields,
		MaxInstructions: c.Limits.MaxInstructions,
	}
}

// DatabasePath returns the registry database path, resolved against Dir
// when relative.
func (c *Config) DatabasePath() string {
	return c.resolve(c.Registry.Database)
}

// LogFile returns the log file path, or nil for stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	p := c.resolve(c.Log.File)
	return &p
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
