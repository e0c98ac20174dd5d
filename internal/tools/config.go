package tools

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/gobwas/glob"
)

// validToolNameRE matches valid tool names.
var validToolNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Config holds configuration for the local tool system.
type Config struct {
	Allow          []string      `mapstructure:"allow" yaml:"allow"`                       // Glob patterns; empty allows every tool
	MaxParallel    int           `mapstructure:"max_parallel" yaml:"max_parallel"`         // Concurrent calls per turn, 0 = unbounded
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`                   // Per-call timeout, 0 = none
	ScriptDir      string        `mapstructure:"script_dir" yaml:"script_dir"`             // Directory script paths are resolved in
	MaxOutputBytes int64         `mapstructure:"max_output_bytes" yaml:"max_output_bytes"` // Per-stream output cap
	Custom         []ScriptDef   `mapstructure:"custom" yaml:"custom"`
}

// ScriptDef declares a script-backed tool. The model's arguments are
// written to the script's stdin as JSON.
type ScriptDef struct {
	Name           string            `mapstructure:"name" yaml:"name"`
	Description    string            `mapstructure:"description" yaml:"description"`
	Script         string            `mapstructure:"script" yaml:"script"` // relative to ScriptDir
	Input          map[string]any    `mapstructure:"input" yaml:"input"`   // JSON schema of the arguments
	TimeoutSeconds int               `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Env            map[string]string `mapstructure:"env" yaml:"env"`
}

// DefaultConfig returns sensible defaults for tool configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel:    4,
		Timeout:        2 * time.Minute,
		MaxOutputBytes: 50 * 1024, // 50KB
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() []error {
	var errs []error

	for _, pattern := range c.Allow {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid tool pattern %q: %w", pattern, err))
		}
	}

	seen := map[string]bool{}
	for _, def := range c.Custom {
		switch {
		case !validToolNameRE.MatchString(def.Name):
			errs = append(errs, fmt.Errorf("custom tool %q: name must match ^[a-z][a-z0-9_]*$", def.Name))
		case IsBuiltin(def.Name):
			errs = append(errs, fmt.Errorf("custom tool %q collides with a built-in tool name", def.Name))
		case seen[def.Name]:
			errs = append(errs, fmt.Errorf("custom tool %q declared twice", def.Name))
		}
		seen[def.Name] = true
		if def.Script == "" {
			errs = append(errs, fmt.Errorf("custom tool %q: script is required", def.Name))
		}
	}

	// Warn for a nonexistent script dir (may be mounted later)
	if c.ScriptDir != "" {
		if _, err := os.Stat(c.ScriptDir); os.IsNotExist(err) {
			slog.Warn("script_dir does not exist", "dir", c.ScriptDir)
		}
	}

	return errs
}

// allowFilter compiles the Allow patterns into a name predicate.
func (c *Config) allowFilter() (func(string) bool, error) {
	if len(c.Allow) == 0 {
		return func(string) bool { return true }, nil
	}
	globs := make([]glob.Glob, 0, len(c.Allow))
	for _, pattern := range c.Allow {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid tool pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return func(name string) bool {
		for _, g := range globs {
			if g.Match(name) {
				return true
			}
		}
		return false
	}, nil
}
