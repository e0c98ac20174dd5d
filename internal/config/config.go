package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/engine"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/tools"
)

const appName = "responses-bridge"

type Config struct {
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Tools    tools.Config   `mapstructure:"tools"`
	Store    chat.Config    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
}

// UpstreamConfig configures the Responses endpoint.
type UpstreamConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIKey         string            `mapstructure:"api_key"`
	Model          string            `mapstructure:"model"`
	Headers        map[string]string `mapstructure:"headers"`         // extra provider headers
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"` // connection setup
	ReadTimeout    time.Duration     `mapstructure:"read_timeout"`    // whole response, including generation
	Store          bool              `mapstructure:"store"`           // keep responses server-side between turns
	Stream         bool              `mapstructure:"stream"`
}

// LoopConfig configures the tool-calling loop.
type LoopConfig struct {
	MaxTurns          int      `mapstructure:"max_turns"`
	Instructions      string   `mapstructure:"instructions"`
	ReasoningEffort   string   `mapstructure:"reasoning_effort"`  // "minimal", "low", "medium", "high"
	ReasoningSummary  string   `mapstructure:"reasoning_summary"` // "auto", "concise", "detailed"
	MaxOutputTokens   int      `mapstructure:"max_output_tokens"`
	Temperature       *float64 `mapstructure:"temperature"`
	TopP              *float64 `mapstructure:"top_p"`
	ParallelToolCalls *bool    `mapstructure:"parallel_tool_calls"`
	StrictModel       bool     `mapstructure:"strict_model"`      // only replay items produced by the same model
	PersistReasoning  bool     `mapstructure:"persist_reasoning"` // keep reasoning items across turns
}

// LogConfig configures the console logger.
type LogConfig struct {
	Level    string `mapstructure:"level"`     // debug, info, warn, error
	DebugDir string `mapstructure:"debug_dir"` // JSONL traces of upstream traffic; empty = off
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.base_url", "https://api.openai.com/v1")
	v.SetDefault("upstream.model", "gpt-5-mini")
	v.SetDefault("upstream.connect_timeout", llm.DefaultConnectTimeout)
	v.SetDefault("upstream.read_timeout", llm.DefaultReadTimeout)
	v.SetDefault("upstream.store", true)
	v.SetDefault("upstream.stream", true)

	v.SetDefault("loop.max_turns", engine.DefaultMaxTurns)
	v.SetDefault("loop.persist_reasoning", true)

	toolDefaults := tools.DefaultConfig()
	v.SetDefault("tools.max_parallel", toolDefaults.MaxParallel)
	v.SetDefault("tools.timeout", toolDefaults.Timeout)
	v.SetDefault("tools.max_output_bytes", toolDefaults.MaxOutputBytes)

	v.SetDefault("store.enabled", true)
	v.SetDefault("log.level", "info")
}

// Load reads the config file at path, or config.yaml from the config
// directory or the working directory when path is empty. A missing file
// is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve expands environment references and applies env fallbacks.
func (c *Config) resolve() {
	c.Upstream.APIKey = expandEnv(c.Upstream.APIKey)
	if c.Upstream.APIKey == "" {
		c.Upstream.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	c.Upstream.BaseURL = strings.TrimRight(expandEnv(c.Upstream.BaseURL), "/")
	for k, val := range c.Upstream.Headers {
		c.Upstream.Headers[k] = expandEnv(val)
	}
	c.Store.Path = expandEnv(c.Store.Path)
	c.Tools.ScriptDir = expandEnv(c.Tools.ScriptDir)
	c.Log.DebugDir = expandEnv(c.Log.DebugDir)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if c.Loop.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("loop.max_turns must be at least 1, got %d", c.Loop.MaxTurns))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, c.Tools.Validate()...)
	return errors.Join(errs...)
}

// ApplyOverrides applies command-line overrides. Zero values leave the
// configured value in place.
func (c *Config) ApplyOverrides(model string, maxTurns int) {
	if model != "" {
		c.Upstream.Model = model
	}
	if maxTurns > 0 {
		c.Loop.MaxTurns = maxTurns
	}
}

// Engine returns the loop settings for engine.New.
func (c *Config) Engine() engine.Config {
	ec := engine.DefaultConfig()
	ec.Model = c.Upstream.Model
	ec.MaxTurns = c.Loop.MaxTurns
	ec.Instructions = c.Loop.Instructions
	ec.MaxOutputTokens = c.Loop.MaxOutputTokens
	ec.Temperature = c.Loop.Temperature
	ec.TopP = c.Loop.TopP
	ec.ParallelToolCalls = c.Loop.ParallelToolCalls
	ec.Store = c.Upstream.Store
	ec.Stream = c.Upstream.Stream
	ec.StrictModel = c.Loop.StrictModel
	ec.PersistReasoning = c.Loop.PersistReasoning
	ec.MaxParallelTools = c.Tools.MaxParallel
	ec.ToolTimeout = c.Tools.Timeout
	if c.Loop.ReasoningEffort != "" || c.Loop.ReasoningSummary != "" {
		ec.Reasoning = &llm.Reasoning{Effort: c.Loop.ReasoningEffort, Summary: c.Loop.ReasoningSummary}
	}
	return ec
}

// Client returns a client for the configured upstream.
func (c *Config) Client() *llm.Client {
	client := llm.NewClient(c.Upstream.BaseURL, c.Upstream.APIKey, llm.SharedHTTPClient(llm.TransportOptions{
		ConnectTimeout: c.Upstream.ConnectTimeout,
		ReadTimeout:    c.Upstream.ReadTimeout,
	}))
	client.ExtraHeaders = c.Upstream.Headers
	return client
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q", s)
	}
	return level, nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for responses-bridge.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", appName), nil
}
