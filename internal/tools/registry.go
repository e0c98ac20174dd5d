package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/warshanks/responses-bridge/internal/llm"
)

// Build creates the registry described by cfg: the built-ins plus every
// custom script tool, filtered by the allow patterns.
func Build(cfg Config, logger *slog.Logger) (*llm.ToolRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("tools config: %w", errors.Join(errs...))
	}
	allowed, err := cfg.allowFilter()
	if err != nil {
		return nil, err
	}

	all := []llm.Tool{NewClockTool()}
	for _, def := range cfg.Custom {
		// Missing scripts are not fatal; they may be created later.
		if cfg.ScriptDir != "" {
			scriptPath := filepath.Join(cfg.ScriptDir, def.Script)
			if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
				logger.Warn("custom tool script not found", "tool", def.Name, "path", scriptPath)
			}
		}
		all = append(all, NewScriptTool(def, cfg.ScriptDir, cfg.MaxOutputBytes))
	}

	registry := llm.NewToolRegistry(all...).Filter(allowed)
	logger.Debug("tools registered", "tools", registry.Names())
	return registry, nil
}
