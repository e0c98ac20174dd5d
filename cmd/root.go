package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "responses-bridge",
	Short: "Chat with a Responses API model through a bounded tool-calling loop",
	Long: `responses-bridge streams replies from a Responses API endpoint, runs the
tools the model calls, and keeps every protocol item so later turns replay
the full conversation.

Examples:
  responses-bridge ask "what time is it in UTC?"
  responses-bridge ask --chat <id> "and in Tokyo?"
  cat notes.md | responses-bridge ask "summarize this"

  responses-bridge chats                    # list stored chats
  responses-bridge chats show <id> --items  # show a chat and its stored items
  responses-bridge chats import chat.yaml   # seed a chat from a file`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		slog.SetDefault(newLogger())
		return nil
	},
}

var (
	configPath string
	logLevel   string
	debugRaw   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/responses-bridge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debugRaw, "debug-raw", false, "Write upstream requests and events to a JSONL trace per chat")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var loadedConfig *config.Config

// loadConfig loads the config once per process.
func loadConfig() (*config.Config, error) {
	if loadedConfig != nil {
		return loadedConfig, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	loadedConfig = cfg
	return cfg, nil
}

// newLogger returns a tint logger on stderr at the configured level.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if loadedConfig != nil {
		level = loadedConfig.LogLevel()
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isTerminal(os.Stderr),
	}))
}

// openStore opens the configured chat store with write failures logged.
func openStore(cfg *config.Config, logger *slog.Logger) (chat.Store, error) {
	store, err := chat.NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat store: %w", err)
	}
	return chat.NewLoggingStore(store, logger), nil
}

// debugDir returns where upstream traces go, or "" when tracing is off.
// --debug-raw without log.debug_dir traces into the data directory.
func debugDir(cfg *config.Config) string {
	if cfg.Log.DebugDir != "" {
		return cfg.Log.DebugDir
	}
	if !debugRaw {
		return ""
	}
	dataDir, err := chat.GetDataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dataDir, "debug")
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of stdout, or 80 when it is unknown.
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
