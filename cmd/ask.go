package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/emit"
	"github.com/warshanks/responses-bridge/internal/engine"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/signal"
	"github.com/warshanks/responses-bridge/internal/tools"
)

var (
	askModel    string
	askMaxTurns int
	askText     bool
	askChat     string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the model a question",
	Long: `Send a question to the configured Responses endpoint and stream the reply.
Tool calls are executed locally and fed back until the model answers or the
turn limit is reached. Piped stdin is appended to the question.

Examples:
  responses-bridge ask "what is the date today?"
  responses-bridge ask -m gpt-5 --max-turns 3 "plan my week"
  responses-bridge ask --chat <id> "follow up"
  git diff | responses-bridge ask --text "review this diff"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	AddModelFlag(askCmd, &askModel)
	AddMaxTurnsFlag(askCmd, &askMaxTurns)
	AddTextFlag(askCmd, &askText)
	AddChatFlag(askCmd, &askChat)
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(askModel, askMaxTurns)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := slog.Default()
	if cfg.Upstream.APIKey == "" {
		logger.Warn("no API key configured; set upstream.api_key or OPENAI_API_KEY")
	}

	question := strings.Join(args, " ")
	if !isTerminal(os.Stdin) {
		piped, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		question = joinInput(question, string(piped))
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := tools.Build(cfg.Tools, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	chatID, err := prepareChat(ctx, store, askChat, question)
	if err != nil {
		return err
	}

	render := !askText && isTerminal(os.Stdout)
	sink := newTermSink(os.Stdout, os.Stderr, !render)
	queue := emit.NewQueue(sink, 64, emit.DropStatus, logger)

	var client engine.Client = cfg.Client()
	if dir := debugDir(cfg); dir != "" {
		debugLog, err := llm.NewDebugLogger(dir, chatID)
		if err != nil {
			logger.Warn("debug trace unavailable", "dir", dir, "error", err)
		} else {
			defer debugLog.Close()
			client = debugLog.Wrap(cfg.Client())
			logger.Debug("tracing upstream traffic", "dir", dir)
		}
	}

	eng := engine.New(client, store, registry, cfg.Engine())
	res, runErr := eng.Run(ctx, engine.Turn{
		ChatID:    chatID,
		MessageID: chat.NewID(),
		Logger:    logger,
		Emitter:   queue,
	})
	if err := queue.Close(); err != nil {
		logger.Warn("emit queue close failed", "error", err)
	}
	if dropped := queue.Dropped(); dropped > 0 {
		logger.Debug("status events dropped", "count", dropped)
	}

	content := ""
	if res != nil {
		content = res.Content
	}
	sink.finish(content, render, terminalWidth())
	fmt.Fprintln(os.Stderr, sink.styles.Muted.Render("chat: "+chatID))

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// prepareChat appends the user's question to chatID, or to a new chat
// titled after the question when chatID is empty, and returns the chat id.
func prepareChat(ctx context.Context, store chat.Store, chatID, question string) (string, error) {
	if chatID == "" {
		doc := chat.NewDocument(chat.TruncateTitle(question))
		if err := store.Create(ctx, doc); err != nil {
			return "", fmt.Errorf("failed to create chat: %w", err)
		}
		chatID = doc.ID
	} else if _, err := store.Get(ctx, chatID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return "", fmt.Errorf("chat %q not found", chatID)
		}
		return "", fmt.Errorf("failed to load chat: %w", err)
	}

	node := &chat.Node{Role: chat.RoleUser, Content: question, Done: true}
	if err := store.AppendMessage(ctx, chatID, node); err != nil {
		return "", fmt.Errorf("failed to store question: %w", err)
	}
	return chatID, nil
}

// joinInput appends piped input to the question.
func joinInput(question, piped string) string {
	piped = strings.TrimSpace(piped)
	if piped == "" {
		return question
	}
	return question + "\n\n" + piped
}
