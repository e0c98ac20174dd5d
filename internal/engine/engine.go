// Package engine runs the bounded tool-calling loop of one assistant reply
// against a Responses endpoint.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/emit"
	"github.com/warshanks/responses-bridge/internal/items"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/usage"
)

const (
	DefaultMaxTurns       = 8
	DefaultReleaseTimeout = 10 * time.Second

	finalTurnHint = "IMPORTANT: Do not call any tools. Use the information already retrieved and answer directly."
)

// Client is the upstream the engine talks to; *llm.Client implements it.
type Client interface {
	Stream(ctx context.Context, req llm.Request) (llm.Stream, error)
	Create(ctx context.Context, req llm.Request) (*llm.Response, error)
	Delete(ctx context.Context, responseID string) error
}

// Config holds the loop settings shared by every run.
type Config struct {
	Model           string
	MaxTurns        int // 0 = DefaultMaxTurns
	Instructions    string
	Reasoning       *llm.Reasoning
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64

	// Store keeps responses server-side so later turns only send new items.
	Store  bool
	Stream bool

	// StrictModel only replays persisted items produced by the run's model.
	StrictModel bool
	// PersistReasoning keeps reasoning items that carry encrypted content
	// or a summary.
	PersistReasoning bool

	ParallelToolCalls *bool
	MaxParallelTools  int
	ToolTimeout       time.Duration

	ReleaseTimeout time.Duration // 0 = DefaultReleaseTimeout
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxTurns:         DefaultMaxTurns,
		Store:            true,
		Stream:           true,
		PersistReasoning: true,
		ReleaseTimeout:   DefaultReleaseTimeout,
	}
}

// Engine composes the upstream client, the chat store and the tool
// registry. It holds no per-run state and may serve concurrent runs.
type Engine struct {
	client Client
	chats  chat.Store
	items  *items.Store
	tools  *llm.ToolRegistry
	cfg    Config
}

// New creates an engine. tools may be nil.
func New(client Client, chats chat.Store, tools *llm.ToolRegistry, cfg Config) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = DefaultReleaseTimeout
	}
	return &Engine{
		client: client,
		chats:  chats,
		items:  items.New(chats),
		tools:  tools,
		cfg:    cfg,
	}
}

// Turn is the explicit per-call context of one run.
type Turn struct {
	ChatID    string
	MessageID string // assistant message being produced
	Model     string // overrides Config.Model when set
	Logger    *slog.Logger
	Emitter   emit.Emitter
	Tools     *llm.ToolRegistry // overrides the engine registry when set
}

// Result summarises a finished run.
type Result struct {
	Content     string       // final assistant message, status block included
	Usage       usage.Totals // accumulated over every turn
	Turns       int
	ResponseIDs []string
	Err         error
}

// Run produces one assistant reply. It always finishes the status block,
// stores the final message and emits a completion, even when the run
// fails or ctx is cancelled; the returned error is the one that ended it.
func (e *Engine) Run(ctx context.Context, turn Turn) (*Result, error) {
	if turn.ChatID == "" || turn.MessageID == "" {
		return nil, errors.New("chat id and message id are required")
	}
	model := turn.Model
	if model == "" {
		model = e.cfg.Model
	}
	if model == "" {
		return nil, errors.New("no model configured")
	}
	logger := turn.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("chat_id", turn.ChatID, "message_id", turn.MessageID, "model", model)
	emitter := turn.Emitter
	if emitter == nil {
		emitter = emit.Discard
	}
	tools := turn.Tools
	if tools == nil {
		tools = e.tools
	}

	r := newRun(ctx, e, turn, model, logger, emitter, tools)
	err := r.loop(ctx)
	res := r.cleanup(ctx, err)
	if err != nil {
		return res, fmt.Errorf("run %s: %w", turn.MessageID, err)
	}
	return res, nil
}
