package chat

import (
	"context"
	"log/slog"
	"sync"
)

// LoggingStore wraps a Store and logs write errors instead of letting them
// pass unnoticed. Errors are still returned; each failing operation type is
// only logged once to avoid spamming.
type LoggingStore struct {
	Store
	logger *slog.Logger
	mu     sync.Mutex
	warned map[string]bool
}

// NewLoggingStore creates a new LoggingStore wrapper. A nil logger uses
// slog.Default.
func NewLoggingStore(store Store, logger *slog.Logger) *LoggingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingStore{
		Store:  store,
		logger: logger,
		warned: make(map[string]bool),
	}
}

// logOnce logs a warning only once per operation type.
func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.logger.Warn("chat store operation failed", "op", op, "error", err)
}

// Create wraps Store.Create with error logging.
func (s *LoggingStore) Create(ctx context.Context, doc *Document) error {
	err := s.Store.Create(ctx, doc)
	s.logOnce("Create", err)
	return err
}

// AppendMessage wraps Store.AppendMessage with error logging.
func (s *LoggingStore) AppendMessage(ctx context.Context, chatID string, node *Node) error {
	err := s.Store.AppendMessage(ctx, chatID, node)
	s.logOnce("AppendMessage", err)
	return err
}

// UpsertMessage wraps Store.UpsertMessage with error logging.
func (s *LoggingStore) UpsertMessage(ctx context.Context, chatID, messageID string, fields MessageFields) error {
	err := s.Store.UpsertMessage(ctx, chatID, messageID, fields)
	s.logOnce("UpsertMessage", err)
	return err
}

// UpdateDocument wraps Store.UpdateDocument with error logging.
func (s *LoggingStore) UpdateDocument(ctx context.Context, chatID string, fn func(*Document) error) error {
	err := s.Store.UpdateDocument(ctx, chatID, fn)
	s.logOnce("UpdateDocument", err)
	return err
}
