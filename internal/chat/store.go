// Package chat stores conversation trees and the out-of-band item side
// table that travels with each chat document.
package chat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the interface for chat persistence.
//
// UpdateDocument is a read-modify-write of the whole document with no
// optimistic locking: concurrent writers to the same chat can race, and
// callers are expected to serialise generation per chat.
type Store interface {
	// Chat CRUD
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	Delete(ctx context.Context, id string) error

	// Conversation access used by the response loop
	GetChain(ctx context.Context, chatID string) ([]Node, error)
	AppendMessage(ctx context.Context, chatID string, node *Node) error
	UpsertMessage(ctx context.Context, chatID, messageID string, fields MessageFields) error
	UpdateDocument(ctx context.Context, chatID string, fn func(*Document) error) error

	// Lifecycle
	Close() error
}

// Config holds chat storage configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"` // false keeps chats in memory only
	Path    string `mapstructure:"path"`    // database file; empty = XDG data dir
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// GetDataDir returns the XDG data directory for responses-bridge.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "responses-bridge"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "responses-bridge"), nil
}

// GetDBPath returns the path to the chats database.
func GetDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "chats.db"), nil
}

// NewStore creates a new Store based on the configuration.
// If persistence is disabled, returns an in-memory store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(cfg)
}

// getChain, appendMessage and upsertMessage are shared by the store
// implementations; each is expressed in terms of Get or UpdateDocument.

func getChain(ctx context.Context, s Store, chatID string) ([]Node, error) {
	doc, err := s.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return doc.Chain(), nil
}

func appendMessage(ctx context.Context, s Store, chatID string, node *Node) error {
	return s.UpdateDocument(ctx, chatID, func(doc *Document) error {
		if node.ParentID != "" {
			if _, ok := doc.Messages[node.ParentID]; !ok {
				return fmt.Errorf("parent message %s: %w", node.ParentID, ErrNotFound)
			}
		}
		if doc.Title == "" && node.Role == RoleUser {
			doc.Title = TruncateTitle(node.Text())
		}
		doc.Append(node)
		return nil
	})
}

func upsertMessage(ctx context.Context, s Store, chatID, messageID string, fields MessageFields) error {
	return s.UpdateDocument(ctx, chatID, func(doc *Document) error {
		doc.upsert(messageID, fields)
		return nil
	})
}
