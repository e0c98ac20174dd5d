package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Each chat is one row whose
// document column holds the whole tree and item table as JSON.
type SQLiteStore struct {
	db *sql.DB
}

// Schema for the chats database.
const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    title TEXT,
    current_id TEXT,
    message_count INTEGER DEFAULT 0,
    item_count INTEGER DEFAULT 0,
    document TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

// NewSQLiteStore creates a new SQLite-based chat store.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		dbPath, err = GetDBPath()
		if err != nil {
			return nil, fmt.Errorf("get db path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema and run migrations
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// schemaVersion is recorded in new databases. Increment it together with
// an upgrade step in initSchema when the schema changes.
const schemaVersion = 1

// initSchema creates the tables and records the schema version. Databases
// written by a newer build are refused.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("get schema version: %w", err)
	case version > schemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	return nil
}

// Create inserts a new chat.
func (s *SQLiteStore) Create(ctx context.Context, doc *Document) error {
	prepareNew(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, current_id, message_count, item_count, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, nullString(doc.Title), nullString(doc.CurrentID), len(doc.Messages), len(doc.Items),
		string(data), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// Get retrieves a chat by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM chats WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	return decodeDocument([]byte(data))
}

// List returns chats, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `
		SELECT id, title, message_count, created_at, updated_at
		FROM chats
		ORDER BY updated_at DESC`

	limit := opts.Limit
	if limit == 0 {
		limit = 50 // Default
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var sum Summary
		var title sql.NullString
		if err := rows.Scan(&sum.ID, &title, &sum.MessageCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		sum.Title = title.String
		results = append(results, sum)
	}
	return results, rows.Err()
}

// Delete removes a chat.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetChain(ctx context.Context, chatID string) ([]Node, error) {
	return getChain(ctx, s, chatID)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID string, node *Node) error {
	return appendMessage(ctx, s, chatID, node)
}

func (s *SQLiteStore) UpsertMessage(ctx context.Context, chatID, messageID string, fields MessageFields) error {
	return upsertMessage(ctx, s, chatID, messageID, fields)
}

// UpdateDocument reads, modifies and writes one chat inside a transaction.
func (s *SQLiteStore) UpdateDocument(ctx context.Context, chatID string, fn func(*Document) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, "SELECT document FROM chats WHERE id = ?", chatID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("scan chat: %w", err)
	}
	doc, err := decodeDocument([]byte(data))
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now()
	updated, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE chats SET title = ?, current_id = ?, message_count = ?, item_count = ?, document = ?, updated_at = ?
		WHERE id = ?`,
		nullString(doc.Title), nullString(doc.CurrentID), len(doc.Messages), len(doc.Items),
		string(updated), doc.UpdatedAt, chatID)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString returns a sql.NullString for empty strings.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
