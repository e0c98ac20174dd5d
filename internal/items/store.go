// Package items persists protocol items the user never sees (tool calls,
// tool outputs, reasoning, search traces) in a chat document's side table
// and hands back markers that reference them from the visible text.
package items

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/marker"
)

// Store reads and writes persisted items through a chat store.
type Store struct {
	chats chat.Store
	now   func() time.Time
}

// New returns an item store backed by chats.
func New(chats chat.Store) *Store {
	return &Store{chats: chats, now: time.Now}
}

const crockford = "0123456789abcdefghjkmnpqrstvwxyz"

// NewID returns a time-sortable id: a UUIDv7 rendered as 26 lowercase
// Crockford base32 characters.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate item id: %w", err)
	}
	return encodeID(id), nil
}

func encodeID(id uuid.UUID) string {
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	var out [26]byte
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = crockford[lo&31]
		lo = lo>>5 | hi<<59
		hi >>= 5
	}
	return string(out[:])
}

// Save stores each item under a new id and returns one marker per item,
// in input order. All items are written in a single document update.
func (s *Store) Save(ctx context.Context, chatID, messageID, modelID string, items []llm.Item) ([]marker.Marker, error) {
	if len(items) == 0 {
		return nil, nil
	}
	now := s.now()
	records := make([]chat.PersistedItem, len(items))
	markers := make([]marker.Marker, len(items))
	for i, item := range items {
		id, err := NewID()
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("marshal %s item: %w", item.Type, err)
		}
		records[i] = chat.PersistedItem{
			ID:        id,
			ChatID:    chatID,
			MessageID: messageID,
			ModelID:   modelID,
			CreatedAt: now,
			Payload:   payload,
		}
		markers[i] = marker.New(item.Type, id, nil)
	}

	err := s.chats.UpdateDocument(ctx, chatID, func(doc *chat.Document) error {
		if doc.Items == nil {
			doc.Items = make(map[string]chat.PersistedItem, len(records))
		}
		for _, rec := range records {
			doc.Items[rec.ID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist items: %w", err)
	}
	return markers, nil
}

// Persist stores items and returns the concatenated marker text to splice
// into the assistant message.
func (s *Store) Persist(ctx context.Context, chatID, messageID, modelID string, items []llm.Item) (string, error) {
	markers, err := s.Save(ctx, chatID, messageID, modelID, items)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, m := range markers {
		b.WriteString(marker.Embed(m))
	}
	return b.String(), nil
}

// Fetch returns the stored items for ids. Unknown ids are absent from the
// result. A non-empty modelID only returns items persisted for that model.
func (s *Store) Fetch(ctx context.Context, chatID string, ids []string, modelID string) (map[string]llm.Item, error) {
	out := make(map[string]llm.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	doc, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	for _, id := range ids {
		rec, ok := doc.Items[strings.ToLower(id)]
		if !ok {
			continue
		}
		if modelID != "" && rec.ModelID != modelID {
			continue
		}
		var item llm.Item
		if err := json.Unmarshal(rec.Payload, &item); err != nil {
			return nil, fmt.Errorf("decode item %s: %w", id, err)
		}
		out[id] = item
	}
	return out, nil
}

// ForMessage returns the ids of all items persisted for one message, in
// creation order.
func ForMessage(doc *chat.Document, messageID string) []string {
	var ids []string
	for id, rec := range doc.Items {
		if rec.MessageID == messageID {
			ids = append(ids, id)
		}
	}
	// Ids are time-ordered, so lexical order is creation order.
	sort.Strings(ids)
	return ids
}
