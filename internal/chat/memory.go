package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps chat documents in process memory. Documents are held
// serialised so callers never share state with the store.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string][]byte{}}
}

func (s *MemoryStore) Create(ctx context.Context, doc *Document) error {
	prepareNew(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return fmt.Errorf("chat %s already exists", doc.ID)
	}
	s.docs[doc.ID] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Document, error) {
	s.mu.Lock()
	data, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	return decodeDocument(data)
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []Summary
	for _, data := range s.docs {
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		results = append(results, summarize(doc))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})
	return paginate(results, opts), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) GetChain(ctx context.Context, chatID string) ([]Node, error) {
	return getChain(ctx, s, chatID)
}

func (s *MemoryStore) AppendMessage(ctx context.Context, chatID string, node *Node) error {
	return appendMessage(ctx, s, chatID, node)
}

func (s *MemoryStore) UpsertMessage(ctx context.Context, chatID, messageID string, fields MessageFields) error {
	return upsertMessage(ctx, s, chatID, messageID, fields)
}

// UpdateDocument holds the store lock for the whole read-modify-write.
func (s *MemoryStore) UpdateDocument(ctx context.Context, chatID string, fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[chatID]
	if !ok {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	doc, err := decodeDocument(data)
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
	s.docs[chatID] = updated
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func prepareNew(doc *Document) {
	if doc.ID == "" {
		doc.ID = NewID()
	}
	if doc.Messages == nil {
		doc.Messages = map[string]*Node{}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
}

func decodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	if doc.Messages == nil {
		doc.Messages = map[string]*Node{}
	}
	return &doc, nil
}

func summarize(doc *Document) Summary {
	return Summary{
		ID:           doc.ID,
		Title:        doc.Title,
		MessageCount: len(doc.Messages),
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func paginate(results []Summary, opts ListOptions) []Summary {
	limit := opts.Limit
	if limit == 0 {
		limit = 50 // Default
	}
	if opts.Offset >= len(results) {
		return nil
	}
	results = results[opts.Offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
