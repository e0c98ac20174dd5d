package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
)

// ErrNotFound is returned when a chat or message does not exist.
var ErrNotFound = errors.New("not found")

// Role of a conversation node.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one block of a user message.
type ContentBlock struct {
	Type     string `json:"type" yaml:"type"` // "text", "image", "file"
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"` // http(s) or data: URL
	FileID   string `json:"file_id,omitempty" yaml:"file_id,omitempty"`
	Data     string `json:"data,omitempty" yaml:"data,omitempty"` // base64
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
}

// Block types.
const (
	BlockText  = "text"
	BlockImage = "image"
	BlockFile  = "file"
)

// File is an attachment of a user message.
type File struct {
	Type     string `json:"type" yaml:"type"` // "image" or "file"
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Data     string `json:"data,omitempty" yaml:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
}

// Node is one message in a chat's conversation tree.
type Node struct {
	ID          string         `json:"id"`
	ParentID    string         `json:"parent_id,omitempty"`
	ChildrenIDs []string       `json:"children_ids,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Blocks      []ContentBlock `json:"blocks,omitempty"`
	Files       []File         `json:"files,omitempty"`
	Model       string         `json:"model,omitempty"`
	Usage       map[string]any `json:"usage,omitempty"`
	Done        bool           `json:"done,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Text returns the node's text: Content, or its text blocks joined.
func (n Node) Text() string {
	if n.Content != "" || len(n.Blocks) == 0 {
		return n.Content
	}
	var parts []string
	for _, b := range n.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// PersistedItem is a protocol item stored out of band in a chat document.
// It is never modified after creation.
type PersistedItem struct {
	ID        string          `json:"id"`
	ChatID    string          `json:"chat_id"`
	MessageID string          `json:"message_id"`
	ModelID   string          `json:"model_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Document is a whole chat: its message tree and its item side table.
type Document struct {
	ID        string                   `json:"id"`
	Title     string                   `json:"title,omitempty"`
	CurrentID string                   `json:"current_id,omitempty"`
	Messages  map[string]*Node         `json:"messages"`
	Items     map[string]PersistedItem `json:"items,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// NewDocument returns an empty chat with a fresh id.
func NewDocument(title string) *Document {
	now := time.Now()
	return &Document{
		ID:        NewID(),
		Title:     title,
		Messages:  map[string]*Node{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Chain returns the active path from the root to CurrentID.
func (d *Document) Chain() []Node {
	var chain []Node
	seen := map[string]bool{}
	for id := d.CurrentID; id != "" && !seen[id]; {
		seen[id] = true
		node, ok := d.Messages[id]
		if !ok {
			break
		}
		chain = append(chain, *node)
		id = node.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Append adds node as a child of the current leaf (unless it already names
// a parent) and makes it current.
func (d *Document) Append(node *Node) {
	if d.Messages == nil {
		d.Messages = map[string]*Node{}
	}
	if node.ID == "" {
		node.ID = NewID()
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}
	if node.ParentID == "" {
		node.ParentID = d.CurrentID
	}
	if parent, ok := d.Messages[node.ParentID]; ok {
		parent.ChildrenIDs = append(parent.ChildrenIDs, node.ID)
	}
	d.Messages[node.ID] = node
	d.CurrentID = node.ID
}

// MessageFields are the fields UpsertMessage writes.
type MessageFields struct {
	Role    Role // only used when the message is created; defaults to assistant
	Content string
	Model   string
	Usage   map[string]any
	Done    bool
}

func (d *Document) upsert(messageID string, fields MessageFields) {
	node, ok := d.Messages[messageID]
	if !ok {
		role := fields.Role
		if role == "" {
			role = RoleAssistant
		}
		node = &Node{ID: messageID, Role: role}
		d.Append(node)
	}
	node.Content = fields.Content
	if fields.Model != "" {
		node.Model = fields.Model
	}
	if fields.Usage != nil {
		node.Usage = fields.Usage
	}
	node.Done = fields.Done
}

// Summary is a lightweight view of a chat for listing.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListOptions configures chat listing.
type ListOptions struct {
	Limit  int // Max results (0 = use default)
	Offset int
}

// NewID returns a new random identifier for chats and messages.
func NewID() string {
	return uuid.NewString()
}

// TruncateTitle returns the first line of content, truncated to 100 columns.
func TruncateTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	return runewidth.Truncate(content, 100, "...")
}
