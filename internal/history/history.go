// Package history rebuilds the Responses input array from a chat's active
// conversation chain, replaying persisted items at the positions their
// markers occupy in the assistant text.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/marker"
	"github.com/warshanks/responses-bridge/internal/status"
)

// Thinking region delimiters written around streamed reasoning.
const (
	ThinkOpen  = "<think>\n"
	ThinkClose = "\n</think>\n\n"
)

var thinkPattern = regexp.MustCompile(`(?s)<think>.*?(?:</think>\n{0,2}|\z)`)

// StripUI removes the regions of an assistant message that only exist for
// the user interface: the status block and thinking regions.
func StripUI(text string) string {
	return thinkPattern.ReplaceAllString(status.Strip(text), "")
}

// Fetcher resolves persisted item ids. Missing ids are absent from the
// result; a non-empty modelID restricts the result to that model's items.
type Fetcher interface {
	Fetch(ctx context.Context, chatID string, ids []string, modelID string) (map[string]llm.Item, error)
}

// Options tunes reconstruction.
type Options struct {
	ModelID     string
	StrictModel bool // only replay items persisted for ModelID
	Logger      *slog.Logger
}

// Input is the reconstructed request input.
type Input struct {
	Instructions string
	Items        []llm.Item
}

// Reconstruct converts chain, ordered root to leaf, into request input.
// System nodes become instructions; user and assistant nodes become items.
// Markers that cannot be resolved are skipped.
func Reconstruct(ctx context.Context, chatID string, chain []chat.Node, lookup Fetcher, opts Options) (Input, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// One batched lookup for every marker in the chain.
	var ids []string
	seen := map[string]bool{}
	for _, node := range chain {
		if node.Role != chat.RoleAssistant {
			continue
		}
		for _, id := range marker.IDs(node.Content) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	resolved := map[string]llm.Item{}
	if len(ids) > 0 && lookup != nil {
		modelFilter := ""
		if opts.StrictModel {
			modelFilter = opts.ModelID
		}
		var err error
		resolved, err = lookup.Fetch(ctx, chatID, ids, modelFilter)
		if err != nil {
			return Input{}, fmt.Errorf("resolve markers: %w", err)
		}
	}

	var input Input
	var instructions []string
	for _, node := range chain {
		switch node.Role {
		case chat.RoleSystem:
			if text := strings.TrimSpace(node.Text()); text != "" {
				instructions = append(instructions, text)
			}
		case chat.RoleUser:
			if item, ok := userItem(node); ok {
				input.Items = append(input.Items, item)
			}
		case chat.RoleAssistant:
			for _, seg := range marker.Split(StripUI(node.Content)) {
				if seg.Marker == nil {
					if text := strings.TrimSpace(seg.Text); text != "" {
						input.Items = append(input.Items, assistantText(text))
					}
					continue
				}
				item, ok := resolved[seg.Marker.ID]
				if !ok {
					logger.Debug("skipping unresolved marker",
						"chat_id", chatID,
						"message_id", node.ID,
						"item_id", seg.Marker.ID,
						"item_type", seg.Marker.ItemType)
					continue
				}
				input.Items = append(input.Items, item)
			}
		default:
			logger.Debug("skipping node with unknown role", "chat_id", chatID, "message_id", node.ID, "role", node.Role)
		}
	}
	input.Instructions = strings.Join(instructions, "\n\n")
	input.Items = SanitizeToolPairs(input.Items)
	return input, nil
}

func assistantText(text string) llm.Item {
	return llm.Item{
		Type:    llm.ItemMessage,
		Role:    "assistant",
		Content: []llm.ContentPart{{Type: llm.PartOutputText, Text: text}},
	}
}

func userItem(node chat.Node) (llm.Item, bool) {
	var parts []llm.ContentPart
	if node.Content != "" {
		parts = append(parts, llm.ContentPart{Type: llm.PartInputText, Text: node.Content})
	}
	for _, block := range node.Blocks {
		switch block.Type {
		case chat.BlockText:
			// Content already carries the text when both are set.
			if node.Content == "" && block.Text != "" {
				parts = append(parts, llm.ContentPart{Type: llm.PartInputText, Text: block.Text})
			}
		case chat.BlockImage:
			if url := dataOrURL(block.URL, block.Data, block.MimeType); url != "" {
				parts = append(parts, llm.ContentPart{Type: llm.PartInputImage, ImageURL: url})
			}
		case chat.BlockFile:
			if part, ok := filePart(block.FileID, block.Data, block.MimeType, block.Filename); ok {
				parts = append(parts, part)
			}
		}
	}
	for _, f := range node.Files {
		switch f.Type {
		case chat.BlockImage:
			if url := dataOrURL(f.URL, f.Data, f.MimeType); url != "" {
				parts = append(parts, llm.ContentPart{Type: llm.PartInputImage, ImageURL: url})
			}
		default:
			if part, ok := filePart(f.ID, f.Data, f.MimeType, f.Name); ok {
				parts = append(parts, part)
			}
		}
	}
	if len(parts) == 0 {
		return llm.Item{}, false
	}
	return llm.Item{Type: llm.ItemMessage, Role: "user", Content: parts}, true
}

func dataOrURL(url, data, mimeType string) string {
	if url != "" {
		return url
	}
	if data == "" {
		return ""
	}
	if strings.HasPrefix(data, "data:") {
		return data
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + data
}

func filePart(fileID, data, mimeType, filename string) (llm.ContentPart, bool) {
	if fileID != "" {
		return llm.ContentPart{Type: llm.PartInputFile, FileID: fileID}, true
	}
	if data == "" {
		return llm.ContentPart{}, false
	}
	return llm.ContentPart{
		Type:     llm.PartInputFile,
		FileData: dataOrURL("", data, mimeType),
		Filename: filename,
	}, true
}
