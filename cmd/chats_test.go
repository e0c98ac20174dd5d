package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/history"
	"github.com/warshanks/responses-bridge/internal/items"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/marker"
	"github.com/warshanks/responses-bridge/internal/ui"
)

const sampleTranscript = `
title: Release prep
model: gpt-5-mini
messages:
  - role: system
    content: Be brief.
  - role: user
    content: What time is it?
  - role: assistant
    tool_calls:
      - name: current_time
        arguments: {}
        output: "Monday, 2026-10-12T09:00:00Z (UTC)"
    content: It is 09:00 UTC.
  - role: user
    blocks:
      - type: text
        text: And this image?
      - type: image
        url: https://example.com/cat.png
`

func TestParseTranscript(t *testing.T) {
	tr, err := parseTranscript([]byte(sampleTranscript))
	if err != nil {
		t.Fatalf("parseTranscript: %v", err)
	}
	if tr.Title != "Release prep" || tr.Model != "gpt-5-mini" || len(tr.Messages) != 4 {
		t.Fatalf("transcript = %+v", tr)
	}
	if calls := tr.Messages[2].ToolCalls; len(calls) != 1 || calls[0].Name != "current_time" {
		t.Errorf("tool calls = %+v", calls)
	}
	if blocks := tr.Messages[3].Blocks; len(blocks) != 2 || blocks[1].Type != chat.BlockImage {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestParseTranscriptErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "title: x\n", "no messages"},
		{"bad yaml", "messages: [", "invalid transcript"},
		{"bad role", "messages:\n  - role: robot\n    content: hi\n", "unknown role"},
		{"user tool calls", "messages:\n  - role: user\n    tool_calls:\n      - name: x\n", "only assistant"},
		{"unnamed call", "messages:\n  - role: assistant\n    tool_calls:\n      - output: x\n", "has no name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTranscript([]byte(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestImportTranscriptPersistsToolItems(t *testing.T) {
	ctx := context.Background()
	store := chat.NewMemoryStore()
	tr, err := parseTranscript([]byte(sampleTranscript))
	if err != nil {
		t.Fatal(err)
	}

	id, err := importTranscript(ctx, store, tr)
	if err != nil {
		t.Fatalf("importTranscript: %v", err)
	}
	doc, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	chain := doc.Chain()
	if len(chain) != 4 {
		t.Fatalf("chain length = %d, want 4", len(chain))
	}

	assistant := chain[2]
	if assistant.Model != "gpt-5-mini" {
		t.Errorf("assistant model = %q", assistant.Model)
	}
	ids := marker.IDs(assistant.Content)
	if len(ids) != 2 {
		t.Fatalf("markers = %v, want call and output", ids)
	}
	if got := visibleText(assistant.Content); got != "It is 09:00 UTC." {
		t.Errorf("visible text = %q", got)
	}

	fetched, err := items.New(store).Fetch(ctx, id, ids, "")
	if err != nil {
		t.Fatal(err)
	}
	call, output := fetched[ids[0]], fetched[ids[1]]
	if call.Type != llm.ItemFunctionCall || call.Name != "current_time" || call.Arguments != "{}" {
		t.Errorf("call item = %+v", call)
	}
	if output.Type != llm.ItemFunctionCallOutput || output.CallID != call.CallID {
		t.Errorf("output item = %+v", output)
	}

	// The imported chat replays as a complete call/output pair.
	input, err := history.Reconstruct(ctx, id, chain, items.New(store), history.Options{})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	var types []string
	for _, it := range input.Items {
		types = append(types, it.Type)
	}
	raw, _ := json.Marshal(types)
	if !strings.Contains(string(raw), `"function_call","function_call_output"`) {
		t.Errorf("replayed item types = %s", raw)
	}
}

func TestImportTranscriptTitleFallback(t *testing.T) {
	tr := &transcript{Messages: []transcriptMessage{
		{Role: chat.RoleUser, Content: "How do I rotate my keys?\nDetails follow."},
	}}
	store := chat.NewMemoryStore()
	id, err := importTranscript(context.Background(), store, tr)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "How do I rotate my keys?" {
		t.Errorf("title = %q", doc.Title)
	}
}

func TestWriteChatWithItems(t *testing.T) {
	ctx := context.Background()
	store := chat.NewMemoryStore()
	tr, err := parseTranscript([]byte(sampleTranscript))
	if err != nil {
		t.Fatal(err)
	}
	id, err := importTranscript(ctx, store, tr)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	writeChat(&buf, ui.NewStyles(&buf, nil), doc, true)
	out := buf.String()
	for _, want := range []string{
		"Release prep",
		"assistant (gpt-5-mini):",
		"It is 09:00 UTC.",
		"[item]",
		"function_call current_time call_",
		"function_call_output call_",
		"And this image?",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "resp:v1") {
		t.Errorf("output shows raw markers:\n%s", out)
	}

	buf.Reset()
	writeChat(&buf, ui.NewStyles(&buf, nil), doc, false)
	if strings.Contains(buf.String(), "[item]") {
		t.Error("items listed without --items")
	}
}

func TestWriteChatList(t *testing.T) {
	var buf bytes.Buffer
	writeChatList(&buf, nil)
	if !strings.Contains(buf.String(), "No chats found.") {
		t.Errorf("empty list = %q", buf.String())
	}

	buf.Reset()
	writeChatList(&buf, []chat.Summary{
		{ID: "c1", Title: "First", MessageCount: 3, UpdatedAt: time.Now()},
		{ID: "c2", MessageCount: 1, UpdatedAt: time.Now().Add(-3 * time.Hour)},
	})
	out := buf.String()
	for _, want := range []string{"ID", "TITLE", "First", "(untitled)", "just now", "3h ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("list missing %q:\n%s", want, out)
		}
	}
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		t    time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-2 * time.Hour), "2h ago"},
		{now.Add(-3 * 24 * time.Hour), "3d ago"},
	}
	for _, tt := range tests {
		if got := formatRelativeTime(tt.t); got != tt.want {
			t.Errorf("formatRelativeTime(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
	old := now.Add(-30 * 24 * time.Hour)
	if got := formatRelativeTime(old); got != old.Format("Jan 2") {
		t.Errorf("old time = %q", got)
	}
}

func TestPrepareChat(t *testing.T) {
	ctx := context.Background()
	store := chat.NewMemoryStore()

	id, err := prepareChat(ctx, store, "", "First question")
	if err != nil {
		t.Fatalf("prepareChat new: %v", err)
	}
	if _, err := prepareChat(ctx, store, id, "Follow up"); err != nil {
		t.Fatalf("prepareChat existing: %v", err)
	}
	chain, err := store.GetChain(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 || chain[0].Content != "First question" || chain[1].Content != "Follow up" {
		t.Errorf("chain = %+v", chain)
	}

	if _, err := prepareChat(ctx, store, "missing", "x"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing chat err = %v", err)
	}
}

func TestJoinInput(t *testing.T) {
	if got := joinInput("summarize", "  "); got != "summarize" {
		t.Errorf("blank stdin = %q", got)
	}
	if got := joinInput("summarize", "line one\n"); got != "summarize\n\nline one" {
		t.Errorf("joined = %q", got)
	}
}
