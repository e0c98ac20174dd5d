package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/items"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/marker"
	"github.com/warshanks/responses-bridge/internal/status"
)

type fixture struct {
	chats  chat.Store
	items  *items.Store
	chatID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chats := chat.NewMemoryStore()
	doc := chat.NewDocument("")
	if err := chats.Create(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	return &fixture{chats: chats, items: items.New(chats), chatID: doc.ID}
}

func (f *fixture) persist(t *testing.T, model string, its ...llm.Item) string {
	t.Helper()
	text, err := f.items.Persist(context.Background(), f.chatID, "m", model, its)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	return text
}

func itemTypes(its []llm.Item) []string {
	var types []string
	for _, it := range its {
		types = append(types, it.Type)
	}
	return types
}

func TestReconstructInsertsItemsAtMarkerPositions(t *testing.T) {
	f := newFixture(t)
	reasoning := f.persist(t, "gpt-test", llm.Item{Type: llm.ItemReasoning, ID: "rs_1", EncryptedContent: "enc"})
	calls := f.persist(t, "gpt-test",
		llm.Item{Type: llm.ItemFunctionCall, CallID: "c1", Name: "calc", Arguments: `{"x":2}`},
		llm.Item{Type: llm.ItemFunctionCallOutput, CallID: "c1", Output: "4"},
	)
	search := f.persist(t, "gpt-test", llm.Item{Type: llm.ItemWebSearchCall, ID: "ws_1", Status: "completed"})

	content := reasoning + "Let me compute." + calls + "It is 4." + search + "Source checked."
	chain := []chat.Node{
		{ID: "s", Role: chat.RoleSystem, Content: "Be brief."},
		{ID: "u", Role: chat.RoleUser, Content: "2+2?"},
		{ID: "a", Role: chat.RoleAssistant, Content: content},
		{ID: "u2", Role: chat.RoleUser, Content: "thanks"},
	}

	input, err := Reconstruct(context.Background(), f.chatID, chain, f.items, Options{ModelID: "gpt-test", StrictModel: true})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if input.Instructions != "Be brief." {
		t.Errorf("instructions = %q", input.Instructions)
	}

	want := []string{
		llm.ItemMessage,            // user
		llm.ItemReasoning,          // marker 1
		llm.ItemMessage,            // "Let me compute."
		llm.ItemFunctionCall,       // marker 2
		llm.ItemFunctionCallOutput, // marker 3
		llm.ItemMessage,            // "It is 4."
		llm.ItemWebSearchCall,      // marker 4
		llm.ItemMessage,            // "Source checked."
		llm.ItemMessage,            // user
	}
	got := itemTypes(input.Items)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("item types = %v\nwant %v", got, want)
	}

	markers := len(marker.Find(content))
	var structured int
	for _, it := range input.Items {
		if it.Type != llm.ItemMessage {
			structured++
		}
	}
	if structured != markers {
		t.Errorf("inserted %d structured items for %d markers", structured, markers)
	}
	if input.Items[1].EncryptedContent != "enc" {
		t.Errorf("reasoning item lost its payload: %#v", input.Items[1])
	}
	if input.Items[4].Output != "4" {
		t.Errorf("output item = %#v", input.Items[4])
	}
	if text := input.Items[2].OutputText(); text != "Let me compute." {
		t.Errorf("literal segment = %q", text)
	}
}

func TestReconstructSkipsUnresolvedMarkers(t *testing.T) {
	f := newFixture(t)
	other := f.persist(t, "other-model", llm.Item{Type: llm.ItemReasoning, EncryptedContent: "enc"})
	missing := marker.Embed(marker.New(llm.ItemReasoning, "0000000000000000000000zzzz", nil))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	chain := []chat.Node{
		{ID: "u", Role: chat.RoleUser, Content: "hi"},
		{ID: "a", Role: chat.RoleAssistant, Content: other + "Hello" + missing},
	}
	input, err := Reconstruct(context.Background(), f.chatID, chain, f.items, Options{ModelID: "gpt-test", StrictModel: true, Logger: logger})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if got := itemTypes(input.Items); strings.Join(got, ",") != "message,message" {
		t.Errorf("item types = %v", got)
	}
	if got := strings.Count(logs.String(), "skipping unresolved marker"); got != 2 {
		t.Errorf("logged %d skips, want 2:\n%s", got, logs.String())
	}

	// Without the model restriction the foreign item is replayed.
	input, err = Reconstruct(context.Background(), f.chatID, chain, f.items, Options{ModelID: "gpt-test"})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if got := itemTypes(input.Items); strings.Join(got, ",") != "message,reasoning,message" {
		t.Errorf("item types = %v", got)
	}
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string, []string, string) (map[string]llm.Item, error) {
	return nil, errors.New("boom")
}

func TestReconstructLookupFailure(t *testing.T) {
	chain := []chat.Node{{ID: "a", Role: chat.RoleAssistant, Content: "x" + marker.Embed(marker.New("reasoning", "abc", nil))}}
	if _, err := Reconstruct(context.Background(), "c", chain, failingFetcher{}, Options{}); err == nil {
		t.Fatal("expected lookup error")
	}
	// Chains without markers never consult the lookup.
	plain := []chat.Node{{ID: "a", Role: chat.RoleAssistant, Content: "x"}}
	if _, err := Reconstruct(context.Background(), "c", plain, failingFetcher{}, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReconstructStripsUIRegions(t *testing.T) {
	r := status.New(nil)
	_ = r.Add("Running calc…")
	_ = r.Finish("")
	content := status.Replace(ThinkOpen+"pondering"+ThinkClose+"Answer.", r.Render())

	chain := []chat.Node{{ID: "a", Role: chat.RoleAssistant, Content: content}}
	input, err := Reconstruct(context.Background(), "c", chain, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(input.Items) != 1 || input.Items[0].OutputText() != "Answer." {
		t.Fatalf("items = %#v", input.Items)
	}
	if got := StripUI("a<think>\nunterminated"); got != "a" {
		t.Errorf("StripUI(unterminated) = %q", got)
	}
}

func TestReconstructUserBlocksAndFiles(t *testing.T) {
	chain := []chat.Node{{
		ID:   "u",
		Role: chat.RoleUser,
		Blocks: []chat.ContentBlock{
			{Type: chat.BlockText, Text: "What is this?"},
			{Type: chat.BlockImage, Data: "aGk=", MimeType: "image/png"},
			{Type: chat.BlockFile, FileID: "file_1"},
		},
		Files: []chat.File{
			{Type: "image", URL: "https://example.com/cat.png"},
			{Type: "file", Name: "notes.txt", Data: "bm90ZXM=", MimeType: "text/plain"},
		},
	}}
	input, err := Reconstruct(context.Background(), "c", chain, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(input.Items) != 1 {
		t.Fatalf("items = %#v", input.Items)
	}
	parts := input.Items[0].Content.([]llm.ContentPart)
	if len(parts) != 5 {
		t.Fatalf("parts = %#v", parts)
	}
	if parts[0].Type != llm.PartInputText || parts[0].Text != "What is this?" {
		t.Errorf("text part = %#v", parts[0])
	}
	if parts[1].Type != llm.PartInputImage || parts[1].ImageURL != "data:image/png;base64,aGk=" {
		t.Errorf("image part = %#v", parts[1])
	}
	if parts[2].Type != llm.PartInputFile || parts[2].FileID != "file_1" {
		t.Errorf("file part = %#v", parts[2])
	}
	if parts[3].ImageURL != "https://example.com/cat.png" {
		t.Errorf("image url part = %#v", parts[3])
	}
	if parts[4].Filename != "notes.txt" || parts[4].FileData != "data:text/plain;base64,bm90ZXM=" {
		t.Errorf("file data part = %#v", parts[4])
	}
}

func TestSanitizeToolPairs(t *testing.T) {
	in := []llm.Item{
		{Type: llm.ItemFunctionCallOutput, CallID: "orphan", Output: "x"},
		{Type: llm.ItemFunctionCall, CallID: "c1", Name: "calc", Arguments: "{}"},
		{Type: llm.ItemFunctionCallOutput, CallID: "c1", Output: "4"},
		{Type: llm.ItemFunctionCall, CallID: "c2", Name: "search", Arguments: `{"q":"go"}`},
	}
	out := SanitizeToolPairs(in)
	if got := itemTypes(out); strings.Join(got, ",") != "function_call,function_call_output,message" {
		t.Fatalf("types = %v", got)
	}
	if text := out[2].OutputText(); !strings.Contains(text, "name=search") {
		t.Errorf("dangling call text = %q", text)
	}
}
