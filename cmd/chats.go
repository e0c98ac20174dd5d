package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/warshanks/responses-bridge/internal/chat"
	"github.com/warshanks/responses-bridge/internal/items"
	"github.com/warshanks/responses-bridge/internal/llm"
	"github.com/warshanks/responses-bridge/internal/ui"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage stored chats",
	Long: `List, show, import, and delete stored chats.

Examples:
  responses-bridge chats                   # List recent chats
  responses-bridge chats show <id>
  responses-bridge chats show <id> --items # include hidden protocol items
  responses-bridge chats import chat.yaml
  responses-bridge chats delete <id>`,
	RunE: runChatsList, // Default to list
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats",
	RunE:  runChatsList,
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsShow,
}

var chatsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create a chat from a YAML transcript",
	Long: `Create a chat from a YAML transcript. Assistant messages may list the tool
calls they made; each call and its output is stored as hidden items so the
next reply replays them.

Example file:
  title: Release prep
  model: gpt-5-mini
  messages:
    - role: user
      content: What time is it?
    - role: assistant
      tool_calls:
        - name: current_time
          arguments: {}
          output: Monday, 2026-10-12T09:00:00Z (UTC)
      content: It is 09:00 UTC.`,
	Args: cobra.ExactArgs(1),
	RunE: runChatsImport,
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsDelete,
}

// Flags
var (
	chatsLimit int
	chatsJSON  bool
	chatsItems bool
)

func init() {
	chatsListCmd.Flags().IntVar(&chatsLimit, "limit", 20, "Maximum number of chats to list")
	AddJSONFlag(chatsShowCmd, &chatsJSON)
	chatsShowCmd.Flags().BoolVar(&chatsItems, "items", false, "List the stored protocol items of each message")

	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsShowCmd)
	chatsCmd.AddCommand(chatsImportCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	rootCmd.AddCommand(chatsCmd)
}

func getChatStore() (chat.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Enabled {
		return nil, fmt.Errorf("chat storage is disabled in config")
	}
	return openStore(cfg, slog.Default())
}

func runChatsList(cmd *cobra.Command, args []string) error {
	store, err := getChatStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), chat.ListOptions{Limit: chatsLimit})
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}
	writeChatList(os.Stdout, summaries)
	return nil
}

func writeChatList(w io.Writer, summaries []chat.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No chats found.")
		return
	}
	fmt.Fprintf(w, "%-36s %-40s %4s %s\n", "ID", "TITLE", "MSGS", "UPDATED")
	fmt.Fprintln(w, strings.Repeat("-", 92))
	for _, s := range summaries {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%-36s %-40s %4d %s\n",
			s.ID, ui.Truncate(title, 40), s.MessageCount, formatRelativeTime(s.UpdatedAt))
	}
}

func runChatsShow(cmd *cobra.Command, args []string) error {
	store, err := getChatStore()
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return fmt.Errorf("chat %q not found", args[0])
		}
		return fmt.Errorf("failed to load chat: %w", err)
	}

	if chatsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	writeChat(os.Stdout, ui.NewStyles(os.Stdout, nil), doc, chatsItems)
	return nil
}

func writeChat(w io.Writer, styles *ui.Styles, doc *chat.Document, showItems bool) {
	title := doc.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintln(w, styles.Title.Render(title))
	fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf("%s · created %s", doc.ID, doc.CreatedAt.Format(time.RFC3339))))

	for _, node := range doc.Chain() {
		header := string(node.Role)
		if node.Model != "" {
			header += " (" + node.Model + ")"
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, styles.TableHeader.Render(header+":"))
		text := node.Text()
		if node.Role == chat.RoleAssistant {
			text = visibleText(text)
		}
		if text != "" {
			fmt.Fprintln(w, text)
		}
		if !showItems {
			continue
		}
		for _, id := range items.ForMessage(doc, node.ID) {
			fmt.Fprintln(w, styles.Muted.Render("  [item] "+id+" "+describeItem(doc.Items[id])))
		}
	}
}

// describeItem summarises a stored item: its type and, for calls, the tool.
func describeItem(rec chat.PersistedItem) string {
	var item llm.Item
	if err := json.Unmarshal(rec.Payload, &item); err != nil {
		return "(unreadable)"
	}
	desc := item.Type
	if item.Name != "" {
		desc += " " + item.Name
	}
	if item.CallID != "" {
		desc += " " + item.CallID
	}
	return desc
}

func runChatsDelete(cmd *cobra.Command, args []string) error {
	store, err := getChatStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return fmt.Errorf("chat %q not found", args[0])
		}
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	fmt.Printf("Deleted chat %s\n", args[0])
	return nil
}

// transcript is the YAML import format.
type transcript struct {
	Title    string              `yaml:"title"`
	Model    string              `yaml:"model"`
	Messages []transcriptMessage `yaml:"messages"`
}

type transcriptMessage struct {
	Role      chat.Role           `yaml:"role"`
	Content   string              `yaml:"content"`
	Blocks    []chat.ContentBlock `yaml:"blocks"`
	Files     []chat.File         `yaml:"files"`
	Model     string              `yaml:"model"`
	ToolCalls []transcriptCall    `yaml:"tool_calls"`
}

type transcriptCall struct {
	Name      string         `yaml:"name"`
	Arguments map[string]any `yaml:"arguments"`
	Output    string         `yaml:"output"`
}

func parseTranscript(data []byte) (*transcript, error) {
	var t transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("invalid transcript: %w", err)
	}
	if len(t.Messages) == 0 {
		return nil, errors.New("transcript has no messages")
	}
	for i, m := range t.Messages {
		switch m.Role {
		case chat.RoleSystem, chat.RoleUser, chat.RoleAssistant:
		default:
			return nil, fmt.Errorf("message %d: unknown role %q", i+1, m.Role)
		}
		if len(m.ToolCalls) > 0 && m.Role != chat.RoleAssistant {
			return nil, fmt.Errorf("message %d: only assistant messages can have tool_calls", i+1)
		}
		for j, c := range m.ToolCalls {
			if c.Name == "" {
				return nil, fmt.Errorf("message %d: tool call %d has no name", i+1, j+1)
			}
		}
	}
	return &t, nil
}

// toolItems converts transcript calls into call and output item pairs.
func (m transcriptMessage) toolItems() ([]llm.Item, error) {
	var out []llm.Item
	for _, c := range m.ToolCalls {
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("tool call %s: %w", c.Name, err)
		}
		callID := "call_" + strings.ReplaceAll(chat.NewID(), "-", "")[:24]
		out = append(out,
			llm.Item{Type: llm.ItemFunctionCall, CallID: callID, Name: c.Name, Arguments: string(encoded), Status: "completed"},
			llm.Item{Type: llm.ItemFunctionCallOutput, CallID: callID, Output: c.Output},
		)
	}
	return out, nil
}

// importTranscript stores t as a new chat and returns its id.
func importTranscript(ctx context.Context, store chat.Store, t *transcript) (string, error) {
	title := t.Title
	if title == "" {
		for _, m := range t.Messages {
			if m.Role == chat.RoleUser {
				title = chat.TruncateTitle(m.Content)
				break
			}
		}
	}
	doc := chat.NewDocument(title)
	if err := store.Create(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to create chat: %w", err)
	}

	itemStore := items.New(store)
	for i, m := range t.Messages {
		node := &chat.Node{
			ID:      chat.NewID(),
			Role:    m.Role,
			Content: m.Content,
			Blocks:  m.Blocks,
			Files:   m.Files,
			Model:   m.Model,
			Done:    true,
		}
		if node.Role == chat.RoleAssistant && node.Model == "" {
			node.Model = t.Model
		}
		if len(m.ToolCalls) > 0 {
			toolItems, err := m.toolItems()
			if err != nil {
				return "", fmt.Errorf("message %d: %w", i+1, err)
			}
			markers, err := itemStore.Persist(ctx, doc.ID, node.ID, node.Model, toolItems)
			if err != nil {
				return "", fmt.Errorf("message %d: %w", i+1, err)
			}
			node.Content = markers + node.Content
		}
		if err := store.AppendMessage(ctx, doc.ID, node); err != nil {
			return "", fmt.Errorf("message %d: %w", i+1, err)
		}
	}
	return doc.ID, nil
}

func runChatsImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}
	t, err := parseTranscript(data)
	if err != nil {
		return err
	}

	store, err := getChatStore()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := importTranscript(cmd.Context(), store, t)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d messages into chat %s\n", len(t.Messages), id)
	return nil
}

func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
