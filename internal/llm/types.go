package llm

import (
	"encoding/json"
	"strings"
)

// Item types used by the Responses protocol.
const (
	ItemMessage             = "message"
	ItemReasoning           = "reasoning"
	ItemFunctionCall        = "function_call"
	ItemFunctionCallOutput  = "function_call_output"
	ItemWebSearchCall       = "web_search_call"
	ItemFileSearchCall      = "file_search_call"
	ItemCodeInterpreterCall = "code_interpreter_call"
	ItemImageGenerationCall = "image_generation_call"
)

// Content part types.
const (
	PartInputText  = "input_text"
	PartInputImage = "input_image"
	PartInputFile  = "input_file"
	PartOutputText = "output_text"
	PartRefusal    = "refusal"
)

// Item is a single input or output item of the Responses protocol.
// Output items are replayed verbatim as input on later turns, so every
// field the model may produce is kept.
type Item struct {
	Type             string          `json:"type"`
	ID               string          `json:"id,omitempty"`
	Role             string          `json:"role,omitempty"`
	Status           string          `json:"status,omitempty"`
	Content          any             `json:"content,omitempty"` // string or []ContentPart
	CallID           string          `json:"call_id,omitempty"`
	Name             string          `json:"name,omitempty"`
	Arguments        string          `json:"arguments,omitempty"`
	Output           string          `json:"output,omitempty"`
	EncryptedContent string          `json:"encrypted_content,omitempty"`
	Summary          []SummaryPart   `json:"summary,omitempty"`
	Action           json.RawMessage `json:"action,omitempty"`
}

// MarshalJSON keeps the fields the protocol requires even when empty:
// function_call_output always carries output, reasoning always carries summary.
func (it Item) MarshalJSON() ([]byte, error) {
	type alias Item
	switch it.Type {
	case ItemFunctionCallOutput:
		return json.Marshal(struct {
			alias
			Output string `json:"output"`
		}{alias(it), it.Output})
	case ItemReasoning:
		summary := it.Summary
		if summary == nil {
			summary = []SummaryPart{}
		}
		return json.Marshal(struct {
			alias
			Summary []SummaryPart `json:"summary"`
		}{alias(it), summary})
	}
	return json.Marshal(alias(it))
}

// IsVisible reports whether the item is rendered to the user as text.
// Everything else has to be persisted out of band to survive the turn.
func (it Item) IsVisible() bool {
	return it.Type == ItemMessage
}

// SummaryText joins the summary_text parts of a reasoning item.
func (it Item) SummaryText() string {
	var b strings.Builder
	for _, part := range it.Summary {
		if part.Type != "summary_text" || part.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// OutputText returns the concatenated output_text parts of a message item.
func (it Item) OutputText() string {
	switch content := it.Content.(type) {
	case string:
		return content
	case []ContentPart:
		var b strings.Builder
		for _, part := range content {
			if part.Type == PartOutputText || part.Type == PartRefusal {
				b.WriteString(part.Text + part.Refusal)
			}
		}
		return b.String()
	case []any:
		var b strings.Builder
		for _, raw := range content {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				b.WriteString(text)
			}
			if refusal, ok := m["refusal"].(string); ok {
				b.WriteString(refusal)
			}
		}
		return b.String()
	}
	return ""
}

// SummaryPart is one part of a reasoning summary.
type SummaryPart struct {
	Type string `json:"type"` // "summary_text"
	Text string `json:"text"`
}

// ContentPart is one block of message content.
type ContentPart struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Refusal     string       `json:"refusal,omitempty"`
	ImageURL    string       `json:"image_url,omitempty"`
	FileID      string       `json:"file_id,omitempty"`
	FileData    string       `json:"file_data,omitempty"`
	Filename    string       `json:"filename,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Annotation is a citation attached to output text.
type Annotation struct {
	Type       string `json:"type"` // "url_citation", "file_citation"
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// ToolCall is a model-requested function invocation collected from a
// function_call item. It is consumed once by the executor.
type ToolCall struct {
	Name      string
	CallID    string
	Arguments json.RawMessage
}

// ToolCallFromItem converts a function_call item to a ToolCall.
func ToolCallFromItem(item Item) ToolCall {
	args := strings.TrimSpace(item.Arguments)
	if args == "" {
		args = "{}"
	}
	return ToolCall{
		Name:      item.Name,
		CallID:    item.CallID,
		Arguments: json.RawMessage(args),
	}
}

// Response is the response object carried by created/completed/failed
// events and returned by non-streaming requests.
type Response struct {
	ID                string         `json:"id"`
	Object            string         `json:"object,omitempty"`
	Status            string         `json:"status,omitempty"`
	Model             string         `json:"model,omitempty"`
	Output            []Item         `json:"output,omitempty"`
	Usage             map[string]any `json:"usage,omitempty"`
	Error             *ErrorBody     `json:"error,omitempty"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details,omitempty"`
}

// ErrorBody is the error object of a failed response or error event.
type ErrorBody struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
