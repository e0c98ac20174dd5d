package llm

import (
	"encoding/json"
	"fmt"
)

// EventKind classifies a decoded Responses stream event.
type EventKind string

const (
	KindCreated         EventKind = "created"
	KindTextDelta       EventKind = "text_delta"
	KindTextDone        EventKind = "text_done"
	KindReasoningDelta  EventKind = "reasoning_delta"
	KindReasoningDone   EventKind = "reasoning_done"
	KindAnnotationAdded EventKind = "annotation_added"
	KindItemAdded       EventKind = "item_added"
	KindItemDone        EventKind = "item_done"
	KindCompleted       EventKind = "completed"
	KindFailed          EventKind = "failed"
	KindOther           EventKind = "other" // vendor events the loop does not react to
)

var wireKinds = map[string]EventKind{
	"response.created":                       KindCreated,
	"response.in_progress":                   KindCreated,
	"response.output_text.delta":             KindTextDelta,
	"response.output_text.done":              KindTextDone,
	"response.refusal.delta":                 KindTextDelta,
	"response.refusal.done":                  KindTextDone,
	"response.reasoning_summary_text.delta":  KindReasoningDelta,
	"response.reasoning_text.delta":          KindReasoningDelta,
	"response.reasoning_summary_text.done":   KindReasoningDone,
	"response.reasoning_text.done":           KindReasoningDone,
	"response.output_text.annotation.added":  KindAnnotationAdded,
	"response.output_item.added":             KindItemAdded,
	"response.output_item.done":              KindItemDone,
	"response.completed":                     KindCompleted,
	"response.incomplete":                    KindCompleted,
	"response.failed":                        KindFailed,
	"error":                                  KindFailed,
}

// KindOf maps a wire event type to its kind.
func KindOf(eventType string) EventKind {
	if kind, ok := wireKinds[eventType]; ok {
		return kind
	}
	return KindOther
}

// ResponseEvent is one decoded stream event. Which payload fields are set
// depends on Kind.
type ResponseEvent struct {
	Kind        EventKind
	Type        string // wire type, e.g. "response.output_text.delta"
	Delta       string
	Text        string
	ItemID      string
	OutputIndex int
	Item        *Item
	Annotation  *Annotation
	Response    *Response
	Error       *ErrorBody
	Raw         json.RawMessage
}

// Err returns the error carried by a failed event.
func (ev ResponseEvent) Err() error {
	if ev.Kind != KindFailed {
		return nil
	}
	body := ev.Error
	if body == nil && ev.Response != nil {
		body = ev.Response.Error
	}
	if body == nil {
		return &APIError{Message: "unknown error"}
	}
	return &APIError{Type: body.Type, Code: body.Code, Message: body.Message}
}

type wireEvent struct {
	Type        string      `json:"type"`
	Delta       string      `json:"delta"`
	Text        string      `json:"text"`
	ItemID      string      `json:"item_id"`
	OutputIndex int         `json:"output_index"`
	Item        *Item       `json:"item"`
	Annotation  *Annotation `json:"annotation"`
	Response    *Response   `json:"response"`
	Error       *ErrorBody  `json:"error"`
	// Top-level fields of "error" events.
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeEvent decodes a record's JSON data. The payload's own type field
// wins over the record's event name; the event name is only used when the
// payload has none.
func DecodeEvent(rec SSERecord) (ResponseEvent, error) {
	var wire wireEvent
	if err := json.Unmarshal([]byte(rec.Data), &wire); err != nil {
		return ResponseEvent{}, &ProtocolError{Event: rec.Event, Data: rec.Data, Err: err}
	}
	eventType := wire.Type
	if eventType == "" {
		eventType = rec.Event
	}
	if eventType == "" {
		return ResponseEvent{}, &ProtocolError{Data: rec.Data, Err: fmt.Errorf("missing event type")}
	}

	ev := ResponseEvent{
		Kind:        KindOf(eventType),
		Type:        eventType,
		Delta:       wire.Delta,
		Text:        wire.Text,
		ItemID:      wire.ItemID,
		OutputIndex: wire.OutputIndex,
		Item:        wire.Item,
		Annotation:  wire.Annotation,
		Response:    wire.Response,
		Error:       wire.Error,
		Raw:         json.RawMessage(rec.Data),
	}
	if ev.Kind == KindFailed && ev.Error == nil && wire.Message != "" {
		ev.Error = &ErrorBody{Code: wire.Code, Message: wire.Message}
	}
	if (ev.Kind == KindItemAdded || ev.Kind == KindItemDone) && ev.Item == nil {
		return ResponseEvent{}, &ProtocolError{Event: eventType, Data: rec.Data, Err: fmt.Errorf("missing item")}
	}
	if ev.Kind == KindAnnotationAdded && ev.Annotation == nil {
		return ResponseEvent{}, &ProtocolError{Event: eventType, Data: rec.Data, Err: fmt.Errorf("missing annotation")}
	}
	return ev, nil
}

// SynthesizeEvents expands a non-streaming response into the event sequence
// a stream would have produced, so one handler serves both modes.
func SynthesizeEvents(resp *Response) []ResponseEvent {
	var events []ResponseEvent
	events = append(events, ResponseEvent{Kind: KindCreated, Type: "response.created", Response: resp})
	for i := range resp.Output {
		item := resp.Output[i]
		events = append(events, ResponseEvent{Kind: KindItemAdded, Type: "response.output_item.added", OutputIndex: i, Item: &item})
		if item.Type == ItemMessage {
			for _, part := range contentParts(item.Content) {
				text := part.Text + part.Refusal
				if text != "" {
					events = append(events, ResponseEvent{Kind: KindTextDone, Type: "response.output_text.done", OutputIndex: i, ItemID: item.ID, Text: text})
				}
				for j := range part.Annotations {
					ann := part.Annotations[j]
					events = append(events, ResponseEvent{Kind: KindAnnotationAdded, Type: "response.output_text.annotation.added", OutputIndex: i, ItemID: item.ID, Annotation: &ann})
				}
			}
		}
		if item.Type == ItemReasoning {
			if summary := item.SummaryText(); summary != "" {
				events = append(events, ResponseEvent{Kind: KindReasoningDone, Type: "response.reasoning_summary_text.done", OutputIndex: i, ItemID: item.ID, Text: summary})
			}
		}
		events = append(events, ResponseEvent{Kind: KindItemDone, Type: "response.output_item.done", OutputIndex: i, Item: &item})
	}
	if resp.Status == "failed" || resp.Error != nil {
		events = append(events, ResponseEvent{Kind: KindFailed, Type: "response.failed", Response: resp, Error: resp.Error})
		return events
	}
	events = append(events, ResponseEvent{Kind: KindCompleted, Type: "response.completed", Response: resp})
	return events
}

// contentParts normalises message content (string, []ContentPart or the
// []any produced by json decoding) to typed parts.
func contentParts(content any) []ContentPart {
	switch c := content.(type) {
	case string:
		return []ContentPart{{Type: PartOutputText, Text: c}}
	case []ContentPart:
		return c
	case nil:
		return nil
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return nil
		}
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return nil
		}
		return parts
	}
}
