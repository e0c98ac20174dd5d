// Package emit delivers UI events produced by a response run to the host
// in production order.
package emit

import (
	"context"
	"sync"

	"github.com/warshanks/responses-bridge/internal/usage"
)

// Kind identifies an event type.
type Kind string

const (
	KindStatus     Kind = "status"
	KindCitation   Kind = "citation"
	KindMessage    Kind = "message"    // full content replace
	KindCompletion Kind = "completion" // usage + done
)

// Citation is a source reference shown beside the message.
type Citation struct {
	Ordinal  int    `json:"ordinal,omitempty"`
	Source   string `json:"source"` // display name; "error" for diagnostics
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	Document string `json:"document,omitempty"`
}

// Event is one UI event. Which fields are set depends on Kind.
type Event struct {
	Kind        Kind         `json:"type"`
	Description string       `json:"description,omitempty"` // status
	Content     string       `json:"content,omitempty"`     // message
	Citation    *Citation    `json:"citation,omitempty"`
	Usage       usage.Totals `json:"usage,omitempty"` // completion
	Done        bool         `json:"done,omitempty"`  // status, completion
}

// Status returns a status event.
func Status(description string, done bool) Event {
	return Event{Kind: KindStatus, Description: description, Done: done}
}

// Message returns a message event carrying the full current content.
func Message(content string) Event {
	return Event{Kind: KindMessage, Content: content}
}

// Cite returns a citation event.
func Cite(c Citation) Event {
	return Event{Kind: KindCitation, Citation: &c}
}

// Completion returns the terminal completion event.
func Completion(totals usage.Totals, done bool) Event {
	return Event{Kind: KindCompletion, Usage: totals, Done: done}
}

// Sink receives events.
type Sink interface {
	Emit(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Emit(ev Event) error { return f(ev) }

// Emitter is what a run writes events to.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Direct delivers events synchronously to a sink.
type Direct struct{ Sink Sink }

func (d Direct) Emit(ctx context.Context, ev Event) error {
	return d.Sink.Emit(ev)
}

// Discard drops every event.
var Discard Emitter = Direct{Sink: SinkFunc(func(Event) error { return nil })}

// Recorder is a Sink that keeps every event; used by tests and by hosts
// that render after the run.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of one kind.
func (r *Recorder) OfKind(kind Kind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// LastMessage returns the content of the most recent message event.
func (r *Recorder) LastMessage() string {
	msgs := r.OfKind(KindMessage)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}
