package llm

import (
	"context"
	"errors"
	"io"
)

// Stream yields response events until io.EOF.
type Stream interface {
	Recv() (ResponseEvent, error)
	Close() error
}

const readChunkSize = 32 * 1024

// EventStream decodes a Responses SSE body into events lazily. It ends
// with io.EOF on the sentinel or when the transport closes; any decode
// error is returned once and ends the stream.
type EventStream struct {
	ctx     context.Context
	body    io.ReadCloser
	decoder SSEDecoder
	pending []ResponseEvent
	chunk   []byte
	eof     bool
	err     error
}

// NewEventStream wraps an SSE body. The context is only consulted to
// report cancellation instead of a bare read error.
func NewEventStream(ctx context.Context, body io.ReadCloser) *EventStream {
	return &EventStream{
		ctx:   ctx,
		body:  body,
		chunk: make([]byte, readChunkSize),
	}
}

// Recv returns the next event.
func (s *EventStream) Recv() (ResponseEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.err != nil {
			return ResponseEvent{}, s.err
		}
		if s.eof {
			return ResponseEvent{}, io.EOF
		}
		s.fill()
	}
}

func (s *EventStream) fill() {
	n, readErr := s.body.Read(s.chunk)
	if n > 0 {
		records, done := s.decoder.Feed(s.chunk[:n])
		if !s.decodeAll(records) {
			return
		}
		if done {
			s.eof = true
			return
		}
	}
	if readErr == nil {
		return
	}
	if errors.Is(readErr, io.EOF) {
		if rec, ok := s.decoder.Flush(); ok {
			s.decodeAll([]SSERecord{rec})
		}
		s.eof = true
		return
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		s.err = s.ctx.Err()
		return
	}
	s.err = &TransportError{Op: "read", Err: readErr}
}

func (s *EventStream) decodeAll(records []SSERecord) bool {
	for _, rec := range records {
		ev, err := DecodeEvent(rec)
		if err != nil {
			s.err = err
			return false
		}
		s.pending = append(s.pending, ev)
	}
	return true
}

// Close releases the underlying body.
func (s *EventStream) Close() error {
	return s.body.Close()
}

// sliceStream replays a fixed event sequence; used for non-streaming
// responses and in tests.
type sliceStream struct {
	events []ResponseEvent
}

// NewSliceStream returns a Stream over the given events.
func NewSliceStream(events []ResponseEvent) Stream {
	return &sliceStream{events: events}
}

func (s *sliceStream) Recv() (ResponseEvent, error) {
	if len(s.events) == 0 {
		return ResponseEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }
