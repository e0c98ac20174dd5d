package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger writes upstream requests and raw stream events to a JSONL
// file, one file per chat.
type DebugLogger struct {
	chatID    string
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closeOnce sync.Once
	closed    bool
	now       func() time.Time
}

type debugEntry struct {
	Timestamp  string          `json:"timestamp"`
	ChatID     string          `json:"chat_id"`
	Type       string          `json:"type"` // "request", "event", "response", "delete", "error"
	Request    *Request        `json:"request,omitempty"`
	EventType  string          `json:"event_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Response   *Response       `json:"response,omitempty"`
	ResponseID string          `json:"response_id,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NewDebugLogger opens baseDir/<chatID>.jsonl for appending. Log files
// older than seven days are removed.
func NewDebugLogger(baseDir, chatID string) (*DebugLogger, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	_ = CleanupOldLogs(baseDir, 7*24*time.Hour)

	filename := filepath.Join(baseDir, chatID+".jsonl")
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &DebugLogger{
		chatID: chatID,
		file:   file,
		writer: bufio.NewWriter(file),
		now:    time.Now,
	}, nil
}

// LogRequest logs a request body.
func (l *DebugLogger) LogRequest(req Request) {
	if l == nil {
		return
	}
	l.writeEntry(debugEntry{Type: "request", Request: &req})
	l.Flush()
}

// LogEvent logs one stream event as received.
func (l *DebugLogger) LogEvent(ev ResponseEvent) {
	if l == nil {
		return
	}
	l.writeEntry(debugEntry{Type: "event", EventType: ev.Type, Data: ev.Raw})
	switch ev.Kind {
	case KindCompleted, KindFailed:
		l.Flush()
	}
}

// LogResponse logs a non-streaming response.
func (l *DebugLogger) LogResponse(resp *Response) {
	if l == nil || resp == nil {
		return
	}
	l.writeEntry(debugEntry{Type: "response", Response: resp})
	l.Flush()
}

// LogDelete logs the release of a stored response.
func (l *DebugLogger) LogDelete(responseID string, err error) {
	if l == nil {
		return
	}
	entry := debugEntry{Type: "delete", ResponseID: responseID}
	if err != nil {
		entry.Error = err.Error()
	}
	l.writeEntry(entry)
}

// LogError logs a failed call.
func (l *DebugLogger) LogError(err error) {
	if l == nil || err == nil {
		return
	}
	l.writeEntry(debugEntry{Type: "error", Error: err.Error()})
	l.Flush()
}

// Close flushes and closes the log file. It is idempotent.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := l.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		l.closed = true
	})
	return closeErr
}

// writeEntry writes one JSON line without flushing.
func (l *DebugLogger) writeEntry(entry debugEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	entry.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	entry.ChatID = l.chatID
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.WriteString("\n")
}

// Flush flushes the buffered writer to disk.
func (l *DebugLogger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.writer.Flush()
	}
}

// Wrap returns a client that logs all traffic of c.
func (l *DebugLogger) Wrap(c *Client) *DebugClient {
	return &DebugClient{inner: c, log: l}
}

// DebugClient is a Client whose requests, events and responses are logged.
type DebugClient struct {
	inner *Client
	log   *DebugLogger
}

func (d *DebugClient) Stream(ctx context.Context, req Request) (Stream, error) {
	d.log.LogRequest(req)
	s, err := d.inner.Stream(ctx, req)
	if err != nil {
		d.log.LogError(err)
		return nil, err
	}
	return &debugStream{Stream: s, log: d.log}, nil
}

func (d *DebugClient) Create(ctx context.Context, req Request) (*Response, error) {
	d.log.LogRequest(req)
	resp, err := d.inner.Create(ctx, req)
	if err != nil {
		d.log.LogError(err)
		return nil, err
	}
	d.log.LogResponse(resp)
	return resp, nil
}

func (d *DebugClient) Delete(ctx context.Context, responseID string) error {
	err := d.inner.Delete(ctx, responseID)
	d.log.LogDelete(responseID, err)
	return err
}

type debugStream struct {
	Stream
	log *DebugLogger
}

func (s *debugStream) Recv() (ResponseEvent, error) {
	ev, err := s.Stream.Recv()
	switch {
	case err == nil:
		s.log.LogEvent(ev)
	case !errors.Is(err, io.EOF):
		s.log.LogError(err)
	}
	return ev, err
}

func (s *debugStream) Close() error {
	s.log.Flush()
	return s.Stream.Close()
}

// CleanupOldLogs removes JSONL log files older than maxAge from baseDir.
func CleanupOldLogs(baseDir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(baseDir, entry.Name()))
		}
	}
	return nil
}
