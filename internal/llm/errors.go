package llm

import (
	"errors"
	"fmt"
)

// APIError is returned for non-2xx upstream responses and for failed
// response events reported by the model server.
type APIError struct {
	StatusCode int // 0 when reported in-stream
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("responses API error (status %d): %s", e.StatusCode, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("responses API error (%s): %s", e.Code, e.Message)
	}
	return "responses API error: " + e.Message
}

// TransportError wraps connection, timeout and read failures. The
// current turn is aborted; nothing retries automatically.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("responses transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed event payload. It is fatal to the call.
type ProtocolError struct {
	Event string
	Data  string
	Err   error
}

func (e *ProtocolError) Error() string {
	data := e.Data
	if len(data) > 200 {
		data = data[:197] + "..."
	}
	if e.Event != "" {
		return fmt.Sprintf("malformed %s event %q: %v", e.Event, data, e.Err)
	}
	return fmt.Sprintf("malformed event %q: %v", data, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransport reports whether err originated in the transport layer.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
