// Package tools provides the local tools a run may call: script-backed
// tools declared in config and a few built-ins.
package tools

import "fmt"

// ToolErrorType classifies tool failures so the model can react to them.
type ToolErrorType string

const (
	ErrFileNotFound    ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams   ToolErrorType = "INVALID_PARAMS"
	ErrExecutionFailed ToolErrorType = "EXECUTION_FAILED"
	ErrTimeout         ToolErrorType = "TIMEOUT"
	ErrSymlinkEscape   ToolErrorType = "SYMLINK_ESCAPE"
)

// ToolError is returned by tool executions; the executor reports it to
// the model as the call's output.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...any) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Built-in tool names.
const (
	CurrentTimeToolName = "current_time"
)

var builtinNames = map[string]bool{
	CurrentTimeToolName: true,
}

// IsBuiltin reports whether name is reserved by a built-in tool.
func IsBuiltin(name string) bool {
	return builtinNames[name]
}
