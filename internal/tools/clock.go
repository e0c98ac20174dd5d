package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/warshanks/responses-bridge/internal/llm"
)

// ClockTool reports the current time, optionally in a named zone.
type ClockTool struct {
	now func() time.Time
}

// NewClockTool returns the current_time tool.
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

type clockArgs struct {
	Timezone string `json:"timezone"`
}

func (t *ClockTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        CurrentTimeToolName,
		Description: "Get the current date and time. Optionally pass an IANA timezone such as Europe/Paris.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name (defaults to UTC)",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *ClockTool) Preview(args json.RawMessage) string {
	var a clockArgs
	if json.Unmarshal(args, &a) == nil && a.Timezone != "" {
		return a.Timezone
	}
	return ""
}

func (t *ClockTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a clockArgs
	if len(args) > 0 && strings.TrimSpace(string(args)) != "null" {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", NewToolErrorf(ErrInvalidParams, "invalid arguments: %v", err)
		}
	}
	loc := time.UTC
	if a.Timezone != "" {
		l, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return "", NewToolErrorf(ErrInvalidParams, "unknown timezone %q", a.Timezone)
		}
		loc = l
	}
	now := t.now().In(loc)
	return now.Format("Monday, 2006-01-02T15:04:05Z07:00 (MST)"), nil
}
