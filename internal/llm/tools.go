package llm

import (
	"context"
	"encoding/json"
	"sort"
)

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
	Strict      bool
}

// Tool describes a callable external tool.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (string, error)
	// Preview returns a short human-readable description of the call,
	// shown in the status block while it runs. Empty when unavailable.
	Preview(args json.RawMessage) string
}

// FunctionTool is the Responses wire format of a function tool definition.
type FunctionTool struct {
	Type        string         `json:"type"` // "function"
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict,omitempty"`
}

// ToolRegistry maps names to tools. It is built once and never mutated,
// so one registry can be shared by concurrent runs.
type ToolRegistry struct {
	tools map[string]Tool
	names []string
}

// NewToolRegistry builds a registry; a later tool with a duplicate name
// replaces the earlier one.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		name := tool.Spec().Name
		if _, exists := r.tools[name]; !exists {
			r.names = append(r.names, name)
		}
		r.tools[name] = tool
	}
	sort.Strings(r.names)
	return r
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	tool, ok := r.tools[name]
	return tool, ok
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// Names returns the sorted tool names.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

// Filter returns a new registry holding only the tools keep accepts.
func (r *ToolRegistry) Filter(keep func(name string) bool) *ToolRegistry {
	var kept []Tool
	for _, name := range r.Names() {
		if keep(name) {
			kept = append(kept, r.tools[name])
		}
	}
	return NewToolRegistry(kept...)
}

// Definitions returns the wire definitions of all tools in name order.
func (r *ToolRegistry) Definitions() []any {
	if r.Len() == 0 {
		return nil
	}
	defs := make([]any, 0, len(r.names))
	for _, name := range r.names {
		spec := r.tools[name].Spec()
		schema := spec.Schema
		if schema == nil {
			schema = map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			}
		}
		defs = append(defs, FunctionTool{
			Type:        "function",
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schema,
			Strict:      spec.Strict,
		})
	}
	return defs
}

// FuncTool adapts a function to the Tool interface.
type FuncTool struct {
	ToolSpec
	Fn        func(ctx context.Context, args json.RawMessage) (string, error)
	PreviewFn func(args json.RawMessage) string
}

func (t *FuncTool) Spec() ToolSpec { return t.ToolSpec }

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.Fn(ctx, args)
}

func (t *FuncTool) Preview(args json.RawMessage) string {
	if t.PreviewFn == nil {
		return ""
	}
	return t.PreviewFn(args)
}
