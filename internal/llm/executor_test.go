package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func sleepTool(name string, delay time.Duration, output string) *FuncTool {
	return &FuncTool{
		ToolSpec: ToolSpec{Name: name},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			select {
			case <-time.After(delay):
				return output, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
}

func TestExecuteToolCallsPreservesOrder(t *testing.T) {
	registry := NewToolRegistry(
		sleepTool("slow", 40*time.Millisecond, "slow done"),
		sleepTool("fast", time.Millisecond, "fast done"),
	)
	calls := []ToolCall{
		{Name: "slow", CallID: "a", Arguments: json.RawMessage(`{}`)},
		{Name: "fast", CallID: "b", Arguments: json.RawMessage(`{}`)},
	}
	outputs := ExecuteToolCalls(context.Background(), registry, calls, ExecOptions{})
	if len(outputs) != 2 {
		t.Fatalf("outputs = %d", len(outputs))
	}
	if outputs[0].CallID != "a" || outputs[0].Output != "slow done" {
		t.Errorf("outputs[0] = %+v", outputs[0])
	}
	if outputs[1].CallID != "b" || outputs[1].Output != "fast done" {
		t.Errorf("outputs[1] = %+v", outputs[1])
	}
	for _, out := range outputs {
		if out.Type != ItemFunctionCallOutput {
			t.Errorf("type = %q", out.Type)
		}
	}
}

func TestExecuteToolCallsRunsConcurrently(t *testing.T) {
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})
	tool := &FuncTool{
		ToolSpec: ToolSpec{Name: "wait"},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			started.Done()
			<-release
			return "ok", nil
		},
	}
	calls := make([]ToolCall, n)
	for i := range calls {
		calls[i] = ToolCall{Name: "wait", CallID: fmt.Sprint(i)}
	}

	done := make(chan []Item)
	go func() { done <- ExecuteToolCalls(context.Background(), NewToolRegistry(tool), calls, ExecOptions{}) }()

	waited := make(chan struct{})
	go func() { started.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("calls did not start concurrently")
	}
	close(release)
	if outputs := <-done; len(outputs) != n {
		t.Errorf("outputs = %d", len(outputs))
	}
}

func TestExecuteToolCallsMaxParallel(t *testing.T) {
	var running, peak atomic.Int32
	tool := &FuncTool{
		ToolSpec: ToolSpec{Name: "t"},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return "", nil
		},
	}
	calls := make([]ToolCall, 8)
	for i := range calls {
		calls[i] = ToolCall{Name: "t", CallID: fmt.Sprint(i)}
	}
	ExecuteToolCalls(context.Background(), NewToolRegistry(tool), calls, ExecOptions{MaxParallel: 2})
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestExecuteToolCallsIsolatesFailures(t *testing.T) {
	registry := NewToolRegistry(
		&FuncTool{ToolSpec: ToolSpec{Name: "fails"}, Fn: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("disk full")
		}},
		&FuncTool{ToolSpec: ToolSpec{Name: "panics"}, Fn: func(context.Context, json.RawMessage) (string, error) {
			panic("nil map")
		}},
		&FuncTool{
			ToolSpec:  ToolSpec{Name: "bad_preview"},
			Fn:        func(context.Context, json.RawMessage) (string, error) { return "unreachable", nil },
			PreviewFn: func(json.RawMessage) string { panic("preview boom") },
		},
		&FuncTool{ToolSpec: ToolSpec{Name: "works"}, Fn: func(context.Context, json.RawMessage) (string, error) {
			return "fine", nil
		}},
	)
	calls := []ToolCall{
		{Name: "fails", CallID: "1"},
		{Name: "panics", CallID: "2"},
		{Name: "missing", CallID: "3"},
		{Name: "bad_preview", CallID: "4"},
		{Name: "works", CallID: "5"},
	}
	// OnStart forces Preview to run.
	outputs := ExecuteToolCalls(context.Background(), registry, calls, ExecOptions{
		OnStart: func(ToolCall, string) {},
	})
	want := []string{"Error: disk full", "Error: tool panicked: nil map", "Tool not found: missing", "Error: tool panicked: preview boom", "fine"}
	for i, w := range want {
		if outputs[i].Output != w {
			t.Errorf("outputs[%d] = %q, want %q", i, outputs[i].Output, w)
		}
	}
}

func TestExecuteToolCallsTimeout(t *testing.T) {
	registry := NewToolRegistry(sleepTool("slow", time.Second, "late"))
	outputs := ExecuteToolCalls(context.Background(), registry, []ToolCall{{Name: "slow", CallID: "1"}}, ExecOptions{Timeout: 10 * time.Millisecond})
	if !strings.Contains(outputs[0].Output, "deadline exceeded") {
		t.Errorf("output = %q, want deadline error", outputs[0].Output)
	}
}

func TestExecuteToolCallsCallbacks(t *testing.T) {
	tool := &FuncTool{
		ToolSpec:  ToolSpec{Name: "echo"},
		Fn:        func(ctx context.Context, args json.RawMessage) (string, error) { return string(args), nil },
		PreviewFn: func(args json.RawMessage) string { return "echo " + string(args) },
	}
	var mu sync.Mutex
	var previews, ends []string
	ExecuteToolCalls(context.Background(), NewToolRegistry(tool), []ToolCall{
		{Name: "echo", CallID: "1", Arguments: json.RawMessage(`"x"`)},
	}, ExecOptions{
		OnStart: func(call ToolCall, preview string) {
			mu.Lock()
			defer mu.Unlock()
			previews = append(previews, preview)
		},
		OnEnd: func(call ToolCall, output string, err error) {
			mu.Lock()
			defer mu.Unlock()
			ends = append(ends, output)
		},
	})
	if len(previews) != 1 || previews[0] != `echo "x"` {
		t.Errorf("previews = %v", previews)
	}
	if len(ends) != 1 || ends[0] != `"x"` {
		t.Errorf("ends = %v", ends)
	}
}

func TestExecuteToolCallsEmpty(t *testing.T) {
	if out := ExecuteToolCalls(context.Background(), nil, nil, ExecOptions{}); len(out) != 0 {
		t.Errorf("outputs = %v", out)
	}
}

func TestToolRegistry(t *testing.T) {
	registry := NewToolRegistry(
		&FuncTool{ToolSpec: ToolSpec{Name: "b", Description: "second"}},
		&FuncTool{ToolSpec: ToolSpec{Name: "a", Schema: map[string]any{"type": "object"}}},
		&FuncTool{ToolSpec: ToolSpec{Name: "b", Description: "replaced"}},
	)
	if got := strings.Join(registry.Names(), ","); got != "a,b" {
		t.Errorf("names = %q", got)
	}
	tool, ok := registry.Get("b")
	if !ok || tool.Spec().Description != "replaced" {
		t.Errorf("Get(b) = %v, %v", tool, ok)
	}
	defs := registry.Definitions()
	if len(defs) != 2 {
		t.Fatalf("definitions = %d", len(defs))
	}
	second := defs[1].(FunctionTool)
	if second.Type != "function" || second.Parameters["type"] != "object" {
		t.Errorf("default schema = %+v", second)
	}

	filtered := registry.Filter(func(name string) bool { return name == "a" })
	if filtered.Len() != 1 {
		t.Errorf("filtered = %v", filtered.Names())
	}

	var nilRegistry *ToolRegistry
	if nilRegistry.Len() != 0 || nilRegistry.Definitions() != nil {
		t.Error("nil registry should be empty")
	}
	if _, ok := nilRegistry.Get("a"); ok {
		t.Error("nil registry found a tool")
	}
}
