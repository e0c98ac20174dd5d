package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ExecOptions tunes ExecuteToolCalls.
type ExecOptions struct {
	MaxParallel int           // 0 = unbounded
	Timeout     time.Duration // per call, 0 = none

	// OnStart and OnEnd are called from the goroutine running the call.
	OnStart func(call ToolCall, preview string)
	OnEnd   func(call ToolCall, output string, err error)
}

// ExecuteToolCalls runs every call concurrently and returns one
// function_call_output item per call, in call order regardless of which
// call finishes first.
//
// Failures are isolated to their own call: an unknown tool, an error or a
// panic becomes that call's output string and never discards the results
// of its siblings. The function returns only after every call has
// finished, so cancelling ctx cancels and collects the batch as a unit.
func ExecuteToolCalls(ctx context.Context, registry *ToolRegistry, calls []ToolCall, opts ExecOptions) []Item {
	outputs := make([]Item, len(calls))
	if len(calls) == 0 {
		return outputs
	}

	var g errgroup.Group
	if opts.MaxParallel > 0 {
		g.SetLimit(opts.MaxParallel)
	}
	for i, call := range calls {
		g.Go(func() error {
			output, err := executeOne(ctx, registry, call, opts)
			if err != nil {
				output = fmt.Sprintf("Error: %v", err)
			}
			if opts.OnEnd != nil {
				opts.OnEnd(call, output, err)
			}
			outputs[i] = Item{
				Type:   ItemFunctionCallOutput,
				CallID: call.CallID,
				Output: output,
			}
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

// ToolNotFoundOutput is the output reported for calls to unregistered tools.
func ToolNotFoundOutput(name string) string {
	return fmt.Sprintf("Tool not found: %s", name)
}

func executeOne(ctx context.Context, registry *ToolRegistry, call ToolCall, opts ExecOptions) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = ""
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	tool, ok := registry.Get(call.Name)
	if !ok {
		if opts.OnStart != nil {
			opts.OnStart(call, "")
		}
		return ToolNotFoundOutput(call.Name), nil
	}
	if opts.OnStart != nil {
		opts.OnStart(call, tool.Preview(call.Arguments))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return tool.Execute(callCtx, call.Arguments)
}
