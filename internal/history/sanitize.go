package history

import (
	"fmt"
	"strings"

	"github.com/warshanks/responses-bridge/internal/llm"
)

// SanitizeToolPairs enforces call/output pair integrity on replayed input.
// Outputs without a preceding call are dropped. Calls that never received
// an output are turned into assistant text so the model still sees what it
// attempted; the upstream rejects unpaired calls.
func SanitizeToolPairs(items []llm.Item) []llm.Item {
	if len(items) == 0 {
		return items
	}

	pending := map[string]int{} // call_id -> index in out
	matched := map[int]bool{}
	out := make([]llm.Item, 0, len(items))

	for _, item := range items {
		switch item.Type {
		case llm.ItemFunctionCall:
			callID := strings.TrimSpace(item.CallID)
			if callID == "" {
				continue
			}
			pending[callID] = len(out)
			out = append(out, item)
		case llm.ItemFunctionCallOutput:
			callID := strings.TrimSpace(item.CallID)
			idx, ok := pending[callID]
			if !ok {
				continue
			}
			delete(pending, callID)
			matched[idx] = true
			out = append(out, item)
		default:
			out = append(out, item)
		}
	}

	for i, item := range out {
		if item.Type == llm.ItemFunctionCall && !matched[i] {
			text := fmt.Sprintf("[tool call interrupted: id=%s name=%s args=%s]", item.CallID, item.Name, item.Arguments)
			out[i] = assistantText(text)
		}
	}
	return out
}
