package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestItemMarshalKeepsRequiredFields(t *testing.T) {
	data, err := json.Marshal(Item{Type: ItemFunctionCallOutput, CallID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"output":""`) {
		t.Errorf("function_call_output = %s, want empty output kept", data)
	}

	data, err = json.Marshal(Item{Type: ItemReasoning, ID: "rs", EncryptedContent: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"summary":[]`) {
		t.Errorf("reasoning = %s, want empty summary kept", data)
	}

	data, err = json.Marshal(Item{Type: ItemMessage, Role: "user", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "output") || strings.Contains(string(data), "summary") {
		t.Errorf("message = %s", data)
	}
}

func TestItemOutputText(t *testing.T) {
	var decoded Item
	if err := json.Unmarshal([]byte(`{"type":"message","content":[{"type":"output_text","text":"a"},{"type":"refusal","refusal":"b"}]}`), &decoded); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		item Item
		want string
	}{
		{"string", Item{Type: ItemMessage, Content: "plain"}, "plain"},
		{"parts", Item{Type: ItemMessage, Content: []ContentPart{{Type: PartOutputText, Text: "x"}, {Type: PartInputText, Text: "skip"}}}, "x"},
		{"decoded", decoded, "ab"},
		{"none", Item{Type: ItemMessage}, ""},
	}
	for _, tt := range tests {
		if got := tt.item.OutputText(); got != tt.want {
			t.Errorf("%s: OutputText() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestItemSummaryText(t *testing.T) {
	item := Item{Type: ItemReasoning, Summary: []SummaryPart{
		{Type: "summary_text", Text: "one"},
		{Type: "other", Text: "skip"},
		{Type: "summary_text", Text: "two"},
	}}
	if got := item.SummaryText(); got != "one\n\ntwo" {
		t.Errorf("SummaryText() = %q", got)
	}
}

func TestToolCallFromItemDefaultsArguments(t *testing.T) {
	call := ToolCallFromItem(Item{Type: ItemFunctionCall, Name: "n", CallID: "c", Arguments: "  "})
	if string(call.Arguments) != "{}" {
		t.Errorf("arguments = %q", call.Arguments)
	}
}

func TestIsVisible(t *testing.T) {
	if !(Item{Type: ItemMessage}).IsVisible() {
		t.Error("message should be visible")
	}
	for _, typ := range []string{ItemReasoning, ItemFunctionCall, ItemFunctionCallOutput, ItemWebSearchCall} {
		if (Item{Type: typ}).IsVisible() {
			t.Errorf("%s should not be visible", typ)
		}
	}
}
