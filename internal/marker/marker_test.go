package marker

import (
	"reflect"
	"strings"
	"testing"
)

func TestMarkerRoundTrip(t *testing.T) {
	tests := []Marker{
		New("function_call", "01j9z3k8h0v5q6r7s8t9w0x1y2", nil),
		New("reasoning", "01j9z3k8h0v5q6r7s8t9w0x1y3", map[string]string{"model": "gpt-5", "n": "2"}),
		{Version: 2, ItemType: "web_search_call", ID: "abc123"},
	}
	for _, want := range tests {
		t.Run(want.ItemType, func(t *testing.T) {
			got, err := Parse(want.Token())
			if err != nil {
				t.Fatalf("Parse(%q): %v", want.Token(), err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Parse = %#v, want %#v", got, want)
			}
		})
	}
}

func TestMarkerString(t *testing.T) {
	m := New("function_call_output", "abc", map[string]string{"b": "2", "a": "1"})
	if got, want := m.String(), "[resp:v1:function_call_output:abc?a=1&b=2]: #"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
	if got := Embed(m); !strings.HasPrefix(got, "\n\n[") || !strings.HasSuffix(got, ": #\n") {
		t.Errorf("Embed = %q", got)
	}
}

func TestParseRejectsForeignLabels(t *testing.T) {
	for _, token := range []string{"", "resp:v1:function_call:", "other:v1:x:abc", "resp:vx:x:abc", "resp:v1:Bad:abc"} {
		if _, err := Parse(token); err == nil {
			t.Errorf("Parse(%q) succeeded", token)
		}
	}
}

func TestSplitPreservesPositions(t *testing.T) {
	call := New("function_call", "aaa", nil)
	output := New("function_call_output", "bbb", nil)
	text := "Let me check." + Embed(call) + Embed(output) + "The answer is 4."

	segments := Split(text)
	if len(segments) != 4 {
		t.Fatalf("expected 4 segments, got %d: %#v", len(segments), segments)
	}
	if segments[0].Text != "Let me check." || segments[3].Text != "The answer is 4." {
		t.Errorf("unexpected literal segments: %q / %q", segments[0].Text, segments[3].Text)
	}
	if !segments[1].IsMarker() || segments[1].Marker.ID != "aaa" {
		t.Errorf("segment 1 = %#v", segments[1])
	}
	if !segments[2].IsMarker() || segments[2].Marker.ID != "bbb" {
		t.Errorf("segment 2 = %#v", segments[2])
	}
}

func TestSplitIgnoresOrdinaryReferenceDefinitions(t *testing.T) {
	text := "See [docs].\n\n[docs]: https://example.com\n"
	segments := Split(text)
	if len(segments) != 1 || segments[0].Text != text {
		t.Fatalf("Split = %#v", segments)
	}
}

func TestIDsDedupes(t *testing.T) {
	a := New("reasoning", "aaa", nil)
	b := New("function_call", "bbb", nil)
	text := Embed(a) + "x" + Embed(b) + Embed(a)
	if got, want := IDs(text), []string{"aaa", "bbb"}; !reflect.DeepEqual(got, want) {
		t.Errorf("IDs = %v, want %v", got, want)
	}
	if got := len(Find(text)); got != 3 {
		t.Errorf("Find returned %d markers, want 3", got)
	}
}

func TestStrip(t *testing.T) {
	text := "Hello" + Embed(New("reasoning", "aaa", nil)) + " world"
	if got := Strip(text); got != "Hello world" {
		t.Errorf("Strip = %q", got)
	}
	if got := Strip("plain"); got != "plain" {
		t.Errorf("Strip(plain) = %q", got)
	}
}
