package llm

import (
	"reflect"
	"strings"
	"testing"
)

func feedAll(d *SSEDecoder, chunks ...string) ([]SSERecord, bool) {
	var out []SSERecord
	done := false
	for _, chunk := range chunks {
		records, isDone := d.Feed([]byte(chunk))
		out = append(out, records...)
		if isDone {
			done = true
			break
		}
	}
	if !done {
		if rec, ok := d.Flush(); ok {
			out = append(out, rec)
		}
	}
	return out, done
}

func TestSSEDecoderBasic(t *testing.T) {
	input := "event: response.created\ndata: {\"type\":\"response.created\"}\n\nevent: ping\ndata: {}\n\n"
	var d SSEDecoder
	records, done := feedAll(&d, input)
	if done {
		t.Fatal("did not expect sentinel")
	}
	want := []SSERecord{
		{Event: "response.created", Data: `{"type":"response.created"}`},
		{Event: "ping", Data: "{}"},
	}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("records = %#v, want %#v", records, want)
	}
}

func TestSSEDecoderCommentsAndUnknownFields(t *testing.T) {
	input := ": keepalive\nid: 7\nretry: 100\nevent: x\ndata: hello\n: trailing comment\n\n"
	var d SSEDecoder
	records, _ := feedAll(&d, input)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Event != "x" || records[0].Data != "hello" {
		t.Errorf("unexpected record %#v", records[0])
	}
}

func TestSSEDecoderMultipleDataLines(t *testing.T) {
	var d SSEDecoder
	records, _ := feedAll(&d, "data: one\ndata:two\ndata: three\n\n")
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Data != "one\ntwo\nthree" {
		t.Errorf("data = %q", records[0].Data)
	}
}

func TestSSEDecoderCRLF(t *testing.T) {
	var d SSEDecoder
	records, _ := feedAll(&d, "event: a\r\ndata: 1\r\n\r\nevent: b\r\ndata: 2\r\n\r\n")
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Event != "b" || records[1].Data != "2" {
		t.Errorf("unexpected record %#v", records[1])
	}
}

func TestSSEDecoderSentinelStopsWithoutFlushing(t *testing.T) {
	input := "data: {\"a\":1}\n\ndata: {\"b\":2}\ndata: [DONE]\n\ndata: {\"c\":3}\n\n"
	var d SSEDecoder
	records, done := feedAll(&d, input)
	if !done {
		t.Fatal("expected sentinel to end the stream")
	}
	if len(records) != 1 || records[0].Data != `{"a":1}` {
		t.Fatalf("records = %#v", records)
	}
	if more, stillDone := d.Feed([]byte("data: x\n\n")); len(more) != 0 || !stillDone {
		t.Errorf("expected input after sentinel to be ignored, got %#v", more)
	}
}

func TestSSEDecoderFlushesPartialRecordOnClose(t *testing.T) {
	var d SSEDecoder
	records, _ := feedAll(&d, "event: tail\ndata: last")
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Event != "tail" || records[0].Data != "last" {
		t.Errorf("unexpected record %#v", records[0])
	}
}

const multiFrameStream = "event: response.created\n" +
	"data: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_1\"}}\n\n" +
	": comment\n" +
	"event: response.output_text.delta\n" +
	"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hel\"}\n\n" +
	"event: response.output_text.delta\r\n" +
	"data: {\"type\":\"response.output_text.delta\",\"delta\":\"lo ✓\"}\r\n\r\n" +
	"event: response.output_item.done\n" +
	"data: {\"type\":\"response.output_item.done\",\"output_index\":1,\n" +
	"data: \"item\":{\"type\":\"function_call\",\"call_id\":\"c1\",\"name\":\"calc\",\"arguments\":\"{}\"}}\n\n" +
	"event: response.completed\n" +
	"data: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_1\",\"usage\":{\"input_tokens\":3}}}\n\n" +
	"data: [DONE]\n\n"

func TestSSEDecoderChunkBoundariesDoNotMatter(t *testing.T) {
	var whole SSEDecoder
	want, _ := feedAll(&whole, multiFrameStream)
	if len(want) != 5 {
		t.Fatalf("expected 5 records from whole input, got %d", len(want))
	}

	// Every two-way split point, including ones inside multi-byte runes.
	for i := 0; i <= len(multiFrameStream); i++ {
		var d SSEDecoder
		got, done := feedAll(&d, multiFrameStream[:i], multiFrameStream[i:])
		if !done {
			t.Fatalf("split %d: sentinel not seen", i)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split %d: records differ\n got %#v\nwant %#v", i, got, want)
		}
	}

	// Byte-at-a-time.
	var d SSEDecoder
	chunks := strings.Split(multiFrameStream, "")
	got, _ := feedAll(&d, chunks...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("byte-at-a-time records differ")
	}

	// Irregular chunk sizes.
	for _, size := range []int{3, 7, 11, 64} {
		var d SSEDecoder
		var parts []string
		for start := 0; start < len(multiFrameStream); start += size {
			end := min(start+size, len(multiFrameStream))
			parts = append(parts, multiFrameStream[start:end])
		}
		got, _ := feedAll(&d, parts...)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: records differ", size)
		}
	}
}
