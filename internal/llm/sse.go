package llm

import (
	"bytes"
	"strings"
)

// DoneSentinel is the data value that ends a Responses event stream.
const DoneSentinel = "[DONE]"

// SSERecord is a single Server-Sent Event: the optional "event:" name and
// the "data:" payload (multiple data lines joined with newlines).
type SSERecord struct {
	Event string
	Data  string
}

// SSEDecoder turns arbitrarily chunked bytes into SSE records.
//
// Bytes are appended to a growable buffer and scanned for complete lines.
// Comment lines (leading ":") are skipped, "event:" and "data:" fields
// accumulate into a pending record, and a blank line flushes it. A data
// value equal to [DoneSentinel] ends the stream immediately without
// flushing the pending record; later input is ignored.
//
// The decoder holds no state beyond the current stream; a new decoder is
// used for every request.
type SSEDecoder struct {
	buf     []byte
	event   string
	data    []string
	hasData bool
	done    bool
}

// Feed consumes the next chunk and returns the records it completed.
// done is true once the sentinel has been seen.
func (d *SSEDecoder) Feed(chunk []byte) (records []SSERecord, done bool) {
	if d.done {
		return nil, true
	}
	d.buf = append(d.buf, chunk...)

	start := 0
	for {
		idx := bytes.IndexByte(d.buf[start:], '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[start : start+idx])
		start += idx + 1
		line = strings.TrimSuffix(line, "\r")

		if rec, ok := d.processLine(line); ok {
			records = append(records, rec)
		}
		if d.done {
			d.buf = nil
			return records, true
		}
	}

	// Keep only the unterminated tail.
	if start > 0 {
		n := copy(d.buf, d.buf[start:])
		d.buf = d.buf[:n]
	}
	return records, false
}

// Flush is called when the transport closes. It emits a final record that
// was not followed by a blank line, treating a trailing partial line as
// complete.
func (d *SSEDecoder) Flush() (SSERecord, bool) {
	if d.done {
		return SSERecord{}, false
	}
	if len(d.buf) > 0 {
		line := strings.TrimSuffix(string(d.buf), "\r")
		d.buf = nil
		if rec, ok := d.processLine(line); ok {
			return rec, true
		}
		if d.done {
			return SSERecord{}, false
		}
	}
	if !d.hasData {
		return SSERecord{}, false
	}
	rec := SSERecord{Event: d.event, Data: strings.Join(d.data, "\n")}
	d.reset()
	return rec, true
}

// Done reports whether the sentinel has been seen.
func (d *SSEDecoder) Done() bool { return d.done }

func (d *SSEDecoder) processLine(line string) (SSERecord, bool) {
	if line == "" {
		if !d.hasData {
			d.event = ""
			return SSERecord{}, false
		}
		rec := SSERecord{Event: d.event, Data: strings.Join(d.data, "\n")}
		d.reset()
		return rec, true
	}
	if strings.HasPrefix(line, ":") {
		return SSERecord{}, false
	}

	field, value, hasColon := strings.Cut(line, ":")
	if hasColon {
		value = strings.TrimPrefix(value, " ")
	} else {
		value = ""
	}

	switch field {
	case "data":
		if value == DoneSentinel {
			d.done = true
			d.reset()
			return SSERecord{}, false
		}
		d.data = append(d.data, value)
		d.hasData = true
	case "event":
		d.event = value
	}
	// id, retry and unknown fields are ignored.
	return SSERecord{}, false
}

func (d *SSEDecoder) reset() {
	d.event = ""
	d.data = d.data[:0]
	d.hasData = false
}
