// Package marker encodes references to persisted items as invisible
// Markdown link reference definitions and finds them again in text.
//
// A marker occupies its own line after a blank one:
//
//	[resp:v1:function_call:01j9z3k8h0v5q6r7s8t9w0x1y2]: #
//
// CommonMark renderers drop link reference definitions, so markers never
// show up in the rendered conversation while surviving every copy of its
// raw text. A definition cannot interrupt a paragraph, hence the blank line.
package marker

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Version is the encoding version written by New.
const Version = 1

const scheme = "resp"

// Marker references one persisted item.
type Marker struct {
	Version  int
	ItemType string
	ID       string
	Metadata map[string]string
}

// New returns a current-version marker.
func New(itemType, id string, metadata map[string]string) Marker {
	return Marker{Version: Version, ItemType: itemType, ID: id, Metadata: metadata}
}

// Token returns the reference label, e.g. "resp:v1:reasoning:<id>?model=x".
func (m Marker) Token() string {
	token := fmt.Sprintf("%s:v%d:%s:%s", scheme, m.Version, m.ItemType, m.ID)
	if len(m.Metadata) > 0 {
		values := url.Values{}
		for k, v := range m.Metadata {
			values.Set(k, v)
		}
		token += "?" + values.Encode()
	}
	return token
}

// String returns the link reference definition without surrounding newlines.
func (m Marker) String() string {
	return "[" + m.Token() + "]: #"
}

// Embed returns the marker preceded by a blank line and followed by a
// newline, so it parses as a definition whatever text it is appended to.
func Embed(m Marker) string {
	return "\n\n" + m.String() + "\n"
}

var (
	tokenPattern  = regexp.MustCompile(`^resp:v(\d+):([a-z][a-z0-9_]*):([0-9A-Za-z]+)(?:\?([^\]\s]*))?$`)
	markerPattern = regexp.MustCompile(`\n{0,2}\[(resp:v\d+:[a-z][a-z0-9_]*:[0-9A-Za-z]+(?:\?[^\]\s]*)?)\]: #\n?`)
)

// Parse decodes a reference label produced by Token.
func Parse(token string) (Marker, error) {
	match := tokenPattern.FindStringSubmatch(token)
	if match == nil {
		return Marker{}, fmt.Errorf("invalid marker %q", token)
	}
	version, err := strconv.Atoi(match[1])
	if err != nil {
		return Marker{}, fmt.Errorf("invalid marker version %q: %w", match[1], err)
	}
	m := Marker{Version: version, ItemType: match[2], ID: strings.ToLower(match[3])}
	if match[4] != "" {
		values, err := url.ParseQuery(match[4])
		if err != nil {
			return Marker{}, fmt.Errorf("invalid marker metadata %q: %w", match[4], err)
		}
		m.Metadata = make(map[string]string, len(values))
		for k := range values {
			m.Metadata[k] = values.Get(k)
		}
	}
	return m, nil
}

// Segment is a run of literal text or a single marker.
type Segment struct {
	Text   string
	Marker *Marker
}

// IsMarker reports whether the segment is a marker.
func (s Segment) IsMarker() bool { return s.Marker != nil }

// Split cuts text into alternating literal and marker segments in order.
// Empty literal runs are omitted; the newlines wrapping a marker belong to
// the marker.
func Split(text string) []Segment {
	var segments []Segment
	last := 0
	for _, loc := range markerPattern.FindAllStringSubmatchIndex(text, -1) {
		m, err := Parse(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		if loc[0] > last {
			segments = append(segments, Segment{Text: text[last:loc[0]]})
		}
		segments = append(segments, Segment{Marker: &m})
		last = loc[1]
	}
	if last < len(text) {
		segments = append(segments, Segment{Text: text[last:]})
	}
	return segments
}

// Find returns every marker in text, in order.
func Find(text string) []Marker {
	var markers []Marker
	for _, seg := range Split(text) {
		if seg.Marker != nil {
			markers = append(markers, *seg.Marker)
		}
	}
	return markers
}

// IDs returns the distinct item ids referenced by text, in first-seen order.
func IDs(text string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, m := range Find(text) {
		if !seen[m.ID] {
			seen[m.ID] = true
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Strip removes every marker from text.
func Strip(text string) string {
	var b strings.Builder
	for _, seg := range Split(text) {
		if seg.Marker == nil {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}
