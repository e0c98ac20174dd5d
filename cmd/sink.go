package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/warshanks/responses-bridge/internal/emit"
	"github.com/warshanks/responses-bridge/internal/history"
	"github.com/warshanks/responses-bridge/internal/marker"
	"github.com/warshanks/responses-bridge/internal/ui"
	"github.com/warshanks/responses-bridge/internal/usage"
)

// termSink shows engine events on a terminal. Status and citation lines
// go to errOut; reply text goes to out, streamed as it grows or rendered
// once at the end.
type termSink struct {
	out    io.Writer
	errOut io.Writer
	styles *ui.Styles
	stream bool

	mu        sync.Mutex
	printed   string // visible text already written in stream mode
	content   string
	citations []emit.Citation
	usage     usage.Totals
	done      bool
}

func newTermSink(out, errOut io.Writer, stream bool) *termSink {
	return &termSink{
		out:    out,
		errOut: errOut,
		styles: ui.NewStyles(errOut, nil),
		stream: stream,
	}
}

// Emit implements emit.Sink.
func (s *termSink) Emit(ev emit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case emit.KindStatus:
		if s.stream && s.printed != "" {
			// Keep status lines off the reply text.
			return nil
		}
		fmt.Fprintln(s.errOut, s.styles.FormatStatus(ev.Description, ev.Done))
	case emit.KindMessage:
		s.content = ev.Content
		if s.stream {
			s.flush()
		}
	case emit.KindCitation:
		if ev.Citation != nil {
			s.citations = append(s.citations, *ev.Citation)
		}
	case emit.KindCompletion:
		s.usage = ev.Usage
		s.done = ev.Done
	}
	return nil
}

// flush writes the part of the visible text not yet printed. Visible text
// that stops extending what was printed, such as a rewritten reply, is
// left for finish.
func (s *termSink) flush() {
	visible := visibleText(s.content)
	if !strings.HasPrefix(visible, s.printed) {
		return
	}
	if delta := visible[len(s.printed):]; delta != "" {
		io.WriteString(s.out, delta)
		s.printed = visible
	}
}

// finish writes the final reply, then citations and token usage. content
// is the stored message; render formats it as markdown for width columns.
func (s *termSink) finish(content string, render bool, width int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if content != "" {
		s.content = content
	}
	visible := visibleText(s.content)
	switch {
	case s.stream && strings.HasPrefix(visible, s.printed):
		s.flush()
		if s.printed != "" {
			fmt.Fprintln(s.out)
		}
	case render && visible != "":
		fmt.Fprintln(s.out, ui.RenderMarkdown(visible, width))
	case visible != "":
		if s.printed != "" {
			fmt.Fprintln(s.out)
		}
		fmt.Fprintln(s.out, visible)
	}

	if len(s.citations) > 0 {
		fmt.Fprintln(s.errOut)
		for _, c := range s.citations {
			fmt.Fprintln(s.errOut, s.formatCitation(c))
		}
	}
	if line := formatUsage(s.usage); line != "" {
		fmt.Fprintln(s.errOut, s.styles.Muted.Render(line))
	}
}

func (s *termSink) formatCitation(c emit.Citation) string {
	if c.Source == "error" {
		return s.styles.FormatResult(false, c.Document)
	}
	label := c.Title
	if label == "" {
		label = c.URL
	}
	line := label
	if c.URL != "" && c.URL != label {
		line += " - " + c.URL
	}
	if c.Ordinal > 0 {
		line = fmt.Sprintf("[%d] %s", c.Ordinal, line)
	}
	return s.styles.Citation.Render(line)
}

// visibleText is the part of an assistant message a reader sees.
func visibleText(content string) string {
	return strings.TrimSpace(marker.Strip(history.StripUI(content)))
}

func formatUsage(t usage.Totals) string {
	in := t.Int("input_tokens")
	out := t.Int("output_tokens")
	if in == 0 && out == 0 {
		return ""
	}
	line := fmt.Sprintf("tokens: %d in, %d out", in, out)
	if cached := t.Int("input_tokens_details", "cached_tokens"); cached > 0 {
		line += fmt.Sprintf(" (%d cached)", cached)
	}
	if reasoning := t.Int("output_tokens_details", "reasoning_tokens"); reasoning > 0 {
		line += fmt.Sprintf(", %d reasoning", reasoning)
	}
	return line
}
