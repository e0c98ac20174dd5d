// Package status renders the collapsible progress block shown at the top
// of an in-flight assistant message.
package status

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrFinished is returned by every mutation after Finish.
var ErrFinished = errors.New("status block already finished")

// Entry is one line of the block with optional sub-bullets.
type Entry struct {
	Title   string
	Bullets []string
}

// Update describes the block after one mutation.
type Update struct {
	Rendered string
	Last     Entry
	Finished bool
}

// Renderer maintains the ordered entry list. It is safe for concurrent use;
// onChange is called under the renderer's lock, so updates are delivered
// in mutation order.
type Renderer struct {
	mu       sync.Mutex
	entries  []Entry
	started  time.Time
	finished bool
	now      func() time.Time
	onChange func(Update)
}

// New returns a renderer whose clock starts now. onChange may be nil.
func New(onChange func(Update)) *Renderer {
	return &Renderer{
		started:  time.Now(),
		now:      time.Now,
		onChange: onChange,
	}
}

// Add appends content as sub-bullets when title matches the most recent
// entry, and starts a new entry otherwise.
func (r *Renderer) Add(title string, content ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrFinished
	}
	bullets := nonEmpty(content)
	if n := len(r.entries); n > 0 && r.entries[n-1].Title == title {
		r.entries[n-1].Bullets = append(r.entries[n-1].Bullets, bullets...)
	} else {
		r.entries = append(r.entries, Entry{Title: title, Bullets: bullets})
	}
	r.changed()
	return nil
}

// UpdateLast replaces the most recent entry's title when title is non-empty
// and its bullets when content is given. With no entries it adds one.
func (r *Renderer) UpdateLast(title string, content ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrFinished
	}
	n := len(r.entries)
	if n == 0 {
		r.entries = append(r.entries, Entry{Title: title, Bullets: nonEmpty(content)})
		r.changed()
		return nil
	}
	if title != "" {
		r.entries[n-1].Title = title
	}
	if len(content) > 0 {
		r.entries[n-1].Bullets = nonEmpty(content)
	}
	r.changed()
	return nil
}

// Finish appends the terminal entry, "Completed in Ns" unless title is
// given, and forbids any further mutation.
func (r *Renderer) Finish(title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrFinished
	}
	if title == "" {
		elapsed := r.now().Sub(r.started).Round(time.Second)
		title = fmt.Sprintf("Completed in %ds", int(elapsed.Seconds()))
	}
	r.entries = append(r.entries, Entry{Title: title})
	r.finished = true
	r.changed()
	return nil
}

// Finished reports whether Finish has been called.
func (r *Renderer) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Entries returns a copy of the current entries.
func (r *Renderer) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = Entry{Title: e.Title, Bullets: append([]string(nil), e.Bullets...)}
	}
	return out
}

// Render returns the block, or "" when there are no entries.
func (r *Renderer) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.render()
}

func (r *Renderer) changed() {
	if r.onChange == nil {
		return
	}
	last := r.entries[len(r.entries)-1]
	r.onChange(Update{
		Rendered: r.render(),
		Last:     Entry{Title: last.Title, Bullets: append([]string(nil), last.Bullets...)},
		Finished: r.finished,
	})
}

func (r *Renderer) render() string {
	if len(r.entries) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<details type=\"status\" done=\"%t\">\n", r.finished)
	fmt.Fprintf(&b, "<summary>%s</summary>\n\n", html.EscapeString(r.entries[len(r.entries)-1].Title))
	for _, e := range r.entries {
		fmt.Fprintf(&b, "- %s\n", html.EscapeString(e.Title))
		for _, bullet := range e.Bullets {
			fmt.Fprintf(&b, "  - %s\n", html.EscapeString(oneLine(bullet)))
		}
	}
	b.WriteString("</details>\n\n")
	return b.String()
}

// blockPattern matches one rendered block. Rendered content is escaped, so
// the first closing tag always ends the block.
var blockPattern = regexp.MustCompile(`(?s)<details type="status"[^>]{0,64}>.*?</details>\n{0,2}`)

// Strip removes every status block from message.
func Strip(message string) string {
	return blockPattern.ReplaceAllString(message, "")
}

// Replace removes any existing status block from message and prepends block.
func Replace(message, block string) string {
	return block + Strip(message)
}

func nonEmpty(content []string) []string {
	var out []string
	for _, c := range content {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
