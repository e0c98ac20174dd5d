// Package ui holds terminal styling for the command line: the color theme,
// lipgloss text styles and glamour markdown rendering.
package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Theme defines the color palette for the UI
type Theme struct {
	Primary   lipgloss.Color // accents, links
	Secondary lipgloss.Color // headings, citations
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color // status lines, metadata
	Text      lipgloss.Color
}

// DefaultTheme returns the default color theme (gruvbox)
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"), // gruvbox green
		Secondary: lipgloss.Color("#83a598"), // gruvbox aqua
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"), // gruvbox red
		Warning:   lipgloss.Color("#fabd2f"), // gruvbox yellow
		Muted:     lipgloss.Color("#928374"), // gruvbox gray
		Text:      lipgloss.Color("#ebdbb2"), // gruvbox foreground
	}
}

// Status indicators
const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
	PendingIcon = "…"
)

// Styles are text styles bound to one output's color profile.
type Styles struct {
	theme *Theme

	Title       lipgloss.Style
	Muted       lipgloss.Style
	Success     lipgloss.Style
	Error       lipgloss.Style
	Citation    lipgloss.Style
	TableHeader lipgloss.Style
}

// NewStyles creates styles for w. Colors are dropped when w is not a
// terminal.
func NewStyles(w io.Writer, theme *Theme) *Styles {
	if theme == nil {
		theme = DefaultTheme()
	}
	r := lipgloss.NewRenderer(w)
	return &Styles{
		theme: theme,

		Title: r.NewStyle().
			Bold(true).
			Foreground(theme.Text),

		Muted: r.NewStyle().
			Foreground(theme.Muted),

		Success: r.NewStyle().
			Foreground(theme.Success),

		Error: r.NewStyle().
			Foreground(theme.Error),

		Citation: r.NewStyle().
			Foreground(theme.Secondary),

		TableHeader: r.NewStyle().
			Bold(true).
			Foreground(theme.Text),
	}
}

// Theme returns the theme used by these styles
func (s *Styles) Theme() *Theme {
	return s.theme
}

// FormatStatus returns a styled status line.
func (s *Styles) FormatStatus(description string, done bool) string {
	if done {
		return s.Success.Render(SuccessIcon+" ") + s.Muted.Render(description)
	}
	return s.Muted.Render(PendingIcon + " " + description)
}

// FormatResult returns a styled success/fail result
func (s *Styles) FormatResult(success bool, msg string) string {
	if success {
		return s.Success.Render(SuccessIcon+" ") + msg
	}
	return s.Error.Render(FailIcon+" ") + msg
}

// Truncate shortens a string to maxLen display columns with ellipsis
func Truncate(s string, maxLen int) string {
	if runewidth.StringWidth(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return runewidth.Truncate(s, maxLen, "")
	}
	return runewidth.Truncate(s, maxLen, "...")
}
