package chatui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "#2196F3", Dark: "#4db6ac"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#dce0e5", Dark: "#2a3850"}
	colorError   = lipgloss.Color("#e53935")
)

// Styles holds the lipgloss styles used by the chat view.
type Styles struct {
	Header    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	UserInput lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Input     lipgloss.Style
}

// DefaultStyles returns the standard chat styles.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Padding(0, 1),
		User:      lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).MarginTop(1),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(colorAccent).MarginTop(1),
		UserInput: lipgloss.NewStyle().PaddingLeft(2),
		Muted:     lipgloss.NewStyle().Foreground(colorMuted),
		Error:     lipgloss.NewStyle().Foreground(colorError),
		Input:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder),
	}
}
