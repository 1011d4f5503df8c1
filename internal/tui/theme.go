package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/familiar/internal/jobstore"
)

// Theme keeps the monitor's colors in one place.
type Theme struct {
	Pending    lipgloss.Style
	Processing lipgloss.Style
	Done       lipgloss.Style
	Failed     lipgloss.Style

	Doc    lipgloss.Style
	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
	Error  lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Pending:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Processing: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Done:       lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Doc: lipgloss.NewStyle().Margin(1, 2),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Error: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
	}
}

// Symbol renders the status glyph for a state.
func (t Theme) Symbol(state jobstore.State) string {
	switch state {
	case jobstore.StateProcessing:
		return t.Processing.Render("◉")
	case jobstore.StateDone:
		return t.Done.Render("●")
	case jobstore.StateFailed:
		return t.Failed.Render("∅")
	default:
		return t.Pending.Render("○")
	}
}
