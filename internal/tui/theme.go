package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/charlie/internal/stream"
)

// Theme centralizes all styling for the TUI.
type Theme struct {
	StatusOK       lipgloss.Style
	StatusRunning  lipgloss.Style
	StatusFailed   lipgloss.Style
	StatusCanceled lipgloss.Style

	Border       lipgloss.Style
	FocusBorder  lipgloss.Style
	Title        lipgloss.Style
	Dim          lipgloss.Style
	Highlight    lipgloss.Style
	ErrorBar     lipgloss.Style
	Help         lipgloss.Style
	InputPrompt  lipgloss.Style
	TableHeader  lipgloss.Style
	TableCurrent lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusCanceled: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),
		FocusBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:         lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		ErrorBar:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Help:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		InputPrompt: lipgloss.NewStyle().Foreground(purple).Bold(true),
		TableHeader: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			BorderBottom(true).
			Bold(false),
		TableCurrent: lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Bold(false),
	}
}

// TableStyles returns bubbles table styles matching the theme.
func (t Theme) TableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.Inherit(t.TableHeader)
	s.Selected = s.Selected.Inherit(t.TableCurrent)
	return s
}

// State returns the style for a process state.
func (t Theme) State(st stream.State, exitCode int) lipgloss.Style {
	switch st {
	case stream.StateRunning, stream.StateDraining:
		return t.StatusRunning
	case stream.StateCanceled:
		return t.StatusCanceled
	default:
		if exitCode == 0 {
			return t.StatusOK
		}
		return t.StatusFailed
	}
}
