// Package watch implements the zonectl watch TUI: a live view of zone workers
// fed by the API's /events stream and periodic /zones snapshots.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles shared by the header, zone table and event log.
// Zone states map onto Good (idle, last command ok), Busy (executing),
// Bad (last command failed), Waiting (queued, no device) and Stopped.
type Theme struct {
	Good    lipgloss.Style
	Busy    lipgloss.Style
	Bad     lipgloss.Style
	Waiting lipgloss.Style
	Stopped lipgloss.Style

	Panel     lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	Live  lipgloss.Style
	Stale lipgloss.Style
}

func NewDefaultTheme() Theme {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }

	return Theme{
		Good:    fg("#5FD75F"),
		Busy:    fg("#FFD75F"),
		Bad:     fg("#FF5F5F"),
		Waiting: fg("#87AFD7"),
		Stopped: fg("#6C6C6C"),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5F87AF")),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EEEEEE")).Padding(0, 1),
		Dim:       fg("#8A8A8A"),
		Highlight: fg("#D7AF87"),

		Live:  fg("#5FD75F"),
		Stale: fg("#444444"),
	}
}
