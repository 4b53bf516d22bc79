package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/job"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusSkipped = lipgloss.NewStyle().
				Foreground(lipgloss.Color("cyan"))

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusCanceled = lipgloss.NewStyle().
				Foreground(lipgloss.Color("magenta"))

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))
)

// StatusIcon returns a styled indicator for a job status name.
func StatusIcon(status string) string {
	switch status {
	case job.StatusRunning.String():
		return StyleStatusRunning.Render("●")
	case job.StatusCompleted.String():
		return StyleStatusComplete.Render("✓")
	case job.StatusSkipped.String():
		return StyleStatusSkipped.Render("↷")
	case job.StatusFailed.String():
		return StyleStatusFailed.Render("✗")
	case job.StatusCanceled.String(), job.StatusAbandoned.String():
		return StyleStatusCanceled.Render("⊘")
	case job.StatusBlocked.String():
		return StyleStatusPending.Render("◌")
	default:
		return StyleStatusPending.Render("○")
	}
}
