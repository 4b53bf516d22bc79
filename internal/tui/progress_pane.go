package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

// submissionView is the displayed state of one submission.
type submissionView struct {
	id          string
	submittable string
	status      string
	progress    events.ProgressEvent
}

// ProgressPaneModel shows per-submission job counts and rollup status.
type ProgressPaneModel struct {
	submissions map[string]*submissionView
	order       []string
	width       int
	height      int
	focused     bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{submissions: make(map[string]*submissionView)}
}

func (m *ProgressPaneModel) entry(id string) *submissionView {
	sv, ok := m.submissions[id]
	if !ok {
		sv = &submissionView{id: id}
		m.submissions[id] = sv
		m.order = append(m.order, id)
	}
	return sv
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.SubmissionEvent:
		sv := m.entry(msg.SubmissionID)
		sv.submittable = msg.Submittable
		sv.status = msg.Status

	case events.ProgressEvent:
		m.entry(msg.SubmissionID).progress = msg
	}
	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Submissions")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Nothing submitted yet"))
	}
	for _, id := range m.order {
		sv := m.submissions[id]
		p := sv.progress
		b.WriteString(fmt.Sprintf("%s  %s  %s\n", sv.submittable, StyleStatusPending.Render(id), sv.status))
		b.WriteString(fmt.Sprintf("  done %s  skipped %s  running %s  failed %s  canceled %s  waiting %s\n",
			StyleStatusComplete.Render(fmt.Sprint(p.Completed)),
			StyleStatusSkipped.Render(fmt.Sprint(p.Skipped)),
			StyleStatusRunning.Render(fmt.Sprint(p.Running)),
			StyleStatusFailed.Render(fmt.Sprint(p.Failed)),
			StyleStatusCanceled.Render(fmt.Sprint(p.Canceled+p.Abandoned)),
			StyleStatusPending.Render(fmt.Sprint(p.Blocked+p.Pending)),
		))
		if p.Total > 0 {
			b.WriteString("  " + progressBar(p, min(m.width-8, 40)) + "\n")
		}
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// progressBar renders finished jobs over the total.
func progressBar(p events.ProgressEvent, barWidth int) string {
	if barWidth <= 0 || p.Total == 0 {
		return ""
	}
	doneWidth := ((p.Completed + p.Skipped) * barWidth) / p.Total
	failedWidth := ((p.Failed + p.Canceled + p.Abandoned) * barWidth) / p.Total
	runningWidth := (p.Running * barWidth) / p.Total
	restWidth := barWidth - doneWidth - failedWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, doneWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, restWidth)))
	return fmt.Sprintf("[%s]  %d/%d", bar, p.Finished(), p.Total)
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
