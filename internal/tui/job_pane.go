package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/events"
)

// JobState is the displayed state of a single job.
type JobState struct {
	JobID        string
	TaskID       string
	SubmissionID string
	Status       string
	History      []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobPaneModel is the job list with a history viewport for the selected job.
type JobPaneModel struct {
	jobs        map[string]*JobState // jobID -> state
	jobOrder    []string             // creation order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewJobPaneModel creates a new job pane model.
func NewJobPaneModel() JobPaneModel {
	return JobPaneModel{
		jobs:     make(map[string]*JobState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// cancelResultMsg reports the outcome of a cancel request from the pane.
type cancelResultMsg struct {
	jobID string
	err   error
}

// Update handles messages for the job pane.
func (m JobPaneModel) Update(msg tea.Msg) (JobPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.jobOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.JobEvent:
		state, exists := m.jobs[msg.JobID]
		if !exists {
			state = &JobState{
				JobID:        msg.JobID,
				TaskID:       msg.TaskID,
				SubmissionID: msg.SubmissionID,
				CreatedAt:    msg.Timestamp,
			}
			m.jobs[msg.JobID] = state
			m.jobOrder = append(m.jobOrder, msg.JobID)
		}
		state.Status = msg.Status
		state.UpdatedAt = msg.Timestamp
		state.History = append(state.History, fmt.Sprintf("%s  %s", msg.Timestamp.Format("15:04:05.000"), msg.Status))
		for _, line := range msg.Stacktrace {
			state.History = append(state.History, "    "+line)
		}

		if len(m.jobOrder) == 1 || m.SelectedJobID() == msg.JobID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case cancelResultMsg:
		if state, exists := m.jobs[msg.jobID]; exists && msg.err != nil {
			state.History = append(state.History, fmt.Sprintf("[cancel refused: %v]", msg.err))
			if m.SelectedJobID() == msg.jobID {
				m.updateViewportContent()
			}
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// View renders the job pane.
func (m JobPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 30
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderJobList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m JobPaneModel) renderJobList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Jobs")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.jobOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, jobID := range m.jobOrder {
			state := m.jobs[jobID]
			name := state.TaskID
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}
			line := fmt.Sprintf("%s %s", StatusIcon(state.Status), name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// SelectedJobID returns the id of the selected job, or "" when there is none.
func (m JobPaneModel) SelectedJobID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.jobOrder) {
		return m.jobOrder[m.selectedIdx]
	}
	return ""
}

// Job returns the displayed state of a job.
func (m JobPaneModel) Job(jobID string) (*JobState, bool) {
	state, ok := m.jobs[jobID]
	return state, ok
}

func (m *JobPaneModel) updateViewportContent() {
	state, exists := m.jobs[m.SelectedJobID()]
	if !exists {
		m.viewport.SetContent("Waiting for jobs...")
		return
	}

	header := fmt.Sprintf("%s\ntask: %s  submission: %s\n", state.JobID, state.TaskID, state.SubmissionID)
	m.viewport.SetContent(header + "\n" + strings.Join(state.History, "\n"))
	m.viewport.GotoBottom()
}

func (m *JobPaneModel) resizeViewport() {
	viewportWidth := m.width - 30 - 4
	viewportHeight := m.height - 4
	m.viewport.Width = max(viewportWidth, 10)
	m.viewport.Height = max(viewportHeight, 5)
}

// SetSize updates the pane dimensions.
func (m *JobPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *JobPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
