// Package tui is the terminal dashboard for running submissions.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneJobs PaneID = iota
	PaneProgress
)

const paneCount = 2

// JobCanceler cancels a job by id.
type JobCanceler interface {
	Cancel(jobID string) error
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	jobPane      JobPaneModel
	progressPane ProgressPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	canceler     JobCanceler
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates a new TUI model subscribed to every event on the bus.
// canceler may be nil, in which case the cancel key does nothing.
func New(eventBus *events.EventBus, canceler JobCanceler, cfg *config.TaskflowConfig, globalPath, projectPath string) Model {
	m := Model{
		jobPane:      NewJobPaneModel(),
		progressPane: NewProgressPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneJobs,
		eventSub:     eventBus.SubscribeAll(256),
		canceler:     canceler,
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

func cancelJob(c JobCanceler, jobID string) tea.Cmd {
	return func() tea.Msg {
		return cancelResultMsg{jobID: jobID, err: c.Cancel(jobID)}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Settings is modal
		if m.showSettings {
			if msg.String() == "esc" {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
				return m, nil
			}
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, cmd
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneJobs
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		case KeyCancel:
			if jobID := m.jobPane.SelectedJobID(); jobID != "" && m.canceler != nil && m.focusedPane == PaneJobs {
				cmds = append(cmds, cancelJob(m.canceler, jobID))
			}

		default:
			if m.focusedPane == PaneJobs {
				var cmd tea.Cmd
				m.jobPane, cmd = m.jobPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.JobEvent:
		var cmd tea.Cmd
		m.jobPane, cmd = m.jobPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.SubmissionEvent, events.ProgressEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case tickMsg, cancelResultMsg:
		var cmd tea.Cmd
		m.jobPane, cmd = m.jobPane.Update(msg)
		cmds = append(cmds, cmd)

	default:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.jobPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView())
}

// computeLayout splits the screen 60/40 between jobs and submissions.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	availableHeight := m.height - 1 // help bar

	m.jobPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(m.width-leftWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.jobPane.SetFocused(m.focusedPane == PaneJobs)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
