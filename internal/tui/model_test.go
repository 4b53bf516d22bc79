package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/events"
)

type recordingCanceler struct {
	canceled []string
	err      error
}

func (c *recordingCanceler) Cancel(jobID string) error {
	c.canceled = append(c.canceled, jobID)
	return c.err
}

func jobEvent(jobID, taskID, status string) events.JobEvent {
	return events.JobEvent{
		JobID:        jobID,
		TaskID:       taskID,
		SubmissionID: "SUBMISSION_sc_1",
		Status:       status,
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newTestModel(t *testing.T, c JobCanceler) Model {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	cfg := config.DefaultConfig()
	m := New(bus, c, cfg, t.TempDir()+"/global.json", t.TempDir()+"/project.json")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func TestJobPane_TracksStatusHistory(t *testing.T) {
	p := NewJobPaneModel()
	p.SetSize(80, 20)

	p, _ = p.Update(jobEvent("JOB_a", "predict", "SUBMITTED"))
	p, _ = p.Update(jobEvent("JOB_a", "predict", "PENDING"))
	p, _ = p.Update(jobEvent("JOB_b", "publish", "BLOCKED"))
	failed := jobEvent("JOB_a", "predict", "FAILED")
	failed.Stacktrace = []string{"write forecast: disk full"}
	p, _ = p.Update(failed)

	state, ok := p.Job("JOB_a")
	require.True(t, ok)
	assert.Equal(t, "FAILED", state.Status)
	require.Len(t, state.History, 4)
	assert.Contains(t, state.History[3], "disk full")
	assert.Equal(t, "JOB_a", p.SelectedJobID(), "first job is selected")
}

func TestJobPane_Selection(t *testing.T) {
	p := NewJobPaneModel()
	p.SetSize(80, 20)
	p.SetFocused(true)
	p, _ = p.Update(jobEvent("JOB_a", "a", "PENDING"))
	p, _ = p.Update(jobEvent("JOB_b", "b", "PENDING"))

	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyJ)})
	assert.Equal(t, "JOB_b", p.SelectedJobID())
	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyJ)})
	assert.Equal(t, "JOB_b", p.SelectedJobID(), "selection stops at the last job")
	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyK)})
	assert.Equal(t, "JOB_a", p.SelectedJobID())
}

func TestProgressPane_RendersSubmissions(t *testing.T) {
	p := NewProgressPaneModel()
	p.SetSize(60, 20)
	p, _ = p.Update(events.SubmissionEvent{SubmissionID: "SUBMISSION_sc_1", Submittable: "sales", Status: "RUNNING"})
	p, _ = p.Update(events.ProgressEvent{SubmissionID: "SUBMISSION_sc_1", Total: 4, Completed: 1, Skipped: 1, Running: 1, Blocked: 1})

	view := p.View()
	assert.Contains(t, view, "sales")
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "2/4")
}

func TestModel_CancelSelectedJob(t *testing.T) {
	c := &recordingCanceler{err: errors.New("job already finished")}
	m := newTestModel(t, c)

	updated, _ := m.Update(jobEvent("JOB_a", "predict", "COMPLETED"))
	m = updated.(Model)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyCancel)})
	require.NotNil(t, cmd)
	msg := cmd()

	result, ok := msg.(cancelResultMsg)
	require.True(t, ok, "expected a cancel result, got %T", msg)
	assert.Equal(t, []string{"JOB_a"}, c.canceled)
	assert.Equal(t, "JOB_a", result.jobID)
	assert.Error(t, result.err)

	updated, _ = m.Update(result)
	m = updated.(Model)
	state, _ := m.jobPane.Job("JOB_a")
	assert.Contains(t, state.History[len(state.History)-1], "cancel refused")
}

func TestModel_FocusCycles(t *testing.T) {
	m := newTestModel(t, nil)
	assert.Equal(t, PaneJobs, m.focusedPane)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	assert.Equal(t, PaneProgress, m.focusedPane)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	assert.Equal(t, PaneJobs, m.focusedPane)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = updated.(Model)
	assert.Equal(t, PaneProgress, m.focusedPane)
}

func TestSettingsPane_ApplyKeepsLiveConfigUntilSaved(t *testing.T) {
	cfg := config.DefaultConfig()
	p := NewSettingsPaneModel(cfg, t.TempDir()+"/g.json", t.TempDir()+"/p.json")
	p.maxWorkers = "9"
	p.backendType = "docker"
	p.storeType = "memory"

	updated := p.applyFormToConfig()
	assert.Equal(t, 9, updated.MaxWorkers)
	assert.Equal(t, "docker", updated.Backend.Type)
	assert.Equal(t, "memory", updated.Store.Type)
	assert.Equal(t, 4, cfg.MaxWorkers, "live config untouched")
	assert.Error(t, validateWorkers("-1"))
	assert.NoError(t, validateWorkers("0"))
}
