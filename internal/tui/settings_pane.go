package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.TaskflowConfig
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings
	saveTarget  string
	mode        string
	maxWorkers  string
	logLevel    string
	backendType string
	image       string
	storeType   string
	storePath   string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.TaskflowConfig, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFields()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFields() {
	m.saveTarget = "global"
	m.mode = m.config.Mode
	m.maxWorkers = strconv.Itoa(m.config.MaxWorkers)
	m.logLevel = m.config.LogLevel
	m.backendType = m.config.Backend.Type
	m.image = m.config.Backend.Image
	m.storeType = m.config.Store.Type
	m.storePath = m.config.Store.Path
}

func validateWorkers(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("enter a non-negative number")
	}
	return nil
}

func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.taskflow/config.json)", "global"),
					huh.NewOption("Project (.taskflow/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("mode").
				Title("Mode").
				Options(
					huh.NewOption("Standalone (worker pool)", config.ModeStandalone),
					huh.NewOption("Development (single worker)", config.ModeDevelopment),
				).
				Value(&m.mode),

			huh.NewInput().
				Key("maxWorkers").
				Title("Max Workers").
				Value(&m.maxWorkers).
				Validate(validateWorkers).
				Placeholder("4"),

			huh.NewSelect[string]().
				Key("logLevel").
				Title("Log Level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&m.logLevel),
		).Title("Execution"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("backendType").
				Title("Backend").
				Options(huh.NewOptions("local", "process", "docker")...).
				Value(&m.backendType),

			huh.NewInput().
				Key("image").
				Title("Docker Image").
				Value(&m.image).
				Placeholder("python:3.12-slim"),
		).Title("Backend Settings"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("storeType").
				Title("Store").
				Options(huh.NewOptions("sqlite", "memory", "etcd")...).
				Value(&m.storeType),

			huh.NewInput().
				Key("storePath").
				Title("SQLite Path").
				Value(&m.storePath).
				Placeholder(".taskflow/taskflow.db"),
		).Title("Store Settings"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		targetPath := m.globalPath
		if m.saveTarget == "project" {
			targetPath = m.projectPath
		}

		updated := m.applyFormToConfig()
		if err := config.Save(&updated, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			*m.config = updated
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig returns a copy of the config with the form values applied.
// The live config only changes once the copy has been saved.
func (m *SettingsPaneModel) applyFormToConfig() config.TaskflowConfig {
	updated := *m.config
	updated.Mode = m.mode
	if n, err := strconv.Atoi(m.maxWorkers); err == nil {
		updated.MaxWorkers = n
	}
	updated.LogLevel = m.logLevel
	updated.Backend.Type = m.backendType
	updated.Backend.Image = m.image
	updated.Store.Type = m.storeType
	updated.Store.Path = m.storePath
	return updated
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it resets the form
// to the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFields()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
