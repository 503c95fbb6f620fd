// Package tui renders a live progress board for one project: epic rollups,
// task completion, and recent session activity.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/imkarma/drover/internal/store"
)

const refreshEvery = 5 * time.Second

// Model is the top-level bubbletea model.
type Model struct {
	st      *store.Store
	project *store.Project

	width  int
	height int

	taskBar progress.Model
	testBar progress.Model

	progress *store.Progress
	epics    []store.Epic
	tasks    map[int64][]store.Task // Keyed by epic ID.
	sessions []store.Session

	err      error
	quitting bool
}

// New creates the board model for a project.
func New(st *store.Store, project *store.Project) Model {
	return Model{
		st:      st,
		project: project,
		tasks:   make(map[int64][]store.Task),
		taskBar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		testBar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

// Init starts the initial load and the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load, tick())
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type loadedMsg struct {
	progress *store.Progress
	epics    []store.Epic
	tasks    map[int64][]store.Task
	sessions []store.Session
	err      error
}

// load fetches a fresh snapshot of the project state.
func (m Model) load() tea.Msg {
	progress, err := m.st.ProgressSummary(m.project.ID)
	if err != nil {
		return loadedMsg{err: err}
	}
	epics, err := m.st.ListEpics(m.project.ID)
	if err != nil {
		return loadedMsg{err: err}
	}

	tasks := make(map[int64][]store.Task, len(epics))
	for _, e := range epics {
		ts, err := m.st.ListTasksByEpic(e.ID)
		if err != nil {
			return loadedMsg{err: err}
		}
		tasks[e.ID] = ts
	}

	sessions, err := m.st.ListSessions(m.project.ID)
	if err != nil {
		return loadedMsg{err: err}
	}
	// Most recent first, capped for display.
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	if len(sessions) > 8 {
		sessions = sessions[:8]
	}

	return loadedMsg{progress: progress, epics: epics, tasks: tasks, sessions: sessions}
}
