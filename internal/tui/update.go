package tui

import tea "github.com/charmbracelet/bubbletea"

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if w := msg.Width - 30; w > 10 && w < 60 {
			m.taskBar.Width = w
			m.testBar.Width = w
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.load
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.load, tick())

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.progress = msg.progress
		m.epics = msg.epics
		m.tasks = msg.tasks
		m.sessions = msg.sessions
		return m, nil
	}

	return m, nil
}
