package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/imkarma/drover/internal/store"
)

// --- Color palette ---
var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrCyan      = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#22D3EE"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

// --- Styles ---
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	dimStyle   = lipgloss.NewStyle().Foreground(clrDim)
	errStyle   = lipgloss.NewStyle().Foreground(clrRed).Bold(true)

	footerKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	footerDescStyle = lipgloss.NewStyle().Foreground(clrSubtle)
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	header := titleStyle.Render("drover board")
	header += dimStyle.Render(" — " + m.project.Name)
	b.WriteString(header + "\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("  "+m.err.Error()) + "\n")
	}

	if m.progress != nil {
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
	}

	b.WriteString(m.viewEpics())
	b.WriteString("\n")
	b.WriteString(m.viewSessions())

	b.WriteString("\n")
	b.WriteString(footerKeyStyle.Render("  r") + footerDescStyle.Render(" refresh  ") +
		footerKeyStyle.Render("q") + footerDescStyle.Render(" quit"))

	return b.String()
}

func (m Model) viewProgress() string {
	p := m.progress
	var b strings.Builder

	b.WriteString(fmt.Sprintf("  tasks  %s %3.0f%%  %s\n",
		m.taskBar.ViewAs(p.TaskPercent()/100),
		p.TaskPercent(),
		dimStyle.Render(fmt.Sprintf("(%d/%d)", p.TasksCompleted, p.TasksTotal))))
	b.WriteString(fmt.Sprintf("  tests  %s %3.0f%%  %s\n",
		m.testBar.ViewAs(p.TestPercent()/100),
		p.TestPercent(),
		dimStyle.Render(fmt.Sprintf("(%d/%d)", p.TestsPassing, p.TestsTotal))))

	return b.String()
}

func (m Model) viewEpics() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Epics") + "\n")
	if len(m.epics) == 0 {
		b.WriteString(dimStyle.Render("  none yet; the initializer session creates the roadmap") + "\n")
		return b.String()
	}

	for _, e := range m.epics {
		tasks := m.tasks[e.ID]
		done := 0
		for _, t := range tasks {
			if t.Done {
				done++
			}
		}
		id := lipgloss.NewStyle().Foreground(clrCyan).Render(fmt.Sprintf("E#%d", e.ID))
		b.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			id,
			epicStatusStyle(e.Status).Render(fmt.Sprintf("%-11s", e.Status)),
			truncate(e.Name, 40),
			dimStyle.Render(fmt.Sprintf("%d/%d tasks", done, len(tasks)))))
	}

	return b.String()
}

func (m Model) viewSessions() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Recent sessions") + "\n")
	if len(m.sessions) == 0 {
		b.WriteString(dimStyle.Render("  none yet") + "\n")
		return b.String()
	}

	for _, s := range m.sessions {
		line := fmt.Sprintf("  #%-3d %-12s %s",
			s.Number, s.Type,
			sessionStatusStyle(s.Status).Render(fmt.Sprintf("%-11s", s.Status)))
		if s.Status == store.SessionRunning && s.LastHeartbeat != nil {
			line += dimStyle.Render(fmt.Sprintf("  heartbeat %s ago", time.Since(*s.LastHeartbeat).Round(time.Second)))
		} else if s.Metrics != nil {
			line += dimStyle.Render(fmt.Sprintf("  %d tool calls, $%.2f", s.Metrics.ToolCalls, s.Metrics.Cost))
		}
		b.WriteString(line + "\n")
	}

	return b.String()
}

func epicStatusStyle(s store.EpicStatus) lipgloss.Style {
	switch s {
	case store.EpicCompleted:
		return lipgloss.NewStyle().Foreground(clrGreen)
	case store.EpicInProgress:
		return lipgloss.NewStyle().Foreground(clrYellow)
	case store.EpicBlocked:
		return lipgloss.NewStyle().Foreground(clrRed)
	default:
		return dimStyle
	}
}

func sessionStatusStyle(s store.SessionStatus) lipgloss.Style {
	switch s {
	case store.SessionCompleted:
		return lipgloss.NewStyle().Foreground(clrGreen)
	case store.SessionRunning:
		return lipgloss.NewStyle().Foreground(clrYellow)
	case store.SessionError, store.SessionInterrupted:
		return lipgloss.NewStyle().Foreground(clrRed)
	default:
		return dimStyle
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
