package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/tui"
)

var boardCmd = &cobra.Command{
	Use:   "board <project>",
	Short: "Open live progress board",
	Long:  "Opens an interactive board showing epic rollups, task and test completion, and recent session activity. Refreshes while sessions run.",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoard,
}

func init() {
	rootCmd.AddCommand(boardCmd)
}

func runBoard(cmd *cobra.Command, args []string) error {
	s, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	project, err := resolveProject(s, args[0])
	if err != nil {
		return err
	}

	model := tui.New(s, project)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("board error: %w", err)
	}

	return nil
}
