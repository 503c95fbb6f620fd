package cli

import (
	"fmt"

	"github.com/imkarma/drover/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show project progress",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) == 0 {
		return listProjects(s)
	}

	project, err := resolveProject(s, args[0])
	if err != nil {
		return err
	}

	progress, err := s.ProgressSummary(project.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s%s%s  (%s)\n", colorBold, project.Name, colorReset, project.Status)
	fmt.Printf("  %-10s %d/%d completed\n", "epics:", progress.EpicsCompleted, progress.EpicsTotal)
	fmt.Printf("  %-10s %d/%d done (%.0f%%)\n", "tasks:", progress.TasksCompleted, progress.TasksTotal, progress.TaskPercent())
	fmt.Printf("  %-10s %d/%d passing (%.0f%%)\n", "tests:", progress.TestsPassing, progress.TestsTotal, progress.TestPercent())
	fmt.Printf("  %-10s $%.2f over %.0fs\n", "spend:", project.TotalCost, project.TotalTime)
	if project.CompletedAt != nil {
		fmt.Printf("  %scompleted %s%s\n", colorGreen, project.CompletedAt.Local().Format("2006-01-02 15:04"), colorReset)
	}

	epics, err := s.ListEpics(project.ID)
	if err != nil {
		return err
	}
	if len(epics) > 0 {
		fmt.Println()
		for _, e := range epics {
			fmt.Printf("  %s%-12s%s %s\n", epicColor(e.Status), e.Status, colorReset, e.Name)
		}
	}
	return nil
}

func listProjects(s *store.Store) error {
	projects, err := s.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Printf("No projects. Run: %sdrover create <name>%s\n", colorCyan, colorReset)
		return nil
	}

	for _, p := range projects {
		progress, err := s.ProgressSummary(p.ID)
		if err != nil {
			return err
		}
		fmt.Printf("  %s%-20s%s %-10s %d/%d tasks\n",
			colorCyan, p.Name, colorReset, p.Status, progress.TasksCompleted, progress.TasksTotal)
	}
	return nil
}

func epicColor(status store.EpicStatus) string {
	switch status {
	case store.EpicCompleted:
		return colorGreen
	case store.EpicInProgress:
		return colorBlue
	case store.EpicBlocked:
		return colorRed
	default:
		return colorWhite
	}
}
