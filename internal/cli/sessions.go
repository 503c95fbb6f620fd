package cli

import (
	"fmt"
	"time"

	"github.com/imkarma/drover/internal/session"
	"github.com/imkarma/drover/internal/store"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [project]",
	Short: "List a project's sessions",
	Long: `Lists all sessions with status, duration and heartbeat age.

With --recover, running sessions whose heartbeat went stale (crashed driver,
killed machine) are swept to interrupted so the next run can proceed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessions,
}

var sessionsRecover bool

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsRecover, "recover", false, "Mark stale running sessions as interrupted")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	s, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, err := mustConfig()
	if err != nil {
		return err
	}

	project, err := resolveProject(s, args[0])
	if err != nil {
		return err
	}

	if sessionsRecover {
		recovered, err := session.RecoverStale(s, cfg, project.ID)
		if err != nil {
			return err
		}
		if len(recovered) == 0 {
			fmt.Printf("  %s✓ no stale sessions%s\n", colorGreen, colorReset)
		}
		for _, sess := range recovered {
			fmt.Printf("  %srecovered session %d: %s%s\n", colorYellow, sess.Number, sess.Error, colorReset)
		}
	}

	sessions, err := s.ListSessions(project.ID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions yet. Run: %sdrover run %s%s\n", colorCyan, project.Name, colorReset)
		return nil
	}

	fmt.Printf("%sSessions for %s:%s\n\n", colorBold, project.Name, colorReset)
	for _, sess := range sessions {
		color := statusColor(sess.Status)
		fmt.Printf("  #%-3d %-11s %s%-12s%s %s",
			sess.Number, sess.Type, color, sess.Status, colorReset,
			sess.CreatedAt.Local().Format("2006-01-02 15:04"))
		if sess.Status == store.SessionRunning && sess.LastHeartbeat != nil {
			fmt.Printf("  %sheartbeat %s ago%s", colorDim, time.Since(*sess.LastHeartbeat).Truncate(time.Second), colorReset)
		}
		if m := sess.Metrics; m != nil {
			fmt.Printf("  %s%.0fs, %d tasks%s", colorDim, m.DurationSeconds, m.TasksCompleted, colorReset)
		}
		if sess.Error != "" {
			fmt.Printf("  %s%s%s", colorRed, sess.Error, colorReset)
		}
		fmt.Println()
	}
	return nil
}
