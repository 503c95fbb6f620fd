package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/imkarma/drover/internal/agent"
	"github.com/imkarma/drover/internal/sandbox"
	"github.com/imkarma/drover/internal/session"
	"github.com/imkarma/drover/internal/store"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [project]",
	Short: "Run autonomous sessions against a project",
	Long: `Runs the session loop for a project:

  - The very first session plans the roadmap (initializer).
  - Every later session picks the next task, implements it, verifies its
    tests, and marks it done.
  - The loop auto-continues while incomplete tasks remain, the project is
    active, and no interruption was requested.

Ctrl+C interrupts cleanly: the session is recorded as interrupted and the
sandbox environment is kept for the next run.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runMaxIterations int
	runReview        bool
)

func init() {
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Maximum sessions this invocation may run (0 = config default)")
	runCmd.Flags().BoolVar(&runReview, "review", false, "Run a single review session instead of the coding loop")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
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

	dir, err := filepath.Abs(projectDir(cfg, project.Name))
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("project directory %s missing", dir)
	}

	maxIterations := runMaxIterations
	if maxIterations == 0 {
		maxIterations = cfg.Project.MaxIterations
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := agent.NewCLIRunner(cfg.Agent)
	reg := sandbox.NewRegistry()

	fmt.Printf("%s╔══════════════════════════════════════╗%s\n", colorBold, colorReset)
	fmt.Printf("%s║  drover run                          ║%s\n", colorBold, colorReset)
	fmt.Printf("%s╚══════════════════════════════════════╝%s\n\n", colorBold, colorReset)
	fmt.Printf("  Project:  %s%s%s\n", colorCyan, project.Name, colorReset)
	fmt.Printf("  Sandbox:  %s\n", cfg.Sandbox.Type)
	fmt.Printf("  Agent:    %s\n\n", cfg.Agent.Cmd)

	for iteration := 1; ; iteration++ {
		sessType, err := nextSessionType(s, project.ID)
		if err != nil {
			return err
		}
		if runReview {
			sessType = store.SessionReview
		}

		fmt.Printf("  %s▶ session (%s)...%s\n", colorBlue, sessType, colorReset)

		ctrl := session.New(s, reg, cfg, runner, project, sessType, dir)
		outcome, err := ctrl.Run(ctx)
		if err != nil {
			printOutcome(outcome)
			return err
		}
		printOutcome(outcome)

		if runReview || !outcome.Continue {
			break
		}
		if maxIterations > 0 && iteration >= maxIterations {
			fmt.Printf("  %sreached max iterations (%d)%s\n", colorYellow, maxIterations, colorReset)
			break
		}
		if ctx.Err() != nil {
			break
		}

		delay := time.Duration(cfg.Timing.AutoContinueDelaySec) * time.Second
		if delay > 0 {
			fmt.Printf("  %scontinuing in %s...%s\n\n", colorDim, delay, colorReset)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	}

	progress, err := s.ProgressSummary(project.ID)
	if err == nil {
		fmt.Printf("\n  Tasks: %d/%d done, tests: %d/%d passing\n",
			progress.TasksCompleted, progress.TasksTotal, progress.TestsPassing, progress.TestsTotal)
	}
	return nil
}

// nextSessionType picks initializer for a project with no roadmap yet,
// coding otherwise. The store enforces the same invariant transactionally;
// this just avoids creating sessions destined to fail.
func nextSessionType(s *store.Store, projectID int64) (store.SessionType, error) {
	epics, err := s.EpicCount(projectID)
	if err != nil {
		return "", err
	}
	if epics == 0 {
		return store.SessionInitializer, nil
	}
	return store.SessionCoding, nil
}

func printOutcome(outcome *session.Outcome) {
	if outcome == nil || outcome.Session == nil {
		return
	}
	sess := outcome.Session
	color := statusColor(sess.Status)
	fmt.Printf("  %s■ session %d: %s%s", color, sess.Number, sess.Status, colorReset)
	if sess.Error != "" {
		fmt.Printf(" %s(%s)%s", colorDim, sess.Error, colorReset)
	}
	if m := sess.Metrics; m != nil {
		fmt.Printf("  %s%.0fs, %d tool calls, %d tasks done%s",
			colorDim, m.DurationSeconds, m.ToolCalls, m.TasksCompleted, colorReset)
	}
	fmt.Println()
}
