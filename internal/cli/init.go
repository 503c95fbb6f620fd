package cli

import (
	"fmt"
	"os"

	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize drover in the current directory",
	Long:  "Creates a .drover/ directory with default config and database, plus the generations directory projects live in.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(droverDirName); err == nil {
		return fmt.Errorf("drover already initialized in this directory (.drover/ exists)")
	}

	if err := os.MkdirAll(droverPath("logs"), 0755); err != nil {
		return fmt.Errorf("create .drover/logs: %w", err)
	}

	cfg := config.DefaultConfig()
	if err := config.Save(droverPath("config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if err := os.MkdirAll(cfg.Project.GenerationsDir, 0755); err != nil {
		return fmt.Errorf("create generations dir: %w", err)
	}

	// Opening the store runs the schema migration.
	s, err := store.New(droverPath("drover.db"))
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	s.Close()

	fmt.Println("Initialized drover in .drover/")
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit .drover/config.yaml (sandbox image, agent command, models)")
	fmt.Println("  2. Run: drover create my-app")
	fmt.Println("  3. Run: drover run my-app")
	return nil
}
