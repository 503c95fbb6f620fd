package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Autonomous coding session orchestrator",
	Long: "drover — drives autonomous AI coding sessions against isolated environments.\n" +
		"One initializer session plans the roadmap; coding sessions work through it\n" +
		"task by task until every verification test passes.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
