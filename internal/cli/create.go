package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new project",
	Long:  "Registers a project and creates its directory under generations/. The first session against it will be the roadmap initializer.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	s, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, err := mustConfig()
	if err != nil {
		return err
	}

	project, err := s.CreateProject(args[0])
	if err != nil {
		return err
	}

	dir := projectDir(cfg, project.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	fmt.Printf("Created project %s%s%s (#%d)\n", colorCyan, project.Name, colorReset, project.ID)
	fmt.Printf("  Directory: %s\n", dir)
	fmt.Printf("  Next: %sdrover run %s%s\n", colorCyan, project.Name, colorReset)
	return nil
}
