package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/store"
)

const droverDirName = ".drover"

// ANSI color codes.
const (
	colorReset   = "\033[0m"
	colorBold    = "\033[1m"
	colorDim     = "\033[2m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
)

// droverPath returns the path to a file inside .drover/.
func droverPath(parts ...string) string {
	elems := append([]string{droverDirName}, parts...)
	return filepath.Join(elems...)
}

// mustStore opens the store, returning an error if drover is not initialized.
func mustStore() (*store.Store, error) {
	dbPath := droverPath("drover.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("drover not initialized. Run: drover init")
	}
	return store.New(dbPath)
}

// mustConfig loads the workspace configuration.
func mustConfig() (*config.Config, error) {
	return config.Load(droverPath("config.yaml"))
}

// resolveProject finds a project by name.
func resolveProject(s *store.Store, name string) (*store.Project, error) {
	p, err := s.GetProjectByName(name)
	if err != nil {
		return nil, fmt.Errorf("project %q not found (try: drover create %s)", name, name)
	}
	return p, nil
}

// projectDir returns the host directory holding a project's file tree.
func projectDir(cfg *config.Config, name string) string {
	return filepath.Join(cfg.Project.GenerationsDir, name)
}

func statusColor(status store.SessionStatus) string {
	switch status {
	case store.SessionRunning:
		return colorBlue
	case store.SessionCompleted:
		return colorGreen
	case store.SessionError:
		return colorRed
	case store.SessionInterrupted:
		return colorYellow
	default:
		return colorWhite
	}
}
