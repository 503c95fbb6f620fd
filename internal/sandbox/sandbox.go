// Package sandbox provides a uniform command-execution surface over a
// possibly-isolated environment. The container backend persists environments
// across sessions so dependency installs are not repeated; the local backend
// passes commands straight to the host for trusted use.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEnvironmentUnavailable means the backing isolation runtime cannot
	// be reached. Fatal to session start.
	ErrEnvironmentUnavailable = errors.New("isolation runtime unavailable")

	// ErrUnsupported marks a backend that is configured but not implemented.
	ErrUnsupported = errors.New("sandbox backend not supported")

	// ErrBusy means another controller currently holds the environment.
	ErrBusy = errors.New("environment held by another session")
)

// ExecResult captures one command execution. A non-zero exit code is data,
// never an error: callers inspect ExitCode and Stderr.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Sandbox is the execution surface handed to a session controller. Start and
// Stop manage the controller's attachment; for reusable backends Stop releases
// the environment without destroying it.
type Sandbox interface {
	// Start establishes or reattaches to the environment. Returns
	// ErrEnvironmentUnavailable when the isolation runtime is unreachable.
	Start(ctx context.Context) error

	// Stop releases controller-side resources. Reusable backends keep the
	// underlying environment alive for the next session.
	Stop(ctx context.Context) error

	// Exec runs a command in the environment's working directory. On
	// timeout the underlying process is killed and a synthetic non-zero
	// result with a timeout marker in stderr is returned.
	Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)

	// File transfer for backends without a shared filesystem view.
	// No-ops when the environment bind-mounts the project tree.
	UploadFile(ctx context.Context, localPath, remotePath string) error
	DownloadFile(ctx context.Context, remotePath, localPath string) error
	SyncDir(ctx context.Context, localDir, remoteDir string) error

	// WorkDir returns the path operations are rooted at.
	WorkDir() string
}

// Config selects and parameterizes a sandbox backend with named, typed
// fields. Type is one of "none", "docker", "cloud".
type Config struct {
	Type        string
	ProjectName string
	ProjectDir  string // Host path of the project tree.

	// Docker backend.
	Image       string
	MemoryLimit string   // e.g. "2g"
	CPULimit    float64  // e.g. 2.0
	Ports       []string // "host:container" pairs.

	// Fresh forces destroy-and-rebuild of an existing environment.
	// Initializer sessions set this: planning always starts clean.
	Fresh bool
}

// New builds a sandbox for the configured backend type.
func New(cfg Config, reg *Registry) (Sandbox, error) {
	switch cfg.Type {
	case "", "none":
		return newLocal(cfg), nil
	case "docker":
		return newDocker(cfg, reg)
	case "cloud":
		return &cloudSandbox{}, nil
	default:
		return nil, fmt.Errorf("unknown sandbox type %q", cfg.Type)
	}
}

// timeoutResult builds the synthetic result returned when a command exceeds
// its deadline.
func timeoutResult(timeout time.Duration, partialStdout, partialStderr string) *ExecResult {
	return &ExecResult{
		Stdout:   partialStdout,
		Stderr:   fmt.Sprintf("%scommand timed out after %s; process killed\n", partialStderr, timeout),
		ExitCode: 124,
		Duration: timeout,
		TimedOut: true,
	}
}
