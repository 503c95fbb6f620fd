// Package agent is the boundary to the external agent loop. The controller
// treats it as an opaque worker: it hands over a prompt and a bridge, and
// observes normal completion, error, or cancellation.
package agent

import (
	"context"

	"github.com/imkarma/drover/internal/bridge"
)

// Request carries everything one session's unit of work needs.
type Request struct {
	SessionID  int64
	Prompt     string
	WorkDir    string
	Model      string
	TimeoutSec int
}

// Response is what comes back from a completed agent run.
type Response struct {
	Output   string
	ExitCode int
	Duration float64 // Seconds.
}

// Runner executes one bounded unit of agent work. Implementations call the
// bridge for every store mutation and command execution; they never touch
// the store or sandbox directly.
type Runner interface {
	Run(ctx context.Context, req Request, br *bridge.Bridge) (*Response, error)
	Name() string
}
