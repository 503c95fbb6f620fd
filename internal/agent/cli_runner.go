package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/imkarma/drover/internal/bridge"
	"github.com/imkarma/drover/internal/config"
)

// CLIRunner spawns an external agent CLI (claude, codex, ...) with the
// session prompt. The spawned tool reaches the task ledger and the sandbox
// through the bridge protocol; this process only supervises it.
type CLIRunner struct {
	name string
	cfg  config.Agent
}

// NewCLIRunner creates a runner for the configured agent command.
func NewCLIRunner(cfg config.Agent) *CLIRunner {
	return &CLIRunner{name: cfg.Cmd, cfg: cfg}
}

func (r *CLIRunner) Name() string { return r.name }

// Run spawns the agent process with the prompt as its final argument and the
// project directory as working directory. A non-zero exit is returned in the
// response, not as an error; only spawn/timeout failures are errors.
func (r *CLIRunner) Run(ctx context.Context, req Request, br *bridge.Bridge) (*Response, error) {
	args := make([]string, len(r.cfg.Args))
	copy(args, r.cfg.Args)
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, req.Prompt)

	timeout := time.Duration(r.cfg.DefaultTimeout()) * time.Second
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Cmd, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(cmd.Environ(),
		fmt.Sprintf("DROVER_SESSION_ID=%d", req.SessionID),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Seconds()

	resp := &Response{Output: stdout.String(), Duration: duration}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return resp, fmt.Errorf("agent %s timed out after %s", r.name, timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			resp.ExitCode = exitErr.ExitCode()
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				resp.Output += "\n" + msg
			}
			return resp, nil
		}
		return resp, fmt.Errorf("spawn agent %s: %w", r.name, err)
	}
	return resp, nil
}

// CLIAvailable checks if the agent command exists in PATH.
func CLIAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
