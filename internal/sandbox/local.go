package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"
)

// localSandbox passes commands straight to the host. No isolation; meant for
// trusted local runs where the overhead of a container is not wanted.
type localSandbox struct {
	workDir string
}

func newLocal(cfg Config) *localSandbox {
	return &localSandbox{workDir: cfg.ProjectDir}
}

func (l *localSandbox) Start(ctx context.Context) error { return nil }
func (l *localSandbox) Stop(ctx context.Context) error  { return nil }

func (l *localSandbox) WorkDir() string { return l.workDir }

// Exec runs the command through sh -c in the project directory. The command
// gets its own process group so a timeout kills the whole tree, not just the
// shell.
func (l *localSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = l.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return timeoutResult(timeout, stdout.String(), stderr.String()), nil
	}

	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Stderr += err.Error()
		}
	}
	return res, nil
}

// The host shares the filesystem with the caller, so transfers are no-ops.
func (l *localSandbox) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return nil
}

func (l *localSandbox) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return nil
}

func (l *localSandbox) SyncDir(ctx context.Context, localDir, remoteDir string) error {
	return nil
}
