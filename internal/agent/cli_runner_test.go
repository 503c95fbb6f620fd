package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/imkarma/drover/internal/config"
)

func TestCLIRunner_Run(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "echo", Args: []string{"agent"}})

	resp, err := r.Run(context.Background(), Request{
		SessionID: 7,
		Prompt:    "do the work",
		WorkDir:   t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", resp.ExitCode)
	}
	// The prompt is the final argument.
	if !strings.Contains(resp.Output, "do the work") {
		t.Errorf("prompt not passed through, output %q", resp.Output)
	}
	if resp.Duration <= 0 {
		t.Error("duration not measured")
	}
}

func TestCLIRunner_ModelFlag(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "echo"})

	resp, err := r.Run(context.Background(), Request{Model: "fast-model", Prompt: "p", WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(resp.Output, "--model fast-model") {
		t.Errorf("model flag missing, output %q", resp.Output)
	}
}

func TestCLIRunner_NonZeroExitIsResponse(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "sh", Args: []string{"-c", "exit 3", "--"}})

	resp, err := r.Run(context.Background(), Request{WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if resp.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", resp.ExitCode)
	}
}

func TestCLIRunner_SpawnFailure(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "definitely-not-a-real-binary"})

	if _, err := r.Run(context.Background(), Request{WorkDir: t.TempDir()}, nil); err == nil {
		t.Fatal("expected spawn error")
	}
}

func TestCLIRunner_Timeout(t *testing.T) {
	r := NewCLIRunner(config.Agent{Cmd: "sleep", Args: []string{"10"}})

	_, err := r.Run(context.Background(), Request{TimeoutSec: 1, WorkDir: t.TempDir()}, nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestCLIAvailable(t *testing.T) {
	if !CLIAvailable("sh") {
		t.Error("sh should be available")
	}
	if CLIAvailable("definitely-not-a-real-binary") {
		t.Error("nonexistent command reported available")
	}
}
