package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `version: 1
models:
  initializer: big-model
  coding: fast-model
timing:
  auto_continue_delay_sec: 5
security:
  additional_blocked_commands:
    - "git push --force"
sandbox:
  type: docker
  image: myimage:dev
  ports:
    - "3000:3000"
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Models.Initializer != "big-model" || cfg.Models.Coding != "fast-model" {
		t.Errorf("models not parsed: %+v", cfg.Models)
	}
	if cfg.Timing.AutoContinueDelaySec != 5 {
		t.Errorf("expected override 5, got %d", cfg.Timing.AutoContinueDelaySec)
	}
	// Unset fields keep their defaults.
	if cfg.Timing.HeartbeatIntervalSec != 30 {
		t.Errorf("expected default heartbeat 30, got %d", cfg.Timing.HeartbeatIntervalSec)
	}
	if cfg.Timing.StaleThresholdMin != 10 {
		t.Errorf("expected default stale threshold 10, got %d", cfg.Timing.StaleThresholdMin)
	}
	if len(cfg.Security.AdditionalBlockedCommands) != 1 {
		t.Errorf("blocked commands not parsed: %v", cfg.Security.AdditionalBlockedCommands)
	}
	if cfg.Sandbox.Image != "myimage:dev" || len(cfg.Sandbox.Ports) != 1 {
		t.Errorf("sandbox not parsed: %+v", cfg.Sandbox)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidSandboxType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("sandbox:\n  type: vmware\n"), 0644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown sandbox type")
	}
}

func TestLoad_DockerRequiresImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("sandbox:\n  type: docker\n  image: \"\"\n"), 0644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for docker without image")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Sandbox.Ports = []string{"3000:3000", "5173:5173"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Sandbox.Image != cfg.Sandbox.Image || len(got.Sandbox.Ports) != 2 {
		t.Errorf("round trip lost data: %+v", got.Sandbox)
	}
}

func TestAgentDefaultTimeout(t *testing.T) {
	if got := (Agent{}).DefaultTimeout(); got != 3600 {
		t.Errorf("expected default 3600, got %d", got)
	}
	if got := (Agent{TimeoutSec: 120}).DefaultTimeout(); got != 120 {
		t.Errorf("expected override 120, got %d", got)
	}
}
