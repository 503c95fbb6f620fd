// Package config loads the drover YAML configuration with typed fields and
// documented defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a drover workspace.
type Config struct {
	Version  int      `yaml:"version"`
	Models   Models   `yaml:"models"`
	Timing   Timing   `yaml:"timing"`
	Security Security `yaml:"security"`
	Sandbox  Sandbox  `yaml:"sandbox"`
	Project  Project  `yaml:"project"`
	Agent    Agent    `yaml:"agent"`
}

// Models selects which model drives each session type.
type Models struct {
	Initializer string `yaml:"initializer"`
	Coding      string `yaml:"coding"`
	Review      string `yaml:"review,omitempty"`
}

// Timing controls the session loop cadence.
type Timing struct {
	AutoContinueDelaySec int `yaml:"auto_continue_delay_sec"` // Pause between auto-continued sessions.
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_sec"`  // Liveness refresh while running.
	StaleThresholdMin    int `yaml:"stale_threshold_min"`     // Heartbeat age that marks a session crashed.
}

// Security appends deployment-time terms to the built-in command deny list.
type Security struct {
	AdditionalBlockedCommands []string `yaml:"additional_blocked_commands,omitempty"`
}

// Sandbox selects and parameterizes the execution backend.
type Sandbox struct {
	Type        string   `yaml:"type"`         // "none", "docker" or "cloud".
	Image       string   `yaml:"image"`        // Container image for the docker backend.
	MemoryLimit string   `yaml:"memory_limit"` // e.g. "2g".
	CPULimit    float64  `yaml:"cpu_limit"`    // e.g. 2.0.
	Ports       []string `yaml:"ports,omitempty"`
}

// Project controls where project trees live and how long the loop may run.
type Project struct {
	GenerationsDir string `yaml:"generations_dir"`
	MaxIterations  int    `yaml:"max_iterations"` // 0 = unlimited sessions per run.
}

// Agent describes the external agent CLI the controller drives.
type Agent struct {
	Cmd        string   `yaml:"cmd"`
	Args       []string `yaml:"args,omitempty"`
	TimeoutSec int      `yaml:"timeout_sec,omitempty"` // 0 = default 3600.
}

// DefaultTimeout returns the effective per-session agent timeout.
func (a Agent) DefaultTimeout() int {
	if a.TimeoutSec > 0 {
		return a.TimeoutSec
	}
	return 3600
}

// Load reads and parses the config file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a starter config with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Models: Models{
			Initializer: "claude-opus-4-5",
			Coding:      "claude-sonnet-4-5",
		},
		Timing: Timing{
			AutoContinueDelaySec: 3,
			HeartbeatIntervalSec: 30,
			StaleThresholdMin:    10,
		},
		Sandbox: Sandbox{
			Type:        "docker",
			Image:       "drover-sandbox:latest",
			MemoryLimit: "2g",
			CPULimit:    2.0,
		},
		Project: Project{
			GenerationsDir: "generations",
		},
		Agent: Agent{
			Cmd: "claude",
		},
	}
}

func (c *Config) validate() error {
	switch c.Sandbox.Type {
	case "", "none", "docker", "cloud":
	default:
		return fmt.Errorf("sandbox type must be 'none', 'docker' or 'cloud', got %q", c.Sandbox.Type)
	}
	if c.Timing.HeartbeatIntervalSec < 0 || c.Timing.StaleThresholdMin < 0 || c.Timing.AutoContinueDelaySec < 0 {
		return fmt.Errorf("timing values must not be negative")
	}
	if c.Sandbox.Type == "docker" && c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox image is required for docker type")
	}
	return nil
}
