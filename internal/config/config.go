// Package config provides configuration loading for swarmd.
//
// Configuration is loaded from a YAML file overridden by environment
// variables, with hardcoded defaults for anything left unset.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete swarmd configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Bus      BusConfig      `koanf:"bus"`
	Swarm    SwarmConfig    `koanf:"swarm"`
	Sandbox  SandboxConfig  `koanf:"sandbox"`
	Lineage  LineageConfig  `koanf:"lineage"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BusConfig holds message bus configuration.
type BusConfig struct {
	// URL of an external NATS server. Ignored when Embedded is true.
	URL string `koanf:"url"`

	// Embedded starts an in-process NATS server instead of connecting out.
	Embedded bool `koanf:"embedded"`

	// Retention is how long a message to a topic with no subscribers is
	// held before being reported undeliverable.
	Retention time.Duration `koanf:"retention"`
}

// SwarmConfig holds agent population and consensus configuration.
type SwarmConfig struct {
	// EvaluateTimeout bounds a single agent's Evaluate call. A per-role
	// override wins over this default.
	EvaluateTimeout time.Duration `koanf:"evaluate_timeout"`

	// RoleTimeouts overrides EvaluateTimeout for specific roles.
	RoleTimeouts map[string]time.Duration `koanf:"role_timeouts"`

	// MaxAttempts bounds refinement cycles per task lineage.
	MaxAttempts int `koanf:"max_attempts"`

	// MaxArchitectureRetries bounds re-architecture loops, separately
	// from the sandbox retry budget.
	MaxArchitectureRetries int `koanf:"max_architecture_retries"`

	// BlockingSeverity is the minimum veto severity that fails a gate.
	// Vetoes below it are advisory.
	BlockingSeverity string `koanf:"blocking_severity"`

	// Quorum is the number of approvals a gate requires. Zero means the
	// whole squad.
	Quorum int `koanf:"quorum"`
}

// SandboxConfig holds sandbox executor configuration.
type SandboxConfig struct {
	// RunTimeout is the wall-clock bound for one sandbox run.
	RunTimeout time.Duration `koanf:"run_timeout"`

	// WorkDir is where per-run scratch directories are created.
	// Empty means the system temp dir.
	WorkDir string `koanf:"work_dir"`

	// MaxOutputBytes caps captured stdout+stderr per run.
	MaxOutputBytes int64 `koanf:"max_output_bytes"`
}

// LineageConfig holds lineage persistence configuration.
type LineageConfig struct {
	// Dir is the directory for durable lineage records.
	Dir string `koanf:"dir"`
}

// LoggingConfig holds the subset of logging settings exposed via config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be > 0, got %v", c.Server.ShutdownTimeout)
	}
	if !c.Bus.Embedded && c.Bus.URL == "" {
		return fmt.Errorf("bus url required when embedded server is disabled")
	}
	if c.Bus.Retention <= 0 {
		return fmt.Errorf("bus retention must be > 0, got %v", c.Bus.Retention)
	}
	if c.Swarm.EvaluateTimeout <= 0 {
		return fmt.Errorf("evaluate timeout must be > 0, got %v", c.Swarm.EvaluateTimeout)
	}
	if c.Swarm.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", c.Swarm.MaxAttempts)
	}
	if c.Swarm.MaxArchitectureRetries < 0 {
		return fmt.Errorf("max architecture retries must be >= 0, got %d", c.Swarm.MaxArchitectureRetries)
	}
	switch c.Swarm.BlockingSeverity {
	case "advisory", "blocking", "critical":
	default:
		return fmt.Errorf("blocking severity must be advisory, blocking or critical, got %q", c.Swarm.BlockingSeverity)
	}
	if c.Swarm.Quorum < 0 {
		return fmt.Errorf("quorum must be >= 0, got %d", c.Swarm.Quorum)
	}
	if c.Sandbox.RunTimeout <= 0 {
		return fmt.Errorf("sandbox run timeout must be > 0, got %v", c.Sandbox.RunTimeout)
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		return fmt.Errorf("sandbox max output bytes must be > 0, got %d", c.Sandbox.MaxOutputBytes)
	}
	if c.Lineage.Dir == "" {
		return fmt.Errorf("lineage dir is required")
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9611
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Bus.URL == "" {
		cfg.Bus.Embedded = true
	}
	if cfg.Bus.Retention == 0 {
		cfg.Bus.Retention = 30 * time.Second
	}

	if cfg.Swarm.EvaluateTimeout == 0 {
		cfg.Swarm.EvaluateTimeout = 60 * time.Second
	}
	if cfg.Swarm.MaxAttempts == 0 {
		cfg.Swarm.MaxAttempts = 5
	}
	if cfg.Swarm.MaxArchitectureRetries == 0 {
		cfg.Swarm.MaxArchitectureRetries = 2
	}
	if cfg.Swarm.BlockingSeverity == "" {
		cfg.Swarm.BlockingSeverity = "blocking"
	}

	if cfg.Sandbox.RunTimeout == 0 {
		cfg.Sandbox.RunTimeout = 2 * time.Minute
	}
	if cfg.Sandbox.MaxOutputBytes == 0 {
		cfg.Sandbox.MaxOutputBytes = 1 << 20 // 1MB
	}

	if cfg.Lineage.Dir == "" {
		cfg.Lineage.Dir = defaultLineageDir()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
