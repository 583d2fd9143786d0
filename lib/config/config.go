// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for steward.
//
// Configuration is loaded from a single YAML file specified by:
//   - STEWARD_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "10s" or "2m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for steward.
type Config struct {
	// Agent configures the supervised subprocess.
	Agent AgentConfig `yaml:"agent"`

	// Stream configures the JSONL transport and backpressure queue.
	Stream StreamConfig `yaml:"stream"`

	// Sessions configures session lifecycle timeouts and logging.
	Sessions SessionsConfig `yaml:"sessions"`

	// Store configures the checkpoint store.
	Store StoreConfig `yaml:"store"`
}

// AgentConfig describes the agent binary every session runs.
type AgentConfig struct {
	// Binary is the executable path or name (resolved via PATH).
	Binary string `yaml:"binary"`

	// Args are passed to every session's process.
	Args []string `yaml:"args"`

	// Env is appended to the inherited environment.
	Env map[string]string `yaml:"env"`
}

// StreamConfig tunes the protocol transport.
type StreamConfig struct {
	// QueueCapacity bounds the inbound message queue per session.
	// Default: 256.
	QueueCapacity int `yaml:"queue_capacity"`

	// MaxLineBytes bounds a single protocol line in both directions.
	// Default: 1 MiB.
	MaxLineBytes int `yaml:"max_line_bytes"`

	// TrailingPolicy selects what happens to a final stdout line
	// without a trailing newline: "final-line" parses it, "discard"
	// drops it. Default: final-line.
	TrailingPolicy string `yaml:"trailing_policy"`
}

// SessionsConfig tunes session lifecycle behavior.
type SessionsConfig struct {
	// StartupGrace is how long a starting session waits for the first
	// frame before the stream is considered confirmed. Default: 10s.
	StartupGrace Duration `yaml:"startup_grace"`

	// TerminateGrace is the SIGTERM-to-SIGKILL window. Default: 5s.
	TerminateGrace Duration `yaml:"terminate_grace"`

	// DrainTimeout bounds post-exit stdout draining. Default: 5s.
	DrainTimeout Duration `yaml:"drain_timeout"`

	// StderrRingBytes bounds the diagnostic stderr capture per
	// session. Default: 64 KiB.
	StderrRingBytes int `yaml:"stderr_ring_bytes"`

	// LogDir, when set, enables per-session JSONL message logs.
	LogDir string `yaml:"log_dir"`
}

// StoreConfig configures checkpoint persistence.
type StoreConfig struct {
	// Path is the checkpoint store root directory.
	Path string `yaml:"path"`

	// Compression selects the snapshot blob compression: "auto"
	// (probe per snapshot), "zstd", "lz4", or "none". Default: auto.
	Compression string `yaml:"compression"`
}

// Default returns the default configuration. These defaults are a base
// before loading the config file; Agent.Binary has no default and must
// come from the file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "steward")

	return &Config{
		Stream: StreamConfig{
			QueueCapacity:  256,
			MaxLineBytes:   1 << 20,
			TrailingPolicy: "final-line",
		},
		Sessions: SessionsConfig{
			StartupGrace:    Duration(10 * time.Second),
			TerminateGrace:  Duration(5 * time.Second),
			DrainTimeout:    Duration(5 * time.Second),
			StderrRingBytes: 64 * 1024,
		},
		Store: StoreConfig{
			Path:        filepath.Join(defaultRoot, "checkpoints"),
			Compression: "auto",
		},
	}
}

// Load loads configuration from the STEWARD_CONFIG environment
// variable. There are no fallbacks: if STEWARD_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("STEWARD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("STEWARD_CONFIG environment variable not set; " +
			"set it to the path of your steward.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, layered over
// Default. The config file is the single source of truth; environment
// variables never override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.Binary == "" {
		errs = append(errs, fmt.Errorf("agent.binary is required"))
	}
	if c.Stream.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("stream.queue_capacity must be positive"))
	}
	if c.Stream.MaxLineBytes <= 0 {
		errs = append(errs, fmt.Errorf("stream.max_line_bytes must be positive"))
	}
	switch c.Stream.TrailingPolicy {
	case "final-line", "discard":
	default:
		errs = append(errs, fmt.Errorf("stream.trailing_policy must be \"final-line\" or \"discard\""))
	}
	if c.Sessions.StartupGrace <= 0 {
		errs = append(errs, fmt.Errorf("sessions.startup_grace must be positive"))
	}
	if c.Sessions.TerminateGrace <= 0 {
		errs = append(errs, fmt.Errorf("sessions.terminate_grace must be positive"))
	}
	if c.Sessions.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sessions.drain_timeout must be positive"))
	}
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	switch c.Store.Compression {
	case "auto", "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("store.compression must be one of: auto, zstd, lz4, none"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Store.Path, c.Sessions.LogDir}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
