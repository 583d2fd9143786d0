// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the steward command tree.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/steward/cmd/steward/cli"
	"github.com/bureau-foundation/steward/lib/checkpoint"
	"github.com/bureau-foundation/steward/lib/config"
	"github.com/bureau-foundation/steward/lib/version"
)

// Root returns the top-level steward command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "steward",
		Summary: "supervise coding agent sessions with checkpointing",
		Description: `steward runs a coding agent as a supervised subprocess, speaking
newline-delimited JSON over its stdin/stdout, and persists session
checkpoints to a content-addressed local store.`,
		Subcommands: []*cli.Command{
			runCommand(),
			checkpointCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print version information",
		Run: func(args []string) error {
			fmt.Printf("steward %s\n", version.Info())
			return nil
		},
	}
}

// loadConfig loads and validates the configuration: from the explicit
// path when given, otherwise from STEWARD_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the checkpoint store named by the configuration.
func openStore(cfg *config.Config, logger *slog.Logger) (*checkpoint.Store, error) {
	return checkpoint.Open(checkpoint.Config{
		Root:        cfg.Store.Path,
		Compression: cfg.Store.Compression,
		Logger:      logger,
	})
}

// newLogger builds the operational logger: text on stderr when verbose,
// discard otherwise. Protocol frames go to stdout, so logging must stay
// off it.
func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
