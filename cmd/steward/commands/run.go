// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/steward/cmd/steward/cli"
	"github.com/bureau-foundation/steward/lib/checkpoint"
	"github.com/bureau-foundation/steward/lib/config"
	"github.com/bureau-foundation/steward/lib/flow"
	"github.com/bureau-foundation/steward/lib/jsonl"
	"github.com/bureau-foundation/steward/lib/process"
	"github.com/bureau-foundation/steward/lib/session"
	"github.com/bureau-foundation/steward/lib/steward"
)

func runCommand() *cli.Command {
	var (
		configPath       string
		model            string
		systemPrompt     string
		workingDirectory string
		maxTurns         int
		projectID        string
		restoreRef       string
		checkpointOnExit bool
		verbose          bool
	)

	return &cli.Command{
		Name:    "run",
		Summary: "run an interactive agent session",
		Description: `Run an agent session wired to this terminal: JSON lines on stdin
are sent to the agent, and agent frames are printed to stdout, one
per line. Ctrl-C cancels the session gracefully.`,
		Usage: "steward run [flags]",
		Examples: []cli.Example{
			{
				Description: "start a session and checkpoint it on exit",
				Command:     "steward run --model opus --checkpoint-on-exit",
			},
			{
				Description: "continue from a stored checkpoint",
				Command:     "steward run --restore <hash>",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file (default: $STEWARD_CONFIG)")
			flags.StringVar(&model, "model", "", "model name for the agent")
			flags.StringVar(&systemPrompt, "system-prompt", "", "system prompt override")
			flags.StringVar(&workingDirectory, "dir", "", "agent working directory")
			flags.IntVar(&maxTurns, "max-turns", 0, "turn limit (0 = unlimited)")
			flags.StringVar(&projectID, "project", "", "project identifier for session listing")
			flags.StringVar(&restoreRef, "restore", "", "checkpoint hash to restore from")
			flags.BoolVar(&checkpointOnExit, "checkpoint-on-exit", false, "store a checkpoint when the session ends")
			flags.BoolVar(&verbose, "verbose", false, "operational logging on stderr")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("run takes no positional arguments (got %q)", args[0])
			}
			return runSession(runOptions{
				configPath:       configPath,
				model:            model,
				systemPrompt:     systemPrompt,
				workingDirectory: workingDirectory,
				maxTurns:         maxTurns,
				projectID:        projectID,
				restoreRef:       restoreRef,
				checkpointOnExit: checkpointOnExit,
				verbose:          verbose,
			})
		},
	}
}

type runOptions struct {
	configPath       string
	model            string
	systemPrompt     string
	workingDirectory string
	maxTurns         int
	projectID        string
	restoreRef       string
	checkpointOnExit bool
	verbose          bool
}

func runSession(opts runOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(opts.verbose)

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	supervisor := process.NewSupervisor(nil, logger)
	managerCfg := managerConfig(cfg, logger)
	managerCfg.CheckpointOnTerminal = opts.checkpointOnExit
	manager, err := steward.NewManager(managerCfg, supervisor, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer manager.Shutdown(context.Background())

	s, err := openRunSession(ctx, manager, opts)
	if err != nil {
		return err
	}

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "session %s started\n", s.ID())

	// Stdin lines become outbound frames. The reader applies the same
	// framing rules as the agent stream, so oversized or non-JSON input
	// is rejected here instead of reaching the agent.
	go forwardStdin(ctx, s, cfg, logger)

	// Agent frames print to stdout until the stream closes.
	for {
		message, err := s.Receive(ctx)
		if err != nil {
			if errors.Is(err, flow.ErrClosed) {
				break
			}
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("receiving: %w", err)
		}
		fmt.Printf("%s\n", message.Payload)
	}

	// Cancel is a no-op for sessions that already reached a terminal
	// state on their own.
	if err := s.Cancel(context.Background()); err != nil {
		logger.Warn("cancelling session", "error", err)
	}

	if opts.checkpointOnExit {
		// The manager took the final checkpoint as the session went
		// terminal; report its hash for later --restore.
		records, err := manager.ListCheckpoints(context.Background(), s.ID())
		if err != nil {
			return fmt.Errorf("listing checkpoints: %w", err)
		}
		if len(records) > 0 {
			last := records[len(records)-1]
			fmt.Fprintf(os.Stderr, "checkpoint %s (%s)\n",
				checkpoint.FormatHash(last.Hash), checkpoint.FormatRef(last.Hash))
		}
	}

	if sessionErr := s.Err(); sessionErr != nil {
		return fmt.Errorf("session failed: %w", sessionErr)
	}
	if status, ok := s.ExitStatus(); ok && status.Code != 0 {
		fmt.Fprintf(os.Stderr, "agent exited with status %d\n", status.Code)
	}
	return nil
}

// openRunSession creates a fresh session or restores one from a
// checkpoint hash, depending on the flags.
func openRunSession(ctx context.Context, manager *steward.Manager, opts runOptions) (*session.Session, error) {
	sessionContext := session.Context{
		Model:            opts.model,
		SystemPrompt:     opts.systemPrompt,
		WorkingDirectory: opts.workingDirectory,
		MaxTurns:         opts.maxTurns,
	}

	if opts.restoreRef != "" {
		hash, err := checkpoint.ParseHash(opts.restoreRef)
		if err != nil {
			return nil, fmt.Errorf("--restore: %w (use the full hash from 'steward checkpoint list')", err)
		}
		s, err := manager.RestoreCheckpoint(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("restoring %s: %w", checkpoint.FormatRef(hash), err)
		}
		return s, nil
	}

	create := steward.CreateConfig{Context: sessionContext}
	if opts.projectID != "" {
		create.Project = &steward.Project{ID: opts.projectID}
	}
	return manager.CreateSession(ctx, create)
}

// forwardStdin pumps JSON lines from stdin into the session until
// stdin closes, the session stops accepting, or ctx is cancelled.
// Malformed or oversized input lines are reported and skipped; the
// session keeps running.
func forwardStdin(ctx context.Context, s *session.Session, cfg *config.Config, logger *slog.Logger) {
	trailing := jsonl.TrailingFinalLine
	if cfg.Stream.TrailingPolicy == "discard" {
		trailing = jsonl.TrailingDiscard
	}
	reader := jsonl.NewReader(os.Stdin, jsonl.ReaderConfig{
		MaxLineBytes: cfg.Stream.MaxLineBytes,
		Trailing:     trailing,
	})

	for {
		payload, err := reader.Next()
		if err != nil {
			var tooLarge *jsonl.FrameTooLargeError
			var decode *jsonl.DecodeError
			if errors.As(err, &tooLarge) || errors.As(err, &decode) {
				fmt.Fprintf(os.Stderr, "input skipped: %v\n", err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				logger.Warn("reading stdin", "error", err)
			}
			return
		}
		if err := s.Send(ctx, json.RawMessage(payload)); err != nil {
			var invalid *session.InvalidStateError
			if errors.As(err, &invalid) {
				return
			}
			logger.Warn("sending frame", "error", err)
			return
		}
	}
}

// managerConfig maps the file configuration onto the manager.
func managerConfig(cfg *config.Config, logger *slog.Logger) steward.Config {
	trailing := jsonl.TrailingFinalLine
	if cfg.Stream.TrailingPolicy == "discard" {
		trailing = jsonl.TrailingDiscard
	}

	return steward.Config{
		Command: process.Spec{
			Executable:      cfg.Agent.Binary,
			Args:            cfg.Agent.Args,
			Env:             cfg.Agent.Env,
			StderrRingBytes: cfg.Sessions.StderrRingBytes,
		},
		QueueCapacity:  cfg.Stream.QueueCapacity,
		MaxLineBytes:   cfg.Stream.MaxLineBytes,
		Trailing:       trailing,
		StartupGrace:   cfg.Sessions.StartupGrace.Std(),
		TerminateGrace: cfg.Sessions.TerminateGrace.Std(),
		DrainTimeout:   cfg.Sessions.DrainTimeout.Std(),
		SessionLogDir:  cfg.Sessions.LogDir,
		Logger:         logger,
	}
}
