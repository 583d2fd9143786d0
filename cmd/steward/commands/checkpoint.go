// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/steward/cmd/steward/cli"
	"github.com/bureau-foundation/steward/lib/checkpoint"
)

func checkpointCommand() *cli.Command {
	return &cli.Command{
		Name:    "checkpoint",
		Summary: "inspect and manage stored checkpoints",
		Subcommands: []*cli.Command{
			checkpointListCommand(),
			checkpointShowCommand(),
			checkpointDeleteCommand(),
		},
	}
}

func checkpointListCommand() *cli.Command {
	var configPath string
	var sessionID string

	return &cli.Command{
		Name:    "list",
		Summary: "list checkpoints for a session",
		Usage:   "steward checkpoint list --session <id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file (default: $STEWARD_CONFIG)")
			flags.StringVar(&sessionID, "session", "", "session identifier (required)")
			return flags
		},
		Run: func(args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, newLogger(false))
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListBySession(context.Background(), sessionID)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(os.Stderr, "no checkpoints for %s\n", sessionID)
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "REF\tCREATED\tSIZE\tCOMPRESSION\tPARENT\tHASH\n")
			for _, record := range records {
				parent := "-"
				if !record.Parent.IsZero() {
					parent = checkpoint.FormatRef(record.Parent)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					checkpoint.FormatRef(record.Hash),
					record.CreatedAt.Format("2006-01-02 15:04:05"),
					record.Size,
					record.Compression,
					parent,
					checkpoint.FormatHash(record.Hash),
				)
			}
			return tw.Flush()
		},
	}
}

func checkpointShowCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "show",
		Summary: "show one checkpoint and its ancestry",
		Usage:   "steward checkpoint show <hash> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file (default: $STEWARD_CONFIG)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one checkpoint hash required")
			}
			hash, err := checkpoint.ParseHash(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, newLogger(false))
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := context.Background()

			record, err := store.Stat(ctx, hash)
			if err != nil {
				return err
			}
			fmt.Printf("Checkpoint: %s\n", checkpoint.FormatHash(record.Hash))
			fmt.Printf("  Session:     %s\n", record.SessionID)
			fmt.Printf("  Created:     %s\n", record.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("  Size:        %d bytes\n", record.Size)
			fmt.Printf("  Compression: %s\n", record.Compression)
			if record.Parent.IsZero() {
				fmt.Printf("  Parent:      (none)\n")
			} else {
				fmt.Printf("  Parent:      %s\n", checkpoint.FormatHash(record.Parent))
			}

			chain, err := store.Chain(ctx, hash)
			if err != nil {
				return fmt.Errorf("walking ancestry: %w", err)
			}
			fmt.Printf("\nChain (oldest first, %d checkpoints):\n", len(chain))
			for _, ancestor := range chain {
				marker := " "
				if ancestor == hash {
					marker = "*"
				}
				fmt.Printf("  %s %s\n", marker, checkpoint.FormatRef(ancestor))
			}
			return nil
		},
	}
}

func checkpointDeleteCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "delete",
		Summary: "delete an unreferenced checkpoint",
		Usage:   "steward checkpoint delete <hash> [flags]",
		Description: `Delete a checkpoint that no other checkpoint names as parent.
Deleting a mid-chain checkpoint is refused; delete from the newest
end of the chain.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			flags.StringVar(&configPath, "config", "", "config file (default: $STEWARD_CONFIG)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one checkpoint hash required")
			}
			hash, err := checkpoint.ParseHash(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, newLogger(false))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(context.Background(), hash); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "deleted %s\n", checkpoint.FormatRef(hash))
			return nil
		},
	}
}
