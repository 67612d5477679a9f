// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the bundle CLI command tree. Each command
// is a thin layer over lib/bundle and lib/deploy: flag parsing,
// configuration loading, and report rendering live here, deployment
// semantics do not.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/bundle/cmd/bundle/cli"
	"github.com/bureau-foundation/bundle/lib/version"
)

// Root builds the complete bundle command tree. Reports are written
// to stdout; logs go to stderr.
func Root(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name: "bundle",
		Description: `bundle: deploy versioned bundles into managed directories.

Each deployment records the digest of every file it lays down, backs
up anything it replaces or removes, and can be reverted so that files
edited after the last deployment are restored from backup.`,
		Subcommands: []*cli.Command{
			deployCommand(stdout),
			previewCommand(stdout),
			revertCommand(stdout),
			statusCommand(stdout),
			historyCommand(stdout),
			keygenCommand(stdout),
			versionCommand(stdout),
		},
	}
}

func versionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			_, err := fmt.Fprintf(stdout, "bundle %s\n", version.Full())
			return err
		},
	}
}
