// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/bureau-foundation/bundle/cmd/bundle/cli"
	"github.com/bureau-foundation/bundle/lib/backup"
	"github.com/bureau-foundation/bundle/lib/deploy"
)

type historyParams struct {
	cli.JSONOutput
	cli.LoggingParams
}

type historyEntry struct {
	deploy.DeploymentProperties
	Current bool     `json:"current"`
	Backups []string `json:"backups"`
}

func historyCommand(stdout io.Writer) *cli.Command {
	var params historyParams

	return &cli.Command{
		Name:    "history",
		Summary: "List every recorded deployment of a directory",
		Description: `List the deployments recorded in a directory, oldest first, with
the files each one backed up.`,
		Usage: "bundle history <dir> [flags]",
		Examples: []cli.Example{
			{
				Description: "List deployments as JSON",
				Command:     "bundle history /opt/myapp --json",
			},
		},
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one directory, got %d arguments", len(args))
			}
			deployDir, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving deploy dir: %w", err)
			}

			entries, err := deploymentHistory(deployDir)
			if err != nil {
				return err
			}
			logger.Debug("read deployment history", "deploy_dir", deployDir, "deployments", len(entries))

			if done, err := params.EmitJSON(stdout, entries); done {
				return err
			}
			return writeHistory(stdout, deployDir, entries)
		},
	}
}

func deploymentHistory(deployDir string) ([]historyEntry, error) {
	metadata := deploy.NewMetadata(deployDir)
	deployments, err := metadata.Deployments()
	if err != nil {
		return nil, err
	}
	currentID := -1
	if current, err := metadata.Current(); err == nil {
		currentID = current.DeploymentID
	}

	entries := make([]historyEntry, 0, len(deployments))
	for _, deployment := range deployments {
		// Listing reads only the manifest; no identity is needed.
		inside, external := metadata.BackupStores(deployment.DeploymentID, backup.Options{})
		backups, err := inside.List()
		if err != nil {
			return nil, fmt.Errorf("listing backups of deployment %d: %w", deployment.DeploymentID, err)
		}
		externalBackups, err := external.List()
		if err != nil {
			return nil, fmt.Errorf("listing external backups of deployment %d: %w", deployment.DeploymentID, err)
		}
		backups = append(backups, externalBackups...)

		entries = append(entries, historyEntry{
			DeploymentProperties: deployment,
			Current:              deployment.DeploymentID == currentID,
			Backups:              backups,
		})
	}
	return entries, nil
}
