// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/bureau-foundation/bundle/cmd/bundle/cli"
	"github.com/bureau-foundation/bundle/lib/deploy"
)

type statusParams struct {
	cli.JSONOutput
	cli.LoggingParams
}

type statusResult struct {
	DeployDir string                       `json:"deploy_dir"`
	Managed   bool                         `json:"managed"`
	Current   *deploy.DeploymentProperties `json:"current,omitempty"`
	Previous  *deploy.DeploymentProperties `json:"previous,omitempty"`
	Changes   *deploy.Summary              `json:"changes,omitempty"`
}

func statusCommand(stdout io.Writer) *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Show the live deployment of a directory",
		Description: `Show which bundle is deployed into a directory, the deployment
before it, and what the live deployment changed.

Exits 1 if the directory has never been deployed to.`,
		Usage: "bundle status <dir> [flags]",
		Examples: []cli.Example{
			{
				Description: "Show the live deployment",
				Command:     "bundle status /opt/myapp",
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

			result, err := deploymentStatus(deployDir)
			if err != nil {
				return err
			}
			logger.Debug("read deployment status", "deploy_dir", deployDir, "managed", result.Managed)

			if done, err := params.EmitJSON(stdout, result); done {
				if err != nil {
					return err
				}
			} else if err := writeStatus(stdout, result); err != nil {
				return err
			}
			if !result.Managed {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func deploymentStatus(deployDir string) (statusResult, error) {
	metadata := deploy.NewMetadata(deployDir)
	result := statusResult{DeployDir: deployDir}

	current, err := metadata.Current()
	if errors.Is(err, deploy.ErrNoCurrentDeployment) {
		return result, nil
	}
	if err != nil {
		return statusResult{}, err
	}
	result.Managed = true
	result.Current = &current

	previous, err := metadata.Previous()
	switch {
	case err == nil:
		result.Previous = &previous
	case !errors.Is(err, deploy.ErrNoCurrentDeployment):
		return statusResult{}, err
	}

	changes, err := metadata.Differences(current.DeploymentID)
	if err != nil {
		return statusResult{}, err
	}
	result.Changes = &changes
	return result, nil
}
