// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/bundle/cmd/bundle/cli"
	"github.com/bureau-foundation/bundle/lib/backup"
)

const identityFileName = "backup-identity.txt"

type keygenParams struct {
	cli.JSONOutput
	Config string `json:"config" flag:"config"   desc:"configuration file (default: $BUNDLE_CONFIG, else built-in defaults)"`
	Output string `json:"output" flag:"output,o" desc:"identity file to write (default: <paths.root>/backup-identity.txt)"`
	Force  bool   `json:"force"  flag:"force"    desc:"overwrite an existing identity file"`
}

type keygenResult struct {
	PublicKey    string `json:"public_key"`
	IdentityFile string `json:"identity_file"`
}

func keygenCommand(stdout io.Writer) *cli.Command {
	var params keygenParams

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age keypair for encrypting backups",
		Description: `Generate an age X25519 keypair. The private key is written to an
identity file readable only by its owner; the public key is printed.

Add the public key to backup.recipients to encrypt every backup a
deployment takes, and point backup.identity_file at the identity file
so that revert can decrypt them.`,
		Usage: "bundle keygen [flags]",
		Examples: []cli.Example{
			{
				Description: "Write the identity next to the deployer's data",
				Command:     "bundle keygen",
			},
			{
				Description: "Write the identity to a specific file",
				Command:     "bundle keygen -o /etc/bundle/identity.txt",
			},
		},
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			path := params.Output
			if path == "" {
				cfg, err := loadConfig(params.Config)
				if err != nil {
					return err
				}
				path = filepath.Join(cfg.Paths.Root, identityFileName)
			}

			keypair, err := backup.GenerateKeypair()
			if err != nil {
				return err
			}
			if err := writeIdentityFile(path, keypair, params.Force); err != nil {
				return err
			}
			logger.Info("wrote backup identity", "path", path)

			result := keygenResult{PublicKey: keypair.PublicKey, IdentityFile: path}
			if done, err := params.EmitJSON(stdout, result); done {
				return err
			}
			_, err = fmt.Fprintf(stdout, "Public key: %s\n\nAdd it to backup.recipients and set backup.identity_file: %s\n",
				keypair.PublicKey, path)
			return err
		},
	}
}

// writeIdentityFile writes keypair in the age-keygen file format.
func writeIdentityFile(path string, keypair backup.Keypair, force bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("identity file %s already exists (use --force to replace it)", path)
	}
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}

	_, err = fmt.Fprintf(file, "# created: %s\n# public key: %s\n%s\n",
		time.Now().UTC().Format(time.RFC3339), keypair.PublicKey, keypair.PrivateKey)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	return nil
}
