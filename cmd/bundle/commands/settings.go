// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/bundle/cmd/bundle/cli"
	"github.com/bureau-foundation/bundle/lib/audit"
	"github.com/bureau-foundation/bundle/lib/backup"
	"github.com/bureau-foundation/bundle/lib/config"
)

// loadConfig reads the configuration from path, else from
// $BUNDLE_CONFIG, else falls back to the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("BUNDLE_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// configuredLogger returns logger unchanged when --verbose was given,
// otherwise a logger at the configured log.level.
func configuredLogger(logger *slog.Logger, cfg *config.Config, verbose bool, command string) *slog.Logger {
	if verbose {
		return logger
	}
	level, err := cfg.LogLevel()
	if err != nil || level == slog.LevelInfo {
		return logger
	}
	return cli.NewCommandLogger(level).With("command", command)
}

// backupOptions translates the backup section of cfg.
func backupOptions(cfg *config.Config) (backup.Options, error) {
	compression, err := backup.ParseCompression(cfg.Backup.Compression)
	if err != nil {
		return backup.Options{}, err
	}
	options := backup.Options{Compression: compression}

	if len(cfg.Backup.Recipients) > 0 {
		options.Recipients, err = backup.ParseRecipients(cfg.Backup.Recipients)
		if err != nil {
			return backup.Options{}, fmt.Errorf("backup.recipients: %w", err)
		}
	}
	if cfg.Backup.IdentityFile != "" {
		options.Identity, err = backup.LoadIdentityFile(cfg.Backup.IdentityFile)
		if err != nil {
			return backup.Options{}, fmt.Errorf("backup.identity_file: %w", err)
		}
	}
	return options, nil
}

// auditSink logs every event and, when paths.audit_log is set, also
// appends it to that file. The returned function closes the file.
func auditSink(cfg *config.Config, logger *slog.Logger) (audit.Sink, func(), error) {
	logSink := audit.LogSink{Logger: logger.With("audit", true)}
	if cfg.Paths.AuditLog == "" {
		return logSink, func() {}, nil
	}

	fileSink, err := audit.OpenFileSink(cfg.Paths.AuditLog)
	if err != nil {
		return nil, nil, err
	}
	closeSink := func() {
		if err := fileSink.Close(); err != nil {
			logger.Warn("closing audit log failed", "path", cfg.Paths.AuditLog, "error", err)
		}
	}
	return audit.Multi{logSink, fileSink}, closeSink, nil
}
