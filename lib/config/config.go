// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the deployer.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Backup configures how overwritten files are preserved.
	Backup BackupConfig `yaml:"backup"`

	// Download configures fetching of URL-sourced bundle content.
	Download DownloadConfig `yaml:"download"`

	// Targets configures pre/post-install target execution.
	Targets TargetsConfig `yaml:"targets"`

	// Log configures the command logger.
	Log LogConfig `yaml:"log"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Backup   *BackupConfig   `yaml:"backup,omitempty"`
	Download *DownloadConfig `yaml:"download,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for deployer-owned data.
	Root string `yaml:"root"`

	// Staging is where URL content is downloaded before deployment.
	// Empty means the recipe's own directory.
	Staging string `yaml:"staging"`

	// AuditLog is a JSON-lines file that receives every audit event.
	// Empty means audit events only go to the log.
	AuditLog string `yaml:"audit_log"`
}

// BackupConfig configures the backup store.
type BackupConfig struct {
	// Compression is none, zstd, or lz4.
	// Default: none (development), zstd (production)
	Compression string `yaml:"compression"`

	// Recipients are age X25519 public keys. When non-empty, backups
	// are encrypted to all of them.
	Recipients []string `yaml:"recipients"`

	// IdentityFile is an age identity file used to decrypt backups
	// during revert.
	IdentityFile string `yaml:"identity_file"`
}

// DownloadConfig configures URL downloads.
type DownloadConfig struct {
	// Timeout bounds each download as a Go duration string.
	// Default: "0" (no timeout)
	Timeout string `yaml:"timeout"`
}

// TargetsConfig configures install target execution.
type TargetsConfig struct {
	// Shell runs each target command as "<shell> -c <command>".
	// Default: /bin/sh
	Shell string `yaml:"shell"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file,
// and on their own when no config file is given.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "bundle")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root: defaultRoot,
		},
		Backup: BackupConfig{
			Compression: "none",
		},
		Download: DownloadConfig{
			Timeout: "0",
		},
		Targets: TargetsConfig{
			Shell: "/bin/sh",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the BUNDLE_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// If BUNDLE_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("BUNDLE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BUNDLE_CONFIG environment variable not set; " +
			"set it to the path of your bundle.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: compressed backups, no debug logging.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Backup: &BackupConfig{Compression: "zstd"},
				Log:    &LogConfig{Level: "info"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Staging != "" {
			c.Paths.Staging = overrides.Paths.Staging
		}
		if overrides.Paths.AuditLog != "" {
			c.Paths.AuditLog = overrides.Paths.AuditLog
		}
	}

	if overrides.Backup != nil {
		if overrides.Backup.Compression != "" {
			c.Backup.Compression = overrides.Backup.Compression
		}
		if len(overrides.Backup.Recipients) > 0 {
			c.Backup.Recipients = overrides.Backup.Recipients
		}
		if overrides.Backup.IdentityFile != "" {
			c.Backup.IdentityFile = overrides.Backup.IdentityFile
		}
	}

	if overrides.Download != nil && overrides.Download.Timeout != "" {
		c.Download.Timeout = overrides.Download.Timeout
	}

	if overrides.Log != nil && overrides.Log.Level != "" {
		c.Log.Level = overrides.Log.Level
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"BUNDLE_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["BUNDLE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Staging = expandVars(c.Paths.Staging, vars)
	c.Paths.AuditLog = expandVars(c.Paths.AuditLog, vars)
	c.Backup.IdentityFile = expandVars(c.Backup.IdentityFile, vars)
	c.Targets.Shell = expandVars(c.Targets.Shell, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// DownloadTimeout parses Download.Timeout. Zero means no timeout.
func (c *Config) DownloadTimeout() (time.Duration, error) {
	if c.Download.Timeout == "" || c.Download.Timeout == "0" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(c.Download.Timeout)
	if err != nil {
		return 0, fmt.Errorf("download.timeout: %w", err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("download.timeout must not be negative, got %s", timeout)
	}
	return timeout, nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	compressionValues := []string{"none", "zstd", "lz4"}
	if !slices.Contains(compressionValues, c.Backup.Compression) {
		errs = append(errs, fmt.Errorf("backup.compression must be one of: %v", compressionValues))
	}

	for _, recipient := range c.Backup.Recipients {
		if !strings.HasPrefix(recipient, "age1") {
			errs = append(errs, fmt.Errorf("backup.recipients: %q is not an age public key", recipient))
		}
	}

	if _, err := c.DownloadTimeout(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if c.Targets.Shell == "" {
		errs = append(errs, fmt.Errorf("targets.shell is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Root, c.Paths.Staging}
	if c.Paths.AuditLog != "" {
		paths = append(paths, filepath.Dir(c.Paths.AuditLog))
	}

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
