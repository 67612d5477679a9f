// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Backup.Compression != "none" {
		t.Errorf("expected backup.compression=none, got %s", cfg.Backup.Compression)
	}
	if cfg.Targets.Shell != "/bin/sh" {
		t.Errorf("expected targets.shell=/bin/sh, got %s", cfg.Targets.Shell)
	}
	if timeout, err := cfg.DownloadTimeout(); err != nil || timeout != 0 {
		t.Errorf("DownloadTimeout() = %v, %v; want 0, nil", timeout, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad_RequiresBundleConfig(t *testing.T) {
	t.Setenv("BUNDLE_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BUNDLE_CONFIG not set, got nil")
	}

	expectedMsg := "BUNDLE_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithBundleConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bundle.yaml")
	configContent := `
environment: staging
paths:
  root: /test/root
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("BUNDLE_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Paths.Root != "/test/root" {
		t.Errorf("expected root=/test/root, got %s", cfg.Paths.Root)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bundle.yaml")
	configContent := `
environment: staging

paths:
  root: /custom/root
  staging: ${BUNDLE_ROOT}/staging
  audit_log: ${BUNDLE_ROOT}/audit.jsonl

backup:
  compression: lz4
  identity_file: ${MISSING_VAR:-/etc/bundle/identity.txt}

download:
  timeout: 90s

log:
  level: debug

staging:
  backup:
    compression: zstd
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Staging != "/custom/root/staging" {
		t.Errorf("expected staging=/custom/root/staging, got %s", cfg.Paths.Staging)
	}
	if cfg.Paths.AuditLog != "/custom/root/audit.jsonl" {
		t.Errorf("expected audit_log=/custom/root/audit.jsonl, got %s", cfg.Paths.AuditLog)
	}
	if cfg.Backup.IdentityFile != "/etc/bundle/identity.txt" {
		t.Errorf("expected identity_file default, got %s", cfg.Backup.IdentityFile)
	}
	// Staging override wins over the base value.
	if cfg.Backup.Compression != "zstd" {
		t.Errorf("expected compression=zstd from staging override, got %s", cfg.Backup.Compression)
	}
	if timeout, err := cfg.DownloadTimeout(); err != nil || timeout != 90*time.Second {
		t.Errorf("DownloadTimeout() = %v, %v; want 90s", timeout, err)
	}
	if level, err := cfg.LogLevel(); err != nil || level != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, %v; want debug", level, err)
	}
}

func TestProductionDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bundle.yaml")
	if err := os.WriteFile(configPath, []byte("environment: production\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Backup.Compression != "zstd" {
		t.Errorf("expected production compression=zstd, got %s", cfg.Backup.Compression)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Environment = "qa"
	cfg.Backup.Compression = "brotli"
	cfg.Backup.Recipients = []string{"ssh-ed25519 AAAA"}
	cfg.Download.Timeout = "soon"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	for _, fragment := range []string{"invalid environment", "backup.compression", "backup.recipients", "download.timeout", "log.level"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Validate() error missing %q: %v", fragment, err)
		}
	}
}

func TestExpandVars(t *testing.T) {
	vars := map[string]string{"ROOT": "/r"}
	tests := []struct {
		input string
		want  string
	}{
		{"${ROOT}/x", "/r/x"},
		{"${UNSET_BUNDLE_TEST_VAR:-fallback}", "fallback"},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Paths.Root = filepath.Join(root, "data")
	cfg.Paths.Staging = filepath.Join(root, "staging")
	cfg.Paths.AuditLog = filepath.Join(root, "logs", "audit.jsonl")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, directory := range []string{cfg.Paths.Root, cfg.Paths.Staging, filepath.Join(root, "logs")} {
		if info, err := os.Stat(directory); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", directory, err)
		}
	}
}
