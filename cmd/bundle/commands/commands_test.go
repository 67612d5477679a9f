// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/bundle/cmd/bundle/cli"
	"github.com/bureau-foundation/bundle/lib/backup"
	"github.com/bureau-foundation/bundle/lib/testutil"
)

// commandFixture is a scratch environment for running the CLI: a
// configuration file, a place for recipes, and a destination.
type commandFixture struct {
	root       string
	configPath string
	auditLog   string
	deployDir  string
}

func newCommandFixture(t *testing.T, backupSection string) *commandFixture {
	t.Helper()
	root := t.TempDir()
	f := &commandFixture{
		root:       root,
		configPath: filepath.Join(root, "bundle.yaml"),
		auditLog:   filepath.Join(root, "log", "audit.jsonl"),
		deployDir:  filepath.Join(root, "dest"),
	}
	if backupSection == "" {
		backupSection = "backup:\n  compression: zstd\n"
	}
	config := fmt.Sprintf("environment: development\npaths:\n  root: %s\n  audit_log: %s\n%s",
		filepath.Join(root, "data"), f.auditLog, backupSection)
	testutil.WriteTree(t, root, map[string]string{"bundle.yaml": config})
	return f
}

// writeRecipe writes a recipe deploying app.conf into its own
// directory and returns the recipe path.
func (f *commandFixture) writeRecipe(t *testing.T, version, appConf string, extra string) string {
	t.Helper()
	dir := filepath.Join(f.root, "recipes", version)
	recipe := fmt.Sprintf(`bundle:
  name: app
  version: %s
deployment_unit:
  name: server
  files:
    - source: app.conf
      replace: true
%sproperties:
  listen.port: "8080"
`, version, extra)
	testutil.WriteTree(t, dir, map[string]string{
		"bundle.yaml": recipe,
		"app.conf":    appConf,
	})
	return filepath.Join(dir, "bundle.yaml")
}

func (f *commandFixture) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := Root(&stdout).Execute(context.Background(), args)
	return stdout.String(), err
}

func TestDeployStatusHistory(t *testing.T) {
	t.Parallel()
	f := newCommandFixture(t, "")

	v1 := f.writeRecipe(t, "1.0.0", "port=@@listen.port@@ owner=@@rhq.tag.owner@@\n", "")
	output, err := f.execute(t, "deploy", v1, "-d", f.deployDir, "--config", f.configPath,
		"-p", "listen.port=9090", "-u", "owner=ops")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(f.deployDir, "app.conf"), "port=9090 owner=ops\n")
	for _, want := range []string{"Deployed app 1.0.0 to " + f.deployDir + " (deployment 1)", "+ app.conf", "Templated: app.conf"} {
		if !strings.Contains(output, want) {
			t.Errorf("deploy output missing %q:\n%s", want, output)
		}
	}

	v2 := f.writeRecipe(t, "2.0.0", "port=@@listen.port@@\n", "")
	if _, err := f.execute(t, "deploy", v2, "-d", f.deployDir, "--config", f.configPath); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(f.deployDir, "app.conf"), "port=8080\n")

	output, err = f.execute(t, "status", f.deployDir, "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status statusResult
	if err := json.Unmarshal([]byte(output), &status); err != nil {
		t.Fatalf("decoding status: %v\n%s", err, output)
	}
	if !status.Managed || status.Current == nil || status.Previous == nil {
		t.Fatalf("status = %+v, want current and previous deployments", status)
	}
	if status.Current.DeploymentID != 2 || status.Current.BundleVersion != "2.0.0" {
		t.Errorf("current = %d %s, want 2 2.0.0", status.Current.DeploymentID, status.Current.BundleVersion)
	}
	if status.Previous.DeploymentID != 1 {
		t.Errorf("previous deployment id = %d, want 1", status.Previous.DeploymentID)
	}
	if status.Changes == nil || len(status.Changes.Changed) != 1 || status.Changes.Changed[0] != "app.conf" {
		t.Errorf("changes = %+v, want app.conf changed", status.Changes)
	}

	output, err = f.execute(t, "history", f.deployDir, "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var history []historyEntry
	if err := json.Unmarshal([]byte(output), &history); err != nil {
		t.Fatalf("decoding history: %v\n%s", err, output)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d entries, want 2", len(history))
	}
	if history[0].Current || !history[1].Current {
		t.Errorf("current flags = %v, %v, want false, true", history[0].Current, history[1].Current)
	}

	output, err = f.execute(t, "history", f.deployDir)
	if err != nil {
		t.Fatalf("history text: %v", err)
	}
	if !strings.Contains(output, "2.0.0") || !strings.Contains(output, "current") {
		t.Errorf("history output missing the current deployment:\n%s", output)
	}

	auditLog, err := os.ReadFile(f.auditLog)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	if got := strings.Count(string(auditLog), `"Deployer Finished"`); got != 2 {
		t.Errorf("audit log has %d Deployer Finished events, want 2", got)
	}
}

func TestPreviewChangesNothing(t *testing.T) {
	t.Parallel()
	f := newCommandFixture(t, "")
	recipe := f.writeRecipe(t, "1.0.0", "port=@@listen.port@@\n", "")

	output, err := f.execute(t, "preview", recipe, "-d", f.deployDir, "--config", f.configPath, "--json")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	testutil.RequireNoFile(t, f.deployDir)

	var report deploymentReport
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, output)
	}
	if !report.DryRun || report.Mode != "preview" {
		t.Errorf("report mode = %q dry_run = %v, want preview dry run", report.Mode, report.DryRun)
	}
	if len(report.Changes.Added) != 1 || report.Changes.Added[0] != "app.conf" {
		t.Errorf("added = %v, want [app.conf]", report.Changes.Added)
	}
}

func TestRevertRestoresEncryptedBackup(t *testing.T) {
	t.Parallel()
	scratch := t.TempDir()
	identityPath := filepath.Join(scratch, "identity.txt")
	keypair, err := backup.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if err := writeIdentityFile(identityPath, keypair, false); err != nil {
		t.Fatalf("writeIdentityFile: %v", err)
	}
	f := newCommandFixture(t, fmt.Sprintf("backup:\n  compression: lz4\n  recipients:\n    - %s\n  identity_file: %s\n",
		keypair.PublicKey, identityPath))

	v1 := f.writeRecipe(t, "1.0.0", "v1\n", "")
	v2 := f.writeRecipe(t, "2.0.0", "v2\n", "")
	if _, err := f.execute(t, "deploy", v1, "-d", f.deployDir, "--config", f.configPath); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	testutil.WriteTree(t, f.deployDir, map[string]string{"app.conf": "edited\n"})
	if _, err := f.execute(t, "deploy", v2, "-d", f.deployDir, "--config", f.configPath); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(f.deployDir, "app.conf"), "v2\n")

	output, err := f.execute(t, "revert", v1, "-d", f.deployDir, "--config", f.configPath)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(f.deployDir, "app.conf"), "edited\n")
	if !strings.Contains(output, "Reverted app 1.0.0") || !strings.Contains(output, "Restored:") {
		t.Errorf("revert output:\n%s", output)
	}
}

func TestDeployFailureJSON(t *testing.T) {
	t.Parallel()
	f := newCommandFixture(t, "")
	recipe := f.writeRecipe(t, "1.0.0", "x\n", "  preinstall_target: missing\n")

	output, err := f.execute(t, "deploy", recipe, "-d", f.deployDir, "--config", f.configPath, "--json")
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("deploy error = %v, want exit code 1", err)
	}
	var report deploymentReport
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, output)
	}
	if !strings.Contains(report.Error, "target does not exist") {
		t.Errorf("report error = %q, want missing target", report.Error)
	}
	testutil.RequireNoFile(t, filepath.Join(f.deployDir, "app.conf"))
}

func TestDeployArguments(t *testing.T) {
	t.Parallel()
	f := newCommandFixture(t, "")
	recipe := f.writeRecipe(t, "1.0.0", "x\n", "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing deploy dir",
			args:    []string{"deploy", recipe, "--config", f.configPath},
			wantErr: "--deploy-dir is required",
		},
		{
			name:    "missing recipe",
			args:    []string{"deploy", "-d", f.deployDir, "--config", f.configPath},
			wantErr: "expected exactly one recipe path",
		},
		{
			name:    "missing properties file",
			args:    []string{"deploy", recipe, "-d", f.deployDir, "--config", f.configPath, "--properties-file", filepath.Join(f.root, "absent.properties")},
			wantErr: "loading properties",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.execute(t, test.args...)
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error = %v, want containing %q", err, test.wantErr)
			}
		})
	}
}

func TestPropertiesFileAndFlags(t *testing.T) {
	t.Parallel()
	f := newCommandFixture(t, "")
	testutil.WriteTree(t, f.root, map[string]string{
		"app.properties": "listen.port = 7070\nlisten.host: example.com\n",
	})
	recipe := f.writeRecipe(t, "1.0.0", "@@listen.host@@:@@listen.port@@\n", "")

	_, err := f.execute(t, "deploy", recipe, "-d", f.deployDir, "--config", f.configPath,
		"--properties-file", filepath.Join(f.root, "app.properties"), "-p", "listen.host=flag.example.com")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	testutil.RequireFile(t, filepath.Join(f.deployDir, "app.conf"), "flag.example.com:7070\n")
}

func TestStatusUnmanaged(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	output, err := newCommandFixture(t, "").execute(t, "status", dir)
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("status error = %v, want exit code 1", err)
	}
	if !strings.Contains(output, "has no recorded deployment") {
		t.Errorf("status output = %q", output)
	}
}

func TestKeygen(t *testing.T) {
	t.Parallel()
	f := newCommandFixture(t, "")
	path := filepath.Join(f.root, "keys", "identity.txt")

	output, err := f.execute(t, "keygen", "-o", path, "--json")
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var result keygenResult
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("decoding result: %v\n%s", err, output)
	}
	if !strings.HasPrefix(result.PublicKey, "age1") {
		t.Errorf("public key = %q, want age1 prefix", result.PublicKey)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat identity: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("identity mode = %o, want 600", got)
	}
	if _, err := backup.LoadIdentityFile(path); err != nil {
		t.Errorf("LoadIdentityFile: %v", err)
	}

	if _, err := f.execute(t, "keygen", "-o", path); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second keygen error = %v, want already exists", err)
	}
	if _, err := f.execute(t, "keygen", "-o", path, "--force"); err != nil {
		t.Errorf("keygen --force: %v", err)
	}
}

func TestKeygenDefaultPath(t *testing.T) {
	t.Parallel()
	f := newCommandFixture(t, "")

	if _, err := f.execute(t, "keygen", "--config", f.configPath); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if _, err := backup.LoadIdentityFile(filepath.Join(f.root, "data", identityFileName)); err != nil {
		t.Errorf("LoadIdentityFile: %v", err)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()
	output, err := newCommandFixture(t, "").execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(output, "bundle ") {
		t.Errorf("version output = %q", output)
	}
}

func TestDeployHelpNamesBothTokenForms(t *testing.T) {
	t.Parallel()
	var help bytes.Buffer
	deployCommand(&bytes.Buffer{}).PrintHelp(&help)
	for _, token := range []string{"@@name@@", "${name}"} {
		if !strings.Contains(help.String(), token) {
			t.Errorf("deploy help does not mention %s:\n%s", token, help.String())
		}
	}
}
