// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bureau-foundation/bundle/lib/audit"
)

// Target is a named group of shell commands a unit runs before or
// after deploying.
type Target struct {
	// Commands run in order with "<shell> -c". The first failure
	// stops the target.
	Commands []string `yaml:"commands" json:"commands"`

	// Env adds variables to the commands' environment.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// installHook is the pre- or post-install phase of a unit.
type installHook struct {
	phase Phase
	label string // "pre install" / "post install"
	title string // "Pre-Install" / "Post-Install"
}

var (
	preinstallHook  = installHook{phase: PhasePreinstall, label: "pre install", title: "Pre-Install"}
	postinstallHook = installHook{phase: PhasePostinstall, label: "post install", title: "Post-Install"}
)

// runHook runs the named target for hook, reporting it to the audit
// sink. A missing target is reported as a failure before the error
// is returned. Dry runs look the target up but do not execute it.
func (r *Run) runHook(ctx context.Context, hook installHook, name string) error {
	r.event(audit.Success, hook.title+" Started", "The "+hook.label+" target will start",
		"The "+hook.label+" target named ["+name+"] will start", "")

	target, found := r.Targets[name]
	if !found {
		r.event(audit.Failure, hook.title+" Failure", "The "+hook.label+" target does not exist",
			"The "+hook.label+" target specified in the recipe ["+name+"] does not exist.", "")
		return fmt.Errorf("specified %s target (%s): %w", hook.phase, name, ErrTargetNotFound)
	}

	if r.DryRun {
		r.Logger.Info("dry run: skipping target", "phase", string(hook.phase), "target", name,
			"commands", len(target.Commands))
	} else if err := r.runTarget(ctx, name, target); err != nil {
		return err
	}

	r.event(audit.Success, hook.title+" Finished", "The "+hook.label+" target has finished", "", "")
	return nil
}

func (r *Run) runTarget(ctx context.Context, name string, target Target) error {
	environment := r.targetEnvironment(target)
	for index, line := range target.Commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		var stdout, stderr bytes.Buffer
		command := exec.CommandContext(ctx, r.Shell, "-c", line)
		command.Dir = r.BaseDir
		command.Env = environment
		command.Stdout = &stdout
		command.Stderr = &stderr

		r.Logger.Debug("running target command", "target", name, "index", index, "command", line)
		if err := command.Run(); err != nil {
			return fmt.Errorf("target %s command %d (%s): %w (stderr: %s)",
				name, index, line, err, strings.TrimSpace(stderr.String()))
		}
		if output := strings.TrimSpace(stdout.String()); output != "" {
			r.Logger.Info("target output", "target", name, "index", index, "output", output)
		}
	}
	return nil
}

// targetEnvironment is the process environment plus every template
// token as an upper-cased variable with dots and dashes turned into
// underscores, plus the target's own variables.
func (r *Run) targetEnvironment(target Target) []string {
	environment := os.Environ()
	engine := NewTemplateEngine(r)
	for _, name := range engine.Names() {
		value, _ := engine.Lookup(name)
		environment = append(environment, EnvironmentName(name)+"="+value)
	}
	for _, name := range sortedKeys(target.Env) {
		environment = append(environment, name+"="+target.Env[name])
	}
	return environment
}

// EnvironmentName converts a template token name to the variable
// name targets see: "rhq.deploy.dir" becomes "RHQ_DEPLOY_DIR".
func EnvironmentName(token string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(token))
}
