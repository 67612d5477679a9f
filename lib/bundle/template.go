// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"github.com/bureau-foundation/bundle/lib/template"
)

const (
	// UserPropertyPrefix prefixes user properties in the template
	// engine.
	UserPropertyPrefix = "rhq.tag."

	// TokenDeployDir is the template token holding the deploy
	// directory.
	TokenDeployDir = "rhq.deploy.dir"
)

// NewTemplateEngine returns the engine realizing templates for run:
// system information, user properties under [UserPropertyPrefix],
// configuration properties under their own names, and
// [TokenDeployDir], the absolute deploy directory. Later sources win
// on collision.
func NewTemplateEngine(run *Run) *template.Engine {
	engine := template.NewWithSystemInfo()
	for name, value := range run.UserProperties {
		engine.Set(UserPropertyPrefix+name, value)
	}
	engine.SetAll(run.Configuration)
	deployDir, err := run.absDeployDir()
	if err != nil {
		deployDir = run.DeployDir
	}
	engine.Set(TokenDeployDir, deployDir)
	return engine
}
