// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/bundle/lib/deploy"
)

// Recipe is the on-disk description of a bundle: what it is, the unit
// it deploys, the targets the unit may run, and the defaults of its
// configuration properties.
type Recipe struct {
	Bundle         BundleInfo        `yaml:"bundle" json:"bundle"`
	DeploymentUnit UnitDeclaration   `yaml:"deployment_unit" json:"deployment_unit"`
	Targets        map[string]Target `yaml:"targets,omitempty" json:"targets,omitempty"`
	Properties     map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`

	// dir is the directory holding the recipe, the base dir of runs.
	dir string
}

// BundleInfo identifies a bundle.
type BundleInfo struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// UnitDeclaration is the recipe form of a [DeploymentUnit].
type UnitDeclaration struct {
	Name              string            `yaml:"name" json:"name"`
	Compliance        string            `yaml:"compliance,omitempty" json:"compliance,omitempty"`
	ManageRootDir     string            `yaml:"manage_root_dir,omitempty" json:"manage_root_dir,omitempty"`
	PreinstallTarget  string            `yaml:"preinstall_target,omitempty" json:"preinstall_target,omitempty"`
	PostinstallTarget string            `yaml:"postinstall_target,omitempty" json:"postinstall_target,omitempty"`
	Ignore            []string          `yaml:"ignore,omitempty" json:"ignore,omitempty"`
	Files             []FileEntry       `yaml:"files,omitempty" json:"files,omitempty"`
	Archives          []ArchiveEntry    `yaml:"archives,omitempty" json:"archives,omitempty"`
	URLFiles          []URLFileEntry    `yaml:"url_files,omitempty" json:"url_files,omitempty"`
	URLArchives       []URLArchiveEntry `yaml:"url_archives,omitempty" json:"url_archives,omitempty"`
	SystemService     *SystemService    `yaml:"system_service,omitempty" json:"system_service,omitempty"`
}

// LoadRecipe reads a recipe. Files ending in .json or .jsonc are
// parsed as JSON with comments; anything else as YAML. Unknown fields
// are errors in both.
func LoadRecipe(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe: %w", err)
	}

	var recipe Recipe
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&recipe); err != nil {
			return nil, fmt.Errorf("parsing recipe %s: %w", path, err)
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&recipe); err != nil {
			return nil, fmt.Errorf("parsing recipe %s: %w", path, err)
		}
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	recipe.dir = filepath.Dir(absolute)

	if err := recipe.Validate(); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", path, err)
	}
	return &recipe, nil
}

// Dir is the directory holding the recipe.
func (r *Recipe) Dir() string { return r.dir }

// Validate checks the parts of the recipe outside the unit's
// declarations; [DeploymentUnit.Validate] covers those. Target
// references are resolved when the unit runs.
func (r *Recipe) Validate() error {
	var errs []error
	if r.Bundle.Name == "" {
		errs = append(errs, errors.New("bundle.name is required"))
	}
	if r.Bundle.Version == "" {
		errs = append(errs, errors.New("bundle.version is required"))
	}
	for name, target := range r.Targets {
		if len(target.Commands) == 0 {
			errs = append(errs, fmt.Errorf("target %q has no commands", name))
		}
	}
	if r.DeploymentUnit.Compliance != "" && r.DeploymentUnit.ManageRootDir != "" {
		errs = append(errs, errors.New("deployment_unit sets both compliance and the deprecated manage_root_dir"))
	}
	return errors.Join(errs...)
}

// Unit builds the recipe's deployment unit.
func (r *Recipe) Unit() (*DeploymentUnit, error) {
	declaration := r.DeploymentUnit
	unit := &DeploymentUnit{
		Name:              declaration.Name,
		PreinstallTarget:  declaration.PreinstallTarget,
		PostinstallTarget: declaration.PostinstallTarget,
		Ignore:            declaration.Ignore,
	}

	if declaration.Compliance != "" {
		mode, err := deploy.ParseComplianceMode(declaration.Compliance)
		if err != nil {
			return nil, err
		}
		unit.Compliance = mode
	}
	if declaration.ManageRootDir != "" {
		if err := unit.SetManageRootDir(declaration.ManageRootDir); err != nil {
			return nil, err
		}
	}

	for _, entry := range declaration.Files {
		unit.AddFile(entry)
	}
	for _, entry := range declaration.Archives {
		unit.AddArchive(entry)
	}
	for _, entry := range declaration.URLFiles {
		unit.AddURLFile(entry)
	}
	for _, entry := range declaration.URLArchives {
		unit.AddURLArchive(entry)
	}
	if declaration.SystemService != nil {
		service := *declaration.SystemService
		service.ScriptFile = r.sourcePath(service.ScriptFile)
		if service.ConfigFile != "" {
			service.ConfigFile = r.sourcePath(service.ConfigFile)
		}
		if err := unit.SetSystemService(&service); err != nil {
			return nil, err
		}
	}
	return unit, nil
}

func (r *Recipe) sourcePath(source string) string {
	if source == "" || filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(r.dir, source)
}

// NewRun returns a run of the recipe into deployDir. The recipe's
// property defaults are overridden by configuration.
func (r *Recipe) NewRun(deployDir string, deploymentID int, configuration map[string]string) *Run {
	run := NewRun()
	run.DeploymentID = deploymentID
	run.BundleName = r.Bundle.Name
	run.BundleVersion = r.Bundle.Version
	run.Description = r.Bundle.Description
	run.BaseDir = r.dir
	run.DeployDir = deployDir
	run.Targets = r.Targets
	run.Configuration = make(map[string]string, len(r.Properties)+len(configuration))
	for name, value := range r.Properties {
		run.Configuration[name] = value
	}
	for name, value := range configuration {
		run.Configuration[name] = value
	}
	return run
}

// LoadProperties reads a key=value properties file. Keys outside any
// section are returned as written; keys in a section are prefixed with
// "<section>.".
func LoadProperties(path string) (map[string]string, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters:      "=:",
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("loading properties %s: %w", path, err)
	}

	properties := make(map[string]string)
	for _, section := range file.Sections() {
		prefix := ""
		if section.Name() != ini.DefaultSection {
			prefix = section.Name() + "."
		}
		for _, key := range section.Keys() {
			properties[prefix+key.Name()] = key.Value()
		}
	}
	return properties, nil
}
