// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/bureau-foundation/bundle/lib/template"
)

// ErrDuplicateDestination is returned when two deployment sources map
// to the same destination path.
var ErrDuplicateDestination = errors.New("destination declared more than once")

// DeploymentProperties identifies what is being deployed.
type DeploymentProperties struct {
	DeploymentID  int            `cbor:"deployment_id" json:"deployment_id"`
	BundleName    string         `cbor:"bundle_name" json:"bundle_name"`
	BundleVersion string         `cbor:"bundle_version" json:"bundle_version"`
	Description   string         `cbor:"description,omitempty" json:"description,omitempty"`
	Compliance    ComplianceMode `cbor:"compliance" json:"compliance"`

	// DeployedAt is stamped when the deployment is recorded.
	DeployedAt time.Time `cbor:"deployed_at,omitempty" json:"deployed_at,omitzero"`
}

// Validate checks that the properties identify a deployment.
func (p DeploymentProperties) Validate() error {
	var errs []error
	if p.BundleName == "" {
		errs = append(errs, errors.New("bundle name is required"))
	}
	if p.BundleVersion == "" {
		errs = append(errs, errors.New("bundle version is required"))
	}
	if p.DeploymentID < 0 {
		errs = append(errs, fmt.Errorf("deployment id must not be negative, got %d", p.DeploymentID))
	}
	switch ComplianceModeOrDefault(p.Compliance) {
	case Full, FilesAndDirectories:
	default:
		errs = append(errs, fmt.Errorf("%w: %d", ErrUnknownComplianceMode, uint8(p.Compliance)))
	}
	return errors.Join(errs...)
}

// DeploymentData is the complete, normalized request handed to a
// [Deployer].
type DeploymentData struct {
	Properties DeploymentProperties

	// SourceDir resolves relative source paths.
	SourceDir string

	// DestinationDir is the absolute directory being deployed to.
	DestinationDir string

	// Files maps a source file to its destination. Destinations are
	// relative to DestinationDir, or absolute (possibly outside it).
	Files map[string]string

	// RawFilesToReplace marks keys of Files whose content is a
	// template.
	RawFilesToReplace map[string]bool

	// Archives lists archive sources. Exploded archives are unpacked
	// into DestinationDir; the others are placed in it under their
	// base name.
	Archives []string

	// ArchiveReplacePatterns selects, per archive, the entry names
	// whose content is a template.
	ArchiveReplacePatterns map[string]*regexp.Regexp

	// ArchivesExploded marks archives to unpack.
	ArchivesExploded map[string]bool

	// Template realizes template content. Nil means no tokens.
	Template *template.Engine

	// Ignore matches destination-relative paths that the deployment
	// must never back up, modify, or delete.
	Ignore *regexp.Regexp
}

// Validate checks the structural invariants of the request: every key
// of the replace and explode maps refers to a declared file or
// archive, and the destination is an absolute directory other than
// the filesystem root.
func (d *DeploymentData) Validate() error {
	var errs []error

	if err := d.Properties.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch {
	case d.DestinationDir == "":
		errs = append(errs, errors.New("destination directory is required"))
	case !filepath.IsAbs(d.DestinationDir):
		errs = append(errs, fmt.Errorf("destination directory %q must be absolute", d.DestinationDir))
	case filepath.Clean(d.DestinationDir) == string(filepath.Separator):
		errs = append(errs, errors.New("destination directory must not be the filesystem root"))
	}

	archives := make(map[string]bool, len(d.Archives))
	for _, archive := range d.Archives {
		if archives[archive] {
			errs = append(errs, fmt.Errorf("archive %s: %w", archive, ErrDuplicateDestination))
		}
		archives[archive] = true
	}
	for archive := range d.ArchiveReplacePatterns {
		if !archives[archive] {
			errs = append(errs, fmt.Errorf("replace pattern given for undeclared archive %s", archive))
		}
	}
	for archive := range d.ArchivesExploded {
		if !archives[archive] {
			errs = append(errs, fmt.Errorf("explode flag given for undeclared archive %s", archive))
		}
	}
	for file := range d.RawFilesToReplace {
		if _, declared := d.Files[file]; !declared {
			errs = append(errs, fmt.Errorf("replace flag given for undeclared file %s", file))
		}
	}

	return errors.Join(errs...)
}

func (d *DeploymentData) engine() *template.Engine {
	if d.Template == nil {
		return template.New()
	}
	return d.Template
}

func (d *DeploymentData) sourcePath(source string) string {
	if filepath.IsAbs(source) || d.SourceDir == "" {
		return source
	}
	return filepath.Join(d.SourceDir, source)
}
