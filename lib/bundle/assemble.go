// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/bureau-foundation/bundle/lib/deploy"
)

// Assemble merges the unit's local declarations with the staged URL
// declarations into one deployment request for run.
//
// Two declarations resolving to the same destination are rejected
// with ErrDuplicateDestination naming both sources. Intact archives
// count as landing at their base name in the deploy directory.
func Assemble(unit *DeploymentUnit, resolved Resolved, run *Run) (*deploy.DeploymentData, error) {
	deployDir, err := run.absDeployDir()
	if err != nil {
		return nil, err
	}

	ignore, err := compileIgnore(unit.Ignore)
	if err != nil {
		return nil, err
	}

	data := &deploy.DeploymentData{
		Properties: deploy.DeploymentProperties{
			DeploymentID:  run.DeploymentID,
			BundleName:    run.BundleName,
			BundleVersion: run.BundleVersion,
			Description:   run.Description,
			Compliance:    deploy.ComplianceModeOrDefault(unit.Compliance),
		},
		SourceDir:              run.BaseDir,
		DestinationDir:         deployDir,
		Files:                  make(map[string]string),
		RawFilesToReplace:      make(map[string]bool),
		ArchiveReplacePatterns: make(map[string]*regexp.Regexp),
		ArchivesExploded:       make(map[string]bool),
		Template:               NewTemplateEngine(run),
		Ignore:                 ignore,
	}

	claims := make(destinationClaims)

	addFile := func(source, destination string, replace bool) error {
		if existing, declared := data.Files[source]; declared {
			return fmt.Errorf("file %s declared for both %s and %s: %w", source, existing, destination, ErrDuplicateDestination)
		}
		if err := claims.claim(deployDir, destination, source); err != nil {
			return err
		}
		data.Files[source] = destination
		if replace {
			data.RawFilesToReplace[source] = true
		}
		return nil
	}

	addArchive := func(source string, pattern *regexp.Regexp, exploded bool) error {
		if _, declared := data.ArchivesExploded[source]; declared {
			return fmt.Errorf("archive %s declared twice: %w", source, ErrDuplicateDestination)
		}
		if !exploded {
			if err := claims.claim(deployDir, filepath.Base(source), source); err != nil {
				return err
			}
		}
		data.Archives = append(data.Archives, source)
		data.ArchivesExploded[source] = exploded
		if pattern != nil {
			data.ArchiveReplacePatterns[source] = pattern
		}
		return nil
	}

	for _, entry := range unit.Files {
		if err := addFile(run.sourcePath(entry.Source), entry.ResolvedDestination(), entry.Replace); err != nil {
			return nil, err
		}
	}
	for _, source := range sortedKeys(resolved.Files) {
		if err := addFile(source, resolved.Files[source], resolved.RawFilesToReplace[source]); err != nil {
			return nil, err
		}
	}

	for _, entry := range unit.Archives {
		pattern, err := compilePattern(entry.ReplacePattern)
		if err != nil {
			return nil, err
		}
		if err := addArchive(run.sourcePath(entry.Source), pattern, entry.IsExploded()); err != nil {
			return nil, err
		}
	}
	for _, source := range resolved.Archives {
		if err := addArchive(source, resolved.ArchiveReplacePatterns[source], resolved.ArchivesExploded[source]); err != nil {
			return nil, err
		}
	}

	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

// checkDestinations rejects two declarations with the same
// destination. Without a deploy directory, a relative and an absolute
// spelling of one path are told apart here and caught by Assemble.
func (u *DeploymentUnit) checkDestinations() error {
	claims := make(destinationClaims)
	for _, entry := range u.Files {
		if entry.Source == "" {
			continue
		}
		if err := claims.claim("", entry.ResolvedDestination(), entry.Source); err != nil {
			return err
		}
	}
	for _, entry := range u.URLFiles {
		destination, err := entry.ResolvedDestination()
		if err != nil {
			continue
		}
		if err := claims.claim("", destination, entry.URL); err != nil {
			return err
		}
	}
	for _, entry := range u.Archives {
		if entry.Source == "" || entry.IsExploded() {
			continue
		}
		if err := claims.claim("", filepath.Base(entry.Source), entry.Source); err != nil {
			return err
		}
	}
	for _, entry := range u.URLArchives {
		if entry.IsExploded() {
			continue
		}
		name, err := urlBaseName(entry.URL)
		if err != nil {
			continue
		}
		if err := claims.claim("", name, entry.URL); err != nil {
			return err
		}
	}
	return nil
}

// destinationClaims maps a normalized destination to the source that
// claimed it.
type destinationClaims map[string]string

func (c destinationClaims) claim(deployDir, destination, source string) error {
	normalized := destination
	if !filepath.IsAbs(normalized) {
		normalized = filepath.Join(deployDir, normalized)
	}
	normalized = filepath.Clean(normalized)
	if previous, claimed := c[normalized]; claimed {
		return fmt.Errorf("%s is the destination of both %s and %s: %w", destination, previous, source, ErrDuplicateDestination)
	}
	c[normalized] = source
	return nil
}

func (r *Run) absDeployDir() (string, error) {
	deployDir, err := filepath.Abs(r.DeployDir)
	if err != nil {
		return "", fmt.Errorf("resolving deploy dir: %w", err)
	}
	return deployDir, nil
}

func (r *Run) sourcePath(source string) string {
	if filepath.IsAbs(source) || r.BaseDir == "" {
		return source
	}
	return filepath.Join(r.BaseDir, source)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
