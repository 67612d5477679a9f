// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bureau-foundation/bundle/lib/deploy"
)

// FileEntry deploys one local file.
type FileEntry struct {
	// Source is the file in the bundle, absolute or relative to the
	// run's base directory.
	Source string `yaml:"source" json:"source"`

	// Destination is the deployed path, absolute or relative to the
	// deploy directory. Empty means DestinationDir/base(Source).
	Destination string `yaml:"destination,omitempty" json:"destination,omitempty"`

	// DestinationDir is used when Destination is empty.
	DestinationDir string `yaml:"destination_dir,omitempty" json:"destination_dir,omitempty"`

	// Name is the bundle-relative name reported in logs. Empty means
	// Source.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Replace marks the file as a template.
	Replace bool `yaml:"replace,omitempty" json:"replace,omitempty"`
}

// ResolvedDestination returns the destination after defaulting.
func (e FileEntry) ResolvedDestination() string {
	if e.Destination != "" {
		return e.Destination
	}
	return filepath.Join(e.DestinationDir, filepath.Base(e.Source))
}

// ArchiveEntry deploys one local archive.
type ArchiveEntry struct {
	Source string `yaml:"source" json:"source"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`

	// ReplacePattern selects the entry names inside the archive whose
	// content is a template. The whole name must match.
	ReplacePattern string `yaml:"replace,omitempty" json:"replace,omitempty"`

	// Exploded unpacks the archive into the deploy directory instead
	// of placing it there intact. Nil means true.
	Exploded *bool `yaml:"exploded,omitempty" json:"exploded,omitempty"`
}

// IsExploded reports whether the archive is unpacked on deployment.
func (e ArchiveEntry) IsExploded() bool { return e.Exploded == nil || *e.Exploded }

// URLFileEntry deploys one file fetched from a URL.
type URLFileEntry struct {
	URL            string `yaml:"url" json:"url"`
	Destination    string `yaml:"destination,omitempty" json:"destination,omitempty"`
	DestinationDir string `yaml:"destination_dir,omitempty" json:"destination_dir,omitempty"`
	Replace        bool   `yaml:"replace,omitempty" json:"replace,omitempty"`
}

// ResolvedDestination returns the destination after defaulting to
// DestinationDir plus the last segment of the URL path.
func (e URLFileEntry) ResolvedDestination() (string, error) {
	if e.Destination != "" {
		return e.Destination, nil
	}
	name, err := urlBaseName(e.URL)
	if err != nil {
		return "", err
	}
	return filepath.Join(e.DestinationDir, name), nil
}

// URLArchiveEntry deploys one archive fetched from a URL.
type URLArchiveEntry struct {
	URL            string `yaml:"url" json:"url"`
	ReplacePattern string `yaml:"replace,omitempty" json:"replace,omitempty"`
	Exploded       *bool  `yaml:"exploded,omitempty" json:"exploded,omitempty"`
}

// IsExploded reports whether the archive is unpacked on deployment.
func (e URLArchiveEntry) IsExploded() bool { return e.Exploded == nil || *e.Exploded }

// urlBaseName is the last non-empty segment of the URL path, or the
// host when the path has none.
func urlBaseName(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", raw, err)
	}
	name := path.Base(strings.TrimRight(parsed.Path, "/"))
	if name == "." || name == "/" || name == "" {
		name = parsed.Hostname()
	}
	if name == "" {
		return "", fmt.Errorf("url %q has neither a path nor a host to name the download", raw)
	}
	return name, nil
}

// DeploymentUnit is the set of declarations deployed together.
type DeploymentUnit struct {
	Name string

	// Compliance controls how much of the destination the deployment
	// owns. The zero value is the default (filesAndDirectories).
	Compliance deploy.ComplianceMode

	PreinstallTarget  string
	PostinstallTarget string

	// Ignore holds regular expressions for destination-relative paths
	// the deployment never touches. Each must match the whole path.
	Ignore []string

	Files       []FileEntry
	Archives    []ArchiveEntry
	URLFiles    []URLFileEntry
	URLArchives []URLArchiveEntry

	SystemService *SystemService

	// manageRootDirUsed records that the deprecated attribute set
	// Compliance, so Install can warn about it.
	manageRootDirUsed bool
}

// AddFile declares a local file.
func (u *DeploymentUnit) AddFile(entry FileEntry) {
	u.Files = append(u.Files, entry)
}

// AddArchive declares a local archive.
func (u *DeploymentUnit) AddArchive(entry ArchiveEntry) {
	u.Archives = append(u.Archives, entry)
}

// AddURLFile declares a file fetched from a URL.
func (u *DeploymentUnit) AddURLFile(entry URLFileEntry) {
	u.URLFiles = append(u.URLFiles, entry)
}

// AddURLArchive declares an archive fetched from a URL.
func (u *DeploymentUnit) AddURLArchive(entry URLArchiveEntry) {
	u.URLArchives = append(u.URLArchives, entry)
}

// SetSystemService attaches service and declares its script, and its
// configuration file when it has one, as files of the unit. The
// configuration file is a template.
func (u *DeploymentUnit) SetSystemService(service *SystemService) error {
	if u.SystemService != nil {
		return ErrDuplicateSystemService
	}
	if err := service.Validate(); err != nil {
		return err
	}
	u.SystemService = service
	u.AddFile(FileEntry{
		Source:      service.ScriptFile,
		Destination: service.ScriptDestination(),
		Name:        filepath.Base(service.ScriptFile),
	})
	if service.ConfigFile != "" {
		u.AddFile(FileEntry{
			Source:      service.ConfigFile,
			Destination: service.ConfigDestination(),
			Name:        filepath.Base(service.ConfigFile),
			Replace:     true,
		})
	}
	return nil
}

// SetManageRootDir applies the deprecated boolean attribute:
// "true" selects full compliance, "false" filesAndDirectories.
func (u *DeploymentUnit) SetManageRootDir(value string) error {
	switch strings.ToLower(value) {
	case "true":
		u.Compliance = deploy.Full
	case "false":
		u.Compliance = deploy.FilesAndDirectories
	default:
		return fmt.Errorf("%w: %s", ErrInvalidManageRootDir, value)
	}
	u.manageRootDirUsed = true
	return nil
}

// ManageRootDir reports the compliance mode as the deprecated
// attribute would: true only for full compliance.
func (u *DeploymentUnit) ManageRootDir() bool {
	return deploy.ComplianceModeOrDefault(u.Compliance) == deploy.Full
}

// HasDeployables reports whether the unit declares anything to
// deploy.
func (u *DeploymentUnit) HasDeployables() bool {
	return len(u.Files)+len(u.Archives)+len(u.URLFiles)+len(u.URLArchives) > 0
}

// Validate checks the declarations without touching the filesystem
// or the network.
func (u *DeploymentUnit) Validate() error {
	if !u.HasDeployables() {
		return ErrNoDeployables
	}

	var errs []error
	switch deploy.ComplianceModeOrDefault(u.Compliance) {
	case deploy.Full, deploy.FilesAndDirectories:
	default:
		errs = append(errs, fmt.Errorf("%w: %d", deploy.ErrUnknownComplianceMode, uint8(u.Compliance)))
	}

	if _, err := compileIgnore(u.Ignore); err != nil {
		errs = append(errs, err)
	}
	for _, entry := range u.Files {
		if entry.Source == "" {
			errs = append(errs, errors.New("file entry has no source"))
		}
	}
	for _, entry := range u.Archives {
		if entry.Source == "" {
			errs = append(errs, errors.New("archive entry has no source"))
		}
		if _, err := compilePattern(entry.ReplacePattern); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", entry.Source, err))
		}
	}
	for _, entry := range u.URLFiles {
		if _, err := entry.ResolvedDestination(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, entry := range u.URLArchives {
		if _, err := urlBaseName(entry.URL); err != nil {
			errs = append(errs, err)
		}
		if _, err := compilePattern(entry.ReplacePattern); err != nil {
			errs = append(errs, fmt.Errorf("url archive %s: %w", entry.URL, err))
		}
	}
	if err := u.checkDestinations(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// compilePattern compiles a whole-string match. An empty pattern
// yields nil.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	compiled, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return compiled, nil
}

// compileIgnore folds the ignore patterns into one expression that
// matches when any of them matches the whole path.
func compileIgnore(patterns []string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	alternatives := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		alternatives = append(alternatives, "(?:"+pattern+")")
	}
	return regexp.Compile("^(?:" + strings.Join(alternatives, "|") + ")$")
}
