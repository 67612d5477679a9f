// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/bundle/lib/audit"
	"github.com/bureau-foundation/bundle/lib/backup"
	"github.com/bureau-foundation/bundle/lib/clock"
	"github.com/bureau-foundation/bundle/lib/deploy"
)

// downloadDirPrefix names the per-attempt directory downloads are
// staged in.
const downloadDirPrefix = ".bundle-download-"

// Run is the state of one install attempt.
type Run struct {
	// RunID tags every audit event of the attempt.
	RunID string

	DeploymentID  int
	BundleName    string
	BundleVersion string
	Description   string

	// BaseDir resolves relative sources and is the working directory
	// of target commands.
	BaseDir string

	// DeployDir is the destination directory.
	DeployDir string

	// StagingDir holds the attempt's download directory. Empty means
	// BaseDir.
	StagingDir string

	DryRun bool

	// UserProperties are exposed to templates with the "rhq.tag."
	// prefix.
	UserProperties map[string]string

	// Configuration holds the deployment's configuration properties,
	// exposed to templates under their own names.
	Configuration map[string]string

	// Targets are the named command groups the unit may invoke.
	Targets map[string]Target

	// Shell runs target commands. Empty means /bin/sh.
	Shell string

	Audit  audit.Sink
	Logger *slog.Logger
	Clock  clock.Clock

	// Backups configures compression and encryption of backup copies.
	Backups backup.Options

	// HTTPClient fetches URL declarations. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client

	// DownloadTimeout bounds each download. Zero means none.
	DownloadTimeout time.Duration

	// Differences accumulates what the deployment did.
	Differences *deploy.Differences

	// Downloads registers everything staged by this attempt.
	Downloads Downloads
}

// NewRun returns a Run with a fresh run id and defaults for the
// logger, clock, and result accumulator.
func NewRun() *Run {
	run := &Run{}
	run.setDefaults()
	return run
}

func (r *Run) setDefaults() {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.DiscardHandler)
	}
	if r.Clock == nil {
		r.Clock = clock.Real()
	}
	if r.Differences == nil {
		r.Differences = &deploy.Differences{}
	}
	if r.Shell == "" {
		r.Shell = "/bin/sh"
	}
}

func (r *Run) stagingDir() string {
	if r.StagingDir != "" {
		return r.StagingDir
	}
	return r.BaseDir
}

// downloadDir is the directory this attempt stages downloads in.
func (r *Run) downloadDir() string {
	staging := r.stagingDir()
	if staging == "" {
		return ""
	}
	return filepath.Join(staging, downloadDirPrefix+r.RunID)
}

// event stamps and records an audit event, never failing.
func (r *Run) event(status audit.Status, summary, short, long, detail string) {
	audit.BestEffort(r.Audit, audit.Event{
		Time:    r.Clock.Now(),
		RunID:   r.RunID,
		Status:  status,
		Summary: summary,
		Short:   short,
		Long:    long,
		Detail:  detail,
	}, r.Logger)
}

// CleanupDownloads removes every file staged by the attempt, then the
// staging directories it created. Errors are logged, not returned.
func (r *Run) CleanupDownloads() {
	for _, path := range r.Downloads.Files() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.Logger.Debug("removing staged download failed", "path", path, "error", err)
		}
		r.Downloads.forget(path)
	}
	for _, dir := range r.Downloads.dirList() {
		r.Downloads.removeDir(dir, r.Logger)
	}
}

// Downloads is the registry of files, and staging directories, created
// by one attempt.
type Downloads struct {
	mu    sync.Mutex
	files []string
	dirs  []string
}

func (d *Downloads) addDir(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.dirs, path) {
		d.dirs = append(d.dirs, path)
	}
}

func (d *Downloads) dirList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.dirs)
}

// removeDir deletes a registered staging directory and unregisters
// it. Only directories this attempt created are registered.
func (d *Downloads) removeDir(path string, logger *slog.Logger) {
	if err := os.RemoveAll(path); err != nil {
		logger.Debug("removing staging directory failed", "path", path, "error", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirs = slices.DeleteFunc(d.dirs, func(dir string) bool { return dir == path })
}

func (d *Downloads) add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.files, path) {
		d.files = append(d.files, path)
	}
}

func (d *Downloads) forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = slices.DeleteFunc(d.files, func(file string) bool { return file == path })
}

// Files returns the registered paths in staging order.
func (d *Downloads) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.files)
}
