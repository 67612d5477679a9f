// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bureau-foundation/bundle/lib/audit"
)

// Resolved is the staged form of a unit's URL declarations, shaped
// like the local declarations it is merged with.
type Resolved struct {
	// Files maps a staged file to its declared destination.
	Files map[string]string

	// RawFilesToReplace marks staged files that are templates.
	RawFilesToReplace map[string]bool

	// Archives lists staged archives in declaration order.
	Archives []string

	ArchiveReplacePatterns map[string]*regexp.Regexp
	ArchivesExploded       map[string]bool
}

func newResolved() Resolved {
	return Resolved{
		Files:                  make(map[string]string),
		RawFilesToReplace:      make(map[string]bool),
		ArchiveReplacePatterns: make(map[string]*regexp.Regexp),
		ArchivesExploded:       make(map[string]bool),
	}
}

// Downloader stages URL declarations on local disk. Supported schemes
// are http, https, and file.
type Downloader struct {
	// Client performs HTTP requests. Nil means http.DefaultClient.
	Client *http.Client

	// StagingDir receives the files.
	StagingDir string

	// Timeout bounds each download. Zero means none.
	Timeout time.Duration
}

// NewDownloader returns the downloader configured by run. Files are
// staged in a directory of their own under the run's staging
// directory, so they never land on bundle content.
func NewDownloader(run *Run) *Downloader {
	return &Downloader{
		Client:     run.HTTPClient,
		StagingDir: run.downloadDir(),
		Timeout:    run.DownloadTimeout,
	}
}

// Download stages files and archives. A URL file is staged at its
// declared destination path under the staging directory; a URL
// archive under the last segment of its URL path, or the URL host.
// A staged file never replaces one that already exists.
//
// Staged files, and the staging directory when this call created it,
// are registered in run.Downloads. When any download fails, everything
// staged by this call is removed and unregistered, and the download
// error is returned.
func (d *Downloader) Download(ctx context.Context, run *Run, files []URLFileEntry, archives []URLArchiveEntry) (Resolved, error) {
	resolved := newResolved()
	if len(files) == 0 && len(archives) == 0 {
		return resolved, nil
	}

	var staged []string
	prepared, createdDir := false, false
	fail := func(err error) (Resolved, error) {
		for _, path := range staged {
			if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				run.Logger.Debug("removing staged download failed", "path", path, "error", removeErr)
			}
			run.Downloads.forget(path)
		}
		if createdDir {
			run.Downloads.removeDir(d.StagingDir, run.Logger)
		}
		return Resolved{}, err
	}
	prepare := func() error {
		if prepared {
			return nil
		}
		var err error
		createdDir, err = d.makeStagingDir(run)
		prepared = err == nil
		return err
	}
	created := func(path string) {
		staged = append(staged, path)
		run.Downloads.add(path)
	}

	for _, entry := range files {
		destination, err := entry.ResolvedDestination()
		if err != nil {
			return fail(err)
		}
		target, err := d.stagingPath(destination)
		if err != nil {
			return fail(err)
		}
		if err := prepare(); err != nil {
			return fail(err)
		}
		if err := d.fetch(ctx, run, entry.URL, target, created); err != nil {
			return fail(err)
		}
		resolved.Files[target] = destination
		if entry.Replace {
			resolved.RawFilesToReplace[target] = true
		}
	}

	for _, entry := range archives {
		name, err := urlBaseName(entry.URL)
		if err != nil {
			return fail(err)
		}
		target, err := d.stagingPath(name)
		if err != nil {
			return fail(err)
		}
		pattern, err := compilePattern(entry.ReplacePattern)
		if err != nil {
			return fail(err)
		}
		if err := prepare(); err != nil {
			return fail(err)
		}
		if err := d.fetch(ctx, run, entry.URL, target, created); err != nil {
			return fail(err)
		}
		resolved.Archives = append(resolved.Archives, target)
		if pattern != nil {
			resolved.ArchiveReplacePatterns[target] = pattern
		}
		resolved.ArchivesExploded[target] = entry.IsExploded()
	}

	return resolved, nil
}

// stagingPath places a declared path under the staging directory.
// Absolute paths are re-rooted there.
func (d *Downloader) stagingPath(declared string) (string, error) {
	if d.StagingDir == "" {
		return "", errors.New("no staging directory for downloads")
	}
	relative := strings.TrimLeft(filepath.ToSlash(declared), "/")
	if !filepath.IsLocal(filepath.FromSlash(relative)) {
		return "", fmt.Errorf("download destination %q escapes the staging directory", declared)
	}
	return filepath.Join(d.StagingDir, filepath.FromSlash(relative)), nil
}

// makeStagingDir creates the staging directory, reporting whether
// this call created it. A directory created here is registered in
// run.Downloads.
func (d *Downloader) makeStagingDir(run *Run) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(d.StagingDir), 0o755); err != nil {
		return false, fmt.Errorf("creating staging directory: %w", err)
	}
	err := os.Mkdir(d.StagingDir, 0o755)
	switch {
	case err == nil:
		run.Downloads.addDir(d.StagingDir)
		return true, nil
	case errors.Is(err, fs.ErrExist):
		return false, nil
	default:
		return false, fmt.Errorf("creating staging directory: %w", err)
	}
}

// fetch stages rawURL at target, calling created once target exists
// and belongs to this download.
func (d *Downloader) fetch(ctx context.Context, run *Run, rawURL, target string, created func(string)) error {
	run.event(audit.Success, "File Download Started", "Downloading file from URL",
		"Downloading file from URL: "+rawURL, "")

	size, err := d.copyTo(ctx, rawURL, target, created)
	if err != nil {
		run.event(audit.Failure, "File Download Failed", "Failed to download content from a remote server",
			"Failed to download file from: "+rawURL, err.Error())
		return fmt.Errorf("downloading %s: %w", rawURL, err)
	}

	run.Logger.Debug("downloaded file", "url", rawURL, "path", target, "bytes", size)
	run.event(audit.Success, "File Download Finished", "Successfully downloaded file from URL",
		fmt.Sprintf("Downloaded file of size [%d] bytes from URL: %s", size, rawURL), "")
	return nil
}

func (d *Downloader) copyTo(ctx context.Context, rawURL, target string, created func(string)) (int64, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	body, err := d.open(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return 0, fmt.Errorf("staging path %s already exists: %w", target, err)
	}
	if err != nil {
		return 0, err
	}
	created(target)
	size, err := io.Copy(file, contextReader{ctx: ctx, reader: body})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return size, err
}

func (d *Downloader) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	switch parsed.Scheme {
	case "file":
		return os.Open(filepath.FromSlash(parsed.Path))
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		response.Body.Close()
		return nil, fmt.Errorf("unexpected HTTP status %s", response.Status)
	}
	return response.Body, nil
}

// contextReader stops a copy once ctx is done. HTTP bodies already
// honor their request context; file reads do not.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(buffer []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(buffer)
}
