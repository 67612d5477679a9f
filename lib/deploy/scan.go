// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bureau-foundation/bundle/lib/filehash"
)

// scope is the part of the destination a deployment manages.
type scope struct {
	planned map[string]bool
	// plannedDirs holds every ancestor directory of a planned key.
	plannedDirs map[string]bool
}

func newScope(p *plan) *scope {
	s := &scope{planned: make(map[string]bool, len(p.items)), plannedDirs: make(map[string]bool)}
	for key := range p.items {
		s.planned[key] = true
		if isExternal(key) {
			continue
		}
		for directory := parentOf(key); directory != ""; directory = parentOf(directory) {
			s.plannedDirs[directory] = true
		}
	}
	return s
}

func parentOf(key string) string {
	index := strings.LastIndex(key, "/")
	if index < 0 {
		return ""
	}
	return key[:index]
}

// ignored reports whether a destination path is excluded from the
// deployment. Paths the deployment itself lays down are never ignored.
func (d *Deployer) ignored(s *scope, relative string, isDir bool) bool {
	if d.data.Ignore == nil || !d.data.Ignore.MatchString(relative) {
		return false
	}
	if isDir {
		return !s.plannedDirs[relative]
	}
	return !s.planned[relative]
}

// topLevel splits the relative keys of the given maps into top-level
// directory names and top-level file names, each sorted.
func topLevel(maps ...filehash.Map) (directories, files []string) {
	seenDirectories := make(map[string]bool)
	seenFiles := make(map[string]bool)
	for _, m := range maps {
		for key := range m {
			if isExternal(key) {
				continue
			}
			if index := strings.Index(key, "/"); index >= 0 {
				seenDirectories[key[:index]] = true
			} else {
				seenFiles[key] = true
			}
		}
	}
	for directory := range seenDirectories {
		directories = append(directories, directory)
	}
	for file := range seenFiles {
		files = append(files, file)
	}
	sort.Strings(directories)
	sort.Strings(files)
	return directories, files
}

// scanDestination digests the on-disk files within the managed scope.
// Ignored paths are recorded in diffs and excluded from the result.
func (d *Deployer) scanDestination(ctx context.Context, original filehash.Map, p *plan, diffs *Differences) (filehash.Map, error) {
	current := make(filehash.Map)
	s := newScope(p)

	mode := ComplianceModeOrDefault(d.data.Properties.Compliance)
	switch mode {
	case Full:
		if err := d.walkScope(ctx, s, "", current, diffs); err != nil {
			return nil, err
		}
	case FilesAndDirectories:
		directories, files := topLevel(original, p.hashes)
		for _, directory := range directories {
			if d.ignored(s, directory, true) {
				diffs.AddIgnored(directory)
				continue
			}
			if err := d.walkScope(ctx, s, directory, current, diffs); err != nil {
				return nil, err
			}
		}
		for _, file := range files {
			if d.ignored(s, file, false) {
				diffs.AddIgnored(file)
				continue
			}
			if err := d.digestIfPresent(file, current); err != nil {
				return nil, err
			}
		}
	default:
		panic(fmt.Sprintf("deploy: unhandled compliance mode %s", mode))
	}

	for _, m := range []filehash.Map{original, p.hashes} {
		for key := range m {
			if !isExternal(key) {
				continue
			}
			if _, done := current[key]; done {
				continue
			}
			if err := d.digestIfPresent(key, current); err != nil {
				return nil, err
			}
		}
	}
	return current, nil
}

// walkScope digests every regular file under the destination-relative
// directory prefix ("" for the whole destination).
func (d *Deployer) walkScope(ctx context.Context, s *scope, prefix string, current filehash.Map, diffs *Differences) error {
	root := d.data.DestinationDir
	start := root
	if prefix != "" {
		start = filepath.Join(root, filepath.FromSlash(prefix))
	}

	info, err := os.Lstat(start)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanning destination: %w", err)
	}
	if !info.IsDir() {
		// A managed top-level directory that is a file on disk is
		// foreign content in the way of the deployment.
		return d.digestIfPresent(prefix, current)
	}

	return filepath.WalkDir(start, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("scanning destination: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		relativePath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relative := filepath.ToSlash(relativePath)
		if relative == MetadataDirName {
			return filepath.SkipDir
		}
		if d.ignored(s, relative, entry.IsDir()) {
			diffs.AddIgnored(relative)
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		digest, err := filehash.File(path)
		if err != nil {
			return err
		}
		current[relative] = digest
		return nil
	})
}

func (d *Deployer) digestIfPresent(key string, current filehash.Map) error {
	path := d.keyPath(key)
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanning destination: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	digest, err := filehash.File(path)
	if err != nil {
		return err
	}
	current[key] = digest
	return nil
}
