// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bureau-foundation/bundle/lib/archive"
	"github.com/bureau-foundation/bundle/lib/filehash"
	"github.com/bureau-foundation/bundle/lib/template"
)

type itemKind int

const (
	kindFile itemKind = iota
	kindArchiveEntry
	kindArchive
)

// item is one file the deployment will lay down.
type item struct {
	key  string
	kind itemKind

	// source is the file to copy, or for archive entries the archive
	// the entry is read from.
	source string

	// origin names the declaration that produced the item, for
	// duplicate-destination errors.
	origin string

	// content holds realized template output. Nil means the bytes
	// come from source unchanged.
	content []byte

	// templated marks content realized through the template engine.
	templated bool

	digest string
	mode   fs.FileMode
}

// plan is the new content of the deployment.
type plan struct {
	items  map[string]*item
	hashes filehash.Map

	// scratch holds archives rewritten with realized templates. It
	// lives outside the destination so dry runs stay read-only.
	scratch string
}

func (p *plan) add(it *item) error {
	if existing, exists := p.items[it.key]; exists {
		return fmt.Errorf("%s from %s and %s: %w", it.key, existing.origin, it.origin, ErrDuplicateDestination)
	}
	p.items[it.key] = it
	p.hashes[it.key] = it.digest
	return nil
}

func (p *plan) close() {
	if p.scratch != "" {
		os.RemoveAll(p.scratch)
	}
}

// templateTransform realizes entries matching pattern and copies the
// rest.
func templateTransform(engine *template.Engine, pattern *regexp.Regexp) archive.Transform {
	return func(name string, content io.Reader, destination io.Writer) error {
		if pattern != nil && pattern.MatchString(name) {
			_, err := engine.ReplaceStream(content, destination)
			return err
		}
		_, err := io.Copy(destination, content)
		return err
	}
}

// destinationKey converts a declared destination into a plan key:
// a clean slash path relative to the destination directory, or a
// clean absolute path for destinations outside it.
func (d *Deployer) destinationKey(destination string) (string, error) {
	if filepath.IsAbs(destination) {
		cleaned := filepath.Clean(destination)
		relative, err := filepath.Rel(d.data.DestinationDir, cleaned)
		if err == nil && relative != "." && relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
			return d.checkKey(filepath.ToSlash(relative), destination)
		}
		return cleaned, nil
	}
	cleaned := path.Clean(filepath.ToSlash(destination))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("destination %q escapes the destination directory", destination)
	}
	return d.checkKey(cleaned, destination)
}

func (d *Deployer) checkKey(key, declared string) (string, error) {
	if key == MetadataDirName || strings.HasPrefix(key, MetadataDirName+"/") {
		return "", fmt.Errorf("destination %q is inside the reserved %s directory", declared, MetadataDirName)
	}
	return key, nil
}

// keyPath returns the filesystem path for a plan key.
func (d *Deployer) keyPath(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(d.data.DestinationDir, filepath.FromSlash(key))
}

func isExternal(key string) bool {
	return filepath.IsAbs(key)
}

// buildPlan computes the new content and its digests. Templates are
// realized here once; laying down reuses the realized content.
func (d *Deployer) buildPlan(ctx context.Context) (*plan, error) {
	p := &plan{items: make(map[string]*item), hashes: make(filehash.Map)}
	engine := d.data.engine()

	sources := make([]string, 0, len(d.data.Files))
	for source := range d.data.Files {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			p.close()
			return nil, err
		}
		it, err := d.planFile(source, engine)
		if err != nil {
			p.close()
			return nil, err
		}
		if err := p.add(it); err != nil {
			p.close()
			return nil, err
		}
	}

	for _, source := range d.data.Archives {
		if err := ctx.Err(); err != nil {
			p.close()
			return nil, err
		}
		var err error
		if d.data.ArchivesExploded[source] {
			err = d.planExploded(p, source, engine)
		} else {
			err = d.planIntact(p, source, engine)
		}
		if err != nil {
			p.close()
			return nil, err
		}
	}
	return p, nil
}

func (d *Deployer) planFile(source string, engine *template.Engine) (*item, error) {
	key, err := d.destinationKey(d.data.Files[source])
	if err != nil {
		return nil, err
	}
	sourcePath := d.data.sourcePath(source)
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("deployment file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("deployment file %s is not a regular file", sourcePath)
	}

	it := &item{key: key, kind: kindFile, source: sourcePath, origin: source, mode: info.Mode().Perm()}
	if d.data.RawFilesToReplace[source] {
		raw, err := os.ReadFile(sourcePath)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", sourcePath, err)
		}
		if unresolved := engine.Unresolved(string(raw)); len(unresolved) > 0 {
			d.logger.Debug("template references undefined tokens", "path", key, "tokens", unresolved)
		}
		it.content = engine.ReplaceBytes(raw)
		it.templated = true
		it.digest = filehash.Bytes(it.content)
		return it, nil
	}

	it.digest, err = filehash.File(sourcePath)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (d *Deployer) planExploded(p *plan, source string, engine *template.Engine) error {
	archivePath := d.data.sourcePath(source)
	pattern := d.data.ArchiveReplacePatterns[source]
	return archive.Walk(archivePath, func(entry archive.Entry, content io.Reader) error {
		key, err := d.checkKey(entry.Name, entry.Name)
		if err != nil {
			return err
		}
		it := &item{
			key:    key,
			kind:   kindArchiveEntry,
			source: archivePath,
			origin: source + "!" + entry.Name,
			mode:   entry.Mode.Perm(),
		}
		if pattern != nil && pattern.MatchString(entry.Name) {
			raw, err := io.ReadAll(content)
			if err != nil {
				return fmt.Errorf("reading %s in %s: %w", entry.Name, archivePath, err)
			}
			it.content = engine.ReplaceBytes(raw)
			it.templated = true
			it.digest = filehash.Bytes(it.content)
		} else {
			it.digest, err = filehash.Reader(content)
			if err != nil {
				return fmt.Errorf("hashing %s in %s: %w", entry.Name, archivePath, err)
			}
		}
		return p.add(it)
	})
}

func (d *Deployer) planIntact(p *plan, source string, engine *template.Engine) error {
	archivePath := d.data.sourcePath(source)
	key, err := d.destinationKey(filepath.Base(archivePath))
	if err != nil {
		return err
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("deployment archive: %w", err)
	}

	it := &item{key: key, kind: kindArchive, source: archivePath, origin: source, mode: info.Mode().Perm()}
	if pattern := d.data.ArchiveReplacePatterns[source]; pattern != nil {
		if p.scratch == "" {
			p.scratch, err = os.MkdirTemp("", "bundle-realize-*")
			if err != nil {
				return fmt.Errorf("creating template scratch directory: %w", err)
			}
		}
		realized := filepath.Join(p.scratch, strings.ReplaceAll(key, "/", "_"))
		if err := archive.Rewrite(archivePath, realized, templateTransform(engine, pattern)); err != nil {
			return err
		}
		it.source = realized
		it.templated = true
	}
	it.digest, err = filehash.File(it.source)
	if err != nil {
		return err
	}
	return p.add(it)
}
