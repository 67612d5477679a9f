// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bureau-foundation/bundle/lib/archive"
	"github.com/bureau-foundation/bundle/lib/backup"
	"github.com/bureau-foundation/bundle/lib/clock"
	"github.com/bureau-foundation/bundle/lib/filehash"
)

// Deployer lays one [DeploymentData] down onto its destination.
type Deployer struct {
	data          *DeploymentData
	metadata      *Metadata
	logger        *slog.Logger
	clock         clock.Clock
	backupOptions backup.Options
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) { d.logger = logger }
}

// WithClock sets the clock used to stamp recorded deployments.
func WithClock(c clock.Clock) Option {
	return func(d *Deployer) { d.clock = c }
}

// WithBackupOptions sets how backups are compressed and encrypted,
// and the identity used to decrypt them on revert.
func WithBackupOptions(options backup.Options) Option {
	return func(d *Deployer) { d.backupOptions = options }
}

// New validates data and returns a Deployer for it.
func New(data *DeploymentData, options ...Option) (*Deployer, error) {
	if data == nil {
		return nil, errors.New("deployment data is required")
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deployment data: %w", err)
	}
	d := &Deployer{
		data:     data,
		metadata: NewMetadata(data.DestinationDir),
		logger:   slog.New(slog.DiscardHandler),
		clock:    clock.Real(),
	}
	for _, option := range options {
		option(d)
	}
	return d, nil
}

// Metadata returns the metadata accessor of the destination.
func (d *Deployer) Metadata() *Metadata {
	return d.metadata
}

// Deploy lays the deployment down, recording every change in diffs.
// With clean set, managed destination content is backed up where
// needed and purged first. With dryRun set, nothing under the
// destination is created, modified, or deleted, but diffs is filled
// exactly as a real run would fill it. The returned map holds the
// digest of every file in the deployment.
//
// The deployment id must not already be recorded at the destination;
// reusing one fails with [ErrDeploymentRecorded].
func (d *Deployer) Deploy(ctx context.Context, diffs *Differences, clean, dryRun bool) (filehash.Map, error) {
	return d.run(ctx, diffs, clean, dryRun, false)
}

// Preview is Deploy in dry-run mode.
func (d *Deployer) Preview(ctx context.Context, diffs *Differences, clean bool) (filehash.Map, error) {
	return d.run(ctx, diffs, clean, true, false)
}

// RedeployAndRestoreBackupFiles reverts the destination: it lays down
// this Deployer's data (the deployment being reverted to), then
// restores every file backed up while the current deployment was laid
// down. The destination must have a current deployment, and the
// revert is recorded under this Deployer's own, unused id.
func (d *Deployer) RedeployAndRestoreBackupFiles(ctx context.Context, diffs *Differences, clean, dryRun bool) (filehash.Map, error) {
	return d.run(ctx, diffs, clean, dryRun, true)
}

func (d *Deployer) run(ctx context.Context, diffs *Differences, clean, dryRun, restore bool) (filehash.Map, error) {
	if diffs == nil {
		diffs = &Differences{}
	}

	logger := d.logger.With(
		"destination", d.data.DestinationDir,
		"deployment_id", d.data.Properties.DeploymentID,
		"dry_run", dryRun,
	)

	if !dryRun {
		lock, err := lockDestination(d.metadata.Dir())
		if err != nil {
			return nil, err
		}
		defer lock.Release()
	}

	current, err := d.metadata.Current()
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, ErrNoCurrentDeployment) {
		return nil, err
	}
	if restore && !hasCurrent {
		return nil, fmt.Errorf("cannot revert: %w", err)
	}
	// Reusing a recorded id would overwrite its backups and hashes.
	recorded, err := d.metadata.IsRecorded(d.data.Properties.DeploymentID)
	if err != nil {
		return nil, err
	}
	if recorded {
		return nil, fmt.Errorf("deployment %d at %s: %w", d.data.Properties.DeploymentID, d.data.DestinationDir, ErrDeploymentRecorded)
	}

	original := make(filehash.Map)
	if hasCurrent {
		original, err = d.metadata.Hashes(current.DeploymentID)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded current deployment",
			"current_id", current.DeploymentID,
			"bundle", current.BundleName,
			"version", current.BundleVersion,
			"files", len(original),
		)
	}

	p, err := d.buildPlan(ctx)
	if err != nil {
		return nil, err
	}
	defer p.close()

	onDisk, err := d.scanDestination(ctx, original, p, diffs)
	if err != nil {
		return nil, err
	}

	actions := d.classify(original, onDisk, p, clean, diffs)
	if clean {
		diffs.SetCleaned(true)
	}
	logger.Debug("computed deployment actions", "planned", len(p.items), "on_disk", len(onDisk), "actions", len(actions))

	inside, external := d.metadata.BackupStores(d.data.Properties.DeploymentID, d.backupOptions)
	if err := d.apply(ctx, logger, actions, p, inside, external, diffs, dryRun); err != nil {
		return nil, err
	}

	if restore {
		if err := d.restoreBackups(ctx, logger, current.DeploymentID, diffs, dryRun); err != nil {
			return nil, err
		}
	}

	if !dryRun {
		properties := d.data.Properties
		properties.Compliance = ComplianceModeOrDefault(properties.Compliance)
		properties.DeployedAt = d.clock.Now()
		if err := d.metadata.Record(properties, p.hashes, diffs); err != nil {
			return nil, err
		}
	}

	logger.Info("deployment applied",
		"added", len(diffs.added),
		"changed", len(diffs.changed),
		"deleted", len(diffs.deleted),
		"backed_up", len(diffs.backedUp),
		"restored", len(diffs.restored),
	)
	return p.hashes, nil
}

// action is what happens to one path.
type action struct {
	key    string
	backup bool
	remove bool
	write  bool
}

// classify compares original (what the current deployment laid
// down), current (what is on disk), and new content, path by path.
func (d *Deployer) classify(original, current filehash.Map, p *plan, clean bool, diffs *Differences) []action {
	keys := make(map[string]bool, len(original)+len(current)+len(p.hashes))
	for _, m := range []filehash.Map{original, current, p.hashes} {
		for key := range m {
			keys[key] = true
		}
	}
	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	var actions []action
	for _, key := range sorted {
		originalDigest, inOriginal := original[key]
		currentDigest, onDisk := current[key]
		newDigest, inNew := p.hashes[key]
		// A file on disk is reproducible when it is exactly what the
		// current deployment laid down; anything else must be backed
		// up before it is overwritten or removed.
		reproducible := inOriginal && currentDigest == originalDigest

		act := action{key: key}
		switch {
		case clean && onDisk && !isExternal(key):
			act.backup = !reproducible
			if inNew {
				act.write = true
				diffs.AddAdded(key)
			} else {
				act.remove = true
				diffs.AddDeleted(key)
			}
		case inNew && !onDisk:
			act.write = true
			diffs.AddAdded(key)
		case inNew && currentDigest == newDigest:
			continue
		case inNew:
			act.backup = !reproducible
			act.write = true
			diffs.AddChanged(key)
		case onDisk:
			// Either dropped from the deployment or foreign content
			// inside the managed scope.
			act.backup = !reproducible
			act.remove = true
			diffs.AddDeleted(key)
		default:
			// Dropped from the deployment and already gone.
			continue
		}

		if act.write && p.items[key].templated {
			diffs.AddRealized(key)
		}
		actions = append(actions, act)
	}
	return actions
}

// backupLocation returns the store and store-relative path for key.
func backupLocation(key string, inside, external *backup.Store) (*backup.Store, string) {
	if isExternal(key) {
		return external, strings.TrimPrefix(filepath.ToSlash(key), "/")
	}
	return inside, key
}

func (d *Deployer) apply(ctx context.Context, logger *slog.Logger, actions []action, p *plan, inside, external *backup.Store, diffs *Differences, dryRun bool) error {
	// Every backup is taken before the first mutation.
	for _, act := range actions {
		if !act.backup {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		store, relative := backupLocation(act.key, inside, external)
		backupPath := filepath.Join(store.Root(), filepath.FromSlash(relative))
		if !dryRun {
			record, err := store.Save(relative, d.keyPath(act.key))
			if err != nil {
				return fmt.Errorf("backing up %s: %w", act.key, err)
			}
			backupPath = filepath.Join(store.Root(), filepath.FromSlash(record.Stored))
		}
		logger.Debug("backed up file", "path", act.key, "backup", backupPath)
		diffs.AddBackedUp(act.key, backupPath)
	}

	if dryRun {
		return nil
	}

	emptied := make(map[string]bool)
	for _, act := range actions {
		if !act.remove {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(d.keyPath(act.key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", act.key, err)
		}
		logger.Debug("removed file", "path", act.key)
		if !isExternal(act.key) {
			emptied[parentOf(act.key)] = true
		}
	}
	// A directory replaced by a file must be gone before the write.
	d.pruneEmptyDirectories(emptied)

	entriesByArchive := make(map[string]map[string]*item)
	for _, act := range actions {
		if !act.write {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		it := p.items[act.key]
		if it.kind == kindArchiveEntry && it.content == nil {
			if entriesByArchive[it.source] == nil {
				entriesByArchive[it.source] = make(map[string]*item)
			}
			entriesByArchive[it.source][it.key] = it
			continue
		}
		if err := d.writeItem(it); err != nil {
			return err
		}
		logger.Debug("wrote file", "path", it.key)
	}

	archives := make([]string, 0, len(entriesByArchive))
	for source := range entriesByArchive {
		archives = append(archives, source)
	}
	sort.Strings(archives)
	for _, source := range archives {
		entries := entriesByArchive[source]
		err := archive.Walk(source, func(entry archive.Entry, content io.Reader) error {
			it, wanted := entries[entry.Name]
			if !wanted {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return writeFileAtomic(d.keyPath(it.key), content, it.mode)
		})
		if err != nil {
			return fmt.Errorf("exploding %s: %w", source, err)
		}
		logger.Debug("exploded archive", "archive", source, "entries", len(entries))
	}

	return nil
}

func (d *Deployer) writeItem(it *item) error {
	target := d.keyPath(it.key)
	if it.content != nil {
		return writeFileAtomic(target, bytes.NewReader(it.content), it.mode)
	}
	source, err := os.Open(it.source)
	if err != nil {
		return fmt.Errorf("deploying %s: %w", it.key, err)
	}
	defer source.Close()
	return writeFileAtomic(target, source, it.mode)
}

// writeFileAtomic writes content to a temporary file next to target
// and renames it into place.
func writeFileAtomic(target string, content io.Reader, mode fs.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	directory := filepath.Dir(target)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", directory, err)
	}
	if info, err := os.Lstat(target); err == nil && info.IsDir() {
		return fmt.Errorf("deploying %s: a directory is in the way", target)
	}

	temporary, err := os.CreateTemp(directory, "."+filepath.Base(target)+".deploy-*")
	if err != nil {
		return fmt.Errorf("deploying %s: %w", target, err)
	}
	temporaryPath := temporary.Name()
	if _, err := io.Copy(temporary, content); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("deploying %s: %w", target, err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("deploying %s: %w", target, err)
	}
	if err := os.Chmod(temporaryPath, mode); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("deploying %s: %w", target, err)
	}
	if err := os.Rename(temporaryPath, target); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("deploying %s: %w", target, err)
	}
	return nil
}

// pruneEmptyDirectories removes directories left empty by deletions,
// walking up toward (but never removing) the destination root.
func (d *Deployer) pruneEmptyDirectories(directories map[string]bool) {
	sorted := make([]string, 0, len(directories))
	for directory := range directories {
		if directory != "" {
			sorted = append(sorted, directory)
		}
	}
	// Deepest first, so children go before their parents.
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Count(sorted[i], "/") > strings.Count(sorted[j], "/")
	})
	for _, directory := range sorted {
		for current := directory; current != ""; current = parentOf(current) {
			if os.Remove(d.keyPath(current)) != nil {
				break
			}
		}
	}
}

// restoreBackups restores every file backed up while deployment id
// was laid down.
func (d *Deployer) restoreBackups(ctx context.Context, logger *slog.Logger, id int, diffs *Differences, dryRun bool) error {
	inside, external := d.metadata.BackupStores(id, d.backupOptions)

	stores := []struct {
		store  *backup.Store
		target func(relative string) (key string)
	}{
		{inside, func(relative string) string { return relative }},
		{external, func(relative string) string { return "/" + relative }},
	}
	for _, entry := range stores {
		paths, err := entry.store.List()
		if err != nil {
			return err
		}
		for _, relative := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, _, err := entry.store.Lookup(relative)
			if err != nil {
				return err
			}
			key := entry.target(relative)
			backupPath := filepath.Join(entry.store.Root(), filepath.FromSlash(record.Stored))
			if !dryRun {
				if err := entry.store.Restore(relative, d.keyPath(key)); err != nil {
					return fmt.Errorf("restoring %s: %w", key, err)
				}
			}
			logger.Debug("restored backup", "path", key, "backup", backupPath)
			diffs.AddRestored(backupPath, key)
		}
	}
	return nil
}
