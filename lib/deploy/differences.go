// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Differences accumulates every change a deployment made, or would
// make in a dry run. Paths are slash-separated and relative to the
// destination directory, or absolute for files outside it. The zero
// value is ready to use. A Differences is not safe for concurrent
// use.
type Differences struct {
	added    map[string]struct{}
	deleted  map[string]struct{}
	changed  map[string]struct{}
	ignored  map[string]struct{}
	realized map[string]struct{}
	backedUp map[string]string
	restored map[string]string
	errors   map[string]string
	cleaned  bool
}

func addTo(set *map[string]struct{}, path string) {
	if *set == nil {
		*set = make(map[string]struct{})
	}
	(*set)[path] = struct{}{}
}

func putIn(mapping *map[string]string, key, value string) {
	if *mapping == nil {
		*mapping = make(map[string]string)
	}
	(*mapping)[key] = value
}

// AddAdded records a file that did not exist and was created.
func (d *Differences) AddAdded(path string) { addTo(&d.added, path) }

// AddDeleted records a file that was removed.
func (d *Differences) AddDeleted(path string) { addTo(&d.deleted, path) }

// AddChanged records an existing file that was overwritten.
func (d *Differences) AddChanged(path string) { addTo(&d.changed, path) }

// AddIgnored records a path excluded by the ignore pattern.
func (d *Differences) AddIgnored(path string) { addTo(&d.ignored, path) }

// AddRealized records a file written through the template engine.
func (d *Differences) AddRealized(path string) { addTo(&d.realized, path) }

// AddBackedUp records that path was copied to backupPath.
func (d *Differences) AddBackedUp(path, backupPath string) { putIn(&d.backedUp, path, backupPath) }

// AddRestored records that backupPath was restored to path.
func (d *Differences) AddRestored(backupPath, path string) { putIn(&d.restored, backupPath, path) }

// AddError records a per-path failure message.
func (d *Differences) AddError(path, message string) { putIn(&d.errors, path, message) }

// SetCleaned records that the destination was purged before
// deployment.
func (d *Differences) SetCleaned(cleaned bool) { d.cleaned = cleaned }

func sortedSet(set map[string]struct{}) []string {
	paths := make([]string, 0, len(set))
	for path := range set {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func copyMap(mapping map[string]string) map[string]string {
	result := make(map[string]string, len(mapping))
	for key, value := range mapping {
		result[key] = value
	}
	return result
}

func (d *Differences) Added() []string    { return sortedSet(d.added) }
func (d *Differences) Deleted() []string  { return sortedSet(d.deleted) }
func (d *Differences) Changed() []string  { return sortedSet(d.changed) }
func (d *Differences) Ignored() []string  { return sortedSet(d.ignored) }
func (d *Differences) Realized() []string { return sortedSet(d.realized) }

// BackedUp maps each backed-up path to its backup location.
func (d *Differences) BackedUp() map[string]string { return copyMap(d.backedUp) }

// Restored maps each backup location to the path it was restored to.
func (d *Differences) Restored() map[string]string { return copyMap(d.restored) }

// Errors maps paths to failure messages.
func (d *Differences) Errors() map[string]string { return copyMap(d.errors) }

// WasCleaned reports whether the destination was purged.
func (d *Differences) WasCleaned() bool { return d.cleaned }

// Empty reports whether nothing was recorded.
func (d *Differences) Empty() bool {
	return len(d.added) == 0 && len(d.deleted) == 0 && len(d.changed) == 0 &&
		len(d.ignored) == 0 && len(d.realized) == 0 && len(d.backedUp) == 0 &&
		len(d.restored) == 0 && len(d.errors) == 0 && !d.cleaned
}

// Summary is the serializable form of a Differences.
type Summary struct {
	Added    []string          `cbor:"added,omitempty" json:"added,omitempty"`
	Deleted  []string          `cbor:"deleted,omitempty" json:"deleted,omitempty"`
	Changed  []string          `cbor:"changed,omitempty" json:"changed,omitempty"`
	Ignored  []string          `cbor:"ignored,omitempty" json:"ignored,omitempty"`
	Realized []string          `cbor:"realized,omitempty" json:"realized,omitempty"`
	BackedUp map[string]string `cbor:"backed_up,omitempty" json:"backed_up,omitempty"`
	Restored map[string]string `cbor:"restored,omitempty" json:"restored,omitempty"`
	Errors   map[string]string `cbor:"errors,omitempty" json:"errors,omitempty"`
	Cleaned  bool              `cbor:"cleaned,omitempty" json:"cleaned,omitempty"`
}

// Summary returns a snapshot of the recorded changes.
func (d *Differences) Summary() Summary {
	summary := Summary{
		Added:    d.Added(),
		Deleted:  d.Deleted(),
		Changed:  d.Changed(),
		Ignored:  d.Ignored(),
		Realized: d.Realized(),
		Cleaned:  d.cleaned,
	}
	if len(d.backedUp) > 0 {
		summary.BackedUp = d.BackedUp()
	}
	if len(d.restored) > 0 {
		summary.Restored = d.Restored()
	}
	if len(d.errors) > 0 {
		summary.Errors = d.Errors()
	}
	return summary
}

// MarshalJSON encodes the snapshot returned by [Differences.Summary].
func (d *Differences) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Summary())
}

// String renders a stable one-line description, used as the detail
// of the "Deployer Finished" audit event.
func (d *Differences) String() string {
	var builder strings.Builder
	writeList := func(label string, paths []string) {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%v", label, paths)
	}
	writeList("added", d.Added())
	writeList("deleted", d.Deleted())
	writeList("changed", d.Changed())
	writeList("ignored", d.Ignored())
	writeList("realized", d.Realized())
	writeList("backed_up", sortedKeys(d.backedUp))
	writeList("restored", sortedKeys(d.restored))
	writeList("errors", sortedKeys(d.errors))
	fmt.Fprintf(&builder, ", cleaned=%t", d.cleaned)
	return builder.String()
}

func sortedKeys(mapping map[string]string) []string {
	keys := make([]string, 0, len(mapping))
	for key := range mapping {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
