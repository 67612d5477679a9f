// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filehash

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/bureau-foundation/bundle/lib/codec"
)

// Map records the digest of every file in a deployment, keyed by
// slash-separated path relative to the destination directory (or by
// absolute path for files deployed outside it).
type Map map[string]string

// Paths returns the keys of m in sorted order.
func (m Map) Paths() []string {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a copy of m. A nil map clones to an empty map.
func (m Map) Clone() Map {
	clone := make(Map, len(m))
	for path, digest := range m {
		clone[path] = digest
	}
	return clone
}

// Delta is the result of comparing two maps.
type Delta struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the compared maps were identical.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares m (the old state) with next. Every slice in the
// result is sorted.
func (m Map) Diff(next Map) Delta {
	var delta Delta
	for path, digest := range next {
		old, exists := m[path]
		switch {
		case !exists:
			delta.Added = append(delta.Added, path)
		case old != digest:
			delta.Changed = append(delta.Changed, path)
		}
	}
	for path := range m {
		if _, exists := next[path]; !exists {
			delta.Removed = append(delta.Removed, path)
		}
	}
	sort.Strings(delta.Added)
	sort.Strings(delta.Removed)
	sort.Strings(delta.Changed)
	return delta
}

// Save writes m to path in CBOR.
func (m Map) Save(path string) error {
	if err := codec.WriteFile(path, map[string]string(m)); err != nil {
		return fmt.Errorf("saving file hashes: %w", err)
	}
	return nil
}

// Load reads a map previously written by [Map.Save]. A missing file
// yields an empty map and no error: a destination that was never
// deployed to has no recorded hashes.
func Load(path string) (Map, error) {
	var raw map[string]string
	if err := codec.ReadFile(path, &raw); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Map{}, nil
		}
		return nil, fmt.Errorf("loading file hashes: %w", err)
	}
	if raw == nil {
		return Map{}, nil
	}
	return Map(raw), nil
}
