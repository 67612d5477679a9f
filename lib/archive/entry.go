// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"
)

// ErrUnsafeEntry is returned for an entry whose name is absolute or
// climbs out of the archive root.
var ErrUnsafeEntry = errors.New("unsafe archive entry name")

// Entry describes one regular file inside an archive.
type Entry struct {
	// Name is the cleaned, slash-separated path of the entry.
	Name    string
	Mode    fs.FileMode
	Size    int64
	ModTime time.Time
}

// Transform produces the content written for one entry. It must
// consume content and write the result to destination. A nil
// Transform copies content unchanged.
type Transform func(name string, content io.Reader, destination io.Writer) error

// WalkFunc is called for every regular-file entry during [Walk]. The
// reader is only valid for the duration of the call.
type WalkFunc func(entry Entry, content io.Reader) error

// CleanName normalizes an entry name and rejects names that would
// escape the archive root. Directory entries clean to their path
// without the trailing slash.
func CleanName(name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafeEntry)
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%q: %w", name, ErrUnsafeEntry)
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func apply(transform Transform, name string, content io.Reader, destination io.Writer) error {
	if transform == nil {
		_, err := io.Copy(destination, content)
		return err
	}
	return transform(name, content, destination)
}
