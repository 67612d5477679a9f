// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"archive/tar"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// WriteZip creates a zip archive at path containing files (slash
// path to content). Entries are written in sorted name order.
func WriteZip(t testing.TB, path string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	output, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer output.Close()

	writer := zip.NewWriter(output)
	for _, name := range sortedKeys(files) {
		part, err := writer.Create(name)
		if err != nil {
			t.Fatalf("adding %s to %s: %v", name, path, err)
		}
		if _, err := part.Write([]byte(files[name])); err != nil {
			t.Fatalf("writing %s to %s: %v", name, path, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing %s: %v", path, err)
	}
}

// WriteTarGzip creates a gzip-compressed tar archive at path
// containing files.
func WriteTarGzip(t testing.TB, path string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	output, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer output.Close()

	compressed := gzip.NewWriter(output)
	writer := tar.NewWriter(compressed)
	for _, name := range sortedKeys(files) {
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(files[name])),
		}
		if err := writer.WriteHeader(header); err != nil {
			t.Fatalf("adding %s to %s: %v", name, path, err)
		}
		if _, err := writer.Write([]byte(files[name])); err != nil {
			t.Fatalf("writing %s to %s: %v", name, path, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing tar %s: %v", path, err)
	}
	if err := compressed.Close(); err != nil {
		t.Fatalf("closing gzip %s: %v", path, err)
	}
}

func sortedKeys(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
