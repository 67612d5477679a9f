// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/bureau-foundation/bundle/lib/testutil"
	"github.com/klauspost/compress/zip"
)

func TestFormatFromName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want Format
	}{
		{"app.zip", FormatZip},
		{"App.WAR", FormatZip},
		{"lib.jar", FormatZip},
		{"content.tar", FormatTar},
		{"content.tar.gz", FormatTarGzip},
		{"content.tgz", FormatTarGzip},
		{"content.tar.zst", FormatTarZstd},
		{"content.tar.lz4", FormatTarLZ4},
		{"notes.txt", FormatUnknown},
	}
	for _, test := range tests {
		if got := FormatFromName(test.name); got != test.want {
			t.Errorf("FormatFromName(%q) = %s, want %s", test.name, got, test.want)
		}
	}
}

func TestDetectByContent(t *testing.T) {
	directory := t.TempDir()

	// Misleading extensions: content wins.
	zipPath := filepath.Join(directory, "archive.bin")
	testutil.WriteZip(t, zipPath, map[string]string{"a.txt": "a"})
	tarGzipPath := filepath.Join(directory, "archive.data")
	testutil.WriteTarGzip(t, tarGzipPath, map[string]string{"a.txt": "a"})

	if format, err := Detect(zipPath); err != nil || format != FormatZip {
		t.Errorf("Detect(zip) = %s, %v; want zip", format, err)
	}
	if format, err := Detect(tarGzipPath); err != nil || format != FormatTarGzip {
		t.Errorf("Detect(tar.gz) = %s, %v; want tar.gz", format, err)
	}
}

func TestDetectUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("just text"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Detect(path); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Detect(text) error = %v, want ErrUnknownFormat", err)
	}
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"a/b.txt", "a/b.txt", false},
		{"./a/./b.txt", "a/b.txt", false},
		{"dir/", "dir", false},
		{"a\\b.txt", "a/b.txt", false},
		{"a/../b.txt", "b.txt", false},
		{"../escape", "", true},
		{"a/../../escape", "", true},
		{"/etc/passwd", "", true},
		{".", "", false},
	}
	for _, test := range tests {
		got, err := CleanName(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("CleanName(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnsafeEntry) {
			t.Errorf("CleanName(%q) error = %v, want ErrUnsafeEntry", test.input, err)
		}
		if got != test.want {
			t.Errorf("CleanName(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestWalkSkipsDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.zip")
	output, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	writer := zip.NewWriter(output)
	if _, err := writer.Create("conf/"); err != nil {
		t.Fatalf("Create dir entry: %v", err)
	}
	part, err := writer.Create("conf/app.properties")
	if err != nil {
		t.Fatalf("Create file entry: %v", err)
	}
	part.Write([]byte("port=1"))
	writer.Close()
	output.Close()

	var names []string
	err = Walk(path, func(entry Entry, content io.Reader) error {
		names = append(names, entry.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"conf/app.properties"}) {
		t.Errorf("Walk visited %v, want [conf/app.properties]", names)
	}
}

func TestExtractWithTransform(t *testing.T) {
	for _, format := range []string{"zip", "tar.gz"} {
		t.Run(format, func(t *testing.T) {
			directory := t.TempDir()
			archivePath := filepath.Join(directory, "bundle."+format)
			files := map[string]string{
				"bin/run.sh":     "#!/bin/sh\n",
				"conf/app.conf":  "dir=@@dir@@",
				"lib/library.so": "binary",
			}
			if format == "zip" {
				testutil.WriteZip(t, archivePath, files)
			} else {
				testutil.WriteTarGzip(t, archivePath, files)
			}

			upper := func(name string, content io.Reader, destination io.Writer) error {
				data, err := io.ReadAll(content)
				if err != nil {
					return err
				}
				if strings.HasSuffix(name, ".conf") {
					data = bytes.ReplaceAll(data, []byte("@@dir@@"), []byte("/opt/app"))
				}
				_, err = destination.Write(data)
				return err
			}

			target := filepath.Join(directory, "out")
			names, err := Extract(archivePath, target, upper)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(names) != 3 {
				t.Errorf("Extract returned %d names, want 3", len(names))
			}

			got := testutil.ReadTree(t, target)
			want := map[string]string{
				"bin/run.sh":     "#!/bin/sh\n",
				"conf/app.conf":  "dir=/opt/app",
				"lib/library.so": "binary",
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("extracted tree = %v, want %v", got, want)
			}
		})
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	directory := t.TempDir()
	archivePath := filepath.Join(directory, "evil.tar")
	output, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	writer := tar.NewWriter(output)
	writer.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: "../escaped", Mode: 0o644, Size: 1})
	writer.Write([]byte("x"))
	writer.Close()
	output.Close()

	_, err = Extract(archivePath, filepath.Join(directory, "out"), nil)
	if !errors.Is(err, ErrUnsafeEntry) {
		t.Fatalf("Extract error = %v, want ErrUnsafeEntry", err)
	}
	testutil.RequireNoFile(t, filepath.Join(directory, "escaped"))
}

func TestRewrite(t *testing.T) {
	for _, format := range []string{"zip", "tar.gz"} {
		t.Run(format, func(t *testing.T) {
			directory := t.TempDir()
			source := filepath.Join(directory, "source."+format)
			files := map[string]string{"a.txt": "keep", "b.conf": "host=@@host@@"}
			if format == "zip" {
				testutil.WriteZip(t, source, files)
			} else {
				testutil.WriteTarGzip(t, source, files)
			}

			replaceHost := func(name string, content io.Reader, destination io.Writer) error {
				data, err := io.ReadAll(content)
				if err != nil {
					return err
				}
				_, err = destination.Write(bytes.ReplaceAll(data, []byte("@@host@@"), []byte("db1")))
				return err
			}

			rewritten := filepath.Join(directory, "nested", "rewritten."+format)
			if err := Rewrite(source, rewritten, replaceHost); err != nil {
				t.Fatalf("Rewrite: %v", err)
			}

			got := make(map[string]string)
			err := Walk(rewritten, func(entry Entry, content io.Reader) error {
				data, err := io.ReadAll(content)
				got[entry.Name] = string(data)
				return err
			})
			if err != nil {
				t.Fatalf("Walk(rewritten): %v", err)
			}
			want := map[string]string{"a.txt": "keep", "b.conf": "host=db1"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("rewritten content = %v, want %v", got, want)
			}
		})
	}
}
