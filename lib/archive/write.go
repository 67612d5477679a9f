// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Rewrite copies the archive at source to destination in the same
// format, passing every regular-file entry through transform.
// Directory and special entries are dropped; deployers only track
// regular files. The destination is written to a temporary file and
// renamed into place.
func Rewrite(source, destination string, transform Transform) error {
	format, err := Detect(source)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", destination, err)
	}
	temporary, err := os.CreateTemp(filepath.Dir(destination), "."+filepath.Base(destination)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary archive: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if format == FormatZip {
		err = rewriteZip(source, temporary, transform)
	} else {
		err = rewriteTar(source, format, temporary, transform)
	}
	if err != nil {
		temporary.Close()
		return fmt.Errorf("rewriting %s: %w", source, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, destination); err != nil {
		return fmt.Errorf("renaming rewritten archive into place: %w", err)
	}
	return nil
}

func rewriteZip(source string, output io.Writer, transform Transform) error {
	writer := zip.NewWriter(output)
	err := Walk(source, func(entry Entry, content io.Reader) error {
		header := &zip.FileHeader{
			Name:     entry.Name,
			Method:   zip.Deflate,
			Modified: entry.ModTime,
		}
		header.SetMode(entry.Mode)
		part, err := writer.CreateHeader(header)
		if err != nil {
			return err
		}
		return apply(transform, entry.Name, content, part)
	})
	if err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func rewriteTar(source string, format Format, output io.Writer, transform Transform) error {
	stream, finish, err := compress(output, format)
	if err != nil {
		return err
	}
	writer := tar.NewWriter(stream)

	err = Walk(source, func(entry Entry, content io.Reader) error {
		// Tar headers carry the size up front, so the transformed
		// content is staged in a temporary file first.
		scratch, err := os.CreateTemp("", "bundle-entry-*")
		if err != nil {
			return err
		}
		defer os.Remove(scratch.Name())
		defer scratch.Close()

		if err := apply(transform, entry.Name, content, scratch); err != nil {
			return err
		}
		size, err := scratch.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if _, err := scratch.Seek(0, io.SeekStart); err != nil {
			return err
		}
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     entry.Name,
			Mode:     int64(entry.Mode.Perm()),
			Size:     size,
			ModTime:  entry.ModTime,
		}
		if err := writer.WriteHeader(header); err != nil {
			return err
		}
		_, err = io.Copy(writer, scratch)
		return err
	})
	if err != nil {
		writer.Close()
		finish()
		return err
	}
	if err := writer.Close(); err != nil {
		finish()
		return err
	}
	return finish()
}

// compress wraps output in the compressor for format. The returned
// function flushes and closes the compressor (not output).
func compress(output io.Writer, format Format) (io.Writer, func() error, error) {
	switch format {
	case FormatTar:
		return output, func() error { return nil }, nil
	case FormatTarGzip:
		writer := gzip.NewWriter(output)
		return writer, writer.Close, nil
	case FormatTarZstd:
		encoder, err := zstd.NewWriter(output)
		if err != nil {
			return nil, nil, err
		}
		return encoder, encoder.Close, nil
	case FormatTarLZ4:
		writer := lz4.NewWriter(output)
		return writer, writer.Close, nil
	default:
		return nil, nil, fmt.Errorf("format %s is not a tar stream", format)
	}
}
