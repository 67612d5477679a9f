// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Walk visits every regular-file entry of the archive at path in
// archive order. Directory, link, and special entries are skipped.
// Returning an error from fn stops the walk and returns that error.
func Walk(archivePath string, fn WalkFunc) error {
	format, err := Detect(archivePath)
	if err != nil {
		return err
	}
	if format == FormatZip {
		return walkZip(archivePath, fn)
	}
	return walkTar(archivePath, format, fn)
}

func walkZip(archivePath string, fn WalkFunc) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip %s: %w", archivePath, err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if !file.Mode().IsRegular() {
			continue
		}
		name, err := CleanName(file.Name)
		if err != nil {
			return fmt.Errorf("%s: %w", archivePath, err)
		}
		if name == "" {
			continue
		}
		content, err := file.Open()
		if err != nil {
			return fmt.Errorf("opening %s in %s: %w", name, archivePath, err)
		}
		entry := Entry{
			Name:    name,
			Mode:    file.Mode(),
			Size:    int64(file.UncompressedSize64),
			ModTime: file.Modified,
		}
		err = fn(entry, content)
		content.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func walkTar(archivePath string, format Format, fn WalkFunc) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", archivePath, err)
	}
	defer file.Close()

	stream, closeStream, err := decompress(file, format)
	if err != nil {
		return fmt.Errorf("opening %s stream of %s: %w", format, archivePath, err)
	}
	defer closeStream()

	reader := tar.NewReader(stream)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", archivePath, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		name, err := CleanName(header.Name)
		if err != nil {
			return fmt.Errorf("%s: %w", archivePath, err)
		}
		if name == "" {
			continue
		}
		entry := Entry{
			Name:    name,
			Mode:    header.FileInfo().Mode(),
			Size:    header.Size,
			ModTime: header.ModTime,
		}
		if err := fn(entry, reader); err != nil {
			return err
		}
	}
}

// decompress wraps source in the decompressor for format.
func decompress(source io.Reader, format Format) (io.Reader, func(), error) {
	switch format {
	case FormatTar:
		return source, func() {}, nil
	case FormatTarGzip:
		reader, err := gzip.NewReader(source)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() { reader.Close() }, nil
	case FormatTarZstd:
		decoder, err := zstd.NewReader(source)
		if err != nil {
			return nil, nil, err
		}
		return decoder, decoder.Close, nil
	case FormatTarLZ4:
		return lz4.NewReader(source), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("format %s is not a tar stream", format)
	}
}

// Extract explodes the archive at archivePath into destination,
// passing every regular-file entry through transform. It returns the
// names of the extracted entries in archive order.
func Extract(archivePath, destination string, transform Transform) ([]string, error) {
	var names []string
	err := Walk(archivePath, func(entry Entry, content io.Reader) error {
		target := filepath.Join(destination, filepath.FromSlash(entry.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", entry.Name, err)
		}
		permissions := entry.Mode.Perm()
		if permissions == 0 {
			permissions = 0o644
		}
		output, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, permissions)
		if err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		if err := apply(transform, entry.Name, content, output); err != nil {
			output.Close()
			return fmt.Errorf("extracting %s: %w", entry.Name, err)
		}
		if err := output.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", target, err)
		}
		names = append(names, entry.Name)
		return nil
	})
	if err != nil {
		return names, err
	}
	return names, nil
}
