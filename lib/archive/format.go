// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format identifies an archive container and its compression.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatTarLZ4
)

// ErrUnknownFormat is returned by [Detect] when neither the content
// nor the file name identifies a supported archive format.
var ErrUnknownFormat = errors.New("unknown archive format")

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarZstd:
		return "tar.zst"
	case FormatTarLZ4:
		return "tar.lz4"
	default:
		return "unknown"
	}
}

// IsTar reports whether f is one of the tar variants.
func (f Format) IsTar() bool {
	return f == FormatTar || f == FormatTarGzip || f == FormatTarZstd || f == FormatTarLZ4
}

// mimeFormats maps detected MIME types to formats. Compressed streams
// are assumed to wrap a tar; bundles do not carry bare compressed
// files as archives.
var mimeFormats = []struct {
	mime   string
	format Format
}{
	{"application/zip", FormatZip},
	{"application/x-tar", FormatTar},
	{"application/gzip", FormatTarGzip},
	{"application/zstd", FormatTarZstd},
	{"application/x-lz4", FormatTarLZ4},
}

// Detect determines the format of the archive at path. Content
// sniffing is tried first; the file extension decides when the
// content is not conclusive (lz4 frames and some tar variants are not
// recognized by content).
func Detect(path string) (Format, error) {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("detecting archive format of %s: %w", path, err)
	}
	for current := detected; current != nil; current = current.Parent() {
		for _, candidate := range mimeFormats {
			if current.Is(candidate.mime) {
				return candidate.format, nil
			}
		}
	}

	if format := FormatFromName(path); format != FormatUnknown {
		return format, nil
	}
	return FormatUnknown, fmt.Errorf("%s (detected %s): %w", path, detected.String(), ErrUnknownFormat)
}

// FormatFromName infers a format from a file name's extension.
func FormatFromName(name string) Format {
	lower := strings.ToLower(filepath.Base(name))
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGzip
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZstd
	case strings.HasSuffix(lower, ".tar.lz4"):
		return FormatTarLZ4
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	}
	switch filepath.Ext(lower) {
	case ".zip", ".jar", ".war", ".ear", ".sar":
		return FormatZip
	}
	return FormatUnknown
}
