// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single place where deployment metadata is
// turned into bytes. It wraps github.com/fxamacker/cbor/v2 configured
// for Core Deterministic Encoding (RFC 8949 §4.2), so the same
// deployment record always produces identical bytes on disk and two
// metadata files can be compared byte-for-byte.
//
// [WriteFile] and [ReadFile] add the file handling every metadata
// writer needs: the write goes to a temporary sibling and is renamed
// into place, so a crash mid-write leaves the previous record intact.
package codec
