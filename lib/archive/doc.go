// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive reads, explodes, and rewrites the archive formats a
// bundle may carry: zip (including jar, war, and ear), plain tar, and
// tar compressed with gzip, zstd, or lz4.
//
// Every entry name is normalized to a slash-separated relative path
// before use. Entries that would escape the extraction root (absolute
// names, ".." components) fail with [ErrUnsafeEntry]; nothing is
// written for them.
//
// Content transformation is delegated to a [Transform] supplied by the
// caller. The deployer uses it to realize templated entries while
// exploding or rewriting an archive.
package archive
