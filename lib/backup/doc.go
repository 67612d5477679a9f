// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backup stores copies of destination files that a deployment
// is about to overwrite or delete, and restores them on revert.
//
// A [Store] is rooted at a directory (the per-deployment backup or
// ext-backup directory). Each saved file is kept under its relative
// path, optionally compressed (zstd or lz4 frame stream) and
// optionally encrypted to age X25519 recipients. The encoding is
// recorded in a CBOR manifest at the store root together with the
// BLAKE3 digest of the original content, so restoring never depends
// on the configuration in effect at restore time and a corrupt backup
// is detected rather than silently written back.
package backup
