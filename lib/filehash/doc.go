// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package filehash computes content digests for deployed files and
// maintains the path-to-digest maps the deployer compares to decide
// which files were added, changed, deleted, or modified by hand.
//
// Digests are BLAKE3-256, hex encoded. The deployer never compares
// digests across releases of this tool, so the algorithm is not
// recorded in the digest string.
package filehash
