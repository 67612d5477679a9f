// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for bundle packages.
//
// Most deployment tests follow the same shape: lay out a source tree
// and a destination tree, run a deployment, then compare the
// destination against an expected tree. [WriteTree] and [ReadTree]
// express trees as map[string]string keyed by slash-separated
// relative path, which keeps expectations readable inline.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. [DiscardLogger] returns a *slog.Logger that drops
// everything, for components that require a logger.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no dependencies on other bundle packages.
package testutil
