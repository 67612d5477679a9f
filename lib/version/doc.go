// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the bundle
// binary and ordering of bundle versions.
//
// # Build information
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// These default to "unknown" / "0.1.0-dev" when not injected.
//
// # Bundle versions
//
// Bundle versions are free-form strings chosen by whoever authored the
// bundle. [Classify] interprets them as semantic versions when both
// sides parse (via github.com/Masterminds/semver/v3, which accepts
// "1.2", "v2", and similar loose forms) and reports whether moving
// from one to the other is an upgrade, a downgrade, or a reinstall.
// Versions that do not parse are compared for equality only.
package version
