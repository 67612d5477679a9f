// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records the structured trail a deployment leaves
// behind: one [Event] per phase transition (clean requested, download
// started, deployer finished, ...), each tagged with a [Status] of
// INFO, SUCCESS, or FAILURE.
//
// Events flow into a [Sink]. Sinks shipped here:
//
//   - [LogSink] -- writes each event as a structured slog record
//   - [FileSink] -- appends JSON lines to a file for external collection
//   - [Recorder] -- keeps events in memory (tests, dry-run reports)
//   - [Multi] -- fans one event out to several sinks
//
// Audit writes are never allowed to hide the error that caused them.
// On failure paths callers go through [BestEffort], which swallows
// (and debug-logs) any sink error so the original deployment error
// reaches the caller unchanged.
package audit
