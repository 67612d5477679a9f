// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. It centralizes
// the raw stderr writes that happen after main's run function returns,
// when the command logger is no longer in scope:
//
//   - Mapping a returned error to a process exit code.
//   - Reporting an unexpected error as "error: ..." before exiting.
package process
