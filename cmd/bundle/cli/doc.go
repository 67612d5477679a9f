// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the bundle CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a flag source, and a Run
// function. Commands are assembled into a tree in cmd/bundle/commands and
// dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// Flags are declared either as a [pflag.FlagSet] factory or, more
// commonly, as a tagged params struct bound by [BindFlags]. Embedding
// [JSONOutput] adds --json; embedding [LoggingParams] adds --verbose and
// selects the level of the logger handed to Run.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3). This is implemented in
// suggest.go.
package cli
