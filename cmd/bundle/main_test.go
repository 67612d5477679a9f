// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"strings"
	"testing"

	"github.com/bureau-foundation/bundle/cmd/bundle/cli"
	"github.com/bureau-foundation/bundle/cmd/bundle/commands"
)

// TestCommandTree walks the production command tree and checks that
// every runnable command is documented and that its params struct
// binds to flags without error.
func TestCommandTree(t *testing.T) {
	root := commands.Root(io.Discard)
	walkCommands(root, nil, func(command *cli.Command, path []string) {
		name := strings.Join(path, " ")
		if command.Run == nil {
			return
		}
		if command.Summary == "" {
			t.Errorf("%s: runnable command missing Summary", name)
		}
		if command.Params == nil {
			return
		}
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					t.Errorf("%s: binding params panicked: %v", name, recovered)
				}
			}()
			cli.FlagsFromParams(command.Name, command.Params())
		}()
	})
}

// walkCommands recursively visits every command in the tree,
// calling visit for each node with the accumulated command path.
func walkCommands(command *cli.Command, path []string, visit func(*cli.Command, []string)) {
	current := make([]string, len(path)+1)
	copy(current, path)
	current[len(path)] = command.Name
	visit(command, current)
	for _, sub := range command.Subcommands {
		walkCommands(sub, current, visit)
	}
}
