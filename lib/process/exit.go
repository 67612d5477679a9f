// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that carry their own exit code.
// Commands that have already printed their output return one to exit
// non-zero without an extra error line.
type ExitCoder interface {
	ExitCode() int
}

// Exit terminates the process according to err: code 0 for nil, the
// error's own code for an [ExitCoder], otherwise 1 after reporting err.
func Exit(err error) {
	os.Exit(Report(os.Stderr, err))
}

// Report writes err to w unless it is nil or an [ExitCoder], and
// returns the exit code the process should use.
func Report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
