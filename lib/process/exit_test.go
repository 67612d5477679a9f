// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type codedError struct{ code int }

func (e codedError) Error() string { return fmt.Sprintf("exit %d", e.code) }
func (e codedError) ExitCode() int { return e.code }

func TestReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantOutput string
	}{
		{name: "nil", err: nil, wantCode: 0, wantOutput: ""},
		{name: "plain error", err: errors.New("boom"), wantCode: 1, wantOutput: "error: boom\n"},
		{name: "exit coder", err: codedError{code: 3}, wantCode: 3, wantOutput: ""},
		{name: "wrapped exit coder", err: fmt.Errorf("status: %w", codedError{code: 1}), wantCode: 1, wantOutput: ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			var output bytes.Buffer
			if got := Report(&output, test.err); got != test.wantCode {
				t.Errorf("Report() = %d, want %d", got, test.wantCode)
			}
			if output.String() != test.wantOutput {
				t.Errorf("output = %q, want %q", output.String(), test.wantOutput)
			}
		})
	}
}
