// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/bundle/lib/deploy"
)

var (
	// ErrNoDeployables is returned when a unit declares no file,
	// archive, url-file, or url-archive.
	ErrNoDeployables = errors.New("at least one file must be deployed via nested file, archive, url-file, or url-archive entries in the recipe")

	// ErrTargetNotFound is returned when a unit names a pre- or
	// post-install target the recipe does not define.
	ErrTargetNotFound = errors.New("target does not exist")

	// ErrInvalidManageRootDir is returned by the deprecated
	// manageRootDir shim for anything but "true" or "false".
	ErrInvalidManageRootDir = errors.New("manageRootDir attribute must be 'true' or 'false'")

	// ErrDuplicateSystemService is returned when a unit is given a
	// second system service.
	ErrDuplicateSystemService = errors.New("a deployment unit can only have one system service")

	// ErrDuplicateDestination is returned when two declarations of a
	// unit resolve to the same destination.
	ErrDuplicateDestination = deploy.ErrDuplicateDestination
)

// Phase names the step of an install attempt that failed.
type Phase string

const (
	PhaseValidate    Phase = "validate"
	PhasePreinstall  Phase = "preinstall"
	PhaseDownload    Phase = "download"
	PhaseAssemble    Phase = "assemble"
	PhaseDeploy      Phase = "deploy"
	PhaseService     Phase = "system-service"
	PhasePostinstall Phase = "postinstall"
)

// DeployError is the single failure type of an install attempt.
type DeployError struct {
	Bundle  string
	Version string
	Phase   Phase
	Cause   error
}

func (e *DeployError) Error() string {
	if e.Phase == PhaseDeploy {
		return fmt.Sprintf("failed to deploy bundle [%s] version [%s]: %v", e.Bundle, e.Version, e.Cause)
	}
	return fmt.Sprintf("bundle [%s] version [%s]: %s: %v", e.Bundle, e.Version, e.Phase, e.Cause)
}

func (e *DeployError) Unwrap() error { return e.Cause }

// Detail renders the cause chain one error per line, outermost first.
// Joined errors are expanded as indented branches.
func (e *DeployError) Detail() string {
	var builder strings.Builder
	writeChain(&builder, e.Cause, 0)
	return strings.TrimRight(builder.String(), "\n")
}

func writeChain(builder *strings.Builder, err error, depth int) {
	for err != nil {
		fmt.Fprintf(builder, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		switch unwrapped := err.(type) {
		case interface{ Unwrap() []error }:
			for _, branch := range unwrapped.Unwrap() {
				writeChain(builder, branch, depth+1)
			}
			return
		case interface{ Unwrap() error }:
			err = unwrapped.Unwrap()
		default:
			return
		}
	}
}

// allMessages joins the message of every error in the chain whose
// text adds something to its wrapper's.
func allMessages(err error) string {
	var messages []string
	for err != nil {
		message := err.Error()
		if len(messages) == 0 || !strings.Contains(messages[len(messages)-1], message) {
			messages = append(messages, message)
		}
		err = errors.Unwrap(err)
	}
	return strings.Join(messages, " -> ")
}
