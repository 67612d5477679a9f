// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"github.com/Masterminds/semver/v3"
)

// Transition describes how a destination moves between two bundle
// versions.
type Transition string

const (
	// Initial means nothing was deployed before.
	Initial Transition = "initial"

	// Upgrade means the new version orders after the current one.
	Upgrade Transition = "upgrade"

	// Downgrade means the new version orders before the current one.
	Downgrade Transition = "downgrade"

	// Reinstall means both versions are equal.
	Reinstall Transition = "reinstall"

	// Replace means the versions differ but cannot be ordered
	// (at least one is not a semantic version).
	Replace Transition = "replace"
)

// Classify reports the transition from the currently deployed bundle
// version to the incoming one. An empty current version means the
// destination has no deployment yet.
func Classify(current, incoming string) Transition {
	if current == "" {
		return Initial
	}
	if current == incoming {
		return Reinstall
	}

	currentVersion, currentErr := semver.NewVersion(current)
	incomingVersion, incomingErr := semver.NewVersion(incoming)
	if currentErr != nil || incomingErr != nil {
		return Replace
	}

	switch incomingVersion.Compare(currentVersion) {
	case 1:
		return Upgrade
	case -1:
		return Downgrade
	default:
		// "1.0" and "1.0.0" are distinct strings but the same version.
		return Reinstall
	}
}
