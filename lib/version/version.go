// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time. When they are
// not, the values recorded by "go build" in the binary's build info
// are used instead.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version of the bundle tool itself.
	Version = "0.1.0-dev"
)

// build is the effective build identity after falling back to the
// binary's embedded VCS settings.
type build struct {
	commit string
	dirty  bool
	time   string
}

func currentBuild() build {
	current := build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if current.commit != "unknown" {
		return current
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return current
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			current.commit = setting.Value
			if len(current.commit) > 12 {
				current.commit = current.commit[:12]
			}
		case "vcs.modified":
			current.dirty = setting.Value == "true"
		case "vcs.time":
			if current.time == "unknown" {
				current.time = setting.Value
			}
		}
	}
	return current
}

// Info returns a one-line version string, e.g.
// "0.1.0-dev (3f2a9c1b7d4e-dirty, 2026-01-02T15:04:05Z)".
func Info() string {
	current := currentBuild()
	dirty := ""
	if current.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, current.commit, dirty, current.time)
}

// Full returns Info followed by the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
