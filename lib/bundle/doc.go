// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle turns a bundle recipe into a deployment. A recipe
// declares one [DeploymentUnit]: local files and archives, files and
// archives fetched from URLs, an optional system service, and named
// pre- and post-install targets. [DeploymentUnit.Install] runs one
// attempt end to end:
//
//   - validate the declarations (nothing touches disk before this)
//   - run the pre-install target
//   - stage URL content through the [Downloader]
//   - [Assemble] everything into a [deploy.DeploymentData]
//   - hand it to a [deploy.Deployer] (or revert through one)
//   - install the system service and run the post-install target
//
// Every phase is reported to the run's [audit.Sink]. A failure in any
// phase removes the files staged for this attempt and surfaces as a
// single [*DeployError].
//
// All per-attempt state lives in a [Run], which is created fresh for
// each attempt and never shared between goroutines.
package bundle
