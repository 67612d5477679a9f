// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deploy reconciles a destination directory with the content
// of a bundle deployment.
//
// A [Deployer] is built from a [DeploymentData] request: the files and
// archives to lay down, which of them are templates, which archives
// are exploded, an ignore pattern, and the destination directory. It
// computes three digest maps and compares them path by path:
//
//   - original: what the current deployment laid down (from metadata)
//   - current: what is on disk now (from a scan of the destination)
//   - new: what this deployment will lay down
//
// Files the user modified, and foreign files the deployment is about to
// overwrite or delete, are copied into the deployment's backup store
// before anything is touched. Every decision is recorded in a
// [Differences] accumulator owned by the caller.
//
// The [ComplianceMode] decides how much of the destination is managed.
// In full mode the whole directory tree mirrors the deployment. In
// filesAndDirectories mode only top-level directories and files that
// belong to the deployment are managed; other top-level content is
// left alone.
//
// Deployment metadata lives in a .bundle-deployments directory inside
// the destination. [Metadata] reads and writes it; the CLI uses it for
// status and history.
package deploy
