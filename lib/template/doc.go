// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package template performs token substitution on files marked for
// replacement in a bundle.
//
// An [Engine] holds a flat map from token name to replacement string.
// Token names are dotted identifiers ("rhq.deploy.dir",
// "rhq.tag.cluster", "db.port"). Two reference forms are recognized in
// file content:
//
//	@@rhq.deploy.dir@@
//	${rhq.deploy.dir}
//
// References to tokens the engine does not know are left in place
// verbatim. Bundles routinely ship files whose ${...} syntax belongs
// to some other tool (shell scripts, log4j configs), and rewriting
// those would corrupt them.
//
// [NewWithSystemInfo] seeds an engine with facts about the host
// (hostname, OS, architecture, CPU count, network interfaces) under
// the rhq.system.* namespace.
package template
