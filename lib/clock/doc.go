// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock reads so that deployment metadata
// and audit events carry deterministic timestamps under test.
//
// Production code receives [Real]; tests construct [Fake] with a fixed
// starting instant and move it explicitly with [FakeClock.Advance].
// Nothing in the deployment path sleeps or schedules timers, so the
// interface is limited to reading the current time.
package clock
