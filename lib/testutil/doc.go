// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the timeout safety valves shared by the engine's
// tests. Build and cancellation tests drive real processes from separate
// goroutines; every wait on another goroutine goes through one of these
// helpers so that a regression fails the test instead of hanging it.
//
// All helpers call t.Fatalf on failure.
package testutil
