// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package console carries build output as a stream of lines.
//
// Every producer of user-visible build output (echo commands, process
// stdout and stderr, executor status messages) writes to a [Consumer].
// The build session wraps its sink in a [Redactor] so that registered
// secrets are masked before any line leaves the agent. [LineWriter]
// adapts byte streams such as process pipes to the line interface, and
// [Memory] captures lines for tests and for commands whose output is
// compared rather than shown.
package console
