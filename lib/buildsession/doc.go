// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildsession interprets a build plan on the agent.
//
// A [Session] walks a [build.Command] tree, dispatching each node to
// the executor registered for its kind. The session owns the aggregate
// [build.JobResult], the build's context environment, the set of
// registered secrets, and the console, which redacts every secret
// before a line reaches the configured consumer.
//
// Cancellation is cooperative at command boundaries and forcible for
// processes: [Session.Cancel] may be called from any goroutine. The
// first call kills the running process tree; the build goroutine then
// unwinds its stack of active commands, running each command's
// onCancel handler innermost first, and finalizes the job as
// Cancelled. Concurrent and repeated calls share the outcome of the
// first.
//
// Whatever happens, Build reports the final result and then the
// Completed state exactly once, in that order.
package buildsession
