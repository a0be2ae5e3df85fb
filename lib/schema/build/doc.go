// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package build defines the build plan: the tree of [Command] values the
// server sends to an agent for one job, together with the job-level
// enumerations ([JobResult], [JobState], [RunIf]) that the interpreter
// in lib/buildsession reports against.
//
// A Command is a tagged variant. [Kind] selects the behavior; [Args]
// carries kind-specific string arguments in declaration order. Only
// compose commands have SubCommands. Any command may carry a Test
// guard, an OnCancel handler, a RunIf gate and a working directory
// override.
//
// Commands are immutable once built. The With* methods return modified
// copies, so the constructors compose freely:
//
//	plan := build.Compose(
//		build.Secret("hunter2"),
//		build.Exec("make", "test").WithOnCancel(build.Echo("tests cancelled")),
//		build.Echo("tests failed").WithRunIf(build.RunIfFailed),
//	)
//
// JSON, YAML and CBOR field names follow the plan encoding produced
// upstream: kind, args, subCommands, test, onCancel, runIf,
// workingDirectory, secret. Args encode as an object (JSON, YAML) or an
// array of name/value pairs (CBOR) so declaration order survives every
// format.
package build
