// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// buildagent-executor runs one build plan in a sandbox directory and
// exits with the outcome.
//
// The plan is a command tree in JSONC, YAML or CBOR (chosen by file
// extension). It is validated before anything runs; an invalid plan
// prints every issue and runs nothing. Build output goes to stdout
// with secrets masked. Agent diagnostics go to stderr through slog,
// formatted per the config file's log section.
//
// SIGINT and SIGTERM cancel the build: the running process tree is
// killed and the onCancel handlers of the active commands run before
// the executor exits. When the config names a control listen address,
// the same cancellation is available over HTTP (see lib/agentapi).
//
// Exit codes:
//
//	0  the build passed, or --check found no issues
//	1  the build failed, or the executor could not start it
//	2  the build was cancelled
package main
