// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobreport provides buildsession.Reporter implementations
// used by the executor: a crash-safe JSONL result log, a reporter that
// turns job progress into structured log records, and a fan-out that
// combines them.
package jobreport
