// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"strings"
)

// ErrCancelled is returned by CreateProcess when the spawn was refused
// because the build has been cancelled.
var ErrCancelled = errors.New("process spawn refused: build cancelled")

// SpawnError reports a process that could not be started. The message
// carries the attempted command line and the agent's own environment,
// with every secret literal already masked. A SpawnError never has a
// Wrapper registered.
type SpawnError struct {
	CommandLine string
	WorkingDir  string
	// Environment is the masked agent environment, one NAME=value per
	// entry.
	Environment []string
	Err         error
}

func (e *SpawnError) Error() string {
	var builder strings.Builder
	builder.WriteString("couldn't start process: ")
	builder.WriteString(e.Err.Error())
	builder.WriteString("\n  command line: ")
	builder.WriteString(e.CommandLine)
	builder.WriteString("\n  working directory: ")
	builder.WriteString(e.WorkingDir)
	builder.WriteString("\n  environment:")
	for _, entry := range e.Environment {
		builder.WriteString("\n    ")
		builder.WriteString(entry)
	}
	return builder.String()
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
