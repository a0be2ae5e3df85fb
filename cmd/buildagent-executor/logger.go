// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"

	"github.com/bureau-foundation/buildagent/lib/config"
)

// newLogger builds the agent's diagnostics logger from the log section
// of the config. Validate has already rejected unknown values.
func newLogger(settings config.LogConfig, output io.Writer) *slog.Logger {
	var level slog.Level
	switch settings.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if settings.Format == "json" {
		handler = slog.NewJSONHandler(output, options)
	} else {
		handler = slog.NewTextHandler(output, options)
	}
	return slog.New(handler).With("component", "executor")
}
