// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobreport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// ResultLog writes one JSON object per line for every job event. A
// SIGKILL mid-build leaves every completed line intact, and the agent
// can tail the file for progress.
//
// A nil *ResultLog is a valid no-op reporter, so callers can leave the
// log disabled without branching.
type ResultLog struct {
	logger *slog.Logger
	clock  clock.Clock

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewResultLog creates (truncating) the log at path.
func NewResultLog(path string, clk clock.Clock, logger *slog.Logger) (*ResultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ResultLog{
		logger:  logger,
		clock:   clk,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close closes the log file.
func (r *ResultLog) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// WriteStart records the start of a job.
func (r *ResultLog) WriteStart(sessionID, plan string) {
	if r == nil {
		return
	}
	r.write(startEntry{
		Type:      "start",
		Session:   sessionID,
		Plan:      plan,
		Timestamp: r.timestamp(),
	})
}

// ReportCurrentStatus implements buildsession.Reporter.
func (r *ResultLog) ReportCurrentStatus(state build.JobState) {
	if r == nil {
		return
	}
	r.write(statusEntry{Type: "status", State: state, Timestamp: r.timestamp()})
}

// ReportCompleting implements buildsession.Reporter.
func (r *ResultLog) ReportCompleting(result build.JobResult) {
	if r == nil {
		return
	}
	r.write(resultEntry{Type: "completing", Result: result, Timestamp: r.timestamp()})
}

// ReportResult implements buildsession.Reporter.
func (r *ResultLog) ReportResult(result build.JobResult) {
	if r == nil {
		return
	}
	r.write(resultEntry{Type: "result", Result: result, Timestamp: r.timestamp()})
}

func (r *ResultLog) timestamp() string {
	return r.clock.Now().UTC().Format(time.RFC3339Nano)
}

func (r *ResultLog) write(entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("failed to write result log entry", "error", err)
		return
	}
	// Sync every line so readers and crash recovery see it at once.
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}

// JSONL line types, one struct per line shape.

type startEntry struct {
	Type      string `json:"type"`
	Session   string `json:"session"`
	Plan      string `json:"plan"`
	Timestamp string `json:"timestamp"`
}

type statusEntry struct {
	Type      string         `json:"type"`
	State     build.JobState `json:"state"`
	Timestamp string         `json:"timestamp"`
}

// resultEntry is used for both "completing" and "result" lines.
type resultEntry struct {
	Type      string          `json:"type"`
	Result    build.JobResult `json:"result"`
	Timestamp string          `json:"timestamp"`
}
