// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobreport

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/buildagent/lib/buildsession"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// Multi forwards every report to each non-nil reporter in order.
func Multi(reporters ...buildsession.Reporter) buildsession.Reporter {
	var kept multi
	for _, reporter := range reporters {
		if reporter != nil {
			kept = append(kept, reporter)
		}
	}
	return kept
}

type multi []buildsession.Reporter

func (m multi) ReportCurrentStatus(state build.JobState) {
	for _, reporter := range m {
		reporter.ReportCurrentStatus(state)
	}
}

func (m multi) ReportCompleting(result build.JobResult) {
	for _, reporter := range m {
		reporter.ReportCompleting(result)
	}
}

func (m multi) ReportResult(result build.JobResult) {
	for _, reporter := range m {
		reporter.ReportResult(result)
	}
}

// LogReporter records job progress in the agent log.
type LogReporter struct {
	Logger *slog.Logger
}

func (l LogReporter) ReportCurrentStatus(state build.JobState) {
	l.Logger.Info("job state changed", "state", state)
}

func (l LogReporter) ReportCompleting(result build.JobResult) {
	l.Logger.Info("job completing", "result", result)
}

func (l LogReporter) ReportResult(result build.JobResult) {
	level := slog.LevelInfo
	if result != build.Passed {
		level = slog.LevelWarn
	}
	l.Logger.Log(context.Background(), level, "job finished", "result", result)
}
