// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"context"
	"io"

	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// Reporter receives job progress. Calls come from the build goroutine
// only.
type Reporter interface {
	ReportCurrentStatus(state build.JobState)
	ReportCompleting(result build.JobResult)
	ReportResult(result build.JobResult)
}

// ArtifactRepository stores build outputs.
type ArtifactRepository interface {
	// Upload stores the local file at destPath in the repository.
	Upload(ctx context.Context, file, destPath string) error
	// SetProperty records a named job property.
	SetProperty(ctx context.Context, name, value string) error
}

// Downloader fetches a URL. It returns the response status code and
// calls handler with the body only for a 200 response.
type Downloader interface {
	Download(ctx context.Context, url string, handler func(io.Reader) error) (int, error)
}

type noopReporter struct{}

func (noopReporter) ReportCurrentStatus(build.JobState) {}
func (noopReporter) ReportCompleting(build.JobResult) {}
func (noopReporter) ReportResult(build.JobResult) {}
