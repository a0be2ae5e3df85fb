// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bureau-foundation/buildagent/lib/agentapi"
	"github.com/bureau-foundation/buildagent/lib/artifactrepo"
	"github.com/bureau-foundation/buildagent/lib/buildsession"
	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/config"
	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/download"
	"github.com/bureau-foundation/buildagent/lib/jobreport"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
	"github.com/bureau-foundation/buildagent/lib/version"
)

// controlShutdownTimeout bounds how long the control endpoint drains
// in-flight requests after the build.
const controlShutdownTimeout = 5 * time.Second

// job is one run of a plan with everything it is wired to.
type job struct {
	config    *config.Config
	plan      *build.Command
	planPath  string
	variables map[string]string
	presets   map[string]string
	console   io.Writer
	logger    *slog.Logger
}

// outcome is what the summary reports.
type outcome struct {
	result    build.JobResult
	elapsed   time.Duration
	artifacts int
}

// execute runs the plan. A done ctx cancels the build and waits up to
// the configured cancel timeout for it to unwind. The returned error
// is set only when the build could not be started.
func (j *job) execute(ctx context.Context) (outcome, error) {
	if err := j.config.EnsurePaths(); err != nil {
		return outcome{}, err
	}

	realClock := clock.Real()
	repository, err := artifactrepo.New(artifactrepo.Config{
		Root:   j.config.Paths.Artifacts,
		Clock:  realClock,
		Logger: j.logger,
	})
	if err != nil {
		return outcome{}, err
	}

	var results *jobreport.ResultLog
	if j.config.Paths.ResultLog != "" {
		results, err = jobreport.NewResultLog(j.config.Paths.ResultLog, realClock, j.logger)
		if err != nil {
			return outcome{}, err
		}
		defer func() {
			if err := results.Close(); err != nil {
				j.logger.Error("closing result log", "error", err)
			}
		}()
	}

	processes := process.NewManager(process.Config{
		Clock:     realClock,
		Logger:    j.logger,
		WaitDelay: j.config.WaitDelay(),
	})

	session, err := buildsession.New(buildsession.Config{
		Sandbox:           j.config.Paths.Sandbox,
		Console:           console.NewWriter(j.console, ""),
		Reporter:          jobreport.Multi(results, jobreport.LogReporter{Logger: j.logger}),
		Artifacts:         repository,
		Downloader:        download.New(j.logger, download.WithHeader("User-Agent", version.UserAgent())),
		Processes:         processes,
		BuildVariables:    j.variables,
		Encoding:          j.config.Executor.OutputEncoding,
		UploadParallelism: j.config.Executor.UploadParallelism,
		Clock:             realClock,
		Logger:            j.logger,
	})
	if err != nil {
		return outcome{}, err
	}
	for name, value := range j.presets {
		session.SetEnv(name, value)
	}
	results.WriteStart(session.ID(), j.planPath)

	cancelTimeout := j.config.CancelTimeout()
	if address := j.config.Control.ListenAddress; address != "" {
		server, err := agentapi.NewServer(agentapi.ServerConfig{
			ListenAddress: address,
			Job:           session,
			CancelTimeout: cancelTimeout,
			Logger:        j.logger,
		})
		if err != nil {
			return outcome{}, err
		}
		if err := server.Start(); err != nil {
			return outcome{}, fmt.Errorf("starting control endpoint: %w", err)
		}
		defer func() {
			shutdownContext, cancel := context.WithTimeout(context.Background(), controlShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownContext); err != nil {
				j.logger.Warn("control endpoint shutdown", "error", err)
			}
		}()
	}

	started := realClock.Now()
	finished := make(chan build.JobResult, 1)
	go func() {
		finished <- session.Build(*j.plan)
	}()

	var result build.JobResult
	select {
	case result = <-finished:
	case <-ctx.Done():
		j.logger.Info("stopping build", "reason", context.Cause(ctx))
		if session.Cancel(cancelTimeout) {
			result = <-finished
		} else {
			j.logger.Error("build did not stop after cancellation; abandoning it", "timeout", cancelTimeout)
			result = build.Cancelled
		}
	}

	return outcome{
		result:    result,
		elapsed:   clock.Since(realClock, started),
		artifacts: len(repository.Entries()),
	}, nil
}

func exitCode(result build.JobResult) int {
	switch result {
	case build.Passed:
		return 0
	case build.Cancelled:
		return 2
	default:
		return 1
	}
}
