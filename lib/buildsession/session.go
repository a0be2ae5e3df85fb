// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// ErrSessionUsed is logged when Build is called on a session that has
// already run.
var ErrSessionUsed = errors.New("build session already used")

// defaultUploadParallelism bounds concurrent artifact uploads.
const defaultUploadParallelism = 4

// Config configures a Session.
type Config struct {
	// Sandbox is the job's working directory. Relative paths in the
	// plan resolve against it. Required.
	Sandbox string

	// Console receives the redacted build output. Nil discards it.
	Console console.Consumer

	// Reporter receives status and result reports. Nil drops them.
	Reporter Reporter

	// Artifacts backs uploadArtifact, generateTestReport and
	// generateProperty. Nil fails those commands.
	Artifacts ArtifactRepository

	// Downloader backs downloadFile and downloadDir. Nil fails those
	// commands.
	Downloader Downloader

	// Processes spawns exec commands. Nil creates a private Manager.
	Processes *process.Manager

	// Plugins resolves plugin commands. Nil has no plugins.
	Plugins *PluginRegistry

	// BuildVariables are substituted into echo and exec arguments when
	// no environment variable has the name.
	BuildVariables map[string]string

	// Environ returns the agent's own environment. Nil uses
	// os.Environ.
	Environ func() []string

	// Encoding names the charset of process output. Empty is UTF-8.
	Encoding string

	// UploadParallelism bounds concurrent uploads. Zero uses four.
	UploadParallelism int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session runs one build plan. Build may be called once; Cancel,
// State, and Result may be called from any goroutine.
type Session struct {
	id                string
	sandbox           string
	reporter          Reporter
	artifacts         ArtifactRepository
	downloader        Downloader
	processes         *process.Manager
	plugins           *PluginRegistry
	buildVariables    map[string]string
	environ           func() []string
	encoding          string
	uploadParallelism int
	clock             clock.Clock
	logger            *slog.Logger

	redactor *console.Redactor
	// out is where executors write. It is the redactor except while a
	// test command captures the output of its sub-command.
	out console.Consumer

	envMu sync.Mutex
	env   map[string]string

	mu       sync.Mutex
	result   build.JobResult
	reported build.JobState

	used  atomic.Bool
	token *token

	// Build goroutine only.
	frames    []*build.Command
	unwinding bool
	unwound   bool
}

// New returns a session ready to Build.
func New(config Config) (*Session, error) {
	if config.Sandbox == "" {
		return nil, fmt.Errorf("sandbox directory is required")
	}
	sandbox, err := filepath.Abs(config.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox %s: %w", config.Sandbox, err)
	}

	session := &Session{
		id:                uuid.NewString(),
		sandbox:           sandbox,
		reporter:          config.Reporter,
		artifacts:         config.Artifacts,
		downloader:        config.Downloader,
		processes:         config.Processes,
		plugins:           config.Plugins,
		buildVariables:    config.BuildVariables,
		environ:           config.Environ,
		encoding:          config.Encoding,
		uploadParallelism: config.UploadParallelism,
		clock:             config.Clock,
		logger:            config.Logger,
		env:               make(map[string]string),
		result:            build.Passed,
		token:             newToken(),
	}
	if session.reporter == nil {
		session.reporter = noopReporter{}
	}
	if session.environ == nil {
		session.environ = os.Environ
	}
	if session.uploadParallelism <= 0 {
		session.uploadParallelism = defaultUploadParallelism
	}
	if session.clock == nil {
		session.clock = clock.Real()
	}
	if session.logger == nil {
		session.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	session.logger = session.logger.With("session", session.id)
	if session.processes == nil {
		session.processes = process.NewManager(process.Config{
			Clock:   session.clock,
			Logger:  session.logger,
			Environ: session.environ,
		})
	}
	if session.plugins == nil {
		session.plugins = NewPluginRegistry()
	}

	sink := config.Console
	if sink == nil {
		sink = console.Discard
	}
	session.redactor = console.NewRedactor(sink)
	session.out = session.redactor
	return session, nil
}

// ID returns the session's unique id, also used as the tag of the
// processes it starts.
func (s *Session) ID() string { return s.id }

// Sandbox returns the absolute sandbox directory.
func (s *Session) Sandbox() string { return s.sandbox }

// SetEnv presets a context environment variable for the build.
func (s *Session) SetEnv(name, value string) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	s.env[name] = value
}

// Result returns the aggregate result so far.
func (s *Session) Result() build.JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// State returns the last reported job state, or Preparing before any
// report.
func (s *Session) State() build.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reported == 0 {
		return build.Preparing
	}
	return s.reported
}

// Build runs root to completion and returns the final result. It
// reports the result and then the Completed state exactly once. A
// second call on the same session logs ErrSessionUsed and returns
// Failed without reporting.
func (s *Session) Build(root build.Command) build.JobResult {
	if !s.used.CompareAndSwap(false, true) {
		s.logger.Error("cannot build", "error", ErrSessionUsed)
		return build.Failed
	}

	started := s.clock.Now()
	s.logger.Info("build started", "sandbox", s.sandbox, "root", root.Describe())

	s.run(&root)
	final := s.finish()

	s.logger.Info("build finished",
		"result", final,
		"duration", clock.Since(s.clock, started).Round(time.Millisecond),
	)
	return final
}

// finish reports the final result and Completed, then releases any
// Cancel callers. A cancellation that arrives after the last command
// but before this point still turns the result into Cancelled.
func (s *Session) finish() build.JobResult {
	s.token.mu.Lock()
	s.token.finished = true
	requested := s.token.requested
	s.token.mu.Unlock()

	if requested {
		s.unwind()
		s.mergeResult(build.Cancelled)
	}
	final := s.Result()

	s.reporter.ReportResult(final)
	s.mu.Lock()
	s.reported = build.Completed
	s.mu.Unlock()
	s.reporter.ReportCurrentStatus(build.Completed)

	close(s.token.done)
	return final
}

// Cancel stops the build. The first call signals the running process
// tree and starts the unwinding; every call then waits for the session
// to finalize, blocking at most timeout. Returns whether the session
// finalized in time. After the session has finished Cancel returns
// true immediately.
func (s *Session) Cancel(timeout time.Duration) bool {
	deadline := s.clock.After(timeout)

	active, first, finished := s.token.request()
	if finished {
		return true
	}
	if first {
		s.logger.Info("cancel requested", "timeout", timeout)
		if active != nil {
			active.Kill()
		}
	}

	select {
	case <-s.token.done:
		return true
	case <-deadline:
	}
	// A session that finalized as the deadline fired still counts.
	select {
	case <-s.token.done:
		return true
	default:
		s.logger.Warn("cancel did not complete in time", "timeout", timeout)
		return false
	}
}

func (s *Session) mergeResult(next build.JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = s.result.Merge(next)
}

// setResult replaces the aggregate unless it is already Cancelled.
func (s *Session) setResult(result build.JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != build.Cancelled {
		s.result = result
	}
}

// reportStatus forwards a state transition from the plan. Completed is
// reserved for the session, and transitions never go backwards.
func (s *Session) reportStatus(state build.JobState) {
	if state == build.Completed {
		s.logger.Debug("ignoring Completed reported by the plan")
		return
	}
	s.mu.Lock()
	if state <= s.reported {
		current := s.reported
		s.mu.Unlock()
		s.logger.Debug("ignoring backward status report", "state", state, "current", current)
		return
	}
	s.reported = state
	s.mu.Unlock()
	s.reporter.ReportCurrentStatus(state)
}

// contextEnv returns a copy of the build's context variables.
func (s *Session) contextEnv() map[string]string {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	copied := make(map[string]string, len(s.env))
	for name, value := range s.env {
		copied[name] = value
	}
	return copied
}

// lookupEnv finds name among the context variables, then the agent's
// environment.
func (s *Session) lookupEnv(name string) (string, bool) {
	s.envMu.Lock()
	value, ok := s.env[name]
	s.envMu.Unlock()
	if ok {
		return value, true
	}
	prefix := name + "="
	for _, entry := range s.environ() {
		if strings.HasPrefix(entry, prefix) {
			return entry[len(prefix):], true
		}
	}
	return "", false
}

// resolvePath resolves path against dir unless it is absolute.
func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}

// workingDir returns the absolute working directory of command.
func (s *Session) workingDir(command *build.Command) string {
	return resolvePath(s.sandbox, command.WorkingDirectory)
}
