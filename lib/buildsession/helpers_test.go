// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

const testTimeout = 30 * time.Second

// recordingReporter keeps every report in call order.
type recordingReporter struct {
	mu       sync.Mutex
	events   []string
	statuses []build.JobState
	results  []build.JobResult
}

func (r *recordingReporter) ReportCurrentStatus(state build.JobState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, state)
	r.events = append(r.events, "status:"+state.String())
}

func (r *recordingReporter) ReportCompleting(result build.JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.events = append(r.events, "completing:"+string(result))
}

func (r *recordingReporter) ReportResult(result build.JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.events = append(r.events, "result:"+string(result))
}

func (r *recordingReporter) Statuses() []build.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]build.JobState(nil), r.statuses...)
}

func (r *recordingReporter) Results() []build.JobResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]build.JobResult(nil), r.results...)
}

func (r *recordingReporter) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingReporter) LastResult() build.JobResult {
	results := r.Results()
	if len(results) == 0 {
		return ""
	}
	return results[len(results)-1]
}

// recordingArtifacts keeps uploads (dest -> content) and properties.
type recordingArtifacts struct {
	mu         sync.Mutex
	uploads    map[string]string
	properties map[string]string
	fail       bool
}

func newRecordingArtifacts() *recordingArtifacts {
	return &recordingArtifacts{uploads: make(map[string]string), properties: make(map[string]string)}
}

func (a *recordingArtifacts) Upload(ctx context.Context, file, destPath string) error {
	if a.fail {
		return fmt.Errorf("repository unavailable")
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads[destPath] = string(content)
	return nil
}

func (a *recordingArtifacts) SetProperty(ctx context.Context, name, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.properties[name] = value
	return nil
}

func (a *recordingArtifacts) Uploads() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := make(map[string]string, len(a.uploads))
	for key, value := range a.uploads {
		copied[key] = value
	}
	return copied
}

// harness shares a sandbox, console and reporter across sessions, one
// session per build.
type harness struct {
	t              *testing.T
	sandbox        string
	console        *console.Memory
	reporter       *recordingReporter
	artifacts      *recordingArtifacts
	downloader     Downloader
	plugins        *PluginRegistry
	buildVariables map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:              t,
		sandbox:        t.TempDir(),
		console:        console.NewMemory(),
		reporter:       &recordingReporter{},
		artifacts:      newRecordingArtifacts(),
		plugins:        NewPluginRegistry(),
		buildVariables: make(map[string]string),
	}
}

func (h *harness) newSession() *Session {
	h.t.Helper()
	session, err := New(Config{
		Sandbox:        h.sandbox,
		Console:        h.console,
		Reporter:       h.reporter,
		Artifacts:      h.artifacts,
		Downloader:     h.downloader,
		Plugins:        h.plugins,
		BuildVariables: h.buildVariables,
	})
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}
	return session
}

// build runs command in a fresh session and checks the result.
func (h *harness) build(command build.Command, want build.JobResult) {
	h.t.Helper()
	h.buildWith(h.newSession(), command, want)
}

func (h *harness) buildWith(session *Session, command build.Command, want build.JobResult) {
	h.t.Helper()
	if got := session.Build(command); got != want {
		h.t.Fatalf("Build(%s) = %s, want %s; console:\n%s", command.Describe(), got, want, h.console.Output())
	}
}

// reset clears console and reporter between builds in one test.
func (h *harness) reset() {
	h.console = console.NewMemory()
	h.reporter = &recordingReporter{}
}

func (h *harness) waitForConsole(substring string) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if !h.console.WaitFor(ctx, substring) {
		h.t.Fatalf("console never showed %q; output:\n%s", substring, h.console.Output())
	}
}

func sleepScript(seconds int) build.Command {
	return build.Exec("/bin/sh", "-c", fmt.Sprintf("echo start sleeping;sleep %d;echo after sleep", seconds))
}

func echoEnv(name string) build.Command {
	return build.Exec("/bin/sh", "-c", fmt.Sprintf("echo ${%s}", name))
}

func lastLine(memory *console.Memory) string {
	lines := memory.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
