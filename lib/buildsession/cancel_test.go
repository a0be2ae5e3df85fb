// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
	"github.com/bureau-foundation/buildagent/lib/testutil"
)

// startBuild runs command on session in the background.
func startBuild(session *Session, command build.Command) <-chan build.JobResult {
	results := make(chan build.JobResult, 1)
	go func() { results <- session.Build(command) }()
	return results
}

func TestCancelLongRunningBuild(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	results := startBuild(session, sleepScript(100))
	h.waitForConsole("start sleeping")

	if !session.Cancel(testTimeout) {
		t.Fatal("Cancel timed out")
	}
	if got := testutil.RequireReceive(t, results, testTimeout); got != build.Cancelled {
		t.Errorf("result = %s, want Cancelled", got)
	}
	if h.console.Contains("after sleep") {
		t.Error("process kept running after cancel")
	}
	events := h.reporter.Events()
	if len(events) < 2 || !reflect.DeepEqual(events[len(events)-2:], []string{"result:Cancelled", "status:Completed"}) {
		t.Errorf("events = %v", events)
	}
}

func TestCancelDuringTestGuard(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	results := startBuild(session, build.Echo("guarded").WithTest(sleepScript(100)))
	h.waitForConsole("start sleeping")

	if !session.Cancel(testTimeout) {
		t.Fatal("Cancel timed out")
	}
	if got := testutil.RequireReceive(t, results, testTimeout); got != build.Cancelled {
		t.Errorf("result = %s, want Cancelled", got)
	}
	if h.console.Contains("guarded") {
		t.Error("guarded command ran after cancel")
	}
}

func TestConcurrentCancelsReportOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	results := startBuild(session, sleepScript(100))
	h.waitForConsole("start sleeping")

	var group sync.WaitGroup
	outcomes := make([]bool, 2)
	for index := range outcomes {
		group.Add(1)
		go func() {
			defer group.Done()
			outcomes[index] = session.Cancel(testTimeout)
		}()
	}
	group.Wait()

	if !outcomes[0] || !outcomes[1] {
		t.Errorf("Cancel outcomes = %v, want both true", outcomes)
	}
	testutil.RequireReceive(t, results, testTimeout)
	if got := h.reporter.Results(); !reflect.DeepEqual(got, []build.JobResult{build.Cancelled}) {
		t.Errorf("results = %v, want a single Cancelled", got)
	}
}

func TestOnCancelHandlersRunInnermostFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	plan := build.Compose(
		build.Compose(
			sleepScript(100).WithOnCancel(build.Echo("exec canceled")),
		).WithOnCancel(build.Echo("inner oncancel")),
		build.Echo("never reached"),
	).WithOnCancel(build.Echo("outer oncancel"))

	results := startBuild(session, plan)
	h.waitForConsole("start sleeping")
	if !session.Cancel(testTimeout) {
		t.Fatal("Cancel timed out")
	}
	testutil.RequireReceive(t, results, testTimeout)

	want := []string{"start sleeping", "exec canceled", "inner oncancel", "outer oncancel"}
	if got := h.console.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestOnCancelHandlerCanSpawnProcesses(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	plan := sleepScript(100).WithOnCancel(build.Exec("/bin/sh", "-c", "echo cleanup ran"))

	results := startBuild(session, plan)
	h.waitForConsole("start sleeping")
	if !session.Cancel(testTimeout) {
		t.Fatal("Cancel timed out")
	}
	if got := testutil.RequireReceive(t, results, testTimeout); got != build.Cancelled {
		t.Errorf("result = %s", got)
	}
	if !h.console.Contains("cleanup ran") {
		t.Errorf("console = %q", h.console.Output())
	}
}

func TestOnCancelHandlerIgnoresRunIf(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	plan := sleepScript(100).WithOnCancel(build.Echo("handled").WithRunIf(build.RunIfFailed))

	results := startBuild(session, plan)
	h.waitForConsole("start sleeping")
	session.Cancel(testTimeout)
	testutil.RequireReceive(t, results, testTimeout)
	if !h.console.Contains("handled") {
		t.Errorf("console = %q", h.console.Output())
	}
}

func TestCancelAfterFinishReturnsTrue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	h.buildWith(session, build.Echo("done"), build.Passed)
	if !session.Cancel(time.Nanosecond) {
		t.Error("Cancel after finish returned false")
	}
	if session.Result() != build.Passed {
		t.Errorf("result changed to %s", session.Result())
	}
}

func TestCancelBeforeBuild(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	cancelled := make(chan bool, 1)
	go func() { cancelled <- session.Cancel(testTimeout) }()
	testutil.Eventually(t, testTimeout, session.token.isRequested, "cancel never registered")

	h.buildWith(session, build.Compose(build.Echo("never")).WithOnCancel(build.Echo("not started")), build.Cancelled)
	if got := testutil.RequireReceive(t, cancelled, testTimeout); !got {
		t.Error("Cancel returned false")
	}
	if len(h.console.Lines()) != 0 {
		t.Errorf("console = %q, want nothing", h.console.Lines())
	}
}

func TestCancelTimesOutWhileHandlerRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	session, err := New(Config{
		Sandbox:  h.sandbox,
		Console:  h.console,
		Reporter: h.reporter,
		Clock:    fake,
	})
	if err != nil {
		t.Fatal(err)
	}
	plan := sleepScript(100).WithOnCancel(build.Exec("/bin/sh", "-c", "echo handler started; sleep 2"))
	results := startBuild(session, plan)
	h.waitForConsole("start sleeping")

	cancelled := make(chan bool, 1)
	go func() { cancelled <- session.Cancel(time.Second) }()
	h.waitForConsole("handler started")
	testutil.Eventually(t, testTimeout, func() bool { return fake.Pending() > 0 }, "Cancel never waited")
	fake.Advance(time.Second)

	if got := testutil.RequireReceive(t, cancelled, testTimeout); got {
		t.Error("Cancel reported completion while the handler was running")
	}
	if got := testutil.RequireReceive(t, results, testTimeout); got != build.Cancelled {
		t.Errorf("result = %s", got)
	}
}

// processGone reports whether pid has exited. A zombie awaiting its
// reaper counts as gone.
func processGone(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
	return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
}

func TestCancelKillsWholeProcessTree(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	script := "sleep 100 & echo child $!; (sleep 100; echo grandchild done) & echo child $!; echo start sleeping; wait"
	results := startBuild(session, build.Exec("/bin/sh", "-c", script))
	h.waitForConsole("start sleeping")

	var children []int
	for _, line := range h.console.Lines() {
		if pid, found := strings.CutPrefix(line, "child "); found {
			value, err := strconv.Atoi(pid)
			if err != nil {
				t.Fatalf("parsing %q: %v", line, err)
			}
			children = append(children, value)
		}
	}
	if len(children) != 2 {
		t.Fatalf("children = %v; console = %q", children, h.console.Lines())
	}

	if !session.Cancel(testTimeout) {
		t.Fatal("Cancel timed out")
	}
	testutil.RequireReceive(t, results, testTimeout)
	for _, pid := range children {
		testutil.Eventually(t, testTimeout, func() bool { return processGone(pid) }, "pid %d survived the cancel", pid)
	}
	if h.console.Contains("grandchild done") {
		t.Error("grandchild finished instead of being killed")
	}
}

// consolePid returns the pid printed on the console line starting with
// prefix.
func consolePid(t *testing.T, h *harness, prefix string) int {
	t.Helper()
	for _, line := range h.console.Lines() {
		if value, found := strings.CutPrefix(line, prefix); found {
			pid, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				t.Fatalf("parsing %q: %v", line, err)
			}
			return pid
		}
	}
	t.Fatalf("no %q line; console = %q", prefix, h.console.Lines())
	return 0
}

func TestCancelKillsGroupMembersAfterLeaderExits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session, err := New(Config{
		Sandbox:   h.sandbox,
		Console:   h.console,
		Reporter:  h.reporter,
		Processes: process.NewManager(process.Config{WaitDelay: time.Minute}),
	})
	if err != nil {
		t.Fatal(err)
	}
	// The background sleep keeps the output pipe open after the shell
	// exits, so the exec is still running when Cancel arrives.
	script := "sleep 100 & echo child $!; echo leader $$; exit 0"
	results := startBuild(session, build.Exec("/bin/sh", "-c", script))
	h.waitForConsole("leader ")

	child := consolePid(t, h, "child ")
	leader := consolePid(t, h, "leader ")
	t.Cleanup(func() { _ = unix.Kill(child, unix.SIGKILL) })
	testutil.Eventually(t, testTimeout, func() bool { return processGone(leader) }, "leader %d never exited", leader)

	if !session.Cancel(testTimeout) {
		t.Fatal("Cancel timed out")
	}
	if got := testutil.RequireReceive(t, results, testTimeout); got != build.Cancelled {
		t.Errorf("result = %s, want Cancelled", got)
	}
	testutil.Eventually(t, testTimeout, func() bool { return processGone(child) }, "group member %d survived the cancel", child)
}

func TestCancelReturnsWithinTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	session := h.newSession()
	// The escaped sleep leaves the process group and is reparented away
	// from the shell, so only the output drain limit ends the exec.
	script := "(setsid sleep 30 & echo escaped $!); echo start sleeping; sleep 100"
	results := startBuild(session, build.Exec("/bin/sh", "-c", script))
	h.waitForConsole("start sleeping")

	escaped := consolePid(t, h, "escaped ")
	t.Cleanup(func() { _ = unix.Kill(escaped, unix.SIGKILL) })

	started := time.Now()
	if session.Cancel(500 * time.Millisecond) {
		t.Error("Cancel reported completion while output was still held open")
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Errorf("Cancel took %s with a 500ms timeout", elapsed)
	}

	_ = unix.Kill(escaped, unix.SIGKILL)
	if got := testutil.RequireReceive(t, results, testTimeout); got != build.Cancelled {
		t.Errorf("result = %s, want Cancelled", got)
	}
}
