// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/testutil"
)

const testTimeout = 10 * time.Second

func newTestManager(t *testing.T, environ ...string) *Manager {
	t.Helper()
	environ = append(environ, "PATH="+os.Getenv("PATH"))
	return NewManager(Config{
		Environ:   func() []string { return environ },
		WaitDelay: time.Second,
	})
}

func shell(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func waitForLine(t *testing.T, memory *console.Memory, substring string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if !memory.WaitFor(ctx, substring) {
		t.Fatalf("no line containing %q; output:\n%s", substring, memory.Output())
	}
}

func waitForExit(t *testing.T, wrapper *Wrapper) int {
	t.Helper()
	testutil.RequireClosed(t, wrapper.Done(), testTimeout, "process %d did not exit", wrapper.Pid())
	code, err := wrapper.WaitForExit()
	if err != nil {
		t.Fatalf("WaitForExit: %v", err)
	}
	return code
}

// processGone reports whether pid no longer runs. Zombies count as
// gone: they hold no resources beyond the table entry.
func processGone(pid int) bool {
	if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
		return true
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	text := string(data)
	fields := strings.Fields(text[strings.LastIndexByte(text, ')')+1:])
	return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
}

func TestCreateProcessStreamsOutput(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	memory := console.NewMemory()
	wrapper, err := manager.CreateProcess(context.Background(), Spec{
		Argv:     shell("echo one; echo two >&2; printf three"),
		Consumer: memory,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}

	if code := waitForExit(t, wrapper); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	for _, want := range []string{"one", "two", "three"} {
		if !memory.Contains(want) {
			t.Errorf("output missing %q: %q", want, memory.Lines())
		}
	}
	if active := manager.Active(); len(active) != 0 {
		t.Errorf("Active after exit = %d wrappers, want 0", len(active))
	}
}

func TestCreateProcessExitCode(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	wrapper, err := manager.CreateProcess(context.Background(), Spec{Argv: shell("exit 3")})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if code := waitForExit(t, wrapper); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestCreateProcessEnvironmentLayers(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, "A=system", "B=system", "C=system")
	memory := console.NewMemory()
	wrapper, err := manager.CreateProcess(context.Background(), Spec{
		Argv:        []string{"/bin/sh", "-c", `echo "env=$A,$B,$C args=$1,$2"`, "sh", "${system:B}", "${C}"},
		Environment: map[string]string{"B": "context", "C": "context"},
		Overrides:   map[string]string{"C": "override"},
		Consumer:    memory,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	waitForExit(t, wrapper)

	if want := "env=system,context,override args=system,override"; memory.Output() != want {
		t.Errorf("output = %q, want %q", memory.Output(), want)
	}
}

func TestCreateProcessDecodesCharset(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	memory := console.NewMemory()
	wrapper, err := manager.CreateProcess(context.Background(), Spec{
		Argv:     shell(`printf 'caf\351\n'`),
		Encoding: "ISO-8859-1",
		Consumer: memory,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	waitForExit(t, wrapper)
	if memory.Output() != "café" {
		t.Errorf("output = %q, want café", memory.Output())
	}
}

func TestSpawnFailureMasksSecrets(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, "API_TOKEN=hunter2")
	redactor := console.NewRedactor(console.Discard)
	redactor.AddSecret("hunter2", "")

	_, err := manager.CreateProcess(context.Background(), Spec{
		Argv:       []string{"/nonexistent/tool", "--token", "hunter2"},
		WorkingDir: t.TempDir(),
		Mask:       redactor.Redact,
	})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
	message := err.Error()
	if strings.Contains(message, "hunter2") {
		t.Errorf("secret leaked into spawn error:\n%s", message)
	}
	for _, want := range []string{"/nonexistent/tool --token ******", "API_TOKEN=******"} {
		if !strings.Contains(message, want) {
			t.Errorf("spawn error missing %q:\n%s", want, message)
		}
	}
	if len(manager.Active()) != 0 {
		t.Error("failed spawn was registered")
	}
}

func TestSpawnFailureSensitiveCommand(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	_, err := manager.CreateProcess(context.Background(), Spec{
		Argv:      []string{"/nonexistent/tool", "plain-secret"},
		Sensitive: true,
	})
	if err == nil || strings.Contains(err.Error(), "plain-secret") {
		t.Errorf("err = %v, want spawn error without arguments", err)
	}
}

func TestSpawnFailureUnknownEncoding(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	_, err := manager.CreateProcess(context.Background(), Spec{Argv: shell("true"), Encoding: "no-such-charset"})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
}

func TestCreateProcessRefusedAfterCancel(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := manager.CreateProcess(ctx, Spec{Argv: shell("true")})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
	if len(manager.Active()) != 0 {
		t.Error("refused spawn was registered")
	}
}

func TestContextCancelKillsProcess(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	memory := console.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wrapper, err := manager.CreateProcess(ctx, Spec{
		Argv:     shell("echo ready; sleep 300"),
		Consumer: memory,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	waitForLine(t, memory, "ready")
	cancel()

	if code := waitForExit(t, wrapper); code != 128+int(unix.SIGKILL) {
		t.Errorf("exit code = %d, want %d", code, 128+int(unix.SIGKILL))
	}
}

func TestKillTreeLeavesNoDescendants(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	memory := console.NewMemory()
	// The subshell backgrounds a grandchild; the outer shell backgrounds
	// a child. Both print their pids.
	wrapper, err := manager.CreateProcess(context.Background(), Spec{
		Argv:     shell(`(sleep 300 & echo "pid $!"; wait) & sleep 300 & echo "pid $!"; echo ready; wait`),
		Consumer: memory,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	waitForLine(t, memory, "ready")
	testutil.Eventually(t, testTimeout, func() bool {
		return strings.Count(memory.Output(), "pid ") >= 2
	}, "both sleepers reported pids")

	var pids []int
	for _, line := range memory.Lines() {
		if rest, ok := strings.CutPrefix(line, "pid "); ok {
			pid, err := strconv.Atoi(rest)
			if err != nil {
				t.Fatalf("bad pid line %q", line)
			}
			pids = append(pids, pid)
		}
	}

	wrapper.KillTree()

	select {
	case <-wrapper.Done():
	default:
		t.Fatal("KillTree returned before the process was reaped")
	}
	if !wrapper.Killed() {
		t.Error("Killed() = false after KillTree")
	}
	for _, pid := range append(pids, wrapper.Pid()) {
		testutil.Eventually(t, testTimeout, func() bool { return processGone(pid) }, "pid %d still running", pid)
	}
	if len(manager.Active()) != 0 {
		t.Error("killed process still registered")
	}
}

func TestKillTreeConcurrentCallers(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	wrapper, err := manager.CreateProcess(context.Background(), Spec{Argv: shell("sleep 300")})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}

	var group sync.WaitGroup
	for range 4 {
		group.Add(1)
		go func() {
			defer group.Done()
			wrapper.KillTree()
		}()
	}
	finished := make(chan struct{})
	go func() {
		group.Wait()
		close(finished)
	}()
	testutil.RequireClosed(t, finished, testTimeout, "concurrent KillTree calls did not return")

	if code := waitForExit(t, wrapper); code != 128+int(unix.SIGKILL) {
		t.Errorf("exit code = %d, want SIGKILL", code)
	}
	// After exit KillTree is a no-op.
	wrapper.KillTree()
}

func TestKillReachesGroupAfterLeaderExits(t *testing.T) {
	t.Parallel()

	// The member holds the output pipe, so the wrapper stays live until
	// it dies.
	manager := NewManager(Config{WaitDelay: time.Minute})
	memory := console.NewMemory()
	wrapper, err := manager.CreateProcess(context.Background(), Spec{
		Argv:     shell(`sleep 300 & echo "member $!"; exit 0`),
		Consumer: memory,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	waitForLine(t, memory, "member ")
	member, err := strconv.Atoi(strings.TrimPrefix(memory.Lines()[0], "member "))
	if err != nil {
		t.Fatalf("bad member line %q", memory.Lines()[0])
	}
	t.Cleanup(func() { _ = unix.Kill(member, unix.SIGKILL) })
	testutil.Eventually(t, testTimeout, func() bool { return processGone(wrapper.Pid()) }, "leader never exited")

	wrapper.Kill()

	if !wrapper.Killed() {
		t.Error("Killed() = false after Kill")
	}
	testutil.Eventually(t, testTimeout, func() bool { return processGone(member) }, "group member %d survived", member)
	testutil.RequireClosed(t, wrapper.Done(), testTimeout, "process was never reaped")
}

func TestIdleTimeByTag(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	manager := NewManager(Config{
		Clock:   fake,
		Environ: func() []string { return []string{"PATH=" + os.Getenv("PATH")} },
	})
	memory := console.NewMemory()
	wrapper, err := manager.CreateProcess(context.Background(), Spec{
		Argv:     shell("echo hi; sleep 300"),
		Tag:      "Compile-Step",
		Consumer: memory,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer wrapper.KillTree()
	waitForLine(t, memory, "hi")

	fake.Advance(30 * time.Second)
	if got := manager.IdleTime("compile-STEP"); got != 30*time.Second {
		t.Errorf("IdleTime = %v, want 30s", got)
	}
	if got := manager.IdleTime("other"); got != 0 {
		t.Errorf("IdleTime(absent) = %v, want 0", got)
	}
}

func TestDefaultTagAndProcessKilled(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t)
	wrapper, err := manager.CreateProcess(context.Background(), Spec{Argv: shell("sleep 300")})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	defer wrapper.KillTree()

	if wrapper.Tag() == "" {
		t.Error("no default tag assigned")
	}
	if active := manager.Active(); len(active) != 1 || active[0] != wrapper {
		t.Fatalf("Active = %v, want the one wrapper", active)
	}
	manager.ProcessKilled(wrapper.Pid())
	manager.ProcessKilled(wrapper.Pid())
	if len(manager.Active()) != 0 {
		t.Error("ProcessKilled did not deregister")
	}
}
