// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/console"
)

// maxStopRounds bounds the /proc rescans while freezing a tree. Each
// round stops newly found processes; stopped processes cannot fork, so
// the set converges quickly.
const maxStopRounds = 8

// Wrapper is a live (or finished) process started by a Manager.
type Wrapper struct {
	manager   *Manager
	cmd       *exec.Cmd
	pid       int
	tag       string
	startTime time.Time
	consumer  console.Consumer
	streams   []*outputStream

	lastActivity atomic.Int64

	// mu serializes signal delivery with exit detection: once exited is
	// set the pid may be reaped and reused, so only the group is
	// signalled.
	mu     sync.Mutex
	exited bool
	killed bool

	done     chan struct{}
	exitCode int
	waitErr  error
}

// Pid returns the OS process id.
func (w *Wrapper) Pid() int { return w.pid }

// Tag returns the correlation tag.
func (w *Wrapper) Tag() string { return w.tag }

// StartTime returns when the process was started.
func (w *Wrapper) StartTime() time.Time { return w.startTime }

// Done is closed once the process has exited, been reaped, and its
// output has been delivered.
func (w *Wrapper) Done() <-chan struct{} { return w.done }

// IdleTime returns the time since the process last wrote a line, or
// since it started if it has written nothing.
func (w *Wrapper) IdleTime() time.Duration {
	return clock.Since(w.manager.clock, time.Unix(0, w.lastActivity.Load()))
}

// Killed reports whether KillTree signalled the process.
func (w *Wrapper) Killed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

// WaitForExit blocks until the process has exited and returns its exit
// code. A process killed by a signal reports 128 plus the signal
// number. The error is set only when the exit status could not be
// collected.
func (w *Wrapper) WaitForExit() (int, error) {
	<-w.done
	return w.exitCode, w.waitErr
}

// Kill signals the process group and every descendant and returns
// without waiting for the process to be reaped. Only the first call
// signals, and nothing is signalled once Done is closed.
func (w *Wrapper) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		return
	}
	select {
	case <-w.done:
		return
	default:
	}
	w.killed = true
	w.killTreeLocked()
}

// KillTree kills the process and all of its descendants, then waits
// for the process to be reaped. It is safe to call concurrently and
// more than once.
func (w *Wrapper) KillTree() {
	w.Kill()
	<-w.done
	w.manager.deregister(w)
}

// killTreeLocked freezes the process group and every descendant found
// in /proc, then kills them. Freezing first keeps the snapshot
// complete: a stopped process cannot fork, and a killed parent would
// orphan its children out of reach of the scan. Caller holds w.mu.
//
// The group is signalled even after the leader has exited: members
// that outlive it (background jobs still holding the output pipes)
// keep the pgid allocated, so it cannot name another group. The bare
// pid and the parent-pid scan are only valid until the leader exits.
func (w *Wrapper) killTreeLocked() {
	_ = unix.Kill(-w.pid, unix.SIGSTOP)

	victims := make(map[int]struct{})
	for round := 0; !w.exited && round < maxStopRounds; round++ {
		added := false
		for _, pid := range descendants(w.manager.procRoot, w.pid) {
			if _, seen := victims[pid]; seen {
				continue
			}
			victims[pid] = struct{}{}
			_ = unix.Kill(pid, unix.SIGSTOP)
			added = true
		}
		if !added {
			break
		}
	}

	// ESRCH from an already empty group is expected.
	_ = unix.Kill(-w.pid, unix.SIGKILL)
	if !w.exited {
		_ = unix.Kill(w.pid, unix.SIGKILL)
	}
	for pid := range victims {
		_ = unix.Kill(pid, unix.SIGKILL)
	}
	w.manager.logger.Info("process tree killed",
		"pid", w.pid,
		"tag", w.tag,
		"leader_exited", w.exited,
		"descendants", len(victims),
	)
}

// wait runs on its own goroutine for the lifetime of the process.
func (w *Wrapper) wait() {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, w.pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}

	w.mu.Lock()
	w.exited = true
	w.mu.Unlock()

	err := w.cmd.Wait()
	for _, stream := range w.streams {
		stream.flush()
	}

	w.exitCode, w.waitErr = exitStatus(w.cmd, err)
	if errors.Is(err, exec.ErrWaitDelay) {
		w.manager.logger.Warn("process output still open after exit", "pid", w.pid, "tag", w.tag)
	}
	w.manager.deregister(w)
	w.manager.logger.Info("process exited", "pid", w.pid, "tag", w.tag, "exit_code", w.exitCode)
	close(w.done)
}

func (w *Wrapper) consumeLine(line string) {
	w.lastActivity.Store(w.manager.clock.Now().UnixNano())
	w.consumer.ConsumeLine(line)
}

// exitStatus derives the exit code from a finished command.
func exitStatus(cmd *exec.Cmd, err error) (int, error) {
	state := cmd.ProcessState
	if state == nil {
		return -1, err
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	var exitError *exec.ExitError
	if err == nil || errors.As(err, &exitError) || errors.Is(err, exec.ErrWaitDelay) {
		return state.ExitCode(), nil
	}
	return state.ExitCode(), err
}
