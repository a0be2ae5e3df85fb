// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"context"
	"sync"

	"github.com/bureau-foundation/buildagent/lib/process"
)

// token is the cancellation state shared between the build goroutine
// and Cancel callers. mu guards the flags and the active process; a
// process is only spawned while holding mu, so a cancel can never slip
// between the check and the spawn.
type token struct {
	mu        sync.Mutex
	requested bool
	finished  bool
	active    *process.Wrapper

	// ctx is cancelled together with requested. Downloads and spawns
	// outside unwinding run under it.
	ctx    context.Context
	cancel context.CancelFunc

	// done is closed by the build goroutine after the final report.
	done chan struct{}
}

func newToken() *token {
	ctx, cancel := context.WithCancel(context.Background())
	return &token{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// request marks the build cancelled. It returns the process to kill
// (only to the first caller), whether this call was first, and whether
// the session had already finished.
func (t *token) request() (active *process.Wrapper, first, finished bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return nil, false, true
	}
	if t.requested {
		return nil, false, false
	}
	t.requested = true
	t.cancel()
	return t.active, true, false
}

func (t *token) isRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requested
}

// clearActive forgets wrapper once it has exited.
func (t *token) clearActive(wrapper *process.Wrapper) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == wrapper {
		t.active = nil
	}
}

// commandContext returns the context for blocking work of the current
// command. While unwinding, onCancel handlers must still be able to
// run, so the cancellation is stripped.
func (s *Session) commandContext() context.Context {
	if s.unwinding {
		return context.WithoutCancel(s.token.ctx)
	}
	return s.token.ctx
}

// startProcess spawns spec under the token lock. Outside unwinding the
// spawn is refused once a cancel has been requested, and the new
// process becomes the one Cancel kills.
func (s *Session) startProcess(spec process.Spec) (*process.Wrapper, error) {
	t := s.token
	t.mu.Lock()
	defer t.mu.Unlock()

	if !s.unwinding && t.requested {
		return nil, process.ErrCancelled
	}
	wrapper, err := s.processes.CreateProcess(s.commandContext(), spec)
	if err != nil {
		return nil, err
	}
	if !s.unwinding {
		t.active = wrapper
	}
	return wrapper, nil
}

func (s *Session) cancelRequested() bool {
	if s.unwinding {
		return false
	}
	return s.token.isRequested()
}
