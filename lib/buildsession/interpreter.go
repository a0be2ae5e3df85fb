// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"fmt"
	"runtime/debug"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// run executes command and returns whether it succeeded. A command
// skipped by its runIf gate or its test guard counts as success. A
// failing command moves the aggregate result to Failed. Once a cancel
// is observed run unwinds and returns false.
func (s *Session) run(command *build.Command) bool {
	if s.cancelRequested() {
		s.unwind()
		return false
	}
	if !command.RunIf.Allows(s.Result()) {
		return true
	}

	s.frames = append(s.frames, command)
	defer func() { s.frames = s.frames[:len(s.frames)-1] }()

	if command.Test != nil {
		passed := s.runGuard(command.Test)
		if s.cancelRequested() {
			s.unwind()
			return false
		}
		if !passed {
			s.logger.Debug("test guard not met, skipping", "command", command.Describe())
			return true
		}
	}

	ok := s.dispatch(command)
	if s.cancelRequested() {
		s.unwind()
		return false
	}
	if !ok {
		s.mergeResult(build.Failed)
	}
	return ok
}

// runGuard evaluates a test guard. Its failures never change the
// aggregate result.
func (s *Session) runGuard(guard *build.Command) bool {
	saved := s.Result()
	passed := s.run(guard)
	if !s.cancelRequested() {
		s.setResult(saved)
	}
	return passed
}

// runIsolated runs command with its output sent to capture and without
// letting its outcome touch the aggregate result.
func (s *Session) runIsolated(command *build.Command, capture console.Consumer) bool {
	savedOut := s.out
	s.out = capture
	defer func() { s.out = savedOut }()
	return s.runGuard(command)
}

// dispatch invokes the executor for command's kind. A panic in an
// executor fails the command instead of escaping Build.
func (s *Session) dispatch(command *build.Command) (ok bool) {
	executor, found := executors[command.Kind]
	if !found {
		console.Printf(s.out, "Unknown command kind %q", command.Kind)
		return false
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("executor panicked",
				"kind", command.Kind,
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
			console.Printf(s.out, "[go] internal error while running %s: %v", command.Kind, recovered)
			ok = false
		}
	}()
	return executor(s, command)
}

// unwind runs the onCancel handler of every active command, innermost
// first, and marks the result Cancelled. It runs at most once per
// session. Handlers may spawn processes; their failures are ignored.
func (s *Session) unwind() {
	if s.unwound {
		return
	}
	s.unwound = true
	s.unwinding = true
	defer func() { s.unwinding = false }()

	s.logger.Info("unwinding cancelled build", "depth", len(s.frames))
	frames := append([]*build.Command(nil), s.frames...)
	for index := len(frames) - 1; index >= 0; index-- {
		handler := frames[index].OnCancel
		if handler == nil {
			continue
		}
		s.runHandler(handler)
	}
	s.mergeResult(build.Cancelled)
}

// runHandler runs one onCancel handler. The handler itself runs
// regardless of its runIf; nested commands are gated as usual.
func (s *Session) runHandler(handler *build.Command) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("onCancel handler panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	ungated := *handler
	ungated.RunIf = build.RunIfAny
	saved := s.Result()
	if !s.run(&ungated) {
		s.logger.Warn("onCancel handler failed", "command", handler.Describe())
	}
	s.setResult(saved)
}
