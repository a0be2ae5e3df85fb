// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package build

import "fmt"

// JobResult is the aggregate outcome of a job. Results only move
// forward: Passed may become Failed, and Cancelled overrides both and
// can never be replaced.
type JobResult string

const (
	Passed    JobResult = "Passed"
	Failed    JobResult = "Failed"
	Cancelled JobResult = "Cancelled"
)

// Merge returns the result after next is applied to r under the
// monotonic ordering Passed < Failed < Cancelled.
func (r JobResult) Merge(next JobResult) JobResult {
	if r.rank() >= next.rank() {
		return r
	}
	return next
}

func (r JobResult) rank() int {
	switch r {
	case Failed:
		return 1
	case Cancelled:
		return 2
	default:
		return 0
	}
}

// JobState is the lifecycle phase of a job as reported to the server.
type JobState int

const (
	Preparing JobState = iota + 1
	Building
	Completing
	Completed
)

var jobStateNames = map[JobState]string{
	Preparing:  "Preparing",
	Building:   "Building",
	Completing: "Completing",
	Completed:  "Completed",
}

func (s JobState) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// ParseJobState parses a state name as written by String.
func ParseJobState(name string) (JobState, error) {
	for state, stateName := range jobStateNames {
		if stateName == name {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown job state %q", name)
}

// MarshalText encodes the state by name.
func (s JobState) MarshalText() ([]byte, error) {
	if _, ok := jobStateNames[s]; !ok {
		return nil, fmt.Errorf("cannot marshal invalid job state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *JobState) UnmarshalText(text []byte) error {
	state, err := ParseJobState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// RunIf gates a command on the aggregate result at the moment the
// command is reached. The zero value behaves as RunIfPassed.
type RunIf string

const (
	RunIfPassed RunIf = "passed"
	RunIfFailed RunIf = "failed"
	RunIfAny    RunIf = "any"
)

// Allows reports whether a command with this gate runs when the
// aggregate result is current.
func (r RunIf) Allows(current JobResult) bool {
	switch r {
	case RunIfAny:
		return true
	case RunIfFailed:
		return current == Failed
	default:
		return current == Passed
	}
}

// IsValid reports whether r is empty or one of the defined gates.
func (r RunIf) IsValid() bool {
	switch r {
	case "", RunIfPassed, RunIfFailed, RunIfAny:
		return true
	}
	return false
}
