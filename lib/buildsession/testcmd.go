// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"os"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// executeTest evaluates a predicate. File predicates resolve left
// against the working directory, so an empty left names the working
// directory itself. Output predicates compare left with the trimmed
// output of the single sub-command, which never reaches the console.
func executeTest(s *Session, command *build.Command) bool {
	flag, found := s.requireArg(command, "flag")
	if !found {
		return false
	}
	left := command.Args.Value("left")

	switch flag {
	case "-d", "-nd", "-f", "-nf":
		info, err := os.Stat(resolvePath(s.workingDir(command), left))
		isDir := err == nil && info.IsDir()
		isFile := err == nil && info.Mode().IsRegular()
		switch flag {
		case "-d":
			return isDir
		case "-nd":
			return !isDir
		case "-f":
			return isFile
		default:
			return !isFile
		}

	case "-eq", "-neq", "-in", "-nin":
		if len(command.SubCommands) == 0 {
			console.Printf(s.out, "Test %s needs a command whose output to compare", flag)
			return false
		}
		output := s.captureOutput(&command.SubCommands[0])
		switch flag {
		case "-eq":
			return output == left
		case "-neq":
			return output != left
		case "-in":
			return strings.Contains(output, left)
		default:
			return !strings.Contains(output, left)
		}

	default:
		console.Printf(s.out, "Unknown test flag %q", flag)
		return false
	}
}

// captureOutput runs command in isolation and returns its trimmed
// output. Its success or failure does not matter, only what it wrote.
func (s *Session) captureOutput(command *build.Command) string {
	capture := console.NewMemory()
	s.runIsolated(command, capture)
	return strings.TrimSpace(capture.Output())
}
