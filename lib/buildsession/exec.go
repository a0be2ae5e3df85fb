// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"errors"
	"os"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

func executeExec(s *Session, command *build.Command) bool {
	name, found := s.requireArg(command, "command")
	if !found {
		return false
	}
	args, ok := s.listArg(command, "args")
	if !ok {
		return false
	}

	dir := s.workingDir(command)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		console.Printf(s.out, "Working directory \"%s\" is not a directory!", dir)
		return false
	}

	argv := make([]string, 0, 1+len(args))
	argv = append(argv, s.substitute(name))
	for _, argument := range args {
		argv = append(argv, s.substitute(argument))
	}

	wrapper, err := s.startProcess(process.Spec{
		Argv:                argv,
		LayerReferencesOnly: true,
		WorkingDir:          dir,
		Environment:         s.contextEnv(),
		Consumer:            s.out,
		Tag:                 s.id,
		Encoding:            s.encoding,
		Mask:                s.redactor.Redact,
		Sensitive:           command.Secret,
	})
	if err != nil {
		if errors.Is(err, process.ErrCancelled) {
			return false
		}
		console.WriteText(s.out, err.Error())
		return false
	}

	exitCode, err := wrapper.WaitForExit()
	s.token.clearActive(wrapper)
	if err != nil {
		s.logger.Warn("collecting exit status failed", "pid", wrapper.Pid(), "error", err)
		return false
	}
	if exitCode != 0 {
		s.logger.Debug("command exited non-zero", "pid", wrapper.Pid(), "exit_code", exitCode)
		return false
	}
	return true
}
