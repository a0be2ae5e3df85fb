// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"fmt"
	"regexp"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// executor runs one command kind and reports success. Executors write
// user-facing problems to s.out and never return errors.
type executor func(s *Session, command *build.Command) bool

// executors maps every kind to its executor. Assigned in init because
// the compose executor refers back to the interpreter.
var executors map[build.Kind]executor

func init() {
	executors = map[build.Kind]executor{
		build.KindCompose:             executeCompose,
		build.KindExec:                executeExec,
		build.KindEcho:                executeEcho,
		build.KindExport:              executeExport,
		build.KindSecret:              executeSecret,
		build.KindTest:                executeTest,
		build.KindFail:                executeFail,
		build.KindMkdirs:              executeMkdirs,
		build.KindCleanDir:            executeCleanDir,
		build.KindDownloadFile:        executeDownloadFile,
		build.KindDownloadDir:         executeDownloadDir,
		build.KindUploadArtifact:      executeUploadArtifact,
		build.KindGenerateProperty:    executeGenerateProperty,
		build.KindGenerateTestReport:  executeGenerateTestReport,
		build.KindReportCurrentStatus: executeReportCurrentStatus,
		build.KindReportCompleting:    executeReportCompleting,
		build.KindPlugin:              executePlugin,
	}
}

// requireArg returns the named argument or reports it missing.
func (s *Session) requireArg(command *build.Command, name string) (string, bool) {
	value, ok := command.Args.Get(name)
	if !ok {
		console.Printf(s.out, "Missing required argument %q for %s", name, command.Kind)
		return "", false
	}
	return value, true
}

// listArg decodes a JSON list argument, reporting malformed values.
func (s *Session) listArg(command *build.Command, name string) ([]string, bool) {
	list, err := command.Args.List(name)
	if err != nil {
		console.Printf(s.out, "Invalid argument %q for %s: %v", name, command.Kind, err)
		return nil, false
	}
	return list, true
}

// substitutionPattern matches ${name}. Names may contain dots (build
// variables such as ${test.foo}) but not colons, which select an
// environment layer and are resolved at spawn time.
var substitutionPattern = regexp.MustCompile(`\$\{([^}:]+)\}`)

// substitute resolves ${name} from the environment, then the build
// variables. Unresolved references are left as written.
func (s *Session) substitute(input string) string {
	return substitutionPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := s.lookupEnv(name); ok {
			return value
		}
		if value, ok := s.buildVariables[name]; ok {
			return value
		}
		return match
	})
}

func executeCompose(s *Session, command *build.Command) bool {
	ok := true
	for index := range command.SubCommands {
		if s.cancelRequested() {
			return false
		}
		if !s.run(&command.SubCommands[index]) {
			ok = false
		}
	}
	return ok
}

func executeEcho(s *Session, command *build.Command) bool {
	line, found := s.requireArg(command, "line")
	if !found {
		return false
	}
	console.WriteText(s.out, s.substitute(line))
	return true
}

func executeFail(s *Session, command *build.Command) bool {
	if message := command.Args.Value("message"); message != "" {
		console.WriteText(s.out, message)
	}
	return false
}

func executeSecret(s *Session, command *build.Command) bool {
	value, found := s.requireArg(command, "value")
	if !found {
		return false
	}
	s.redactor.AddSecret(value, command.Args.Value("substitution"))
	return true
}

// secureMask is shown instead of the value of a secure export.
const secureMask = "********"

func executeExport(s *Session, command *build.Command) bool {
	name, found := s.requireArg(command, "name")
	if !found {
		return false
	}

	value, hasValue := command.Args.Get("value")
	if !hasValue {
		current, ok := s.lookupEnv(name)
		if !ok {
			current = "null"
		}
		console.Printf(s.out, "[go] setting environment variable '%s' to value '%s'", name, current)
		return true
	}

	display := value
	if command.Args.Bool("secure") {
		s.redactor.AddSecret(value, "")
		display = secureMask
	}
	if _, exists := s.lookupEnv(name); exists {
		console.Printf(s.out, "[go] overriding environment variable '%s' with value '%s'", name, display)
	} else {
		console.Printf(s.out, "[go] setting environment variable '%s' to value '%s'", name, display)
	}
	s.SetEnv(name, value)
	return true
}

func executeReportCurrentStatus(s *Session, command *build.Command) bool {
	status, found := s.requireArg(command, "status")
	if !found {
		return false
	}
	state, err := build.ParseJobState(status)
	if err != nil {
		console.Printf(s.out, "Invalid status %q: %v", status, err)
		return false
	}
	s.reportStatus(state)
	return true
}

func executeReportCompleting(s *Session, command *build.Command) bool {
	s.reporter.ReportCompleting(s.Result())
	return true
}

func executePlugin(s *Session, command *build.Command) bool {
	pluginType, found := s.requireArg(command, "type")
	if !found {
		return false
	}
	handler, ok := s.plugins.Lookup(pluginType)
	if !ok {
		console.Printf(s.out, "Unknown plugin task type %q", pluginType)
		return false
	}
	return handler(s.commandContext(), PluginTask{
		Type:        pluginType,
		Args:        command.Args,
		WorkingDir:  s.workingDir(command),
		Environment: s.contextEnv(),
		Console:     s.out,
	})
}

func describeCount(count int, noun string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", count, noun)
}
