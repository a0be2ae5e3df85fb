// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildplan

import (
	"fmt"

	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// MaxDepth bounds the nesting of a plan. The interpreter recurses once
// per level.
const MaxDepth = 64

// requiredArgs lists, per kind, the arguments its executor cannot run
// without.
var requiredArgs = map[build.Kind][]string{
	build.KindExec:                {"command"},
	build.KindEcho:                {"line"},
	build.KindExport:              {"name"},
	build.KindSecret:              {"value"},
	build.KindTest:                {"flag"},
	build.KindMkdirs:              {"path"},
	build.KindCleanDir:            {"path"},
	build.KindDownloadFile:        {"url", "dest"},
	build.KindDownloadDir:         {"url", "dest"},
	build.KindUploadArtifact:      {"src"},
	build.KindGenerateProperty:    {"name", "src", "xpath"},
	build.KindReportCurrentStatus: {"status"},
	build.KindPlugin:              {"type"},
}

// listArgs lists, per kind, the arguments holding a JSON string array.
var listArgs = map[build.Kind][]string{
	build.KindExec:               {"args"},
	build.KindCleanDir:           {"allowed"},
	build.KindGenerateTestReport: {"srcs"},
}

var testFlags = map[string]bool{
	"-d": false, "-nd": false, "-f": false, "-nf": false,
	"-eq": true, "-neq": true, "-in": true, "-nin": true,
}

// Validate checks a plan for structural issues and returns one
// human-readable description per issue. An empty list means the plan
// is valid.
//
// Checks include:
//   - every kind is known
//   - runIf is empty, passed, failed or any
//   - required arguments are present and list arguments parse
//   - test flags are known; output comparisons have exactly one
//     sub-command and file tests have none
//   - only compose and test commands have sub-commands
//   - reportCurrentStatus names a job state
//   - nesting stays within MaxDepth
//
// Test guards and onCancel handlers are validated like any other
// command.
func Validate(root *build.Command) []string {
	var issues []string
	validateCommand(root, "root", 1, &issues)
	return issues
}

func validateCommand(command *build.Command, location string, depth int, issues *[]string) {
	report := func(format string, args ...any) {
		*issues = append(*issues, location+": "+fmt.Sprintf(format, args...))
	}

	if depth > MaxDepth {
		report("plan is nested deeper than %d levels", MaxDepth)
		return
	}

	if !command.Kind.IsKnown() {
		report("unknown kind %q", command.Kind)
	}
	if !command.RunIf.IsValid() {
		report("runIf must be passed, failed or any, not %q", command.RunIf)
	}
	for _, name := range requiredArgs[command.Kind] {
		if !command.Args.Has(name) {
			report("%s requires argument %q", command.Kind, name)
		}
	}
	for _, name := range listArgs[command.Kind] {
		if _, err := command.Args.List(name); err != nil {
			report("%v", err)
		}
	}

	switch command.Kind {
	case build.KindCompose:
	case build.KindTest:
		flag := command.Args.Value("flag")
		needsCommand, known := testFlags[flag]
		switch {
		case !known && command.Args.Has("flag"):
			report("unknown test flag %q", flag)
		case needsCommand && len(command.SubCommands) != 1:
			report("test %s needs exactly one sub-command, has %d", flag, len(command.SubCommands))
		case known && !needsCommand && len(command.SubCommands) > 0:
			report("test %s takes no sub-commands", flag)
		}
	default:
		if len(command.SubCommands) > 0 {
			report("%s does not take sub-commands", command.Kind)
		}
	}

	if command.Kind == build.KindReportCurrentStatus && command.Args.Has("status") {
		if _, err := build.ParseJobState(command.Args.Value("status")); err != nil {
			report("%v", err)
		}
	}

	for index := range command.SubCommands {
		validateCommand(&command.SubCommands[index], fmt.Sprintf("%s.subCommands[%d]", location, index), depth+1, issues)
	}
	if command.Test != nil {
		validateCommand(command.Test, location+".test", depth+1, issues)
	}
	if command.OnCancel != nil {
		validateCommand(command.OnCancel, location+".onCancel", depth+1, issues)
	}
}
