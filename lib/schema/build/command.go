// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"strconv"
	"strings"
)

// Command is one node of a build plan. Build commands with the
// constructors below and refine them with the With* methods, which
// return modified copies and never touch the receiver.
type Command struct {
	Kind             Kind      `json:"kind" yaml:"kind"`
	Args             Args      `json:"args,omitempty" yaml:"args,omitempty"`
	SubCommands      []Command `json:"subCommands,omitempty" yaml:"subCommands,omitempty"`
	Test             *Command  `json:"test,omitempty" yaml:"test,omitempty"`
	OnCancel         *Command  `json:"onCancel,omitempty" yaml:"onCancel,omitempty"`
	RunIf            RunIf     `json:"runIf,omitempty" yaml:"runIf,omitempty"`
	WorkingDirectory string    `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty"`
	Secret           bool      `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Compose runs commands in order.
func Compose(commands ...Command) Command {
	return Command{Kind: KindCompose, SubCommands: append([]Command(nil), commands...)}
}

// Exec runs an executable with arguments.
func Exec(command string, args ...string) Command {
	return Command{Kind: KindExec, Args: NewArgs("command", command).WithList("args", args)}
}

// Echo writes line to the console after variable substitution.
func Echo(line string) Command {
	return Command{Kind: KindEcho, Args: NewArgs("line", line)}
}

// Export sets an environment variable for later commands. A secure
// export hides the value on the console and registers it as a secret.
func Export(name, value string, secure bool) Command {
	return Command{Kind: KindExport, Args: NewArgs(
		"name", name,
		"value", value,
		"secure", strconv.FormatBool(secure),
	)}
}

// ExportCurrent prints the current value of name without changing it.
func ExportCurrent(name string) Command {
	return Command{Kind: KindExport, Args: NewArgs("name", name)}
}

// Secret registers value for redaction with the default mask.
func Secret(value string) Command {
	return Command{Kind: KindSecret, Args: NewArgs("value", value)}
}

// SecretWithSubstitution registers value for redaction, replacing it
// with substitution instead of the default mask.
func SecretWithSubstitution(value, substitution string) Command {
	return Command{Kind: KindSecret, Args: NewArgs("value", value, "substitution", substitution)}
}

// Test evaluates a file-system predicate (-d, -nd, -f, -nf) on left.
func Test(flag, left string) Command {
	return Command{Kind: KindTest, Args: NewArgs("flag", flag, "left", left)}
}

// TestWithCommand compares left against the captured output of
// command (-eq, -neq, -in, -nin).
func TestWithCommand(flag, left string, command Command) Command {
	return Command{
		Kind:        KindTest,
		Args:        NewArgs("flag", flag, "left", left),
		SubCommands: []Command{command},
	}
}

// Fail writes message and fails.
func Fail(message string) Command {
	return Command{Kind: KindFail, Args: NewArgs("message", message)}
}

// Mkdirs creates path and any missing parents.
func Mkdirs(path string) Command {
	return Command{Kind: KindMkdirs, Args: NewArgs("path", path)}
}

// CleanDir removes everything under path except the allowed entries.
func CleanDir(path string, allowed ...string) Command {
	return Command{Kind: KindCleanDir, Args: NewArgs("path", path).WithList("allowed", allowed)}
}

// DownloadFile fetches one artifact. Recognized args: url, src, dest,
// checksumUrl, checksumFile.
func DownloadFile(args Args) Command {
	return Command{Kind: KindDownloadFile, Args: args}
}

// DownloadDir fetches a zipped artifact directory and extracts it.
// Takes the same args as DownloadFile.
func DownloadDir(args Args) Command {
	return Command{Kind: KindDownloadDir, Args: args}
}

// UploadArtifact uploads every file matching src to dest.
func UploadArtifact(src, dest string, ignoreUnmatchError bool) Command {
	return Command{Kind: KindUploadArtifact, Args: NewArgs(
		"src", src,
		"dest", dest,
		"ignoreUnmatchError", strconv.FormatBool(ignoreUnmatchError),
	)}
}

// GenerateProperty evaluates xpath over the XML file src and records
// the result as property name.
func GenerateProperty(name, src, xpath string) Command {
	return Command{Kind: KindGenerateProperty, Args: NewArgs("name", name, "src", src, "xpath", xpath)}
}

// GenerateTestReport uploads the report files under srcs to uploadPath.
func GenerateTestReport(uploadPath string, srcs ...string) Command {
	return Command{Kind: KindGenerateTestReport, Args: NewArgs("uploadPath", uploadPath).WithList("srcs", srcs)}
}

// ReportCurrentStatus forwards a job state transition to the reporter.
func ReportCurrentStatus(state JobState) Command {
	return Command{Kind: KindReportCurrentStatus, Args: NewArgs("status", state.String())}
}

// ReportCompleting tells the reporter the job entered its completing
// phase, with the result so far.
func ReportCompleting() Command {
	return Command{Kind: KindReportCompleting}
}

// Plugin delegates to the handler registered for pluginType.
func Plugin(pluginType string, args Args) Command {
	return Command{Kind: KindPlugin, Args: NewArgs("type", pluginType).merge(args)}
}

func (a Args) merge(other Args) Args {
	result := a
	for _, arg := range other {
		result = result.With(arg.Name, arg.Value)
	}
	return result
}

// WithRunIf returns a copy of c gated by runIf.
func (c Command) WithRunIf(runIf RunIf) Command {
	c.Args = c.cloneArgs()
	c.RunIf = runIf
	return c
}

// WithTest returns a copy of c guarded by test.
func (c Command) WithTest(test Command) Command {
	c.Args = c.cloneArgs()
	c.Test = &test
	return c
}

// WithOnCancel returns a copy of c that runs onCancel when the build is
// cancelled while c is executing.
func (c Command) WithOnCancel(onCancel Command) Command {
	c.Args = c.cloneArgs()
	c.OnCancel = &onCancel
	return c
}

// WithWorkingDirectory returns a copy of c that runs in dir, relative
// to the sandbox unless absolute.
func (c Command) WithWorkingDirectory(dir string) Command {
	c.Args = c.cloneArgs()
	c.WorkingDirectory = dir
	return c
}

// WithSecret returns a copy of c whose arguments are treated as
// sensitive in diagnostics.
func (c Command) WithSecret(secret bool) Command {
	c.Args = c.cloneArgs()
	c.Secret = secret
	return c
}

// WithArg returns a copy of c with one argument set.
func (c Command) WithArg(name, value string) Command {
	c.Args = c.Args.With(name, value)
	return c
}

func (c Command) cloneArgs() Args {
	if c.Args == nil {
		return nil
	}
	return append(Args(nil), c.Args...)
}

// Describe returns a short single-line summary for logs. Arguments of
// secret commands are omitted.
func (c Command) Describe() string {
	var builder strings.Builder
	builder.WriteString(string(c.Kind))
	if c.Secret {
		builder.WriteString(" (secret)")
		return builder.String()
	}
	switch c.Kind {
	case KindExec:
		builder.WriteByte(' ')
		builder.WriteString(c.Args.Value("command"))
		if args, err := c.Args.List("args"); err == nil && len(args) > 0 {
			builder.WriteByte(' ')
			builder.WriteString(strings.Join(args, " "))
		}
	case KindCompose:
		builder.WriteString(" (")
		builder.WriteString(strconv.Itoa(len(c.SubCommands)))
		builder.WriteString(" commands)")
	case KindSecret, KindExport:
		// Values may be sensitive.
		if name := c.Args.Value("name"); name != "" {
			builder.WriteByte(' ')
			builder.WriteString(name)
		}
	case KindPlugin:
		builder.WriteByte(' ')
		builder.WriteString(c.Args.Value("type"))
	default:
		for _, key := range []string{"path", "src", "flag", "status"} {
			if value, ok := c.Args.Get(key); ok {
				builder.WriteByte(' ')
				builder.WriteString(value)
				break
			}
		}
	}
	return builder.String()
}
