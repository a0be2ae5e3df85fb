// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/buildagent/lib/buildplan"
	"github.com/bureau-foundation/buildagent/lib/codec"
	"github.com/bureau-foundation/buildagent/lib/config"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	styled := term.IsTerminal(int(os.Stdout.Fd()))

	code, err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, styled)
	stop()
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(code)
}

// run parses arguments, loads the config and the plan, and executes
// the build. It returns the process exit code; an error means the
// build never started.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, styled bool) (int, error) {
	var (
		configPath string
		planPath   string
		sandbox    string
		variables  map[string]string
		presets    map[string]string
		check      bool
		dumpPlan   bool
	)

	flagSet := pflag.NewFlagSet("buildagent-executor", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "agent config file (default: $BUILDAGENT_CONFIG)")
	flagSet.StringVar(&planPath, "plan", "", "build plan file (.jsonc/.json, .yaml/.yml, or .cbor)")
	flagSet.StringVar(&sandbox, "sandbox", "", "job working directory (overrides paths.sandbox)")
	flagSet.StringToStringVar(&variables, "var", nil, "build variable NAME=VALUE substituted into commands")
	flagSet.StringToStringVar(&presets, "env", nil, "environment variable NAME=VALUE set for the whole build")
	flagSet.BoolVar(&check, "check", false, "validate the plan and exit")
	flagSet.BoolVar(&dumpPlan, "dump-plan", false, "print the parsed plan in CBOR diagnostic notation and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintln(stdout, version.Info())
		return 0, nil
	}

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return 0, nil
		}
		return 1, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return 0, nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return 1, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if planPath == "" {
		return 1, fmt.Errorf("--plan is required")
	}

	plan, err := buildplan.ReadFile(planPath)
	if err != nil {
		return 1, fmt.Errorf("loading plan: %w", err)
	}
	if issues := buildplan.Validate(plan); len(issues) > 0 {
		return 1, fmt.Errorf("plan %s has validation errors:\n  %s", planPath, strings.Join(issues, "\n  "))
	}

	if dumpPlan {
		data, err := buildplan.MarshalCBOR(plan)
		if err != nil {
			return 1, err
		}
		text, err := codec.Diagnose(data)
		if err != nil {
			return 1, fmt.Errorf("formatting plan: %w", err)
		}
		fmt.Fprintln(stdout, text)
		return 0, nil
	}
	if check {
		fmt.Fprintf(stdout, "%s: ok (%s)\n", planPath, plan.Describe())
		return 0, nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return 1, err
	}
	if sandbox != "" {
		cfg.Paths.Sandbox = sandbox
	}
	if err := cfg.Validate(); err != nil {
		return 1, fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Log, stderr)
	logger.Info("starting", "version", version.Info(), "plan", planPath)

	job := &job{
		config:    cfg,
		plan:      plan,
		planPath:  planPath,
		variables: variables,
		presets:   presets,
		console:   stdout,
		logger:    logger,
	}
	outcome, err := job.execute(ctx)
	if err != nil {
		return 1, err
	}

	printSummary(stdout, outcome, styled)
	return exitCode(outcome.result), nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func printHelp(output io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(output, `buildagent-executor runs one build plan and exits with its result.

Usage:
  buildagent-executor --plan FILE [flags]

Examples:
  # Run a plan with the config named by $BUILDAGENT_CONFIG
  buildagent-executor --plan build.jsonc

  # Validate a plan without running it
  buildagent-executor --plan build.yaml --check

  # Run in a specific directory with build variables
  buildagent-executor --config agent.toml --plan build.cbor \
      --sandbox /work/job-42 --var GO_PIPELINE_LABEL=42

Flags:
`)
	flagSet.SetOutput(output)
	flagSet.PrintDefaults()
}
