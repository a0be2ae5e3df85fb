// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the build agent configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment" toml:"environment"`

	Paths    PathsConfig    `yaml:"paths" toml:"paths"`
	Executor ExecutorConfig `yaml:"executor" toml:"executor"`
	Log      LogConfig      `yaml:"log" toml:"log"`
	Control  ControlConfig  `yaml:"control" toml:"control"`

	// Environment-specific overrides.
	Development *ConfigOverrides `yaml:"development,omitempty" toml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty" toml:"production,omitempty"`
}

// PathsConfig contains the directories and files the agent uses.
type PathsConfig struct {
	// Root is the base directory; the other paths default beneath it.
	Root string `yaml:"root" toml:"root"`

	// Sandbox is the working directory of the job.
	Sandbox string `yaml:"sandbox" toml:"sandbox"`

	// Artifacts is the root of the local artifact repository.
	Artifacts string `yaml:"artifacts" toml:"artifacts"`

	// ResultLog is the JSONL file receiving status and result events.
	// Empty disables it.
	ResultLog string `yaml:"result_log" toml:"result_log"`
}

// ExecutorConfig tunes how a build runs.
type ExecutorConfig struct {
	// CancelTimeout bounds how long a cancel waits for onCancel
	// handlers and the build to finish (e.g. "30s").
	CancelTimeout string `yaml:"cancel_timeout" toml:"cancel_timeout"`

	// WaitDelay bounds output draining after a process exits.
	WaitDelay string `yaml:"wait_delay" toml:"wait_delay"`

	// OutputEncoding names the charset of process output. Empty is
	// UTF-8.
	OutputEncoding string `yaml:"output_encoding" toml:"output_encoding"`

	// UploadParallelism bounds concurrent artifact uploads.
	UploadParallelism int `yaml:"upload_parallelism" toml:"upload_parallelism"`
}

// LogConfig configures the agent's own diagnostics log.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`

	// Format is text or json.
	Format string `yaml:"format" toml:"format"`
}

// ControlConfig configures the HTTP control endpoint.
type ControlConfig struct {
	// ListenAddress is the host:port to serve on. Empty disables the
	// endpoint.
	ListenAddress string `yaml:"listen_address" toml:"listen_address"`
}

// ConfigOverrides contains environment-specific overrides. Only
// non-empty values are applied.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty" toml:"paths,omitempty"`
	Executor *ExecutorConfig `yaml:"executor,omitempty" toml:"executor,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty" toml:"log,omitempty"`
	Control  *ControlConfig  `yaml:"control,omitempty" toml:"control,omitempty"`
}

// Default returns the default configuration for development.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      "${HOME}/.buildagent",
			Sandbox:   "${AGENT_ROOT}/sandbox",
			Artifacts: "${AGENT_ROOT}/artifacts",
			ResultLog: "${AGENT_ROOT}/results.jsonl",
		},
		Executor: ExecutorConfig{
			CancelTimeout:     "30s",
			WaitDelay:         "5s",
			UploadParallelism: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the BUILDAGENT_CONFIG environment
// variable. There is no fallback: if it is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("BUILDAGENT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BUILDAGENT_CONFIG environment variable not set; " +
			"set it to the path of your agent config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .toml are TOML; anything else is YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current
// config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production logs are machine-read.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Sandbox != "" {
			c.Paths.Sandbox = overrides.Paths.Sandbox
		}
		if overrides.Paths.Artifacts != "" {
			c.Paths.Artifacts = overrides.Paths.Artifacts
		}
		if overrides.Paths.ResultLog != "" {
			c.Paths.ResultLog = overrides.Paths.ResultLog
		}
	}

	if overrides.Executor != nil {
		if overrides.Executor.CancelTimeout != "" {
			c.Executor.CancelTimeout = overrides.Executor.CancelTimeout
		}
		if overrides.Executor.WaitDelay != "" {
			c.Executor.WaitDelay = overrides.Executor.WaitDelay
		}
		if overrides.Executor.OutputEncoding != "" {
			c.Executor.OutputEncoding = overrides.Executor.OutputEncoding
		}
		if overrides.Executor.UploadParallelism != 0 {
			c.Executor.UploadParallelism = overrides.Executor.UploadParallelism
		}
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}

	if overrides.Control != nil && overrides.Control.ListenAddress != "" {
		c.Control.ListenAddress = overrides.Control.ListenAddress
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"AGENT_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["AGENT_ROOT"] = c.Paths.Root

	c.Paths.Sandbox = expandVars(c.Paths.Sandbox, vars)
	c.Paths.Artifacts = expandVars(c.Paths.Artifacts, vars)
	c.Paths.ResultLog = expandVars(c.Paths.ResultLog, vars)
	c.Control.ListenAddress = expandVars(c.Control.ListenAddress, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided vars
// take precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Sandbox == "" {
		errs = append(errs, fmt.Errorf("paths.sandbox is required"))
	}
	if c.Paths.Artifacts == "" {
		errs = append(errs, fmt.Errorf("paths.artifacts is required"))
	}

	if _, err := parseDuration("executor.cancel_timeout", c.Executor.CancelTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseDuration("executor.wait_delay", c.Executor.WaitDelay); err != nil {
		errs = append(errs, err)
	}
	if c.Executor.OutputEncoding != "" {
		if _, err := htmlindex.Get(c.Executor.OutputEncoding); err != nil {
			errs = append(errs, fmt.Errorf("executor.output_encoding %q is not a known charset", c.Executor.OutputEncoding))
		}
	}
	if c.Executor.UploadParallelism < 1 {
		errs = append(errs, fmt.Errorf("executor.upload_parallelism must be at least 1, got %d", c.Executor.UploadParallelism))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"text", "json"}
	if !contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// CancelTimeout returns executor.cancel_timeout, or zero if it does not
// parse. Call Validate first.
func (c *Config) CancelTimeout() time.Duration {
	duration, _ := parseDuration("", c.Executor.CancelTimeout)
	return duration
}

// WaitDelay returns executor.wait_delay, or zero if it does not parse.
func (c *Config) WaitDelay() time.Duration {
	duration, _ := parseDuration("", c.Executor.WaitDelay)
	return duration
}

func parseDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Sandbox,
		c.Paths.Artifacts,
	}
	if c.Paths.ResultLog != "" {
		paths = append(paths, filepath.Dir(c.Paths.ResultLog))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
