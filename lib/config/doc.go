// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the build agent's configuration file.
//
// Configuration is loaded from a single file named by either the
// BUILDAGENT_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no file search. Files ending in .toml
// are parsed as TOML; everything else is YAML. Values in the file
// overlay [Default].
//
// The file may carry development and production sections that override
// base values when [Config].Environment matches. Without an explicit
// production section, production switches the agent log to JSON.
//
// Path fields are expanded after loading: ${HOME}, ${AGENT_ROOT}, and
// ${VAR:-default} patterns. No other environment variables override
// config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Executor, Log, Control
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every invalid field at once
package config
