// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildplan reads and checks build plans: trees of
// build.Command handed to the executor.
//
// Plans are authored as JSONC (JSON with comments and trailing commas)
// or YAML, and travel between agent processes as CBOR. The typical
// flow:
//
//  1. ReadFile, Parse, ParseYAML or ParseCBOR: bytes → build.Command
//  2. Validate: structural checks before anything runs
//  3. buildsession.Session.Build: execute
package buildplan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/buildagent/lib/codec"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// Parse strips JSONC comments and trailing commas from data, then
// decodes the root command.
func Parse(data []byte) (*build.Command, error) {
	stripped := jsonc.ToJSON(data)

	var command build.Command
	if err := json.Unmarshal(stripped, &command); err != nil {
		return nil, fmt.Errorf("parsing build plan: %w", err)
	}
	return &command, nil
}

// ParseYAML decodes a YAML build plan. List arguments such as exec's
// args may be written as YAML sequences.
func ParseYAML(data []byte) (*build.Command, error) {
	var command build.Command
	if err := yaml.Unmarshal(data, &command); err != nil {
		return nil, fmt.Errorf("parsing build plan: %w", err)
	}
	return &command, nil
}

// ParseCBOR decodes a plan written by MarshalCBOR.
func ParseCBOR(data []byte) (*build.Command, error) {
	var command build.Command
	if err := codec.Unmarshal(data, &command); err != nil {
		return nil, fmt.Errorf("decoding build plan: %w", err)
	}
	return &command, nil
}

// MarshalCBOR encodes command deterministically.
func MarshalCBOR(command *build.Command) ([]byte, error) {
	data, err := codec.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("encoding build plan: %w", err)
	}
	return data, nil
}

// ReadFile reads a plan from disk, choosing the decoder by extension:
// .yaml and .yml are YAML, .cbor is CBOR, anything else is JSONC.
func ReadFile(path string) (*build.Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var command *build.Command
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		command, err = ParseYAML(data)
	case ".cbor":
		command, err = ParseCBOR(data)
	default:
		command, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return command, nil
}
