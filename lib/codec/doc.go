// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the agent's standard CBOR encoding
// configuration.
//
// JSON (or JSONC and YAML) is the authoring format for build plans.
// CBOR is used where plans and state travel between agent processes or
// sit on disk: compiled plans handed to the executor and the artifact
// repository manifest. Every package encodes through this one
// configuration so that the same value always produces the same bytes.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// fxamacker/cbor reads `json` tags when `cbor` tags are absent. Types
// that are also serialized as JSON (build.Command) carry only `json`
// tags; types that are only ever CBOR (the artifact manifest) carry
// only `cbor` tags. Never put both on one field.
package codec
