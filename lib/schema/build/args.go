// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// Arg is one named argument of a command.
type Arg struct {
	Name  string
	Value string
}

// Args is an ordered string mapping. Setting an existing name replaces
// its value in place; new names are appended. List-valued arguments are
// stored as a JSON array string and read back with [Args.List].
type Args []Arg

// NewArgs builds Args from alternating name, value strings. Panics on
// an odd count, since that is always a programming error in a plan
// constructor.
func NewArgs(pairs ...string) Args {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("build: NewArgs needs name/value pairs, got %d strings", len(pairs)))
	}
	var args Args
	for index := 0; index < len(pairs); index += 2 {
		args = args.With(pairs[index], pairs[index+1])
	}
	return args
}

// Get returns the value for name and whether it was set.
func (a Args) Get(name string) (string, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return "", false
}

// Value returns the value for name, or "" when unset.
func (a Args) Value(name string) string {
	value, _ := a.Get(name)
	return value
}

// Has reports whether name is set.
func (a Args) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

// Bool reports whether name is set to "true".
func (a Args) Bool(name string) bool {
	return a.Value(name) == "true"
}

// List decodes a JSON array argument. An unset or empty argument is an
// empty list.
func (a Args) List(name string) ([]string, error) {
	value, ok := a.Get(name)
	if !ok || value == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		return nil, fmt.Errorf("argument %q is not a JSON string array: %w", name, err)
	}
	return list, nil
}

// With returns a copy of a with name set to value.
func (a Args) With(name, value string) Args {
	result := make(Args, len(a), len(a)+1)
	copy(result, a)
	for index := range result {
		if result[index].Name == name {
			result[index].Value = value
			return result
		}
	}
	return append(result, Arg{Name: name, Value: value})
}

// WithList returns a copy of a with name set to the JSON encoding of
// values.
func (a Args) WithList(name string, values []string) Args {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		// A []string always marshals.
		panic(err)
	}
	return a.With(name, string(encoded))
}

// MarshalJSON encodes the arguments as a JSON object in declaration
// order.
func (a Args) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for index, arg := range a {
		if index > 0 {
			buffer.WriteByte(',')
		}
		name, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, err
		}
		buffer.Write(name)
		buffer.WriteByte(':')
		buffer.Write(value)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order. Non-string
// values (typically arrays for list arguments) are kept as their
// compact JSON text.
func (a *Args) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("decoding args: %w", err)
	}
	if token == nil {
		*a = nil
		return nil
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decoding args: expected object, got %v", token)
	}

	var result Args
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("decoding args: %w", err)
		}
		key, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("decoding args: expected key, got %v", keyToken)
		}

		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			return fmt.Errorf("decoding args[%q]: %w", key, err)
		}
		value, err := rawArgValue(raw)
		if err != nil {
			return fmt.Errorf("decoding args[%q]: %w", key, err)
		}
		result = result.With(key, value)
	}
	if _, err := decoder.Token(); err != nil {
		return fmt.Errorf("decoding args: %w", err)
	}
	*a = result
	return nil
}

func rawArgValue(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		return "", err
	}
	return compacted.String(), nil
}

// UnmarshalYAML decodes a YAML mapping keeping key order. Sequence
// values become JSON array strings, matching the JSON form.
func (a *Args) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: args must be a mapping", node.Line)
	}
	var result Args
	for index := 0; index+1 < len(node.Content); index += 2 {
		key := node.Content[index]
		valueNode := node.Content[index+1]
		switch valueNode.Kind {
		case yaml.ScalarNode:
			result = result.With(key.Value, valueNode.Value)
		case yaml.SequenceNode:
			var items []string
			if err := valueNode.Decode(&items); err != nil {
				return fmt.Errorf("line %d: args[%q]: %w", valueNode.Line, key.Value, err)
			}
			result = result.WithList(key.Value, items)
		default:
			return fmt.Errorf("line %d: args[%q] must be a scalar or a list of strings", valueNode.Line, key.Value)
		}
	}
	*a = result
	return nil
}

// MarshalYAML encodes the arguments as an ordered mapping.
func (a Args) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, arg := range a {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: arg.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: arg.Value},
		)
	}
	return node, nil
}

// MarshalCBOR encodes the arguments as an array of [name, value] pairs.
// A CBOR map would be re-sorted by deterministic encoding.
func (a Args) MarshalCBOR() ([]byte, error) {
	pairs := make([][2]string, len(a))
	for index, arg := range a {
		pairs[index] = [2]string{arg.Name, arg.Value}
	}
	return cbor.Marshal(pairs)
}

// UnmarshalCBOR decodes the pair array written by MarshalCBOR.
func (a *Args) UnmarshalCBOR(data []byte) error {
	var pairs [][2]string
	if err := cbor.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("decoding args: %w", err)
	}
	var result Args
	for _, pair := range pairs {
		result = result.With(pair[0], pair[1])
	}
	*a = result
	return nil
}
