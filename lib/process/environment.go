// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"regexp"
	"sort"
	"strings"
)

// Layer identifies where an environment variable came from. Later
// layers win when the same name is set in several.
type Layer int

const (
	// LayerSystem holds the agent's own environment.
	LayerSystem Layer = iota
	// LayerContext holds variables set by the build (export commands,
	// job variables).
	LayerContext
	// LayerOverride holds per-process overrides.
	LayerOverride

	layerCount
)

var layerNames = [layerCount]string{"system", "context", "override"}

func (l Layer) String() string {
	if l >= 0 && l < layerCount {
		return layerNames[l]
	}
	return "unknown"
}

// variablePattern matches ${NAME} and ${layer:NAME}. Bare $NAME is left
// for the shell.
var variablePattern = regexp.MustCompile(`\$\{(?:(system|context|override):)?([A-Za-z_][A-Za-z0-9_.]*)\}`)

// Environment is a layered set of variables for one process. It is not
// safe for concurrent use.
type Environment struct {
	layers [layerCount]map[string]string
}

// NewEnvironment returns an environment with the given system
// variables, in os.Environ form. Malformed entries are skipped.
func NewEnvironment(environ []string) *Environment {
	environment := &Environment{}
	for index := range environment.layers {
		environment.layers[index] = make(map[string]string)
	}
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			continue
		}
		environment.layers[LayerSystem][name] = value
	}
	return environment
}

// Set assigns name in layer.
func (e *Environment) Set(layer Layer, name, value string) {
	e.layers[layer][name] = value
}

// SetAll assigns every entry of values in layer.
func (e *Environment) SetAll(layer Layer, values map[string]string) {
	for name, value := range values {
		e.layers[layer][name] = value
	}
}

// LookupLayer returns the value of name within one layer only.
func (e *Environment) LookupLayer(layer Layer, name string) (string, bool) {
	value, ok := e.layers[layer][name]
	return value, ok
}

// Lookup returns the winning value of name across all layers.
func (e *Environment) Lookup(name string) (string, bool) {
	for layer := layerCount - 1; layer >= 0; layer-- {
		if value, ok := e.layers[layer][name]; ok {
			return value, true
		}
	}
	return "", false
}

// Names returns every variable name, sorted.
func (e *Environment) Names() []string {
	seen := make(map[string]struct{})
	for _, layer := range e.layers {
		for name := range layer {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environ returns the merged variables in os.Environ form, sorted by
// name.
func (e *Environment) Environ() []string {
	names := e.Names()
	environ := make([]string, 0, len(names))
	for _, name := range names {
		value, _ := e.Lookup(name)
		environ = append(environ, name+"="+value)
	}
	return environ
}

// Expand replaces ${NAME} with the merged value and ${layer:NAME} with
// the value from that layer. Unresolved references are left as written.
func (e *Environment) Expand(input string) string {
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := variablePattern.FindStringSubmatch(match)
		layerName, name := groups[1], groups[2]
		var (
			value string
			ok    bool
		)
		if layerName == "" {
			value, ok = e.Lookup(name)
		} else {
			value, ok = e.LookupLayer(parseLayer(layerName), name)
		}
		if !ok {
			return match
		}
		return value
	})
}

// ExpandLayered replaces only ${layer:NAME} references. Bare ${NAME} is
// left as written.
func (e *Environment) ExpandLayered(input string) string {
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := variablePattern.FindStringSubmatch(match)
		if groups[1] == "" {
			return match
		}
		if value, ok := e.LookupLayer(parseLayer(groups[1]), groups[2]); ok {
			return value
		}
		return match
	})
}

func parseLayer(name string) Layer {
	for layer, layerName := range layerNames {
		if layerName == name {
			return Layer(layer)
		}
	}
	return LayerSystem
}
