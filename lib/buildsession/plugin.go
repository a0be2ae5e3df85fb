// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// PluginTask is what a plugin handler receives for one plugin command.
type PluginTask struct {
	Type        string
	Args        build.Args
	WorkingDir  string
	Environment map[string]string
	// Console is redacted like all build output.
	Console console.Consumer
}

// PluginHandler executes a plugin task and reports success. ctx is
// cancelled when the build is cancelled.
type PluginHandler func(ctx context.Context, task PluginTask) bool

// PluginRegistry maps plugin task types to handlers. It is safe for
// concurrent use.
type PluginRegistry struct {
	mu       sync.RWMutex
	handlers map[string]PluginHandler
}

// NewPluginRegistry returns an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{handlers: make(map[string]PluginHandler)}
}

// Register adds handler for pluginType. Registering a type twice is an
// error.
func (r *PluginRegistry) Register(pluginType string, handler PluginHandler) error {
	if pluginType == "" || handler == nil {
		return fmt.Errorf("plugin registration needs a type and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[pluginType]; exists {
		return fmt.Errorf("plugin task type %q already registered", pluginType)
	}
	r.handlers[pluginType] = handler
	return nil
}

// Lookup returns the handler for pluginType.
func (r *PluginRegistry) Lookup(pluginType string) (PluginHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[pluginType]
	return handler, ok
}

// Types returns the registered types, sorted.
func (r *PluginRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for pluginType := range r.handlers {
		types = append(types, pluginType)
	}
	sort.Strings(types)
	return types
}
