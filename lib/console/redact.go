// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"sort"
	"strings"
	"sync"
)

// DefaultMask replaces a secret registered without a substitution.
const DefaultMask = "******"

// Redactor masks registered secret literals in every line before
// passing it on. Secrets can be added at any time, including while a
// process is writing; a line is redacted with the secrets registered
// when it arrives. Delivery to the downstream consumer is serialized.
type Redactor struct {
	mu       sync.RWMutex
	secrets  map[string]string
	replacer *strings.Replacer

	deliver sync.Mutex
	next    Consumer
}

// NewRedactor returns a Redactor delivering to next.
func NewRedactor(next Consumer) *Redactor {
	return &Redactor{secrets: make(map[string]string), next: next}
}

// AddSecret registers value for masking. An empty substitution means
// DefaultMask. Empty values are ignored since they would match
// everywhere. Re-registering a value replaces its substitution.
func (r *Redactor) AddSecret(value, substitution string) {
	if value == "" {
		return
	}
	if substitution == "" {
		substitution = DefaultMask
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[value] = substitution
	r.replacer = nil
}

// Redact returns text with every registered secret masked. When two
// secrets overlap the longer one wins.
func (r *Redactor) Redact(text string) string {
	replacer := r.currentReplacer()
	if replacer == nil {
		return text
	}
	return replacer.Replace(text)
}

// Secrets returns the number of registered secrets.
func (r *Redactor) Secrets() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.secrets)
}

// ConsumeLine redacts line and forwards it.
func (r *Redactor) ConsumeLine(line string) {
	redacted := r.Redact(line)
	r.deliver.Lock()
	defer r.deliver.Unlock()
	r.next.ConsumeLine(redacted)
}

func (r *Redactor) currentReplacer() *strings.Replacer {
	r.mu.RLock()
	replacer := r.replacer
	count := len(r.secrets)
	r.mu.RUnlock()
	if replacer != nil || count == 0 {
		return replacer
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replacer != nil {
		return r.replacer
	}
	values := make([]string, 0, len(r.secrets))
	for value := range r.secrets {
		values = append(values, value)
	}
	// strings.Replacer tries old strings in argument order at each
	// position, so longest first.
	sort.Slice(values, func(i, j int) bool {
		if len(values[i]) != len(values[j]) {
			return len(values[i]) > len(values[j])
		}
		return values[i] < values[j]
	})
	pairs := make([]string, 0, 2*len(values))
	for _, value := range values {
		pairs = append(pairs, value, r.secrets[value])
	}
	r.replacer = strings.NewReplacer(pairs...)
	return r.replacer
}
