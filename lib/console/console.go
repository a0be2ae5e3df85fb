// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Consumer receives console output one line at a time, without the
// trailing newline. Implementations must be safe for concurrent use:
// a process delivers stdout and stderr lines from separate goroutines.
type Consumer interface {
	ConsumeLine(line string)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(line string)

// ConsumeLine calls f(line).
func (f ConsumerFunc) ConsumeLine(line string) { f(line) }

// Discard drops every line.
var Discard Consumer = ConsumerFunc(func(string) {})

// Printf formats a message and delivers each of its lines to consumer.
func Printf(consumer Consumer, format string, args ...any) {
	WriteText(consumer, fmt.Sprintf(format, args...))
}

// WriteText delivers text to consumer split on newlines. A single
// trailing newline does not produce an empty final line.
func WriteText(consumer Consumer, text string) {
	text = strings.TrimSuffix(text, "\n")
	for _, line := range strings.Split(text, "\n") {
		consumer.ConsumeLine(strings.TrimSuffix(line, "\r"))
	}
}

// Multi fans each line out to every consumer in order.
func Multi(consumers ...Consumer) Consumer {
	return multi(append([]Consumer(nil), consumers...))
}

type multi []Consumer

func (m multi) ConsumeLine(line string) {
	for _, consumer := range m {
		consumer.ConsumeLine(line)
	}
}

// Writer writes each line followed by a newline to an io.Writer.
type Writer struct {
	mu     sync.Mutex
	writer io.Writer
	prefix string
}

// NewWriter returns a Consumer writing to w, prefixing each line.
func NewWriter(w io.Writer, prefix string) *Writer {
	return &Writer{writer: w, prefix: prefix}
}

// ConsumeLine writes prefix, line and a newline. Write errors are
// dropped: console output is best effort once the build is running.
func (w *Writer) ConsumeLine(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = io.WriteString(w.writer, w.prefix+line+"\n")
}

// LineWriter is an io.Writer that splits written bytes into lines and
// hands each complete line to a Consumer. Call Flush after the last
// Write to deliver a final unterminated line.
type LineWriter struct {
	mu       sync.Mutex
	consumer Consumer
	pending  []byte
}

// NewLineWriter returns a LineWriter delivering to consumer.
func NewLineWriter(consumer Consumer) *LineWriter {
	return &LineWriter{consumer: consumer}
}

// Write buffers data and emits every complete line. It never fails.
func (w *LineWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, data...)
	for {
		index := bytes.IndexByte(w.pending, '\n')
		if index < 0 {
			break
		}
		line := w.pending[:index]
		w.consumer.ConsumeLine(string(bytes.TrimSuffix(line, []byte("\r"))))
		w.pending = w.pending[index+1:]
	}
	if len(w.pending) == 0 {
		w.pending = nil
	}
	return len(data), nil
}

// Flush delivers any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.consumer.ConsumeLine(string(bytes.TrimSuffix(w.pending, []byte("\r"))))
		w.pending = nil
	}
}

// Memory records every line it receives.
type Memory struct {
	mu      sync.Mutex
	lines   []string
	changed chan struct{}
}

// NewMemory returns an empty Memory console.
func NewMemory() *Memory {
	return &Memory{changed: make(chan struct{})}
}

// ConsumeLine records line and wakes any waiters.
func (m *Memory) ConsumeLine(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
	close(m.changed)
	m.changed = make(chan struct{})
}

// Lines returns a copy of the recorded lines.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// Output returns the recorded lines joined with newlines.
func (m *Memory) Output() string {
	return strings.Join(m.Lines(), "\n")
}

// Contains reports whether any recorded line contains substring.
func (m *Memory) Contains(substring string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containsLocked(substring)
}

func (m *Memory) containsLocked(substring string) bool {
	for _, line := range m.lines {
		if strings.Contains(line, substring) {
			return true
		}
	}
	return false
}

// WaitFor blocks until a line containing substring has been recorded
// or ctx is done. Reports whether the line was seen.
func (m *Memory) WaitFor(ctx context.Context, substring string) bool {
	for {
		m.mu.Lock()
		if m.containsLocked(substring) {
			m.mu.Unlock()
			return true
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}
