// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/bureau-foundation/buildagent/lib/console"
)

// outputWriter returns the writer one output stream is copied into,
// decoding from charset when set.
func (w *Wrapper) outputWriter(charset encoding.Encoding) io.Writer {
	lines := console.NewLineWriter(console.ConsumerFunc(w.consumeLine))
	stream := &outputStream{lines: lines}
	if charset != nil {
		stream.decoder = transform.NewWriter(lines, charset.NewDecoder())
	}
	w.streams = append(w.streams, stream)
	return stream
}

// outputStream is one of stdout or stderr.
type outputStream struct {
	lines   *console.LineWriter
	decoder *transform.Writer
}

func (s *outputStream) Write(data []byte) (int, error) {
	if s.decoder != nil {
		return s.decoder.Write(data)
	}
	return s.lines.Write(data)
}

// flush delivers anything still buffered once the stream has ended.
func (s *outputStream) flush() {
	if s.decoder != nil {
		_ = s.decoder.Close()
	}
	s.lines.Flush()
}
