// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifactrepo

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how an object is stored. The values are
// persisted in manifests.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// sampleSize is how much of a file selectCompression looks at.
const sampleSize = 64 << 10

// sampleEncoder is shared; zstd.Encoder.EncodeAll is safe for
// concurrent use.
var sampleEncoder *zstd.Encoder

func init() {
	var err error
	sampleEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("artifactrepo: zstd encoder initialization failed: " + err.Error())
	}
}

// selectCompression picks zstd for text-like content, LZ4 for binary
// content that still shrinks by at least 10%, and nothing otherwise
// (archives, images, already compressed output).
func selectCompression(sample []byte) Compression {
	if len(sample) == 0 {
		return CompressionNone
	}
	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") ||
		strings.Contains(contentType, "json") ||
		strings.Contains(contentType, "xml") {
		return CompressionZstd
	}

	compressed := sampleEncoder.EncodeAll(sample, nil)
	if float64(len(sample))/float64(len(compressed)) >= 1.1 {
		return CompressionLZ4
	}
	return CompressionNone
}

// compressTo copies src to dst with compression c.
func compressTo(dst io.Writer, src io.Reader, c Compression) error {
	switch c {
	case CompressionNone:
		_, err := io.Copy(dst, src)
		return err

	case CompressionZstd:
		encoder, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		if _, err := io.Copy(encoder, src); err != nil {
			encoder.Close()
			return fmt.Errorf("zstd compress: %w", err)
		}
		return encoder.Close()

	case CompressionLZ4:
		writer := lz4.NewWriter(dst)
		if _, err := io.Copy(writer, src); err != nil {
			writer.Close()
			return fmt.Errorf("lz4 compress: %w", err)
		}
		return writer.Close()

	default:
		return fmt.Errorf("unsupported compression %s", c)
	}
}

// decompressReader wraps r so that reads return the original content.
// Closing the result closes r.
func decompressReader(r io.ReadCloser, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return r, nil

	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &stackedCloser{Reader: decoder, closers: []func() error{
			func() error { decoder.Close(); return nil },
			r.Close,
		}}, nil

	case CompressionLZ4:
		return &stackedCloser{Reader: lz4.NewReader(r), closers: []func() error{r.Close}}, nil

	default:
		r.Close()
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

// stackedCloser closes a decoder and then the file underneath it.
type stackedCloser struct {
	io.Reader
	closers []func() error
}

func (s *stackedCloser) Close() error {
	var first error
	for _, closer := range s.closers {
		if err := closer(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
