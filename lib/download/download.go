// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package download fetches artifacts over HTTP for the build session.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bureau-foundation/buildagent/lib/version"
)

// defaultTimeout bounds a whole download, body included.
const defaultTimeout = 30 * time.Minute

// HTTPDownloader performs GET requests. The zero value is not usable;
// construct with New.
type HTTPDownloader struct {
	client *http.Client
	header http.Header
	logger *slog.Logger
}

// Option configures an HTTPDownloader.
type Option func(*HTTPDownloader)

// WithClient replaces the HTTP client.
func WithClient(client *http.Client) Option {
	return func(d *HTTPDownloader) { d.client = client }
}

// WithHeader adds a header to every request, for example an agent
// authorization token.
func WithHeader(name, value string) Option {
	return func(d *HTTPDownloader) { d.header.Add(name, value) }
}

// New returns a downloader. A nil logger discards records.
func New(logger *slog.Logger, options ...Option) *HTTPDownloader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	downloader := &HTTPDownloader{
		client: &http.Client{Timeout: defaultTimeout},
		header: make(http.Header),
		logger: logger,
	}
	for _, option := range options {
		option(downloader)
	}
	return downloader
}

// Download fetches url and returns the response status. The handler is
// called with the body only for 200; any other status is returned
// without reading the body. An error is returned when the request
// fails or the handler fails.
func (d *HTTPDownloader) Download(ctx context.Context, url string, handler func(io.Reader) error) (int, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building request for %s: %w", url, err)
	}
	for name, values := range d.header {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
	request.Header.Set("User-Agent", version.UserAgent())

	started := time.Now()
	response, err := d.client.Do(request)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer response.Body.Close()

	d.logger.Debug("download response",
		"url", url,
		"status", response.StatusCode,
		"duration", time.Since(started),
	)
	if response.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, response.Body, 4096)
		return response.StatusCode, nil
	}
	if err := handler(response.Body); err != nil {
		return response.StatusCode, fmt.Errorf("reading %s: %w", url, err)
	}
	return response.StatusCode, nil
}
