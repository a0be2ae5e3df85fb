// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifactrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/codec"
)

const (
	objectsDir   = "objects"
	tmpDir       = "tmp"
	manifestName = "manifest.cbor"

	manifestVersion = 1
)

// ErrNotFound is returned for a destination path nothing was uploaded
// to.
var ErrNotFound = errors.New("artifact not found")

// Entry describes one uploaded artifact.
type Entry struct {
	Path        string      `cbor:"path"`
	Digest      string      `cbor:"digest"`
	Size        int64       `cbor:"size"`
	Compression Compression `cbor:"compression"`
	Uploaded    time.Time   `cbor:"uploaded"`
}

type manifest struct {
	Version    int                    `cbor:"version"`
	Entries    map[string]Entry       `cbor:"entries"`
	Objects    map[string]Compression `cbor:"objects"`
	Properties map[string]string      `cbor:"properties"`
}

// Config configures a Repository.
type Config struct {
	// Root is the repository directory. Created if missing.
	Root string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Repository stores artifacts and job properties under a directory.
// It is safe for concurrent use.
type Repository struct {
	root   string
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	manifest manifest
}

// New opens the repository at config.Root, loading its manifest if one
// exists.
func New(config Config) (*Repository, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("artifact repository root is required")
	}
	repository := &Repository{
		root:   config.Root,
		clock:  config.Clock,
		logger: config.Logger,
		manifest: manifest{
			Version:    manifestVersion,
			Entries:    make(map[string]Entry),
			Objects:    make(map[string]Compression),
			Properties: make(map[string]string),
		},
	}
	if repository.clock == nil {
		repository.clock = clock.Real()
	}
	if repository.logger == nil {
		repository.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	for _, dir := range []string{objectsDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(config.Root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact repository: %w", err)
		}
	}
	if err := repository.Clean(); err != nil {
		return nil, err
	}
	if err := repository.load(); err != nil {
		return nil, err
	}
	return repository, nil
}

func (r *Repository) load() error {
	data, err := os.ReadFile(filepath.Join(r.root, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading artifact manifest: %w", err)
	}
	var loaded manifest
	if err := codec.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("decoding artifact manifest: %w", err)
	}
	if loaded.Version != manifestVersion {
		return fmt.Errorf("artifact manifest version %d is not supported", loaded.Version)
	}
	if loaded.Entries != nil {
		r.manifest.Entries = loaded.Entries
	}
	if loaded.Objects != nil {
		r.manifest.Objects = loaded.Objects
	}
	if loaded.Properties != nil {
		r.manifest.Properties = loaded.Properties
	}
	return nil
}

// normalizeDest turns a destination into the manifest key.
func normalizeDest(destPath string) (string, error) {
	cleaned := path.Clean("/" + filepath.ToSlash(destPath))[1:]
	if cleaned == "" {
		return "", fmt.Errorf("artifact destination %q names no file", destPath)
	}
	return cleaned, nil
}

func (r *Repository) objectPath(digest string) string {
	return filepath.Join(r.root, objectsDir, digest[:2], digest)
}

// Upload stores the local file at destPath, replacing whatever was
// uploaded there before.
func (r *Repository) Upload(ctx context.Context, file, destPath string) error {
	key, err := normalizeDest(destPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	source, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer source.Close()

	digest, size, err := hashContent(contextReader{ctx: ctx, reader: source})
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	r.mu.Lock()
	compression, stored := r.manifest.Objects[digest]
	r.mu.Unlock()
	if !stored {
		compression, err = r.storeObject(ctx, source, digest)
		if err != nil {
			return fmt.Errorf("storing %s: %w", file, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifest.Objects[digest] = compression
	r.manifest.Entries[key] = Entry{
		Path:        key,
		Digest:      digest,
		Size:        size,
		Compression: compression,
		Uploaded:    r.clock.Now().UTC(),
	}
	if err := r.saveLocked(); err != nil {
		return err
	}
	r.logger.Debug("artifact stored",
		"path", key,
		"digest", digest,
		"size", size,
		"compression", compression,
		"deduplicated", stored,
	)
	return nil
}

// storeObject compresses the content of source into the object named
// digest. source is rewound first.
func (r *Repository) storeObject(ctx context.Context, source *os.File, digest string) (Compression, error) {
	sample := make([]byte, sampleSize)
	read, err := source.ReadAt(sample, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	compression := selectCompression(sample[:read])
	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	finalPath := r.objectPath(digest)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating object shard directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Join(r.root, tmpDir), "object-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp object: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := compressTo(tmpFile, contextReader{ctx: ctx, reader: source}, compression); err != nil {
		tmpFile.Close()
		return 0, err
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("closing temp object: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return 0, fmt.Errorf("renaming object to %s: %w", finalPath, err)
	}
	success = true
	return compression, nil
}

// SetProperty records a job property.
func (r *Repository) SetProperty(ctx context.Context, name, value string) error {
	if name == "" {
		return fmt.Errorf("property name is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifest.Properties[name] = value
	return r.saveLocked()
}

// saveLocked writes the manifest atomically. Caller holds r.mu.
func (r *Repository) saveLocked() error {
	data, err := codec.Marshal(r.manifest)
	if err != nil {
		return fmt.Errorf("encoding artifact manifest: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Join(r.root, tmpDir), "manifest-*.cbor")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp manifest: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(r.root, manifestName)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming manifest into place: %w", err)
	}
	return nil
}

// Stat returns the entry uploaded to destPath.
func (r *Repository) Stat(destPath string) (Entry, error) {
	key, err := normalizeDest(destPath)
	if err != nil {
		return Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.manifest.Entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return entry, nil
}

// Open returns the original content uploaded to destPath.
func (r *Repository) Open(destPath string) (io.ReadCloser, error) {
	entry, err := r.Stat(destPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(r.objectPath(entry.Digest))
	if err != nil {
		return nil, fmt.Errorf("opening object for %s: %w", entry.Path, err)
	}
	return decompressReader(file, entry.Compression)
}

// Entries returns every uploaded artifact, sorted by path.
func (r *Repository) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.manifest.Entries))
	for _, entry := range r.manifest.Entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Properties returns a copy of the recorded properties.
func (r *Repository) Properties() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]string, len(r.manifest.Properties))
	for name, value := range r.manifest.Properties {
		copied[name] = value
	}
	return copied
}

// contextReader fails reads once ctx is done so a cancelled build
// stops copying large artifacts.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (c contextReader) Read(buffer []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.reader.Read(buffer)
}

// ObjectCount returns how many distinct objects are stored.
func (r *Repository) ObjectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.manifest.Objects)
}

// isTemporary reports whether name is a staging file left by a crash.
func isTemporary(name string) bool {
	return strings.HasPrefix(name, "object-") || strings.HasPrefix(name, "manifest-")
}

// Clean removes staging files left behind by an interrupted upload.
func (r *Repository) Clean() error {
	entries, err := os.ReadDir(filepath.Join(r.root, tmpDir))
	if err != nil {
		return fmt.Errorf("listing staging directory: %w", err)
	}
	for _, entry := range entries {
		if isTemporary(entry.Name()) {
			if err := os.Remove(filepath.Join(r.root, tmpDir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
