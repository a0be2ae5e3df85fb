// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// downloadRequest is the parsed argument set shared by downloadFile and
// downloadDir.
type downloadRequest struct {
	url          string
	src          string
	dest         string
	checksumURL  string
	checksumFile string
}

func (s *Session) parseDownload(command *build.Command) (downloadRequest, bool) {
	if s.downloader == nil {
		console.Printf(s.out, "No artifact downloader is configured for this agent")
		return downloadRequest{}, false
	}
	rawURL, found := s.requireArg(command, "url")
	if !found {
		return downloadRequest{}, false
	}
	dest, found := s.requireArg(command, "dest")
	if !found {
		return downloadRequest{}, false
	}
	dir := s.workingDir(command)
	request := downloadRequest{
		url:         rawURL,
		src:         command.Args.Value("src"),
		dest:        resolvePath(dir, dest),
		checksumURL: command.Args.Value("checksumUrl"),
	}
	if file := command.Args.Value("checksumFile"); file != "" {
		request.checksumFile = resolvePath(dir, file)
	}
	if request.src == "" {
		request.src = path.Base(rawURL)
	}
	return request, true
}

// checksums maps artifact paths to hex MD5 digests.
type checksums map[string]string

// fetchChecksums downloads the checksum properties for request. A nil
// map with true means no checksum URL was given.
func (s *Session) fetchChecksums(ctx context.Context, request downloadRequest) (checksums, bool) {
	if request.checksumURL == "" {
		return nil, true
	}
	var content []byte
	status, err := s.downloader.Download(ctx, request.checksumURL, func(body io.Reader) error {
		var readErr error
		content, readErr = io.ReadAll(body)
		return readErr
	})
	if err != nil {
		console.Printf(s.out, "Could not fetch checksum file %s: %v", request.checksumURL, err)
		return nil, false
	}
	if status != 200 {
		console.Printf(s.out, "Could not fetch checksum file %s. Server responded with status %d", request.checksumURL, status)
		return nil, false
	}
	if request.checksumFile != "" {
		if err := os.MkdirAll(filepath.Dir(request.checksumFile), 0o755); err == nil {
			err = os.WriteFile(request.checksumFile, content, 0o644)
		}
		if err != nil {
			console.Printf(s.out, "Could not save checksum file %s: %v", request.checksumFile, err)
			return nil, false
		}
	}
	return parseChecksums(content), true
}

// parseChecksums reads "path=md5" lines. Blank lines and # comments
// are skipped.
func parseChecksums(content []byte) checksums {
	result := make(checksums)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, digest, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(name)] = strings.ToLower(strings.TrimSpace(digest))
	}
	return result
}

// verify checks actual against the expected digest for key. It returns
// whether the content may be kept and whether it was verified.
func (s *Session) verify(sums checksums, key, actual string) (keep, verified bool) {
	if sums == nil {
		return true, false
	}
	expected, ok := sums[key]
	if !ok {
		console.Printf(s.out, "[WARN] The md5checksum value of the artifact [%s] was not found on the server. Hence, the integrity of its contents could not be verified.", key)
		return true, false
	}
	if expected != actual {
		console.Printf(s.out, "Verification of the integrity of the artifact [%s] failed. The artifact file on the server may have changed since its original upload.", key)
		return false, false
	}
	return true, true
}

func (s *Session) reportSaved(dest string, verified bool) {
	if verified {
		console.Printf(s.out, "Saved artifact to [%s] after verifying the integrity of its contents.", dest)
		return
	}
	console.Printf(s.out, "[WARN] No valid checksum was found for the artifact; its integrity could not be verified.")
	console.Printf(s.out, "Saved artifact to [%s] without verifying the integrity of its contents.", dest)
}

// fetchToTemp downloads rawURL into a temporary file in dir. It
// returns the temp path (empty when the server answered 304) and the
// hex MD5 of the content.
func (s *Session) fetchToTemp(ctx context.Context, rawURL, dir string) (string, string, bool) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		console.Printf(s.out, "Could not create directory %s: %v", dir, err)
		return "", "", false
	}
	temp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		console.Printf(s.out, "Could not create a temporary file in %s: %v", dir, err)
		return "", "", false
	}
	tempPath := temp.Name()
	digest := md5.New()

	status, err := s.downloader.Download(ctx, rawURL, func(body io.Reader) error {
		_, copyErr := io.Copy(io.MultiWriter(temp, digest), body)
		return copyErr
	})
	closeErr := temp.Close()
	if err == nil && status == 200 {
		err = closeErr
	}

	switch {
	case err != nil:
		os.Remove(tempPath)
		console.Printf(s.out, "Could not fetch artifact %s: %v", rawURL, err)
		return "", "", false
	case status == 304:
		os.Remove(tempPath)
		console.Printf(s.out, "Artifact is not modified, skipped fetching it")
		return "", "", true
	case status != 200:
		os.Remove(tempPath)
		console.Printf(s.out, "Could not fetch artifact %s. Server responded with status %d", rawURL, status)
		return "", "", false
	}
	return tempPath, hex.EncodeToString(digest.Sum(nil)), true
}

// withSHA1 appends the base64 SHA-1 of an existing destination file to
// rawURL so the server can answer 304 when it is current.
func withSHA1(rawURL, dest string) (string, error) {
	file, err := os.Open(dest)
	if err != nil {
		return rawURL, nil
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return rawURL, nil
	}

	digest := sha1.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", dest, err)
	}
	encoded := url.QueryEscape(base64.StdEncoding.EncodeToString(digest.Sum(nil)))
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return rawURL + separator + "sha1=" + encoded, nil
}

func executeDownloadFile(s *Session, command *build.Command) bool {
	request, ok := s.parseDownload(command)
	if !ok {
		return false
	}
	ctx := s.commandContext()

	sums, ok := s.fetchChecksums(ctx, request)
	if !ok {
		return false
	}
	fetchURL, err := withSHA1(request.url, request.dest)
	if err != nil {
		console.Printf(s.out, "Could not fetch artifact %s: %v", request.url, err)
		return false
	}

	tempPath, actual, ok := s.fetchToTemp(ctx, fetchURL, filepath.Dir(request.dest))
	if !ok {
		return false
	}
	if tempPath == "" {
		return true
	}

	keep, verified := s.verify(sums, request.src, actual)
	if !keep {
		os.Remove(tempPath)
		return false
	}
	if err := os.Rename(tempPath, request.dest); err != nil {
		os.Remove(tempPath)
		console.Printf(s.out, "Could not save artifact to [%s]: %v", request.dest, err)
		return false
	}
	s.reportSaved(request.dest, verified)
	return true
}

// executeDownloadDir fetches a zip and extracts it under dest. Each
// entry is verified under the key <parent of src>/<entry name>.
func executeDownloadDir(s *Session, command *build.Command) bool {
	request, ok := s.parseDownload(command)
	if !ok {
		return false
	}
	ctx := s.commandContext()

	sums, ok := s.fetchChecksums(ctx, request)
	if !ok {
		return false
	}
	tempPath, _, ok := s.fetchToTemp(ctx, request.url, filepath.Dir(request.dest))
	if !ok {
		return false
	}
	if tempPath == "" {
		return true
	}
	defer os.Remove(tempPath)

	verified, ok := s.extractZip(tempPath, request, sums)
	if !ok {
		return false
	}
	s.reportSaved(request.dest, verified)
	return true
}

// extractZip unpacks archive into request.dest. It reports whether
// every entry was verified and whether extraction succeeded.
func (s *Session) extractZip(archive string, request downloadRequest, sums checksums) (bool, bool) {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		console.Printf(s.out, "Could not open downloaded archive from %s: %v", request.url, err)
		return false, false
	}
	defer reader.Close()

	parent := path.Dir(filepath.ToSlash(request.src))
	allVerified := sums != nil
	for _, entry := range reader.File {
		target := filepath.Join(request.dest, filepath.FromSlash(entry.Name))
		if !strings.HasPrefix(target, filepath.Clean(request.dest)+string(filepath.Separator)) {
			console.Printf(s.out, "Refusing to extract %s outside of [%s]", entry.Name, request.dest)
			return false, false
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				console.Printf(s.out, "Could not create directory %s: %v", target, err)
				return false, false
			}
			continue
		}

		actual, err := extractEntry(entry, target)
		if err != nil {
			console.Printf(s.out, "Could not extract %s: %v", entry.Name, err)
			return false, false
		}
		keep, verified := s.verify(sums, path.Join(parent, entry.Name), actual)
		if !keep {
			os.Remove(target)
			return false, false
		}
		allVerified = allVerified && verified
	}
	return allVerified, true
}

func extractEntry(entry *zip.File, target string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	source, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer source.Close()

	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	digest := md5.New()
	if _, err := io.Copy(io.MultiWriter(file, digest), source); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
