// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// upload is one local file and where it goes in the repository.
type upload struct {
	file string
	dest string
	size int64
}

// executeUploadArtifact uploads every match of the src glob. A matched
// directory uploads its files under dest/<directory name>/.
func executeUploadArtifact(s *Session, command *build.Command) bool {
	if s.artifacts == nil {
		console.Printf(s.out, "No artifact repository is configured for this agent")
		return false
	}
	src, found := s.requireArg(command, "src")
	if !found {
		return false
	}
	dest := command.Args.Value("dest")
	dir := s.workingDir(command)

	matches, err := filepath.Glob(resolvePath(dir, src))
	if err != nil {
		console.Printf(s.out, "Invalid artifact rule [%s]: %v", src, err)
		return false
	}
	if len(matches) == 0 {
		if command.Args.Bool("ignoreUnmatchError") {
			return true
		}
		console.Printf(s.out, "The rule [%s] cannot match any resource under [%s]", src, dir)
		return false
	}

	var uploads []upload
	for _, match := range matches {
		collected, err := collectUploads(match, dest)
		if err != nil {
			console.Printf(s.out, "Could not read %s: %v", match, err)
			return false
		}
		uploads = append(uploads, collected...)
	}
	return s.uploadAll(uploads)
}

// collectUploads expands one glob match into file uploads.
func collectUploads(match, dest string) ([]upload, error) {
	info, err := os.Stat(match)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []upload{{file: match, dest: path.Join(dest, filepath.Base(match)), size: info.Size()}}, nil
	}

	base := filepath.Dir(match)
	var uploads []upload
	err = filepath.WalkDir(match, func(file string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		entryInfo, err := entry.Info()
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(base, file)
		if err != nil {
			return err
		}
		uploads = append(uploads, upload{
			file: file,
			dest: path.Join(dest, filepath.ToSlash(relative)),
			size: entryInfo.Size(),
		})
		return nil
	})
	return uploads, err
}

// uploadAll uploads with bounded parallelism. Every upload is
// attempted; the step fails if any of them failed.
func (s *Session) uploadAll(uploads []upload) bool {
	sort.Slice(uploads, func(i, j int) bool { return uploads[i].file < uploads[j].file })
	ctx := s.commandContext()

	var group errgroup.Group
	group.SetLimit(s.uploadParallelism)
	failed := make([]bool, len(uploads))
	var total int64
	for index, item := range uploads {
		total += item.size
		group.Go(func() error {
			console.Printf(s.out, "Uploading artifact %s (%s) to [%s]", item.file, humanize.IBytes(uint64(item.size)), item.dest)
			if err := s.artifacts.Upload(ctx, item.file, item.dest); err != nil {
				console.Printf(s.out, "Failed to upload %s: %v", item.file, err)
				failed[index] = true
			}
			return nil
		})
	}
	_ = group.Wait()

	failures := 0
	for _, itemFailed := range failed {
		if itemFailed {
			failures++
		}
	}
	if failures > 0 {
		console.Printf(s.out, "%s of %s failed to upload", describeCount(failures, "artifact"), describeCount(len(uploads), "artifact"))
		return false
	}
	s.logger.Info("artifacts uploaded", "count", len(uploads), "bytes", total)
	return true
}

// executeGenerateTestReport uploads every report file found under the
// srcs (files or directories, relative to the working directory) to
// uploadPath.
func executeGenerateTestReport(s *Session, command *build.Command) bool {
	if s.artifacts == nil {
		console.Printf(s.out, "No artifact repository is configured for this agent")
		return false
	}
	srcs, ok := s.listArg(command, "srcs")
	if !ok {
		return false
	}
	uploadPath := command.Args.Value("uploadPath")
	dir := s.workingDir(command)

	var uploads []upload
	for _, src := range srcs {
		matches, err := filepath.Glob(resolvePath(dir, src))
		if err != nil {
			console.Printf(s.out, "Invalid test report path [%s]: %v", src, err)
			return false
		}
		for _, match := range matches {
			collected, err := collectUploads(match, "")
			if err != nil {
				console.Printf(s.out, "Could not read %s: %v", match, err)
				return false
			}
			for _, item := range collected {
				item.dest = path.Join(uploadPath, path.Base(item.dest))
				uploads = append(uploads, item)
			}
		}
	}
	if len(uploads) == 0 {
		console.Printf(s.out, "[WARN] No test reports found under %v", srcs)
		return true
	}
	return s.uploadAll(uploads)
}
