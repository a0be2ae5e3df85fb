// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildsession

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/buildagent/lib/console"
	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

func executeMkdirs(s *Session, command *build.Command) bool {
	path, found := s.requireArg(command, "path")
	if !found {
		return false
	}
	dir := resolvePath(s.workingDir(command), path)
	if _, err := os.Stat(dir); err == nil {
		console.Printf(s.out, "Failed to create directory %s: it already exists", dir)
		return false
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		console.Printf(s.out, "Failed to create directory %s: %v", dir, err)
		return false
	}
	return true
}

// executeCleanDir deletes everything under path except the allowed
// entries (relative to path) and the directories leading to them.
func executeCleanDir(s *Session, command *build.Command) bool {
	path, found := s.requireArg(command, "path")
	if !found {
		return false
	}
	allowed, ok := s.listArg(command, "allowed")
	if !ok {
		return false
	}
	root := resolvePath(s.workingDir(command), path)

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil || !info.IsDir() {
		console.Printf(s.out, "Cannot clean %s: not a directory", root)
		return false
	}

	keep := make(map[string]bool, len(allowed))
	ancestors := make(map[string]bool)
	for _, entry := range allowed {
		cleaned := filepath.Clean(strings.TrimPrefix(filepath.ToSlash(entry), "/"))
		if cleaned == "." || strings.HasPrefix(cleaned, "..") {
			continue
		}
		keep[cleaned] = true
		for parent := filepath.Dir(cleaned); parent != "."; parent = filepath.Dir(parent) {
			ancestors[parent] = true
		}
	}

	if err := cleanTree(root, "", keep, ancestors); err != nil {
		console.Printf(s.out, "Failed to clean %s: %v", root, err)
		return false
	}
	return true
}

func cleanTree(dir, relative string, keep, ancestors map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := filepath.Join(relative, entry.Name())
		full := filepath.Join(dir, entry.Name())
		switch {
		case keep[name]:
			continue
		case ancestors[name] && entry.IsDir():
			if err := cleanTree(full, name, keep, ancestors); err != nil {
				return err
			}
		default:
			if err := os.RemoveAll(full); err != nil {
				return err
			}
		}
	}
	return nil
}
