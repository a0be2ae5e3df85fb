// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// descendants returns the pids of every transitive child of root, read
// from the /proc tree at procRoot. Processes that disappear during the
// scan are skipped.
func descendants(procRoot string, root int) []int {
	children := make(map[int][]int)
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		parent, ok := readParentPID(filepath.Join(procRoot, entry.Name(), "stat"))
		if !ok {
			continue
		}
		children[parent] = append(children[parent], pid)
	}

	var result []int
	queue := []int{root}
	seen := map[int]bool{root: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			if seen[child] {
				continue
			}
			seen[child] = true
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	return result
}

// readParentPID parses the ppid field of /proc/<pid>/stat. The command
// name in field 2 is parenthesized and may itself contain spaces or
// parentheses, so parsing starts after the last ')'.
func readParentPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	text := string(data)
	closing := strings.LastIndexByte(text, ')')
	if closing < 0 {
		return 0, false
	}
	// Fields after the name: state ppid pgrp ...
	fields := strings.Fields(text[closing+1:])
	if len(fields) < 2 {
		return 0, false
	}
	parent, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return parent, true
}
