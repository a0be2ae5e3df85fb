// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/buildagent/lib/schema/build"
)

// summaryLine is the final line of the build console.
func summaryLine(result outcome) string {
	text := fmt.Sprintf("Build %s in %s", strings.ToLower(string(result.result)), result.elapsed.Round(time.Millisecond))
	switch result.artifacts {
	case 0:
		return text
	case 1:
		return text + " (1 artifact)"
	default:
		return fmt.Sprintf("%s (%d artifacts)", text, result.artifacts)
	}
}

func resultStyle(result build.JobResult) lipgloss.Style {
	color := lipgloss.Color("2")
	switch result {
	case build.Failed:
		color = lipgloss.Color("1")
	case build.Cancelled:
		color = lipgloss.Color("3")
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

// printSummary writes the summary line, colored by result when styled.
func printSummary(output io.Writer, result outcome, styled bool) {
	line := summaryLine(result)
	if styled {
		line = resultStyle(result.result).Render(line)
	}
	fmt.Fprintln(output, line)
}
