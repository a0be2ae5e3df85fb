// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	if got := Info(); !strings.HasPrefix(got, Version+" (") {
		t.Errorf("Info() = %q, want prefix %q", got, Version+" (")
	}
	if got := Full(); !strings.Contains(got, "Go: ") {
		t.Errorf("Full() = %q, missing Go version", got)
	}
	if got := UserAgent(); !strings.HasPrefix(got, "buildagent/"+Version) {
		t.Errorf("UserAgent() = %q", got)
	}
}
