// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Fatal reports err on stderr as "<program>: error: err" and exits
// with code 1. Binaries call it from main for errors returned before
// the structured logger exists.
func Fatal(err error) {
	writeFatal(os.Stderr, filepath.Base(os.Args[0]), err)
	os.Exit(1)
}

func writeFatal(w io.Writer, program string, err error) {
	fmt.Fprintf(w, "%s: error: %v\n", program, err)
}
