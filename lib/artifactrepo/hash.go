// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifactrepo

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// objectDomainKey keys the BLAKE3 hash of stored objects. Changing it
// renames every object in existing repositories.
var objectDomainKey = [32]byte{
	'b', 'u', 'i', 'l', 'd', 'a', 'g', 'e', 'n', 't', '.', 'o', 'b', 'j', 'e', 'c',
	't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// hashContent returns the hex object digest of everything read from r
// and the number of bytes read.
func hashContent(r io.Reader) (string, int64, error) {
	hasher, err := blake3.NewKeyed(objectDomainKey[:])
	if err != nil {
		panic("artifactrepo: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	size, err := io.Copy(hasher, r)
	if err != nil {
		return "", 0, fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
