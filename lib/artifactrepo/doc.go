// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifactrepo is a local artifact repository for build
// outputs. It backs the uploadArtifact, generateTestReport and
// generateProperty commands when the agent keeps artifacts on its own
// disk instead of sending them to a server.
//
// Layout under the repository root:
//
//	objects/<2 hex>/<64 hex>   content, named by its BLAKE3 keyed hash
//	manifest.cbor              destination paths, objects, properties
//	tmp/                       staging for atomic writes
//
// Identical content uploaded to several destinations is stored once.
// Objects are compressed with zstd when the content looks like text
// and with LZ4 when a sample shows binary content still compresses;
// the choice is recorded per object in the manifest. The manifest is
// rewritten atomically after every change.
package artifactrepo
