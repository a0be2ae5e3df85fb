// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process spawns, tracks, and terminates the OS processes a
// build runs, and provides binary entrypoint helpers.
//
// [Manager] is the registry of live build processes. CreateProcess
// merges the layered [Environment] (system < context < override),
// substitutes ${NAME} references in the argument vector, and starts the
// process in its own process group. Output is decoded from the
// configured charset and delivered line by line to a console consumer.
// Each live process is represented by a [Wrapper], registered by pid
// until it exits or is reported killed.
//
// [Wrapper.KillTree] stops the whole process group plus any descendant
// that left the group (found by walking /proc), kills them all, and
// returns only once the direct child has been reaped. Exit is detected
// with waitid(WNOWAIT) before the child is reaped, so a kill never
// targets a recycled pid.
//
// [Fatal] is the entrypoint error handler for main() when the
// structured logger may not be initialized yet.
package process
