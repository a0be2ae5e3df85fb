// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations the build engine depends
// on: process start and last-activity timestamps, idle-time lookups,
// and the bounded wait in a cancellation request.
//
// Production code injects [Real]. Tests inject [Fake] and move time
// forward explicitly with [FakeClock.Advance], so idle-time assertions
// do not depend on scheduler timing.
package clock
