// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time source used by the region cache's
// validation rate limiter. Production code injects [Real]; tests inject
// [Fake] and move time forward explicitly with [FakeClock.Advance], so
// "more than five seconds since the last stat" is a deterministic
// condition rather than a sleep.
//
// Only Now is abstracted. The cache never sleeps or schedules timers;
// it compares the current time against a region's last check.
package clock
