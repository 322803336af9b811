// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time for testability.
type Clock interface {
	// Now returns the current time. Real clocks include a monotonic
	// reading, so durations between two Now values are immune to
	// wall-clock steps.
	Now() time.Time
}

// Since returns the time elapsed since t according to c.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
