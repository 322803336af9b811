// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitCoder is implemented by errors that carry their own exit code
// and whose message has already been reported.
type exitCoder interface {
	ExitCode() int
}

// Fatal reports err and exits. An error carrying an ExitCode exits
// with that code silently; anything else is written to stderr as
// "error: err" and exits 1.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err as Fatal would and returns the exit code.
func report(w io.Writer, err error) int {
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
