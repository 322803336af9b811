// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fileref

import (
	"fmt"
	"runtime/debug"

	"github.com/bureau-foundation/mmapcache/lib/blobref"
)

// SafeSum hashes data, which may be mapped memory. A page fault (the
// file was truncated underneath the mapping) is returned as an error
// instead of crashing the process.
func SafeSum(algorithm *blobref.Algorithm, data []byte) (digest []byte, err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			digest = nil
			err = fmt.Errorf("page fault reading mapped data: %v", r)
		}
	}()
	return algorithm.Sum(data), nil
}

// SafeCopy copies src, which may be mapped memory, into dst with the
// same fault protection as SafeSum.
func SafeCopy(dst, src []byte) (copied int, err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			copied = 0
			err = fmt.Errorf("page fault reading mapped data: %v", r)
		}
	}()
	return copy(dst, src), nil
}
