// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mmapcache

import (
	"bytes"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/mmapcache/lib/fileref"
)

// Validate reports whether data, obtained from Lookup on region, still
// hashes to digest. Callers must not read data unless Validate returns
// true.
//
// Encoded metadata is held in process memory and always validates.
// For mapped data, the backing file is re-stated at most once per
// check interval and rejected if it shrank below the mapping, then the
// bytes are rehashed. A truncation between the stat and the rehash
// faults inside the hash; that fault is recovered and reported as
// false.
func (m *Manager) Validate(region *Region, digest, data []byte) bool {
	if region == nil || region.refcount <= 0 {
		return false
	}
	if sameSlice(data, region.encoded) {
		return true
	}
	mapping := region.file.Data()
	if !within(data, mapping) {
		return false
	}

	now := m.clock.Now()
	if now.Sub(region.lastCheck) > m.checkInterval {
		var stat unix.Stat_t
		if err := unix.Stat(region.file.Fullpath, &stat); err != nil {
			m.logger.Warn("stat of mapped file failed",
				"path", region.file.Fullpath,
				"error", err,
			)
			return false
		}
		if stat.Size < int64(len(mapping)) {
			m.logger.Warn("mapped file shrank",
				"path", region.file.Fullpath,
				"size", stat.Size,
				"mapped", len(mapping),
			)
			return false
		}
		region.lastCheck = now
	}

	computed, err := fileref.SafeSum(m.algorithm, data)
	if err != nil {
		m.logger.Warn("rehash of mapped data faulted",
			"path", region.file.Fullpath,
			"error", err,
		)
		return false
	}
	return bytes.Equal(computed, digest)
}

// sameSlice reports whether a and b are the same bytes in memory.
func sameSlice(a, b []byte) bool {
	return len(a) == len(b) && len(a) > 0 && unsafe.SliceData(a) == unsafe.SliceData(b)
}

// within reports whether data lies entirely inside mapping.
func within(data, mapping []byte) bool {
	if len(mapping) == 0 {
		return false
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(mapping)))
	end := start + uintptr(len(mapping))
	if len(data) == 0 {
		return false
	}
	first := uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	return first >= start && first+uintptr(len(data)) <= end
}
