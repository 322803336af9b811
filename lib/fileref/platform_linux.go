// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fileref

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func statTimes(stat *unix.Stat_t) (mtime, ctime int64) {
	return stat.Mtim.Sec, stat.Ctim.Sec
}

// dataExtents returns the data ranges of the file, skipping holes.
// Filesystems without hole tracking report the whole file as data.
func dataExtents(fd int, size int64) ([]extent, error) {
	var extents []extent
	var offset int64
	for offset < size {
		start, err := unix.Seek(fd, offset, unix.SEEK_DATA)
		if errors.Is(err, unix.ENXIO) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("seeking data at offset %d: %w", offset, err)
		}
		if start >= size {
			break
		}
		end, err := unix.Seek(fd, start, unix.SEEK_HOLE)
		if err != nil {
			return nil, fmt.Errorf("seeking hole at offset %d: %w", start, err)
		}
		end = min(end, size)
		extents = append(extents, extent{start: start, end: end})
		offset = end
	}
	return extents, nil
}
