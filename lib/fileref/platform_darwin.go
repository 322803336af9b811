// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fileref

import "golang.org/x/sys/unix"

func statTimes(stat *unix.Stat_t) (mtime, ctime int64) {
	return stat.Mtimespec.Sec, stat.Ctimespec.Sec
}

// dataExtents treats the whole file as data. Sparse files are mapped
// and hashed in full.
func dataExtents(fd int, size int64) ([]extent, error) {
	return []extent{{start: 0, end: size}}, nil
}
