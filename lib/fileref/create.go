// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package fileref

import (
	"fmt"
	"math"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/mmapcache/lib/blobref"
)

// File is a fileref together with the read-only mapping its chunk
// table points into. The mapping is released by Close.
type File struct {
	Metadata *Fileref

	// Fullpath is the absolute path used for later stat(2) checks.
	Fullpath string

	data []byte // mmap'd MAP_SHARED, PROT_READ; nil when there are no chunks
}

// Data returns the mapped bytes, or nil if the file has no data
// chunks. The slice is only valid until Close.
func (f *File) Data() []byte { return f.data }

// Close unmaps the file's data. Safe to call more than once.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	err := unix.Munmap(f.data)
	f.data = nil
	if err != nil {
		return fmt.Errorf("unmapping %s: %w", f.Fullpath, err)
	}
	return nil
}

// Create builds the fileref for the file at fullpath and maps its
// data. displayPath is recorded as the fileref's path; if fullpath is
// empty, the absolute form of displayPath is used.
//
// chunkSize splits each data extent into chunks of at most chunkSize
// bytes. Zero means one chunk per extent. Every chunk is hashed with
// algorithm.
func Create(displayPath, fullpath string, algorithm *blobref.Algorithm, chunkSize int) (*File, error) {
	if displayPath == "" {
		return nil, fmt.Errorf("path is required")
	}
	if chunkSize < 0 {
		return nil, fmt.Errorf("%s: chunk size must not be negative, got %d", displayPath, chunkSize)
	}
	if fullpath == "" {
		absolute, err := filepath.Abs(displayPath)
		if err != nil {
			return nil, fmt.Errorf("%s: resolving path: %w", displayPath, err)
		}
		fullpath = absolute
	}

	var stat unix.Stat_t
	if err := unix.Lstat(fullpath, &stat); err != nil {
		return nil, fmt.Errorf("%s: %w", fullpath, err)
	}

	file := &File{
		Metadata: &Fileref{Version: Version, Path: displayPath},
		Fullpath: fullpath,
	}

	switch uint32(stat.Mode) & unix.S_IFMT {
	case unix.S_IFDIR:
		file.Metadata.Type = TypeDir
		fillStat(file.Metadata, &stat)
		return file, nil

	case unix.S_IFLNK:
		target, err := readlink(fullpath)
		if err != nil {
			return nil, err
		}
		file.Metadata.Type = TypeSymlink
		file.Metadata.Target = target
		fillStat(file.Metadata, &stat)
		return file, nil

	case unix.S_IFREG:
		file.Metadata.Type = TypeFile
		if err := file.mapRegular(algorithm, chunkSize); err != nil {
			return nil, err
		}
		return file, nil

	default:
		return nil, fmt.Errorf("%s: unsupported file type (mode %#o)", fullpath, stat.Mode)
	}
}

// mapRegular maps a regular file and fills in its chunk table. On
// error no mapping is left behind.
func (f *File) mapRegular(algorithm *blobref.Algorithm, chunkSize int) error {
	fd, err := unix.Open(f.Fullpath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Fullpath, err)
	}
	// The mapping outlives the descriptor.
	defer unix.Close(fd)

	// Take size and times from the open file, not the earlier lstat:
	// the mapping must match what is actually open.
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return fmt.Errorf("%s: %w", f.Fullpath, err)
	}
	fillStat(f.Metadata, &stat)

	size := stat.Size
	if size == 0 {
		return nil
	}
	if size > math.MaxInt {
		return fmt.Errorf("%s: %d bytes is too large to map", f.Fullpath, size)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%s: mmap: %w", f.Fullpath, err)
	}

	extents, err := dataExtents(fd, size)
	if err != nil {
		unix.Munmap(data)
		return fmt.Errorf("%s: %w", f.Fullpath, err)
	}

	blobvec, err := chunkExtents(data, extents, chunkSize, algorithm)
	if err != nil {
		unix.Munmap(data)
		return fmt.Errorf("%s: %w", f.Fullpath, err)
	}

	if len(blobvec) == 0 {
		// Entirely sparse: nothing will ever point into the mapping.
		unix.Munmap(data)
		return nil
	}
	f.Metadata.Blobvec = blobvec
	f.data = data
	return nil
}

// extent is a half-open byte range [start, end) containing data.
type extent struct {
	start int64
	end   int64
}

func chunkExtents(data []byte, extents []extent, chunkSize int, algorithm *blobref.Algorithm) ([]BlobChunk, error) {
	var blobvec []BlobChunk
	for _, span := range extents {
		step := int64(chunkSize)
		if step == 0 {
			step = span.end - span.start
		}
		for offset := span.start; offset < span.end; offset += step {
			length := min(step, span.end-offset)
			digest, err := SafeSum(algorithm, data[offset:offset+length])
			if err != nil {
				return nil, fmt.Errorf("hashing chunk at offset %d: %w", offset, err)
			}
			blobvec = append(blobvec, BlobChunk{
				Offset:  offset,
				Size:    length,
				Blobref: algorithm.Format(digest),
			})
		}
	}
	return blobvec, nil
}

func fillStat(f *Fileref, stat *unix.Stat_t) {
	f.Mode = uint32(stat.Mode)
	f.Mtime, f.Ctime = statTimes(stat)
	if f.Type != TypeDir {
		f.Size = stat.Size
	}
}

func readlink(path string) (string, error) {
	buffer := make([]byte, 256)
	for {
		n, err := unix.Readlink(path, buffer)
		if err != nil {
			return "", fmt.Errorf("%s: readlink: %w", path, err)
		}
		if n < len(buffer) {
			return string(buffer[:n]), nil
		}
		buffer = make([]byte, len(buffer)*2)
	}
}
