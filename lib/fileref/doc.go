// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fileref turns a path into a file metadata object (a
// "fileref") plus a read-only memory mapping of the file's bytes.
//
// A fileref describes one file: its display path, type, permissions,
// timestamps, and for regular files an ordered chunk table ("blobvec")
// of (offset, size, blobref) triples covering every data extent. Holes
// in sparse files are skipped. Directories and symlinks carry no data.
//
// [Create] maps the file with mmap(2) and hashes every chunk straight
// out of the mapping; the mapping is handed to the caller inside a
// [File], which owns it until Close. The mapping is MAP_SHARED and
// read-only, so later writes to the file by other processes show
// through. Consumers must revalidate before trusting mapped bytes (see
// lib/mmapcache).
//
// Touching a mapping whose file was truncated raises SIGBUS. [SafeSum]
// and [SafeCopy] read mapped memory with the runtime's panic-on-fault
// mode enabled and convert such a fault into an error.
package fileref
