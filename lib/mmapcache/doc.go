// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mmapcache serves content-addressed blobs straight out of
// memory-mapped files on the designated node.
//
// Each mapped file is a [Region]: the mapping, the file's metadata
// object (a fileref), the canonical encoding of that metadata and its
// blobref, and a reference count. Regions are grouped under caller
// chosen tags. A tag holds a strong reference to every region listed
// under it; removing a tag drops those references, and a region is
// unmapped the moment its count reaches zero.
//
// The [Manager] keeps a digest index over every blob reachable from a
// live region: each chunk of each mapped file, and each region's
// encoded metadata. The content store calls [Manager.Lookup] on its own
// miss. A hit returns the owning region and a slice of the mapping. The
// caller must then:
//
//  1. Incref the region before giving up control, and Decref it
//     exactly once when it no longer holds the slice.
//  2. Call [Manager.Validate] before trusting the bytes.
//
// # Duplicate digests and hole repair
//
// The same content can appear in many files. The first region to
// insert a digest owns its index entry; later regions with the same
// content do not replace it. When a region is destroyed it removes
// only entries it owns, which can leave a hole: content still present
// in another live region is no longer indexed. Removing tags is a bulk
// operation, so after any removal the manager walks every remaining
// region and re-inserts its digests. Mapping and lookup stay cheap;
// unmapping pays for a full scan.
//
// First-writer-wins is a known limitation for files that share content
// but have different lifetimes: lookups keep resolving to the older
// region until it is destroyed.
//
// # Validation
//
// A mapped file can still be written or truncated by other processes.
// Validate rehashes the requested range on every access and, at most
// once per check interval (5s by default), stats the file to make sure
// it has not shrunk below the mapped size. Reading a truncated mapping
// raises SIGBUS; the rehash runs with panic-on-fault enabled so a
// truncation inside the check interval fails validation instead of
// killing the process. This narrows the time-of-check/time-of-use
// window but does not close it.
//
// # Threading
//
// A Manager is not safe for concurrent use and has no locks. All
// methods, and Incref/Decref on its regions, must run on a single
// logical thread (see lib/reactor).
package mmapcache
