// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mmapcache

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/mmapcache/lib/fileref"
)

// Region is one mapped file tracked under reference counting. The
// region is destroyed, its index entries purged and its mapping
// released, when the count drops to zero.
type Region struct {
	manager *Manager
	file    *fileref.File

	encoded        []byte // canonical encoding of file.Metadata
	blobref        string // blobref of encoded
	metadataDigest []byte
	chunkDigests   [][]byte // parallel to file.Metadata.Blobvec

	refcount  int
	lastCheck time.Time
}

// newRegion wraps file in a region with a reference count of one and
// indexes every digest it introduces. It takes ownership of file: on
// error the mapping has already been released.
func newRegion(m *Manager, file *fileref.File) (*Region, error) {
	r := &Region{manager: m, file: file, refcount: 1}
	m.live++
	m.mappedBytes += int64(len(file.Data()))

	if err := r.prepare(); err != nil {
		r.Decref()
		return nil, err
	}
	if err := r.populate(); err != nil {
		r.Decref()
		return nil, fmt.Errorf("%s: error caching region blobrefs: %w", file.Metadata.Path, err)
	}
	return r, nil
}

// prepare encodes the metadata, computes the region's blobref, and
// decodes every chunk digest up front so that populate cannot fail on
// malformed input later.
func (r *Region) prepare() error {
	metadata := r.file.Metadata
	algorithm := r.manager.algorithm

	encoded, err := fileref.Encode(metadata)
	if err != nil {
		return err
	}
	r.encoded = encoded
	r.metadataDigest = algorithm.Sum(encoded)
	r.blobref = algorithm.Format(r.metadataDigest)

	mapping := r.file.Data()
	r.chunkDigests = make([][]byte, len(metadata.Blobvec))
	for i, chunk := range metadata.Blobvec {
		if chunk.Offset < 0 || chunk.Size <= 0 || chunk.Offset+chunk.Size > int64(len(mapping)) {
			return fmt.Errorf("%s: chunk %d (offset %d, size %d) lies outside the %d byte mapping",
				metadata.Path, i, chunk.Offset, chunk.Size, len(mapping))
		}
		digest, err := algorithm.Digest(chunk.Blobref)
		if err != nil {
			return fmt.Errorf("%s: chunk %d: %w", metadata.Path, i, err)
		}
		r.chunkDigests[i] = digest
	}
	return nil
}

// populate inserts the metadata digest and every chunk digest. Digests
// already indexed are left with their current owner.
func (r *Region) populate() error {
	if r.refcount == 0 {
		return fmt.Errorf("populating released region %s", r.blobref)
	}
	index := r.manager.index
	index.insert(r.metadataDigest, r, r.encoded)

	mapping := r.file.Data()
	for i, chunk := range r.file.Metadata.Blobvec {
		index.insert(r.chunkDigests[i], r, mapping[chunk.Offset:chunk.Offset+chunk.Size])
	}
	return nil
}

// purge removes every index entry this region owns and returns how
// many were removed.
func (r *Region) purge() int {
	index := r.manager.index
	removed := 0
	for _, digest := range r.chunkDigests {
		if digest != nil && index.remove(digest, r) {
			removed++
		}
	}
	if r.metadataDigest != nil && index.remove(r.metadataDigest, r) {
		removed++
	}
	return removed
}

// Incref takes a strong reference and returns r. Panics if r has
// already been released.
func (r *Region) Incref() *Region {
	if r.refcount <= 0 {
		panic("mmapcache: incref of released region " + r.blobref)
	}
	r.refcount++
	return r
}

// Decref drops a strong reference. The last Decref purges the region's
// index entries, then unmaps the file. Panics on a region that has
// already been released.
func (r *Region) Decref() {
	if r.refcount <= 0 {
		panic("mmapcache: decref of released region " + r.blobref)
	}
	r.refcount--
	if r.refcount == 0 {
		r.destroy()
	}
}

func (r *Region) destroy() {
	m := r.manager
	removed := r.purge()

	m.live--
	m.mappedBytes -= int64(len(r.file.Data()))
	if err := r.file.Close(); err != nil {
		m.logger.Warn("releasing region mapping failed",
			"path", r.file.Metadata.Path,
			"error", err,
		)
	}
	r.encoded = nil
	r.chunkDigests = nil

	// A region released outside a tag removal (the last holder was the
	// content store) can leave holes nobody else will repair.
	if removed > 0 && m.deferRepair == 0 {
		if err := m.repair(); err != nil {
			m.logger.Error("repairing index after region release failed", "error", err)
		}
	}
}

// Blobref returns the blobref of the region's encoded metadata.
func (r *Region) Blobref() string { return r.blobref }

// Metadata returns the region's fileref. The caller must not modify it.
func (r *Region) Metadata() *fileref.Fileref { return r.file.Metadata }

// Encoded returns the canonical encoding of the region's metadata. The
// caller must not modify it.
func (r *Region) Encoded() []byte { return r.encoded }

// Fullpath returns the path the region's file is checked against.
func (r *Region) Fullpath() string { return r.file.Fullpath }

// Refcount returns the number of strong references held.
func (r *Region) Refcount() int { return r.refcount }

// MappedSize returns the size of the mapping, zero if the file has no
// data chunks.
func (r *Region) MappedSize() int { return len(r.file.Data()) }
