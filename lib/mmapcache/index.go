// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mmapcache

// cacheEntry points at the bytes of one blob inside a region: a slice
// of the mapping, or the region's encoded metadata. Entries do not
// hold a reference; a region purges its entries before it is released.
type cacheEntry struct {
	region *Region
	data   []byte
}

// hashIndex maps raw digests to cache entries. Keys are the digest
// bytes converted to string, so lookups do not allocate.
type hashIndex struct {
	entries map[string]cacheEntry
}

func newHashIndex() *hashIndex {
	return &hashIndex{entries: make(map[string]cacheEntry)}
}

// insert adds an entry unless the digest is already indexed. Any
// indexed copy of the same content is as good as another, so the
// existing owner is kept.
func (x *hashIndex) insert(digest []byte, region *Region, data []byte) bool {
	if _, exists := x.entries[string(digest)]; exists {
		return false
	}
	x.entries[string(digest)] = cacheEntry{region: region, data: data}
	return true
}

// remove deletes the entry for digest only if region owns it.
func (x *hashIndex) remove(digest []byte, region *Region) bool {
	entry, exists := x.entries[string(digest)]
	if !exists || entry.region != region {
		return false
	}
	delete(x.entries, string(digest))
	return true
}

func (x *hashIndex) lookup(digest []byte) (cacheEntry, bool) {
	entry, exists := x.entries[string(digest)]
	return entry, exists
}

func (x *hashIndex) len() int { return len(x.entries) }
