// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mmapcache

import (
	"fmt"

	"github.com/bureau-foundation/mmapcache/lib/fileref"
)

// ListRequest selects regions to list.
type ListRequest struct {
	// Tags are walked in order; at least one is required.
	Tags []string

	// Pattern is a glob matched against each region's path. Empty
	// matches every path.
	Pattern string

	// BlobrefsOnly lists metadata blobrefs instead of full filerefs.
	BlobrefsOnly bool

	// Streaming must be true: a listing is delivered as a sequence of
	// batches followed by an end marker, which only a streaming
	// request can receive.
	Streaming bool
}

// ListBatch is one message of a listing. Exactly one field is set.
type ListBatch struct {
	Blobrefs []string
	Filerefs []*fileref.Fileref
}

// Len returns the number of entries in the batch.
func (b ListBatch) Len() int {
	return len(b.Blobrefs) + len(b.Filerefs)
}

// List walks the requested tags and passes matching regions to emit in
// batches. Each region appears at most once per call, even when it is
// listed under several requested tags. An empty batch is never
// emitted. If emit returns an error, List stops and returns it.
//
// The caller is responsible for the end-of-stream marker; List
// returning nil means the listing is complete, including the case
// where nothing matched.
func (m *Manager) List(request ListRequest, emit func(ListBatch) error) error {
	if !request.Streaming {
		return fmt.Errorf("%w: listing requires a streaming request", ErrProtocol)
	}
	tags, err := validateTags(request.Tags)
	if err != nil {
		return err
	}
	if err := m.CheckPlacement(); err != nil {
		return err
	}
	pattern, err := fileref.CompilePattern(request.Pattern)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	limit := m.maxFilerefs
	if request.BlobrefsOnly {
		limit = m.maxBlobrefs
	}

	var batch ListBatch
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		out := batch
		batch = ListBatch{}
		return emit(out)
	}

	seen := make(map[string]struct{})
	for _, tag := range tags {
		for _, region := range m.tags.regions(tag) {
			if _, duplicate := seen[region.blobref]; duplicate {
				continue
			}
			seen[region.blobref] = struct{}{}

			metadata := region.Metadata()
			if !pattern.Match(metadata) {
				continue
			}
			if request.BlobrefsOnly {
				batch.Blobrefs = append(batch.Blobrefs, region.blobref)
			} else {
				batch.Filerefs = append(batch.Filerefs, metadata)
			}
			if batch.Len() >= limit {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}
