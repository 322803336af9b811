// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/mmapcache/lib/fileref"
	"github.com/bureau-foundation/mmapcache/lib/mmapcache"
	"github.com/bureau-foundation/mmapcache/lib/reactor"
)

var (
	// ErrNotFound means no mapped region holds the requested blob.
	ErrNotFound = errors.New("blob not found")

	// ErrIntegrity means the blob was found but its bytes no longer
	// hash to the requested blobref: the backing file was modified
	// or truncated after it was mapped.
	ErrIntegrity = errors.New("mapped content failed validation")
)

// Store loads blobs out of the region cache. All cache access happens
// on the loop that owns the manager.
type Store struct {
	loop    *reactor.Loop
	manager *mmapcache.Manager
	logger  *slog.Logger
}

// New creates a store reading from manager, which must only be used
// on loop.
func New(loop *reactor.Loop, manager *mmapcache.Manager, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{loop: loop, manager: manager, logger: logger}
}

// Load returns a private copy of the blob named by blobref.
//
// The region holding the blob is referenced for the duration of the
// copy, which runs off the loop, so a concurrent removal of the
// region's tags cannot unmap the bytes being read.
func (s *Store) Load(ctx context.Context, ref string) ([]byte, error) {
	digest, err := s.manager.Algorithm().Digest(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, ref, err)
	}

	var region *mmapcache.Region
	var data []byte
	var lookupErr error
	err = s.loop.Do(ctx, func() {
		found, blob, ok := s.manager.Lookup(digest)
		if !ok {
			lookupErr = fmt.Errorf("%w: %s", ErrNotFound, ref)
			return
		}
		found.Incref()
		if !s.manager.Validate(found, digest, blob) {
			found.Decref()
			lookupErr = fmt.Errorf("%w: %s in %s", ErrIntegrity, ref, found.Fullpath())
			return
		}
		region, data = found, blob
	})
	if err != nil {
		return nil, err
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	defer s.release(region)

	copied := make([]byte, len(data))
	if _, err := fileref.SafeCopy(copied, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIntegrity, ref, err)
	}
	return copied, nil
}

// release drops a reference taken by Load. It runs even if the
// request's context has been cancelled.
func (s *Store) release(region *mmapcache.Region) {
	if err := s.loop.Do(context.Background(), region.Decref); err != nil {
		s.logger.Warn("releasing region reference failed",
			"blobref", region.Blobref(),
			"error", err,
		)
	}
}
