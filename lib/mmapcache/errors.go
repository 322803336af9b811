// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mmapcache

import "errors"

var (
	// ErrProtocol marks a malformed request: missing or empty tags, a
	// bad glob pattern, or a list request that cannot stream.
	ErrProtocol = errors.New("protocol error")

	// ErrInvalid marks a request made on a node that may not hold
	// mappings.
	ErrInvalid = errors.New("invalid request")

	// ErrRepair marks a failure to restore index entries after a
	// removal. The removal itself has taken effect; some blobs may no
	// longer be servable.
	ErrRepair = errors.New("error filling missing cache entries after unmap")
)
