// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR encoding configuration for the
// mmap cache.
//
// Two things depend on byte-for-byte reproducible encoding:
//
//   - File metadata objects. A region's metadata is encoded once and its
//     blobref is the digest of those bytes, so the same file must always
//     encode to the same bytes on any node.
//   - The socket protocol between the service and its clients.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For sockets:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only ever travel as CBOR use `cbor` struct tags. Types that
// are also printed as JSON by the CLI use `json` tags, which
// fxamacker/cbor reads as a fallback. Never put both on one field.
package codec
