// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobref names content by its digest.
//
// A blobref is the string "<algorithm>-<lowercase hex digest>", for
// example "sha1-5ba93c9db0cff93f52b521d7420e43f6eda2784f". The algorithm
// is chosen once per deployment (configuration key hash_algorithm) and
// bound into every component that hashes or compares digests; nothing
// in this package holds process-wide mutable state.
//
// Supported algorithms:
//
//   - sha1 (20 bytes), the default, compatible with existing content stores
//   - sha256 (32 bytes)
//   - blake3 (32 bytes), via github.com/zeebo/blake3
//   - blake2b-256 (32 bytes), via golang.org/x/crypto/blake2b
package blobref
