// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentstore serves blobs out of the region cache the way a
// content store consumer must: look the digest up, take a region
// reference, validate the bytes, copy them out, and release the
// reference. [Compress] and [Decompress] encode blobs for transfer.
package contentstore
