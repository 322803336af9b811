// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Mmapcache-service maps files into memory and serves their content
// by blobref over a CBOR Unix socket.
//
// Actions:
//
//	mmap-add      {path, fullpath, chunksize, tags}  map a file under tags
//	mmap-remove   {tags}                             release tags
//	mmap-list     {blobref, tags, pattern, stream}   stream mapped files
//	mmap-stats    {}                                 counters
//	content-load  {blobref, compression}             read one blob
//
// Only the designated rank accepts mmap-add, mmap-remove, and
// mmap-list. Configuration comes from --config, then
// $MMAPCACHE_CONFIG, then built-in defaults; flags override both.
package main
