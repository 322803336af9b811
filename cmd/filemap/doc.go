// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Filemap maps files into the region cache service and reads them
// back.
//
//	filemap map [--tags T] [--chunksize N] [-C DIR] PATH...
//	filemap unmap [--tags T]
//	filemap list [--tags T] [--long] [--json] [--blobref] [PATTERN]
//	filemap get [--tags T] [-C DIR] [--compression C] [PATTERN]
//
// The service socket comes from --socket, then the config file named
// by --config or $MMAPCACHE_CONFIG, then the built-in default.
package main
