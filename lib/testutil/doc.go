// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes (sun_path), a limit
// that t.TempDir() under a deep TMPDIR can exceed.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so that tests never block forever on a channel. They
// are the only place tests use real wall-clock timeouts.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
