// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the Unix socket transport shared by the
// region cache service and its clients.
//
// The protocol is CBOR, one request per connection. A request is a
// CBOR map with an "action" field plus action-specific fields. A
// response is a [Response] envelope: {ok, error?, data?}. Streaming
// actions (registered with [SocketServer.HandleStream]) answer with
// any number of {ok: true, data} frames followed by exactly one
// terminal frame, either {ok: true, end: true} or {ok: false, error}.
// Clients mark streaming requests with "stream": true; [Client.Stream]
// does this automatically.
//
// [NewLogger] builds the JSON slog logger every service binary uses.
package service
