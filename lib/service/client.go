// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/mmapcache/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. It covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response (or
// the next stream frame) after writing the request. Adding a large
// file hashes it before replying, so this is generous.
const responseReadTimeout = 5 * time.Minute

// maxResponseSize is the maximum size of a single CBOR response.
// content-load responses carry whole chunks.
const maxResponseSize = 256 * 1024 * 1024

// ServiceError is returned when the server responds with ok=false. It
// wraps the server's error message and the action that failed.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// Client sends CBOR requests to a service socket. Each Call or Stream
// opens a new connection, matching the server's one-request-per-
// connection model.
type Client struct {
	socketPath string
}

// NewClient creates a client for the socket at socketPath. No
// connection is made until the first request.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the socket the client connects to.
func (c *Client) SocketPath() string { return c.socketPath }

// Call sends a request and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" automatically. Pass nil for actions
// that take no additional parameters.
//
// On success, if result is non-nil and the response contains data,
// the data is CBOR-decoded into result. On failure (ok=false), returns
// a *ServiceError. Connection and encoding errors are returned as
// plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.open(ctx, buildRequest(action, fields, false))
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q on %s: reading response: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// Stream sends a streaming request (the client adds "stream": true)
// and calls frame with the data of each frame until the server sends
// the end marker. An error frame ends the stream with a
// *ServiceError. If frame returns an error, the connection is closed
// and that error is returned.
func (c *Client) Stream(ctx context.Context, action string, fields map[string]any, frame func(data codec.RawMessage) error) error {
	conn, err := c.open(ctx, buildRequest(action, fields, true))
	if err != nil {
		return fmt.Errorf("streaming %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	// Close the connection if the context ends so a blocked read
	// returns.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	decoder := codec.NewDecoder(conn)
	for frames := 0; ; frames++ {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
		var response Response
		if err := decoder.Decode(&response); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return fmt.Errorf("streaming %q on %s: connection closed after %d frames without end marker", action, c.socketPath, frames)
			}
			return fmt.Errorf("streaming %q on %s: reading frame %d: %w", action, c.socketPath, frames, err)
		}
		if !response.OK {
			return &ServiceError{Action: action, Message: response.Error}
		}
		if response.End {
			return nil
		}
		if err := frame(response.Data); err != nil {
			return err
		}
	}
}

// buildRequest copies the caller's fields and adds "action", plus
// "stream" for streaming requests.
func buildRequest(action string, fields map[string]any, stream bool) map[string]any {
	request := make(map[string]any, len(fields)+2)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	if stream {
		request["stream"] = true
	}
	return request
}

// open connects to the socket and writes the request.
func (c *Client) open(ctx context.Context, request any) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read side sees EOF
	// cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}
	return conn, nil
}
