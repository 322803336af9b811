// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/mmapcache/lib/codec"
)

// ActionFunc processes a socket request for a specific action. The raw
// parameter is the full CBOR request (including the "action" field).
// The handler decodes action-specific fields from this raw message.
//
// Return a value to include in the success response, or an error for
// a failure response. If the returned value is nil, the response
// contains only {ok: true}. If non-nil, the value is marshaled as
// CBOR and placed in the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc processes a request whose response is a sequence of
// frames. Each value passed to the Stream is sent as
// {ok: true, data: <value>}. When the handler returns nil the server
// writes the end marker {ok: true, end: true}; when it returns an
// error the server writes {ok: false, error: "..."} instead. Either
// way the stream is over.
type StreamFunc func(ctx context.Context, raw []byte, stream *Stream) error

// Response is the wire-format envelope for all socket protocol
// responses and stream frames.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`

	// End marks the last frame of a successful stream. It carries no
	// data.
	End bool `cbor:"end,omitempty"`
}

// SocketServer serves a CBOR request-response protocol on a Unix
// socket. Each connection handles exactly one request: the client
// writes a CBOR value, the server processes it and writes one CBOR
// response (or, for stream actions, a sequence of frames), then the
// connection closes.
//
// Actions are registered with Handle or HandleStream before calling
// Serve. Unknown actions receive an error response.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	streams    map[string]StreamFunc
	logger     *slog.Logger

	// activeConnections tracks in-flight request handlers for graceful
	// shutdown. Serve waits for all active connections to complete
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
	}
}

// Handle registers a request-response handler for action. Panics if
// the action is already registered.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.checkDuplicate(action)
	s.handlers[action] = handler
}

// HandleStream registers a streaming handler for action. Panics if
// the action is already registered.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	s.checkDuplicate(action)
	s.streams[action] = handler
}

func (s *SocketServer) checkDuplicate(action string) {
	_, handled := s.handlers[action]
	_, streamed := s.streams[action]
	if handled || streamed {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
}

// Serve starts accepting connections on the Unix socket and dispatches
// requests to registered action handlers. Blocks until ctx is
// cancelled, then stops accepting new connections and waits for active
// handlers to complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
const readTimeout = 30 * time.Second

// writeTimeout bounds each response write, including each stream
// frame.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request. Tag
// lists are the largest requests.
const maxRequestSize = 1024 * 1024

type requestIDKey struct{}

// RequestID returns the ID the server assigned to the request whose
// handler received ctx, or "" outside a handler.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// handleConnection processes one request.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	requestID := uuid.NewString()
	ctx = context.WithValue(ctx, requestIDKey{}, requestID)
	logger := s.logger.With("request_id", requestID)

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting so no framing protocol is needed.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if handler, exists := s.streams[header.Action]; exists {
		s.serveStream(ctx, conn, header.Action, handler, raw, logger)
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		logger.Debug("action failed",
			"action", header.Action,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}

	s.writeSuccess(conn, result)
}

// serveStream runs a stream handler and writes its terminal frame. A
// failed frame write cancels the handler's context.
func (s *SocketServer) serveStream(ctx context.Context, conn net.Conn, action string, handler StreamFunc, raw []byte, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream := &Stream{conn: conn, encoder: codec.NewEncoder(conn), cancel: cancel}

	err := handler(ctx, raw, stream)
	if stream.failed != nil {
		logger.Debug("stream write failed",
			"action", action,
			"frames", stream.frames,
			"error", stream.failed,
		)
		return
	}
	if err != nil {
		logger.Debug("stream action failed",
			"action", action,
			"frames", stream.frames,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}
	if err := stream.write(Response{OK: true, End: true}); err != nil {
		logger.Debug("failed to write stream end", "action", action, "error", err)
	}
}

// Stream sends the data frames of a streaming response.
type Stream struct {
	conn    net.Conn
	encoder *codec.Encoder
	cancel  context.CancelFunc
	frames  int
	failed  error
}

// Send writes value as one {ok: true, data: value} frame. After a
// write error every later Send returns the same error and the
// handler's context is cancelled.
func (s *Stream) Send(value any) error {
	if s.failed != nil {
		return s.failed
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling stream frame: %w", err)
	}
	if err := s.write(Response{OK: true, Data: data}); err != nil {
		return err
	}
	s.frames++
	return nil
}

func (s *Stream) write(response Response) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.encoder.Encode(response); err != nil {
		s.failed = fmt.Errorf("writing stream frame: %w", err)
		s.cancel()
		return s.failed
	}
	return nil
}

// writeError sends a failure response: {ok: false, error: "..."}.
// Write failures are logged at debug level; the connection is closing
// regardless.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends a success response. If result is nil, the
// response is {ok: true}. If non-nil, the value is marshaled as CBOR
// and placed in the "data" field: {ok: true, data: <cbor>}.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
