// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/mmapcache/lib/clock"
	"github.com/bureau-foundation/mmapcache/lib/codec"
	"github.com/bureau-foundation/mmapcache/lib/contentstore"
	"github.com/bureau-foundation/mmapcache/lib/fileref"
	"github.com/bureau-foundation/mmapcache/lib/mmapcache"
	"github.com/bureau-foundation/mmapcache/lib/reactor"
	"github.com/bureau-foundation/mmapcache/lib/service"
)

// cacheService binds the region cache to the socket protocol. The
// manager is only touched inside loop.Do; handlers do their file I/O
// and response encoding on their own goroutines.
type cacheService struct {
	loop      *reactor.Loop
	manager   *mmapcache.Manager
	store     *contentstore.Store
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger
}

// registerActions registers all socket API actions on the server.
func (s *cacheService) registerActions(server *service.SocketServer) {
	server.Handle("mmap-add", s.handleAdd)
	server.Handle("mmap-remove", s.handleRemove)
	server.HandleStream("mmap-list", s.handleList)
	server.Handle("mmap-stats", s.handleStats)
	server.Handle("content-load", s.handleLoad)
}

// --- Request types ---
//
// The "action" field is handled by the socket server and is not
// included here.

type addRequest struct {
	Path      string   `cbor:"path"`
	Fullpath  string   `cbor:"fullpath,omitempty"`
	ChunkSize int      `cbor:"chunksize"`
	Tags      []string `cbor:"tags"`
}

type removeRequest struct {
	Tags []string `cbor:"tags"`
}

type listRequest struct {
	Blobref bool     `cbor:"blobref"`
	Tags    []string `cbor:"tags"`
	Pattern string   `cbor:"pattern,omitempty"`
	Stream  bool     `cbor:"stream"`
}

type loadRequest struct {
	Blobref     string `cbor:"blobref"`
	Compression string `cbor:"compression,omitempty"`
}

// --- Response types ---

// listFrame is one mmap-list data frame. Files holds blobref strings
// or filerefs, depending on the request.
type listFrame struct {
	Files any `cbor:"files"`
}

type statsResponse struct {
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	Tags          int     `cbor:"tags"`
	Regions       int     `cbor:"regions"`
	Entries       int     `cbor:"entries"`
	MappedBytes   int64   `cbor:"mapped_bytes"`
}

type loadResponse struct {
	Data        []byte `cbor:"data"`
	Compression string `cbor:"compression"`
	Size        int    `cbor:"size"`
}

// decodeRequest decodes raw into request, reporting failures as
// protocol errors.
func decodeRequest(raw []byte, request any) error {
	if err := codec.Unmarshal(raw, request); err != nil {
		return fmt.Errorf("%w: %v", mmapcache.ErrProtocol, err)
	}
	return nil
}

// handleAdd reads, hashes, and maps the file off the loop, then hands
// the mapping to the manager on the loop.
func (s *cacheService) handleAdd(ctx context.Context, raw []byte) (any, error) {
	var request addRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.Path == "" {
		return nil, fmt.Errorf("%w: path is required", mmapcache.ErrProtocol)
	}
	if err := mmapcache.ValidateTags(request.Tags); err != nil {
		return nil, err
	}
	// Placement depends only on construction-time options.
	if err := s.manager.CheckPlacement(); err != nil {
		return nil, err
	}

	started := s.clock.Now()
	file, err := fileref.Create(request.Path, request.Fullpath, s.manager.Algorithm(), request.ChunkSize)
	if err != nil {
		return nil, err
	}

	var blobref string
	var addErr error
	if err := handOff(ctx, s.loop, file, func() {
		blobref, addErr = s.manager.Add(file, request.Tags)
	}); err != nil {
		return nil, err
	}
	if addErr != nil {
		return nil, addErr
	}

	s.logger.Info("file mapped",
		"request_id", service.RequestID(ctx),
		"path", request.Path,
		"blobref", blobref,
		"tags", request.Tags,
		"duration", s.clock.Now().Sub(started),
	)
	return nil, nil
}

// handOff runs take on the loop. take owns file from the moment it
// starts, so file is closed here only if the loop never ran it. After
// a panic in take the mapping may already be referenced by a region
// and is left alone.
func handOff(ctx context.Context, loop *reactor.Loop, file *fileref.File, take func()) error {
	ran := false
	err := loop.Do(ctx, func() {
		ran = true
		take()
	})
	if err != nil && !ran {
		file.Close()
	}
	return err
}

func (s *cacheService) handleRemove(ctx context.Context, raw []byte) (any, error) {
	var request removeRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}

	var removeErr error
	if err := s.loop.Do(ctx, func() {
		removeErr = s.manager.Remove(request.Tags)
	}); err != nil {
		return nil, err
	}
	if removeErr != nil {
		return nil, removeErr
	}
	s.logger.Info("tags unmapped", "request_id", service.RequestID(ctx), "tags", request.Tags)
	return nil, nil
}

// handleList gathers the listing on the loop, then writes it. A
// failed write or a cancelled context stops the remaining frames; the
// server then sends no end marker.
func (s *cacheService) handleList(ctx context.Context, raw []byte, stream *service.Stream) error {
	var request listRequest
	if err := decodeRequest(raw, &request); err != nil {
		return err
	}

	var batches []mmapcache.ListBatch
	var listErr error
	if err := s.loop.Do(ctx, func() {
		listErr = s.manager.List(mmapcache.ListRequest{
			Tags:         request.Tags,
			Pattern:      request.Pattern,
			BlobrefsOnly: request.Blobref,
			Streaming:    request.Stream,
		}, func(batch mmapcache.ListBatch) error {
			batches = append(batches, batch)
			return nil
		})
	}); err != nil {
		return err
	}
	if listErr != nil {
		return listErr
	}

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame := listFrame{Files: batch.Filerefs}
		if request.Blobref {
			frame.Files = batch.Blobrefs
		}
		if err := stream.Send(frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *cacheService) handleStats(ctx context.Context, raw []byte) (any, error) {
	var stats mmapcache.Stats
	if err := s.loop.Do(ctx, func() { stats = s.manager.Stats() }); err != nil {
		return nil, err
	}
	return statsResponse{
		UptimeSeconds: s.clock.Now().Sub(s.startedAt).Seconds(),
		Tags:          stats.Tags,
		Regions:       stats.Regions,
		Entries:       stats.Entries,
		MappedBytes:   stats.MappedBytes,
	}, nil
}

// handleLoad serves one blob from the mapped content.
func (s *cacheService) handleLoad(ctx context.Context, raw []byte) (any, error) {
	var request loadRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	compression, err := contentstore.ParseCompression(request.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mmapcache.ErrProtocol, err)
	}

	data, err := s.store.Load(ctx, request.Blobref)
	if err != nil {
		return nil, err
	}
	encoded, used, err := contentstore.Compress(data, compression)
	if err != nil {
		return nil, err
	}
	return loadResponse{
		Data:        encoded,
		Compression: string(used),
		Size:        len(data),
	}, nil
}
