// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/mmapcache/lib/blobref"
	"github.com/bureau-foundation/mmapcache/lib/clock"
	"github.com/bureau-foundation/mmapcache/lib/codec"
	"github.com/bureau-foundation/mmapcache/lib/config"
	"github.com/bureau-foundation/mmapcache/lib/contentstore"
	"github.com/bureau-foundation/mmapcache/lib/fileref"
	"github.com/bureau-foundation/mmapcache/lib/reactor"
	"github.com/bureau-foundation/mmapcache/lib/service"
	"github.com/bureau-foundation/mmapcache/lib/testutil"
)

const testChunkSize = 32 * 1024

// startService runs a cache service on a fresh socket and returns a
// client for it.
func startService(t *testing.T, modify ...func(*config.Config)) *service.Client {
	t.Helper()

	cfg := config.Default()
	cfg.SocketPath = filepath.Join(testutil.SocketDir(t), "mmapcache.sock")
	for _, fn := range modify {
		fn(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc, err := newCacheService(cfg, clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), logger)
	if err != nil {
		t.Fatalf("newCacheService: %v", err)
	}

	server := service.NewSocketServer(cfg.SocketPath, logger)
	svc.registerActions(server)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return after cancellation")
		svc.shutdown()
	})

	for {
		if _, err := os.Stat(cfg.SocketPath); err == nil {
			break
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s never appeared", cfg.SocketPath)
		}
		runtime.Gosched()
	}
	return service.NewClient(cfg.SocketPath)
}

// writeTestFile writes size bytes of patterned content and returns
// the path and the content.
func writeTestFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 253)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path, content
}

func addFile(t *testing.T, client *service.Client, path string, tags ...string) {
	t.Helper()
	err := client.Call(t.Context(), "mmap-add", map[string]any{
		"path":      path,
		"chunksize": testChunkSize,
		"tags":      tags,
	}, nil)
	if err != nil {
		t.Fatalf("mmap-add %s: %v", path, err)
	}
}

func listBlobrefs(t *testing.T, client *service.Client, tags ...string) []string {
	t.Helper()
	var all []string
	err := client.Stream(t.Context(), "mmap-list", map[string]any{"blobref": true, "tags": tags}, func(data codec.RawMessage) error {
		var frame struct {
			Files []string `cbor:"files"`
		}
		if err := codec.Unmarshal(data, &frame); err != nil {
			return err
		}
		if len(frame.Files) == 0 {
			t.Error("received an empty list frame")
		}
		all = append(all, frame.Files...)
		return nil
	})
	if err != nil {
		t.Fatalf("mmap-list: %v", err)
	}
	return all
}

func listFilerefs(t *testing.T, client *service.Client, pattern string, tags ...string) []fileref.Fileref {
	t.Helper()
	var all []fileref.Fileref
	fields := map[string]any{"tags": tags}
	if pattern != "" {
		fields["pattern"] = pattern
	}
	err := client.Stream(t.Context(), "mmap-list", fields, func(data codec.RawMessage) error {
		var frame struct {
			Files []fileref.Fileref `cbor:"files"`
		}
		if err := codec.Unmarshal(data, &frame); err != nil {
			return err
		}
		all = append(all, frame.Files...)
		return nil
	})
	if err != nil {
		t.Fatalf("mmap-list: %v", err)
	}
	return all
}

func TestAddListRemove(t *testing.T) {
	client := startService(t)
	path, content := writeTestFile(t, "data.bin", 100*1024)

	addFile(t, client, path, "t1")

	filerefs := listFilerefs(t, client, "", "t1")
	if len(filerefs) != 1 {
		t.Fatalf("listed %d filerefs, want 1", len(filerefs))
	}
	if filerefs[0].Path != path {
		t.Errorf("fileref path = %q, want %q", filerefs[0].Path, path)
	}
	// ceil(100K / 32K) = 4 chunks.
	if len(filerefs[0].Blobvec) != 4 {
		t.Errorf("fileref has %d chunks, want 4", len(filerefs[0].Blobvec))
	}

	// A blobref listing names each file once, by its metadata.
	encoded, err := fileref.Encode(&filerefs[0])
	if err != nil {
		t.Fatalf("encoding fileref: %v", err)
	}
	blobrefs := listBlobrefs(t, client, "t1")
	if len(blobrefs) != 1 || blobrefs[0] != blobref.SHA1.Hash(encoded) {
		t.Fatalf("listed blobrefs %v, want [%s]", blobrefs, blobref.SHA1.Hash(encoded))
	}
	if got := loadBlob(t, client, blobrefs[0]); !bytes.Equal(got, encoded) {
		t.Error("metadata blob differs from the listed fileref")
	}
	for _, chunk := range filerefs[0].Blobvec {
		if got := loadBlob(t, client, chunk.Blobref); !bytes.Equal(got, content[chunk.Offset:chunk.Offset+chunk.Size]) {
			t.Errorf("chunk at %d: content mismatch", chunk.Offset)
		}
	}

	if err := client.Call(t.Context(), "mmap-remove", map[string]any{"tags": []string{"t1"}}, nil); err != nil {
		t.Fatalf("mmap-remove: %v", err)
	}
	if remaining := listBlobrefs(t, client, "t1"); len(remaining) != 0 {
		t.Errorf("listed %d blobrefs after remove, want 0", len(remaining))
	}
	err = client.Call(t.Context(), "content-load", map[string]any{"blobref": blobrefs[0]}, nil)
	if err == nil || !strings.Contains(err.Error(), "blob not found") {
		t.Errorf("content-load after remove: error = %v, want not found", err)
	}
}

// loadBlob fetches one blob uncompressed.
func loadBlob(t *testing.T, client *service.Client, ref string) []byte {
	t.Helper()
	var response struct {
		Data []byte `cbor:"data"`
	}
	if err := client.Call(t.Context(), "content-load", map[string]any{"blobref": ref, "compression": "none"}, &response); err != nil {
		t.Fatalf("content-load %s: %v", ref, err)
	}
	return response.Data
}

func TestListPattern(t *testing.T) {
	client := startService(t)
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
		addFile(t, client, filepath.Join(dir, name), "files")
	}

	matched := listFilerefs(t, client, "*.txt", "files")
	if len(matched) != 2 {
		t.Fatalf("pattern matched %d files, want 2", len(matched))
	}
	for _, ref := range matched {
		if !strings.HasSuffix(ref.Path, ".txt") {
			t.Errorf("unexpected match %q", ref.Path)
		}
	}
}

func TestListRequiresStream(t *testing.T) {
	client := startService(t)
	path, _ := writeTestFile(t, "data.bin", 1024)
	addFile(t, client, path, "t1")

	err := client.Call(t.Context(), "mmap-list", map[string]any{"tags": []string{"t1"}}, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if !strings.Contains(serviceErr.Message, "protocol error") {
		t.Errorf("error = %q, want a protocol error", serviceErr.Message)
	}
}

func TestAddErrors(t *testing.T) {
	client := startService(t)
	path, _ := writeTestFile(t, "data.bin", 1024)

	tests := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{"missing path", map[string]any{"tags": []string{"t"}}, "path is required"},
		{"no tags", map[string]any{"path": path}, "protocol error"},
		{"empty tag", map[string]any{"path": path, "tags": []string{""}}, "protocol error"},
		{"missing file", map[string]any{"path": path + ".missing", "tags": []string{"t"}}, "no such file"},
		{"negative chunk size", map[string]any{"path": path, "chunksize": -1, "tags": []string{"t"}}, "must not be negative"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := client.Call(t.Context(), "mmap-add", test.fields, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want it to contain %q", err, test.want)
			}
		})
	}
}

func TestHandOff(t *testing.T) {
	mapFile := func(t *testing.T) *fileref.File {
		t.Helper()
		path, _ := writeTestFile(t, "data.bin", 4096)
		file, err := fileref.Create(path, "", blobref.SHA1, 0)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		t.Cleanup(func() { file.Close() })
		return file
	}

	t.Run("taken", func(t *testing.T) {
		loop := reactor.New(nil)
		t.Cleanup(loop.Close)
		file := mapFile(t)
		taken := false
		if err := handOff(t.Context(), loop, file, func() { taken = true }); err != nil {
			t.Fatalf("handOff: %v", err)
		}
		if !taken || file.Data() == nil {
			t.Errorf("taken = %v, mapped = %v; want both true", taken, file.Data() != nil)
		}
	})

	t.Run("panic after start keeps mapping", func(t *testing.T) {
		loop := reactor.New(nil)
		t.Cleanup(loop.Close)
		file := mapFile(t)
		err := handOff(t.Context(), loop, file, func() { panic("region half built") })
		if err == nil || !strings.Contains(err.Error(), "region half built") {
			t.Fatalf("handOff error = %v, want the panic", err)
		}
		if file.Data() == nil {
			t.Error("mapping released after take started")
		}
	})

	t.Run("closed loop releases mapping", func(t *testing.T) {
		loop := reactor.New(nil)
		loop.Close()
		file := mapFile(t)
		err := handOff(t.Context(), loop, file, func() { t.Error("take ran on a closed loop") })
		if !errors.Is(err, reactor.ErrClosed) {
			t.Fatalf("handOff error = %v, want ErrClosed", err)
		}
		if file.Data() != nil {
			t.Error("mapping not released")
		}
	})

	t.Run("cancelled context releases mapping", func(t *testing.T) {
		loop := reactor.New(nil)
		t.Cleanup(loop.Close)
		file := mapFile(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := handOff(ctx, loop, file, func() { t.Error("take ran after cancellation") })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("handOff error = %v, want context.Canceled", err)
		}
		if file.Data() != nil {
			t.Error("mapping not released")
		}
	})
}

func TestPlacement(t *testing.T) {
	client := startService(t, func(cfg *config.Config) { cfg.Rank = 1 })
	path, _ := writeTestFile(t, "data.bin", 1024)

	for _, call := range []struct {
		action string
		fields map[string]any
	}{
		{"mmap-add", map[string]any{"path": path, "tags": []string{"t"}}},
		{"mmap-remove", map[string]any{"tags": []string{"t"}}},
	} {
		err := client.Call(t.Context(), call.action, call.fields, nil)
		if err == nil || !strings.Contains(err.Error(), "content may only be mmapped on rank 0") {
			t.Errorf("%s: error = %v, want placement error", call.action, err)
		}
	}

	err := client.Stream(t.Context(), "mmap-list", map[string]any{"tags": []string{"t"}}, func(codec.RawMessage) error {
		t.Error("unexpected list frame")
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "rank 0") {
		t.Errorf("mmap-list: error = %v, want placement error", err)
	}
}

func TestContentLoad(t *testing.T) {
	client := startService(t)
	path, content := writeTestFile(t, "data.bin", 100*1024)
	addFile(t, client, path, "t1")

	filerefs := listFilerefs(t, client, "", "t1")
	if len(filerefs) != 1 {
		t.Fatalf("listed %d filerefs, want 1", len(filerefs))
	}

	for _, requested := range []string{"", "none", "lz4", "zstd", "auto"} {
		t.Run("compression="+requested, func(t *testing.T) {
			for _, chunk := range filerefs[0].Blobvec {
				var response struct {
					Data        []byte `cbor:"data"`
					Compression string `cbor:"compression"`
					Size        int    `cbor:"size"`
				}
				err := client.Call(t.Context(), "content-load", map[string]any{
					"blobref":     chunk.Blobref,
					"compression": requested,
				}, &response)
				if err != nil {
					t.Fatalf("content-load %s: %v", chunk.Blobref, err)
				}
				compression, err := contentstore.ParseCompression(response.Compression)
				if err != nil {
					t.Fatalf("response compression: %v", err)
				}
				data, err := contentstore.Decompress(response.Data, compression, response.Size)
				if err != nil {
					t.Fatalf("decompress: %v", err)
				}
				want := content[chunk.Offset : chunk.Offset+chunk.Size]
				if !bytes.Equal(data, want) {
					t.Errorf("chunk at %d: content mismatch", chunk.Offset)
				}
			}
		})
	}
}

func TestContentLoadErrors(t *testing.T) {
	client := startService(t)

	err := client.Call(t.Context(), "content-load", map[string]any{
		"blobref": "sha1-0000000000000000000000000000000000000000",
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "blob not found") {
		t.Errorf("unknown blob: error = %v, want not found", err)
	}

	err = client.Call(t.Context(), "content-load", map[string]any{
		"blobref":     "sha1-0000000000000000000000000000000000000000",
		"compression": "brotli",
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "protocol error") {
		t.Errorf("bad compression: error = %v, want protocol error", err)
	}
}

func TestStats(t *testing.T) {
	client := startService(t)
	path, _ := writeTestFile(t, "data.bin", 100*1024)
	addFile(t, client, path, "t1", "t2")

	var stats statsResponse
	if err := client.Call(t.Context(), "mmap-stats", nil, &stats); err != nil {
		t.Fatalf("mmap-stats: %v", err)
	}
	if stats.Tags != 2 || stats.Regions != 1 || stats.Entries != 5 {
		t.Errorf("stats = %+v, want 2 tags, 1 region, 5 entries", stats)
	}
	if stats.MappedBytes != 100*1024 {
		t.Errorf("mapped bytes = %d, want %d", stats.MappedBytes, 100*1024)
	}
}
