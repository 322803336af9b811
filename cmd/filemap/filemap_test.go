// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/mmapcache/cmd/filemap/cli"
	"github.com/bureau-foundation/mmapcache/lib/blobref"
	"github.com/bureau-foundation/mmapcache/lib/codec"
	"github.com/bureau-foundation/mmapcache/lib/contentstore"
	"github.com/bureau-foundation/mmapcache/lib/fileref"
	"github.com/bureau-foundation/mmapcache/lib/service"
	"github.com/bureau-foundation/mmapcache/lib/testutil"
)

// fakeCache is an in-memory stand-in for the cache service.
type fakeCache struct {
	mu       sync.Mutex
	adds     []addCall
	removed  [][]string
	filerefs []*fileref.Fileref
	blobs    map[string][]byte
}

type addCall struct {
	Path      string   `cbor:"path"`
	Fullpath  string   `cbor:"fullpath"`
	ChunkSize int      `cbor:"chunksize"`
	Tags      []string `cbor:"tags"`
}

func (f *fakeCache) register(server *service.SocketServer) {
	server.Handle("mmap-add", func(ctx context.Context, raw []byte) (any, error) {
		var call addCall
		if err := codec.Unmarshal(raw, &call); err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.adds = append(f.adds, call)
		return nil, nil
	})
	server.Handle("mmap-remove", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Tags []string `cbor:"tags"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.removed = append(f.removed, request.Tags)
		return nil, nil
	})
	server.HandleStream("mmap-list", func(ctx context.Context, raw []byte, stream *service.Stream) error {
		var request struct {
			Blobref bool   `cbor:"blobref"`
			Pattern string `cbor:"pattern"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return err
		}
		pattern, err := fileref.CompilePattern(request.Pattern)
		if err != nil {
			return err
		}
		f.mu.Lock()
		var matched []*fileref.Fileref
		var blobrefs []string
		for _, ref := range f.filerefs {
			if !pattern.Match(ref) {
				continue
			}
			matched = append(matched, ref)
			encoded, err := fileref.Encode(ref)
			if err != nil {
				f.mu.Unlock()
				return err
			}
			blobrefs = append(blobrefs, blobref.SHA1.Hash(encoded))
		}
		f.mu.Unlock()
		if len(matched) == 0 {
			return nil
		}
		if request.Blobref {
			return stream.Send(map[string]any{"files": blobrefs})
		}
		return stream.Send(map[string]any{"files": matched})
	})
	server.Handle("content-load", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Blobref     string `cbor:"blobref"`
			Compression string `cbor:"compression"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		f.mu.Lock()
		data, ok := f.blobs[request.Blobref]
		f.mu.Unlock()
		if !ok {
			return nil, contentstore.ErrNotFound
		}
		requested, err := contentstore.ParseCompression(request.Compression)
		if err != nil {
			return nil, err
		}
		encoded, used, err := contentstore.Compress(data, requested)
		if err != nil {
			return nil, err
		}
		return map[string]any{"data": encoded, "compression": string(used), "size": len(data)}, nil
	})
}

// addFile records a file fileref whose chunks are served from blobs.
func (f *fakeCache) addFile(path string, mode uint32, size int64, chunks map[int64][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := &fileref.Fileref{
		Version: fileref.Version,
		Type:    fileref.TypeFile,
		Path:    path,
		Mode:    mode,
		Size:    size,
		Mtime:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix(),
	}
	offsets := make([]int64, 0, len(chunks))
	for offset := range chunks {
		offsets = append(offsets, offset)
	}
	for len(offsets) > 0 {
		lowest := 0
		for i, offset := range offsets {
			if offset < offsets[lowest] {
				lowest = i
			}
		}
		offset := offsets[lowest]
		offsets = append(offsets[:lowest], offsets[lowest+1:]...)
		data := chunks[offset]
		ref.Blobvec = append(ref.Blobvec, fileref.BlobChunk{
			Offset:  offset,
			Size:    int64(len(data)),
			Blobref: blobref.SHA1.Hash(data),
		})
		f.blobs[blobref.SHA1.Hash(data)] = data
	}
	f.filerefs = append(f.filerefs, ref)
}

// metadataBlobref returns the blobref a listing reports for path.
func metadataBlobref(t *testing.T, f *fakeCache, path string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.filerefs {
		if ref.Path == path {
			encoded, err := fileref.Encode(ref)
			if err != nil {
				t.Fatal(err)
			}
			return blobref.SHA1.Hash(encoded)
		}
	}
	t.Fatalf("no fileref for %s", path)
	return ""
}

func (f *fakeCache) addRef(ref *fileref.Fileref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filerefs = append(f.filerefs, ref)
}

func (f *fakeCache) setBlob(ref string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[ref] = data
}

func (f *fakeCache) addCalls() []addCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]addCall(nil), f.adds...)
}

func (f *fakeCache) removeCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.removed...)
}

// startFake runs a fake cache service and returns it with a
// connection pointing at it.
func startFake(t *testing.T) (*fakeCache, connection) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "filemap.sock")
	logger := slog.New(slog.DiscardHandler)
	server := service.NewSocketServer(socketPath, logger)
	fake := &fakeCache{blobs: make(map[string][]byte)}
	fake.register(server)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve did not return after cancellation")
	})
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s never appeared", socketPath)
		}
		time.Sleep(time.Millisecond)
	}
	return fake, connection{socketPath: socketPath}
}

func newTestApplication() (*application, *bytes.Buffer) {
	var stdout bytes.Buffer
	return &application{stdout: &stdout, logger: slog.New(slog.DiscardHandler)}, &stdout
}

func mustClient(t *testing.T, conn connection) *service.Client {
	t.Helper()
	client, err := conn.client()
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func TestMapWalksDirectories(t *testing.T) {
	fake, conn := startFake(t)
	app, _ := newTestApplication()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "tree", "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"tree/a.txt", "tree/sub/b.txt", "single.bin"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	params := &mapParams{connection: conn, tags: []string{"t1"}, chunkSize: 4096, directory: root}
	if err := app.runMap(t.Context(), mustClient(t, conn), params, []string{"tree", "single.bin"}); err != nil {
		t.Fatalf("runMap: %v", err)
	}

	want := []addCall{
		{Path: "tree", Fullpath: filepath.Join(root, "tree"), ChunkSize: 4096, Tags: []string{"t1"}},
		{Path: "tree/a.txt", Fullpath: filepath.Join(root, "tree/a.txt"), ChunkSize: 4096, Tags: []string{"t1"}},
		{Path: "tree/sub", Fullpath: filepath.Join(root, "tree/sub"), ChunkSize: 4096, Tags: []string{"t1"}},
		{Path: "tree/sub/b.txt", Fullpath: filepath.Join(root, "tree/sub/b.txt"), ChunkSize: 4096, Tags: []string{"t1"}},
		{Path: "single.bin", Fullpath: filepath.Join(root, "single.bin"), ChunkSize: 4096, Tags: []string{"t1"}},
	}
	if diff := cmp.Diff(want, fake.addCalls()); diff != "" {
		t.Errorf("mmap-add calls mismatch (-want +got):\n%s", diff)
	}
}

func TestMapMissingPath(t *testing.T) {
	_, conn := startFake(t)
	app, _ := newTestApplication()

	params := &mapParams{connection: conn, tags: []string{"t1"}, directory: t.TempDir()}
	err := app.runMap(t.Context(), mustClient(t, conn), params, []string{"missing"})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("runMap(missing) = %v, want ErrNotExist", err)
	}
}

func TestList(t *testing.T) {
	fake, conn := startFake(t)
	fake.addFile("src/main.go", 0o100644, 5, map[int64][]byte{0: []byte("hello")})
	fake.addFile("README", 0o100600, 3, map[int64][]byte{0: []byte("doc")})
	client := mustClient(t, conn)

	t.Run("paths", func(t *testing.T) {
		app, stdout := newTestApplication()
		if err := app.runList(t.Context(), client, &listParams{tags: []string{"main"}}, ""); err != nil {
			t.Fatalf("runList: %v", err)
		}
		if got := stdout.String(); got != "src/main.go\nREADME\n" {
			t.Errorf("output = %q", got)
		}
	})

	t.Run("pattern", func(t *testing.T) {
		app, stdout := newTestApplication()
		if err := app.runList(t.Context(), client, &listParams{tags: []string{"main"}}, "*.go"); err != nil {
			t.Fatalf("runList: %v", err)
		}
		if got := stdout.String(); got != "src/main.go\n" {
			t.Errorf("output = %q", got)
		}
	})

	t.Run("long", func(t *testing.T) {
		app, stdout := newTestApplication()
		if err := app.runList(t.Context(), client, &listParams{tags: []string{"main"}, long: true}, "README"); err != nil {
			t.Fatalf("runList: %v", err)
		}
		fields := strings.Split(strings.TrimSuffix(stdout.String(), "\n"), "\t")
		if len(fields) != 4 || fields[0] != "-rw-------" || fields[1] != "3" || fields[3] != "README" {
			t.Errorf("long output = %q", stdout.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		app, stdout := newTestApplication()
		params := &listParams{tags: []string{"main"}, JSONOutput: cli.JSONOutput{OutputJSON: true}}
		if err := app.runList(t.Context(), client, params, ""); err != nil {
			t.Fatalf("runList: %v", err)
		}
		var decoded []fileref.Fileref
		if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
			t.Fatalf("decoding JSON output: %v", err)
		}
		if len(decoded) != 2 || decoded[0].Path != "src/main.go" || decoded[0].Blobvec[0].Size != 5 {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("blobref", func(t *testing.T) {
		app, stdout := newTestApplication()
		if err := app.runList(t.Context(), client, &listParams{tags: []string{"main"}, blobrefs: true}, ""); err != nil {
			t.Fatalf("runList: %v", err)
		}
		var want string
		for _, path := range []string{"src/main.go", "README"} {
			want += metadataBlobref(t, fake, path) + "\n"
		}
		if got := stdout.String(); got != want {
			t.Errorf("output = %q, want %q", got, want)
		}
	})

	t.Run("empty", func(t *testing.T) {
		app, stdout := newTestApplication()
		params := &listParams{tags: []string{"main"}, JSONOutput: cli.JSONOutput{OutputJSON: true}}
		if err := app.runList(t.Context(), client, params, "*.none"); err != nil {
			t.Fatalf("runList: %v", err)
		}
		if strings.TrimSpace(stdout.String()) != "[]" {
			t.Errorf("output = %q, want []", stdout.String())
		}
	})
}

func TestGetReassemblesFiles(t *testing.T) {
	fake, conn := startFake(t)
	// A sparse file: two chunks with a hole between them.
	fake.addFile("data/sparse.bin", 0o100640, 3*4096, map[int64][]byte{
		0:        bytes.Repeat([]byte("a"), 4096),
		2 * 4096: bytes.Repeat([]byte("b"), 4096),
	})
	fake.addFile("../escape.txt", 0o100644, 4, map[int64][]byte{0: []byte("safe")})
	fake.addRef(&fileref.Fileref{Version: fileref.Version, Type: fileref.TypeDir, Path: "empty", Mode: 0o40755})
	fake.addRef(&fileref.Fileref{Version: fileref.Version, Type: fileref.TypeSymlink, Path: "data/link", Target: "sparse.bin"})

	app, _ := newTestApplication()
	destination := t.TempDir()
	params := &getParams{tags: []string{"main"}, directory: destination, compression: "auto"}
	if err := app.runGet(t.Context(), mustClient(t, conn), params, ""); err != nil {
		t.Fatalf("runGet: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(destination, "data/sparse.bin"))
	if err != nil {
		t.Fatal(err)
	}
	want := append(append(bytes.Repeat([]byte("a"), 4096), make([]byte, 4096)...), bytes.Repeat([]byte("b"), 4096)...)
	if !bytes.Equal(content, want) {
		t.Error("sparse.bin content mismatch")
	}
	info, err := os.Stat(filepath.Join(destination, "data/sparse.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Errorf("sparse.bin mode = %v, want 0640", info.Mode().Perm())
	}

	if content, err := os.ReadFile(filepath.Join(destination, "escape.txt")); err != nil || string(content) != "safe" {
		t.Errorf("escape.txt = %q, %v; want it extracted inside the destination", content, err)
	}
	if info, err := os.Stat(filepath.Join(destination, "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty directory not created: %v", err)
	}
	if target, err := os.Readlink(filepath.Join(destination, "data/link")); err != nil || target != "sparse.bin" {
		t.Errorf("link target = %q, %v", target, err)
	}
}

func TestGetReportsCorruptChunks(t *testing.T) {
	fake, conn := startFake(t)
	fake.addFile("good.txt", 0o100644, 4, map[int64][]byte{0: []byte("good")})
	fake.addFile("bad.txt", 0o100644, 3, map[int64][]byte{0: []byte("bad")})
	fake.setBlob(blobref.SHA1.Hash([]byte("bad")), []byte("BAD"))

	app, _ := newTestApplication()
	destination := t.TempDir()
	params := &getParams{tags: []string{"main"}, directory: destination, compression: "none"}
	err := app.runGet(t.Context(), mustClient(t, conn), params, "")

	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("runGet = %v, want exit code 1", err)
	}
	if content, err := os.ReadFile(filepath.Join(destination, "good.txt")); err != nil || string(content) != "good" {
		t.Errorf("good.txt = %q, %v; want it extracted despite the other failure", content, err)
	}
}

func TestExtractPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a/b", "/dest/a/b"},
		{"/abs/c", "/dest/abs/c"},
		{"../../etc/passwd", "/dest/etc/passwd"},
		{"a/../../b", "/dest/b"},
	}
	for _, test := range tests {
		if got := extractPath("/dest", test.path); got != test.want {
			t.Errorf("extractPath(%q) = %q, want %q", test.path, got, test.want)
		}
	}
}

func TestSocketResolution(t *testing.T) {
	t.Setenv("MMAPCACHE_CONFIG", "")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("socket_path: /tmp/from-config.sock\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		conn connection
		want string
	}{
		{"flag", connection{socketPath: "/tmp/flag.sock", configPath: configPath}, "/tmp/flag.sock"},
		{"config", connection{configPath: configPath}, "/tmp/from-config.sock"},
		{"default", connection{}, "/run/mmapcache/mmapcache.sock"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, err := test.conn.client()
			if err != nil {
				t.Fatalf("client: %v", err)
			}
			if got := client.SocketPath(); got != test.want {
				t.Errorf("socket = %q, want %q", got, test.want)
			}
		})
	}
}

func TestUnmap(t *testing.T) {
	fake, conn := startFake(t)
	app, _ := newTestApplication()
	command := app.unmapCommand()
	if err := command.Execute([]string{"--socket", conn.socketPath, "-T", "a,b"}); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if diff := cmp.Diff([][]string{{"a", "b"}}, fake.removeCalls()); diff != "" {
		t.Errorf("mmap-remove calls mismatch (-want +got):\n%s", diff)
	}
}
