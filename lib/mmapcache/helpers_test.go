// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package mmapcache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/mmapcache/lib/blobref"
	"github.com/bureau-foundation/mmapcache/lib/clock"
)

// testEpoch is an arbitrary fixed start time for fake clocks.
var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestManager returns a designated-node manager using sha1 and a
// fake clock.
func newTestManager(t *testing.T, modify ...func(*Options)) (*Manager, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(testEpoch)
	options := Options{
		Algorithm: blobref.SHA1,
		Clock:     fake,
	}
	for _, fn := range modify {
		fn(&options)
	}
	manager, err := New(options)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(manager.Close)
	return manager, fake
}

// writeFile writes content to name inside dir and returns the path.
func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// patterned returns size bytes of a repeating pattern starting at seed,
// so files built from different seeds differ in every chunk.
func patterned(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	return data
}

func addPath(t *testing.T, manager *Manager, path string, chunkSize int, tags ...string) string {
	t.Helper()
	ref, err := manager.AddPath(AddRequest{Path: path, ChunkSize: chunkSize, Tags: tags})
	if err != nil {
		t.Fatalf("AddPath(%s): %v", path, err)
	}
	return ref
}

// mustDigest parses a blobref produced by the manager's algorithm.
func mustDigest(t *testing.T, manager *Manager, ref string) []byte {
	t.Helper()
	digest, err := manager.Algorithm().Digest(ref)
	if err != nil {
		t.Fatalf("Digest(%q): %v", ref, err)
	}
	return digest
}

// lookupRegion looks up a blobref and fails the test if it is absent.
func lookupRegion(t *testing.T, manager *Manager, ref string) (*Region, []byte) {
	t.Helper()
	region, data, found := manager.Lookup(mustDigest(t, manager, ref))
	if !found {
		t.Fatalf("Lookup(%s): not found", ref)
	}
	return region, data
}

func requireAbsent(t *testing.T, manager *Manager, ref string) {
	t.Helper()
	if _, _, found := manager.Lookup(mustDigest(t, manager, ref)); found {
		t.Fatalf("Lookup(%s): found, want absent", ref)
	}
}

// chunkBlobrefs returns the chunk blobrefs of the region named by ref.
func chunkBlobrefs(t *testing.T, manager *Manager, ref string) []string {
	t.Helper()
	region, _ := lookupRegion(t, manager, ref)
	var refs []string
	for _, chunk := range region.Metadata().Blobvec {
		refs = append(refs, chunk.Blobref)
	}
	return refs
}

func requireBytes(t *testing.T, label string, got, want []byte) {
	t.Helper()
	if !bytes.Equal(got, want) {
		t.Fatalf("%s: got %d bytes, want %d bytes (contents differ)", label, len(got), len(want))
	}
}
