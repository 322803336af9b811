// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fileref

import (
	"errors"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/bureau-foundation/mmapcache/lib/codec"
)

// Version is the fileref format version written by Create.
const Version = 1

// File types.
const (
	TypeFile    = "file"
	TypeDir     = "dir"
	TypeSymlink = "symlink"
)

// BlobChunk is one entry of a fileref's chunk table. It encodes as a
// three element CBOR array to keep large tables compact.
type BlobChunk struct {
	_       struct{} `cbor:",toarray"`
	Offset  int64    `json:"offset"`
	Size    int64    `json:"size"`
	Blobref string   `json:"blobref"`
}

// Fileref is the metadata object for one file. It is immutable once
// created; its canonical encoding (see Encode) is what the cache
// hashes to produce the file's own blobref.
type Fileref struct {
	Version int         `json:"version"`
	Type    string      `json:"type"`
	Path    string      `json:"path"`
	Mode    uint32      `json:"mode"`
	Size    int64       `json:"size"`
	Mtime   int64       `json:"mtime"`
	Ctime   int64       `json:"ctime"`
	Target  string      `json:"target,omitempty"`
	Blobvec []BlobChunk `json:"blobvec,omitempty"`
}

// Encode returns the canonical encoding of f.
func Encode(f *Fileref) ([]byte, error) {
	data, err := codec.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding fileref for %s: %w", f.Path, err)
	}
	return data, nil
}

// Decode parses an encoded fileref and checks it with Validate.
func Decode(data []byte) (*Fileref, error) {
	var f Fileref
	if err := codec.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding fileref: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks structural invariants: a known type, a clean
// relative-or-absolute path, and for regular files a chunk table of
// ascending, non-overlapping, in-bounds chunks.
func (f *Fileref) Validate() error {
	if f.Version != Version {
		return fmt.Errorf("fileref %s: unsupported version %d", f.Path, f.Version)
	}
	if f.Path == "" {
		return fmt.Errorf("fileref: path is required")
	}
	switch f.Type {
	case TypeFile:
	case TypeDir, TypeSymlink:
		if len(f.Blobvec) > 0 {
			return fmt.Errorf("fileref %s: %s must not have data chunks", f.Path, f.Type)
		}
	default:
		return fmt.Errorf("fileref %s: unknown type %q", f.Path, f.Type)
	}

	var end int64
	for i, chunk := range f.Blobvec {
		if chunk.Offset < end || chunk.Size <= 0 || chunk.Offset+chunk.Size > f.Size {
			return fmt.Errorf("fileref %s: chunk %d (offset %d, size %d) is out of order or out of bounds",
				f.Path, i, chunk.Offset, chunk.Size)
		}
		if chunk.Blobref == "" {
			return fmt.Errorf("fileref %s: chunk %d has no blobref", f.Path, i)
		}
		end = chunk.Offset + chunk.Size
	}
	return nil
}

// Pattern is a compiled shell glob matched against fileref paths with
// fnmatch(3) semantics without FNM_PATHNAME: "*" and "?" also match
// "/", and braces are ordinary characters. A nil *Pattern matches
// every path.
type Pattern struct {
	source string
	glob   glob.Glob // nil when no path can match
}

// CompilePattern compiles a glob. An empty pattern yields nil, which
// matches everything.
func CompilePattern(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, nil
	}
	translated, err := globSyntax(pattern)
	if errors.Is(err, errMatchesNothing) {
		return &Pattern{source: pattern}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	compiled, err := glob.Compile(translated)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	return &Pattern{source: pattern, glob: compiled}, nil
}

// Match reports whether f's path matches the pattern.
func (p *Pattern) Match(f *Fileref) bool {
	if p == nil {
		return true
	}
	if p.glob == nil {
		return false
	}
	return p.glob.Match(f.Path)
}

// String returns the pattern source.
func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.source
}
