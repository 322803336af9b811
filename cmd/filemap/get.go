// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mmapcache/cmd/filemap/cli"
	"github.com/bureau-foundation/mmapcache/lib/blobref"
	"github.com/bureau-foundation/mmapcache/lib/contentstore"
	"github.com/bureau-foundation/mmapcache/lib/fileref"
	"github.com/bureau-foundation/mmapcache/lib/service"
)

type getParams struct {
	connection
	tags        []string
	directory   string
	compression string
	verbose     bool
}

func (a *application) getCommand() *cli.Command {
	var params getParams
	return &cli.Command{
		Name:    "get",
		Summary: "Reassemble mapped files from their blobs",
		Description: `Reassemble mapped files under --directory by loading every chunk
from the cache service and verifying it against its blobref.

Paths are always extracted beneath the destination directory. Files
that fail are reported and skipped; the command then exits 1.`,
		Usage: "filemap get [flags] [PATTERN]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			flagSet.StringSliceVarP(&params.tags, "tags", "T", []string{defaultTag}, "tags to extract")
			flagSet.StringVarP(&params.directory, "directory", "C", ".", "destination directory")
			flagSet.StringVar(&params.compression, "compression", string(contentstore.CompressionAuto), "transfer compression: none, lz4, zstd, or auto")
			flagSet.BoolVarP(&params.verbose, "verbose", "v", false, "log each extracted path")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("at most one PATTERN may be given")
			}
			if _, err := contentstore.ParseCompression(params.compression); err != nil {
				return err
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			client, err := params.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()
			return a.runGet(ctx, client, &params, pattern)
		},
	}
}

func (a *application) runGet(ctx context.Context, client *service.Client, params *getParams, pattern string) error {
	filerefs, err := listFilerefs(ctx, client, params.tags, pattern)
	if err != nil {
		return err
	}

	failed := 0
	for _, ref := range filerefs {
		if err := ctx.Err(); err != nil {
			return err
		}
		destination := extractPath(params.directory, ref.Path)
		if err := a.extract(ctx, client, params.compression, ref, destination); err != nil {
			a.logger.Error("extract failed", "path", ref.Path, "error", err)
			failed++
			continue
		}
		if params.verbose {
			a.logger.Info("extracted", "path", ref.Path, "destination", destination)
		}
	}
	if failed > 0 {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// extractPath places path beneath directory, discarding any leading
// "/" and any ".." that would climb out of it.
func extractPath(directory, path string) string {
	return filepath.Join(directory, filepath.Clean("/"+path))
}

func (a *application) extract(ctx context.Context, client *service.Client, compression string, ref *fileref.Fileref, destination string) error {
	permissions := fs.FileMode(ref.Mode & 0o777)
	switch ref.Type {
	case fileref.TypeDir:
		return os.MkdirAll(destination, permissions|0o700)
	case fileref.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
			return err
		}
		if err := os.Remove(destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return os.Symlink(ref.Target, destination)
	case fileref.TypeFile:
	default:
		return fmt.Errorf("unknown file type %q", ref.Type)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, permissions)
	if err != nil {
		return err
	}
	// Holes stay holes: only chunks are written over the truncated size.
	if err := file.Truncate(ref.Size); err != nil {
		file.Close()
		return err
	}
	for _, chunk := range ref.Blobvec {
		data, err := loadChunk(ctx, client, compression, chunk)
		if err != nil {
			file.Close()
			return err
		}
		if _, err := file.WriteAt(data, chunk.Offset); err != nil {
			file.Close()
			return err
		}
	}
	if err := file.Close(); err != nil {
		return err
	}
	mtime := time.Unix(ref.Mtime, 0)
	return os.Chtimes(destination, mtime, mtime)
}

// loadChunk fetches one chunk and checks its size and digest.
func loadChunk(ctx context.Context, client *service.Client, compression string, chunk fileref.BlobChunk) ([]byte, error) {
	name, digest, err := blobref.Parse(chunk.Blobref)
	if err != nil {
		return nil, err
	}
	algorithm, err := blobref.Lookup(name)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data        []byte `cbor:"data"`
		Compression string `cbor:"compression"`
		Size        int    `cbor:"size"`
	}
	if err := client.Call(ctx, "content-load", map[string]any{
		"blobref":     chunk.Blobref,
		"compression": compression,
	}, &response); err != nil {
		return nil, err
	}

	used, err := contentstore.ParseCompression(response.Compression)
	if err != nil {
		return nil, err
	}
	data, err := contentstore.Decompress(response.Data, used, response.Size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", chunk.Blobref, err)
	}
	if int64(len(data)) != chunk.Size {
		return nil, fmt.Errorf("%s: loaded %d bytes, want %d", chunk.Blobref, len(data), chunk.Size)
	}
	if !bytes.Equal(algorithm.Sum(data), digest) {
		return nil, fmt.Errorf("%s: digest mismatch", chunk.Blobref)
	}
	return data, nil
}
