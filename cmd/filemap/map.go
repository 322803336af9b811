// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mmapcache/cmd/filemap/cli"
	"github.com/bureau-foundation/mmapcache/lib/service"
)

// defaultChunkSize is the chunk size map requests when --chunksize is
// not given.
const defaultChunkSize = 1024 * 1024

type mapParams struct {
	connection
	tags      []string
	chunkSize int
	directory string
	verbose   bool
}

func (a *application) mapCommand() *cli.Command {
	var params mapParams
	return &cli.Command{
		Name:    "map",
		Summary: "Map files into the cache",
		Description: `Map files into the cache under one or more tags.

Directories are walked recursively; every file, directory, and symlink
beneath them is mapped. Paths are recorded as given, relative to
--directory when it is set.`,
		Usage: "filemap map [flags] PATH...",
		Examples: []cli.Example{
			{Description: "Map a source tree under the tag \"src\"", Command: "filemap map --tags src -C /home/me project"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("map", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			flagSet.StringSliceVarP(&params.tags, "tags", "T", []string{defaultTag}, "tags to map under")
			flagSet.IntVar(&params.chunkSize, "chunksize", defaultChunkSize, "split file data into chunks of at most this many bytes (0: one chunk per extent)")
			flagSet.StringVarP(&params.directory, "directory", "C", "", "resolve paths relative to this directory")
			flagSet.BoolVarP(&params.verbose, "verbose", "v", false, "log each mapped path")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one PATH is required")
			}
			if params.chunkSize < 0 {
				return fmt.Errorf("--chunksize must not be negative")
			}
			client, err := params.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()
			return a.runMap(ctx, client, &params, args)
		},
	}
}

func (a *application) runMap(ctx context.Context, client *service.Client, params *mapParams, paths []string) error {
	directory, err := filepath.Abs(params.directory)
	if err != nil {
		return err
	}

	mapped := 0
	for _, path := range paths {
		fullpath := path
		if !filepath.IsAbs(path) {
			fullpath = filepath.Join(directory, path)
		}
		err := filepath.WalkDir(fullpath, func(current string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			relative, err := filepath.Rel(fullpath, current)
			if err != nil {
				return err
			}
			displayPath := filepath.Join(path, relative)
			if err := client.Call(ctx, "mmap-add", map[string]any{
				"path":      displayPath,
				"fullpath":  current,
				"chunksize": params.chunkSize,
				"tags":      params.tags,
			}, nil); err != nil {
				return fmt.Errorf("mapping %s: %w", displayPath, err)
			}
			mapped++
			if params.verbose {
				a.logger.Info("mapped", "path", displayPath, "tags", params.tags)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if params.verbose {
		a.logger.Info("map complete", "files", mapped)
	}
	return nil
}
