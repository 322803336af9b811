// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mmapcache/cmd/filemap/cli"
	"github.com/bureau-foundation/mmapcache/lib/codec"
	"github.com/bureau-foundation/mmapcache/lib/fileref"
	"github.com/bureau-foundation/mmapcache/lib/service"
)

type listParams struct {
	connection
	cli.JSONOutput
	tags     []string
	long     bool
	blobrefs bool
}

func (a *application) listCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List mapped files",
		Description: `List the files mapped under tags, optionally filtered by a glob
PATTERN matched against the whole path ("*" also matches "/").

With --blobref, list the blobref of each file's metadata instead.
The chunk blobrefs are in the metadata itself (see --json).`,
		Usage: "filemap list [flags] [PATTERN]",
		Examples: []cli.Example{
			{Description: "Long listing of mapped Go files", Command: "filemap list --long '*.go'"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.JSONOutput.AddFlag(flagSet)
			flagSet.StringSliceVarP(&params.tags, "tags", "T", []string{defaultTag}, "tags to list")
			flagSet.BoolVarP(&params.long, "long", "l", false, "show mode, size, and modification time")
			flagSet.BoolVar(&params.blobrefs, "blobref", false, "list blobrefs instead of files")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("at most one PATTERN may be given")
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
			return a.runList(ctx, client, &params, pattern)
		},
	}
}

func (a *application) runList(ctx context.Context, client *service.Client, params *listParams, pattern string) error {
	if params.blobrefs {
		blobrefs, err := listBlobrefs(ctx, client, params.tags, pattern)
		if err != nil {
			return err
		}
		if done, err := params.EmitJSON(a.stdout, blobrefs); done {
			return err
		}
		for _, ref := range blobrefs {
			fmt.Fprintln(a.stdout, ref)
		}
		return nil
	}

	filerefs, err := listFilerefs(ctx, client, params.tags, pattern)
	if err != nil {
		return err
	}
	if done, err := params.EmitJSON(a.stdout, filerefs); done {
		return err
	}
	if !params.long {
		for _, ref := range filerefs {
			fmt.Fprintln(a.stdout, ref.Path)
		}
		return nil
	}
	return writeLong(a.stdout, filerefs, a.terminal)
}

// writeLong prints one ls -l style line per file. Columns are aligned
// for a terminal and tab-separated otherwise.
func writeLong(w io.Writer, filerefs []*fileref.Fileref, aligned bool) error {
	out := w
	var table *tabwriter.Writer
	if aligned {
		table = tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
		out = table
	}
	for _, ref := range filerefs {
		name := ref.Path
		if ref.Type == fileref.TypeSymlink {
			name += " -> " + ref.Target
		}
		fmt.Fprintf(out, "%s\t%d\t%s\t%s\n",
			fileMode(ref),
			ref.Size,
			time.Unix(ref.Mtime, 0).Format("2006-01-02 15:04"),
			name,
		)
	}
	if table != nil {
		return table.Flush()
	}
	return nil
}

// fileMode converts a fileref's type and permission bits to an
// fs.FileMode.
func fileMode(ref *fileref.Fileref) fs.FileMode {
	mode := fs.FileMode(ref.Mode & 0o777)
	switch ref.Type {
	case fileref.TypeDir:
		mode |= fs.ModeDir
	case fileref.TypeSymlink:
		mode |= fs.ModeSymlink
	}
	return mode
}

// listFrame mirrors the service's mmap-list data frame.
type listFrame[T any] struct {
	Files []T `cbor:"files"`
}

func listFilerefs(ctx context.Context, client *service.Client, tags []string, pattern string) ([]*fileref.Fileref, error) {
	return collectList[*fileref.Fileref](ctx, client, map[string]any{
		"tags":    tags,
		"pattern": pattern,
	})
}

func listBlobrefs(ctx context.Context, client *service.Client, tags []string, pattern string) ([]string, error) {
	return collectList[string](ctx, client, map[string]any{
		"blobref": true,
		"tags":    tags,
		"pattern": pattern,
	})
}

func collectList[T any](ctx context.Context, client *service.Client, fields map[string]any) ([]T, error) {
	var all []T
	err := client.Stream(ctx, "mmap-list", fields, func(data codec.RawMessage) error {
		var frame listFrame[T]
		if err := codec.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("decoding list frame: %w", err)
		}
		all = append(all, frame.Files...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}
