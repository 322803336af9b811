// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/bureau-foundation/mmapcache/cmd/filemap/cli"
	"github.com/bureau-foundation/mmapcache/lib/process"
	"github.com/bureau-foundation/mmapcache/lib/version"
)

func main() {
	app := &application{
		stdout:   os.Stdout,
		terminal: cli.IsTerminal(os.Stdout),
		logger:   cli.NewCommandLogger(),
	}
	if err := app.root().Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func (a *application) root() *cli.Command {
	return &cli.Command{
		Name:    "filemap",
		Summary: "Map files into the region cache and read them back",
		Description: `Map files into the region cache and read them back.

Files are mapped by the cache service on the designated rank, indexed
by the blobref of every chunk and of their metadata, and grouped under
tags. Any client can then list the mapped files or reassemble them
from their blobs.`,
		Subcommands: []*cli.Command{
			a.mapCommand(),
			a.unmapCommand(),
			a.listCommand(),
			a.getCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					_, err := a.stdout.Write([]byte("filemap " + version.Full() + "\n"))
					return err
				},
			},
		},
	}
}
