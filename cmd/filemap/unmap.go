// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mmapcache/cmd/filemap/cli"
)

func (a *application) unmapCommand() *cli.Command {
	var (
		conn connection
		tags []string
	)
	return &cli.Command{
		Name:    "unmap",
		Summary: "Release every file mapped under tags",
		Usage:   "filemap unmap [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("unmap", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringSliceVarP(&tags, "tags", "T", []string{defaultTag}, "tags to release")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			client, err := conn.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()
			return client.Call(ctx, "mmap-remove", map[string]any{"tags": tags}, nil)
		},
	}
}
