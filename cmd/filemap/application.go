// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mmapcache/lib/config"
	"github.com/bureau-foundation/mmapcache/lib/service"
)

// defaultTag is the tag map, unmap, list, and get use when --tags is
// not given.
const defaultTag = "main"

// application carries the output streams shared by every command.
type application struct {
	stdout   io.Writer
	terminal bool
	logger   *slog.Logger
}

// connection holds the flags that locate the cache service socket.
type connection struct {
	socketPath string
	configPath string
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socketPath, "socket", "", "cache service socket (default: from config)")
	flagSet.StringVar(&c.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
}

// client resolves the socket from --socket, then the config file, then
// the built-in default.
func (c *connection) client() (*service.Client, error) {
	if c.socketPath != "" {
		return service.NewClient(c.socketPath), nil
	}
	var cfg *config.Config
	var err error
	switch {
	case c.configPath != "":
		cfg, err = config.LoadFile(c.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	return service.NewClient(cfg.SocketPath), nil
}

// commandContext returns a context cancelled by SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
