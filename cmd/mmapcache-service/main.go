// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mmapcache/lib/clock"
	"github.com/bureau-foundation/mmapcache/lib/config"
	"github.com/bureau-foundation/mmapcache/lib/contentstore"
	"github.com/bureau-foundation/mmapcache/lib/mmapcache"
	"github.com/bureau-foundation/mmapcache/lib/process"
	"github.com/bureau-foundation/mmapcache/lib/reactor"
	"github.com/bureau-foundation/mmapcache/lib/service"
	"github.com/bureau-foundation/mmapcache/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// flags holds command-line overrides of the loaded configuration.
type flags struct {
	configPath     string
	socketPath     string
	rank           uint32
	designatedRank uint32
	hashAlgorithm  string
	debug          bool
	showVersion    bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var f flags
	flagSet := pflag.NewFlagSet("mmapcache-service", pflag.ContinueOnError)
	flagSet.StringVar(&f.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&f.socketPath, "socket", "", "Unix socket to listen on")
	flagSet.Uint32Var(&f.rank, "rank", 0, "rank of this node")
	flagSet.Uint32Var(&f.designatedRank, "designated-rank", 0, "the only rank allowed to map content")
	flagSet.StringVar(&f.hashAlgorithm, "hash", "", "blobref hash algorithm")
	flagSet.BoolVar(&f.debug, "debug", false, "enable debug logging")
	flagSet.BoolVar(&f.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	return &f, flagSet, nil
}

// loadConfig resolves the configuration: --config, then the
// environment variable, then defaults, with explicitly set flags
// applied last.
func loadConfig(f *flags, flagSet *pflag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case f.configPath != "":
		cfg, err = config.LoadFile(f.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("socket") {
		cfg.SocketPath = f.socketPath
	}
	if flagSet.Changed("rank") {
		cfg.Rank = f.rank
	}
	if flagSet.Changed("designated-rank") {
		cfg.DesignatedRank = f.designatedRank
	}
	if flagSet.Changed("hash") {
		cfg.HashAlgorithm = f.hashAlgorithm
	}
	if flagSet.Changed("debug") {
		cfg.Debug = f.debug
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(args []string) error {
	f, flagSet, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if f.showVersion {
		fmt.Printf("mmapcache-service %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(f, flagSet)
	if err != nil {
		return err
	}

	logger := service.NewLogger(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newCacheService(cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer svc.shutdown()

	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	server := service.NewSocketServer(cfg.SocketPath, logger)
	svc.registerActions(server)

	logger.Info("region cache service starting",
		"version", version.Info(),
		"socket", cfg.SocketPath,
		"rank", cfg.Rank,
		"designated_rank", cfg.DesignatedRank,
		"hash", cfg.HashAlgorithm,
	)

	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("socket server: %w", err)
	}
	logger.Info("region cache service stopped")
	return nil
}

// newCacheService builds the manager, its event loop, and the content
// store over them.
func newCacheService(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*cacheService, error) {
	algorithm, err := cfg.Algorithm()
	if err != nil {
		return nil, err
	}
	manager, err := mmapcache.New(mmapcache.Options{
		Algorithm:           algorithm,
		Rank:                cfg.Rank,
		DesignatedRank:      cfg.DesignatedRank,
		CheckInterval:       cfg.Validation.CheckInterval,
		MaxBlobrefsPerBatch: cfg.List.MaxBlobrefs,
		MaxFilerefsPerBatch: cfg.List.MaxFilerefs,
		Clock:               clk,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}
	loop := reactor.New(logger)
	return &cacheService{
		loop:      loop,
		manager:   manager,
		store:     contentstore.New(loop, manager, logger),
		clock:     clk,
		startedAt: clk.Now(),
		logger:    logger,
	}, nil
}

// shutdown releases every mapped region and stops the loop.
func (s *cacheService) shutdown() {
	if err := s.loop.Do(context.Background(), s.manager.Close); err != nil {
		s.logger.Error("releasing regions", "error", err)
	}
	s.loop.Close()
}
