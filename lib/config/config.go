// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/mmapcache/lib/blobref"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "MMAPCACHE_CONFIG"

// Config is the configuration of the region cache service and its
// command-line client.
type Config struct {
	// SocketPath is the Unix socket the service listens on and the
	// client connects to. ${VAR} and ${VAR:-default} are expanded.
	// Default: /run/mmapcache/mmapcache.sock
	SocketPath string `yaml:"socket_path"`

	// Rank is this node's rank in the instance.
	Rank uint32 `yaml:"rank"`

	// DesignatedRank is the only rank allowed to map content.
	// Default: 0
	DesignatedRank uint32 `yaml:"designated_rank"`

	// HashAlgorithm names the blobref hash: sha1, sha256, blake3, or
	// blake2b-256. Default: sha1
	HashAlgorithm string `yaml:"hash_algorithm"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug"`

	Validation ValidationConfig `yaml:"validation"`
	List       ListConfig       `yaml:"list"`
}

// ValidationConfig tunes mapped-content validation.
type ValidationConfig struct {
	// CheckInterval is the minimum time between stat checks of one
	// mapped file. Default: 5s
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ListConfig bounds the size of each mmap-list response frame.
type ListConfig struct {
	// MaxBlobrefs per frame when listing blobrefs. Default: 1000
	MaxBlobrefs int `yaml:"max_blobrefs"`

	// MaxFilerefs per frame when listing filerefs. Default: 100
	MaxFilerefs int `yaml:"max_filerefs"`
}

// Default returns the default configuration, the base that a config
// file is merged into.
func Default() *Config {
	return &Config{
		SocketPath:    "/run/mmapcache/mmapcache.sock",
		HashAlgorithm: "sha1",
		Validation: ValidationConfig{
			CheckInterval: 5 * time.Second,
		},
		List: ListConfig{
			MaxBlobrefs: 1000,
			MaxFilerefs: 100,
		},
	}
}

// Load loads configuration from the file named by MMAPCACHE_CONFIG.
// There is no fallback: if the variable is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over the defaults. Files
// ending in .json or .jsonc may carry comments and trailing commas.
// Everything else is parsed as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.SocketPath = expandVars(cfg.SocketPath)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Plain JSON is valid YAML once comments and trailing commas
		// are gone.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if _, err := blobref.Lookup(c.HashAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("hash_algorithm must be one of %v: %w", blobref.Names(), err))
	}
	if c.Validation.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("validation.check_interval must be positive, got %v", c.Validation.CheckInterval))
	}
	if c.List.MaxBlobrefs <= 0 {
		errs = append(errs, fmt.Errorf("list.max_blobrefs must be positive, got %d", c.List.MaxBlobrefs))
	}
	if c.List.MaxFilerefs <= 0 {
		errs = append(errs, fmt.Errorf("list.max_filerefs must be positive, got %d", c.List.MaxFilerefs))
	}

	return errors.Join(errs...)
}

// Algorithm returns the configured hash algorithm.
func (c *Config) Algorithm() (*blobref.Algorithm, error) {
	return blobref.Lookup(c.HashAlgorithm)
}

// Designated reports whether this node may map content.
func (c *Config) Designated() bool {
	return c.Rank == c.DesignatedRank
}
