// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the region cache configuration.
//
// Configuration comes from a single file named either by the
// MMAPCACHE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no search path. Without
// a file, commands run on [Default] plus their flags.
//
// Files are YAML. A .json or .jsonc file is accepted too: comments and
// trailing commas are stripped before parsing. ${VAR} and
// ${VAR:-default} in socket_path are expanded from the environment.
package config
