// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for filemap: a tree of
// [Command] values dispatched by name, pflag-based flag parsing with
// typo suggestions, structured help, terminal-aware logging, and
// --json output.
package cli
