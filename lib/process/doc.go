// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the service
// and CLI binaries: reporting an error from run() before or without a
// structured logger, and choosing the exit code.
package process
