// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobref

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// MaxDigestSize is the largest digest any supported algorithm produces.
const MaxDigestSize = 32

// Algorithm is a named hash function with a fixed digest size.
type Algorithm struct {
	name string
	size int
	new  func() hash.Hash
}

var (
	SHA1 = &Algorithm{name: "sha1", size: sha1.Size, new: sha1.New}

	SHA256 = &Algorithm{name: "sha256", size: sha256.Size, new: sha256.New}

	BLAKE3 = &Algorithm{name: "blake3", size: 32, new: func() hash.Hash { return blake3.New() }}

	BLAKE2b256 = &Algorithm{name: "blake2b-256", size: blake2b.Size256, new: newBLAKE2b256}
)

var algorithms = map[string]*Algorithm{
	SHA1.name:       SHA1,
	SHA256.name:     SHA256,
	BLAKE3.name:     BLAKE3,
	BLAKE2b256.name: BLAKE2b256,
}

func newBLAKE2b256() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	hasher, err := blake2b.New256(nil)
	if err != nil {
		panic("blobref: BLAKE2b initialization failed: " + err.Error())
	}
	return hasher
}

// Lookup returns the algorithm registered under name.
func Lookup(name string) (*Algorithm, error) {
	algorithm, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unknown hash algorithm %q (supported: %s)",
			name, strings.Join(Names(), ", "))
	}
	return algorithm, nil
}

// Names returns the supported algorithm names in sorted order.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the algorithm's blobref prefix.
func (a *Algorithm) Name() string { return a.name }

// Size returns the digest size in bytes.
func (a *Algorithm) Size() int { return a.size }

// New returns a fresh streaming hasher.
func (a *Algorithm) New() hash.Hash { return a.new() }

// Sum returns the digest of data.
func (a *Algorithm) Sum(data []byte) []byte {
	hasher := a.new()
	hasher.Write(data)
	return hasher.Sum(nil)
}

// Format returns the blobref string for a digest.
func (a *Algorithm) Format(digest []byte) string {
	return a.name + "-" + hex.EncodeToString(digest)
}

// Hash returns the blobref of data.
func (a *Algorithm) Hash(data []byte) string {
	return a.Format(a.Sum(data))
}

// Digest parses blobref and returns its raw digest. The blobref must
// use this algorithm and carry a digest of exactly Size bytes.
func (a *Algorithm) Digest(blobref string) ([]byte, error) {
	name, digest, err := Parse(blobref)
	if err != nil {
		return nil, err
	}
	if name != a.name {
		return nil, fmt.Errorf("blobref %q uses %s, want %s", blobref, name, a.name)
	}
	if len(digest) != a.size {
		return nil, fmt.Errorf("blobref %q has a %d byte digest, want %d", blobref, len(digest), a.size)
	}
	return digest, nil
}

// Parse splits a blobref into its algorithm name and raw digest. The
// algorithm must be a supported one and the digest length must match.
func Parse(blobref string) (string, []byte, error) {
	name, encoded, found := strings.Cut(blobref, "-")
	// blake2b-256 contains a dash, so split on the last one instead.
	if index := strings.LastIndex(blobref, "-"); found && index > len(name) {
		name, encoded = blobref[:index], blobref[index+1:]
	}
	if !found || name == "" || encoded == "" {
		return "", nil, fmt.Errorf("malformed blobref %q", blobref)
	}
	algorithm, ok := algorithms[name]
	if !ok {
		return "", nil, fmt.Errorf("blobref %q: unknown hash algorithm %q", blobref, name)
	}
	digest, err := hex.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("blobref %q: %w", blobref, err)
	}
	if len(digest) != algorithm.size {
		return "", nil, fmt.Errorf("blobref %q has a %d byte digest, want %d", blobref, len(digest), algorithm.size)
	}
	return name, digest, nil
}

// Valid reports whether s is a well-formed blobref.
func Valid(s string) bool {
	_, _, err := Parse(s)
	return err == nil
}
