// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mmapcache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/mmapcache/lib/blobref"
	"github.com/bureau-foundation/mmapcache/lib/clock"
	"github.com/bureau-foundation/mmapcache/lib/fileref"
)

// Defaults applied by New for zero-valued options.
const (
	DefaultCheckInterval       = 5 * time.Second
	DefaultMaxBlobrefsPerBatch = 1000
	DefaultMaxFilerefsPerBatch = 100
)

// Options configures a Manager.
type Options struct {
	// Algorithm hashes chunks and metadata. Required. Its digest size
	// is the only size Lookup accepts.
	Algorithm *blobref.Algorithm

	// Rank is this node's rank. Requests are only served when it
	// equals DesignatedRank.
	Rank           uint32
	DesignatedRank uint32

	// CheckInterval is the minimum time between stat(2) checks of a
	// region's file during validation.
	CheckInterval time.Duration

	// Batch limits for List.
	MaxBlobrefsPerBatch int
	MaxFilerefsPerBatch int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager owns the tag directory and the digest index over every live
// region. See the package documentation for the threading contract.
type Manager struct {
	algorithm      *blobref.Algorithm
	rank           uint32
	designatedRank uint32
	checkInterval  time.Duration
	maxBlobrefs    int
	maxFilerefs    int
	clock          clock.Clock
	logger         *slog.Logger

	index *hashIndex
	tags  *tagDirectory

	live        int
	mappedBytes int64

	// deferRepair is non-zero while a bulk removal is in progress;
	// region teardown then leaves hole repair to the removal.
	deferRepair int
}

// New creates an empty Manager.
func New(options Options) (*Manager, error) {
	if options.Algorithm == nil {
		return nil, fmt.Errorf("mmapcache: hash algorithm is required")
	}
	if options.CheckInterval < 0 {
		return nil, fmt.Errorf("mmapcache: check interval must not be negative, got %v", options.CheckInterval)
	}
	if options.MaxBlobrefsPerBatch < 0 || options.MaxFilerefsPerBatch < 0 {
		return nil, fmt.Errorf("mmapcache: batch limits must not be negative")
	}
	if options.CheckInterval == 0 {
		options.CheckInterval = DefaultCheckInterval
	}
	if options.MaxBlobrefsPerBatch == 0 {
		options.MaxBlobrefsPerBatch = DefaultMaxBlobrefsPerBatch
	}
	if options.MaxFilerefsPerBatch == 0 {
		options.MaxFilerefsPerBatch = DefaultMaxFilerefsPerBatch
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	return &Manager{
		algorithm:      options.Algorithm,
		rank:           options.Rank,
		designatedRank: options.DesignatedRank,
		checkInterval:  options.CheckInterval,
		maxBlobrefs:    options.MaxBlobrefsPerBatch,
		maxFilerefs:    options.MaxFilerefsPerBatch,
		clock:          options.Clock,
		logger:         options.Logger,
		index:          newHashIndex(),
		tags:           newTagDirectory(),
	}, nil
}

// Algorithm returns the hash algorithm the manager was built with.
func (m *Manager) Algorithm() *blobref.Algorithm { return m.algorithm }

// CheckPlacement returns an ErrInvalid error unless this node is the
// designated node.
func (m *Manager) CheckPlacement() error {
	if m.rank != m.designatedRank {
		return fmt.Errorf("%w: content may only be mmapped on rank %d", ErrInvalid, m.designatedRank)
	}
	return nil
}

// Add maps file under every tag in tags. Add takes ownership of file:
// whether it succeeds or not, the caller must not Close it. On success
// the returned blobref names the file's metadata; on failure nothing
// was added.
func (m *Manager) Add(file *fileref.File, tags []string) (string, error) {
	tags, err := validateTags(tags)
	if err != nil {
		file.Close()
		return "", err
	}
	if err := m.CheckPlacement(); err != nil {
		file.Close()
		return "", err
	}

	region, err := newRegion(m, file)
	if err != nil {
		return "", err
	}
	for _, tag := range tags {
		m.tags.append(tag, region)
	}
	blobref := region.Blobref()
	// The directory now holds the region; drop the creator's reference.
	region.Decref()

	m.logger.Debug("region mapped",
		"path", file.Metadata.Path,
		"blobref", blobref,
		"chunks", len(file.Metadata.Blobvec),
		"tags", tags,
	)
	return blobref, nil
}

// AddRequest describes a file to map. It mirrors the mmap-add request.
type AddRequest struct {
	Path      string
	Fullpath  string
	ChunkSize int
	Tags      []string
}

// AddPath reads, hashes, and maps a file and adds it under the
// request's tags. The file I/O runs on the calling goroutine; callers
// with a reactor should call fileref.Create off-loop and Add on-loop
// instead.
func (m *Manager) AddPath(request AddRequest) (string, error) {
	if err := ValidateTags(request.Tags); err != nil {
		return "", err
	}
	if err := m.CheckPlacement(); err != nil {
		return "", err
	}
	file, err := fileref.Create(request.Path, request.Fullpath, m.algorithm, request.ChunkSize)
	if err != nil {
		return "", err
	}
	return m.Add(file, request.Tags)
}

// Remove deletes every listed tag that exists, releasing its regions,
// and then restores index entries for content still held by other
// regions. Returns ErrRepair if that last step fails; the tags are
// gone either way.
func (m *Manager) Remove(tags []string) error {
	tags, err := validateTags(tags)
	if err != nil {
		return err
	}
	if err := m.CheckPlacement(); err != nil {
		return err
	}

	removed := 0
	m.deferRepair++
	for _, tag := range tags {
		if m.tags.delete(tag) {
			removed++
		}
	}
	m.deferRepair--

	if removed > 0 {
		if err := m.repair(); err != nil {
			return err
		}
	}
	m.logger.Debug("tags removed",
		"requested", len(tags),
		"removed", removed,
		"regions", m.live,
		"entries", m.index.len(),
	)
	return nil
}

// repair re-inserts the digests of every region reachable from the
// tag directory. Insertion keeps existing owners, so this only fills
// holes. Every region in the directory holds a reference; finding a
// released one is a broken invariant, reported as ErrRepair.
func (m *Manager) repair() error {
	err := m.tags.each(func(tag string, region *Region) error {
		if err := region.populate(); err != nil {
			return fmt.Errorf("%w: tag %q: %v", ErrRepair, tag, err)
		}
		return nil
	})
	return err
}

// Lookup finds the region holding the blob with the given raw digest
// and returns it with the blob's bytes. Digests of the wrong length
// never match. Content shared by several regions is attributed to
// whichever region indexed it first. The caller must Incref the region to keep the bytes
// beyond the current call, and must Validate before trusting them.
func (m *Manager) Lookup(digest []byte) (*Region, []byte, bool) {
	if len(digest) != m.algorithm.Size() {
		return nil, nil, false
	}
	entry, found := m.index.lookup(digest)
	if !found {
		return nil, nil, false
	}
	return entry.region, entry.data, true
}

// Stats is a snapshot of the manager's size.
type Stats struct {
	Tags        int   `json:"tags"`
	Regions     int   `json:"regions"`
	Entries     int   `json:"entries"`
	MappedBytes int64 `json:"mapped_bytes"`
}

// Stats returns counts of tags, live regions (including those held
// only by content store references), index entries, and mapped bytes.
func (m *Manager) Stats() Stats {
	return Stats{
		Tags:        m.tags.len(),
		Regions:     m.live,
		Entries:     m.index.len(),
		MappedBytes: m.mappedBytes,
	}
}

// Close removes every tag. Regions still referenced by the content
// store stay mapped until released.
func (m *Manager) Close() {
	m.deferRepair++
	for m.tags.len() > 0 {
		m.tags.delete(m.tags.order[0])
	}
	m.deferRepair--
}
