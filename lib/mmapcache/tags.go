// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mmapcache

import (
	"fmt"
	"slices"
)

// MaxTagLength is the maximum byte length of a tag name.
const MaxTagLength = 512

// tagDirectory is an ordered multimap from tag name to an ordered list
// of regions. Appending takes a reference on the region; deleting a
// tag drops the reference of every region listed under it.
type tagDirectory struct {
	order []string // tag names in creation order
	lists map[string][]*Region
}

func newTagDirectory() *tagDirectory {
	return &tagDirectory{lists: make(map[string][]*Region)}
}

func (d *tagDirectory) append(tag string, region *Region) {
	if _, exists := d.lists[tag]; !exists {
		d.order = append(d.order, tag)
	}
	d.lists[tag] = append(d.lists[tag], region.Incref())
}

// delete removes tag and releases its references. The entry is
// unlinked before any region is released, so a region being destroyed
// is never reachable from the directory. Reports whether the tag
// existed.
func (d *tagDirectory) delete(tag string) bool {
	regions, exists := d.lists[tag]
	if !exists {
		return false
	}
	delete(d.lists, tag)
	d.order = slices.DeleteFunc(d.order, func(name string) bool { return name == tag })
	for _, region := range regions {
		region.Decref()
	}
	return true
}

// regions returns the regions under tag in insertion order. The slice
// must not be modified.
func (d *tagDirectory) regions(tag string) []*Region {
	return d.lists[tag]
}

// each calls fn for every (tag, region) pair in directory order and
// stops at the first error.
func (d *tagDirectory) each(fn func(tag string, region *Region) error) error {
	for _, tag := range d.order {
		for _, region := range d.lists[tag] {
			if err := fn(tag, region); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *tagDirectory) len() int { return len(d.order) }

// validateTags checks a request's tag list and returns it with
// duplicates removed, first occurrence first.
func validateTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: at least one tag is required", ErrProtocol)
	}
	unique := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			return nil, fmt.Errorf("%w: tag names must not be empty", ErrProtocol)
		}
		if len(tag) > MaxTagLength {
			return nil, fmt.Errorf("%w: tag name is %d bytes, maximum is %d", ErrProtocol, len(tag), MaxTagLength)
		}
		if _, duplicate := seen[tag]; duplicate {
			continue
		}
		seen[tag] = struct{}{}
		unique = append(unique, tag)
	}
	return unique, nil
}

// ValidateTags checks a tag list the way Add, Remove, and List do,
// without touching any state. Request handlers use it to reject bad
// requests before doing file I/O.
func ValidateTags(tags []string) error {
	_, err := validateTags(tags)
	return err
}
