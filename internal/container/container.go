// Package container implements an ordered, indexable, mutable multiset
// of file-system entries sorted under a (primary, secondary) key pair.
package container

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fsearch/engine/internal/fsentry"
)

// ErrCancelled is returned by New when the supplied context is
// cancelled before the initial sort completes.
var ErrCancelled = errors.New("container: build cancelled")

// Container holds entries of a single type (all files, or all folders)
// in sorted order under Primary/Secondary. It is safe for concurrent
// readers; writers (Insert/Steal) must be externally serialized against
// each other, matching spec.md's "internally thread-safe for concurrent
// readers but requires external exclusion for writers".
type Container struct {
	mu        sync.RWMutex
	entries   []*fsentry.Entry
	typ       fsentry.Type
	primary   SortKey
	secondary SortKey
}

// New builds a container over entries, sorted under (primary, secondary).
// If copyOnWrite is true, entries is not aliased: New copies it before
// sorting. The cancel context is checked once before the sort begins and
// once after; a long initial sort may still complete once started, but
// a cancellation observed before the sort runs means New never touches
// its caller's slice when copyOnWrite is true.
func New(ctx context.Context, entries []*fsentry.Entry, copyOnWrite bool, primary, secondary SortKey, typ fsentry.Type) (*Container, error) {
	select {
	case <-ctx.Done():
		return nil, ErrCancelled
	default:
	}

	src := entries
	if copyOnWrite {
		src = make([]*fsentry.Entry, len(entries))
		copy(src, entries)
	}
	sort.SliceStable(src, func(i, j int) bool {
		return compare(src[i], src[j], primary, secondary) < 0
	})

	select {
	case <-ctx.Done():
		return nil, ErrCancelled
	default:
	}

	return &Container{entries: src, typ: typ, primary: primary, secondary: secondary}, nil
}

// FromPermutation rebuilds a container under primary key by applying a
// precomputed permutation to nameOrder (entries already sorted under
// the Name key), instead of sorting from scratch. perm[i] is the
// position the i-th entry of nameOrder occupies under primary; it is
// exactly what a snapshot's sorted-arrays block persists, so decoding
// a snapshot can reconstruct every non-Name sort order in O(n) rather
// than re-sorting once per key. It returns an error if perm isn't a
// valid permutation of nameOrder's indices.
func FromPermutation(nameOrder []*fsentry.Entry, perm []uint32, primary SortKey, typ fsentry.Type) (*Container, error) {
	if len(perm) != len(nameOrder) {
		return nil, fmt.Errorf("container: permutation length %d does not match %d entries", len(perm), len(nameOrder))
	}
	entries := make([]*fsentry.Entry, len(nameOrder))
	seen := make([]bool, len(nameOrder))
	for i, pos := range perm {
		if int(pos) >= len(entries) || seen[pos] {
			return nil, fmt.Errorf("container: permutation index %d out of range or duplicated", pos)
		}
		entries[pos] = nameOrder[i]
		seen[pos] = true
	}
	return &Container{entries: entries, typ: typ, primary: primary, secondary: None}, nil
}

// Type reports the entry type this container holds.
func (c *Container) Type() fsentry.Type { return c.typ }

// Primary reports the primary sort key this container is ordered under.
func (c *Container) Primary() SortKey { return c.primary }

// Secondary reports the secondary sort key this container is ordered under.
func (c *Container) Secondary() SortKey { return c.secondary }

// searchPos returns the index of the first entry not ordered before e.
func (c *Container) searchPos(e *fsentry.Entry) int {
	return sort.Search(len(c.entries), func(i int) bool {
		return compare(c.entries[i], e, c.primary, c.secondary) >= 0
	})
}

// Insert places e in its sorted position. Duplicates by identity are
// rejected silently (a second Insert of the same entry is a no-op),
// matching "duplicates by identity are not allowed".
func (c *Container) Insert(e *fsentry.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.searchPos(e)
	for i := pos; i < len(c.entries) && compare(c.entries[i], e, c.primary, c.secondary) == 0; i++ {
		if c.entries[i] == e {
			return
		}
	}
	c.entries = append(c.entries, nil)
	copy(c.entries[pos+1:], c.entries[pos:])
	c.entries[pos] = e
}

// Steal removes e if present and reports whether it was removed.
func (c *Container) Steal(e *fsentry.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.searchPos(e)
	for i := pos; i < len(c.entries) && compare(c.entries[i], e, c.primary, c.secondary) == 0; i++ {
		if c.entries[i] == e {
			copy(c.entries[i:], c.entries[i+1:])
			c.entries[len(c.entries)-1] = nil
			c.entries = c.entries[:len(c.entries)-1]
			return true
		}
	}
	return false
}

// Get returns the entry at sort position i, or nil if i is out of range.
func (c *Container) Get(i int) *fsentry.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.entries) {
		return nil
	}
	return c.entries[i]
}

// NumEntries returns the exact number of entries currently held.
func (c *Container) NumEntries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Joined returns a fresh ordered slice with the full current content.
// Reads are consistent with a single instant provided there is no
// concurrent mutation while Joined runs.
func (c *Container) Joined() []*fsentry.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*fsentry.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Contains reports whether e is present, without removing it.
func (c *Container) Contains(e *fsentry.Entry) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos := c.searchPos(e)
	for i := pos; i < len(c.entries) && compare(c.entries[i], e, c.primary, c.secondary) == 0; i++ {
		if c.entries[i] == e {
			return true
		}
	}
	return false
}

// InsertAll bulk-inserts many entries at once via a single linear merge
// against the existing sorted content, rather than one binary-search
// insert per entry. This is the "bulk join" operation used when the
// store merges a newly-scanned root's entries into its aggregate
// containers. Entries already present (by identity) are skipped; a
// duplicate within entries itself is not.
func (c *Container) InsertAll(entries []*fsentry.Entry) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	add := make([]*fsentry.Entry, len(entries))
	copy(add, entries)
	sort.SliceStable(add, func(i, j int) bool {
		return compare(add[i], add[j], c.primary, c.secondary) < 0
	})

	merged := make([]*fsentry.Entry, 0, len(c.entries)+len(add))
	i, j := 0, 0
	for i < len(c.entries) && j < len(add) {
		cmp := compare(c.entries[i], add[j], c.primary, c.secondary)
		switch {
		case cmp == 0:
			merged = append(merged, c.entries[i])
			i++
			j++
		case cmp < 0:
			merged = append(merged, c.entries[i])
			i++
		default:
			merged = append(merged, add[j])
			j++
		}
	}
	merged = append(merged, c.entries[i:]...)
	merged = append(merged, add[j:]...)
	c.entries = merged
}

// Reindex rebuilds sort order after bulk external mutation of cached
// attributes (e.g. after a batch of EntryAttributeChanged events
// changes Size or ModTime for entries ordered by one of those keys).
// It is O(n log n); callers should batch attribute changes between
// StartModifying/EndModifying and call Reindex once per batch rather
// than once per entry.
func (c *Container) Reindex() {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.entries, func(i, j int) bool {
		return compare(c.entries[i], c.entries[j], c.primary, c.secondary) < 0
	})
}
