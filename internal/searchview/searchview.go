// Package searchview implements a materialized, sorted, selectable
// result set over a store's containers, with reconciliation against
// live store events so a view stays current without a full re-search.
package searchview

import (
	"context"

	"github.com/fsearch/engine/internal/container"
	"github.com/fsearch/engine/internal/fsentry"
	"github.com/fsearch/engine/internal/query"
	"github.com/fsearch/engine/internal/store"
	"github.com/fsearch/engine/internal/threadpool"
)

// Direction is the display order of a view's combined result sequence.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

// SelectionKind is one of the selection-mutation operations a view
// accepts via ModifySelection.
type SelectionKind uint8

const (
	Clear SelectionKind = iota
	All
	Invert
	Select
	Toggle
	SelectRange
	ToggleRange
)

// View is one search result: its own private folder/file containers
// (so later store mutations to the store's own containers never alias
// a view's content) plus a selection set over those containers.
type View struct {
	query     query.Query
	primary   container.SortKey
	secondary container.SortKey
	direction Direction

	files     *container.Container
	folders   *container.Container
	selection map[*fsentry.Entry]struct{}
}

// New materializes a view by evaluating q against files and folders
// (store-owned containers, read via Joined so the view never aliases
// them) and keeping only matches. If previous is supplied, entries
// still present in the new result keep their selected state; entries
// dropped from the result are simply absent from the new selection.
func New(ctx context.Context, q query.Query, files, folders *container.Container, previous *View, primary, secondary container.SortKey, direction Direction) (*View, error) {
	matchedFiles := filterMatches(files.Joined(), q)
	matchedFolders := filterMatches(folders.Joined(), q)
	return build(ctx, q, matchedFiles, matchedFolders, previous, primary, secondary, direction)
}

// NewParallel is New's equivalent for the work-queue orchestrator's
// Search handler, which evaluates the query across the thread pool
// instead of in a single pass, per spec.md §4.5's "parallelised across
// the thread pool".
func NewParallel(ctx context.Context, pool *threadpool.Pool, q query.Query, files, folders *container.Container, previous *View, primary, secondary container.SortKey, direction Direction) (*View, error) {
	matchedFiles := parallelFilter(ctx, pool, files.Joined(), q)
	matchedFolders := parallelFilter(ctx, pool, folders.Joined(), q)
	return build(ctx, q, matchedFiles, matchedFolders, previous, primary, secondary, direction)
}

func build(ctx context.Context, q query.Query, matchedFiles, matchedFolders []*fsentry.Entry, previous *View, primary, secondary container.SortKey, direction Direction) (*View, error) {
	fc, err := container.New(ctx, matchedFiles, false, primary, secondary, fsentry.File)
	if err != nil {
		return nil, err
	}
	dc, err := container.New(ctx, matchedFolders, false, primary, secondary, fsentry.Folder)
	if err != nil {
		return nil, err
	}

	v := &View{
		query:     q,
		primary:   primary,
		secondary: secondary,
		direction: direction,
		files:     fc,
		folders:   dc,
		selection: make(map[*fsentry.Entry]struct{}),
	}

	if previous != nil {
		for e := range previous.selection {
			if fc.Contains(e) || dc.Contains(e) {
				v.selection[e] = struct{}{}
			}
		}
	}
	return v, nil
}

func filterMatches(entries []*fsentry.Entry, q query.Query) []*fsentry.Entry {
	if q.IsEmpty() {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if q.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// parallelFilter evaluates q over entries split into pool.Size() shards
// run concurrently; each shard writes into its own slice so no
// synchronization is needed beyond the pool's own barrier.
func parallelFilter(ctx context.Context, pool *threadpool.Pool, entries []*fsentry.Entry, q query.Query) []*fsentry.Entry {
	if q.IsEmpty() || len(entries) == 0 {
		return entries
	}

	shards := pool.Size()
	if shards > len(entries) {
		shards = len(entries)
	}
	if shards <= 1 {
		return filterMatches(entries, q)
	}

	results := make([][]*fsentry.Entry, shards)
	chunk := (len(entries) + shards - 1) / shards
	fns := make([]func(context.Context) error, 0, shards)
	for i := 0; i < shards; i++ {
		i := i
		start := i * chunk
		end := start + chunk
		if end > len(entries) {
			end = len(entries)
		}
		if start >= end {
			continue
		}
		fns = append(fns, func(context.Context) error {
			results[i] = filterMatches(entries[start:end], q)
			return nil
		})
	}
	_ = pool.Run(ctx, fns...)

	var out []*fsentry.Entry
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// Resort rebuilds the view's containers under a new (primary,
// secondary, direction) ordering by sorting the view's own current
// content afresh, without re-evaluating the query.
func (v *View) Resort(ctx context.Context, primary, secondary container.SortKey, direction Direction) error {
	fc, err := container.New(ctx, v.files.Joined(), false, primary, secondary, fsentry.File)
	if err != nil {
		return err
	}
	dc, err := container.New(ctx, v.folders.Joined(), false, primary, secondary, fsentry.Folder)
	if err != nil {
		return err
	}
	v.files, v.folders = fc, dc
	v.primary, v.secondary, v.direction = primary, secondary, direction
	return nil
}

// NumEntries is the combined count of folders and files in the view.
func (v *View) NumEntries() int {
	return v.folders.NumEntries() + v.files.NumEntries()
}

// NumFolders and NumFiles report the view's two constituent counts
// separately, as published in SearchInfo/DatabaseInfo events.
func (v *View) NumFolders() int { return v.folders.NumEntries() }
func (v *View) NumFiles() int   { return v.files.NumEntries() }

// GetEntry returns the entry at position idx in the view's combined
// [folders..., files...] sequence, inverted when direction is
// Descending, or nil if idx is out of range.
func (v *View) GetEntry(idx int) *fsentry.Entry {
	n := v.NumEntries()
	if idx < 0 || idx >= n {
		return nil
	}
	if v.direction == Descending {
		idx = n - 1 - idx
	}
	nf := v.folders.NumEntries()
	if idx < nf {
		return v.folders.Get(idx)
	}
	return v.files.Get(idx - nf)
}

// IsSelected reports whether e is in the view's selection set.
func (v *View) IsSelected(e *fsentry.Entry) bool {
	_, ok := v.selection[e]
	return ok
}

// ModifySelection applies one selection mutation. For the range kinds
// either endpoint order is accepted; the smaller index is used as
// start.
func (v *View) ModifySelection(kind SelectionKind, startIdx, endIdx int) {
	switch kind {
	case Clear:
		v.selection = make(map[*fsentry.Entry]struct{})
	case All:
		n := v.NumEntries()
		for i := 0; i < n; i++ {
			v.selection[v.GetEntry(i)] = struct{}{}
		}
	case Invert:
		n := v.NumEntries()
		next := make(map[*fsentry.Entry]struct{}, n-len(v.selection))
		for i := 0; i < n; i++ {
			e := v.GetEntry(i)
			if _, ok := v.selection[e]; !ok {
				next[e] = struct{}{}
			}
		}
		v.selection = next
	case Select:
		if e := v.GetEntry(startIdx); e != nil {
			v.selection[e] = struct{}{}
		}
	case Toggle:
		if e := v.GetEntry(startIdx); e != nil {
			if _, ok := v.selection[e]; ok {
				delete(v.selection, e)
			} else {
				v.selection[e] = struct{}{}
			}
		}
	case SelectRange:
		a, b := orderedRange(startIdx, endIdx)
		for i := a; i <= b; i++ {
			if e := v.GetEntry(i); e != nil {
				v.selection[e] = struct{}{}
			}
		}
	case ToggleRange:
		a, b := orderedRange(startIdx, endIdx)
		for i := a; i <= b; i++ {
			e := v.GetEntry(i)
			if e == nil {
				continue
			}
			if _, ok := v.selection[e]; ok {
				delete(v.selection, e)
			} else {
				v.selection[e] = struct{}{}
			}
		}
	}
}

func orderedRange(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// FoldersContainer/FilesContainer expose the view's own containers, so
// the orchestrator can ask the store whether either one happens to be
// a container the store itself still owns (see store.HasContainer).
func (v *View) FoldersContainer() *container.Container { return v.folders }
func (v *View) FilesContainer() *container.Container   { return v.files }

// OnStoreEvent reconciles the view against one store event. When ev
// reports a created entry and the view's container is its own, the
// query is evaluated against the entry and it is inserted on a match;
// when the view was built directly over store containers, which have
// already absorbed the mutation, nothing is inserted. When ev reports a
// deletion, the entry is removed from the view's container and its
// selection regardless of aliasing, since a deleted entry must never
// be reachable from the view either way.
func (v *View) OnStoreEvent(ev store.Event, storeHasOwnContainer bool) {
	switch ev.Kind {
	case store.EntryCreated:
		if storeHasOwnContainer {
			return
		}
		if !v.query.Match(ev.Entry) {
			return
		}
		if ev.Folder {
			v.folders.Insert(ev.Entry)
		} else {
			v.files.Insert(ev.Entry)
		}
	case store.EntryDeleted:
		if ev.Folder {
			v.folders.Steal(ev.Entry)
		} else {
			v.files.Steal(ev.Entry)
		}
		delete(v.selection, ev.Entry)
	case store.EntryAttributeChanged, store.EntryRenamed:
		if ev.Folder {
			v.folders.Reindex()
		} else {
			v.files.Reindex()
		}
	}
}
