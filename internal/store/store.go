// Package store implements the index store: it aggregates the
// per-root indices configured by an IncludeManager into a single set
// of name/path/size/modtime/extension-sorted containers.
package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/fsearch/engine/internal/container"
	"github.com/fsearch/engine/internal/fsentry"
	"github.com/fsearch/engine/internal/rootindex"
	"github.com/fsearch/engine/internal/threadpool"
)

// IncludeManager is the out-of-scope collaborator that supplies the
// configured roots to scan. Equal reports whether two managers would
// configure the same set of roots, used by the work-queue orchestrator
// to no-op a Scan whose configuration did not actually change.
type IncludeManager interface {
	All() []rootindex.Include
	Equal(other IncludeManager) bool
}

// EventKind is the subset of store-level notifications a store emits.
type EventKind uint8

const (
	EntryCreated EventKind = iota
	EntryDeleted
	EntryRenamed
	EntryAttributeChanged
	StartModifying
	EndModifying
)

// Event is one store-level notification, forwarded (after coalescing
// per-root index events into the store's aggregate containers) to
// whatever consumer registered via New — typically a search view.
type Event struct {
	Kind   EventKind
	Folder bool
	Entry  *fsentry.Entry
}

// EventCallback receives store-level events.
type EventCallback func(Event)

// Store aggregates every configured root's files and folders into
// containers sorted under each of container.Name, container.Path,
// container.Size, container.ModificationTime and container.Extension.
// Only one structural mutation (Start, a remove, or an add) runs at a
// time; reads via GetFiles/GetFolders take the same lock, so a read
// issued during Start waits until Start returns.
type Store struct {
	includeMgr IncludeManager
	excludeMgr rootindex.ExcludeManager
	flags      rootindex.PropertyFlags
	pool       *threadpool.Pool
	cb         EventCallback

	mu       sync.Mutex // serializes structural mutation
	running  bool
	members  map[uint32]*rootindex.Index
	files    map[container.SortKey]*container.Container
	folders  map[container.SortKey]*container.Container
}

var allSortKeys = []container.SortKey{container.Name, container.Path, container.Size, container.ModificationTime, container.Extension}

// New creates a store; it does nothing until Start is called.
func New(includeMgr IncludeManager, excludeMgr rootindex.ExcludeManager, flags rootindex.PropertyFlags, pool *threadpool.Pool, cb EventCallback) *Store {
	return &Store{
		includeMgr: includeMgr,
		excludeMgr: excludeMgr,
		flags:      flags,
		pool:       pool,
		cb:         cb,
		members:    make(map[uint32]*rootindex.Index),
		files:      make(map[container.SortKey]*container.Container),
		folders:    make(map[container.SortKey]*container.Container),
	}
}

// PersistedOrder is a precomputed non-Name sort order to reuse when
// building a store directly from decoded snapshot entries, instead of
// re-sorting from scratch: spec.md §4.6's sorted-arrays block persists
// exactly this information ("the positions of entries in the
// name-sorted array") for this reason. FolderPerm[i]/FilePerm[i] is
// the position the i-th name-sorted folder/file occupies under SortKey.
type PersistedOrder struct {
	SortKey    container.SortKey
	FolderPerm []uint32
	FilePerm   []uint32
}

// NewFromEntries builds an already-running store directly from a flat
// folder/file set, without scanning or any member per-root indices.
// This is how a decoded snapshot becomes a usable store: the snapshot
// format persists no per-root configuration (spec's "num_indexes" is
// always 0), so the resulting store has no monitored roots until a
// subsequent Scan/Rescan replaces it. persisted supplies any sort
// orders the snapshot already had computed; a sort key present there
// is reconstructed directly from the permutation (O(n)) instead of
// being re-sorted, and a sort key absent from it (or whose permutation
// doesn't match the decoded entry counts) falls back to a fresh sort.
func NewFromEntries(includeMgr IncludeManager, excludeMgr rootindex.ExcludeManager, flags rootindex.PropertyFlags, pool *threadpool.Pool, cb EventCallback, folders, files []*fsentry.Entry, persisted []PersistedOrder) (*Store, error) {
	s := New(includeMgr, excludeMgr, flags, pool, cb)
	ctx := context.Background()

	nameFiles, err := container.New(ctx, files, true, container.Name, container.None, fsentry.File)
	if err != nil {
		return nil, err
	}
	nameFolders, err := container.New(ctx, folders, true, container.Name, container.None, fsentry.Folder)
	if err != nil {
		return nil, err
	}
	s.files[container.Name] = nameFiles
	s.folders[container.Name] = nameFolders

	nameFileOrder := nameFiles.Joined()
	nameFolderOrder := nameFolders.Joined()

	byKey := make(map[container.SortKey]PersistedOrder, len(persisted))
	for _, p := range persisted {
		byKey[p.SortKey] = p
	}

	for _, key := range allSortKeys {
		if key == container.Name {
			continue
		}

		if p, ok := byKey[key]; ok {
			fc, ferr := container.FromPermutation(nameFileOrder, p.FilePerm, key, fsentry.File)
			dc, derr := container.FromPermutation(nameFolderOrder, p.FolderPerm, key, fsentry.Folder)
			if ferr == nil && derr == nil {
				s.files[key] = fc
				s.folders[key] = dc
				continue
			}
		}

		fc, err := container.New(ctx, files, true, key, container.Name, fsentry.File)
		if err != nil {
			return nil, err
		}
		dc, err := container.New(ctx, folders, true, key, container.Name, fsentry.Folder)
		if err != nil {
			return nil, err
		}
		s.files[key] = fc
		s.folders[key] = dc
	}
	s.running = true
	return s, nil
}

// Start scans every configured root that is not already a member,
// concurrently via the thread pool, then
// merges the results into the store's sorted containers. It reports
// whether it completed; on cancellation the store is left empty and
// not running. Roots are not filtered by property flags: each root is
// scanned with the store's own flags.
func (s *Store) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	includes := s.includeMgr.All()

	type scanned struct {
		id      uint32
		ix      *rootindex.Index
		files   []*fsentry.Entry
		folders []*fsentry.Entry
		ok      bool
	}
	results := make([]scanned, len(includes))

	fns := make([]func(context.Context) error, 0, len(includes))
	for i, inc := range includes {
		i, inc := i, inc
		if _, exists := s.members[inc.ID]; exists {
			continue
		}
		fns = append(fns, func(ctx context.Context) error {
			ix := rootindex.New(inc.ID, inc, s.excludeMgr, s.flags, nil, rootindex.NewFsnotifyMonitor(0), s.onIndexEvent)
			ok := ix.Scan(ctx)
			results[i] = scanned{id: inc.ID, ix: ix, files: ix.GetFiles().Joined(), folders: ix.GetFolders().Joined(), ok: ok}
			return nil
		})
	}

	if err := s.pool.Run(ctx, fns...); err != nil || ctx.Err() != nil {
		s.reset()
		return false
	}

	var allFiles, allFolders []*fsentry.Entry
	for _, r := range results {
		if r.ix == nil {
			continue
		}
		if !r.ok {
			s.reset()
			return false
		}
		s.members[r.id] = r.ix
		allFiles = append(allFiles, r.files...)
		allFolders = append(allFolders, r.folders...)
	}

	for _, key := range allSortKeys {
		fc, err := container.New(ctx, allFiles, true, key, container.Name, fsentry.File)
		if err != nil {
			s.reset()
			return false
		}
		dc, err := container.New(ctx, allFolders, true, key, container.Name, fsentry.Folder)
		if err != nil {
			s.reset()
			return false
		}
		s.files[key] = fc
		s.folders[key] = dc
	}

	s.running = true
	log.Printf("store: started with %d roots, %d files, %d folders", len(s.members), len(allFiles), len(allFolders))
	return true
}

func (s *Store) reset() {
	s.members = make(map[uint32]*rootindex.Index)
	s.files = make(map[container.SortKey]*container.Container)
	s.folders = make(map[container.SortKey]*container.Container)
	s.running = false
}

// StartMonitoring enables filesystem monitoring on every member index.
func (s *Store) StartMonitoring() {
	s.mu.Lock()
	members := make([]*rootindex.Index, 0, len(s.members))
	for _, ix := range s.members {
		members = append(members, ix)
	}
	s.mu.Unlock()

	for _, ix := range members {
		if err := ix.StartMonitoring(true); err != nil {
			log.Printf("store: start monitoring root %d: %v", ix.GetID(), err)
		}
	}
}

// NumFiles reports the exact number of distinct files held, using the
// Name-sorted container as the canonical count.
func (s *Store) NumFiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.files[container.Name]; ok {
		return c.NumEntries()
	}
	return 0
}

// NumFolders reports the exact number of distinct folders held.
func (s *Store) NumFolders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.folders[container.Name]; ok {
		return c.NumEntries()
	}
	return 0
}

// NumFastSortIndices reports how many sort keys have both a file and a
// folder container maintained.
func (s *Store) NumFastSortIndices() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.files {
		if _, ok := s.folders[key]; ok {
			n++
		}
	}
	return n
}

// GetFiles returns the store's file container for sortKey, or false if
// the store is not running or maintains no container for that key.
func (s *Store) GetFiles(sortKey container.SortKey) (*container.Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, false
	}
	c, ok := s.files[sortKey]
	return c, ok
}

// GetFolders returns the store's folder container for sortKey.
func (s *Store) GetFolders(sortKey container.SortKey) (*container.Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, false
	}
	c, ok := s.folders[sortKey]
	return c, ok
}

// HasContainer is an identity check used by search views to avoid
// aliasing a container the store still owns.
func (s *Store) HasContainer(c *container.Container) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fc := range s.files {
		if fc == c {
			return true
		}
	}
	for _, dc := range s.folders {
		if dc == c {
			return true
		}
	}
	return false
}

// RemoveEntry steals e from every maintained container of its type. It
// panics if index is not a member of the store, matching the package's
// convention that a caller passing an index the store does not own is a
// programmer error, not a recoverable one.
func (s *Store) RemoveEntry(e *fsentry.Entry, index *rootindex.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertMember(index)

	byType := s.folders
	if e.Type() == fsentry.File {
		byType = s.files
	}
	for _, c := range byType {
		c.Steal(e)
	}
}

// RemoveFolders steals every entry in arr from every maintained folder
// container.
func (s *Store) RemoveFolders(arr []*fsentry.Entry, index *rootindex.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertMember(index)
	for _, e := range arr {
		for _, c := range s.folders {
			c.Steal(e)
		}
	}
}

// RemoveFiles steals every entry in arr from every maintained file
// container.
func (s *Store) RemoveFiles(arr []*fsentry.Entry, index *rootindex.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertMember(index)
	for _, e := range arr {
		for _, c := range s.files {
			c.Steal(e)
		}
	}
}

// AddEntries inserts arr into every maintained container of the
// appropriate type.
func (s *Store) AddEntries(arr []*fsentry.Entry, isFolder bool) {
	if len(arr) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := s.files
	if isFolder {
		byType = s.folders
	}
	for _, c := range byType {
		c.InsertAll(arr)
	}
}

func (s *Store) assertMember(index *rootindex.Index) {
	if index == nil {
		panic("store: nil index")
	}
	if _, ok := s.members[index.GetID()]; !ok {
		panic(fmt.Sprintf("store: index %d is not a member of this store", index.GetID()))
	}
}

// onIndexEvent is the EventCallback handed to every member Index. It
// translates per-root events into store-level mutations and forwards a
// reduced Event to the store's own subscriber, all inside the
// StartModifying/EndModifying bracket the per-root index already
// establishes for a batch of monitor-driven changes.
func (s *Store) onIndexEvent(ev rootindex.Event) {
	switch ev.Kind {
	case rootindex.StartModifying:
		s.emit(Event{Kind: StartModifying})
		return
	case rootindex.EndModifying:
		s.emit(Event{Kind: EndModifying})
		return
	case rootindex.EntryCreated, rootindex.EntryDeleted, rootindex.EntryRenamed, rootindex.EntryMoved, rootindex.EntryAttributeChanged:
	default:
		// Scan and monitoring lifecycle events carry no store mutation;
		// ScanStarted/ScanFinished arrive while Start already holds s.mu.
		return
	}

	s.mu.Lock()
	for _, f := range ev.Folders {
		s.applyOne(ev.Kind, f, true)
	}
	for _, f := range ev.Files {
		s.applyOne(ev.Kind, f, false)
	}
	s.mu.Unlock()

	for _, f := range ev.Folders {
		s.emitFor(ev.Kind, f, true)
	}
	for _, f := range ev.Files {
		s.emitFor(ev.Kind, f, false)
	}
}

// applyOne mutates the store's containers for a single per-root event.
// Caller holds s.mu.
func (s *Store) applyOne(kind rootindex.EventKind, e *fsentry.Entry, isFolder bool) {
	byType := s.files
	if isFolder {
		byType = s.folders
	}
	switch kind {
	case rootindex.EntryCreated:
		for _, c := range byType {
			c.Insert(e)
		}
	case rootindex.EntryDeleted:
		for _, c := range byType {
			c.Steal(e)
		}
	case rootindex.EntryRenamed, rootindex.EntryMoved:
		for _, c := range byType {
			c.Reindex()
		}
	case rootindex.EntryAttributeChanged:
		for _, c := range byType {
			if c.Primary() == container.Size || c.Primary() == container.ModificationTime {
				c.Reindex()
			}
		}
	}
}

func (s *Store) emitFor(kind rootindex.EventKind, e *fsentry.Entry, isFolder bool) {
	var mapped EventKind
	switch kind {
	case rootindex.EntryCreated:
		mapped = EntryCreated
	case rootindex.EntryDeleted:
		mapped = EntryDeleted
	case rootindex.EntryRenamed, rootindex.EntryMoved:
		mapped = EntryRenamed
	case rootindex.EntryAttributeChanged:
		mapped = EntryAttributeChanged
	default:
		return
	}
	s.emit(Event{Kind: mapped, Folder: isFolder, Entry: e})
}

func (s *Store) emit(ev Event) {
	if s.cb != nil {
		s.cb(ev)
	}
}
