package workqueue

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/fsearch/engine/internal/container"
	"github.com/fsearch/engine/internal/eventbus"
	"github.com/fsearch/engine/internal/fsentry"
	"github.com/fsearch/engine/internal/rootindex"
	"github.com/fsearch/engine/internal/searchview"
	"github.com/fsearch/engine/internal/snapshot"
	"github.com/fsearch/engine/internal/store"
	"github.com/fsearch/engine/internal/threadpool"
)

// Result-code sentinels, per spec.md §7. Success is the Go zero value
// (nil error); Failed is whatever wrapped error a handler logs, since
// handlers never return to a caller synchronously.
var (
	ErrBusy              = errors.New("workqueue: store is busy")
	ErrUnknownSearchView = errors.New("workqueue: unknown search view")
	ErrEntryNotFound     = errors.New("workqueue: entry not found")
)

// DatabaseInfo summarizes the current store, published on load/scan
// completion and returned by TryGetDatabaseInfo.
type DatabaseInfo struct {
	NumFolders         int
	NumFiles           int
	NumFastSortIndices int
}

// SearchInfo summarizes one registered search view.
type SearchInfo struct {
	ViewID     uint64
	NumFolders int
	NumFiles   int
}

// EntryInfo is the info object GetItemInfo synthesizes from an entry.
type EntryInfo struct {
	Name     string
	Path     string
	Size     uint64
	ModTime  int64
	IsFolder bool
}

// Orchestrator drains a FIFO of Work items on a single background
// goroutine, serializing every structural mutation to the store and its
// registered search views behind one mutex — the "store mutex" spec.md
// §4.5/§6 describes as guarding both queue handlers and the three
// non-blocking try-get reads.
type Orchestrator struct {
	pool *threadpool.Pool
	bus  *eventbus.Bus

	mu         sync.Mutex
	st         *store.Store
	views      map[uint64]*searchview.View
	includeMgr store.IncludeManager
	excludeMgr rootindex.ExcludeManager
	flags      rootindex.PropertyFlags

	queue chan Work
}

// New returns an Orchestrator configured with the default (possibly nil)
// include/exclude managers a first Scan would replace. Run must be
// called on its own goroutine to start draining the queue.
func New(pool *threadpool.Pool, bus *eventbus.Bus, includeMgr store.IncludeManager, excludeMgr rootindex.ExcludeManager, flags rootindex.PropertyFlags) *Orchestrator {
	return &Orchestrator{
		pool:       pool,
		bus:        bus,
		views:      make(map[uint64]*searchview.View),
		includeMgr: includeMgr,
		excludeMgr: excludeMgr,
		flags:      flags,
		queue:      make(chan Work, 64),
	}
}

// Enqueue appends w to the FIFO, stamping it with a correlation ID. It
// blocks only if the queue's internal buffer is full.
func (o *Orchestrator) Enqueue(w Work) {
	w.ID = uuid.New()
	o.queue <- w
}

// Run drains the queue strictly FIFO until a Quit item is dequeued, then
// returns.
func (o *Orchestrator) Run() {
	for w := range o.queue {
		log.Printf("workqueue[%s]: dequeued kind=%d", w.ID, w.Kind)
		if w.Kind == Quit {
			return
		}
		o.dispatch(w)
	}
}

func (o *Orchestrator) dispatch(w Work) {
	switch w.Kind {
	case LoadFromFile:
		o.handleLoadFromFile(w)
	case SaveToFile:
		o.handleSaveToFile(w)
	case Scan:
		o.handleScan(w, false)
	case Rescan:
		o.handleScan(w, true)
	case Search:
		o.handleSearch(w)
	case Sort:
		o.handleSort(w)
	case ModifySelection:
		o.handleModifySelection(w)
	case GetItemInfo:
		o.handleGetItemInfo(w)
	}
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// onStoreEvent is the store.EventCallback wired into every store this
// orchestrator builds. It reconciles every registered view against
// entry-level mutations, and emits exactly one database-changed event
// per StartModifying/EndModifying bracket regardless of how many
// entries changed within it (a monitor-driven batch of filesystem
// changes is one logical database change, per the live-create scenario
// in spec.md §8).
func (o *Orchestrator) onStoreEvent(ev store.Event) {
	switch ev.Kind {
	case store.StartModifying:
		return
	case store.EndModifying:
		o.mu.Lock()
		info := o.databaseInfoLocked()
		o.mu.Unlock()
		o.bus.Publish(eventbus.Event{Kind: eventbus.DatabaseChanged, Payload: info})
		return
	}

	o.mu.Lock()
	st := o.st
	for _, v := range o.views {
		aliased := st != nil && (st.HasContainer(v.FoldersContainer()) || st.HasContainer(v.FilesContainer()))
		v.OnStoreEvent(ev, aliased)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) handleLoadFromFile(w Work) {
	o.bus.Publish(eventbus.Event{Kind: eventbus.LoadStarted})

	o.mu.Lock()
	includeMgr, excludeMgr, flags := o.includeMgr, o.excludeMgr, o.flags
	o.mu.Unlock()

	snap, err := snapshot.Load(w.Path)
	var newStore *store.Store
	if err != nil {
		log.Printf("workqueue: load %s: %v", w.Path, err)
		newStore, _ = store.NewFromEntries(includeMgr, excludeMgr, flags, o.pool, o.onStoreEvent, nil, nil, nil)
	} else {
		persisted := persistedOrdersFromSnapshot(snap.Sorted)
		newStore, err = store.NewFromEntries(includeMgr, excludeMgr, snap.Flags, o.pool, o.onStoreEvent, snap.Folders, snap.Files, persisted)
		if err != nil {
			log.Printf("workqueue: build store from snapshot %s: %v", w.Path, err)
			newStore, _ = store.NewFromEntries(includeMgr, excludeMgr, flags, o.pool, o.onStoreEvent, nil, nil, nil)
		}
	}

	o.mu.Lock()
	o.st = newStore
	o.views = make(map[uint64]*searchview.View)
	if err == nil {
		o.flags = snap.Flags
	}
	info := o.databaseInfoLocked()
	o.mu.Unlock()

	o.bus.Publish(eventbus.Event{Kind: eventbus.LoadFinished, Payload: info})
}

func (o *Orchestrator) handleSaveToFile(w Work) {
	o.bus.Publish(eventbus.Event{Kind: eventbus.SaveStarted})

	o.mu.Lock()
	st := o.st
	flags := o.flags
	o.mu.Unlock()

	var err error
	if st != nil {
		nameFolders, okF := st.GetFolders(container.Name)
		nameFiles, okL := st.GetFiles(container.Name)
		var folderEntries, fileEntries []*fsentry.Entry
		if okF {
			folderEntries = nameFolders.Joined()
		}
		if okL {
			fileEntries = nameFiles.Joined()
		}
		sorted := buildSortedArrays(st, folderEntries, fileEntries)
		err = snapshot.Save(w.Path, flags, folderEntries, fileEntries, sorted)
	}
	if err != nil {
		log.Printf("workqueue: save %s: %v", w.Path, err)
	}

	o.bus.Publish(eventbus.Event{Kind: eventbus.SaveFinished})
}

// persistedOrdersFromSnapshot adapts a decoded snapshot's sorted-arrays
// block into the form store.NewFromEntries expects, so a freshly
// loaded store can reconstruct every non-Name sort order by
// permutation instead of re-sorting.
func persistedOrdersFromSnapshot(sorted []snapshot.SortedArray) []store.PersistedOrder {
	if len(sorted) == 0 {
		return nil
	}
	out := make([]store.PersistedOrder, len(sorted))
	for i, sa := range sorted {
		out[i] = store.PersistedOrder{
			SortKey:    sa.SortKey,
			FolderPerm: sa.FolderPerm,
			FilePerm:   sa.FilePerm,
		}
	}
	return out
}

// buildSortedArrays computes, for every non-Name sort key the store
// still maintains, the position each name-sorted folder/file occupies
// under that order — the inverse permutation the snapshot format
// persists per spec.md §4.6.
func buildSortedArrays(st *store.Store, nameFolders, nameFiles []*fsentry.Entry) []snapshot.SortedArray {
	keys := []container.SortKey{container.Path, container.Size, container.ModificationTime, container.Extension}
	out := make([]snapshot.SortedArray, 0, len(keys))
	for _, key := range keys {
		fc, okF := st.GetFolders(key)
		flc, okL := st.GetFiles(key)
		if !okF || !okL {
			continue
		}
		out = append(out, snapshot.SortedArray{
			SortKey:    key,
			FolderPerm: positionsOf(nameFolders, fc),
			FilePerm:   positionsOf(nameFiles, flc),
		})
	}
	return out
}

func positionsOf(nameOrder []*fsentry.Entry, sorted *container.Container) []uint32 {
	pos := make(map[*fsentry.Entry]int, sorted.NumEntries())
	for i, e := range sorted.Joined() {
		pos[e] = i
	}
	out := make([]uint32, len(nameOrder))
	for i, e := range nameOrder {
		out[i] = uint32(pos[e])
	}
	return out
}

// handleScan builds a fresh store from either w's configuration (Scan)
// or the orchestrator's current one (Rescan = reuseCurrent). A Scan
// whose configuration is unchanged from the current one is a no-op.
func (o *Orchestrator) handleScan(w Work, reuseCurrent bool) {
	o.mu.Lock()
	includeMgr, excludeMgr, flags := o.includeMgr, o.excludeMgr, o.flags
	if !reuseCurrent {
		if includeMgr != nil && w.IncludeMgr != nil && includeMgr.Equal(w.IncludeMgr) {
			o.mu.Unlock()
			return
		}
		includeMgr, excludeMgr, flags = w.IncludeMgr, w.ExcludeMgr, w.Flags
	}
	o.mu.Unlock()

	o.bus.Publish(eventbus.Event{Kind: eventbus.ScanStarted})
	ctx := ctxOrBackground(w.Ctx)

	newStore := store.New(includeMgr, excludeMgr, flags, o.pool, o.onStoreEvent)
	ok := newStore.Start(ctx)

	o.mu.Lock()
	if ok {
		o.st = newStore
		o.views = make(map[uint64]*searchview.View)
		o.includeMgr, o.excludeMgr, o.flags = includeMgr, excludeMgr, flags
		newStore.StartMonitoring()
	} else {
		log.Printf("workqueue: scan cancelled or failed")
	}
	info := o.databaseInfoLocked()
	o.mu.Unlock()

	o.bus.Publish(eventbus.Event{Kind: eventbus.ScanFinished, Payload: info})
}

// handleSearch evaluates w.Query over the store's containers for
// w.SortKey (falling back to Name) parallelised across the thread pool,
// and registers the resulting view under w.ViewID.
func (o *Orchestrator) handleSearch(w Work) {
	o.bus.Publish(eventbus.Event{Kind: eventbus.SearchStarted, ViewID: w.ViewID})
	ctx := ctxOrBackground(w.Ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.st == nil {
		log.Printf("workqueue: search: no store loaded")
		return
	}

	sortKey := w.SortKey
	files, okL := o.st.GetFiles(sortKey)
	folders, okF := o.st.GetFolders(sortKey)
	if !okL || !okF {
		sortKey = container.Name
		files, _ = o.st.GetFiles(sortKey)
		folders, _ = o.st.GetFolders(sortKey)
	}

	view, err := searchview.NewParallel(ctx, o.pool, w.Query, files, folders, nil, sortKey, container.None, w.Direction)
	if err != nil {
		log.Printf("workqueue: search: %v", err)
		return
	}
	o.views[w.ViewID] = view
	o.bus.Publish(eventbus.Event{Kind: eventbus.SearchFinished, ViewID: w.ViewID, Count: view.NumEntries(), Payload: searchInfo(w.ViewID, view)})
}

// handleSort re-sorts a registered view in place.
func (o *Orchestrator) handleSort(w Work) {
	ctx := ctxOrBackground(w.Ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	view, ok := o.views[w.ViewID]
	if !ok {
		log.Printf("workqueue: sort: unknown view %d", w.ViewID)
		return
	}
	if err := view.Resort(ctx, w.SortKey, container.None, w.Direction); err != nil {
		log.Printf("workqueue: sort view %d: %v", w.ViewID, err)
		return
	}
	o.bus.Publish(eventbus.Event{Kind: eventbus.SortFinished, ViewID: w.ViewID, Count: view.NumEntries(), Payload: searchInfo(w.ViewID, view)})
}

// handleModifySelection applies one selection mutation to a registered
// view.
func (o *Orchestrator) handleModifySelection(w Work) {
	o.mu.Lock()
	defer o.mu.Unlock()

	view, ok := o.views[w.ViewID]
	if !ok {
		log.Printf("workqueue: modify-selection: unknown view %d", w.ViewID)
		return
	}
	view.ModifySelection(w.SelectionKind, w.StartIdx, w.EndIdx)
	o.bus.Publish(eventbus.Event{Kind: eventbus.SelectionChanged, ViewID: w.ViewID, Payload: searchInfo(w.ViewID, view)})
}

// handleGetItemInfo synthesizes an EntryInfo from one entry in a
// registered view.
func (o *Orchestrator) handleGetItemInfo(w Work) {
	o.mu.Lock()
	defer o.mu.Unlock()

	view, ok := o.views[w.ViewID]
	if !ok {
		log.Printf("workqueue: get-item-info: unknown view %d", w.ViewID)
		return
	}
	e := view.GetEntry(w.Idx)
	if e == nil {
		log.Printf("workqueue: get-item-info: index %d out of range for view %d", w.Idx, w.ViewID)
		return
	}
	o.bus.Publish(eventbus.Event{Kind: eventbus.ItemInfoReady, ViewID: w.ViewID, Payload: entryInfo(e)})
}

func entryInfo(e *fsentry.Entry) EntryInfo {
	return EntryInfo{
		Name:     e.Name(),
		Path:     e.Path(),
		Size:     e.Size(),
		ModTime:  e.ModTime(),
		IsFolder: e.Type() == fsentry.Folder,
	}
}

func searchInfo(viewID uint64, v *searchview.View) SearchInfo {
	return SearchInfo{ViewID: viewID, NumFolders: v.NumFolders(), NumFiles: v.NumFiles()}
}

func (o *Orchestrator) databaseInfoLocked() DatabaseInfo {
	if o.st == nil {
		return DatabaseInfo{}
	}
	return DatabaseInfo{
		NumFolders:         o.st.NumFolders(),
		NumFiles:           o.st.NumFiles(),
		NumFastSortIndices: o.st.NumFastSortIndices(),
	}
}

// TryGetDatabaseInfo is the non-blocking read spec.md §4.5 names; it
// fails with ErrBusy rather than waiting if a queued handler currently
// holds the store mutex.
func (o *Orchestrator) TryGetDatabaseInfo() (DatabaseInfo, error) {
	if !o.mu.TryLock() {
		return DatabaseInfo{}, ErrBusy
	}
	defer o.mu.Unlock()
	return o.databaseInfoLocked(), nil
}

// TryGetSearchInfo is the non-blocking counterpart of Search/Sort's
// emitted info, keyed by view ID.
func (o *Orchestrator) TryGetSearchInfo(viewID uint64) (SearchInfo, error) {
	if !o.mu.TryLock() {
		return SearchInfo{}, ErrBusy
	}
	defer o.mu.Unlock()
	view, ok := o.views[viewID]
	if !ok {
		return SearchInfo{}, ErrUnknownSearchView
	}
	return searchInfo(viewID, view), nil
}

// TryGetItemInfo is the non-blocking counterpart of GetItemInfo.
func (o *Orchestrator) TryGetItemInfo(viewID uint64, idx int) (EntryInfo, error) {
	if !o.mu.TryLock() {
		return EntryInfo{}, ErrBusy
	}
	defer o.mu.Unlock()
	view, ok := o.views[viewID]
	if !ok {
		return EntryInfo{}, ErrUnknownSearchView
	}
	e := view.GetEntry(idx)
	if e == nil {
		return EntryInfo{}, ErrEntryNotFound
	}
	return entryInfo(e), nil
}
