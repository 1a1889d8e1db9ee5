package rootindex

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsearch/engine/internal/container"
	"github.com/fsearch/engine/internal/fsentry"
)

// Index owns the entries of one configured root: it drives the initial
// scan, maintains name-sorted file/folder containers for that root
// alone, and relays live monitor events as typed Events to its owner.
type Index struct {
	id      uint32
	include Include
	exclude ExcludeManager
	flags   PropertyFlags

	scanner Scanner
	monitor Monitor
	cb      EventCallback

	mu    sync.Mutex // guards state, paths, root and pairs with monitor callbacks
	state State
	root  *fsentry.Entry
	paths map[string]*fsentry.Entry // rel path ("/"-joined) -> entry, includes the root

	files   *container.Container // name-sorted, this root only
	folders *container.Container // name-sorted, this root only

	refs int32
}

// New creates a per-root index. It does not start scanning or
// monitoring; call Scan and StartMonitoring explicitly. A scan is
// bounded by the context passed to Scan; monitoring runs until
// StartMonitoring(false) or the last Unref stops it.
func New(id uint32, include Include, exclude ExcludeManager, flags PropertyFlags, scanner Scanner, monitor Monitor, cb EventCallback) *Index {
	if scanner == nil {
		scanner = defaultScanner{}
	}
	ix := &Index{
		id:      id,
		include: include,
		exclude: exclude,
		flags:   flags,
		scanner: scanner,
		monitor: monitor,
		cb:      cb,
		state:   Created,
		paths:   make(map[string]*fsentry.Entry),
		refs:    1,
	}
	return ix
}

func (ix *Index) GetID() uint32          { return ix.id }
func (ix *Index) GetFlags() PropertyFlags { return ix.flags }
func (ix *Index) Include() Include       { return ix.include }

// Lock/Unlock guard the index's mutable state against concurrent
// monitor callbacks, per spec.md §4.2.
func (ix *Index) Lock()   { ix.mu.Lock() }
func (ix *Index) Unlock() { ix.mu.Unlock() }

func (ix *Index) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

// Ref increments the reference count.
func (ix *Index) Ref() { atomic.AddInt32(&ix.refs, 1) }

// Unref decrements the reference count; on the last reference it stops
// monitoring and transitions to Stopped.
func (ix *Index) Unref() {
	if atomic.AddInt32(&ix.refs, -1) > 0 {
		return
	}
	if ix.monitor != nil {
		_ = ix.monitor.Stop()
	}
	ix.mu.Lock()
	ix.state = Stopped
	ix.mu.Unlock()
}

func (ix *Index) emit(ev Event) {
	if ix.cb != nil {
		ev.Index = ix
		ix.cb(ev)
	}
}

// Scan walks the root via the configured Scanner and populates the
// index's name-sorted containers. It reports true on success, false if
// cancelled or if the scan failed; either way the index is left in a
// usable (possibly empty) state: a failed first scan leaves empty
// containers.
func (ix *Index) Scan(ctx context.Context) bool {
	ix.mu.Lock()
	ix.state = Scanning
	ix.mu.Unlock()
	ix.emit(Event{Kind: ScanStarted})

	scanned, ok := ix.doScan(ctx)

	ix.mu.Lock()
	if ok {
		ix.state = Ready
	} else {
		ix.state = Cancelled
		if ix.files == nil || ix.folders == nil {
			ix.files, _ = container.New(context.Background(), nil, false, container.Name, container.None, fsentry.File)
			ix.folders, _ = container.New(context.Background(), nil, false, container.Name, container.None, fsentry.Folder)
		}
	}
	ix.mu.Unlock()
	ix.emit(Event{Kind: ScanFinished, Folders: scanned.folders, Files: scanned.files})
	return ok
}

type scanResult struct {
	folders []*fsentry.Entry
	files   []*fsentry.Entry
}

func (ix *Index) doScan(ctx context.Context) (scanResult, bool) {
	files, folders, err := ix.scanner.Scan(ctx, ix.include, ix.exclude, ix.flags)
	if err != nil || ctx.Err() != nil {
		return scanResult{}, false
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	root := fsentry.New(fsentry.Type(fsentry.Folder), rootName(ix.include.Path), nil, 0, 0)
	ix.root = root
	ix.paths = map[string]*fsentry.Entry{".": root}

	// Folders must be created before files/children reference them as
	// parents; sort scanned folders by path depth (slash count) so a
	// parent is always materialized before its children are looked up.
	sortByDepth(folders)

	var folderEntries, fileEntries []*fsentry.Entry
	for _, sf := range folders {
		parent := ix.resolveParent(sf.RelPath)
		e := fsentry.New(fsentry.Folder, path.Base(sf.RelPath), parent, 0, sf.ModTime)
		ix.paths[sf.RelPath] = e
		folderEntries = append(folderEntries, e)
	}
	for _, sf := range files {
		parent := ix.resolveParent(sf.RelPath)
		e := fsentry.New(fsentry.File, path.Base(sf.RelPath), parent, sf.Size, sf.ModTime)
		ix.paths[sf.RelPath] = e
		fileEntries = append(fileEntries, e)
		if parent != nil {
			parent.AddChildSize(int64(sf.Size))
		}
	}

	fc, err1 := container.New(ctx, fileEntries, false, container.Name, container.None, fsentry.File)
	dc, err2 := container.New(ctx, folderEntries, false, container.Name, container.None, fsentry.Folder)
	if err1 != nil || err2 != nil {
		return scanResult{}, false
	}
	ix.files, ix.folders = fc, dc

	return scanResult{folders: folderEntries, files: fileEntries}, true
}

// resolveParent finds the folder entry owning relPath, creating nothing;
// it must already be in ix.paths because folders are processed in
// depth order before being dereferenced as parents. Caller holds ix.mu.
func (ix *Index) resolveParent(relPath string) *fsentry.Entry {
	dir := path.Dir(relPath)
	if dir == "." || dir == "/" {
		return ix.root
	}
	return ix.paths[dir]
}

// StartMonitoring enables or disables live filesystem monitoring.
func (ix *Index) StartMonitoring(enabled bool) error {
	if !enabled {
		if ix.monitor == nil {
			return nil
		}
		err := ix.monitor.Stop()
		ix.mu.Lock()
		ix.state = Ready
		ix.mu.Unlock()
		ix.emit(Event{Kind: MonitoringFinished})
		return err
	}
	if ix.monitor == nil || !ix.include.Monitored {
		return nil
	}
	if err := ix.monitor.Start(context.Background(), ix.include.Path, ix.handleRawChange); err != nil {
		return fmt.Errorf("rootindex: start monitoring %s: %w", ix.include.Path, err)
	}
	ix.mu.Lock()
	ix.state = Monitoring
	ix.mu.Unlock()
	ix.emit(Event{Kind: MonitoringStarted})
	return nil
}

// GetFiles/GetFolders return this root's own name-sorted containers.
func (ix *Index) GetFiles() *container.Container   { return ix.files }
func (ix *Index) GetFolders() *container.Container { return ix.folders }

// handleRawChange is the callback handed to Monitor.Start. It runs on
// the monitor's goroutine, resolves the raw path-based change against
// the index's entry graph, mutates the index's own containers, and
// forwards a typed Event bracketed by StartModifying/EndModifying so
// the store can apply the same mutation to its aggregate containers.
func (ix *Index) handleRawChange(rc RawChange) {
	if ix.state != Monitoring && ix.State() != Monitoring {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.emit(Event{Kind: StartModifying})
	defer ix.emit(Event{Kind: EndModifying})

	switch rc.Kind {
	case RawCreate:
		ix.applyCreate(rc.Path)
	case RawRemove:
		ix.applyRemove(rc.Path)
	case RawRename:
		ix.applyRename(rc.OldPath, rc.Path)
	case RawWrite:
		ix.applyWrite(rc.Path)
	}
}

func (ix *Index) applyCreate(relPath string) {
	if ix.exclude != nil && ix.exclude.Matches(relPath) {
		return
	}
	if _, exists := ix.paths[relPath]; exists {
		return
	}
	parent := ix.resolveParent(relPath)
	if parent == nil && path.Dir(relPath) != "." {
		return // parent not tracked (likely itself excluded)
	}
	isDir := strings.HasSuffix(relPath, "/")
	relPath = strings.TrimSuffix(relPath, "/")
	e := fsentry.New(entryType(isDir), path.Base(relPath), parent, 0, 0)
	ix.paths[relPath] = e
	if isDir {
		ix.folders.Insert(e)
		ix.emit(Event{Kind: EntryCreated, Folders: []*fsentry.Entry{e}})
	} else {
		ix.files.Insert(e)
		ix.emit(Event{Kind: EntryCreated, Files: []*fsentry.Entry{e}})
	}
}

func (ix *Index) applyRemove(relPath string) {
	e, ok := ix.paths[relPath]
	if !ok {
		return
	}
	delete(ix.paths, relPath)
	if e.Type() == fsentry.Folder {
		ix.folders.Steal(e)
		ix.emit(Event{Kind: EntryDeleted, Folders: []*fsentry.Entry{e}})
	} else {
		if p := e.Parent(); p != nil {
			p.AddChildSize(-int64(e.Size()))
		}
		ix.files.Steal(e)
		ix.emit(Event{Kind: EntryDeleted, Files: []*fsentry.Entry{e}})
	}
}

func (ix *Index) applyRename(oldPath, newPath string) {
	e, ok := ix.paths[oldPath]
	if !ok {
		ix.applyCreate(newPath)
		return
	}

	moved := path.Dir(oldPath) != path.Dir(newPath)
	if moved {
		newParent := ix.resolveParent(newPath)
		if newParent == nil && path.Dir(newPath) != "." {
			// destination directory isn't tracked (likely excluded): treat
			// as the entry leaving the index, same as a plain removal.
			ix.applyRemove(oldPath)
			return
		}
		e.Reparent(newParent)
	}

	delete(ix.paths, oldPath)
	ix.paths[newPath] = e
	e.Rename(path.Base(newPath))
	if e.Type() == fsentry.Folder && moved {
		ix.reparentPaths(oldPath, newPath, e)
	}

	kind := EntryRenamed
	if moved {
		kind = EntryMoved
	}
	if e.Type() == fsentry.Folder {
		ix.folders.Reindex()
		ix.emit(Event{Kind: kind, Folders: []*fsentry.Entry{e}})
	} else {
		ix.files.Reindex()
		ix.emit(Event{Kind: kind, Files: []*fsentry.Entry{e}})
	}
}

// reparentPaths rewrites every descendant's key in ix.paths after
// folder e moves from oldPath to newPath, so later lookups by relative
// path (applyCreate/applyRemove/applyRename/applyWrite) resolve against
// the entry's new location. e itself has already been remapped by the
// caller; only its children need adjusting here.
func (ix *Index) reparentPaths(oldPath, newPath string, e *fsentry.Entry) {
	prefix := oldPath + "/"
	type move struct {
		old, new string
		entry    *fsentry.Entry
	}
	var moves []move
	for p, child := range ix.paths {
		if child == e || !strings.HasPrefix(p, prefix) {
			continue
		}
		moves = append(moves, move{old: p, new: newPath + "/" + strings.TrimPrefix(p, prefix), entry: child})
	}
	for _, m := range moves {
		delete(ix.paths, m.old)
		ix.paths[m.new] = m.entry
	}
}

func (ix *Index) applyWrite(relPath string) {
	e, ok := ix.paths[relPath]
	if !ok || e.Type() != fsentry.File {
		return
	}
	if fi, err := os.Stat(filepath.Join(ix.include.Path, filepath.FromSlash(relPath))); err == nil {
		if ix.flags.Has(FlagSize) {
			if p := e.Parent(); p != nil {
				p.AddChildSize(fi.Size() - int64(e.Size()))
			}
			e.SetSize(uint64(fi.Size()))
		}
		if ix.flags.Has(FlagModificationTime) {
			e.SetModTime(fi.ModTime().Unix())
		}
	}
	ix.emit(Event{Kind: EntryAttributeChanged, Files: []*fsentry.Entry{e}})
}

func entryType(isDir bool) fsentry.Type {
	if isDir {
		return fsentry.Folder
	}
	return fsentry.File
}

func rootName(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func sortByDepth(s []ScannedEntry) {
	// Insertion sort: scanners typically return a near-sorted walk
	// order already, so this is effectively linear in practice.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && depth(s[j-1].RelPath) > depth(s[j].RelPath); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func depth(relPath string) int { return strings.Count(relPath, "/") }
