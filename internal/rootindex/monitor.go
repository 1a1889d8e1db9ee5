package rootindex

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultMaxWatchDirs = 8192

// renamePairWindow bounds how long a bare fsnotify.Rename (the old path
// leaving) waits for a following fsnotify.Create (the new path arriving)
// before it is reported as a plain removal. fsnotify v1.7 doesn't expose
// the inotify rename cookie that would pair the two deterministically,
// so this is a best-effort heuristic, not a guarantee.
const renamePairWindow = 50 * time.Millisecond

// normalizeSlash converts a filepath.Rel result (which uses the OS
// separator) into the "/"-joined relative-path form every RawChange
// and ScannedEntry uses.
func normalizeSlash(p string) string {
	if filepath.Separator == '/' {
		return p
	}
	return strings.ReplaceAll(p, string(filepath.Separator), "/")
}

// fsnotifyMonitor is the default Monitor implementation: one fsnotify
// watcher per root, with watches capped at maxWatchDirs rather than
// growing unbounded as new subdirectories appear.
type fsnotifyMonitor struct {
	maxWatchDirs int

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]struct{}
	rootAbs string
	stopped chan struct{}
	wg      sync.WaitGroup

	pending *pendingRename // rename awaiting a paired create, or nil
}

// pendingRename is a fsnotify.Rename (old path leaving) that hasn't
// yet been matched with a following fsnotify.Create (new path
// arriving). If no Create pairs with it within renamePairWindow, it is
// reported as a plain removal.
type pendingRename struct {
	relPath string
	absPath string
	timer   *time.Timer
}

// NewFsnotifyMonitor returns the default Monitor. maxWatchDirs bounds
// the number of directories concurrently watched for one root; zero
// selects a sensible default.
func NewFsnotifyMonitor(maxWatchDirs int) Monitor {
	if maxWatchDirs <= 0 {
		maxWatchDirs = defaultMaxWatchDirs
	}
	return &fsnotifyMonitor{maxWatchDirs: maxWatchDirs}
}

func (m *fsnotifyMonitor) Start(ctx context.Context, root string, report func(RawChange)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		rootAbs = root
	}

	m.mu.Lock()
	m.watcher = w
	m.watched = map[string]struct{}{rootAbs: {}}
	m.rootAbs = rootAbs
	m.stopped = make(chan struct{})
	m.mu.Unlock()

	if err := w.Add(rootAbs); err != nil {
		w.Close()
		return err
	}

	m.wg.Add(1)
	go m.loop(w, rootAbs, report)
	return nil
}

func (m *fsnotifyMonitor) loop(w *fsnotify.Watcher, rootAbs string, report func(RawChange)) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopped:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			m.handleEvent(w, rootAbs, ev, report)
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
			// individual watch errors do not abort monitoring
		}
	}
}

func (m *fsnotifyMonitor) handleEvent(w *fsnotify.Watcher, rootAbs string, ev fsnotify.Event, report func(RawChange)) {
	rel, err := filepath.Rel(rootAbs, ev.Name)
	if err != nil {
		return
	}
	rel = normalizeSlash(rel)

	switch {
	case ev.Op&fsnotify.Create != 0:
		if m.resolvePendingRename(rel, ev.Name, w, report) {
			return
		}
		m.maybeWatch(w, ev.Name)
		report(RawChange{Kind: RawCreate, Path: rel})
	case ev.Op&fsnotify.Remove != 0:
		m.forgetWatch(ev.Name)
		report(RawChange{Kind: RawRemove, Path: rel})
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify reports the old path leaving and the new path arriving
		// as two separate events; without the inotify rename cookie to
		// pair them precisely, hold this one briefly and report it as a
		// RawRename if a Create follows within renamePairWindow, falling
		// back to a plain removal otherwise.
		m.forgetWatch(ev.Name)
		m.startPendingRename(rel, ev.Name, report)
	case ev.Op&fsnotify.Write != 0:
		report(RawChange{Kind: RawWrite, Path: rel})
	}
}

// startPendingRename records a Rename-away event as pending, to be
// matched against the next Create. Only one rename can be in flight at
// a time; a second Rename before the first resolves flushes the first
// as a removal immediately.
func (m *fsnotifyMonitor) startPendingRename(rel, abs string, report func(RawChange)) {
	m.mu.Lock()
	prev := m.pending
	p := &pendingRename{relPath: rel, absPath: abs}
	m.pending = p
	m.mu.Unlock()

	if prev != nil {
		prev.timer.Stop()
		report(RawChange{Kind: RawRemove, Path: prev.relPath})
	}

	p.timer = time.AfterFunc(renamePairWindow, func() {
		m.mu.Lock()
		if m.pending != p {
			m.mu.Unlock()
			return
		}
		m.pending = nil
		m.mu.Unlock()
		report(RawChange{Kind: RawRemove, Path: rel})
	})
}

// resolvePendingRename reports a pending rename as paired with a new
// Create event, if one is currently pending. It reports whether it
// consumed the Create as the other half of a rename.
func (m *fsnotifyMonitor) resolvePendingRename(newRel, newAbs string, w *fsnotify.Watcher, report func(RawChange)) bool {
	m.mu.Lock()
	p := m.pending
	if p == nil {
		m.mu.Unlock()
		return false
	}
	m.pending = nil
	m.mu.Unlock()

	p.timer.Stop()
	m.maybeWatch(w, newAbs)
	report(RawChange{Kind: RawRename, OldPath: p.relPath, Path: newRel})
	return true
}

func (m *fsnotifyMonitor) maybeWatch(w *fsnotify.Watcher, abs string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.watched) >= m.maxWatchDirs {
		return
	}
	if _, ok := m.watched[abs]; ok {
		return
	}
	if err := w.Add(abs); err == nil {
		m.watched[abs] = struct{}{}
	}
}

func (m *fsnotifyMonitor) forgetWatch(abs string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[abs]; !ok {
		return
	}
	delete(m.watched, abs)
	if m.watcher != nil {
		_ = m.watcher.Remove(abs)
	}
}

func (m *fsnotifyMonitor) Stop() error {
	m.mu.Lock()
	w := m.watcher
	stopped := m.stopped
	if m.pending != nil {
		m.pending.timer.Stop()
		m.pending = nil
	}
	m.mu.Unlock()
	if stopped != nil {
		close(stopped)
	}
	var err error
	if w != nil {
		err = w.Close()
	}
	m.wg.Wait()
	return err
}
