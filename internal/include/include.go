// Package include implements the default IncludeManager: a fixed,
// in-memory list of configured roots, each assigned an ID at
// registration time.
package include

import (
	"fmt"
	"sync"

	"github.com/fsearch/engine/internal/rootindex"
	"github.com/fsearch/engine/internal/store"
)

// Manager holds the set of configured roots. It is safe for concurrent
// use; mutation (Add/Remove) is expected to be rare compared to lookups.
type Manager struct {
	mu      sync.RWMutex
	nextID  uint32
	entries map[uint32]rootindex.Include
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{nextID: 1, entries: make(map[uint32]rootindex.Include)}
}

// Add registers a new root and returns the Include assigned to it.
func (m *Manager) Add(path string, oneFileSystem, monitored, scanAfterLaunch bool) rootindex.Include {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc := rootindex.Include{
		ID:              m.nextID,
		Path:            path,
		OneFileSystem:   oneFileSystem,
		Monitored:       monitored,
		ScanAfterLaunch: scanAfterLaunch,
	}
	m.entries[inc.ID] = inc
	m.nextID++
	return inc
}

// Remove drops a configured root by ID. It reports whether an entry was
// present.
func (m *Manager) Remove(id uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	return true
}

// Get returns the Include for id, or an error if unknown.
func (m *Manager) Get(id uint32) (rootindex.Include, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.entries[id]
	if !ok {
		return rootindex.Include{}, fmt.Errorf("include: unknown root id %d", id)
	}
	return inc, nil
}

// All returns a snapshot of every configured root, in ascending ID order.
func (m *Manager) All() []rootindex.Include {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rootindex.Include, 0, len(m.entries))
	for _, inc := range m.entries {
		out = append(out, inc)
	}
	sortByID(out)
	return out
}

// Equal reports whether other configures the same set of roots,
// compared by full Include value (not just ID), regardless of order.
func (m *Manager) Equal(other store.IncludeManager) bool {
	if other == nil {
		return false
	}
	a, b := m.All(), other.All()
	if len(a) != len(b) {
		return false
	}
	byID := make(map[uint32]rootindex.Include, len(a))
	for _, inc := range a {
		byID[inc.ID] = inc
	}
	for _, inc := range b {
		prev, ok := byID[inc.ID]
		if !ok || prev != inc {
			return false
		}
	}
	return true
}

func sortByID(s []rootindex.Include) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].ID > s[j].ID; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
