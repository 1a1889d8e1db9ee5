package workqueue

import (
	"context"

	"github.com/google/uuid"

	"github.com/fsearch/engine/internal/container"
	"github.com/fsearch/engine/internal/query"
	"github.com/fsearch/engine/internal/rootindex"
	"github.com/fsearch/engine/internal/searchview"
	"github.com/fsearch/engine/internal/store"
)

// Kind identifies one of the work items the orchestrator's single
// background executor drains, per spec.md §4.5.
type Kind uint8

const (
	LoadFromFile Kind = iota
	SaveToFile
	Scan
	Rescan
	Search
	Sort
	ModifySelection
	GetItemInfo
	Quit
)

// Work is one queued item. Only the fields relevant to Kind are read
// by its handler; the rest are zero. ID is stamped by Orchestrator.Enqueue
// and exists purely for log correlation; it has no bearing on ordering.
type Work struct {
	Kind Kind
	Ctx  context.Context
	ID   uuid.UUID

	// LoadFromFile / SaveToFile
	Path string

	// Scan (Rescan reuses the orchestrator's current configuration and
	// ignores these fields)
	IncludeMgr store.IncludeManager
	ExcludeMgr rootindex.ExcludeManager
	Flags      rootindex.PropertyFlags

	// Search
	Query     query.Query
	ViewID    uint64
	SortKey   container.SortKey
	Direction searchview.Direction

	// Sort reuses ViewID, SortKey, Direction above.

	// ModifySelection
	SelectionKind searchview.SelectionKind
	StartIdx      int
	EndIdx        int

	// GetItemInfo reuses ViewID, SortKey/Direction are unused; Idx is
	// read. Flags is ignored: EntryInfo always carries every attribute.
	Idx int
}
