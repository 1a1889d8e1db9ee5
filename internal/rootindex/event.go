package rootindex

import "github.com/fsearch/engine/internal/fsentry"

// EventKind enumerates the notifications a per-root index delivers to
// its owner (spec.md §4.2).
type EventKind uint8

const (
	ScanStarted EventKind = iota
	ScanFinished
	MonitoringStarted
	MonitoringFinished
	EntryCreated
	EntryDeleted
	EntryRenamed
	EntryMoved
	EntryChanged
	EntryAttributeChanged
	StartModifying
	EndModifying
)

func (k EventKind) String() string {
	switch k {
	case ScanStarted:
		return "scan-started"
	case ScanFinished:
		return "scan-finished"
	case MonitoringStarted:
		return "monitoring-started"
	case MonitoringFinished:
		return "monitoring-finished"
	case EntryCreated:
		return "entry-created"
	case EntryDeleted:
		return "entry-deleted"
	case EntryRenamed:
		return "entry-renamed"
	case EntryMoved:
		return "entry-moved"
	case EntryChanged:
		return "entry-changed"
	case EntryAttributeChanged:
		return "entry-attribute-changed"
	case StartModifying:
		return "start-modifying"
	case EndModifying:
		return "end-modifying"
	default:
		return "unknown"
	}
}

// Event is one notification from an Index to its owning store. Folders
// and Files are populated only for the entry-mutation kinds; both may
// be empty for bracketing/lifecycle kinds.
type Event struct {
	Kind    EventKind
	Index   *Index
	Folders []*fsentry.Entry
	Files   []*fsentry.Entry
}

// EventCallback is invoked for every Event an Index produces. Per
// spec.md §4.2, exactly one store lock is held by the consumer inside a
// StartModifying..EndModifying bracket; mutations outside the bracket
// are disallowed.
type EventCallback func(Event)
