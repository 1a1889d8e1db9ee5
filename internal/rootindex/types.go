// Package rootindex implements the per-root file index: it owns the
// entries of one configured root, drives the initial scan, and relays
// live filesystem changes as typed events.
package rootindex

import "context"

// PropertyFlags is a bitset of per-entry attributes this index tracks
// in addition to the always-present Name.
type PropertyFlags uint64

const (
	FlagSize PropertyFlags = 1 << iota
	FlagModificationTime
)

func (f PropertyFlags) Has(bit PropertyFlags) bool { return f&bit != 0 }

// State is the per-root index lifecycle, per spec.md §4.2:
// Created -> Scanning -> (Ready|Cancelled); Ready -> Monitoring via
// start_monitoring(true); either -> Stopped on last unref.
type State uint8

const (
	Created State = iota
	Scanning
	Ready
	Cancelled
	Monitoring
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Scanning:
		return "scanning"
	case Ready:
		return "ready"
	case Cancelled:
		return "cancelled"
	case Monitoring:
		return "monitoring"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Include describes one configured root, mirroring the IncludeManager
// collaborator's Include interface (spec.md §6).
type Include struct {
	ID               uint32
	Path             string
	OneFileSystem    bool
	Monitored        bool
	ScanAfterLaunch  bool
}

// ExcludeManager is the consumed collaborator interface from spec.md §6.
type ExcludeManager interface {
	Matches(path string) bool
}

// Scanner walks a root into an initial set of files and folders. It is
// an out-of-scope collaborator per spec.md §1; this package also ships
// a default implementation in scan.go.
type Scanner interface {
	Scan(ctx context.Context, include Include, exclude ExcludeManager, flags PropertyFlags) (files, folders []ScannedEntry, err error)
}

// ScannedEntry is the raw shape a Scanner produces for one path, before
// it is wired into the parent/child entry graph.
type ScannedEntry struct {
	RelPath string // "/"-separated, relative to the root
	IsDir   bool
	Size    uint64
	ModTime int64
}

// Monitor watches a root for filesystem changes and reports them via
// callback. It is an out-of-scope collaborator per spec.md §1; this
// package also ships a default fsnotify-backed implementation in
// monitor.go.
type Monitor interface {
	// Start begins watching root and must call report for every change
	// until Stop is called. Start must not block; it starts its own
	// goroutine(s).
	Start(ctx context.Context, root string, report func(RawChange)) error
	Stop() error
}

// RawChangeKind is the shape a Monitor reports changes in, before the
// owning Index resolves them against its path table into typed Events.
type RawChangeKind uint8

const (
	RawCreate RawChangeKind = iota
	RawRemove
	RawRename
	RawWrite
)

// RawChange is one filesystem notification as reported by a Monitor.
type RawChange struct {
	Kind    RawChangeKind
	Path    string // "/"-separated, relative to the root
	OldPath string // set only for RawRename, when known
}
