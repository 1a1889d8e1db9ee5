// Package fsentry defines the in-memory record for one file or folder.
package fsentry

import "strings"

// Type distinguishes a file entry from a folder entry.
type Type uint8

const (
	File Type = iota
	Folder
)

func (t Type) String() string {
	if t == Folder {
		return "folder"
	}
	return "file"
}

// Entry is one file or folder. Type is fixed at construction; Name and
// Parent change through Rename and Reparent when the owning root index
// handles a rename or move, and Size and ModTime are updated in place
// by that index when it handles an attribute change.
// Idx is a scratch slot that nothing in this module sets; the snapshot
// codec tracks folder positions in its own map instead. It must not be
// relied on.
type Entry struct {
	typ    Type
	name   string
	parent *Entry
	size   uint64
	mtime  int64
	idx    uint32
}

// New creates an entry. parent must be a Folder entry, or nil for a root.
func New(typ Type, name string, parent *Entry, size uint64, mtime int64) *Entry {
	if parent != nil && parent.typ != Folder {
		panic("fsentry: parent must be a folder")
	}
	return &Entry{typ: typ, name: name, parent: parent, size: size, mtime: mtime}
}

func (e *Entry) Type() Type      { return e.typ }
func (e *Entry) Name() string    { return e.name }
func (e *Entry) Parent() *Entry  { return e.parent }
func (e *Entry) IsRoot() bool    { return e.parent == nil }
func (e *Entry) Size() uint64    { return e.size }
func (e *Entry) ModTime() int64  { return e.mtime }
func (e *Entry) Idx() uint32     { return e.idx }
func (e *Entry) SetIdx(i uint32) { e.idx = i }

// SetSize updates the entry's cached size, e.g. in response to an
// EntryAttributeChanged event or while re-deriving a folder's recursive
// size. Must be called while the owning index's lock is held.
func (e *Entry) SetSize(size uint64) { e.size = size }

// SetModTime updates the entry's cached modification time. Must be
// called while the owning index's lock is held.
func (e *Entry) SetModTime(mtime int64) { e.mtime = mtime }

// Rename changes the entry's basename in place, e.g. in response to an
// EntryRenamed event. Must be called while the owning index's lock is
// held; the caller is responsible for re-sorting any container that
// orders by Name or Path.
func (e *Entry) Rename(name string) { e.name = name }

// Reparent moves the entry under a new parent folder, e.g. in response
// to an EntryMoved event. Must be called while the owning index's lock
// is held; the caller is responsible for re-sorting any container that
// orders by Path.
func (e *Entry) Reparent(parent *Entry) {
	if parent != nil && parent.typ != Folder {
		panic("fsentry: parent must be a folder")
	}
	e.parent = parent
}

// AddChildSize adjusts this folder's cached size by delta, propagating
// up the parent chain. Used to keep Size equal to the recursive sum of
// direct children's sizes as children are added, removed, or resized.
func (e *Entry) AddChildSize(delta int64) {
	for f := e; f != nil; f = f.parent {
		if delta >= 0 {
			f.size += uint64(delta)
		} else {
			d := uint64(-delta)
			if d > f.size {
				f.size = 0
			} else {
				f.size -= d
			}
		}
	}
}

// Path reconstructs the full slash-separated path by walking the
// parent chain. Avoid calling this in hot loops over large trees;
// the container package's Path sort key orders entries by walking
// their parent chains instead of building path strings.
func (e *Entry) Path() string {
	if e.parent == nil {
		return e.name
	}
	var segs []string
	for n := e; n != nil; n = n.parent {
		segs = append(segs, n.name)
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "/")
}

// Extension returns the suffix after the last dot in Name, or "" if
// there is none or the entry is a folder.
func (e *Entry) Extension() string {
	if e.typ == Folder {
		return ""
	}
	if i := strings.LastIndexByte(e.name, '.'); i >= 0 {
		return e.name[i+1:]
	}
	return ""
}

// Depth returns the number of ancestors between this entry and its root.
func (e *Entry) Depth() int {
	d := 0
	for n := e.parent; n != nil; n = n.parent {
		d++
	}
	return d
}
