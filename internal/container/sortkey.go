package container

import (
	"strings"
	"unsafe"

	"github.com/fsearch/engine/internal/fsentry"
)

// SortKey is one of the orderings an entries container can be built
// under, either as the primary or secondary key.
type SortKey uint8

const (
	Name SortKey = iota
	Path
	Size
	ModificationTime
	Extension
	None
)

func (k SortKey) String() string {
	switch k {
	case Name:
		return "name"
	case Path:
		return "path"
	case Size:
		return "size"
	case ModificationTime:
		return "mtime"
	case Extension:
		return "extension"
	default:
		return "none"
	}
}

// compareKey compares a and b under a single sort key. It returns 0 if
// the key does not distinguish them (callers fall through to the
// secondary key, then to identity order).
func compareKey(a, b *fsentry.Entry, key SortKey) int {
	switch key {
	case Name:
		return compareNameFold(a.Name(), b.Name())
	case Path:
		return comparePath(a, b)
	case Size:
		return compareUint64(a.Size(), b.Size())
	case ModificationTime:
		return compareInt64(a.ModTime(), b.ModTime())
	case Extension:
		return compareNameFold(a.Extension(), b.Extension())
	default: // None
		return 0
	}
}

// compare orders a before b under (primary, secondary), falling back to
// a stable per-process identity order so ties are deterministic.
func compare(a, b *fsentry.Entry, primary, secondary SortKey) int {
	if a == b {
		return 0
	}
	if c := compareKey(a, b, primary); c != 0 {
		return c
	}
	if secondary != None {
		if c := compareKey(a, b, secondary); c != 0 {
			return c
		}
	}
	return compareIdentity(a, b)
}

// compareIdentity breaks remaining ties by memory address. It exists
// only to make an otherwise-equal ordering deterministic within a
// single process run; it carries no meaning across runs or snapshots.
func compareIdentity(a, b *fsentry.Entry) int {
	pa, pb := uintptr(unsafe.Pointer(a)), uintptr(unsafe.Pointer(b))
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

func compareNameFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// comparePath compares the full reconstructed path of two entries
// without allocating a full path string when one is a prefix-ancestor
// check can short-circuit: depth-equal, same-parent entries only need
// their own names compared.
func comparePath(a, b *fsentry.Entry) int {
	if a.Parent() == b.Parent() {
		return compareNameFold(a.Name(), b.Name())
	}
	return compareNameFold(a.Path(), b.Path())
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
