// Package snapshot implements the binary on-disk format the work-queue
// orchestrator uses to persist and restore a store's entries: a fixed
// header, a folder block, a file block, and a sorted-arrays block, all
// little-endian with delta-encoded names.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gofrs/flock"

	"github.com/fsearch/engine/internal/container"
	"github.com/fsearch/engine/internal/fsentry"
	"github.com/fsearch/engine/internal/rootindex"
)

var magic = [4]byte{'F', 'S', 'D', 'B'}

const (
	majorVersion    = 1
	minorVersion    = 1
	maxMinorVersion = 1
)

// ErrInvalidFormat is returned for any structurally malformed snapshot:
// bad magic, unsupported version, a short read, or an out-of-range
// reference. Load leaves no visible state when it returns this error.
var ErrInvalidFormat = fmt.Errorf("snapshot: invalid or unsupported format")

type header struct {
	Flags           uint64
	NumFolders      uint32
	NumFiles        uint32
	FolderBlockSize uint64
	FileBlockSize   uint64
	NumIndexes      uint32
	NumExcludes     uint32
}

// SortedArray is one persisted non-Name sort order, stored as the
// position each name-sorted folder/file occupies under that order.
type SortedArray struct {
	SortKey    container.SortKey
	FolderPerm []uint32
	FilePerm   []uint32
}

// Snapshot is the decoded content of a snapshot file: the full folder
// and file sets in the order the blocks store them (folders by depth,
// parents before children; files in the order they were saved) plus
// any additional persisted sort orders.
type Snapshot struct {
	Flags   rootindex.PropertyFlags
	Folders []*fsentry.Entry
	Files   []*fsentry.Entry
	Sorted  []SortedArray
}

// Save writes folders and files to path atomically: it builds the
// whole image in memory, writes it to "<path>.tmp" under an exclusive
// advisory lock, and renames over path only on full success. On an
// encode or write failure the tmp file is removed and path is left
// untouched; path is removed just before the rename, so a failed
// rename leaves neither file in place.
func Save(path string, flags rootindex.PropertyFlags, folders, files []*fsentry.Entry, sorted []SortedArray) error {
	folders = topoOrderFolders(folders)

	var folderBlock, fileBlock bytes.Buffer
	folderIdx := make(map[*fsentry.Entry]uint32, len(folders))
	for i, f := range folders {
		folderIdx[f] = uint32(i)
	}

	if err := writeFolderBlock(&folderBlock, folders, folderIdx, flags); err != nil {
		return fmt.Errorf("snapshot: encode folders: %w", err)
	}
	if err := writeFileBlock(&fileBlock, files, folderIdx, flags); err != nil {
		return fmt.Errorf("snapshot: encode files: %w", err)
	}

	var sortedBlock bytes.Buffer
	if err := writeSortedArrays(&sortedBlock, sorted); err != nil {
		return fmt.Errorf("snapshot: encode sorted arrays: %w", err)
	}

	hdr := header{
		Flags:           uint64(flags),
		NumFolders:      uint32(len(folders)),
		NumFiles:        uint32(len(files)),
		FolderBlockSize: uint64(folderBlock.Len()),
		FileBlockSize:   uint64(fileBlock.Len()),
	}

	var out bytes.Buffer
	if err := writeHeader(&out, hdr); err != nil {
		return fmt.Errorf("snapshot: encode header: %w", err)
	}
	out.Write(folderBlock.Bytes())
	out.Write(fileBlock.Bytes())
	out.Write(sortedBlock.Bytes())

	return atomicWrite(path, out.Bytes())
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"

	fl := flock.New(tmp)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("snapshot: lock %s: %w", tmp, err)
	}
	if !locked {
		return fmt.Errorf("snapshot: %s is already locked", tmp)
	}
	defer fl.Unlock()

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}

	os.Remove(path)
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Load reads and decodes a snapshot file, taking an exclusive advisory
// lock for the duration. It returns ErrInvalidFormat (wrapped) for any
// structural problem.
func Load(path string) (*Snapshot, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("snapshot: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("snapshot: %s is already locked", path)
	}
	defer fl.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	folders, err := readFolderBlock(r, hdr)
	if err != nil {
		return nil, err
	}
	files, err := readFileBlock(r, hdr, folders)
	if err != nil {
		return nil, err
	}
	sorted, err := readSortedArrays(r, hdr)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Flags:   rootindex.PropertyFlags(hdr.Flags),
		Folders: folders,
		Files:   files,
		Sorted:  sorted,
	}, nil
}

func writeHeader(w io.Writer, h header) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	fields := []any{
		uint8(majorVersion), uint8(minorVersion),
		h.Flags, h.NumFolders, h.NumFiles,
		h.FolderBlockSize, h.FileBlockSize,
		h.NumIndexes, h.NumExcludes,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(r io.Reader) (header, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if m != magic {
		return header{}, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}

	var major, minor uint8
	if err := binary.Read(r, binary.LittleEndian, &major); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &minor); err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if major != majorVersion || minor > maxMinorVersion {
		return header{}, fmt.Errorf("%w: unsupported version %d.%d", ErrInvalidFormat, major, minor)
	}

	var h header
	fields := []any{&h.Flags, &h.NumFolders, &h.NumFiles, &h.FolderBlockSize, &h.FileBlockSize, &h.NumIndexes, &h.NumExcludes}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return header{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}
	return h, nil
}

// topoOrderFolders returns folders ordered so every parent precedes its
// children, required so parent_idx references only already-written
// entries. Folders at the same depth keep their input relative order.
func topoOrderFolders(folders []*fsentry.Entry) []*fsentry.Entry {
	out := make([]*fsentry.Entry, len(folders))
	copy(out, folders)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Depth() < out[j].Depth() })
	return out
}

func writeFolderBlock(w io.Writer, folders []*fsentry.Entry, idx map[*fsentry.Entry]uint32, flags rootindex.PropertyFlags) error {
	var prevName string
	for _, f := range folders {
		if err := binary.Write(w, binary.LittleEndian, uint16(idx[f])); err != nil {
			return err
		}
		if err := writeNameAndAttrs(w, f, prevName, idx, flags, true); err != nil {
			return err
		}
		prevName = f.Name()
	}
	return nil
}

func writeFileBlock(w io.Writer, files []*fsentry.Entry, folderIdx map[*fsentry.Entry]uint32, flags rootindex.PropertyFlags) error {
	var prevName string
	for _, e := range files {
		if err := writeNameAndAttrs(w, e, prevName, folderIdx, flags, false); err != nil {
			return err
		}
		prevName = e.Name()
	}
	return nil
}

func writeNameAndAttrs(w io.Writer, e *fsentry.Entry, prevName string, folderIdx map[*fsentry.Entry]uint32, flags rootindex.PropertyFlags, isFolder bool) error {
	offset, suffix := deltaEncode(prevName, e.Name())
	if offset > 255 || len(suffix) > 255 {
		// Names this divergent from the previous record cannot be
		// represented by the single-byte offset/length fields; fall back
		// to a zero-offset full write. A name longer than 255 bytes has
		// no representation at all and is rejected.
		offset = 0
		suffix = e.Name()
	}
	if len(suffix) > 255 {
		return fmt.Errorf("snapshot: name of %d bytes exceeds the 255-byte record limit", len(suffix))
	}

	if err := binary.Write(w, binary.LittleEndian, uint8(offset)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(len(suffix))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(suffix)); err != nil {
		return err
	}

	if flags.Has(rootindex.FlagSize) {
		if err := binary.Write(w, binary.LittleEndian, e.Size()); err != nil {
			return err
		}
	}
	if flags.Has(rootindex.FlagModificationTime) {
		if err := binary.Write(w, binary.LittleEndian, uint64(e.ModTime())); err != nil {
			return err
		}
	}

	var parentIdx uint32
	if isFolder {
		if e.Parent() == nil {
			parentIdx = folderIdx[e] // "I am a root"
		} else {
			parentIdx = folderIdx[e.Parent()]
		}
	} else {
		if e.Parent() != nil {
			parentIdx = folderIdx[e.Parent()]
		}
	}
	return binary.Write(w, binary.LittleEndian, parentIdx)
}

// deltaEncode returns the shared-prefix length and the new suffix of
// name relative to prev, the inverse of the decoder's "keep offset
// chars of prev, append suffix" reconstruction.
func deltaEncode(prev, name string) (int, string) {
	n := 0
	for n < len(prev) && n < len(name) && prev[n] == name[n] {
		n++
	}
	return n, name[n:]
}

func readFolderBlock(r io.Reader, hdr header) ([]*fsentry.Entry, error) {
	folders := make([]*fsentry.Entry, hdr.NumFolders)
	parentOf := make([]uint32, hdr.NumFolders)
	var prevName string

	for i := uint32(0); i < hdr.NumFolders; i++ {
		var dbIndex uint16
		if err := binary.Read(r, binary.LittleEndian, &dbIndex); err != nil {
			return nil, fmt.Errorf("%w: folder %d: %v", ErrInvalidFormat, i, err)
		}
		if uint32(dbIndex) != i {
			return nil, fmt.Errorf("%w: folder %d: db_index %d out of sequence", ErrInvalidFormat, i, dbIndex)
		}
		name, size, mtime, parentIdx, err := readNameAndAttrs(r, prevName, hdr)
		if err != nil {
			return nil, fmt.Errorf("%w: folder %d: %v", ErrInvalidFormat, i, err)
		}
		if parentIdx >= hdr.NumFolders {
			return nil, fmt.Errorf("%w: folder %d: parent_idx %d out of range", ErrInvalidFormat, i, parentIdx)
		}
		folders[i] = fsentry.New(fsentry.Folder, name, nil, size, mtime)
		parentOf[i] = parentIdx
		prevName = name
	}

	for i := range folders {
		if parentOf[i] != uint32(i) {
			folders[i].Reparent(folders[parentOf[i]])
		}
	}
	return folders, nil
}

func readFileBlock(r io.Reader, hdr header, folders []*fsentry.Entry) ([]*fsentry.Entry, error) {
	files := make([]*fsentry.Entry, hdr.NumFiles)
	var prevName string

	for i := uint32(0); i < hdr.NumFiles; i++ {
		name, size, mtime, parentIdx, err := readNameAndAttrs(r, prevName, hdr)
		if err != nil {
			return nil, fmt.Errorf("%w: file %d: %v", ErrInvalidFormat, i, err)
		}
		if parentIdx >= uint32(len(folders)) {
			return nil, fmt.Errorf("%w: file %d: parent_idx %d out of range", ErrInvalidFormat, i, parentIdx)
		}
		files[i] = fsentry.New(fsentry.File, name, folders[parentIdx], size, mtime)
		prevName = name
	}
	return files, nil
}

func readNameAndAttrs(r io.Reader, prevName string, hdr header) (name string, size uint64, mtime int64, parentIdx uint32, err error) {
	var offset, nameLen uint8
	if err = binary.Read(r, binary.LittleEndian, &offset); err != nil {
		return
	}
	if err = binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return
	}
	if int(offset) > len(prevName) {
		err = fmt.Errorf("delta offset %d exceeds previous name length %d", offset, len(prevName))
		return
	}
	suffix := make([]byte, nameLen)
	if _, err = io.ReadFull(r, suffix); err != nil {
		return
	}
	name = prevName[:offset] + string(suffix)

	if rootindex.PropertyFlags(hdr.Flags).Has(rootindex.FlagSize) {
		if err = binary.Read(r, binary.LittleEndian, &size); err != nil {
			return
		}
	}
	if rootindex.PropertyFlags(hdr.Flags).Has(rootindex.FlagModificationTime) {
		var m uint64
		if err = binary.Read(r, binary.LittleEndian, &m); err != nil {
			return
		}
		mtime = int64(m)
	}
	err = binary.Read(r, binary.LittleEndian, &parentIdx)
	return
}

func writeSortedArrays(w io.Writer, sorted []SortedArray) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(sorted))); err != nil {
		return err
	}
	for _, sa := range sorted {
		if sa.SortKey == container.Name || sa.SortKey >= container.None {
			return fmt.Errorf("snapshot: invalid persisted sort_id %d", sa.SortKey)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(sa.SortKey)); err != nil {
			return err
		}
		for _, perm := range [][]uint32{sa.FolderPerm, sa.FilePerm} {
			for _, p := range perm {
				if err := binary.Write(w, binary.LittleEndian, p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func readSortedArrays(r io.Reader, hdr header) ([]SortedArray, error) {
	var numArrays uint32
	if err := binary.Read(r, binary.LittleEndian, &numArrays); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	out := make([]SortedArray, 0, numArrays)
	for i := uint32(0); i < numArrays; i++ {
		var sortID uint32
		if err := binary.Read(r, binary.LittleEndian, &sortID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if sortID == 0 || sortID >= uint32(container.None) {
			return nil, fmt.Errorf("%w: sort_id %d out of range", ErrInvalidFormat, sortID)
		}

		folderPerm := make([]uint32, hdr.NumFolders)
		for j := range folderPerm {
			if err := binary.Read(r, binary.LittleEndian, &folderPerm[j]); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
		}
		filePerm := make([]uint32, hdr.NumFiles)
		for j := range filePerm {
			if err := binary.Read(r, binary.LittleEndian, &filePerm[j]); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
		}

		out = append(out, SortedArray{SortKey: container.SortKey(sortID), FolderPerm: folderPerm, FilePerm: filePerm})
	}
	return out, nil
}
