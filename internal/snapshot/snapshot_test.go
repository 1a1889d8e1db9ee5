package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsearch/engine/internal/fsentry"
	"github.com/fsearch/engine/internal/rootindex"
)

func buildTree() (folders, files []*fsentry.Entry) {
	root := fsentry.New(fsentry.Folder, "root", nil, 0, 100)
	sub := fsentry.New(fsentry.Folder, "sub", root, 0, 200)
	a := fsentry.New(fsentry.File, "a.txt", root, 10, 300)
	b := fsentry.New(fsentry.File, "b.txt", sub, 20, 400)
	return []*fsentry.Entry{root, sub}, []*fsentry.Entry{a, b}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsearch.db")

	folders, files := buildTree()
	flags := rootindex.FlagSize | rootindex.FlagModificationTime
	if err := Save(path, flags, folders, files, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Flags != flags {
		t.Fatalf("Flags = %v, want %v", snap.Flags, flags)
	}
	if len(snap.Folders) != 2 || len(snap.Files) != 2 {
		t.Fatalf("got %d folders, %d files, want 2, 2", len(snap.Folders), len(snap.Files))
	}

	byName := map[string]*fsentry.Entry{}
	for _, f := range snap.Files {
		byName[f.Name()] = f
	}
	a, ok := byName["a.txt"]
	if !ok {
		t.Fatal("missing a.txt")
	}
	if a.Size() != 10 || a.ModTime() != 300 {
		t.Fatalf("a.txt size/mtime = %d/%d, want 10/300", a.Size(), a.ModTime())
	}
	if a.Parent() == nil || a.Parent().Name() != "root" {
		t.Fatalf("a.txt parent = %v, want root", a.Parent())
	}

	b, ok := byName["b.txt"]
	if !ok {
		t.Fatal("missing b.txt")
	}
	if b.Parent() == nil || b.Parent().Name() != "sub" {
		t.Fatalf("b.txt parent = %v, want sub", b.Parent())
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsearch.db")
	if err := os.WriteFile(path, []byte("not a snapshot file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestLoadRejectsFutureMajorVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsearch.db")
	folders, files := buildTree()
	if err := Save(path, 0, folders, files, nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[4] = 99 // corrupt major_ver
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported major version")
	}
}

func TestSaveIsAtomicNoLeftoverTmp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsearch.db")
	folders, files := buildTree()
	if err := Save(path, 0, folders, files, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("expected tmp file to be renamed away, not left behind")
	}
}

func TestDeltaEncodeSharedPrefix(t *testing.T) {
	offset, suffix := deltaEncode("banana", "bandana")
	if offset != 3 || suffix != "dana" {
		t.Fatalf("deltaEncode = (%d, %q), want (3, \"dana\")", offset, suffix)
	}
}
