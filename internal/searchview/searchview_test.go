package searchview

import (
	"context"
	"testing"

	"github.com/fsearch/engine/internal/container"
	"github.com/fsearch/engine/internal/fsentry"
	"github.com/fsearch/engine/internal/query"
	"github.com/fsearch/engine/internal/store"
	"github.com/fsearch/engine/internal/threadpool"
)

func mkFile(name string) *fsentry.Entry { return fsentry.New(fsentry.File, name, nil, 0, 0) }

func buildContainers(t *testing.T, names ...string) (*container.Container, *container.Container) {
	t.Helper()
	var files []*fsentry.Entry
	for _, n := range names {
		files = append(files, mkFile(n))
	}
	fc, err := container.New(context.Background(), files, true, container.Name, container.None, fsentry.File)
	if err != nil {
		t.Fatal(err)
	}
	dc, _ := container.New(context.Background(), nil, true, container.Name, container.None, fsentry.Folder)
	return fc, dc
}

func TestNewFiltersByQuery(t *testing.T) {
	fc, dc := buildContainers(t, "main.go", "readme.md", "helper.go")
	v, err := New(context.Background(), query.New(".go"), fc, dc, nil, container.Name, container.None, Ascending)
	if err != nil {
		t.Fatal(err)
	}
	if v.NumEntries() != 2 {
		t.Fatalf("NumEntries = %d, want 2", v.NumEntries())
	}
}

func TestGetEntryDescendingInverts(t *testing.T) {
	fc, dc := buildContainers(t, "a.go", "b.go", "c.go")
	v, _ := New(context.Background(), query.New(""), fc, dc, nil, container.Name, container.None, Descending)
	if v.GetEntry(0).Name() != "c.go" {
		t.Fatalf("GetEntry(0) = %s, want c.go", v.GetEntry(0).Name())
	}
}

func TestSelectionRangeAcceptsEitherOrder(t *testing.T) {
	fc, dc := buildContainers(t, "a.go", "b.go", "c.go")
	v, _ := New(context.Background(), query.New(""), fc, dc, nil, container.Name, container.None, Ascending)
	v.ModifySelection(SelectRange, 2, 0)
	for i := 0; i < 3; i++ {
		if !v.IsSelected(v.GetEntry(i)) {
			t.Fatalf("entry %d should be selected", i)
		}
	}
}

func TestPreviousSelectionCarriesOverSurvivingEntries(t *testing.T) {
	fc, dc := buildContainers(t, "a.go", "b.go")
	v1, _ := New(context.Background(), query.New(""), fc, dc, nil, container.Name, container.None, Ascending)
	v1.ModifySelection(Select, 0, 0)
	kept := v1.GetEntry(0)

	fc2, dc2 := buildContainers(t, "a.go")
	fc2.Steal(fc2.Get(0))
	fc2.Insert(kept)
	v2, _ := New(context.Background(), query.New(""), fc2, dc2, v1, container.Name, container.None, Ascending)
	if !v2.IsSelected(kept) {
		t.Fatal("expected surviving entry to remain selected")
	}
}

func TestOnStoreEventDeleteRemovesFromSelection(t *testing.T) {
	fc, dc := buildContainers(t, "a.go")
	v, _ := New(context.Background(), query.New(""), fc, dc, nil, container.Name, container.None, Ascending)
	e := v.GetEntry(0)
	v.ModifySelection(Select, 0, 0)

	v.OnStoreEvent(store.Event{Kind: store.EntryDeleted, Entry: e, Folder: false}, false)
	if v.NumEntries() != 0 {
		t.Fatal("expected entry removed from view")
	}
	if v.IsSelected(e) {
		t.Fatal("expected entry removed from selection")
	}
}

func TestNewParallelMatchesSerialFilter(t *testing.T) {
	names := make([]string, 0, 40)
	for i := 0; i < 20; i++ {
		names = append(names, "match_"+string(rune('a'+i))+".go")
		names = append(names, "skip_"+string(rune('a'+i))+".md")
	}
	fc, dc := buildContainers(t, names...)
	pool := threadpool.New(4)
	v, err := NewParallel(context.Background(), pool, query.New(".go"), fc, dc, nil, container.Name, container.None, Ascending)
	if err != nil {
		t.Fatal(err)
	}
	if v.NumEntries() != 20 {
		t.Fatalf("NumEntries = %d, want 20", v.NumEntries())
	}
}

func TestResortChangesOrderWithoutRequery(t *testing.T) {
	fc, dc := buildContainers(t, "b.go", "a.go")
	v, _ := New(context.Background(), query.New(""), fc, dc, nil, container.Name, container.None, Ascending)
	if v.GetEntry(0).Name() != "a.go" {
		t.Fatalf("expected name-sorted a.go first, got %s", v.GetEntry(0).Name())
	}
	if err := v.Resort(context.Background(), container.Name, container.None, Descending); err != nil {
		t.Fatal(err)
	}
	if v.GetEntry(0).Name() != "b.go" {
		t.Fatalf("expected descending order b.go first, got %s", v.GetEntry(0).Name())
	}
}

func TestOnStoreEventCreateSkippedWhenAliased(t *testing.T) {
	fc, dc := buildContainers(t)
	v, _ := New(context.Background(), query.New(""), fc, dc, nil, container.Name, container.None, Ascending)
	e := mkFile("new.go")
	v.OnStoreEvent(store.Event{Kind: store.EntryCreated, Entry: e, Folder: false}, true)
	if v.NumEntries() != 0 {
		t.Fatal("expected no insert when store already owns the container")
	}
}
