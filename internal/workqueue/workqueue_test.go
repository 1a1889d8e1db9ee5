package workqueue

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsearch/engine/internal/container"
	"github.com/fsearch/engine/internal/eventbus"
	"github.com/fsearch/engine/internal/query"
	"github.com/fsearch/engine/internal/rootindex"
	"github.com/fsearch/engine/internal/searchview"
	"github.com/fsearch/engine/internal/store"
	"github.com/fsearch/engine/internal/threadpool"
)

type fakeIncludeMgr struct {
	includes []rootindex.Include
}

func (f fakeIncludeMgr) All() []rootindex.Include { return f.includes }

func (f fakeIncludeMgr) Equal(other store.IncludeManager) bool {
	o, ok := other.(fakeIncludeMgr)
	if !ok || len(f.includes) != len(o.includes) {
		return false
	}
	for i := range f.includes {
		if f.includes[i] != o.includes[i] {
			return false
		}
	}
	return true
}

func mustWriteTree(t *testing.T, monitored bool) (string, fakeIncludeMgr) {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "d"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	inc := fakeIncludeMgr{includes: []rootindex.Include{{ID: 1, Path: dir, Monitored: monitored}}}
	return dir, inc
}

func waitForEvent(t *testing.T, ch chan any, kind eventbus.Kind, timeout time.Duration) eventbus.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case v := <-ch:
			ev, ok := v.(eventbus.Event)
			if ok && ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", kind)
		}
	}
}

func startOrchestrator(t *testing.T) (*Orchestrator, chan any) {
	t.Helper()
	bus := eventbus.New(16)
	pool := threadpool.New(2)
	// Start with no configured roots so the first Scan in each scenario
	// below is never mistaken for a no-op; orchestrators in real use
	// likewise start unconfigured until the first Scan work item arrives.
	orch := New(pool, bus, nil, nil, 0)
	sub := bus.Subscribe()
	go orch.Run()
	t.Cleanup(func() {
		orch.Enqueue(Work{Kind: Quit})
		bus.Unsubscribe(sub)
	})
	return orch, sub
}

func TestEmptySearchScenario(t *testing.T) {
	_, inc := mustWriteTree(t, false)
	orch, sub := startOrchestrator(t)

	orch.Enqueue(Work{Kind: Scan, IncludeMgr: inc})
	waitForEvent(t, sub, eventbus.ScanFinished, 5*time.Second)

	orch.Enqueue(Work{Kind: Search, Query: query.New(""), ViewID: 1, SortKey: container.Name, Direction: searchview.Ascending})
	ev := waitForEvent(t, sub, eventbus.SearchFinished, 5*time.Second)
	info := ev.Payload.(SearchInfo)
	if info.NumFiles != 2 || info.NumFolders != 1 {
		t.Fatalf("SearchInfo = %+v, want 2 files / 1 folder", info)
	}

	wantNames := []string{"d", "a.txt", "b.txt"}
	for i, want := range wantNames {
		orch.Enqueue(Work{Kind: GetItemInfo, ViewID: 1, Idx: i})
		itemEv := waitForEvent(t, sub, eventbus.ItemInfoReady, 5*time.Second)
		got := itemEv.Payload.(EntryInfo)
		if got.Name != want {
			t.Fatalf("GetEntry(%d).Name = %q, want %q", i, got.Name, want)
		}
	}
}

func TestLiveCreateScenario(t *testing.T) {
	root, inc := mustWriteTree(t, true)
	orch, sub := startOrchestrator(t)

	orch.Enqueue(Work{Kind: Scan, IncludeMgr: inc})
	waitForEvent(t, sub, eventbus.ScanFinished, 5*time.Second)

	orch.Enqueue(Work{Kind: Search, Query: query.New(""), ViewID: 7, SortKey: container.Name, Direction: searchview.Ascending})
	waitForEvent(t, sub, eventbus.SearchFinished, 5*time.Second)

	if err := os.WriteFile(filepath.Join(root, "c.txt"), []byte("c"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, sub, eventbus.DatabaseChanged, 5*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err := orch.TryGetSearchInfo(7)
		if err == nil && info.NumFiles == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("view 7 never reconciled to 3 files (last info=%+v err=%v)", info, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSnapshotRoundTripScenario(t *testing.T) {
	_, inc := mustWriteTree(t, false)
	orch, sub := startOrchestrator(t)

	orch.Enqueue(Work{Kind: Scan, IncludeMgr: inc})
	waitForEvent(t, sub, eventbus.ScanFinished, 5*time.Second)

	before, err := orch.TryGetDatabaseInfo()
	if err != nil {
		t.Fatal(err)
	}

	snapPath := filepath.Join(t.TempDir(), "fsearch.db")
	orch.Enqueue(Work{Kind: SaveToFile, Path: snapPath})
	waitForEvent(t, sub, eventbus.SaveFinished, 5*time.Second)

	orch2, sub2 := startOrchestrator(t)
	orch2.Enqueue(Work{Kind: LoadFromFile, Path: snapPath})
	loadEv := waitForEvent(t, sub2, eventbus.LoadFinished, 5*time.Second)
	after := loadEv.Payload.(DatabaseInfo)

	if after.NumFiles != before.NumFiles || after.NumFolders != before.NumFolders {
		t.Fatalf("round trip mismatch: before=%+v after=%+v", before, after)
	}
}

func TestScanConfigNoOpScenario(t *testing.T) {
	_, inc := mustWriteTree(t, false)
	orch, sub := startOrchestrator(t)

	orch.Enqueue(Work{Kind: Scan, IncludeMgr: inc})
	waitForEvent(t, sub, eventbus.ScanFinished, 5*time.Second)

	sameConfig := fakeIncludeMgr{includes: append([]rootindex.Include(nil), inc.includes...)}
	orch.Enqueue(Work{Kind: Scan, IncludeMgr: sameConfig})

	// Drain for a bounded window; the no-op Scan must not produce a second
	// scan-started/scan-finished pair. A subsequent Search still proves
	// the executor made forward progress past the no-op item.
	orch.Enqueue(Work{Kind: Search, Query: query.New(""), ViewID: 3, SortKey: container.Name, Direction: searchview.Ascending})
	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-sub:
			ev, ok := v.(eventbus.Event)
			if !ok {
				continue
			}
			if ev.Kind == eventbus.ScanStarted || ev.Kind == eventbus.ScanFinished {
				t.Fatalf("no-op Scan produced %q", ev.Kind)
			}
			if ev.Kind == eventbus.SearchFinished {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", eventbus.SearchFinished)
		}
	}
}

func TestSortDescendingScenario(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	inc := fakeIncludeMgr{includes: []rootindex.Include{{ID: 1, Path: dir}}}
	orch, sub := startOrchestrator(t)

	orch.Enqueue(Work{Kind: Scan, IncludeMgr: inc})
	waitForEvent(t, sub, eventbus.ScanFinished, 5*time.Second)

	orch.Enqueue(Work{Kind: Search, Query: query.New(""), ViewID: 9, SortKey: container.Name, Direction: searchview.Descending})
	waitForEvent(t, sub, eventbus.SearchFinished, 5*time.Second)

	orch.Enqueue(Work{Kind: GetItemInfo, ViewID: 9, Idx: 0})
	first := waitForEvent(t, sub, eventbus.ItemInfoReady, 5*time.Second).Payload.(EntryInfo)
	if first.Name != "c" {
		t.Fatalf("GetEntry(0).Name = %q, want c", first.Name)
	}

	orch.Enqueue(Work{Kind: GetItemInfo, ViewID: 9, Idx: 2})
	last := waitForEvent(t, sub, eventbus.ItemInfoReady, 5*time.Second).Payload.(EntryInfo)
	if last.Name != "a" {
		t.Fatalf("GetEntry(2).Name = %q, want a", last.Name)
	}
}

func TestBusyTryGet(t *testing.T) {
	orch := New(threadpool.New(1), eventbus.New(1), fakeIncludeMgr{}, nil, 0)
	orch.mu.Lock()
	defer orch.mu.Unlock()

	_, err := orch.TryGetSearchInfo(1)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("TryGetSearchInfo while locked = %v, want ErrBusy", err)
	}
	if _, err := orch.TryGetDatabaseInfo(); !errors.Is(err, ErrBusy) {
		t.Fatalf("TryGetDatabaseInfo while locked = %v, want ErrBusy", err)
	}
}
