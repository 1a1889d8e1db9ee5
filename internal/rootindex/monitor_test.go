package rootindex

import (
	"testing"
	"time"
)

func TestRenamePairingProducesRawRename(t *testing.T) {
	m := &fsnotifyMonitor{}
	var got []RawChange
	report := func(rc RawChange) { got = append(got, rc) }

	m.startPendingRename("old.txt", "/root/old.txt", report)
	if ok := m.resolvePendingRename("new.txt", "/root/new.txt", nil, report); !ok {
		t.Fatal("resolvePendingRename reported no pending rename")
	}

	if len(got) != 1 {
		t.Fatalf("reported %d changes, want 1", len(got))
	}
	if got[0].Kind != RawRename || got[0].OldPath != "old.txt" || got[0].Path != "new.txt" {
		t.Fatalf("got %+v, want RawRename old.txt -> new.txt", got[0])
	}
}

func TestRenameWithoutPairFallsBackToRemove(t *testing.T) {
	m := &fsnotifyMonitor{}
	done := make(chan RawChange, 1)
	report := func(rc RawChange) { done <- rc }

	m.startPendingRename("gone.txt", "/root/gone.txt", report)

	select {
	case rc := <-done:
		if rc.Kind != RawRemove || rc.Path != "gone.txt" {
			t.Fatalf("got %+v, want RawRemove gone.txt", rc)
		}
	case <-time.After(renamePairWindow * 5):
		t.Fatal("timed out waiting for fallback RawRemove")
	}
}

func TestUnrelatedCreateDoesNotConsumePendingRename(t *testing.T) {
	m := &fsnotifyMonitor{}
	var got []RawChange
	report := func(rc RawChange) { got = append(got, rc) }

	if m.resolvePendingRename("new.txt", "/root/new.txt", nil, report) {
		t.Fatal("resolvePendingRename reported a pending rename with none pending")
	}
	if len(got) != 0 {
		t.Fatalf("reported %d changes, want 0", len(got))
	}
}
