package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(8)
	defer b.Close()

	ch := b.Subscribe()
	b.Publish(Event{Kind: ScanFinished, Count: 3})

	select {
	case v := <-ch:
		ev, ok := v.(Event)
		if !ok || ev.Kind != ScanFinished || ev.Count != 3 {
			t.Fatalf("got %#v, want ScanFinished/3", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(8)
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Publish(Event{Kind: SaveFinished})

	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("expected no delivery after Unsubscribe, got %#v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOrderedDelivery(t *testing.T) {
	b := New(8)
	defer b.Close()

	ch := b.Subscribe()
	b.Publish(Event{Kind: ScanStarted})
	b.Publish(Event{Kind: ScanFinished})

	first := (<-ch).(Event)
	second := (<-ch).(Event)
	if first.Kind != ScanStarted || second.Kind != ScanFinished {
		t.Fatalf("got order %v, %v; want ScanStarted, ScanFinished", first.Kind, second.Kind)
	}
}
