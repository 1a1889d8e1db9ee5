// Package eventbus delivers store and work-queue notifications to
// embedders asynchronously and in post order, using moby/pubsub's
// buffered publisher so a slow subscriber cannot block the producer.
package eventbus

import (
	"time"

	"github.com/moby/pubsub"
)

// Kind identifies the category of a bus Event, mirroring the
// work-queue's emitted notifications (spec.md §4.5) plus the store's
// own entry-mutation events.
type Kind string

const (
	LoadStarted      Kind = "load-started"
	LoadFinished     Kind = "load-finished"
	SaveStarted      Kind = "save-started"
	SaveFinished     Kind = "save-finished"
	ScanStarted      Kind = "scan-started"
	ScanFinished     Kind = "scan-finished"
	SearchStarted    Kind = "search-started"
	SearchFinished   Kind = "search-finished"
	SortStarted      Kind = "sort-started"
	SortFinished     Kind = "sort-finished"
	SelectionChanged Kind = "selection-changed"
	DatabaseChanged  Kind = "database-changed"
	ItemInfoReady    Kind = "item-info-ready"
)

// Event is one notification posted to the bus.
type Event struct {
	Kind    Kind
	ViewID  uint64
	Count   int
	Payload any
}

const publishTimeout = 100 * time.Millisecond

// Bus is an ordered, asynchronous fan-out of Events to any number of
// subscribers. Publishing never blocks the caller for longer than
// publishTimeout per subscriber; a subscriber that cannot keep up is
// dropped from that publish rather than stalling the producer.
type Bus struct {
	pub *pubsub.Publisher
}

// New returns an empty Bus. bufferPerSubscriber bounds how many
// not-yet-delivered events a slow subscriber may accumulate before
// publishes to it start timing out.
func New(bufferPerSubscriber int) *Bus {
	return &Bus{pub: pubsub.NewPublisher(publishTimeout, bufferPerSubscriber)}
}

// Subscribe registers a new listener and returns the channel Events
// are delivered on. The channel is closed when Close is called.
func (b *Bus) Subscribe() chan any {
	return b.pub.Subscribe()
}

// Unsubscribe stops delivering to a channel returned by Subscribe.
func (b *Bus) Unsubscribe(ch chan any) {
	b.pub.Evict(ch)
}

// Publish posts ev to every current subscriber, in the order Publish
// is called.
func (b *Bus) Publish(ev Event) {
	b.pub.Publish(ev)
}

// Close shuts down the bus and closes every subscriber channel.
func (b *Bus) Close() {
	b.pub.Close()
}
