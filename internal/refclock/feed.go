package refclock

import (
	"sync"
	"time"
)

// FeedEvent is one message of the live sample feed
type FeedEvent struct {
	Event string      `json:"event"`
	Clock string      `json:"clock"`
	Time  time.Time   `json:"time"`
	Data  interface{} `json:"data,omitempty"`
}

// SampleData is the payload of a "sample" feed event
type SampleData struct {
	Reference     time.Time `json:"reference"`
	Receive       time.Time `json:"receive"`
	OffsetSeconds float64   `json:"offset_seconds"`
	Precision     int       `json:"precision"`
}

// Feed fans events out to subscribers. Publishing never blocks: a
// subscriber that does not keep up loses events.
type Feed struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan FeedEvent
	dropped uint64
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan FeedEvent)}
}

// Subscribe registers a subscriber with a buffer of size events
func (f *Feed) Subscribe(size int) (int, <-chan FeedEvent) {
	if size <= 0 {
		size = 64
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan FeedEvent, size)
	f.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (f *Feed) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

// Publish delivers evt to every subscriber with room for it
func (f *Feed) Publish(evt FeedEvent) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			f.dropped++
		}
	}
}

// Subscribers returns the number of subscribers
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Dropped returns the number of events lost to slow subscribers
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
