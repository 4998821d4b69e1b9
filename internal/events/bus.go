// Package events carries the two typed notifications the engine emits:
// records changed after a local mutation, and sync completed after a drain.
package events

import (
	"context"
	"sync"
	"time"
)

// Kind enumerates notification kinds.
type Kind string

const (
	KindRecordsChanged Kind = "records-changed"
	KindSyncCompleted  Kind = "sync-completed"
)

const defaultBufferSize = 16

// Event is a single notification.
type Event struct {
	Kind      Kind
	RecordIDs []string
	Synced    int
	Failed    int
	Timestamp time.Time
}

// RecordsChanged builds a records-changed event.
func RecordsChanged(at time.Time, recordIDs ...string) Event {
	return Event{Kind: KindRecordsChanged, RecordIDs: recordIDs, Timestamp: at}
}

// SyncCompleted builds a sync-completed event carrying drain counts.
func SyncCompleted(at time.Time, synced, failed int) Event {
	return Event{Kind: KindSyncCompleted, Synced: synced, Failed: failed, Timestamp: at}
}

// Publisher emits events.
type Publisher interface {
	Publish(event Event)
}

// Subscriber registers for events.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, func())
}

// Bus fans events out to subscribers over buffered channels. Publish never
// blocks; a subscriber whose buffer is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
	once   sync.Once
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a subscriber until ctx ends or the returned cleanup
// runs. The stream is closed on cleanup.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	sub := &subscriber{stream: make(chan Event, b.bufferSize)}
	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	cleanup := func() {
		b.unregister(sub)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish implements Publisher.
func (b *Bus) Publish(event Event) {
	if event.Kind == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (b *Bus) unregister(sub *subscriber) {
	sub.once.Do(func() {
		b.mu.Lock()
		delete(b.subscribers, sub.id)
		b.mu.Unlock()
		close(sub.stream)
	})
}

// Func adapts a callback to Publisher.
type Func func(Event)

// Publish implements Publisher.
func (f Func) Publish(event Event) {
	if f != nil {
		f(event)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// Nop returns a Publisher that drops every event.
func Nop() Publisher {
	return nopPublisher{}
}
