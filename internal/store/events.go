package store

import (
	"sync"
	"time"

	"github.com/engramdev/engram/internal/model"
)

// EventKind tags a store notification.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventEvicted EventKind = "evicted"
)

// Event describes a record lifecycle change.
type Event struct {
	Kind       EventKind
	ID         string
	RecordKind model.Kind
	Version    int
	At         time.Time
}

type subscriber struct {
	id    int
	kinds map[EventKind]bool // nil means all kinds
	ch    chan Event
}

// Bus delivers typed store events to subscribers. Delivery is best-effort:
// a subscriber whose buffer is full misses the event rather than blocking
// a store mutation.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []*subscriber
}

func newBus() *Bus { return &Bus{} }

// Subscribe registers interest in the given event kinds (none means all)
// and returns the delivery channel plus a cancel function. Cancel closes
// the channel and drops the subscription.
func (b *Bus) Subscribe(buffer int, kinds ...EventKind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

func (b *Bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[e.Kind] {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}
