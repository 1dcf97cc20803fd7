package generate

import (
	"sync"
	"time"
)

// StageCompile is the event stage for document assembly, after the four
// section stages.
const StageCompile = "compile"

// EventStatus is the lifecycle state an event reports for its stage.
type EventStatus string

const (
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// Event is one progress notification from a run. Stage is a section key or
// StageCompile; Percent is the share of terminal workers, 0-100.
type Event struct {
	Stage     string      `json:"stage"`
	Status    EventStatus `json:"status"`
	Message   string      `json:"message"`
	Percent   int         `json:"percent"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventSink receives progress events. Publish must not block the caller.
type EventSink interface {
	Publish(ev Event)
}

// subscriberBuffer is the channel capacity handed to each subscriber. A
// subscriber that falls further behind loses events rather than stalling
// the run.
const subscriberBuffer = 16

// Bus is a single-producer, multi-consumer progress stream for one run.
// Publishes are serialized, so each subscriber observes events in publish
// order; subscribers attaching mid-run receive only events published after
// attachment.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe attaches a new listener. The returned cancel func detaches it;
// the channel is closed on cancel or when the bus closes.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber. A subscriber with a full buffer
// is skipped; delivered events are never reordered or duplicated.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close terminates every subscriber channel. Further publishes are dropped
// and further subscriptions get an already-closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var _ EventSink = (*Bus)(nil)
