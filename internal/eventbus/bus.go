package eventbus

import (
	"context"
	"sync"

	"github.com/PEZ/epupp/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventLifecycle carries a structured engine lifecycle event.
	EventLifecycle EventType = "lifecycle"
	// EventStorage carries a script storage delta.
	EventStorage EventType = "storage"
	// EventConnection carries a connection lifecycle change.
	EventConnection EventType = "connection"
	// EventIcon carries an icon state change.
	EventIcon EventType = "icon"
)

// Event is a UI-facing fanout frame emitted by the engine.
type Event struct {
	Type       EventType
	Lifecycle  schema.Event
	Storage    schema.StorageEvent
	Connection schema.ConnectionEvent
	Icon       schema.IconEvent
}

// Bus fans engine events out to subscribers. Slow subscribers drop frames
// rather than stall the engine.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns its channel plus a cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.Debug("eventbus unsubscribe")
		}
	}
}

// OnEvent publishes a lifecycle event.
func (b *Bus) OnEvent(event schema.Event) {
	b.publish(Event{Type: EventLifecycle, Lifecycle: event})
}

// OnStorage publishes a script storage delta.
func (b *Bus) OnStorage(event schema.StorageEvent) {
	b.publish(Event{Type: EventStorage, Storage: event})
}

// OnConnection publishes a connection lifecycle change.
func (b *Bus) OnConnection(event schema.ConnectionEvent) {
	b.publish(Event{Type: EventConnection, Connection: event})
}

// OnIcon publishes an icon state change.
func (b *Bus) OnIcon(event schema.IconEvent) {
	b.publish(Event{Type: EventIcon, Icon: event})
}

// publish sends while holding the lock. Sends are non-blocking, and a
// cancelled subscriber's channel only closes after it leaves the map, so
// no send can hit a closed channel.
func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.Trace("eventbus dropped", "count", dropped)
	}
}
