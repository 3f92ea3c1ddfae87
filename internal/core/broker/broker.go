package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/logger"
	"hostdeck.app/internal/core/ports"
)

// Subscriber is one delivery endpoint. Deliver must not block: it either
// accepts the envelope or reports a drop. A websocket client satisfies this
// with a buffered send channel.
type Subscriber interface {
	Deliver(env domain.Envelope) bool
}

// Broker owns the room -> subscribers mapping for the process lifetime.
// Rooms are created on first subscribe or publish and garbage-collected when
// their last subscriber leaves; a live stream session for an empty room keeps
// producing regardless (stopping producers is the session manager's policy,
// not the broker's).
type Broker struct {
	mu      sync.RWMutex
	rooms   map[string]map[Subscriber]struct{}
	mirrors []ports.EventMirror
	dropped atomic.Uint64

	// Optional metric hooks, set once at wiring time.
	OnPublish func(kind domain.EventKind)
	OnDrop    func(room string)
}

func New(mirrors ...ports.EventMirror) *Broker {
	return &Broker{
		rooms:   make(map[string]map[Subscriber]struct{}),
		mirrors: mirrors,
	}
}

// Subscribe adds sub to the room. Idempotent: subscribing twice is the same
// as once.
func (b *Broker) Subscribe(room string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.rooms[room]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.rooms[room] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes sub from the room. No-op when absent.
func (b *Broker) Unsubscribe(room string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(room, sub)
}

// UnsubscribeAll removes sub from every room it joined. Called on
// disconnect. After it returns no delivery to sub is in flight.
func (b *Broker) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for room := range b.rooms {
		b.removeLocked(room, sub)
	}
}

func (b *Broker) removeLocked(room string, sub Subscriber) {
	set, ok := b.rooms[room]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.rooms, room)
	}
}

// Publish delivers ev to every subscriber of the room and relays it through
// the configured mirrors. Delivery is fire-and-forget per subscriber: a full
// channel costs that subscriber the event, nobody else.
func (b *Broker) Publish(room string, ev domain.Event) {
	env := domain.NewEnvelope(room, ev)
	b.deliver(env)
	for _, m := range b.mirrors {
		if err := m.Mirror(context.Background(), env); err != nil {
			logger.Warn("event mirror failed", "room", room, "error", err)
		}
	}
}

// PublishLocal delivers without mirroring. Used for envelopes that arrived
// from a mirror, so relayed events do not echo back out.
func (b *Broker) PublishLocal(room string, ev domain.Event) {
	b.deliver(domain.NewEnvelope(room, ev))
}

func (b *Broker) deliver(env domain.Envelope) {
	if b.OnPublish != nil {
		b.OnPublish(env.Kind)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.rooms[env.Room] {
		if !sub.Deliver(env) {
			b.dropped.Add(1)
			if b.OnDrop != nil {
				b.OnDrop(env.Room)
			}
			logger.Warn("dropped event for slow subscriber", "room", env.Room, "kind", env.Kind)
		}
	}
}

// Subscribers reports the current subscriber count of a room.
func (b *Broker) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

// Dropped reports the total number of events dropped on full subscriber
// channels since start.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
