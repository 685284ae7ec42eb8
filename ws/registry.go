package ws

import (
	"sync"

	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/metrics"
)

// A Subscriber is a live connection the registry can deliver payloads to.
// Deliver must not block; it returns an error when the connection can no
// longer accept payloads, which removes it from the room.
type Subscriber interface {
	Deliver(payload []byte) error
	SubscriberId() string
}

// Registry is the process-wide table mapping room id to the set of active
// subscribers. It is purely in-memory and rebuilt from nothing on restart;
// durable membership lives in the persistence layer. One instance per server
// process, constructed explicitly and shared by the connection handlers.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*roomEntry
	metrics *metrics.Collector
}

// roomEntry carries its own lock so that subscribe, unsubscribe and the
// broadcast snapshot of one room never serialize traffic of other rooms.
type roomEntry struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

func NewRegistry(collector *metrics.Collector) *Registry {
	return &Registry{
		rooms:   make(map[string]*roomEntry),
		metrics: collector,
	}
}

// Subscribe adds the subscriber to the room's set. Idempotent.
func (r *Registry) Subscribe(roomId string, sub Subscriber) {
	r.mu.Lock()
	entry, ok := r.rooms[roomId]
	if !ok {
		entry = &roomEntry{subs: make(map[Subscriber]struct{})}
		r.rooms[roomId] = entry
	}
	// entry.mu is taken under r.mu so a concurrent prune in Unsubscribe can
	// never orphan this subscription
	entry.mu.Lock()
	entry.subs[sub] = struct{}{}
	entry.mu.Unlock()
	r.mu.Unlock()
	r.metrics.SetActiveRooms(r.RoomCount())
}

// Unsubscribe removes the subscriber from the room's set. A room whose set
// becomes empty is pruned; this is memory hygiene only, the room itself
// lives in the store.
func (r *Registry) Unsubscribe(roomId string, sub Subscriber) {
	r.mu.Lock()
	entry, ok := r.rooms[roomId]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.mu.Lock()
	delete(entry.subs, sub)
	empty := len(entry.subs) == 0
	entry.mu.Unlock()
	if empty {
		delete(r.rooms, roomId)
	}
	r.mu.Unlock()
	r.metrics.SetActiveRooms(r.RoomCount())
}

// Broadcast delivers payload to every subscriber of the room except exclude
// (may be nil) and returns the number of successful deliveries. The
// subscriber set is snapshotted under the room lock, so concurrent
// subscribes and unsubscribes during delivery are tolerated. A failing
// subscriber is logged and removed; it never aborts delivery to the rest.
func (r *Registry) Broadcast(roomId string, payload []byte, exclude Subscriber) int {
	r.mu.RLock()
	entry, ok := r.rooms[roomId]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	entry.mu.Lock()
	snapshot := make([]Subscriber, 0, len(entry.subs))
	for sub := range entry.subs {
		if sub == exclude {
			continue
		}
		snapshot = append(snapshot, sub)
	}
	entry.mu.Unlock()

	delivered := 0
	for _, sub := range snapshot {
		if err := sub.Deliver(payload); err != nil {
			globals.AppLogger.Warn("could not deliver to subscriber, removing it",
				"room", roomId, "subscriber", sub.SubscriberId(), "error", err)
			r.Unsubscribe(roomId, sub)
			r.metrics.DeliveryFailed()
			continue
		}
		delivered++
	}
	return delivered
}

// Subscribers returns the current size of a room's subscriber set.
func (r *Registry) Subscribers(roomId string) int {
	r.mu.RLock()
	entry, ok := r.rooms[roomId]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.subs)
}

// RoomCount returns the number of rooms with at least one subscriber.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ActiveUserIds returns the distinct user ids behind all live subscriptions.
// Used by the periodic last-online flush.
func (r *Registry) ActiveUserIds() []string {
	r.mu.RLock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, entry := range r.rooms {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, entry := range entries {
		entry.mu.Lock()
		for sub := range entry.subs {
			if s, ok := sub.(interface{ UserId() string }); ok {
				if _, dup := seen[s.UserId()]; !dup {
					seen[s.UserId()] = struct{}{}
					ids = append(ids, s.UserId())
				}
			}
		}
		entry.mu.Unlock()
	}
	return ids
}
