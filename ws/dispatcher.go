package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingme/pingme/metrics"
	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
)

// Dispatcher turns one inbound chat message into a durable row plus a wire
// payload pushed to every subscriber of the room. Persist-then-broadcast is
// serialized per room, so delivery order always matches persistence-commit
// order within a room; distinct rooms dispatch concurrently.
type Dispatcher struct {
	registry  *Registry
	persister persistence.Persister
	metrics   *metrics.Collector

	mu        sync.Mutex
	roomLocks map[string]*roomLock
}

// roomLock is reference-counted so the lock table only holds rooms with a
// dispatch in flight, regardless of how many rooms the process has seen.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewDispatcher(registry *Registry, persister persistence.Persister, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		persister: persister,
		metrics:   collector,
		roomLocks: make(map[string]*roomLock),
	}
}

func (d *Dispatcher) acquireRoomLock(roomId string) *roomLock {
	d.mu.Lock()
	l, ok := d.roomLocks[roomId]
	if !ok {
		l = &roomLock{}
		d.roomLocks[roomId] = l
	}
	l.refs++
	d.mu.Unlock()
	l.mu.Lock()
	return l
}

func (d *Dispatcher) releaseRoomLock(roomId string, l *roomLock) {
	l.mu.Unlock()
	d.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(d.roomLocks, roomId)
	}
	d.mu.Unlock()
}

// Dispatch persists the message and broadcasts it to the room, sender
// included, and returns the persisted message and the delivery count. If the
// write fails the message is not broadcast at all: at-most-once delivery,
// never delivery without durability.
func (d *Dispatcher) Dispatch(room *types.Room, sender *types.User, content string) (*types.Message, int, error) {
	l := d.acquireRoomLock(room.Id)
	defer d.releaseRoomLock(room.Id, l)

	// guests have no user row, their messages carry only the display name
	var senderId *string
	if !isGuest(sender) {
		senderId = &sender.Id
	}
	msg := &types.Message{
		Id:        uuid.NewString(),
		RoomId:    room.Id,
		UserId:    senderId,
		UserName:  sender.Name,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := d.persister.StoreMessage(msg); err != nil {
		return nil, 0, err
	}

	payload, err := json.Marshal(types.OutboundFrame{User: sender.Name, Content: msg.Content})
	if err != nil {
		return nil, 0, err
	}
	delivered := d.registry.Broadcast(room.Id, payload, nil)
	d.metrics.MessageBroadcast(delivered)
	return msg, delivered, nil
}
