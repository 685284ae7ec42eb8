package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPersister struct {
	*persistence.MemoryPersist
}

func (f *failingPersister) StoreMessage(msg *types.Message) error {
	return errors.New("store down")
}

func testRoomAndUser() (*types.Room, *types.User) {
	ownerId := "u-1"
	room := &types.Room{Id: "room-1", Name: "general", OwnerId: &ownerId}
	user := &types.User{Id: "u-1", Name: "Alice", Email: "alice@example.com"}
	return room, user
}

func TestDispatchPersistsThenBroadcasts(t *testing.T) {
	persister := persistence.NewMemoryPersister()
	registry := NewRegistry(nil)
	dispatcher := NewDispatcher(registry, persister, nil)
	room, user := testRoomAndUser()

	sub := &fakeSubscriber{id: "sub"}
	registry.Subscribe(room.Id, sub)

	msg, delivered, err := dispatcher.Dispatch(room, user, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, "hello", msg.Content)

	// durable before fan-out
	history, err := persister.GetMessageHistory(room.Id, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.Id, history[0].Id)

	// the wire frame carries display name and content only
	require.Equal(t, 1, sub.count())
	frame := types.OutboundFrame{}
	require.NoError(t, json.Unmarshal(sub.received[0], &frame))
	assert.Equal(t, "Alice", frame.User)
	assert.Equal(t, "hello", frame.Content)
}

func TestDispatchFailedPersistDropsFrame(t *testing.T) {
	persister := &failingPersister{persistence.NewMemoryPersister()}
	registry := NewRegistry(nil)
	dispatcher := NewDispatcher(registry, persister, nil)
	room, user := testRoomAndUser()

	sub := &fakeSubscriber{id: "sub"}
	registry.Subscribe(room.Id, sub)

	_, delivered, err := dispatcher.Dispatch(room, user, "hello")
	assert.Error(t, err)
	assert.Equal(t, 0, delivered)
	// never delivery without durability
	assert.Equal(t, 0, sub.count())
}

func TestDispatchOrderMatchesCommitOrder(t *testing.T) {
	persister := persistence.NewMemoryPersister()
	registry := NewRegistry(nil)
	dispatcher := NewDispatcher(registry, persister, nil)
	room, _ := testRoomAndUser()

	sub := &fakeSubscriber{id: "sub"}
	registry.Subscribe(room.Id, sub)

	// many concurrent senders in the same room
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := &types.User{Id: fmt.Sprintf("u-%d", i), Name: fmt.Sprintf("user-%d", i)}
			_, _, err := dispatcher.Dispatch(room, sender, fmt.Sprintf("msg-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := persister.GetMessageHistory(room.Id, 50)
	require.NoError(t, err)
	require.Len(t, history, 20)
	require.Equal(t, 20, sub.count())

	// delivery order must match persistence-commit order: the newest-first
	// history reversed equals the broadcast order the subscriber saw
	for i := 0; i < 20; i++ {
		frame := types.OutboundFrame{}
		require.NoError(t, json.Unmarshal(sub.received[i], &frame))
		stored := history[len(history)-1-i]
		assert.Equal(t, stored.Content, frame.Content)
	}
}

func TestDispatchPrunesIdleRoomLocks(t *testing.T) {
	persister := persistence.NewMemoryPersister()
	registry := NewRegistry(nil)
	dispatcher := NewDispatcher(registry, persister, nil)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := &types.Room{Id: fmt.Sprintf("room-%d", i), Name: "r"}
			sender := &types.User{Id: fmt.Sprintf("u-%d", i), Name: "u"}
			_, _, err := dispatcher.Dispatch(room, sender, "hi")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// the lock table only holds rooms with a dispatch in flight
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Empty(t, dispatcher.roomLocks)
}

func TestDispatchSenderReceivesOwnMessage(t *testing.T) {
	persister := persistence.NewMemoryPersister()
	registry := NewRegistry(nil)
	dispatcher := NewDispatcher(registry, persister, nil)
	room, user := testRoomAndUser()

	sender := &fakeSubscriber{id: user.Id}
	other := &fakeSubscriber{id: "other"}
	registry.Subscribe(room.Id, sender)
	registry.Subscribe(room.Id, other)

	_, delivered, err := dispatcher.Dispatch(room, user, "echo")
	require.NoError(t, err)
	// the sender gets its own message back through the same fan-out
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, 1, other.count())
}
