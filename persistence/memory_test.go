package persistence

import (
	"fmt"
	"testing"
	"time"

	"github.com/pingme/pingme/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMembershipIdempotency(t *testing.T) {
	p := NewMemoryPersister()
	m := &types.Membership{RoomId: "r", UserId: "u", JoinedAt: time.Now()}

	created, err := p.CreateMembership(m)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = p.CreateMembership(m)
	require.NoError(t, err)
	assert.False(t, created)

	memberships, err := p.GetMemberships("r")
	require.NoError(t, err)
	assert.Len(t, memberships, 1)
}

func TestMemoryMessageHistoryNewestFirst(t *testing.T) {
	p := NewMemoryPersister()
	base := time.Now()
	for i := 0; i < 5; i++ {
		err := p.StoreMessage(&types.Message{
			Id:        fmt.Sprintf("m%d", i),
			RoomId:    "r",
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	history, err := p.GetMessageHistory("r", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "m4", history[0].Id)
	assert.Equal(t, "m3", history[1].Id)
	assert.Equal(t, "m2", history[2].Id)

	all, err := p.GetMessageHistory("r", 50)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMemoryUserLookup(t *testing.T) {
	p := NewMemoryPersister()
	user := &types.User{Id: "u1", Email: "a@example.com", Name: "A"}
	require.NoError(t, p.StoreUser(user))

	got := &types.User{Id: "u1"}
	require.NoError(t, p.GetUser(got))
	assert.Equal(t, "A", got.Name)

	byEmail, err := p.GetUserByEmail("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", byEmail.Id)

	_, err = p.GetUserByEmail("nope@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTransferOwnership(t *testing.T) {
	p := NewMemoryPersister()
	ownerId := "u1"
	require.NoError(t, p.StoreRoom(&types.Room{Id: "r", Name: "x", OwnerId: &ownerId}))

	require.NoError(t, p.TransferOwnership("r", "u2"))
	room := &types.Room{Id: "r"}
	require.NoError(t, p.GetRoom(room))
	require.NotNil(t, room.OwnerId)
	assert.Equal(t, "u2", *room.OwnerId)

	assert.ErrorIs(t, p.TransferOwnership("nope", "u2"), ErrNotFound)
}
