package member

import (
	"testing"
	"time"

	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGate(t *testing.T) (*Gate, *persistence.MemoryPersist, *types.Room, *types.User, *types.User) {
	t.Helper()
	persister := persistence.NewMemoryPersister()
	gate := NewGate(persister)

	owner := &types.User{Id: "u-owner", Email: "owner@example.com", Name: "Owner", IsActive: true}
	other := &types.User{Id: "u-other", Email: "other@example.com", Name: "Other", IsActive: true}
	require.NoError(t, persister.StoreUser(owner))
	require.NoError(t, persister.StoreUser(other))

	room := &types.Room{Id: "room-1", Name: "general", OwnerId: &owner.Id}
	require.NoError(t, persister.StoreRoom(room))
	_, err := persister.CreateMembership(&types.Membership{RoomId: room.Id, UserId: owner.Id, IsAdmin: true, JoinedAt: time.Now()})
	require.NoError(t, err)

	return gate, persister, room, owner, other
}

func TestJoinIsIdempotentAndLogged(t *testing.T) {
	gate, persister, room, _, other := setupGate(t)

	require.NoError(t, gate.Join(room, other, false))
	memberships, err := persister.GetMemberships(room.Id)
	require.NoError(t, err)
	assert.Len(t, memberships, 2)

	// rejoining changes nothing and logs nothing
	require.NoError(t, gate.Join(room, other, false))
	memberships, err = persister.GetMemberships(room.Id)
	require.NoError(t, err)
	assert.Len(t, memberships, 2)

	events := persister.MemberEvents()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventJoin, events[0].Kind)
	assert.Equal(t, other.Id, *events[0].UserId)
}

func TestJoinViaInviteLinkLogsInvite(t *testing.T) {
	gate, persister, room, _, other := setupGate(t)
	require.NoError(t, gate.Join(room, other, true))
	events := persister.MemberEvents()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventInvite, events[0].Kind)
}

func TestAddMemberOwnerOnly(t *testing.T) {
	gate, persister, room, owner, other := setupGate(t)

	_, err := gate.AddMember(other, room, "owner@example.com")
	assert.ErrorIs(t, err, ErrForbidden)

	target, err := gate.AddMember(owner, room, "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, other.Id, target.Id)

	// adding an existing member is a no-op success
	membersBefore, _ := persister.GetMemberships(room.Id)
	_, err = gate.AddMember(owner, room, "other@example.com")
	require.NoError(t, err)
	membersAfter, _ := persister.GetMemberships(room.Id)
	assert.Equal(t, len(membersBefore), len(membersAfter))

	_, err = gate.AddMember(owner, room, "nobody@example.com")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestKickOwnerOnly(t *testing.T) {
	gate, persister, room, owner, other := setupGate(t)
	require.NoError(t, gate.Join(room, other, false))

	assert.ErrorIs(t, gate.Kick(other, room, owner.Id), ErrForbidden)

	require.NoError(t, gate.Kick(owner, room, other.Id))
	_, err := persister.GetMembership(room.Id, other.Id)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	events := persister.MemberEvents()
	last := events[len(events)-1]
	assert.Equal(t, types.EventKick, last.Kind)
	assert.Equal(t, owner.Id, *last.ActorId)
}

func TestKickNonMember(t *testing.T) {
	gate, persister, room, owner, other := setupGate(t)

	// the target never joined: the kick fails and, the audit log being
	// append-only, no kick event may be written for it
	eventsBefore := len(persister.MemberEvents())
	assert.ErrorIs(t, gate.Kick(owner, room, other.Id), persistence.ErrNotFound)
	assert.Len(t, persister.MemberEvents(), eventsBefore)
}

func TestLeave(t *testing.T) {
	gate, persister, room, owner, other := setupGate(t)
	require.NoError(t, gate.Join(room, other, false))

	// the owner is permanently barred from leaving their own room
	assert.ErrorIs(t, gate.Leave(owner, room), ErrOwnerCannotLeave)
	_, err := persister.GetMembership(room.Id, owner.Id)
	assert.NoError(t, err)

	// any non-owner member may leave
	require.NoError(t, gate.Leave(other, room))
	_, err = persister.GetMembership(room.Id, other.Id)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	// leaving a room one is not in
	assert.ErrorIs(t, gate.Leave(other, room), persistence.ErrNotFound)
}

func TestTransferOwnershipKeepsAdminFlags(t *testing.T) {
	gate, persister, room, owner, other := setupGate(t)
	require.NoError(t, gate.Join(room, other, false))

	assert.ErrorIs(t, gate.TransferOwnership(other, room, other.Id), ErrForbidden)

	require.NoError(t, gate.TransferOwnership(owner, room, other.Id))

	// the admin flags of both memberships are untouched
	m1, err := persister.GetMembership(room.Id, owner.Id)
	require.NoError(t, err)
	assert.True(t, m1.IsAdmin)
	m2, err := persister.GetMembership(room.Id, other.Id)
	require.NoError(t, err)
	assert.False(t, m2.IsAdmin)

	// the new owner passes owner-only checks despite is_admin=false
	reloaded := &types.Room{Id: room.Id}
	require.NoError(t, persister.GetRoom(reloaded))
	assert.True(t, reloaded.IsOwner(other.Id))
	require.NoError(t, gate.Kick(other, reloaded, owner.Id))

	// and the previous owner may now leave... if still a member
	assert.ErrorIs(t, gate.Leave(owner, reloaded), persistence.ErrNotFound)
}

func TestTransferOwnershipToUnknownUser(t *testing.T) {
	gate, _, room, owner, _ := setupGate(t)
	assert.ErrorIs(t, gate.TransferOwnership(owner, room, "nope"), persistence.ErrNotFound)
}
