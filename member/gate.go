package member

import (
	"errors"
	"time"

	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
)

var (
	// ErrForbidden is returned when an authenticated actor lacks the
	// privilege for the requested action.
	ErrForbidden = errors.New("forbidden")
	// ErrOwnerCannotLeave is returned when the room owner tries to leave
	// their own room. Ownership must be transferred first.
	ErrOwnerCannotLeave = errors.New("owner cannot leave their own room")
)

// Gate enforces the authorization invariants of membership-mutating actions
// before they reach the store, and appends a MemberEvent for every
// state-changing action. It holds no state of its own.
type Gate struct {
	persister persistence.Persister
}

func NewGate(persister persistence.Persister) *Gate {
	return &Gate{persister: persister}
}

func (g *Gate) appendEvent(roomId string, userId, actorId *string, kind string) {
	ev := &types.MemberEvent{
		RoomId:    roomId,
		UserId:    userId,
		ActorId:   actorId,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
	// the audit log is a side effect, a failed append never fails the action
	if err := g.persister.StoreMemberEvent(ev); err != nil {
		globals.AppLogger.Error("could not append member event", "kind", kind, "room", roomId, "error", err)
	}
}

// Join makes user a member of room if they are not yet one, logging a join
// (or invite, when the user followed an invite link) event on first join.
// Joining a room one is already a member of is a no-op.
func (g *Gate) Join(room *types.Room, user *types.User, invited bool) error {
	created, err := g.persister.CreateMembership(&types.Membership{
		RoomId:   room.Id,
		UserId:   user.Id,
		JoinedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	if created {
		kind := types.EventJoin
		if invited {
			kind = types.EventInvite
		}
		g.appendEvent(room.Id, &user.Id, &user.Id, kind)
	}
	return nil
}

// AddMember adds the user registered under targetEmail to the room. Only the
// room owner may add members. Adding an existing member is a no-op success.
func (g *Gate) AddMember(actor *types.User, room *types.Room, targetEmail string) (*types.User, error) {
	if !room.IsOwner(actor.Id) {
		return nil, ErrForbidden
	}
	target, err := g.persister.GetUserByEmail(targetEmail)
	if err != nil {
		return nil, err // ErrNotFound if no such user
	}
	created, err := g.persister.CreateMembership(&types.Membership{
		RoomId:   room.Id,
		UserId:   target.Id,
		JoinedAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if created {
		g.appendEvent(room.Id, &target.Id, &actor.Id, types.EventInvite)
	}
	return target, nil
}

// Kick removes the target's membership. Only the room owner may kick, and
// kicking a non-member fails with ErrNotFound. The kicked user's live
// connections are not closed; they lose access on the next membership check.
func (g *Gate) Kick(actor *types.User, room *types.Room, targetId string) error {
	if !room.IsOwner(actor.Id) {
		return ErrForbidden
	}
	if _, err := g.persister.GetMembership(room.Id, targetId); err != nil {
		return err // ErrNotFound: not a member, nothing to kick
	}
	if err := g.persister.DeleteMembership(room.Id, targetId); err != nil {
		return err
	}
	g.appendEvent(room.Id, &targetId, &actor.Id, types.EventKick)
	return nil
}

// Leave removes the actor's own membership. The room owner is barred from
// leaving their own room and must transfer ownership first.
func (g *Gate) Leave(actor *types.User, room *types.Room) error {
	if _, err := g.persister.GetMembership(room.Id, actor.Id); err != nil {
		return err // ErrNotFound: not in room
	}
	if room.IsOwner(actor.Id) {
		return ErrOwnerCannotLeave
	}
	if err := g.persister.DeleteMembership(room.Id, actor.Id); err != nil {
		return err
	}
	g.appendEvent(room.Id, &actor.Id, &actor.Id, types.EventLeave)
	return nil
}

// TransferOwnership reassigns Room.Owner to the target user. Only the current
// owner may transfer. The membership IsAdmin flags are deliberately left
// untouched: ownership and the admin flag are tracked independently, and the
// owner's privilege is always implicit.
func (g *Gate) TransferOwnership(actor *types.User, room *types.Room, targetId string) error {
	if !room.IsOwner(actor.Id) {
		return ErrForbidden
	}
	target := &types.User{Id: targetId}
	if err := g.persister.GetUser(target); err != nil {
		return err
	}
	return g.persister.TransferOwnership(room.Id, targetId)
}
