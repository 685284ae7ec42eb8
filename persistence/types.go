package persistence

import (
	"errors"
	"fmt"

	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/types"
)

// ErrNotFound is returned when a requested user, room, membership or message
// does not exist, regardless of the backend.
var ErrNotFound = errors.New("not found")

// Persister is the durable store for users, rooms, messages, memberships and
// the membership event log. Implementations provide their own consistency
// guarantees; in particular CreateMembership must treat a duplicate
// (room, user) pair as a benign no-op and report created=false.
type Persister interface {
	StoreUser(user *types.User) error
	GetUser(user *types.User) error // looks up by user.Id
	GetUserByEmail(email string) (*types.User, error)
	GetUsers() ([]*types.User, error)
	TouchLastOnline(userIds []string) error

	StoreRoom(room *types.Room) error
	GetRoom(room *types.Room) error // looks up by room.Id
	GetRooms() ([]*types.Room, error)
	GetRoomsForUser(userId string) ([]*types.Room, error)
	DeleteRoom(room *types.Room) error
	TransferOwnership(roomId, newOwnerId string) error

	CreateMembership(m *types.Membership) (created bool, err error)
	GetMembership(roomId, userId string) (*types.Membership, error)
	GetMemberships(roomId string) ([]*types.Membership, error)
	DeleteMembership(roomId, userId string) error

	StoreMemberEvent(ev *types.MemberEvent) error

	StoreMessage(msg *types.Message) error
	// GetMessageHistory returns up to limit messages of a room, newest first.
	GetMessageHistory(roomId string, limit int) ([]*types.Message, error)

	Close() error
}

// NewPersister builds the Persister selected by the persistence
// configuration.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "postgres", "sqlite":
		return NewGormPersister(cfg)
	case "buntdb":
		return NewBuntPersister(cfg)
	case "memory":
		return NewMemoryPersister(), nil
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
