package types

import "time"

// Membership is the durable record that a user belongs to a room, unique per
// (room, user) pair. The IsAdmin flag is independent of room ownership.
type Membership struct {
	RoomId   string    `json:"room_id" gorm:"primaryKey"`
	UserId   string    `json:"user_id" gorm:"primaryKey"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}

// Membership event kinds.
const (
	EventJoin   = "join"
	EventLeave  = "leave"
	EventKick   = "kick"
	EventInvite = "invite"
)

// MemberEvent is one entry of the append-only membership audit log. It is
// never mutated or deleted. User and Actor are nullable so that log rows
// survive account deletion.
type MemberEvent struct {
	Id        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomId    string    `json:"room_id"`
	UserId    *string   `json:"user_id"`
	ActorId   *string   `json:"actor_id"`
	Kind      string    `json:"kind"` // join, leave, kick, invite
	CreatedAt time.Time `json:"created_at"`
}
