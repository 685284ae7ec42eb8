package types

import "time"

// Message is one persisted chat message. Ordering within a room is by
// CreatedAt, ties broken by insertion order.
type Message struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	RoomId    string    `json:"room_id" gorm:"index:idx_room_created,priority:1"`
	UserId    *string   `json:"user_id"` // nullable: the sender account may be deleted
	UserName  string    `json:"user"`    // denormalized display name for history responses
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created" gorm:"index:idx_room_created,priority:2"`
}
