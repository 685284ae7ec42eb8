package types

import "time"

// A Room outlives any particular connection. The subscriber set of a room is
// transient state owned by the registry, not part of this entity.
type Room struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name"`
	OwnerId   *string   `json:"-"` // nullable: the owner account may be deleted
	Owner     *User     `json:"owner,omitempty" gorm:"foreignKey:OwnerId"`
	CreatedAt time.Time `json:"-"`
}

// IsOwner reports whether userId is the current owner of the room. Ownership
// is tracked independently of the membership admin flag, and the owner is
// always privileged regardless of that flag.
func (r *Room) IsOwner(userId string) bool {
	return r.OwnerId != nil && *r.OwnerId == userId
}
