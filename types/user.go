package types

import "time"

type User struct {
	Id           string    `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:320"` // unique, used as the login name
	Name         string    `json:"name"`                              // display name
	PasswordHash string    `json:"-"`                                 // bcrypt, never serialized
	IsActive     bool      `json:"is_active"`
	LastOnline   time.Time `json:"last_online"`
	CreatedAt    time.Time `json:"-"`
}
