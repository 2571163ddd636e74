package models

import "time"

// Status is the presence value stored on a user row.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known presence value.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Selectable reports whether a user may pick s explicitly. Offline is only set on disconnect.
func (s Status) Selectable() bool {
	return s.Valid() && s != StatusOffline
}

// User is an account as seen by the realtime core.
type User struct {
	ID           int       `db:"id" json:"id"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Status       Status    `db:"status" json:"status"`
	Verified     bool      `db:"verified" json:"verified"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
