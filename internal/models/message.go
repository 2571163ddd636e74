package models

import "time"

// Message represents a private message between two buddies.
type Message struct {
	ID         int       `db:"id" json:"id"`
	FromUserID int       `db:"from_user_id" json:"from_user_id"`
	ToUserID   int       `db:"to_user_id" json:"to_user_id"`
	Body       string    `db:"body" json:"message"`
	Read       bool      `db:"is_read" json:"read"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
