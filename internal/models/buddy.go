package models

import "time"

// Buddy is one entry of a user's buddy list.
type Buddy struct {
	UserID      int       `db:"id" json:"user_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Status      Status    `db:"status" json:"status"`
	Since       time.Time `db:"created_at" json:"since"`
}

const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// BuddyRequest is a pending or resolved invitation between two users.
type BuddyRequest struct {
	ID         int       `db:"id" json:"id"`
	FromUserID int       `db:"from_user_id" json:"from_user_id"`
	ToUserID   int       `db:"to_user_id" json:"to_user_id"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Block is a directed block edge.
type Block struct {
	BlockerID int       `db:"blocker_id" json:"blocker_id"`
	BlockedID int       `db:"blocked_id" json:"blocked_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
