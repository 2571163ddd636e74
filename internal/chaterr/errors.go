// Package chaterr defines the error taxonomy shared by the realtime core and the REST API.
package chaterr

import "errors"

// Kind groups errors by how they propagate to the client.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindValidation   Kind = "validation"
	KindRelationship Kind = "relationship"
	KindPersistence  Kind = "persistence"
	KindTransport    Kind = "transport"
)

// Error is a classified error. Two errors match under errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Wrap attaches a cause to a sentinel without mutating it.
func Wrap(base *Error, cause error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: cause}
}

// KindOf reports the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// PublicMessage returns the text safe to show a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Internal error"
}

var (
	ErrTokenExpired       = &Error{Kind: KindAuth, Code: "token_expired", Message: "Token expired"}
	ErrTokenInvalid       = &Error{Kind: KindAuth, Code: "token_invalid", Message: "Invalid token"}
	ErrWrongTokenClass    = &Error{Kind: KindAuth, Code: "wrong_token_class", Message: "Invalid token type"}
	ErrTooManyConnections = &Error{Kind: KindAuth, Code: "too_many_connections", Message: "Too many connections"}

	ErrOversized            = &Error{Kind: KindValidation, Code: "oversized", Message: "Message too large"}
	ErrMalformed            = &Error{Kind: KindValidation, Code: "malformed", Message: "Invalid message format"}
	ErrUnknownType          = &Error{Kind: KindValidation, Code: "unknown_type", Message: "Unknown message type"}
	ErrMessageTooLong       = &Error{Kind: KindValidation, Code: "message_too_long", Message: "Message too long"}
	ErrRateLimited          = &Error{Kind: KindValidation, Code: "rate_limited", Message: "Rate limit exceeded"}
	ErrUnsafeContent        = &Error{Kind: KindValidation, Code: "unsafe_content", Message: "Message contains invalid content"}
	ErrNotAuthenticated     = &Error{Kind: KindValidation, Code: "not_authenticated", Message: "Not authenticated"}
	ErrAlreadyAuthenticated = &Error{Kind: KindValidation, Code: "already_authenticated", Message: "Already authenticated"}

	ErrNotBuddies = &Error{Kind: KindRelationship, Code: "not_buddies", Message: "You can only message your buddies"}
	ErrBlocked    = &Error{Kind: KindRelationship, Code: "blocked", Message: "Cannot send message to this user"}

	ErrPersistenceFailed = &Error{Kind: KindPersistence, Code: "persistence_failed", Message: "Failed to send message"}

	ErrConnectionClosed = &Error{Kind: KindTransport, Code: "connection_closed", Message: "Connection closed"}
	ErrNotConnected     = &Error{Kind: KindTransport, Code: "not_connected", Message: "User not connected"}
)
