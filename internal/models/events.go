package models

import "time"

// Wire message types.
const (
	TypeAuthenticate   = "authenticate"
	TypePrivateMessage = "private_message"
	TypeTypingStart    = "typing_start"
	TypeTypingStop     = "typing_stop"
	TypePing           = "ping"

	TypeAuthSuccess       = "auth_success"
	TypeAuthError         = "auth_error"
	TypeBuddyStatusChange = "buddy_status_change"
	TypeMessageRead       = "message_read"
	TypeError             = "error"
	TypeServerStats       = "server_stats"
	TypePong              = "pong"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// InboundMessage is any client frame. Pointer fields distinguish missing from zero.
type InboundMessage struct {
	Type     string  `json:"type"`
	Token    *string `json:"token,omitempty"`
	ToUserID *int    `json:"toUserId,omitempty"`
	Message  *string `json:"message,omitempty"`
}

// AuthSuccessEvent confirms a connection is bound to a user.
type AuthSuccessEvent struct {
	Type string `json:"type"`
	User *User  `json:"user"`
}

// ErrorEvent carries auth_error and error replies.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PrivateMessageEvent is pushed to both the recipient (incoming) and the sender (outgoing).
type PrivateMessageEvent struct {
	Type       string    `json:"type"`
	MessageID  int       `json:"messageId"`
	FromUserID int       `json:"fromUserId"`
	ToUserID   int       `json:"toUserId"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Direction  string    `json:"direction"`
}

// BuddyStatusEvent announces a presence change to a buddy.
type BuddyStatusEvent struct {
	Type      string    `json:"type"`
	UserID    int       `json:"userId"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageReadEvent tells a sender that their message was read.
type MessageReadEvent struct {
	Type      string    `json:"type"`
	MessageID int       `json:"messageId"`
	ReaderID  int       `json:"readerId"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingEvent is typing_start or typing_stop.
type TypingEvent struct {
	Type       string    `json:"type"`
	FromUserID int       `json:"fromUserId"`
	Timestamp  time.Time `json:"timestamp"`
}

type ServerStatsEvent struct {
	Type        string    `json:"type"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}

type PongEvent struct {
	Type string `json:"type"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

func NewAuthErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: TypeAuthError, Message: message}
}

// NewPrivateMessageEvent renders a stored message for one side of the conversation.
func NewPrivateMessageEvent(msg Message, direction string) PrivateMessageEvent {
	return PrivateMessageEvent{
		Type:       TypePrivateMessage,
		MessageID:  msg.ID,
		FromUserID: msg.FromUserID,
		ToUserID:   msg.ToUserID,
		Message:    msg.Body,
		Timestamp:  msg.CreatedAt,
		Direction:  direction,
	}
}
