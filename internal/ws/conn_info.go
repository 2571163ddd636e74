package ws

import "time"

// ConnInfo identifies a socket in logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	DeviceID    string
	IP          string
	Origin      string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
