package ws

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"buddy-chat/internal/chaterr"
)

// Registry maps an authenticated user to its single live connection.
type Registry interface {
	// Register installs c for userID and returns the connection it replaced, if any.
	// The caller is responsible for closing the evicted connection.
	Register(userID int, c *Client) (evicted *Client)
	Lookup(userID int) (*Client, bool)
	// Remove drops whatever connection userID has. Removing an absent user is a no-op.
	Remove(userID int) bool
	// Unregister drops userID only while c is still its current connection.
	Unregister(userID int, c *Client) bool
	Count() int
}

// Hub is the in-memory Registry. Operations on different users never contend.
type Hub struct {
	clients sync.Map // int -> *Client
	count   atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

var _ Registry = (*Hub)(nil)

func (h *Hub) Register(userID int, c *Client) *Client {
	prev, loaded := h.clients.Swap(userID, c)
	if !loaded {
		h.count.Add(1)
		return nil
	}
	old := prev.(*Client)
	if old == c {
		return nil
	}
	return old
}

func (h *Hub) Lookup(userID int) (*Client, bool) {
	v, ok := h.clients.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

func (h *Hub) Remove(userID int) bool {
	if _, loaded := h.clients.LoadAndDelete(userID); loaded {
		h.count.Add(-1)
		return true
	}
	return false
}

func (h *Hub) Unregister(userID int, c *Client) bool {
	if h.clients.CompareAndDelete(userID, c) {
		h.count.Add(-1)
		return true
	}
	return false
}

// Count returns the number of registered users.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Push queues event on the live connection of userID.
func (h *Hub) Push(userID int, event any) error {
	c, ok := h.Lookup(userID)
	if !ok {
		return chaterr.ErrNotConnected
	}
	return c.Send(event)
}

// Broadcast queues event on every registered connection and returns how many accepted it.
func (h *Hub) Broadcast(event any) int {
	sent := 0
	h.clients.Range(func(key, value any) bool {
		if err := value.(*Client).Send(event); err != nil {
			zap.L().Debug("broadcast send failed", zap.Any("user_id", key), zap.Error(err))
			return true
		}
		sent++
		return true
	})
	return sent
}
