package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"buddy-chat/internal/chaterr"
	"buddy-chat/internal/models"
	"buddy-chat/internal/observability"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Application close codes.
const (
	CloseSuperseded         = 4000
	CloseAuthFailed         = 4001
	CloseTooManyConnections = 4002
	CloseAuthTimeout        = 4003
)

type outbound struct {
	data      []byte
	closeCode int
	closeText string
}

// Client is one websocket connection. A single reader goroutine handles
// inbound frames in order; a single writer goroutine owns all socket writes.
type Client struct {
	h    *Handler
	conn *websocket.Conn
	info ConnInfo

	send chan outbound
	done chan struct{}
	ctx  context.Context

	state  atomic.Int32
	userID atomic.Int64
	alive  atomic.Bool

	typing    *typingTimers
	authTimer *time.Timer
	closeOnce sync.Once
}

func newClient(ctx context.Context, h *Handler, conn *websocket.Conn, info ConnInfo) *Client {
	c := &Client{
		h:      h,
		conn:   conn,
		info:   info,
		send:   make(chan outbound, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		typing: newTypingTimers(),
	}
	c.state.Store(int32(StateConnecting))
	c.alive.Store(true)
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// UserID is zero until the connection authenticates.
func (c *Client) UserID() int {
	return int(c.userID.Load())
}

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo {
	return c.info
}

func (c *Client) start() {
	c.state.Store(int32(StateAuthenticating))
	c.authTimer = time.AfterFunc(c.h.cfg.AuthTimeout, c.expireAuth)
	go c.writePump()
	go c.readPump()
}

// bind moves an authenticating connection to Authenticated.
func (c *Client) bind(userID int) bool {
	if !c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateAuthenticated)) {
		return false
	}
	c.userID.Store(int64(userID))
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	return true
}

func (c *Client) expireAuth() {
	if !c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateClosing)) {
		return
	}
	if data, err := json.Marshal(models.NewAuthErrorEvent("Authentication timeout")); err == nil {
		c.enqueue(outbound{data: data})
	}
	c.enqueue(outbound{closeCode: CloseAuthTimeout, closeText: "Authentication timeout"})
}

// Send queues event for delivery. It fails once the connection is closing.
func (c *Client) Send(event any) error {
	if c.State() >= StateClosing {
		return chaterr.ErrConnectionClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if !c.enqueue(outbound{data: data}) {
		return chaterr.ErrConnectionClosed
	}
	return nil
}

// Close sends a close frame with code after any frames already queued.
func (c *Client) Close(code int, text string) {
	if !c.beginClose() {
		return
	}
	c.enqueue(outbound{closeCode: code, closeText: text})
}

func (c *Client) beginClose() bool {
	for {
		s := c.state.Load()
		if s >= int32(StateClosing) {
			return false
		}
		if c.state.CompareAndSwap(s, int32(StateClosing)) {
			return true
		}
	}
}

func (c *Client) enqueue(f outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	default:
		zap.L().Warn("send buffer full", zap.String("conn_id", c.info.ConnID), zap.Int("user_id", c.UserID()))
		if f.closeCode != 0 {
			_ = c.conn.Close()
		}
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.h.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteWait))
			if f.closeCode != 0 {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.closeCode, f.closeText))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				zap.L().Debug("websocket write error", zap.String("conn_id", c.info.ConnID), zap.Error(err))
				return
			}
		case <-ticker.C:
			// no pong since the previous ping
			if !c.alive.Swap(false) {
				zap.L().Info("heartbeat missed, terminating", zap.String("conn_id", c.info.ConnID), zap.Int("user_id", c.UserID()))
				observability.IncWSEvent("ws_heartbeat_timeout")
				return
			}
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.h.cfg.WriteWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readPump() {
	reason := "closed"
	defer func() { c.teardown(reason) }()

	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	// one byte past the ceiling is enough for the gate to see an oversized
	// frame; the unread rest is discarded by the next NextReader
	limit := int64(c.h.gate.MaxPayloadBytes()) + 1
	for {
		_, r, err := c.conn.NextReader()
		if err == nil {
			var data []byte
			if data, err = io.ReadAll(io.LimitReader(r, limit)); err == nil {
				c.handleFrame(data)
				continue
			}
		}

		reason = err.Error()
		if c.State() < StateClosing && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			publishWSEvent(c.ctx, c.info, c.UserID(), "ws_error", reason)
		}
		return
	}
}

// handleFrame runs the admission checks and dispatches one frame.
// Frames arriving after a close was initiated are dropped; the reader keeps
// draining until the writer has flushed the close frame and dropped the socket.
func (c *Client) handleFrame(data []byte) {
	if c.State() >= StateClosing {
		return
	}
	gate := c.h.gate
	if !gate.ValidateSize(data) {
		observability.IncWSInbound("unknown", "oversized")
		c.Close(websocket.ClosePolicyViolation, chaterr.ErrOversized.Message)
		return
	}

	var msg models.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reject("unknown", "malformed", chaterr.Wrap(chaterr.ErrMalformed, err))
		return
	}
	label := typeLabel(msg.Type)
	if err := gate.ValidateStructure(&msg); err != nil {
		c.reject(label, "invalid", err)
		return
	}
	if !gate.CheckMessageRate(c.info.IP, msg.Type) {
		c.reject(label, "rate_limited", chaterr.ErrRateLimited)
		return
	}

	state := c.State()
	if msg.Type == models.TypeAuthenticate {
		if state != StateAuthenticating {
			c.reject(label, "state", chaterr.ErrAlreadyAuthenticated)
			return
		}
		c.handleAuthenticate(*msg.Token)
		return
	}
	if state != StateAuthenticated {
		c.reject(label, "state", chaterr.ErrNotAuthenticated)
		return
	}

	switch msg.Type {
	case models.TypePrivateMessage:
		c.handlePrivateMessage(*msg.ToUserID, *msg.Message)
	case models.TypeTypingStart, models.TypeTypingStop:
		c.handleTyping(msg.Type, *msg.ToUserID)
	case models.TypePing:
		c.alive.Store(true)
		_ = c.Send(models.PongEvent{Type: models.TypePong})
		observability.IncWSInbound(label, "ok")
	}
}

func (c *Client) handleAuthenticate(token string) {
	ctx, cancel := context.WithTimeout(c.ctx, c.h.cfg.OpTimeout)
	defer cancel()

	user, err := c.h.sessions.Authenticate(ctx, c, token)
	if err != nil {
		observability.IncWSInbound(models.TypeAuthenticate, "rejected")
		zap.L().Info("websocket authentication failed",
			zap.String("conn_id", c.info.ConnID),
			zap.String("ip", c.info.IP),
			zap.Error(err))
		_ = c.Send(models.NewAuthErrorEvent(chaterr.PublicMessage(err)))
		code := CloseAuthFailed
		if errors.Is(err, chaterr.ErrTooManyConnections) {
			code = CloseTooManyConnections
		}
		c.Close(code, chaterr.PublicMessage(err))
		return
	}

	observability.IncWSInbound(models.TypeAuthenticate, "ok")
	publishWSEvent(c.ctx, c.info, user.ID, "ws_authenticated", "")
	zap.L().Info("websocket authenticated", zap.String("conn_id", c.info.ConnID), zap.Int("user_id", user.ID))
}

func (c *Client) handlePrivateMessage(toUserID int, body string) {
	ctx, cancel := context.WithTimeout(c.ctx, c.h.cfg.OpTimeout)
	defer cancel()

	if _, err := c.h.router.Route(ctx, c.UserID(), toUserID, body); err != nil {
		c.reject(models.TypePrivateMessage, "rejected", err)
		return
	}
	observability.IncWSInbound(models.TypePrivateMessage, "ok")
}

func (c *Client) handleTyping(msgType string, toUserID int) {
	ctx, cancel := context.WithTimeout(c.ctx, c.h.cfg.OpTimeout)
	defer cancel()

	from := c.UserID()
	if err := c.h.router.CheckRelationship(ctx, from, toUserID); err != nil {
		c.reject(msgType, "rejected", err)
		return
	}

	if msgType == models.TypeTypingStart {
		c.typing.arm(toUserID, c.h.cfg.TypingTimeout, func() {
			_ = c.h.hub.Push(toUserID, typingEvent(models.TypeTypingStop, from))
		})
	} else {
		c.typing.disarm(toUserID)
	}
	_ = c.h.hub.Push(toUserID, typingEvent(msgType, from))
	observability.IncWSInbound(msgType, "ok")
}

func (c *Client) reject(label, outcome string, err error) {
	observability.IncWSInbound(label, outcome)
	if chaterr.KindOf(err) == "" {
		zap.L().Error("websocket handler error", zap.String("conn_id", c.info.ConnID), zap.Error(err))
	}
	_ = c.Send(models.NewErrorEvent(chaterr.PublicMessage(err)))
}

// teardown runs exactly once, whatever ended the connection.
func (c *Client) teardown(reason string) {
	c.closeOnce.Do(func() {
		c.beginClose()
		close(c.done)
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		_ = c.conn.Close()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.h.cfg.OpTimeout)
		defer cancel()

		userID := c.UserID()
		if userID != 0 {
			for _, to := range c.typing.stopAll() {
				_ = c.h.hub.Push(to, typingEvent(models.TypeTypingStop, userID))
			}
			c.h.sessions.Release(ctx, c, userID)
		}

		c.state.Store(int32(StateClosed))
		observability.DecWSActive()
		publishWSEvent(ctx, c.info, userID, "ws_disconnect", reason)
		zap.L().Info("websocket closed",
			zap.String("conn_id", c.info.ConnID),
			zap.Int("user_id", userID),
			zap.Duration("duration", time.Since(c.info.ConnectedAt)),
			zap.String("reason", reason))
	})
}

func typingEvent(msgType string, from int) models.TypingEvent {
	return models.TypingEvent{Type: msgType, FromUserID: from, Timestamp: time.Now().UTC()}
}

func typeLabel(t string) string {
	switch t {
	case models.TypeAuthenticate, models.TypePrivateMessage, models.TypeTypingStart, models.TypeTypingStop, models.TypePing:
		return t
	}
	return "unknown"
}
