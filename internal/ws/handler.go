package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"buddy-chat/internal/messaging"
	"buddy-chat/internal/observability"
	"buddy-chat/internal/security"
)

// MessageRouter is what a connection needs from the message router.
type MessageRouter interface {
	Route(ctx context.Context, senderID, recipientID int, raw string) (messaging.DeliveryReceipt, error)
	CheckRelationship(ctx context.Context, senderID, recipientID int) error
}

// Config tunes connection handling.
type Config struct {
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	AuthTimeout       time.Duration
	TypingTimeout     time.Duration
	WriteWait         time.Duration
	OpTimeout         time.Duration
	SendBuffer        int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = 5 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Handler upgrades HTTP requests to websocket connections.
type Handler struct {
	hub      *Hub
	gate     *security.Gate
	sessions *Authenticator
	router   MessageRouter
	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, gate *security.Gate, sessions *Authenticator, router MessageRouter, cfg Config) *Handler {
	cfg = cfg.withDefaults()
	return &Handler{
		hub:      hub,
		gate:     gate,
		sessions: sessions,
		router:   router,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

// Handle upgrades the connection and starts its pumps. Credentials arrive
// later as an authenticate frame.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("buddy-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	// rate keys use the peer address unless a trusted proxy forwarded the request
	ip := c.ClientIP()
	origin := c.GetHeader("Origin")
	span.SetAttributes(attribute.String("net.peer.ip", ip), attribute.String("http.origin", origin))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		zap.L().Info("websocket upgrade refused", zap.String("ip", ip), zap.String("origin", origin), zap.Error(err))
		observability.IncWSEvent("ws_rejected_origin")
		return
	}

	if !h.gate.CheckConnectionRate(ip) {
		zap.L().Info("websocket connection rate exceeded", zap.String("ip", ip))
		observability.IncWSEvent("ws_rejected_rate")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Too many connections")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          ip,
		Origin:      origin,
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("im.conn_id", info.ConnID))

	// the request context ends with this handler; the connection outlives it
	client := newClient(context.WithoutCancel(ctx), h, conn, info)
	observability.IncWSActive()
	publishWSEvent(ctx, info, 0, "ws_connect", "")
	client.start()
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browser requests from a whitelisted origin. "*" allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	allowAll := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		_, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
}
