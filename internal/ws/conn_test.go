package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddy-chat/internal/auth"
	"buddy-chat/internal/db"
	"buddy-chat/internal/messaging"
	"buddy-chat/internal/models"
	"buddy-chat/internal/repositories"
	"buddy-chat/internal/security"
)

const (
	testTick    = 10 * time.Millisecond
	waitTimeout = 3 * time.Second
)

type testEnv struct {
	server   *httptest.Server
	hub      *Hub
	sessions *Authenticator
	tokens   *auth.TokenManager
	black    *auth.MemoryBlacklist
	users    *repositories.UserRepo
	buddies  *repositories.BuddyRepo
	blocks   *repositories.BlockRepo
	messages *repositories.MessageRepo
}

func newTestEnv(t *testing.T, cfg Config, gateCfg security.Config) *testEnv {
	t.Helper()
	database, err := db.Connect("sqlite3", ":memory:")
	require.NoError(t, err)

	env := &testEnv{
		hub:      NewHub(),
		users:    repositories.NewUserRepo(database),
		buddies:  repositories.NewBuddyRepo(database),
		blocks:   repositories.NewBlockRepo(database),
		messages: repositories.NewMessageRepo(database),
		tokens: auth.NewTokenManager(auth.TokenOptions{
			Secret:   []byte("ws-test"),
			Issuer:   "buddy-chat",
			Audience: "buddy-chat-clients",
			TTL:      time.Hour,
		}),
		black: auth.NewMemoryBlacklist([]byte("ws-test")),
	}

	gate := security.NewGate(gateCfg)
	router := messaging.NewRouter(env.buddies, env.blocks, env.messages, gate, env.hub, gateCfg.MaxMessageChars)
	notifier := messaging.NewNotifier(env.users, env.buddies, env.hub)
	env.sessions = NewAuthenticator(env.tokens, env.black, env.users, env.hub, notifier, 3)
	handler := NewHandler(env.hub, gate, env.sessions, router, cfg)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	require.NoError(t, engine.SetTrustedProxies(nil))
	engine.GET("/ws", handler.Handle)
	env.server = httptest.NewServer(engine)

	t.Cleanup(func() {
		env.server.Close()
		database.Close()
	})
	return env
}

func defaultTestConfig() Config {
	return Config{
		AllowedOrigins:    []string{"http://im.test"},
		HeartbeatInterval: time.Minute,
		AuthTimeout:       time.Minute,
		TypingTimeout:     time.Minute,
	}
}

func (e *testEnv) user(t *testing.T, name string) (models.User, string) {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), name, name+"@example.com", "hash", true)
	require.NoError(t, err)
	token, _, err := e.tokens.Issue(u.ID, u.Email, auth.ClassSession)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) befriend(t *testing.T, a, b int) {
	t.Helper()
	ctx := context.Background()
	req, err := e.buddies.CreateRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = e.buddies.AcceptRequest(ctx, req.ID, b)
	require.NoError(t, err)
}

type testConn struct {
	conn   *websocket.Conn
	events chan map[string]any
	closed chan error
}

func (e *testEnv) dial(t *testing.T, silent bool) *testConn {
	t.Helper()
	return e.dialWithHeader(t, silent, http.Header{})
}

func (e *testEnv) dialWithHeader(t *testing.T, silent bool, header http.Header) *testConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	header.Set("Origin", "http://im.test")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if silent {
		conn.SetPingHandler(func(string) error { return nil })
	}

	tc := &testConn{conn: conn, events: make(chan map[string]any, 64), closed: make(chan error, 1)}
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				tc.closed <- err
				return
			}
			var ev map[string]any
			if json.Unmarshal(data, &ev) == nil {
				tc.events <- ev
			}
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return tc
}

func (tc *testConn) send(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, tc.conn.WriteJSON(v))
}

// expect returns the next event of type typ, skipping others.
func (tc *testConn) expect(t *testing.T, typ string) map[string]any {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-tc.events:
			if ev["type"] == typ {
				return ev
			}
		case err := <-tc.closed:
			t.Fatalf("connection closed while waiting for %s: %v", typ, err)
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func (tc *testConn) expectNone(t *testing.T, typ string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev := <-tc.events:
			if ev["type"] == typ {
				t.Fatalf("unexpected %s event: %v", typ, ev)
			}
		case <-deadline:
			return
		}
	}
}

func (tc *testConn) expectClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-tc.closed:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("connection not closed")
	}
	return nil
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

func (tc *testConn) authenticate(t *testing.T, token string) map[string]any {
	t.Helper()
	tc.send(t, map[string]any{"type": "authenticate", "token": token})
	return tc.expect(t, models.TypeAuthSuccess)
}

func (e *testEnv) status(userID int) models.Status {
	u, err := e.users.GetUser(context.Background(), userID)
	if err != nil {
		return ""
	}
	return u.Status
}

func TestAuthenticateAndDeliver(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	alice, aliceToken := env.user(t, "alice")
	bob, bobToken := env.user(t, "bob")
	env.befriend(t, alice.ID, bob.ID)

	a := env.dial(t, false)
	ev := a.authenticate(t, aliceToken)
	assert.Equal(t, "online", ev["user"].(map[string]any)["status"])
	require.Eventually(t, func() bool { return env.status(alice.ID) == models.StatusOnline }, waitTimeout, testTick)

	b := env.dial(t, false)
	b.authenticate(t, bobToken)
	online := a.expect(t, models.TypeBuddyStatusChange)
	assert.EqualValues(t, bob.ID, online["userId"])
	assert.Equal(t, "online", online["status"])
	assert.Equal(t, 2, env.hub.Count())

	a.send(t, map[string]any{"type": "private_message", "toUserId": bob.ID, "message": "fish & chips"})

	ack := a.expect(t, models.TypePrivateMessage)
	assert.Equal(t, models.DirectionOutgoing, ack["direction"])
	assert.Greater(t, ack["messageId"].(float64), float64(0))

	in := b.expect(t, models.TypePrivateMessage)
	assert.Equal(t, models.DirectionIncoming, in["direction"])
	assert.Equal(t, "fish &amp; chips", in["message"])
	assert.EqualValues(t, alice.ID, in["fromUserId"])
	assert.Equal(t, ack["messageId"], in["messageId"])
}

func TestOfflineRecipientKeepsMessage(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	alice, aliceToken := env.user(t, "alice")
	bob, _ := env.user(t, "bob")
	env.befriend(t, alice.ID, bob.ID)

	a := env.dial(t, false)
	a.authenticate(t, aliceToken)
	a.send(t, map[string]any{"type": "private_message", "toUserId": bob.ID, "message": "hello"})
	ack := a.expect(t, models.TypePrivateMessage)
	assert.Equal(t, models.DirectionOutgoing, ack["direction"])
	assert.NotEmpty(t, ack["timestamp"])

	msgs, err := env.messages.GetConversation(context.Background(), bob.ID, alice.ID, 0, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.False(t, msgs[0].Read)
}

func TestRelationshipErrorsKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	alice, _ := env.user(t, "alice")
	bob, bobToken := env.user(t, "bob")
	carol, _ := env.user(t, "carol")
	env.befriend(t, alice.ID, bob.ID)
	require.NoError(t, env.blocks.Block(context.Background(), alice.ID, bob.ID))

	b := env.dial(t, false)
	b.authenticate(t, bobToken)

	b.send(t, map[string]any{"type": "private_message", "toUserId": alice.ID, "message": "hi"})
	assert.Equal(t, "Cannot send message to this user", b.expect(t, models.TypeError)["message"])

	b.send(t, map[string]any{"type": "private_message", "toUserId": carol.ID, "message": "hi"})
	assert.Equal(t, "You can only message your buddies", b.expect(t, models.TypeError)["message"])

	b.send(t, map[string]any{"type": "ping"})
	b.expect(t, models.TypePong)

	msgs, err := env.messages.GetConversation(context.Background(), bob.ID, alice.ID, 0, 50)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessagesBeforeAuthenticationAreRejected(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	_, token := env.user(t, "alice")

	c := env.dial(t, false)
	c.send(t, map[string]any{"type": "ping"})
	assert.Equal(t, "Not authenticated", c.expect(t, models.TypeError)["message"])

	c.send(t, map[string]any{"type": "bogus"})
	assert.Equal(t, "Unknown message type", c.expect(t, models.TypeError)["message"])

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "Invalid message format", c.expect(t, models.TypeError)["message"])

	c.authenticate(t, token)
	c.send(t, map[string]any{"type": "authenticate", "token": token})
	assert.Equal(t, "Already authenticated", c.expect(t, models.TypeError)["message"])
}

func TestInvalidTokenClosesWithAuthFailed(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())

	c := env.dial(t, false)
	c.send(t, map[string]any{"type": "authenticate", "token": "garbage"})
	assert.Equal(t, "Invalid token", c.expect(t, models.TypeAuthError)["message"])
	assert.Equal(t, CloseAuthFailed, closeCode(c.expectClosed(t)))
}

func TestRevokedTokenIsRefused(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	_, token := env.user(t, "alice")
	require.NoError(t, env.black.Revoke(context.Background(), token, time.Now().Add(time.Hour)))

	c := env.dial(t, false)
	c.send(t, map[string]any{"type": "authenticate", "token": token})
	c.expect(t, models.TypeAuthError)
	assert.Equal(t, CloseAuthFailed, closeCode(c.expectClosed(t)))
}

func TestOversizedPayloadClosesConnection(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	_, token := env.user(t, "alice")

	c := env.dial(t, false)
	c.authenticate(t, token)
	big := fmt.Sprintf(`{"type":"ping","pad":"%s"}`, strings.Repeat("x", 11*1024))
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(big)))

	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(c.expectClosed(t)))
}

func TestFrameFarAboveLimitClosesWithPolicyViolation(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	_, token := env.user(t, "alice")

	c := env.dial(t, false)
	c.authenticate(t, token)
	big := fmt.Sprintf(`{"type":"ping","pad":"%s"}`, strings.Repeat("x", 64*1024))
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(big)))

	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(c.expectClosed(t)))
}

func TestSecondConnectionSupersedesFirst(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	alice, token := env.user(t, "alice")

	first := env.dial(t, false)
	first.authenticate(t, token)
	second := env.dial(t, false)
	second.authenticate(t, token)

	assert.Equal(t, CloseSuperseded, closeCode(first.expectClosed(t)))
	assert.Equal(t, 1, env.hub.Count())

	require.Eventually(t, func() bool { return env.sessions.Active(alice.ID) == 1 }, waitTimeout, testTick)
	assert.Equal(t, models.StatusOnline, env.status(alice.ID))

	second.send(t, map[string]any{"type": "ping"})
	second.expect(t, models.TypePong)
}

func TestAuthTimeout(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.AuthTimeout = 5 * testTick
	env := newTestEnv(t, cfg, security.DefaultConfig())

	c := env.dial(t, false)
	assert.Equal(t, "Authentication timeout", c.expect(t, models.TypeAuthError)["message"])
	assert.Equal(t, CloseAuthTimeout, closeCode(c.expectClosed(t)))
}

func TestHeartbeatTerminatesSilentConnection(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.HeartbeatInterval = 5 * testTick
	env := newTestEnv(t, cfg, security.DefaultConfig())
	alice, aliceToken := env.user(t, "alice")
	bob, bobToken := env.user(t, "bob")
	env.befriend(t, alice.ID, bob.ID)

	b := env.dial(t, false)
	b.authenticate(t, bobToken)

	a := env.dial(t, true)
	a.authenticate(t, aliceToken)
	b.expect(t, models.TypeBuddyStatusChange)

	a.expectClosed(t)
	offline := b.expect(t, models.TypeBuddyStatusChange)
	assert.EqualValues(t, alice.ID, offline["userId"])
	assert.Equal(t, "offline", offline["status"])

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, waitTimeout, testTick)
	assert.Equal(t, models.StatusOffline, env.status(alice.ID))
	_, stillThere := env.hub.Lookup(bob.ID)
	assert.True(t, stillThere)
}

func TestDisconnectFlipsOfflineAndNotifiesBuddies(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	alice, aliceToken := env.user(t, "alice")
	bob, bobToken := env.user(t, "bob")
	env.befriend(t, alice.ID, bob.ID)

	b := env.dial(t, false)
	b.authenticate(t, bobToken)
	a := env.dial(t, false)
	a.authenticate(t, aliceToken)
	b.expect(t, models.TypeBuddyStatusChange)

	// abrupt close, no close handshake
	require.NoError(t, a.conn.UnderlyingConn().Close())

	offline := b.expect(t, models.TypeBuddyStatusChange)
	assert.Equal(t, "offline", offline["status"])
	require.Eventually(t, func() bool { return env.sessions.Active(alice.ID) == 0 }, waitTimeout, testTick)
	assert.Equal(t, models.StatusOffline, env.status(alice.ID))
}

func TestTypingExpires(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.TypingTimeout = 5 * testTick
	env := newTestEnv(t, cfg, security.DefaultConfig())
	alice, aliceToken := env.user(t, "alice")
	bob, bobToken := env.user(t, "bob")
	env.befriend(t, alice.ID, bob.ID)

	b := env.dial(t, false)
	b.authenticate(t, bobToken)
	a := env.dial(t, false)
	a.authenticate(t, aliceToken)

	a.send(t, map[string]any{"type": "typing_start", "toUserId": bob.ID})
	start := b.expect(t, models.TypeTypingStart)
	assert.EqualValues(t, alice.ID, start["fromUserId"])
	stop := b.expect(t, models.TypeTypingStop)
	assert.EqualValues(t, alice.ID, stop["fromUserId"])
}

func TestMessageRateLimitKeepsConnectionOpen(t *testing.T) {
	gateCfg := security.DefaultConfig()
	gateCfg.MessageLimits[models.TypePing] = security.Limit{Max: 2, Window: time.Minute}
	env := newTestEnv(t, defaultTestConfig(), gateCfg)
	_, token := env.user(t, "alice")

	c := env.dial(t, false)
	c.authenticate(t, token)
	c.send(t, map[string]any{"type": "ping"})
	c.expect(t, models.TypePong)
	c.send(t, map[string]any{"type": "ping"})
	c.expect(t, models.TypePong)
	c.send(t, map[string]any{"type": "ping"})
	assert.Equal(t, "Rate limit exceeded", c.expect(t, models.TypeError)["message"])
	c.expectNone(t, models.TypePong, 5*testTick)

	c.send(t, map[string]any{"type": "typing_stop", "toUserId": 999})
	c.expect(t, models.TypeError)
}

func TestConnectionRateLimit(t *testing.T) {
	gateCfg := security.DefaultConfig()
	gateCfg.ConnectionsPerMinute = 1
	env := newTestEnv(t, defaultTestConfig(), gateCfg)

	env.dial(t, false)
	second := env.dial(t, false)
	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(second.expectClosed(t)))
}

func TestConnectionRateIgnoresForwardedFor(t *testing.T) {
	gateCfg := security.DefaultConfig()
	gateCfg.ConnectionsPerMinute = 1
	env := newTestEnv(t, defaultTestConfig(), gateCfg)

	env.dialWithHeader(t, false, http.Header{"X-Forwarded-For": []string{"198.51.100.1"}})
	for i := 2; i < 5; i++ {
		spoofed := http.Header{"X-Forwarded-For": []string{fmt.Sprintf("198.51.100.%d", i)}}
		c := env.dialWithHeader(t, false, spoofed)
		assert.Equal(t, websocket.ClosePolicyViolation, closeCode(c.expectClosed(t)))
	}
}

func TestForeignOriginRefused(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.test"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestTooManyConnectionsPerUser(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), security.DefaultConfig())
	alice, token := env.user(t, "alice")

	// hold every slot as if three superseded sockets were still draining
	for i := 0; i < 3; i++ {
		require.True(t, env.sessions.acquire(alice.ID))
	}

	c := env.dial(t, false)
	c.send(t, map[string]any{"type": "authenticate", "token": token})
	assert.Equal(t, "Too many connections", c.expect(t, models.TypeAuthError)["message"])
	assert.Equal(t, CloseTooManyConnections, closeCode(c.expectClosed(t)))
	assert.Equal(t, 0, env.hub.Count())
}
