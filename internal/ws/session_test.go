package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"buddy-chat/internal/auth"
	"buddy-chat/internal/mocks"
	"buddy-chat/internal/models"
)

// gatedPresence stores statuses like the notifier does. Offline writes block
// until release is closed once offlineStarted has fired.
type gatedPresence struct {
	mu      sync.Mutex
	stored  map[int]models.Status
	history []models.Status

	offlineStarted chan struct{}
	release        chan struct{}
	once           sync.Once
}

func newGatedPresence() *gatedPresence {
	return &gatedPresence{
		stored:         make(map[int]models.Status),
		offlineStarted: make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (p *gatedPresence) BroadcastStatus(_ context.Context, userID int, status models.Status) (int, error) {
	if status == models.StatusOffline {
		p.once.Do(func() { close(p.offlineStarted) })
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored[userID] = status
	p.history = append(p.history, status)
	return 0, nil
}

func (p *gatedPresence) status(userID int) models.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stored[userID]
}

func newSessionFixture(t *testing.T) (*Authenticator, *Hub, *gatedPresence, string) {
	t.Helper()
	tokens := auth.NewTokenManager(auth.TokenOptions{Secret: []byte("s"), Issuer: "i", Audience: "a", TTL: time.Hour})
	token, _, err := tokens.Issue(1, "a@example.com", auth.ClassSession)
	require.NoError(t, err)

	users := new(mocks.UserRepositoryMock)
	users.On("GetUser", mock.Anything, 1).Return(models.User{ID: 1, DisplayName: "alice"}, nil)

	hub := NewHub()
	presence := newGatedPresence()
	return NewAuthenticator(tokens, nil, users, hub, presence, 3), hub, presence, token
}

func authenticatingClient() *Client {
	c := testClient()
	c.state.Store(int32(StateAuthenticating))
	return c
}

func TestReleaseDoesNotLeaveReconnectedUserOffline(t *testing.T) {
	sessions, hub, presence, token := newSessionFixture(t)
	ctx := context.Background()

	old := authenticatingClient()
	_, err := sessions.Authenticate(ctx, old, token)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		sessions.Release(ctx, old, 1)
		close(released)
	}()
	<-presence.offlineStarted

	// reconnect completes while the old socket's offline write is in flight
	fresh := authenticatingClient()
	_, err = sessions.Authenticate(ctx, fresh, token)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, presence.status(1))

	close(presence.release)
	<-released

	got, ok := hub.Lookup(1)
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Equal(t, models.StatusOnline, presence.status(1))
}

func TestReleaseFlipsOfflineWithoutReconnect(t *testing.T) {
	sessions, hub, presence, token := newSessionFixture(t)
	ctx := context.Background()
	close(presence.release)

	c := authenticatingClient()
	_, err := sessions.Authenticate(ctx, c, token)
	require.NoError(t, err)

	sessions.Release(ctx, c, 1)
	assert.Equal(t, models.StatusOffline, presence.status(1))
	assert.Equal(t, 0, hub.Count())
	assert.Equal(t, 0, sessions.Active(1))
}
