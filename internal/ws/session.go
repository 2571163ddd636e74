package ws

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"buddy-chat/internal/auth"
	"buddy-chat/internal/chaterr"
	"buddy-chat/internal/models"
	"buddy-chat/internal/repositories"
)

// TokenVerifier validates a bearer credential for one token class.
type TokenVerifier interface {
	Verify(token, class string) (*auth.Claims, error)
}

// StatusBroadcaster persists a presence change and fans it out.
type StatusBroadcaster interface {
	BroadcastStatus(ctx context.Context, userID int, status models.Status) (int, error)
}

// Authenticator binds connections to users and tears the binding down again.
type Authenticator struct {
	tokens     TokenVerifier
	blacklist  auth.Blacklist
	users      repositories.UserRepository
	registry   Registry
	presence   StatusBroadcaster
	maxPerUser int

	mu     sync.Mutex
	active map[int]int
}

func NewAuthenticator(
	tokens TokenVerifier,
	blacklist auth.Blacklist,
	users repositories.UserRepository,
	registry Registry,
	presence StatusBroadcaster,
	maxPerUser int,
) *Authenticator {
	if maxPerUser <= 0 {
		maxPerUser = 3
	}
	return &Authenticator{
		tokens:     tokens,
		blacklist:  blacklist,
		users:      users,
		registry:   registry,
		presence:   presence,
		maxPerUser: maxPerUser,
		active:     make(map[int]int),
	}
}

// Authenticate verifies token, binds c to its user, sends auth_success, registers c
// (closing any superseded connection) and announces the user online.
//
// The per-user ceiling counts sockets that authenticated and have not finished
// teardown yet, so a burst of reconnects is refused rather than evicting in a loop.
func (a *Authenticator) Authenticate(ctx context.Context, c *Client, token string) (models.User, error) {
	claims, err := a.tokens.Verify(token, auth.ClassSession)
	if err != nil {
		return models.User{}, err
	}

	if a.blacklist != nil {
		revoked, err := a.blacklist.IsRevoked(ctx, token)
		if err != nil {
			zap.L().Warn("blacklist lookup failed", zap.Int("user_id", claims.UserID), zap.Error(err))
			return models.User{}, chaterr.Wrap(chaterr.ErrTokenInvalid, err)
		}
		if revoked {
			return models.User{}, chaterr.ErrTokenInvalid
		}
	}

	user, err := a.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.User{}, chaterr.Wrap(chaterr.ErrTokenInvalid, err)
		}
		return models.User{}, chaterr.Wrap(chaterr.ErrPersistenceFailed, err)
	}

	if !a.acquire(user.ID) {
		return models.User{}, chaterr.ErrTooManyConnections
	}
	if !c.bind(user.ID) {
		a.release(user.ID)
		return models.User{}, chaterr.ErrConnectionClosed
	}

	user.Status = models.StatusOnline
	if err := c.Send(models.AuthSuccessEvent{Type: models.TypeAuthSuccess, User: &user}); err != nil {
		zap.L().Debug("auth_success not queued", zap.Int("user_id", user.ID), zap.Error(err))
	}

	if evicted := a.registry.Register(user.ID, c); evicted != nil {
		evicted.Close(CloseSuperseded, "Connection superseded")
	}

	if _, err := a.presence.BroadcastStatus(ctx, user.ID, models.StatusOnline); err != nil {
		zap.L().Warn("online status broadcast failed", zap.Int("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

// Release undoes Authenticate for a closing connection. Only the current
// connection of a user flips it offline; a superseded one just drains.
//
// A reconnect can register and go online while the offline write is still in
// flight. After the write, a newer registered connection wins and online is
// written again, so the stored status always matches the registry.
func (a *Authenticator) Release(ctx context.Context, c *Client, userID int) {
	current := a.registry.Unregister(userID, c)
	a.release(userID)
	if !current || a.reconnected(userID, c) {
		return
	}
	if _, err := a.presence.BroadcastStatus(ctx, userID, models.StatusOffline); err != nil {
		zap.L().Warn("offline status broadcast failed", zap.Int("user_id", userID), zap.Error(err))
	}
	if a.reconnected(userID, c) {
		if _, err := a.presence.BroadcastStatus(ctx, userID, models.StatusOnline); err != nil {
			zap.L().Warn("online status restore failed", zap.Int("user_id", userID), zap.Error(err))
		}
	}
}

func (a *Authenticator) reconnected(userID int, c *Client) bool {
	next, ok := a.registry.Lookup(userID)
	return ok && next != c
}

// Active returns how many undrained sockets userID holds.
func (a *Authenticator) Active(userID int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[userID]
}

func (a *Authenticator) acquire(userID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[userID] >= a.maxPerUser {
		return false
	}
	a.active[userID]++
	return true
}

func (a *Authenticator) release(userID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[userID] <= 1 {
		delete(a.active, userID)
		return
	}
	a.active[userID]--
}
