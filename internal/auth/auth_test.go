package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddy-chat/internal/chaterr"
)

func newTestManager() *TokenManager {
	return NewTokenManager(TokenOptions{
		Secret:   []byte("test-secret"),
		Issuer:   "buddy-chat",
		Audience: "buddy-chat-clients",
		TTL:      time.Hour,
	})
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager()

	token, exp, err := m.Issue(7, "a@example.com", ClassSession)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.Verify(token, ClassSession)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "7", claims.Subject)
}

func TestVerifyWrongClass(t *testing.T) {
	m := newTestManager()
	token, _, err := m.Issue(7, "a@example.com", ClassPasswordReset)
	require.NoError(t, err)

	_, err = m.Verify(token, ClassSession)
	assert.ErrorIs(t, err, chaterr.ErrWrongTokenClass)
}

func TestVerifyExpired(t *testing.T) {
	m := newTestManager()
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.Issue(7, "a@example.com", ClassSession)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Verify(token, ClassSession)
	assert.ErrorIs(t, err, chaterr.ErrTokenExpired)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	m := newTestManager()
	token, _, err := m.Issue(7, "a@example.com", ClassSession)
	require.NoError(t, err)

	other := NewTokenManager(TokenOptions{Secret: []byte("other"), Issuer: "buddy-chat", Audience: "buddy-chat-clients"})
	_, err = other.Verify(token, ClassSession)
	assert.ErrorIs(t, err, chaterr.ErrTokenInvalid)

	wrongIssuer := NewTokenManager(TokenOptions{Secret: []byte("test-secret"), Issuer: "someone-else", Audience: "buddy-chat-clients"})
	_, err = wrongIssuer.Verify(token, ClassSession)
	assert.ErrorIs(t, err, chaterr.ErrTokenInvalid)

	wrongAudience := NewTokenManager(TokenOptions{Secret: []byte("test-secret"), Issuer: "buddy-chat", Audience: "admins"})
	_, err = wrongAudience.Verify(token, ClassSession)
	assert.ErrorIs(t, err, chaterr.ErrTokenInvalid)

	_, err = m.Verify("not-a-token", ClassSession)
	assert.ErrorIs(t, err, chaterr.ErrTokenInvalid)
}

func TestTokenKeyIsDeterministic(t *testing.T) {
	secret := []byte("k")
	assert.Equal(t, TokenKey(secret, "abc"), TokenKey(secret, "abc"))
	assert.NotEqual(t, TokenKey(secret, "abc"), TokenKey(secret, "abd"))
	assert.NotEqual(t, TokenKey(secret, "abc"), TokenKey([]byte("other"), "abc"))
}

func TestMemoryBlacklist(t *testing.T) {
	b := NewMemoryBlacklist([]byte("k"))
	ctx := context.Background()

	revoked, err := b.IsRevoked(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, b.Revoke(ctx, "tok", time.Now().Add(time.Minute)))
	revoked, err = b.IsRevoked(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, revoked)

	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	revoked, err = b.IsRevoked(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}
