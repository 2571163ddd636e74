package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"buddy-chat/internal/chaterr"
)

// Token classes. A session token is the only class accepted by the realtime layer.
const (
	ClassSession       = "session"
	ClassRefresh       = "refresh"
	ClassPasswordReset = "password_reset"
)

// Claims is the payload of every token the service mints.
type Claims struct {
	UserID int    `json:"uid"`
	Email  string `json:"email"`
	Class  string `json:"token_class"`
	jwtlib.RegisteredClaims
}

// TokenOptions controls signing.
type TokenOptions struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// TokenManager issues and verifies HS256 tokens.
type TokenManager struct {
	opts TokenOptions
	now  func() time.Time
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(opts TokenOptions) *TokenManager {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &TokenManager{opts: opts, now: time.Now}
}

// Issue mints a token of the given class for a user.
func (m *TokenManager) Issue(userID int, email, class string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.opts.TTL)
	claims := Claims{
		UserID: userID,
		Email:  email,
		Class:  class,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.Itoa(userID),
			Issuer:    m.opts.Issuer,
			Audience:  jwtlib.ClaimStrings{m.opts.Audience},
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.opts.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry, issuer, audience and token class.
func (m *TokenManager) Verify(token, class string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		return m.opts.Secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(m.opts.Issuer),
		jwtlib.WithAudience(m.opts.Audience),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, chaterr.Wrap(chaterr.ErrTokenExpired, err)
		}
		return nil, chaterr.Wrap(chaterr.ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.UserID <= 0 {
		return nil, chaterr.ErrTokenInvalid
	}
	if claims.Class != class {
		return nil, chaterr.ErrWrongTokenClass
	}
	return claims, nil
}
