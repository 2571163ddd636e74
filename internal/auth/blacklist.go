package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist stores revoked tokens until their natural expiry.
type Blacklist interface {
	Revoke(ctx context.Context, token string, until time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// TokenKey derives the lookup key of a token. The hash is keyed but deterministic,
// so a revoked token always maps to the same key.
func TokenKey(secret []byte, token string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// RedisBlacklist keeps revoked token keys in redis with a TTL.
type RedisBlacklist struct {
	rdb    redis.UniversalClient
	secret []byte
	prefix string
}

// NewRedisBlacklist constructs a RedisBlacklist.
func NewRedisBlacklist(rdb redis.UniversalClient, secret []byte) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb, secret: secret, prefix: "im:revoked:"}
}

func (b *RedisBlacklist) Revoke(ctx context.Context, token string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, b.prefix+TokenKey(b.secret, token), "1", ttl).Err()
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.prefix+TokenKey(b.secret, token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryBlacklist is the single-process fallback used when redis is not configured.
type MemoryBlacklist struct {
	mu      sync.Mutex
	secret  []byte
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlacklist constructs a MemoryBlacklist.
func NewMemoryBlacklist(secret []byte) *MemoryBlacklist {
	return &MemoryBlacklist{secret: secret, entries: make(map[string]time.Time), now: time.Now}
}

func (b *MemoryBlacklist) Revoke(_ context.Context, token string, until time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for k, exp := range b.entries {
		if !exp.After(now) {
			delete(b.entries, k)
		}
	}
	if until.After(now) {
		b.entries[TokenKey(b.secret, token)] = until
	}
	return nil
}

func (b *MemoryBlacklist) IsRevoked(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.entries[TokenKey(b.secret, token)]
	return ok && exp.After(b.now()), nil
}
