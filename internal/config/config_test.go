package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, 3, cfg.WS.MaxConnectionsPerUser)
	assert.Equal(t, 30*time.Second, cfg.WS.HeartbeatInterval)
	assert.Equal(t, 10*1024, cfg.Security.MaxPayloadBytes)
	assert.Equal(t, 1000, cfg.Security.MaxMessageChars)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.WS.AllowedOrigins)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("WS_MAX_CONNECTIONS_PER_USER", "5")
	t.Setenv("DB_DRIVER", "sqlite3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WS.AllowedOrigins)
	assert.Equal(t, 5, cfg.WS.MaxConnectionsPerUser)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load()
	require.Error(t, err)
}
