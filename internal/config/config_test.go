package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ROOM_TTL", "")
	t.Setenv("AUTH_TIMEOUT", "")
	t.Setenv("ENV", "")

	cfg := Load()
	require.Equal(t, "8001", cfg.Port)
	require.Equal(t, 24*time.Hour, cfg.RoomTTL)
	require.Equal(t, 10*time.Second, cfg.AuthTimeout)
	require.Equal(t, 48, cfg.SecretBytes)
	require.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ROOM_TTL", "2h")
	t.Setenv("SECRET_BYTES", "32")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, ,192.168.0.0/16")
	t.Setenv("AUTH_TIMEOUT", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://prompt.example.com")

	cfg := Load()
	require.Equal(t, 2*time.Hour, cfg.RoomTTL)
	require.Equal(t, 32, cfg.SecretBytes)
	require.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
	require.Equal(t, 10*time.Second, cfg.AuthTimeout)
	require.Equal(t, []string{"https://prompt.example.com"}, cfg.AllowedOrigins)
}

func TestLoadProductionRequiresRedis(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("REDIS_URL", "")
	require.Panics(t, func() { Load() })
}
