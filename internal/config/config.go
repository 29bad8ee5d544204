package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all configuration for the application.
type Config struct {
	Port       string
	Env        string
	RedisURL   string
	InstanceID string

	// Rooms
	RoomTTL        time.Duration
	SecretBytes    int
	SecretHashCost int

	// Sessions and broker
	AuthTimeout   time.Duration
	BrokerTimeout time.Duration

	// HTTP
	AllowedOrigins []string // CORS and WebSocket origins; empty allows all

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8001"),
		Env:              getEnv("ENV", "development"),
		RedisURL:         os.Getenv("REDIS_URL"),
		InstanceID:       os.Getenv("INSTANCE_ID"),
		RoomTTL:          getDuration("ROOM_TTL", 24*time.Hour),
		SecretBytes:      getInt("SECRET_BYTES", 48),
		SecretHashCost:   getInt("SECRET_HASH_COST", bcrypt.DefaultCost),
		AuthTimeout:      getDuration("AUTH_TIMEOUT", 10*time.Second),
		BrokerTimeout:    getDuration("BROKER_TIMEOUT", 5*time.Second),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Comma-separated IPs or CIDRs
	cfg.RateLimitWhitelist = getList("RATE_LIMIT_WHITELIST")
	cfg.AllowedOrigins = getList("ALLOWED_ORIGINS")

	// In production, cross-process fanout is mandatory
	if cfg.Env == "production" && cfg.RedisURL == "" {
		panic("REDIS_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
