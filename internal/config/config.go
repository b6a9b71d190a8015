// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything cmd/api needs to start.
type Config struct {
	Environment     string
	HTTPAddr        string
	GRPCAddr        string
	PGDSN           string
	PGMaxOpenConns  int
	AutoMigrate     bool
	AuthSecret      string
	AuthIssuer      string
	InvitationTTL   time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisChannel    string
	NotifyQueueSize int
	SentryDSN       string
	RateBurst       int
	RatePerSec      float64
	MaxBodyBytes    int64
	AllowedOrigins  []string
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Environment:     getEnv("POSTDESK_ENV", "development"),
		HTTPAddr:        getEnv("POSTDESK_HTTP_ADDR", ":8080"),
		GRPCAddr:        getEnv("POSTDESK_GRPC_ADDR", ":9090"),
		PGDSN:           getEnv("POSTDESK_PG_DSN", ""),
		PGMaxOpenConns:  getEnvAsInt("POSTDESK_PG_MAX_OPEN_CONNS", 50),
		AutoMigrate:     getEnvAsBool("POSTDESK_AUTO_MIGRATE", false),
		AuthSecret:      getEnv("POSTDESK_AUTH_SECRET", ""),
		AuthIssuer:      getEnv("POSTDESK_AUTH_ISSUER", "postdesk"),
		InvitationTTL:   getEnvAsDuration("POSTDESK_INVITATION_TTL", 7*24*time.Hour),
		RedisAddr:       getEnv("POSTDESK_REDIS_ADDR", ""),
		RedisPassword:   getEnv("POSTDESK_REDIS_PASSWORD", ""),
		RedisDB:         getEnvAsInt("POSTDESK_REDIS_DB", 0),
		RedisChannel:    getEnv("POSTDESK_REDIS_CHANNEL", "postdesk.notifications"),
		NotifyQueueSize: getEnvAsInt("POSTDESK_NOTIFY_QUEUE", 256),
		SentryDSN:       getEnv("SENTRY_DSN", ""),
		RateBurst:       getEnvAsInt("POSTDESK_RATE_BURST", 20),
		RatePerSec:      getEnvAsFloat("POSTDESK_RATE_PER_SEC", 10),
		MaxBodyBytes:    int64(getEnvAsInt("POSTDESK_MAX_BODY_BYTES", 1<<20)),
		AllowedOrigins:  getEnvAsList("POSTDESK_ALLOWED_ORIGINS"),
	}

	// Validate required configurations
	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("POSTDESK_AUTH_SECRET is required")
	}
	if cfg.InvitationTTL <= 0 {
		return Config{}, fmt.Errorf("POSTDESK_INVITATION_TTL must be positive")
	}
	if cfg.RatePerSec <= 0 || cfg.RateBurst <= 0 {
		return Config{}, fmt.Errorf("POSTDESK_RATE_PER_SEC and POSTDESK_RATE_BURST must be positive")
	}
	if cfg.Production() && len(cfg.AuthSecret) < 32 {
		return Config{}, fmt.Errorf("POSTDESK_AUTH_SECRET must be at least 32 characters in production")
	}
	return cfg, nil
}

// Production reports whether the process runs with production settings.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// UsesPostgres reports whether a database DSN was configured.
func (c Config) UsesPostgres() bool { return c.PGDSN != "" }

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
