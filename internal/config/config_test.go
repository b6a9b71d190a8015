package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("POSTDESK_AUTH_SECRET", "secret")
	t.Setenv("POSTDESK_PG_DSN", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Fatalf("unexpected addresses: %s %s", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.InvitationTTL != 7*24*time.Hour {
		t.Fatalf("unexpected ttl: %v", cfg.InvitationTTL)
	}
	if cfg.UsesPostgres() {
		t.Fatal("expected in-memory store without DSN")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("POSTDESK_AUTH_SECRET", "secret")
	t.Setenv("POSTDESK_INVITATION_TTL", "48h")
	t.Setenv("POSTDESK_RATE_BURST", "5")
	t.Setenv("POSTDESK_RATE_PER_SEC", "2.5")
	t.Setenv("POSTDESK_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("POSTDESK_PG_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.InvitationTTL != 48*time.Hour {
		t.Fatalf("unexpected ttl: %v", cfg.InvitationTTL)
	}
	if cfg.RateBurst != 5 || cfg.RatePerSec != 2.5 {
		t.Fatalf("unexpected rate settings: %d %v", cfg.RateBurst, cfg.RatePerSec)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.PGMaxOpenConns != 50 {
		t.Fatalf("expected fallback on bad int, got %d", cfg.PGMaxOpenConns)
	}
}

func TestFromEnvValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"POSTDESK_AUTH_SECRET": ""}},
		{"negative ttl", map[string]string{"POSTDESK_AUTH_SECRET": "s", "POSTDESK_INVITATION_TTL": "-1h"}},
		{"short production secret", map[string]string{"POSTDESK_AUTH_SECRET": "short", "POSTDESK_ENV": "production"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
