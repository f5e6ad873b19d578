package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("PASSPORT_TOKEN_SECRET", "")
	if _, err := Load(); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PASSPORT_TOKEN_SECRET", "unit-test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTTL)
	}
	if cfg.ThrottleLimit != 5 || cfg.ThrottleWindow != 15*time.Minute {
		t.Fatalf("unexpected throttle defaults: %d / %v", cfg.ThrottleLimit, cfg.ThrottleWindow)
	}
	if cfg.Issuer != "passport" || cfg.Audience != "passport-clients" {
		t.Fatalf("unexpected token defaults: %s / %s", cfg.Issuer, cfg.Audience)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PASSPORT_TOKEN_SECRET", "unit-test-secret")
	t.Setenv("PASSPORT_ACCESS_TTL_MINUTES", "5")
	t.Setenv("PASSPORT_REFRESH_TTL_DAYS", "1")
	t.Setenv("PASSPORT_THROTTLE_LIMIT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTL != 5*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTTL)
	}
	if cfg.ThrottleLimit != 3 {
		t.Fatalf("unexpected throttle limit: %d", cfg.ThrottleLimit)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Setenv("PASSPORT_TOKEN_SECRET", "unit-test-secret")
	t.Setenv("PASSPORT_THROTTLE_LIMIT", "many")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-integer throttle limit")
	}

	t.Setenv("PASSPORT_THROTTLE_LIMIT", "-2")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative throttle limit")
	}
}
