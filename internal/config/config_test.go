package config

import (
	"strings"
	"testing"
	"time"
)

func validTestConfig() *Config {
	return &Config{
		JWTAccessSecret:  "abcdefghijklmnopqrstuvwxyz123456",
		JWTRefreshSecret: "abcdefghijklmnopqrstuvwxyz654321",
		DatabaseURL:      "postgres://localhost/carzone",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		SessionTTL:       7 * 24 * time.Hour,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validTestConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsMissingSecrets(t *testing.T) {
	cfg := validTestConfig()
	cfg.JWTAccessSecret = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET error, got %v", err)
	}

	cfg = validTestConfig()
	cfg.JWTRefreshSecret = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "JWT_REFRESH_SECRET") {
		t.Fatalf("expected JWT_REFRESH_SECRET error, got %v", err)
	}
}

func TestValidateRejectsSharedSecret(t *testing.T) {
	cfg := validTestConfig()
	cfg.JWTRefreshSecret = cfg.JWTAccessSecret
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected shared-secret config to be rejected")
	}
}

func TestValidateRejectsRefreshOutlivingSession(t *testing.T) {
	cfg := validTestConfig()
	cfg.RefreshTokenTTL = cfg.SessionTTL + time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected refresh TTL > session TTL to be rejected")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "abcdefghijklmnopqrstuvwxyz123456")
	t.Setenv("JWT_REFRESH_SECRET", "abcdefghijklmnopqrstuvwxyz654321")
	t.Setenv("DATABASE_URL", "postgres://localhost/carzone_test")
	t.Setenv("ACCESS_TOKEN_TTL", "10m")
	t.Setenv("AUTH_REQUIRE_VERIFIED_EMAIL", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("expected ACCESS_TOKEN_TTL override, got %v", cfg.AccessTokenTTL)
	}
	if cfg.RequireVerifiedEmail {
		t.Fatal("expected verification requirement to be disabled")
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port, got %q", cfg.ServerPort)
	}
}
