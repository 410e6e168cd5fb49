package config

import (
	"encoding/base64"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/catalog")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("REQUIRE_CONFIRMATION", "")
	t.Setenv("ADMIN_API_KEY", "")
	t.Setenv("SESSION_KEY", "")
	t.Setenv("TARGET_DB_PROVIDER", "")
	t.Setenv("TARGET_DB_DSN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected default environment development, got %q", cfg.Environment)
	}
	if !cfg.RequireConfirmation {
		t.Error("expected confirmation required by default")
	}
	if cfg.Target.DSN != cfg.DatabaseURL {
		t.Errorf("expected target DSN to default to catalog DSN, got %q", cfg.Target.DSN)
	}
	if cfg.Target.Provider != "postgres" {
		t.Errorf("expected default target provider postgres, got %q", cfg.Target.Provider)
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/catalog")
	t.Setenv("ENVIRONMENT", "qa")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestRequireConfirmationOptOut(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/catalog")
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("REQUIRE_CONFIRMATION", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RequireConfirmation {
		t.Error("expected confirmation requirement disabled")
	}
}

func TestSessionKeyMustBeLongEnough(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/catalog")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SESSION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short session key")
	}
}
