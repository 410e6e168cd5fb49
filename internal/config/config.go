package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
)

type Config struct {
	HTTPAddress string
	DatabaseURL string
	LogLevel    string

	// Environment is the deployment tag stamped onto new migration
	// records and consulted by the authorization policy.
	Environment         string
	AdminAPIKey         string
	RequireConfirmation bool

	SessionKey      string
	SessionKeyBytes []byte

	Target TargetConfig
}

// TargetConfig points the inspection operations (list_tables,
// get_schema, backup_table, security status) at a database. It
// defaults to the catalog database.
type TargetConfig struct {
	Provider string
	DSN      string
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddress:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Environment:         strings.ToLower(getEnv("ENVIRONMENT", EnvDevelopment)),
		AdminAPIKey:         os.Getenv("ADMIN_API_KEY"),
		RequireConfirmation: !strings.EqualFold(os.Getenv("REQUIRE_CONFIRMATION"), "false"),
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SessionKey = os.Getenv("SESSION_KEY")

	cfg.Target = TargetConfig{
		Provider: strings.ToLower(getEnv("TARGET_DB_PROVIDER", "postgres")),
		DSN:      getEnv("TARGET_DB_DSN", cfg.DatabaseURL),
	}

	if cfg.SessionKey != "" {
		keyBytes, err := base64.StdEncoding.DecodeString(cfg.SessionKey)
		if err != nil {
			return Config{}, errors.New("SESSION_KEY must be base64")
		}
		cfg.SessionKeyBytes = keyBytes
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	switch c.Environment {
	case EnvProduction, EnvStaging, EnvDevelopment:
	default:
		return fmt.Errorf("ENVIRONMENT must be one of production, staging, development (got %q)", c.Environment)
	}
	switch c.Target.Provider {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("TARGET_DB_PROVIDER must be postgres or mysql (got %q)", c.Target.Provider)
	}
	if c.SessionKey != "" && len(c.SessionKeyBytes) < 32 {
		return errors.New("SESSION_KEY must decode to at least 32 bytes")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
