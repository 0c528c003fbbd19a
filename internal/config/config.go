// Package config loads trustd settings from the environment. A .env file in
// the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devSecret = "dev-secret-change-in-production"

// Config holds all service configuration.
type Config struct {
	Environment string // "development" | "staging" | "production"

	HTTPAddr       string
	GRPCAddr       string
	AllowedOrigins []string

	// PostgresDSN selects the Postgres store; empty means in-memory.
	PostgresDSN string

	// RedisURL enables publishing trust events to NotifyChannel.
	RedisURL      string
	NotifyChannel string

	AuthSecret string
	AuthIssuer string

	StrictLevels  bool
	FallbackLevel string

	// ExpirySweep is the interval of the relationship expiry sweeper; zero disables it.
	ExpirySweep time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from an arbitrary lookup, which keeps tests off the
// process environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if val := strings.TrimSpace(getenv(key)); val != "" {
			return val
		}
		return fallback
	}

	cfg := &Config{
		Environment: strings.ToLower(get("TRUST_ENV", "development")),

		HTTPAddr:       get("TRUST_HTTP_ADDR", ":8080"),
		GRPCAddr:       get("TRUST_GRPC_ADDR", ":9090"),
		AllowedOrigins: splitList(get("TRUST_ALLOWED_ORIGINS", "http://localhost:3000")),

		PostgresDSN: get("TRUST_PG_DSN", ""),

		RedisURL:      get("TRUST_REDIS_URL", ""),
		NotifyChannel: get("TRUST_NOTIFY_CHANNEL", "trust.events"),

		AuthSecret: get("TRUST_AUTH_SECRET", devSecret),
		AuthIssuer: get("TRUST_AUTH_ISSUER", "tisp"),

		FallbackLevel: get("TRUST_FALLBACK_LEVEL", "public"),
	}

	var err error
	if cfg.StrictLevels, err = parseBool(get("TRUST_STRICT_LEVELS", "false")); err != nil {
		return nil, fmt.Errorf("TRUST_STRICT_LEVELS: %w", err)
	}
	if cfg.ExpirySweep, err = time.ParseDuration(get("TRUST_EXPIRY_SWEEP", "1m")); err != nil {
		return nil, fmt.Errorf("TRUST_EXPIRY_SWEEP: %w", err)
	}
	if cfg.ExpirySweep < 0 {
		return nil, fmt.Errorf("TRUST_EXPIRY_SWEEP must not be negative")
	}

	if cfg.Environment == "production" {
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("TRUST_PG_DSN is required in production")
		}
		if cfg.AuthSecret == devSecret {
			return nil, fmt.Errorf("TRUST_AUTH_SECRET must be set in production")
		}
	}
	return cfg, nil
}

// Development reports whether the service runs with development defaults.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.ToLower(s))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
