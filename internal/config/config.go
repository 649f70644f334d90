package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// PhonePe credentials and endpoints.
	ClientID        string
	ClientSecret    string
	ClientVersion   string
	GatewayBaseURL  string
	IdentityBaseURL string

	// PublicBaseURL overrides the scheme://host derived from the inbound
	// request when building callback URLs (useful behind odd proxies).
	PublicBaseURL  string
	RedirectScheme string

	CORSAllowedOrigins []string

	OutboundTimeout  time.Duration
	WebhookReplayTTL time.Duration
	IdempotencyTTL   time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int

	PollDelay    time.Duration
	PollMaxRetry int

	DefaultCustomerName   string
	DefaultCustomerMobile string

	AutoMigrate    bool
	MigrationsPath string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		ClientID:        k.String("PHONEPE_CLIENT_ID"),
		ClientSecret:    k.String("PHONEPE_CLIENT_SECRET"),
		ClientVersion:   valueOrDefault(k.String("PHONEPE_CLIENT_VERSION"), "1"),
		GatewayBaseURL:  valueOrDefault(k.String("PHONEPE_GATEWAY_BASE_URL"), "https://api.phonepe.com/apis/pg"),
		IdentityBaseURL: valueOrDefault(k.String("PHONEPE_IDENTITY_BASE_URL"), "https://api.phonepe.com/apis/identity-manager"),

		PublicBaseURL:  strings.TrimRight(k.String("PUBLIC_BASE_URL"), "/"),
		RedirectScheme: valueOrDefault(k.String("REDIRECT_SCHEME"), "https"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		OutboundTimeout:  parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "15m"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    int(k.Int64("RATE_LIMIT_MAX")),

		PollDelay:    parseDuration(k.String("STATUS_POLL_DELAY"), "90s"),
		PollMaxRetry: int(k.Int64("STATUS_POLL_MAX_RETRY")),

		DefaultCustomerName:   valueOrDefault(k.String("DEFAULT_CUSTOMER_NAME"), "Guest"),
		DefaultCustomerMobile: valueOrDefault(k.String("DEFAULT_CUSTOMER_MOBILE"), "9999999999"),

		AutoMigrate:    parseBool(valueOrDefault(k.String("AUTO_MIGRATE"), "true")),
		MigrationsPath: valueOrDefault(k.String("MIGRATIONS_PATH"), "db/migrations"),
	}

	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 60
	}
	if cfg.PollMaxRetry <= 0 {
		cfg.PollMaxRetry = 10
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("PHONEPE_CLIENT_ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("PHONEPE_CLIENT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
