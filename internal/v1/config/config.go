package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	SigningKey   string
	BroadcastKey string

	// Optional variables with defaults
	Host            string
	Port            string
	ConnectionLimit int
	MessageWebhook  string
	RedisURL        string
	RedisEnabled    bool
	BaseURL         string
	GoEnv           string
	LogLevel        string
	AllowedOrigins  string
	RateLimitAPI    string
	RateLimitBroad  string
}

// defaultConnectionLimit is used whenever CONNECTION_LIMIT is unset or unparsable.
const defaultConnectionLimit = 1000

// Load validates all required environment variables and returns a Config.
// Returns an error if any required variable is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: SIGNING_KEY
	cfg.SigningKey = os.Getenv("SIGNING_KEY")
	if cfg.SigningKey == "" {
		errs = append(errs, "SIGNING_KEY is required")
	}

	// Required: BROADCAST_KEY
	cfg.BroadcastKey = os.Getenv("BROADCAST_KEY")
	if cfg.BroadcastKey == "" {
		errs = append(errs, "BROADCAST_KEY is required")
	}

	// Optional: HOST (defaults to all interfaces)
	cfg.Host = getEnvOrDefault("HOST", "[::]")

	// Optional: PORT (defaults to 8080, validated when present)
	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	// Optional: CONNECTION_LIMIT (defaults to 1000; an unparsable or non-positive value falls back to the default with a warning)
	cfg.ConnectionLimit = defaultConnectionLimit
	if raw := os.Getenv("CONNECTION_LIMIT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.ConnectionLimit = n
		} else {
			slog.Warn("CONNECTION_LIMIT is not a valid positive integer, using default", "value", raw, "default", defaultConnectionLimit)
		}
	}

	// Optional: MESSAGE_WEBHOOK_URL
	cfg.MessageWebhook = os.Getenv("MESSAGE_WEBHOOK_URL")

	// Optional: REDIS_URL (enables the offline queue when set)
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RedisEnabled = cfg.RedisURL != ""

	// Optional: BASE_URL (used when minting signed URLs)
	cfg.BaseURL = getEnvOrDefault("BASE_URL", "ws://localhost:8080")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Optional: ALLOWED_ORIGINS (informational; CORS itself stays wide open)
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate limits for the HTTP surface in front of /broadcast and /sign-wire.
	cfg.RateLimitAPI = getEnvOrDefault("RATE_LIMIT_API", "300-M")
	cfg.RateLimitBroad = getEnvOrDefault("RATE_LIMIT_BROADCAST", "600-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"signing_key", redactSecret(cfg.SigningKey),
		"broadcast_key", redactSecret(cfg.BroadcastKey),
		"host", cfg.Host,
		"port", cfg.Port,
		"connection_limit", cfg.ConnectionLimit,
		"redis_enabled", cfg.RedisEnabled,
		"base_url", cfg.BaseURL,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"webhook_configured", cfg.MessageWebhook != "",
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
