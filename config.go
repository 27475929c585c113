package notify

import (
	"os"
	"strings"
	"time"
)

// Config is the typed configuration for a notify process, resolved once
// at startup. Business logic never reads the environment directly.
type Config struct {
	// HTTPAddr is the listen address for the API role.
	HTTPAddr string

	// DatabaseURL is the Postgres connection string for notification rows.
	DatabaseURL string

	// RedisURL is the broker connection string for the job queue. When
	// empty the queue degrades to a no-op: producers skip enqueue and the
	// topology controller runs with consumers disabled.
	RedisURL string

	// WorkersEnabled controls whether this process starts queue
	// consumers. Defaults to true when the environment value is unset.
	WorkersEnabled bool

	// ShutdownTimeout is the maximum time to wait for in-flight jobs and
	// open connections during graceful shutdown.
	ShutdownTimeout time.Duration

	// Email provider (Resend-compatible API).
	ResendAPIKey    string
	ResendFromEmail string
	ResendBaseURL   string

	// SMS provider (Twilio-compatible API).
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	TwilioBaseURL     string

	// AI report provider (OpenRouter-compatible API).
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
}

// ResolveConfig reads the process environment into a Config. This is the
// single configuration-resolution step; everything downstream consumes
// the returned struct.
func ResolveConfig() Config {
	return Config{
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		WorkersEnabled:  ParseWorkersEnabled(os.Getenv("QUEUE_WORKERS_ENABLED")),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		ResendAPIKey:    strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		ResendFromEmail: envOr("RESEND_FROM_EMAIL", "noreply@talimy.space"),
		ResendBaseURL:   envOr("RESEND_BASE_URL", "https://api.resend.com"),

		TwilioAccountSID:  strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:   strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		TwilioPhoneNumber: strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER")),
		TwilioBaseURL:     envOr("TWILIO_BASE_URL", "https://api.twilio.com"),

		OpenRouterAPIKey:  strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL: envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
	}
}

// ParseWorkersEnabled interprets the QUEUE_WORKERS_ENABLED toggle.
// Unset or unrecognised values enable consumers; only explicit
// false-like values disable them.
func ParseWorkersEnabled(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "false", "off", "no":
		return false
	default:
		return true
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
