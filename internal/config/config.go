package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingSecrets reports that one or more required secrets are unset.
var ErrMissingSecrets = errors.New("config: required secrets are missing")

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	GeminiAPIKey  string
	GeminiModelID string
	// Zero leaves the model's own default in place.
	GeminiTemperature     float64
	GeminiMaxOutputTokens int

	// Row store. StoreURL names the Postgres database; StoreServiceKey is the
	// credential used to connect to it.
	StoreURL        string
	StoreServiceKey string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	TurnLockTTL   time.Duration

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	AdminJWTSecret     string

	// Intake-completed notifications
	EmailProvider      string
	SendGridAPIKey     string
	EmailFrom          string
	EmailFromName      string
	IntakeNotifyEmail  string
	OutboxPollInterval time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// APIBaseURL is where the terminal client sends turns.
	APIBaseURL string
}

// Secrets are the three values every turn needs.
type Secrets struct {
	GeminiAPIKey    string
	StoreURL        string
	StoreServiceKey string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		GeminiTemperature:     getEnvAsFloat("GEMINI_TEMPERATURE", 0),
		GeminiMaxOutputTokens: getEnvAsInt("GEMINI_MAX_OUTPUT_TOKENS", 0),

		StoreURL:        getEnv("STORE_URL", ""),
		StoreServiceKey: getEnv("STORE_SERVICE_KEY", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		TurnLockTTL:   getEnvAsDuration("TURN_LOCK_TTL", 60*time.Second),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),

		EmailProvider:      strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:          getEnv("EMAIL_FROM", ""),
		EmailFromName:      getEnv("EMAIL_FROM_NAME", "병원 예약 챗봇"),
		IntakeNotifyEmail:  getEnv("INTAKE_NOTIFY_EMAIL", ""),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "ap-northeast-2"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
	}
}

// Secrets returns the required secret values.
func (c *Config) Secrets() Secrets {
	if c == nil {
		return Secrets{}
	}
	return Secrets{
		GeminiAPIKey:    c.GeminiAPIKey,
		StoreURL:        c.StoreURL,
		StoreServiceKey: c.StoreServiceKey,
	}
}

// Missing lists the env names of unset secrets, in a fixed order.
func (s Secrets) Missing() []string {
	var missing []string
	if strings.TrimSpace(s.GeminiAPIKey) == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if strings.TrimSpace(s.StoreURL) == "" {
		missing = append(missing, "STORE_URL")
	}
	if strings.TrimSpace(s.StoreServiceKey) == "" {
		missing = append(missing, "STORE_SERVICE_KEY")
	}
	return missing
}

// Validate returns an error wrapping ErrMissingSecrets when any secret is unset.
func (s Secrets) Validate() error {
	missing := s.Missing()
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingSecrets, strings.Join(missing, ", "))
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
