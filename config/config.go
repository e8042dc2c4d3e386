package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vnmchuo/chat-backend/internal/provider"
)

const insecureSecretKey = "your-secret-key-change-this"

type Config struct {
	// Server
	Port        string        // default: 8080
	TurnTimeout time.Duration // whole fallback chain for one message, default: 75s

	// Database
	DatabaseURL  string // sqlite://path or postgres://...
	UsageBackend string // "database" or "memory"

	// Cache, optional
	RedisAddr string

	// Auth
	SecretKey      string
	AccessTokenTTL time.Duration
	GoogleClientID string

	// Providers, in preference order
	Providers []provider.Config

	// Conversation
	SystemPrompt           string
	MaxConversationHistory int
	MaxMessageLength       int

	// Rate Limiting
	APIRateLimit int64 // requests per minute
	RateLimitTPM int64 // tokens per minute

	// Feature flags
	EnableUsageTracking bool
	EnableRateLimiting  bool
	EnableDebugLogging  bool

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	RunSeed bool

	// Warnings are non-fatal problems found while loading.
	Warnings []string
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          getEnv("DATABASE_URL", "sqlite://./chatplatform.db"),
		UsageBackend:         getEnv("USAGE_BACKEND", "database"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		SecretKey:            getEnv("SECRET_KEY", insecureSecretKey),
		GoogleClientID:       os.Getenv("GOOGLE_CLIENT_ID"),
		SystemPrompt:         os.Getenv("SYSTEM_PROMPT"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	ttlMinutes, err := getInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.AccessTokenTTL = time.Duration(ttlMinutes) * time.Minute

	turnSeconds, err := getInt("TURN_TIMEOUT_SECONDS", 75)
	if err != nil {
		return nil, err
	}
	cfg.TurnTimeout = time.Duration(turnSeconds) * time.Second

	if cfg.MaxConversationHistory, err = getInt("MAX_CONVERSATION_HISTORY", 50); err != nil {
		return nil, err
	}
	if cfg.MaxMessageLength, err = getInt("MAX_MESSAGE_LENGTH", 10000); err != nil {
		return nil, err
	}
	if cfg.APIRateLimit, err = getInt64("API_RATE_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitTPM, err = getInt64("RATE_LIMIT_TPM", 100000); err != nil {
		return nil, err
	}

	if cfg.EnableUsageTracking, err = getBool("ENABLE_USAGE_TRACKING", true); err != nil {
		return nil, err
	}
	if cfg.EnableRateLimiting, err = getBool("ENABLE_RATE_LIMITING", true); err != nil {
		return nil, err
	}
	if cfg.EnableDebugLogging, err = getBool("ENABLE_DEBUG_LOGGING", false); err != nil {
		return nil, err
	}
	if cfg.RunSeed, err = getBool("RUN_SEED", false); err != nil {
		return nil, err
	}

	preset, err := LookupPreset(getEnv("DEFAULT_MODEL_PRESET", DefaultPreset))
	if err != nil {
		return nil, err
	}

	var declared []providerEntry
	if path := os.Getenv("PROVIDERS_FILE"); path != "" {
		declared, err = loadProviderFile(path)
	} else {
		declared, err = providersFromEnv(getEnv("PROVIDER_ORDER", "anthropic,gemini,openai"))
	}
	if err != nil {
		return nil, err
	}

	cfg.Providers, err = resolveProviders(declared, preset, &cfg.Warnings)
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.UsageBackend != "database" && c.UsageBackend != "memory" {
		return fmt.Errorf("USAGE_BACKEND must be \"database\" or \"memory\", got %q", c.UsageBackend)
	}
	if c.OTELExporterType != "stdout" && c.OTELExporterType != "otlp" {
		return fmt.Errorf("OTEL_EXPORTER_TYPE must be \"stdout\" or \"otlp\", got %q", c.OTELExporterType)
	}
	if c.MaxConversationHistory < 0 {
		return fmt.Errorf("MAX_CONVERSATION_HISTORY must not be negative")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be positive")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT_SECONDS must be positive")
	}
	if c.EnableRateLimiting && (c.APIRateLimit <= 0 || c.RateLimitTPM <= 0) {
		return fmt.Errorf("API_RATE_LIMIT and RATE_LIMIT_TPM must be positive when rate limiting is enabled")
	}

	if c.SecretKey == insecureSecretKey || c.SecretKey == "" {
		c.Warnings = append(c.Warnings, "using default SECRET_KEY, set a secure secret key")
		if c.SecretKey == "" {
			c.SecretKey = insecureSecretKey
		}
	}
	if c.GoogleClientID == "" {
		c.Warnings = append(c.Warnings, "GOOGLE_CLIENT_ID not set, Google sign-in is disabled")
	}
	return nil
}

// writeSlack covers persisting the turn and writing the response once the
// fallback chain has given up.
const writeSlack = 15 * time.Second

// WriteTimeout is the HTTP write deadline. It always outlasts TurnTimeout so
// a degraded reply can still be written.
func (c *Config) WriteTimeout() time.Duration {
	return c.TurnTimeout + writeSlack
}

// DatabaseDriver splits DATABASE_URL into a driver name and its target.
func (c *Config) DatabaseDriver() (driver, target string, err error) {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		return "sqlite", strings.TrimPrefix(c.DatabaseURL, "sqlite://"), nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres", c.DatabaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %q", c.DatabaseURL)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
