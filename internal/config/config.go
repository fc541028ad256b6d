// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quill/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Model: OpenRouter model selection, temperature, max tokens
//   - Chat: history window and stream timeout for completions
//   - Storage: PostgreSQL connection (see storage.go)
//   - Auth: upstream session service base URL
//
// Security: Sensitive data (passwords) are never logged; config directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrMissingAuthBaseURL indicates the auth service base URL is not set.
	ErrMissingAuthBaseURL = errors.New("missing auth base URL")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidHistoryWindow indicates the history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidStreamTimeout indicates the stream timeout is out of range.
	ErrInvalidStreamTimeout = errors.New("invalid stream timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRateBurst indicates the rate limit burst is out of range.
	ErrInvalidRateBurst = errors.New("invalid rate burst")
)

const (
	// DefaultModelName is the OpenRouter model used for completions.
	DefaultModelName = "x-ai/grok-4-fast:free"

	// DefaultHistoryWindow is the number of trailing turns sent to the model.
	DefaultHistoryWindow = 5

	// MaxAllowedHistoryWindow caps the window to keep prompts bounded.
	MaxAllowedHistoryWindow = 100

	// DefaultStreamTimeoutSeconds bounds a single completion stream.
	DefaultStreamTimeoutSeconds = 60

	// MaxAllowedStreamTimeoutSeconds is the absolute maximum stream timeout.
	MaxAllowedStreamTimeoutSeconds = 600
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Model configuration
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // OpenRouter model identifier (e.g. "x-ai/grok-4-fast:free")
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Chat behavior
	HistoryWindow        int `mapstructure:"history_window" json:"history_window"`                 // trailing turns sent to the model
	StreamTimeoutSeconds int `mapstructure:"stream_timeout_seconds" json:"stream_timeout_seconds"` // per-completion deadline

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Auth service (session verification and sign-in/out proxying)
	AuthBaseURL string `mapstructure:"auth_base_url" json:"auth_base_url"`

	// Serve mode configuration
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // per-IP token bucket burst
	Dev         bool     `mapstructure:"dev" json:"dev"`                 // Development mode: disables HSTS (HTTP-only local serving)
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.quill/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quill")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Model defaults
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	// Chat defaults
	viper.SetDefault("history_window", DefaultHistoryWindow)
	viper.SetDefault("stream_timeout_seconds", DefaultStreamTimeoutSeconds)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "quill")
	viper.SetDefault("postgres_password", "quill_dev_password")
	viper.SetDefault("postgres_db_name", "quill")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// CORS defaults (Next.js dev server)
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})

	// Proxy trust (default false; set true behind a reverse proxy)
	viper.SetDefault("trust_proxy", false)

	// Rate limiting
	viper.SetDefault("rate_burst", 20)

	// Development mode off by default
	viper.SetDefault("dev", false)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets stay out of Viper where a downstream library reads them itself:
// OPENROUTER_API_KEY is consumed directly by the Genkit OpenAI-compatible
// plugin; Validate() only checks its presence.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Auth service endpoint (required)
	mustBind("auth_base_url", "QUILL_AUTH_BASE_URL")

	// CORS origins (serve mode, comma-separated list)
	mustBind("cors_origins", "QUILL_CORS_ORIGINS")

	// Proxy trust (serve mode, behind reverse proxy)
	mustBind("trust_proxy", "QUILL_TRUST_PROXY")

	// Development mode (disables HSTS)
	mustBind("dev", "QUILL_DEV")

	// Model overrides
	mustBind("model_name", "QUILL_MODEL_NAME")
	mustBind("history_window", "QUILL_HISTORY_WINDOW")
	mustBind("stream_timeout_seconds", "QUILL_STREAM_TIMEOUT_SECONDS")

	// NOTE: OPENROUTER_API_KEY is read directly by the Genkit plugin, not via Viper
	// Validation checks its presence in cfg.Validate()
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows partial chars with unique separator.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	// Example attack: input "00***" → output "00******" contains "00***"
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	// Example: "my_long_secret_key_123" → "my<████████>23"
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method.
// The compiler will remind you when tests fail.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// StreamTimeout returns the per-completion deadline as a time.Duration.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSeconds) * time.Second
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
