package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Check for nil config (defensive programming)
	if c == nil {
		return ErrConfigNil
	}

	// 1. API Key validation (required for all completion traffic)
	if os.Getenv("OPENROUTER_API_KEY") == "" {
		return fmt.Errorf("%w: OPENROUTER_API_KEY environment variable is required\n"+
			"Get your API key at: https://openrouter.ai/keys",
			ErrMissingAPIKey)
	}

	// 2. Auth service endpoint validation
	if c.AuthBaseURL == "" {
		return fmt.Errorf("%w: set QUILL_AUTH_BASE_URL or auth_base_url in config.yaml",
			ErrMissingAuthBaseURL)
	}
	if _, err := url.ParseRequestURI(c.AuthBaseURL); err != nil {
		return fmt.Errorf("%w: %q is not a valid URL: %v", ErrMissingAuthBaseURL, c.AuthBaseURL, err)
	}

	// 3. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 4. Chat behavior validation
	if c.HistoryWindow < 1 || c.HistoryWindow > MaxAllowedHistoryWindow {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidHistoryWindow, MaxAllowedHistoryWindow, c.HistoryWindow)
	}

	if c.StreamTimeoutSeconds < 1 || c.StreamTimeoutSeconds > MaxAllowedStreamTimeoutSeconds {
		return fmt.Errorf("%w: must be between 1 and %d seconds, got %d",
			ErrInvalidStreamTimeout, MaxAllowedStreamTimeoutSeconds, c.StreamTimeoutSeconds)
	}

	// 5. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// CRITICAL: Warn if using default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "quill_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Validate password strength (minimum 8 characters)
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 6. PostgreSQL SSL mode validation
	// DO NOT mutate config in Validate() - just validate
	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 7. Rate limiting validation
	if c.RateBurst < 1 || c.RateBurst > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidRateBurst, c.RateBurst)
	}

	return nil
}

// NormalizeHistoryWindow clamps a requested history window to the allowed range.
// Zero or negative falls back to the default.
func NormalizeHistoryWindow(window int) int {
	if window <= 0 {
		return DefaultHistoryWindow
	}
	if window > MaxAllowedHistoryWindow {
		return MaxAllowedHistoryWindow
	}
	return window
}
