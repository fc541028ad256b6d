package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// setTestEnv sets the environment variables Load() requires and registers
// cleanup to restore the originals.
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENROUTER_API_KEY", "test-api-key")
	t.Setenv("QUILL_AUTH_BASE_URL", "http://localhost:4000")

	// Clear DATABASE_URL to test pure config values
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")
}

// TestLoadDefaults tests that default configuration values are loaded correctly
func TestLoadDefaults(t *testing.T) {
	// Reset Viper singleton to avoid interference from other tests
	viper.Reset()

	// Set HOME to temp directory (no existing config.yaml = pure defaults)
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	setTestEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify default values
	if cfg.ModelName != DefaultModelName {
		t.Errorf("expected default ModelName %q, got %q", DefaultModelName, cfg.ModelName)
	}

	if cfg.Temperature != 0.7 {
		t.Errorf("expected default Temperature 0.7, got %f", cfg.Temperature)
	}

	if cfg.MaxTokens != 2048 {
		t.Errorf("expected default MaxTokens 2048, got %d", cfg.MaxTokens)
	}

	if cfg.HistoryWindow != DefaultHistoryWindow {
		t.Errorf("expected default HistoryWindow %d, got %d", DefaultHistoryWindow, cfg.HistoryWindow)
	}

	if cfg.StreamTimeoutSeconds != DefaultStreamTimeoutSeconds {
		t.Errorf("expected default StreamTimeoutSeconds %d, got %d", DefaultStreamTimeoutSeconds, cfg.StreamTimeoutSeconds)
	}

	if cfg.PostgresHost != "localhost" {
		t.Errorf("expected default PostgresHost 'localhost', got %q", cfg.PostgresHost)
	}

	if cfg.PostgresPort != 5432 {
		t.Errorf("expected default PostgresPort 5432, got %d", cfg.PostgresPort)
	}

	if cfg.PostgresUser != "quill" {
		t.Errorf("expected default PostgresUser 'quill', got %q", cfg.PostgresUser)
	}

	if cfg.PostgresDBName != "quill" {
		t.Errorf("expected default PostgresDBName 'quill', got %q", cfg.PostgresDBName)
	}

	if cfg.RateBurst != 20 {
		t.Errorf("expected default RateBurst 20, got %d", cfg.RateBurst)
	}
}

// TestLoadConfigFile tests loading configuration from a file
func TestLoadConfigFile(t *testing.T) {
	// Reset Viper singleton to avoid interference from other tests
	viper.Reset()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	setTestEnv(t)

	// Create .quill directory
	quillDir := filepath.Join(tmpDir, ".quill")
	if err := os.MkdirAll(quillDir, 0o750); err != nil {
		t.Fatalf("failed to create quill dir: %v", err)
	}

	// Create config file
	configContent := `model_name: x-ai/grok-4
temperature: 0.9
max_tokens: 4096
history_window: 10
stream_timeout_seconds: 120
postgres_host: test-host
postgres_port: 5433
postgres_db_name: test_db
`
	configPath := filepath.Join(quillDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify values from config file
	if cfg.ModelName != "x-ai/grok-4" {
		t.Errorf("expected ModelName 'x-ai/grok-4', got %q", cfg.ModelName)
	}

	if cfg.Temperature != 0.9 {
		t.Errorf("expected Temperature 0.9, got %f", cfg.Temperature)
	}

	if cfg.MaxTokens != 4096 {
		t.Errorf("expected MaxTokens 4096, got %d", cfg.MaxTokens)
	}

	if cfg.HistoryWindow != 10 {
		t.Errorf("expected HistoryWindow 10, got %d", cfg.HistoryWindow)
	}

	if cfg.StreamTimeoutSeconds != 120 {
		t.Errorf("expected StreamTimeoutSeconds 120, got %d", cfg.StreamTimeoutSeconds)
	}

	if cfg.PostgresHost != "test-host" {
		t.Errorf("expected PostgresHost 'test-host', got %q", cfg.PostgresHost)
	}

	if cfg.PostgresPort != 5433 {
		t.Errorf("expected PostgresPort 5433, got %d", cfg.PostgresPort)
	}

	if cfg.PostgresDBName != "test_db" {
		t.Errorf("expected PostgresDBName 'test_db', got %q", cfg.PostgresDBName)
	}
}

// TestLoadMissingAPIKey tests that Load fails fast without OPENROUTER_API_KEY
func TestLoadMissingAPIKey(t *testing.T) {
	viper.Reset()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("QUILL_AUTH_BASE_URL", "http://localhost:4000")
	t.Setenv("OPENROUTER_API_KEY", "")
	os.Unsetenv("OPENROUTER_API_KEY")

	_, err := Load()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

// TestLoadMissingAuthBaseURL tests that Load fails fast without QUILL_AUTH_BASE_URL
func TestLoadMissingAuthBaseURL(t *testing.T) {
	viper.Reset()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("OPENROUTER_API_KEY", "test-api-key")
	t.Setenv("QUILL_AUTH_BASE_URL", "")
	os.Unsetenv("QUILL_AUTH_BASE_URL")

	_, err := Load()
	if !errors.Is(err, ErrMissingAuthBaseURL) {
		t.Errorf("expected ErrMissingAuthBaseURL, got %v", err)
	}
}

// TestValidate_Ranges exercises the range checks with sentinel errors
func TestValidate_Ranges(t *testing.T) {
	base := func() *Config {
		return &Config{
			ModelName:            DefaultModelName,
			Temperature:          0.7,
			MaxTokens:            2048,
			HistoryWindow:        DefaultHistoryWindow,
			StreamTimeoutSeconds: DefaultStreamTimeoutSeconds,
			PostgresHost:         "localhost",
			PostgresPort:         5432,
			PostgresUser:         "quill",
			PostgresPassword:     "longenoughpassword",
			PostgresDBName:       "quill",
			PostgresSSLMode:      "disable",
			AuthBaseURL:          "http://localhost:4000",
			RateBurst:            20,
		}
	}

	t.Setenv("OPENROUTER_API_KEY", "test-api-key")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"empty model", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"temperature too high", func(c *Config) { c.Temperature = 2.5 }, ErrInvalidTemperature},
		{"temperature negative", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"zero history window", func(c *Config) { c.HistoryWindow = 0 }, ErrInvalidHistoryWindow},
		{"history window too large", func(c *Config) { c.HistoryWindow = MaxAllowedHistoryWindow + 1 }, ErrInvalidHistoryWindow},
		{"zero stream timeout", func(c *Config) { c.StreamTimeoutSeconds = 0 }, ErrInvalidStreamTimeout},
		{"stream timeout too large", func(c *Config) { c.StreamTimeoutSeconds = MaxAllowedStreamTimeoutSeconds + 1 }, ErrInvalidStreamTimeout},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"short password", func(c *Config) { c.PostgresPassword = "short" }, ErrInvalidPostgresPassword},
		{"bad ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
		{"empty auth base url", func(c *Config) { c.AuthBaseURL = "" }, ErrMissingAuthBaseURL},
		{"zero rate burst", func(c *Config) { c.RateBurst = 0 }, ErrInvalidRateBurst},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestNormalizeHistoryWindow verifies clamping behavior
func TestNormalizeHistoryWindow(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultHistoryWindow},
		{-3, DefaultHistoryWindow},
		{1, 1},
		{5, 5},
		{MaxAllowedHistoryWindow, MaxAllowedHistoryWindow},
		{MaxAllowedHistoryWindow + 50, MaxAllowedHistoryWindow},
	}

	for _, tt := range tests {
		if got := NormalizeHistoryWindow(tt.in); got != tt.want {
			t.Errorf("NormalizeHistoryWindow(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// TestConfig_MarshalJSON_MasksSensitiveFields verifies that sensitive fields are masked
func TestConfig_MarshalJSON_MasksSensitiveFields(t *testing.T) {
	cfg := Config{
		ModelName:        DefaultModelName,
		PostgresPassword: "supersecretpassword123",
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "quill",
		PostgresDBName:   "quill",
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}

	jsonStr := string(data)

	// CRITICAL: Verify original password is NOT in output (security requirement)
	if strings.Contains(jsonStr, "supersecretpassword123") {
		t.Error("SECURITY: sensitive field PostgresPassword not masked - raw password found in JSON")
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	maskedPwd, ok := result["postgres_password"].(string)
	if !ok {
		t.Fatal("postgres_password should be a string in JSON output")
	}

	if !strings.Contains(maskedPwd, maskedValue) {
		t.Errorf("masked password should contain %q, got: %s", maskedValue, maskedPwd)
	}

	// Verify non-sensitive fields are NOT masked
	if !strings.Contains(jsonStr, "localhost") {
		t.Error("non-sensitive field PostgresHost should not be masked")
	}

	if !strings.Contains(jsonStr, DefaultModelName) {
		t.Error("non-sensitive field ModelName should not be masked")
	}
}

// TestConfig_MarshalJSON_ShortPassword verifies short passwords are fully masked
func TestConfig_MarshalJSON_ShortPassword(t *testing.T) {
	cfg := Config{
		PostgresPassword: "abc", // 3 chars - should be fully masked
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}

	jsonStr := string(data)

	if strings.Contains(jsonStr, `"postgres_password":"abc"`) {
		t.Error("short password should be fully masked")
	}

	if !strings.Contains(jsonStr, `"postgres_password":"`+maskedValue+`"`) {
		t.Errorf("expected fully masked password %q, got: %s", maskedValue, jsonStr)
	}
}

// TestConfig_String_MasksSensitiveFields verifies String() also masks sensitive fields
func TestConfig_String_MasksSensitiveFields(t *testing.T) {
	cfg := Config{
		PostgresPassword: "topsecretpassword",
	}

	str := cfg.String()

	if strings.Contains(str, "topsecretpassword") {
		t.Error("Config.String() should mask sensitive fields")
	}
}

// TestMaskSecret covers length boundaries and Unicode inputs.
// maskSecret slices bytes, so multi-byte inputs must still never leak.
func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"ascii_short", "abc"},
		{"ascii_8chars", "12345678"},
		{"ascii_long", "password123"},
		{"chinese", "密碼password123"},
		{"emoji", "🔐secret🔑pass"},
		{"newlines", "pass\nword\r\n123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			masked := maskSecret(tt.input)

			if len(tt.input) <= 8 {
				if masked != maskedValue {
					t.Errorf("short secret should be fully masked, got %q", masked)
				}
				return
			}

			if strings.Contains(masked, tt.input) {
				t.Error("SECURITY: original secret leaked in masked output")
			}
			if !strings.Contains(masked, maskedValue) {
				t.Errorf("masked output should contain %q, got %q", maskedValue, masked)
			}
		})
	}

	if maskSecret("") != "" {
		t.Error("empty input should return empty output")
	}
}

// FuzzMaskSecret tests maskSecret against arbitrary inputs to detect bypass vectors.
// Run with: go test -fuzz=FuzzMaskSecret -fuzztime=30s ./internal/config/
func FuzzMaskSecret(f *testing.F) {
	seeds := []string{
		"",
		"a",
		"abc",
		"password123",
		"密碼password",
		"\x00secret\x00",
		`","password":"leak`,
		strings.Repeat("a", 100),
	}

	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		masked := maskSecret(input)

		if input == "" && masked != "" {
			t.Errorf("empty input should return empty, got: %q", masked)
		}

		// Short inputs (<=8 bytes) must be fully masked to prevent substring attacks
		if input != "" && len(input) <= 8 && masked != maskedValue {
			t.Errorf("short input should be %q, got: %q for input len=%d", maskedValue, masked, len(input))
		}

		if input != "" && !strings.Contains(masked, maskedValue) {
			t.Errorf("masked output should contain %q, got: %q", maskedValue, masked)
		}
	})
}
