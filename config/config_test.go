package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/syeo66/playlistscope/errors"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Port:          "8080",
		LogLevel:      "info",
		DataDir:       t.TempDir(),
		LibraryURL:    "http://localhost:8096",
		LibraryAPIKey: "test-key",
		LibraryUserID: "user-1",
		EnrichWorkers: 4,
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "Environment variable exists",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "Environment variable does not exist",
			key:          "NON_EXISTENT_VAR",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv(tt.key)
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getEnvOrDefault(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getEnvOrDefault(%s, %s) = %s, want %s", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestGetEnvOrDefaultInt(t *testing.T) {
	os.Setenv("TEST_INT", "42")
	defer os.Unsetenv("TEST_INT")

	if got := getEnvOrDefaultInt("TEST_INT", 7); got != 42 {
		t.Errorf("getEnvOrDefaultInt = %d, want 42", got)
	}
	if got := getEnvOrDefaultInt("TEST_INT_MISSING", 7); got != 7 {
		t.Errorf("getEnvOrDefaultInt = %d, want 7", got)
	}

	os.Setenv("TEST_INT", "not-a-number")
	if got := getEnvOrDefaultInt("TEST_INT", 7); got != 7 {
		t.Errorf("getEnvOrDefaultInt with invalid value = %d, want 7", got)
	}
}

func TestGetEnvOrDefaultBool(t *testing.T) {
	os.Setenv("TEST_BOOL", "false")
	defer os.Unsetenv("TEST_BOOL")

	if got := getEnvOrDefaultBool("TEST_BOOL", true); got {
		t.Error("getEnvOrDefaultBool = true, want false")
	}
	if got := getEnvOrDefaultBool("TEST_BOOL_MISSING", true); !got {
		t.Error("getEnvOrDefaultBool = false, want default true")
	}

	os.Setenv("TEST_BOOL", "not-a-bool")
	if got := getEnvOrDefaultBool("TEST_BOOL", true); !got {
		t.Error("getEnvOrDefaultBool with invalid value = false, want default true")
	}
}

func TestGetEnvOrDefaultSlice(t *testing.T) {
	os.Setenv("TEST_SLICE", "a, b ,c")
	defer os.Unsetenv("TEST_SLICE")

	got := getEnvOrDefaultSlice("TEST_SLICE", []string{"x"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("getEnvOrDefaultSlice = %v, want [a b c]", got)
	}

	got = getEnvOrDefaultSlice("TEST_SLICE_MISSING", []string{"x"})
	if len(got) != 1 || got[0] != "x" {
		t.Errorf("getEnvOrDefaultSlice = %v, want [x]", got)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "Valid config",
			mutate:  nil,
			wantErr: false,
		},
		{
			name:    "Invalid port - non-numeric",
			mutate:  func(c *Config) { c.Port = "abc" },
			wantErr: true,
		},
		{
			name:    "Invalid port - out of range",
			mutate:  func(c *Config) { c.Port = "70000" },
			wantErr: true,
		},
		{
			name:    "Missing library URL",
			mutate:  func(c *Config) { c.LibraryURL = "" },
			wantErr: true,
		},
		{
			name:    "Library URL without scheme",
			mutate:  func(c *Config) { c.LibraryURL = "localhost:8096" },
			wantErr: true,
		},
		{
			name:    "Missing library API key",
			mutate:  func(c *Config) { c.LibraryAPIKey = "" },
			wantErr: true,
		},
		{
			name:    "Missing library user ID",
			mutate:  func(c *Config) { c.LibraryUserID = "" },
			wantErr: true,
		},
		{
			name:    "Zero enrich workers",
			mutate:  func(c *Config) { c.EnrichWorkers = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateErrorCodes(t *testing.T) {
	cfg := validConfig(t)
	cfg.LibraryURL = ""
	if code := errors.GetErrorCode(cfg.Validate()); code != "INVALID_LIBRARY_URL" {
		t.Errorf("error code = %s, want INVALID_LIBRARY_URL", code)
	}

	cfg = validConfig(t)
	cfg.LibraryAPIKey = ""
	if code := errors.GetErrorCode(cfg.Validate()); code != "MISSING_API_KEY" {
		t.Errorf("error code = %s, want MISSING_API_KEY", code)
	}
}

func TestValidateCreatesDataDir(t *testing.T) {
	cfg := validConfig(t)
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "state")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	info, err := os.Stat(cfg.DataDir)
	if err != nil || !info.IsDir() {
		t.Errorf("data directory %q was not created: %v", cfg.DataDir, err)
	}
}

func TestIntegrationToggles(t *testing.T) {
	cfg := validConfig(t)

	if cfg.LastfmEnabled() || cfg.SongBPMEnabled() || cfg.SuggestionsEnabled() || cfg.SpotifyEnabled() {
		t.Error("integrations should be disabled without keys")
	}

	cfg.LastfmAPIKey = "k"
	cfg.SongBPMAPIKey = "k"
	cfg.OpenAIAPIKey = "k"
	cfg.SpotifyClientID = "id"
	if cfg.SpotifyEnabled() {
		t.Error("Spotify needs both client ID and secret")
	}
	cfg.SpotifyClientSecret = "secret"

	if !cfg.LastfmEnabled() || !cfg.SongBPMEnabled() || !cfg.SuggestionsEnabled() || !cfg.SpotifyEnabled() {
		t.Error("integrations should be enabled with keys set")
	}
}
