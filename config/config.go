package config

import (
	"flag"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/syeo66/playlistscope/errors"
)

const (
	DefaultPort          = "8080"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultSongBPMURL    = "https://api.getsongbpm.com"
)

type Config struct {
	Port             string
	LogLevel         string
	DataDir          string
	MusicLibraryRoot string

	LibraryURL    string
	LibraryAPIKey string
	LibraryUserID string

	LastfmAPIKey        string
	SongBPMAPIKey       string
	SongBPMBaseURL      string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	SpotifyClientID     string
	SpotifyClientSecret string

	EnrichWorkers int

	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int

	CORSEnabled          bool
	CORSAllowOrigins     []string
	CORSAllowMethods     []string
	CORSAllowHeaders     []string
	CORSAllowCredentials bool

	SecurityHeadersEnabled  bool
	XContentTypeOptions     string
	XFrameOptions           string
	XXSSProtection          string
	StrictTransportSecurity string
	ContentSecurityPolicy   string
	ReferrerPolicy          string
	DevMode                 bool
}

func New() *Config {
	var (
		port        = flag.String("port", getEnvOrDefault("PORT", DefaultPort), "HTTP server port")
		logLevel    = flag.String("log-level", getEnvOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
		dataDir     = flag.String("data-dir", getEnvOrDefault("DATA_DIR", ""), "Directory for settings, history and other state (default ~/.playlistscope)")
		musicRoot   = flag.String("music-root", getEnvOrDefault("MUSIC_LIBRARY_ROOT", "/music"), "Music library root used for proposed file paths")
		libraryURL  = flag.String("library-url", getEnvOrDefault("JELLYFIN_URL", ""), "Jellyfin server URL")
		libraryKey  = flag.String("library-api-key", getEnvOrDefault("JELLYFIN_API_KEY", ""), "Jellyfin API key")
		libraryUser = flag.String("library-user-id", getEnvOrDefault("JELLYFIN_USER_ID", ""), "Jellyfin user ID")
		workers     = flag.Int("enrich-workers", getEnvOrDefaultInt("ENRICH_WORKERS", 8), "Concurrent track enrichment workers")
	)
	flag.Parse()

	return &Config{
		Port:             *port,
		LogLevel:         *logLevel,
		DataDir:          *dataDir,
		MusicLibraryRoot: *musicRoot,

		LibraryURL:    strings.TrimRight(*libraryURL, "/"),
		LibraryAPIKey: *libraryKey,
		LibraryUserID: *libraryUser,

		LastfmAPIKey:        os.Getenv("LASTFM_API_KEY"),
		SongBPMAPIKey:       os.Getenv("GETSONGBPM_API_KEY"),
		SongBPMBaseURL:      getEnvOrDefault("GETSONGBPM_URL", DefaultSongBPMURL),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:       getEnvOrDefault("OPENAI_BASE_URL", DefaultOpenAIBaseURL),
		SpotifyClientID:     os.Getenv("SPOTIFY_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_SECRET"),

		EnrichWorkers: *workers,

		RateLimitEnabled: getEnvOrDefaultBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     getEnvOrDefaultInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvOrDefaultInt("RATE_LIMIT_BURST", 20),

		CORSEnabled:          getEnvOrDefaultBool("CORS_ENABLED", true),
		CORSAllowOrigins:     getEnvOrDefaultSlice("CORS_ALLOW_ORIGINS", []string{"*"}),
		CORSAllowMethods:     getEnvOrDefaultSlice("CORS_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		CORSAllowHeaders:     getEnvOrDefaultSlice("CORS_ALLOW_HEADERS", []string{"Content-Type", "Authorization"}),
		CORSAllowCredentials: getEnvOrDefaultBool("CORS_ALLOW_CREDENTIALS", false),

		SecurityHeadersEnabled:  getEnvOrDefaultBool("SECURITY_HEADERS_ENABLED", true),
		XContentTypeOptions:     getEnvOrDefault("X_CONTENT_TYPE_OPTIONS", "nosniff"),
		XFrameOptions:           getEnvOrDefault("X_FRAME_OPTIONS", "DENY"),
		XXSSProtection:          getEnvOrDefault("X_XSS_PROTECTION", "1; mode=block"),
		StrictTransportSecurity: getEnvOrDefault("STRICT_TRANSPORT_SECURITY", "max-age=31536000; includeSubDomains"),
		ContentSecurityPolicy:   getEnvOrDefault("CONTENT_SECURITY_POLICY", "default-src 'self'"),
		ReferrerPolicy:          getEnvOrDefault("REFERRER_POLICY", "strict-origin-when-cross-origin"),
		DevMode:                 getEnvOrDefaultBool("DEV_MODE", false),
	}
}

// Validate checks the configuration and resolves the data directory,
// creating it when missing. The library settings are the only hard
// requirements; source API keys may be empty and only disable their
// integration.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return errors.New(errors.CategoryConfig, "INVALID_PORT", "port must be a number between 1 and 65535").
			WithContext("port", c.Port)
	}

	if c.LibraryURL == "" {
		return errors.ErrInvalidLibraryURL.WithContext("reason", "library URL is required")
	}
	parsed, err := url.Parse(c.LibraryURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.ErrInvalidLibraryURL.WithContext("library_url", c.LibraryURL)
	}

	if c.LibraryAPIKey == "" {
		return errors.ErrMissingAPIKey.WithContext("reason", "library API key is required")
	}
	if c.LibraryUserID == "" {
		return errors.New(errors.CategoryConfig, "MISSING_USER_ID", "library user ID is required")
	}

	if c.EnrichWorkers < 1 {
		return errors.New(errors.CategoryConfig, "INVALID_WORKERS", "enrich workers must be at least 1").
			WithContext("enrich_workers", c.EnrichWorkers)
	}

	if c.DataDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, errors.CategoryConfig, "INVALID_DATA_DIR", "failed to resolve home directory")
		}
		c.DataDir = filepath.Join(home, ".playlistscope")
	} else {
		expanded, err := homedir.Expand(c.DataDir)
		if err != nil {
			return errors.Wrap(err, errors.CategoryConfig, "INVALID_DATA_DIR", "failed to expand data directory").
				WithContext("data_dir", c.DataDir)
		}
		c.DataDir = expanded
	}
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return errors.Wrap(err, errors.CategoryConfig, "INVALID_DATA_DIR", "failed to create data directory").
			WithContext("data_dir", c.DataDir)
	}

	return nil
}

// LastfmEnabled reports whether the Last.fm integration is configured.
func (c *Config) LastfmEnabled() bool {
	return c.LastfmAPIKey != ""
}

// SongBPMEnabled reports whether the BPM provider is configured.
func (c *Config) SongBPMEnabled() bool {
	return c.SongBPMAPIKey != ""
}

// SuggestionsEnabled reports whether the suggestion engine is
// configured.
func (c *Config) SuggestionsEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// SpotifyEnabled reports whether the Spotify fallback is configured.
func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

// IsDevMode reports whether relaxed development headers should be used.
func (c *Config) IsDevMode() bool {
	return c.DevMode
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvOrDefaultSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
