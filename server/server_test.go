package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/syeo66/playlistscope/config"
)

func newLibraryStub(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Users" {
			t.Errorf("Unexpected library request: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]string{{"Id": "user-1", "Name": "tester"}})
	}))
	t.Cleanup(server.Close)
	return server
}

// newTestServer builds a bare server for middleware tests, skipping the
// full service construction.
func newTestServer(cfg *config.Config) *Server {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in tests
	return &Server{
		config:   cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

func TestNew(t *testing.T) {
	library := newLibraryStub(t)
	cfg := &config.Config{
		Port:          "8080",
		LogLevel:      "warn",
		DataDir:       t.TempDir(),
		LibraryURL:    library.URL,
		LibraryAPIKey: "test-key",
		LibraryUserID: "user-1",
		EnrichWorkers: 2,
	}

	server, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer server.Shutdown(context.Background())

	if server.config != cfg {
		t.Error("Config should be set correctly")
	}
	if server.logger == nil {
		t.Error("Logger should not be nil")
	}
	if server.handlers == nil {
		t.Error("Handlers should not be nil")
	}
	if server.cache == nil {
		t.Error("Cache store should not be nil")
	}
	if server.history == nil {
		t.Error("History store should not be nil")
	}
	if server.limiters == nil {
		t.Error("Limiter map should not be nil")
	}

	// The assembled router answers the health check without a listener
	handler := server.requestMiddleware(server.routes())
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected health check to pass, got %d", rec.Code)
	}
}

func TestNewWithInvalidLogLevel(t *testing.T) {
	library := newLibraryStub(t)
	cfg := &config.Config{
		Port:          "8080",
		LogLevel:      "invalid-level",
		DataDir:       t.TempDir(),
		LibraryURL:    library.URL,
		EnrichWorkers: 2,
	}

	server, err := New(cfg)
	if err != nil {
		t.Fatalf("Should not fail with invalid log level: %v", err)
	}
	defer server.Shutdown(context.Background())

	// Should default to info level when invalid level is provided
	if server.logger == nil {
		t.Error("Logger should still be initialized")
	}
	if server.logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("Expected info level fallback, got %v", server.logger.GetLevel())
	}
}

func TestNewWithUnreachableLibrary(t *testing.T) {
	cfg := &config.Config{
		Port:          "8080",
		LogLevel:      "warn",
		DataDir:       t.TempDir(),
		LibraryURL:    "http://localhost:1",
		EnrichWorkers: 2,
	}

	// An unreachable library logs a warning but never blocks startup
	server, err := New(cfg)
	if err != nil {
		t.Fatalf("Should not fail with unreachable library: %v", err)
	}
	defer server.Shutdown(context.Background())
}

func TestNewWithInvalidDataDir(t *testing.T) {
	cfg := &config.Config{
		Port:          "8080",
		LogLevel:      "warn",
		DataDir:       filepath.Join(t.TempDir(), "missing", "deeper"),
		LibraryURL:    "http://localhost:1",
		EnrichWorkers: 2,
	}

	_, err := New(cfg)
	if err == nil {
		t.Fatal("Expected error with nonexistent data directory")
	}
	if !strings.Contains(err.Error(), "failed to initialize history store") {
		t.Errorf("Expected history store error, got: %v", err)
	}
}

func TestRequestMiddlewareCORSPreflight(t *testing.T) {
	server := newTestServer(&config.Config{
		CORSEnabled:      true,
		CORSAllowOrigins: []string{"*"},
		CORSAllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowHeaders: []string{"Content-Type"},
	})

	var reached bool
	handler := server.requestMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest("OPTIONS", "/api/analyze", nil)
	req.Header.Set("Origin", "http://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for preflight, got %d", rec.Code)
	}
	if reached {
		t.Error("Preflight requests should not reach the router")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != CORSMaxAge {
		t.Errorf("Expected max age %s, got %q", CORSMaxAge, got)
	}

	req = httptest.NewRequest("GET", "/api/playlists", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !reached {
		t.Error("Expected request to reach the inner handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected CORS headers on regular responses, got %q", got)
	}
}

func TestSetCORSHeadersAllowlist(t *testing.T) {
	server := newTestServer(&config.Config{
		CORSEnabled:          true,
		CORSAllowOrigins:     []string{"http://app.example.com"},
		CORSAllowMethods:     []string{"GET"},
		CORSAllowCredentials: true,
	})

	req := httptest.NewRequest("GET", "/api/playlists", nil)
	req.Header.Set("Origin", "http://app.example.com")
	rec := httptest.NewRecorder()
	server.setCORSHeaders(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example.com" {
		t.Errorf("Expected origin echoed back, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Expected credentials header to be set")
	}

	req = httptest.NewRequest("GET", "/api/playlists", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	server.setCORSHeaders(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no origin header for unlisted origin, got %q", got)
	}
}

func TestRequestMiddlewareRateLimit(t *testing.T) {
	server := newTestServer(&config.Config{
		RateLimitEnabled: true,
		RateLimitRPS:     1,
		RateLimitBurst:   2,
	})

	handler := server.requestMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/playlists", nil)
		req.RemoteAddr = "10.0.0.1:52801"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("Expected the burst to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 beyond the burst, got %v", codes)
	}

	// A different client keeps its own budget
	req := httptest.NewRequest("GET", "/api/playlists", nil)
	req.RemoteAddr = "10.0.0.2:52801"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected a fresh client to pass, got %d", rec.Code)
	}
}

func TestClientLimiterKeyedByHost(t *testing.T) {
	server := newTestServer(&config.Config{
		RateLimitEnabled: true,
		RateLimitRPS:     1,
		RateLimitBurst:   1,
	})

	first := server.clientLimiter("10.0.0.1:1111")
	second := server.clientLimiter("10.0.0.1:2222")
	if first != second {
		t.Error("Expected ports of one host to share a limiter")
	}

	other := server.clientLimiter("10.0.0.2:1111")
	if other == first {
		t.Error("Expected separate limiters per host")
	}
	if len(server.limiters) != 2 {
		t.Errorf("Expected 2 limiters, got %d", len(server.limiters))
	}
}

func TestStartAlreadyStarted(t *testing.T) {
	server := newTestServer(&config.Config{Port: "8080"})
	server.server = &http.Server{}

	if err := server.Start(); err == nil {
		t.Error("Expected error when starting twice")
	}
}

func TestSanitizeForLogging(t *testing.T) {
	input := "/api/analyze\n\x00\tinjected"
	sanitized := sanitizeForLogging(input)
	if strings.ContainsAny(sanitized, "\n\x00\t") {
		t.Errorf("Expected control characters removed, got %q", sanitized)
	}

	long := "/" + strings.Repeat("a", MaxEndpointLength+10)
	sanitized = sanitizeForLogging(long)
	if len(sanitized) != MaxEndpointLength+3 {
		t.Errorf("Expected truncation to %d plus ellipsis, got %d", MaxEndpointLength, len(sanitized))
	}
}

func TestSanitizeRemoteAddr(t *testing.T) {
	short := "192.168.1.10:52801"
	if got := sanitizeRemoteAddr(short); got != short {
		t.Errorf("Expected short address unchanged, got %q", got)
	}

	long := strings.Repeat("1", MaxRemoteAddrLength+10)
	if got := sanitizeRemoteAddr(long); len(got) != MaxRemoteAddrLength+3 {
		t.Errorf("Expected truncated address, got length %d", len(got))
	}
}
