package server

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/syeo66/playlistscope/cache"
	"github.com/syeo66/playlistscope/config"
	"github.com/syeo66/playlistscope/enrich"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/handlers"
	"github.com/syeo66/playlistscope/history"
	"github.com/syeo66/playlistscope/jellyfin"
	"github.com/syeo66/playlistscope/lastfm"
	"github.com/syeo66/playlistscope/middleware"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/songbpm"
	"github.com/syeo66/playlistscope/spotify"
	"github.com/syeo66/playlistscope/suggest"
	"github.com/syeo66/playlistscope/watchdog"
)

const (
	MaxEndpointLength   = 1000
	MaxRemoteAddrLength = 100
)

// Server operation constants
const (
	CORSMaxAge      = "86400"
	StartupPingWait = 10 * time.Second
	HistoryFileName = "history.db"
)

// ASCII control character constants
const (
	ASCIIControlCharMin = 32
	ASCIIControlCharMax = 127
)

type Server struct {
	config   *config.Config
	logger   *logrus.Logger
	handlers *handlers.Handler
	server   *http.Server

	cache   *cache.Store
	history *history.Store

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New assembles the full service: stores, the library client, whichever
// external sources are configured and the handler set on top of them.
// Missing integrations disable their features instead of failing startup.
func New(cfg *config.Config) (*Server, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
	}
	logger.SetLevel(level)

	store := cache.New(logger)
	dog := watchdog.New(logger)

	prefs, err := settings.NewStore(cfg.DataDir, logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryServer, "INITIALIZATION_FAILED", "failed to initialize settings store").
			WithContext("data_dir", cfg.DataDir)
	}
	hist, err := history.New(filepath.Join(cfg.DataDir, HistoryFileName), logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryServer, "INITIALIZATION_FAILED", "failed to initialize history store").
			WithContext("data_dir", cfg.DataDir)
	}

	library := jellyfin.New(cfg.LibraryURL, cfg.LibraryAPIKey, cfg.LibraryUserID, store, prefs, dog, logger)

	var listeners enrich.ListenerStatsSource
	if cfg.LastfmEnabled() {
		listeners = lastfm.New(cfg.LastfmAPIKey, store, prefs, dog, logger)
	} else {
		logger.Info("Last.fm integration disabled, listener counts and tags unavailable")
	}

	var bpmSource enrich.BPMSource
	if cfg.SongBPMEnabled() {
		bpmSource = songbpm.New(cfg.SongBPMBaseURL, cfg.SongBPMAPIKey, store, prefs, dog, logger)
	} else {
		logger.Info("BPM provider disabled, tempo limited to library tags")
	}

	var metadata suggest.MetadataSource
	if cfg.SpotifyEnabled() {
		sp, err := spotify.New(context.Background(), cfg.SpotifyClientID, cfg.SpotifyClientSecret, store, prefs, dog, logger)
		if err != nil {
			logger.WithError(err).Warn("Spotify authentication failed, metadata gap fill disabled")
		} else {
			metadata = sp
		}
	}

	var suggester *suggest.Engine
	var analyzer enrich.LyricAnalyzer
	if cfg.SuggestionsEnabled() {
		suggester = suggest.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, library, metadata, store, prefs, dog, logger)
		analyzer = suggester
	} else {
		logger.Info("Suggestion engine disabled, suggestions and lyric moods unavailable")
	}

	enricher := enrich.New(listeners, bpmSource, library, analyzer, prefs, cfg.EnrichWorkers, logger)
	handlersService := handlers.New(logger, library, enricher, suggester, prefs, hist, dog,
		cfg.MusicLibraryRoot, cfg.LibraryUserID)

	pingCtx, cancel := context.WithTimeout(context.Background(), StartupPingWait)
	defer cancel()
	if err := library.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("Library server unreachable at startup, continuing anyway")
	}

	if cfg.RateLimitEnabled {
		logger.WithFields(logrus.Fields{
			"rps":   cfg.RateLimitRPS,
			"burst": cfg.RateLimitBurst,
		}).Info("Rate limiting enabled")
	} else {
		logger.Info("Rate limiting disabled")
	}

	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: handlersService,
		cache:    store,
		history:  hist,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// sanitizeForLogging removes control characters and limits length to prevent log injection
func sanitizeForLogging(input string) string {
	// Remove control characters (ASCII 0-31 and 127)
	sanitized := strings.Map(func(r rune) rune {
		if r < ASCIIControlCharMin || r == ASCIIControlCharMax {
			return -1
		}
		return r
	}, input)

	// Limit length to prevent resource exhaustion
	if len(sanitized) > MaxEndpointLength {
		sanitized = sanitized[:MaxEndpointLength] + "..."
	}

	return sanitized
}

// sanitizeRemoteAddr sanitizes remote address for logging
func sanitizeRemoteAddr(remoteAddr string) string {
	if len(remoteAddr) > MaxRemoteAddrLength {
		return remoteAddr[:MaxRemoteAddrLength] + "..."
	}
	return remoteAddr
}

// setCORSHeaders sets CORS headers based on configuration
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	// Set Access-Control-Allow-Origin
	if len(s.config.CORSAllowOrigins) > 0 {
		if s.config.CORSAllowOrigins[0] == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the origin is in the allowed list
			for _, allowedOrigin := range s.config.CORSAllowOrigins {
				if origin == allowedOrigin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
	}

	// Set Access-Control-Allow-Methods
	if len(s.config.CORSAllowMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.config.CORSAllowMethods, ", "))
	}

	// Set Access-Control-Allow-Headers
	if len(s.config.CORSAllowHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.config.CORSAllowHeaders, ", "))
	}

	// Set Access-Control-Allow-Credentials
	if s.config.CORSAllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	// Set Access-Control-Max-Age for preflight cache (24 hours)
	w.Header().Set("Access-Control-Max-Age", CORSMaxAge)
}

// clientLimiter returns the rate limiter for one client, creating it on
// first sight. Clients are keyed by host so reconnects from changing
// source ports share a bucket.
func (s *Server) clientLimiter(remoteAddr string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.config.RateLimitRPS), s.config.RateLimitBurst)
		s.limiters[host] = limiter
	}
	return limiter
}

// requestMiddleware handles CORS, request logging and per-client rate
// limiting in front of every route.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Add CORS headers if enabled
		if s.config.CORSEnabled {
			s.setCORSHeaders(w, r)

			// Handle preflight OPTIONS requests
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Sanitize inputs for logging
		sanitizedEndpoint := sanitizeForLogging(r.URL.Path)
		sanitizedRemoteAddr := sanitizeRemoteAddr(r.RemoteAddr)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"endpoint": sanitizedEndpoint,
			"remote":   sanitizedRemoteAddr,
		}).Info("Incoming request")

		if s.config.RateLimitEnabled {
			if !s.clientLimiter(r.RemoteAddr).Allow() {
				s.logger.WithFields(logrus.Fields{
					"endpoint": sanitizedEndpoint,
					"remote":   sanitizedRemoteAddr,
				}).Warn("Rate limit exceeded")

				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// routes builds the API router.
func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handlers.Health).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/playlists", s.handlers.Playlists).Methods("GET")
	api.HandleFunc("/analyze", s.handlers.Analyze).Methods("POST")
	api.HandleFunc("/suggest", s.handlers.Suggest).Methods("POST")
	api.HandleFunc("/settings", s.handlers.GetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handlers.UpdateSettings).Methods("PUT")
	api.HandleFunc("/history", s.handlers.History).Methods("GET")
	api.HandleFunc("/history/{id}", s.handlers.DeleteHistory).Methods("DELETE")
	api.HandleFunc("/m3u/import", s.handlers.ImportM3U).Methods("POST")
	api.HandleFunc("/m3u/export/{id}", s.handlers.ExportM3U).Methods("GET")
	return router
}

func (s *Server) Start() error {
	if s.server != nil {
		return errors.ErrServerStart.WithContext("reason", "server already started")
	}

	// The request middleware wraps the router so preflight requests are
	// answered before method matching can reject them.
	handler := s.requestMiddleware(s.routes())

	if s.config.SecurityHeadersEnabled {
		securityMiddleware := middleware.NewSecurityHeaders(s.config, s.logger)
		handler = securityMiddleware.Handler(handler)
		s.logger.WithField("dev_mode", s.config.IsDevMode()).Info("Security headers middleware enabled")
	} else {
		s.logger.Info("Security headers middleware disabled")
	}

	s.server = &http.Server{
		Addr:    ":" + s.config.Port,
		Handler: handler,
	}

	s.logger.WithFields(logrus.Fields{
		"port":    s.config.Port,
		"library": s.config.LibraryURL,
	}).Info("Starting server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server")
			return errors.Wrap(err, errors.CategoryServer, "SHUTDOWN_FAILED", "failed to shutdown HTTP server")
		}
	}

	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close history store")
		}
	}
	if s.cache != nil {
		s.cache.Close()
	}

	s.logger.Info("Server shut down successfully")
	return nil
}

// GetHandlers exposes the handler set, mainly for tests.
func (s *Server) GetHandlers() *handlers.Handler {
	return s.handlers
}
