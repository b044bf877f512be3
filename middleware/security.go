// Package middleware holds the HTTP middleware shared by every route.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/syeo66/playlistscope/config"
)

// Relaxed values served to development traffic so local browser tooling
// keeps working.
const (
	DevContentSecurityPolicy = "default-src 'self' 'unsafe-inline' 'unsafe-eval'; connect-src 'self' ws: wss:; img-src 'self' data: blob:;"
	DevXFrameOptions         = "SAMEORIGIN"
)

var localHosts = []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"}

// SecurityHeaders decorates responses with the configured security
// headers, relaxing frame and CSP policy for development requests.
type SecurityHeaders struct {
	config *config.Config
	logger *logrus.Logger
}

func NewSecurityHeaders(cfg *config.Config, logger *logrus.Logger) *SecurityHeaders {
	return &SecurityHeaders{
		config: cfg,
		logger: logger,
	}
}

// Handler returns the wrapping middleware handler.
func (s *SecurityHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.SecurityHeadersEnabled {
			next.ServeHTTP(w, r)
			return
		}

		dev := s.isDevRequest(r)
		if dev {
			s.logger.Debug("Applying development security headers")
		} else {
			s.logger.Debug("Applying production security headers")
		}
		s.apply(w, dev)

		next.ServeHTTP(w, r)
	})
}

// isDevRequest treats explicit dev mode and loopback clients as
// development traffic.
func (s *SecurityHeaders) isDevRequest(r *http.Request) bool {
	if s.config.IsDevMode() {
		return true
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	for _, local := range localHosts {
		if host == local || strings.HasPrefix(r.RemoteAddr, local) {
			return true
		}
	}
	return false
}

// apply writes the configured headers. Empty config values leave their
// header unset.
func (s *SecurityHeaders) apply(w http.ResponseWriter, dev bool) {
	header := w.Header()

	if s.config.XContentTypeOptions != "" {
		header.Set("X-Content-Type-Options", s.config.XContentTypeOptions)
	}
	if s.config.XFrameOptions != "" {
		if dev {
			header.Set("X-Frame-Options", DevXFrameOptions)
		} else {
			header.Set("X-Frame-Options", s.config.XFrameOptions)
		}
	}
	if s.config.XXSSProtection != "" {
		header.Set("X-XSS-Protection", s.config.XXSSProtection)
	}
	if s.config.ContentSecurityPolicy != "" {
		if dev {
			header.Set("Content-Security-Policy", DevContentSecurityPolicy)
		} else {
			header.Set("Content-Security-Policy", s.config.ContentSecurityPolicy)
		}
	}
	if s.config.ReferrerPolicy != "" {
		header.Set("Referrer-Policy", s.config.ReferrerPolicy)
	}

	// HSTS only means anything over TLS, which the listen port has to
	// hint at since the server itself speaks plain HTTP.
	if !dev && s.config.StrictTransportSecurity != "" && strings.Contains(s.config.Port, "443") {
		header.Set("Strict-Transport-Security", s.config.StrictTransportSecurity)
	}
}
