// Package spotify looks up cross-service track metadata used to fill
// gaps the primary sources leave (album name, release year, duration).
package spotify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	spotifyapi "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/syeo66/playlistscope/cache"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/textnorm"
	"github.com/syeo66/playlistscope/watchdog"
)

const (
	// ServiceName is the watchdog identity of this integration.
	ServiceName = "spotify"

	metadataCache = "spotify"
	defaultTTL    = 7 * 24 * time.Hour
)

// Metadata is the subset of Spotify track data the pipeline can use.
// Year is empty when the release date is missing or malformed.
type Metadata struct {
	Album    string
	Year     string
	Duration *int // seconds
}

// Service is the Spotify client. The search call is held as a function
// field so tests can run without the network.
type Service struct {
	cache    *cache.Store
	settings *settings.Store
	watchdog *watchdog.Watchdog
	logger   *logrus.Logger

	search func(ctx context.Context, query string) (*spotifyapi.SearchResult, error)
}

// New authenticates against the Spotify accounts service with the
// client-credentials flow and returns a ready client. The returned
// client refreshes its token on its own.
func New(ctx context.Context, clientID, clientSecret string, store *cache.Store, prefs *settings.Store, dog *watchdog.Watchdog, logger *logrus.Logger) (*Service, error) {
	if clientID == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "clientID")
	}
	if clientSecret == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "clientSecret")
	}

	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	if _, err := config.Token(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategorySource, "AUTH_FAILED", "spotify authentication failed")
	}
	client := spotifyapi.New(config.Client(ctx))

	s := &Service{
		cache:    store,
		settings: prefs,
		watchdog: dog,
		logger:   logger,
	}
	s.search = func(ctx context.Context, query string) (*spotifyapi.SearchResult, error) {
		return client.Search(ctx, query, spotifyapi.SearchTypeTrack, spotifyapi.Limit(1))
	}
	return s, nil
}

// FetchMetadata searches Spotify for a track and returns its album,
// release year and duration. Unknown tracks return nil without error
// and are not cached; hits are cached.
func (s *Service) FetchMetadata(ctx context.Context, title, artist string) (*Metadata, error) {
	if title == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "title")
	}
	if artist == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "artist")
	}

	key := textnorm.SearchTerm(artist) + "|" + textnorm.SearchTerm(title)
	if cached, ok := s.cache.Get(metadataCache, key); ok {
		if meta, ok := cached.(Metadata); ok {
			return &meta, nil
		}
	}

	result, err := s.search(ctx, fmt.Sprintf("track:%s artist:%s", title, artist))
	if err != nil {
		s.watchdog.RecordFailure(ServiceName)
		return nil, errors.Wrap(err, errors.CategorySource, "SOURCE_UNAVAILABLE", "spotify lookup failed").
			WithContext("artist", artist).
			WithContext("title", title)
	}
	s.watchdog.RecordSuccess(ServiceName)

	if result == nil || result.Tracks == nil || len(result.Tracks.Tracks) == 0 {
		s.logger.WithFields(logrus.Fields{
			"title":  title,
			"artist": artist,
		}).Debug("No spotify match found")
		return nil, nil
	}

	track := result.Tracks.Tracks[0]
	meta := Metadata{
		Album: track.Album.Name,
		Year:  releaseYear(track.Album.ReleaseDate),
	}
	if track.Duration > 0 {
		seconds := int(track.Duration) / 1000
		meta.Duration = &seconds
	}

	s.cache.Set(metadataCache, key, meta, s.settings.TTL("spotify", defaultTTL))
	return &meta, nil
}

func releaseYear(releaseDate string) string {
	if len(releaseDate) < 4 {
		return ""
	}
	year := releaseDate[:4]
	if _, err := strconv.Atoi(year); err != nil {
		return ""
	}
	return year
}
