// Package lastfm wraps the Last.fm track API as the listener-statistics
// source. Lookups are rate limited, retried on server errors and cached
// on success only.
package lastfm

import (
	"context"
	"strconv"
	"time"

	lfm "github.com/ademuri/lastfm-go/lastfm"
	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/syeo66/playlistscope/cache"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/textnorm"
	"github.com/syeo66/playlistscope/watchdog"
)

const (
	// ServiceName is the watchdog identity of this integration.
	ServiceName = "lastfm"

	tagsCache      = "lastfm"
	listenersCache = "lastfm_popularity"

	defaultTTL  = 7 * 24 * time.Hour
	maxAttempts = 3

	// notFoundCode is the API error for a track Last.fm does not know.
	notFoundCode = 6
)

// Service is the Last.fm client. The actual API calls are held as
// function fields so tests can run without the network.
type Service struct {
	limiter  *rate.Limiter
	cache    *cache.Store
	settings *settings.Store
	watchdog *watchdog.Watchdog
	logger   *logrus.Logger

	getInfo    func(title, artist string) (lfm.TrackGetInfo, error)
	getTopTags func(title, artist string) (lfm.TrackGetTopTags, error)
}

// New creates a Last.fm client with the given API key.
func New(apiKey string, store *cache.Store, prefs *settings.Store, dog *watchdog.Watchdog, logger *logrus.Logger) *Service {
	api := lfm.New(apiKey, "")
	s := &Service{
		limiter:  rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		cache:    store,
		settings: prefs,
		watchdog: dog,
		logger:   logger,
	}
	s.getInfo = func(title, artist string) (lfm.TrackGetInfo, error) {
		return api.Track.GetInfo(lfm.P{
			"track":       title,
			"artist":      artist,
			"autocorrect": 1,
		})
	}
	s.getTopTags = func(title, artist string) (lfm.TrackGetTopTags, error) {
		return api.Track.GetTopTags(lfm.P{
			"track":       title,
			"artist":      artist,
			"autocorrect": 1,
		})
	}
	return s
}

// ListenerCount returns the global listener count for a track, or nil
// when Last.fm does not know the track. Failures are never cached.
func (s *Service) ListenerCount(ctx context.Context, title, artist string) (*int, error) {
	if title == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "title")
	}
	if artist == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "artist")
	}

	key := cacheKey(artist, title)
	if cached, ok := s.cache.Get(listenersCache, key); ok {
		if listeners, ok := cached.(int); ok {
			value := listeners
			return &value, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryNetwork, "TIMEOUT", "rate limit wait interrupted")
	}

	var info lfm.TrackGetInfo
	err := retry.Do(
		func() error {
			var err error
			info, err = s.getInfo(title, artist)
			return err
		},
		retry.Attempts(maxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(isServerError),
	)
	if err != nil {
		if isNotFound(err) {
			s.watchdog.RecordSuccess(ServiceName)
			return nil, nil
		}
		s.watchdog.RecordFailure(ServiceName)
		return nil, errors.Wrap(err, errors.CategorySource, "SOURCE_UNAVAILABLE", "listener stats lookup failed").
			WithContext("artist", artist).
			WithContext("title", title)
	}
	s.watchdog.RecordSuccess(ServiceName)

	listeners, convErr := strconv.Atoi(info.Listeners)
	if convErr != nil {
		s.logger.WithFields(logrus.Fields{
			"artist":    artist,
			"title":     title,
			"listeners": info.Listeners,
		}).Debug("Unparseable listener count")
		return nil, nil
	}

	s.cache.Set(listenersCache, key, listeners, s.settings.TTL("lastfm", defaultTTL))
	value := listeners
	return &value, nil
}

// TopTags returns the community tags for a track, most used first. An
// unknown or untagged track yields an empty list without error.
func (s *Service) TopTags(ctx context.Context, title, artist string) ([]string, error) {
	if title == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "title")
	}
	if artist == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "artist")
	}

	key := cacheKey(artist, title)
	if cached, ok := s.cache.Get(tagsCache, key); ok {
		if tags, ok := cached.([]string); ok {
			return tags, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryNetwork, "TIMEOUT", "rate limit wait interrupted")
	}

	var result lfm.TrackGetTopTags
	err := retry.Do(
		func() error {
			var err error
			result, err = s.getTopTags(title, artist)
			return err
		},
		retry.Attempts(maxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(isServerError),
	)
	if err != nil {
		if isNotFound(err) {
			s.watchdog.RecordSuccess(ServiceName)
			return nil, nil
		}
		s.watchdog.RecordFailure(ServiceName)
		return nil, errors.Wrap(err, errors.CategorySource, "SOURCE_UNAVAILABLE", "tag lookup failed").
			WithContext("artist", artist).
			WithContext("title", title)
	}
	s.watchdog.RecordSuccess(ServiceName)

	tags := make([]string, 0, len(result.Tags))
	for _, tag := range result.Tags {
		if tag.Name == "" {
			continue
		}
		tags = append(tags, tag.Name)
	}
	if len(tags) > 0 {
		s.cache.Set(tagsCache, key, tags, s.settings.TTL("lastfm", defaultTTL))
	}
	return tags, nil
}

func cacheKey(artist, title string) string {
	return textnorm.SearchTerm(artist) + "|" + textnorm.SearchTerm(title)
}

func isServerError(err error) bool {
	if lerr, ok := err.(*lfm.LastfmError); ok {
		return lerr.Code/100 == 5
	}
	return false
}

func isNotFound(err error) bool {
	if lerr, ok := err.(*lfm.LastfmError); ok {
		return lerr.Code == notFoundCode
	}
	return false
}
