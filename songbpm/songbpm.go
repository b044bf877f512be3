// Package songbpm queries the GetSongBPM API for tempo and related
// audio features. Results are cached long-term because the data never
// changes for a given recording.
package songbpm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/syeo66/playlistscope/cache"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/models"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/textnorm"
	"github.com/syeo66/playlistscope/watchdog"
)

const (
	// ServiceName is the watchdog identity of this integration.
	ServiceName = "songbpm"

	bpmCache       = "bpm"
	defaultTTL     = 30 * 24 * time.Hour
	requestTimeout = 10 * time.Second
	maxAttempts    = 3
)

// Service is the GetSongBPM client.
type Service struct {
	client   *resty.Client
	apiKey   string
	limiter  *rate.Limiter
	cache    *cache.Store
	settings *settings.Store
	watchdog *watchdog.Watchdog
	logger   *logrus.Logger
}

// New creates a GetSongBPM client rooted at baseURL.
func New(baseURL, apiKey string, store *cache.Store, prefs *settings.Store, dog *watchdog.Watchdog, logger *logrus.Logger) *Service {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json")

	return &Service{
		client:   client,
		apiKey:   apiKey,
		limiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		cache:    store,
		settings: prefs,
		watchdog: dog,
		logger:   logger,
	}
}

// statusError marks a retryable-or-not HTTP status for the retry filter.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

// flexString decodes fields the API serves as either strings or bare
// numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	// Anything else is treated as absent.
	return nil
}

// Int parses the value as a decimal integer, nil when it is not one.
func (f flexString) Int() *int {
	n, err := strconv.Atoi(strings.TrimSpace(string(f)))
	if err != nil {
		return nil
	}
	return &n
}

type wireSong struct {
	Tempo        flexString `json:"tempo"`
	KeyOf        string     `json:"key_of"`
	Danceability flexString `json:"danceability"`
	Acousticness flexString `json:"acousticness"`
	Duration     string     `json:"duration"`
	Album        struct {
		Year flexString `json:"year"`
	} `json:"album"`
}

// TrackData returns the audio features for a track, or nil when the
// service does not know it. Known tracks are cached even when most
// fields are absent; misses and failures are never cached.
func (s *Service) TrackData(ctx context.Context, title, artist string) (*models.BPMData, error) {
	if title == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "title")
	}
	if artist == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "artist")
	}

	key := textnorm.SearchTerm(strings.TrimSpace(title)) + "::" + textnorm.SearchTerm(strings.TrimSpace(artist))
	if cached, ok := s.cache.Get(bpmCache, key); ok {
		if data, ok := cached.(models.BPMData); ok {
			value := data
			return &value, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryNetwork, "TIMEOUT", "rate limit wait interrupted")
	}

	var body []byte
	err := retry.Do(
		func() error {
			resp, err := s.client.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"api_key": s.apiKey,
					"type":    "both",
					"lookup":  "song:" + title + " artist:" + artist,
				}).
				Get("/search/")
			if err != nil {
				return err
			}
			if !resp.IsSuccess() {
				return &statusError{status: resp.StatusCode()}
			}
			body = resp.Body()
			return nil
		},
		retry.Attempts(maxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
	if err != nil {
		s.watchdog.RecordFailure(ServiceName)
		if serr, ok := err.(*statusError); ok {
			return nil, errors.New(errors.CategorySource, "BAD_RESPONSE", "bpm service returned an error status").
				WithContext("status", serr.status)
		}
		return nil, errors.Wrap(err, errors.CategorySource, "SOURCE_UNAVAILABLE", "bpm lookup failed").
			WithContext("artist", artist).
			WithContext("title", title)
	}

	var envelope struct {
		Search json.RawMessage `json:"search"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.watchdog.RecordFailure(ServiceName)
		return nil, errors.Wrap(err, errors.CategorySource, "BAD_RESPONSE", "bpm response could not be decoded")
	}
	s.watchdog.RecordSuccess(ServiceName)

	// On a miss the API puts an error object where the result list goes.
	var songs []wireSong
	if len(envelope.Search) == 0 || json.Unmarshal(envelope.Search, &songs) != nil || len(songs) == 0 {
		s.logger.WithFields(logrus.Fields{
			"artist": artist,
			"title":  title,
		}).Debug("No bpm data found")
		return nil, nil
	}

	song := songs[0]
	data := models.BPMData{
		Tempo:        song.Tempo.Int(),
		Duration:     parseDuration(song.Duration),
		Year:         song.Album.Year.Int(),
		Danceability: song.Danceability.Int(),
		Acousticness: song.Acousticness.Int(),
		Key:          song.KeyOf,
	}

	s.cache.Set(bpmCache, key, data, s.settings.TTL("bpm", defaultTTL))
	return &data, nil
}

// parseDuration converts the API's "m:ss" duration to seconds.
func parseDuration(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.Contains(raw, ":") {
		return nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return nil
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil
	}
	seconds, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil
	}
	total := minutes*60 + seconds
	return &total
}

func isRetryable(err error) bool {
	if serr, ok := err.(*statusError); ok {
		switch serr.status {
		case 429, 502, 503, 504:
			return true
		}
		return false
	}
	return false
}
