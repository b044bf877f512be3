// Package settings holds the operator-tunable scoring configuration.
// Values are read through the Store on every scoring call so that
// updates take effect immediately, without a process restart.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syeo66/playlistscope/errors"
)

// Weights blends the three mood signal sources.
type Weights struct {
	Tags   float64 `json:"tags"`
	BPM    float64 `json:"bpm"`
	Lyrics float64 `json:"lyrics"`
}

// PopularityWeights blends the listener-stats and library play-count
// scores when both are present.
type PopularityWeights struct {
	Listeners float64 `json:"listeners"`
	Library   float64 `json:"library"`
}

// Settings is the full tunable state. All fields are JSON-persisted.
type Settings struct {
	MoodPriors            map[string]float64 `json:"moodPriors"`
	MoodWeights           Weights            `json:"moodWeights"`
	Popularity            PopularityWeights  `json:"popularityWeights"`
	GlobalMinListeners    int                `json:"globalMinListeners"`
	GlobalMaxListeners    int                `json:"globalMaxListeners"`
	CacheTTLSeconds       map[string]int     `json:"cacheTtlSeconds"`
	LyricsMoodEnabled     bool               `json:"lyricsMoodEnabled"`
	SuggestionModel       string             `json:"suggestionModel"`
	SuggestionTemperature float64            `json:"suggestionTemperature"`
	LyricsTemperature     float64            `json:"lyricsTemperature"`
}

// Defaults returns the stock configuration.
func Defaults() Settings {
	return Settings{
		MoodPriors: map[string]float64{
			"happy":     0.9,
			"sad":       1.0,
			"chill":     1.0,
			"intense":   1.0,
			"romantic":  1.2,
			"dark":      1.2,
			"uplifting": 1.3,
			"nostalgic": 1.3,
			"party":     1.3,
		},
		MoodWeights: Weights{
			Tags:   0.7,
			BPM:    1.0,
			Lyrics: 1.5,
		},
		Popularity: PopularityWeights{
			Listeners: 0.3,
			Library:   0.7,
		},
		GlobalMinListeners: 10_000,
		GlobalMaxListeners: 15_000_000,
		CacheTTLSeconds: map[string]int{
			"lastfm":    60 * 60 * 24 * 7,
			"bpm":       60 * 60 * 24 * 30,
			"spotify":   60 * 60 * 24 * 7,
			"playlists": 60 * 30,
			"library":   60 * 60 * 24,
			"prompt":    60 * 60 * 24,
			"youtube":   60 * 60 * 6,
		},
		LyricsMoodEnabled:     true,
		SuggestionModel:       "gpt-4o-mini",
		SuggestionTemperature: 0.7,
		LyricsTemperature:     0.4,
	}
}

// Store guards the live settings and persists updates to disk.
type Store struct {
	mu       sync.RWMutex
	current  Settings
	filePath string
	logger   *logrus.Logger
}

// NewStore loads settings from dir/settings.json, falling back to
// defaults when the file does not exist yet.
func NewStore(dir string, logger *logrus.Logger) (*Store, error) {
	s := &Store{
		current:  Defaults(),
		filePath: filepath.Join(dir, "settings.json"),
		logger:   logger,
	}

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		logger.WithField("path", s.filePath).Info("No settings file found, using defaults")
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, "SETTINGS_READ_FAILED", "failed to read settings file")
	}

	loaded := Defaults()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, "SETTINGS_PARSE_FAILED", "failed to parse settings file")
	}
	if err := Validate(loaded); err != nil {
		return nil, err
	}

	s.current = loaded
	logger.WithField("path", s.filePath).Info("Settings loaded")
	return s, nil
}

// Get returns a copy of the current settings. Map fields are copied so
// callers cannot mutate the live state.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySettings(s.current)
}

// Update validates, applies and persists new settings.
func (s *Store) Update(next Settings) error {
	if err := Validate(next); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = copySettings(next)
	s.mu.Unlock()

	if err := s.save(); err != nil {
		return err
	}

	s.logger.Info("Settings updated")
	return nil
}

func (s *Store) save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.current, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, "SETTINGS_ENCODE_FAILED", "failed to encode settings")
	}

	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return errors.Wrap(err, errors.CategoryConfig, "SETTINGS_WRITE_FAILED", "failed to write settings file")
	}
	return nil
}

// MoodWeights returns the current signal weights.
func (s *Store) MoodWeights() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.MoodWeights
}

// MoodPriors returns a copy of the per-mood prior multipliers.
func (s *Store) MoodPriors() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	priors := make(map[string]float64, len(s.current.MoodPriors))
	for k, v := range s.current.MoodPriors {
		priors[k] = v
	}
	return priors
}

// PopularityWeights returns the current popularity blend weights.
func (s *Store) PopularityWeights() PopularityWeights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Popularity
}

// ListenerBounds returns the global listener-count normalization range.
func (s *Store) ListenerBounds() (min, max float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return float64(s.current.GlobalMinListeners), float64(s.current.GlobalMaxListeners)
}

// TTL returns the cache lifetime for a named cache, or the fallback when
// the name is not configured.
func (s *Store) TTL(name string, fallback time.Duration) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if secs, ok := s.current.CacheTTLSeconds[name]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// LyricsMoodEnabled reports whether lyric-based mood scoring is active.
func (s *Store) LyricsMoodEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.LyricsMoodEnabled
}

// SuggestionModel returns the model name and sampling temperature for
// suggestion prompts.
func (s *Store) SuggestionModel() (string, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.SuggestionModel, s.current.SuggestionTemperature
}

// LyricsTemperature returns the sampling temperature for lyric mood
// analysis.
func (s *Store) LyricsTemperature() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.LyricsTemperature
}

// Validate rejects settings that would break scoring.
func Validate(s Settings) error {
	if s.MoodWeights.Tags < 0 || s.MoodWeights.BPM < 0 || s.MoodWeights.Lyrics < 0 {
		return errors.New(errors.CategoryValidation, "INVALID_WEIGHTS", "mood weights must not be negative")
	}
	if s.Popularity.Listeners < 0 || s.Popularity.Library < 0 {
		return errors.New(errors.CategoryValidation, "INVALID_WEIGHTS", "popularity weights must not be negative")
	}
	if s.Popularity.Listeners == 0 && s.Popularity.Library == 0 {
		return errors.New(errors.CategoryValidation, "INVALID_WEIGHTS", "popularity weights must not both be zero")
	}
	for mood, prior := range s.MoodPriors {
		if prior < 0 {
			return errors.New(errors.CategoryValidation, "INVALID_PRIOR", "mood prior must not be negative").
				WithContext("mood", mood)
		}
	}
	if s.GlobalMinListeners < 0 {
		return errors.New(errors.CategoryValidation, "INVALID_BOUNDS", "global listener minimum must not be negative")
	}
	if s.GlobalMaxListeners < s.GlobalMinListeners {
		return errors.New(errors.CategoryValidation, "INVALID_BOUNDS", "global listener maximum must not be below the minimum")
	}
	for name, secs := range s.CacheTTLSeconds {
		if secs <= 0 {
			return errors.New(errors.CategoryValidation, "INVALID_TTL", "cache TTL must be positive").
				WithContext("cache", name)
		}
	}
	if s.SuggestionTemperature < 0 || s.SuggestionTemperature > 2 {
		return errors.New(errors.CategoryValidation, "INVALID_TEMPERATURE", "suggestion temperature must be between 0 and 2")
	}
	if s.LyricsTemperature < 0 || s.LyricsTemperature > 2 {
		return errors.New(errors.CategoryValidation, "INVALID_TEMPERATURE", "lyrics temperature must be between 0 and 2")
	}
	return nil
}

func copySettings(s Settings) Settings {
	out := s
	out.MoodPriors = make(map[string]float64, len(s.MoodPriors))
	for k, v := range s.MoodPriors {
		out.MoodPriors[k] = v
	}
	out.CacheTTLSeconds = make(map[string]int, len(s.CacheTTLSeconds))
	for k, v := range s.CacheTTLSeconds {
		out.CacheTTLSeconds[k] = v
	}
	return out
}
