package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	spotifyapi "github.com/zmb3/spotify/v2"

	"github.com/syeo66/playlistscope/cache"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/watchdog"
)

func newTestService(t *testing.T) (*Service, *watchdog.Watchdog) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in tests

	store := cache.New(logger)
	t.Cleanup(store.Close)

	prefs, err := settings.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("settings.NewStore failed: %v", err)
	}

	dog := watchdog.New(logger)
	svc := &Service{
		cache:    store,
		settings: prefs,
		watchdog: dog,
		logger:   logger,
	}
	return svc, dog
}

// searchResult builds a client response value from the API's JSON shape.
func searchResult(t *testing.T, body string) *spotifyapi.SearchResult {
	t.Helper()
	var result spotifyapi.SearchResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return &result
}

func TestFetchMetadataParsesAndCaches(t *testing.T) {
	svc, _ := newTestService(t)

	calls := 0
	svc.search = func(ctx context.Context, query string) (*spotifyapi.SearchResult, error) {
		calls++
		if query != "track:Karma Police artist:Radiohead" {
			t.Errorf("search query = %q, want track:Karma Police artist:Radiohead", query)
		}
		return searchResult(t, `{"tracks": {"items": [{
			"name": "Karma Police",
			"duration_ms": 263000,
			"album": {"name": "OK Computer", "release_date": "1997-05-21"}
		}]}}`), nil
	}

	meta, err := svc.FetchMetadata(context.Background(), "Karma Police", "Radiohead")
	if err != nil {
		t.Fatalf("FetchMetadata failed: %v", err)
	}
	if meta == nil {
		t.Fatal("Expected metadata, got nil")
	}
	if meta.Album != "OK Computer" {
		t.Errorf("Album = %q, want OK Computer", meta.Album)
	}
	if meta.Year != "1997" {
		t.Errorf("Year = %q, want 1997", meta.Year)
	}
	if meta.Duration == nil || *meta.Duration != 263 {
		t.Errorf("Duration = %v, want 263", meta.Duration)
	}

	again, err := svc.FetchMetadata(context.Background(), "Karma Police", "Radiohead")
	if err != nil {
		t.Fatalf("Cached FetchMetadata failed: %v", err)
	}
	if again == nil || again.Album != "OK Computer" {
		t.Errorf("Cached metadata = %+v, want same album", again)
	}
	if calls != 1 {
		t.Errorf("Expected 1 search call, got %d", calls)
	}
}

func TestFetchMetadataMissIsNotCached(t *testing.T) {
	svc, dog := newTestService(t)

	calls := 0
	svc.search = func(ctx context.Context, query string) (*spotifyapi.SearchResult, error) {
		calls++
		return searchResult(t, `{"tracks": {"items": []}}`), nil
	}

	for i := 0; i < 2; i++ {
		meta, err := svc.FetchMetadata(context.Background(), "Unknown Song", "Nobody")
		if err != nil {
			t.Fatalf("FetchMetadata failed: %v", err)
		}
		if meta != nil {
			t.Errorf("Expected nil metadata for a miss, got %+v", meta)
		}
	}
	if calls != 2 {
		t.Errorf("Expected misses to stay uncached, got %d calls", calls)
	}
	if dog.FailureCount(ServiceName) != 0 {
		t.Errorf("A miss is not a failure, got count %d", dog.FailureCount(ServiceName))
	}
}

func TestFetchMetadataPartialFields(t *testing.T) {
	svc, _ := newTestService(t)

	svc.search = func(ctx context.Context, query string) (*spotifyapi.SearchResult, error) {
		return searchResult(t, `{"tracks": {"items": [{
			"name": "Obscure Song",
			"album": {"name": "Obscure Album", "release_date": ""}
		}]}}`), nil
	}

	meta, err := svc.FetchMetadata(context.Background(), "Obscure Song", "Somebody")
	if err != nil {
		t.Fatalf("FetchMetadata failed: %v", err)
	}
	if meta == nil {
		t.Fatal("Expected metadata, got nil")
	}
	if meta.Album != "Obscure Album" {
		t.Errorf("Album = %q, want Obscure Album", meta.Album)
	}
	if meta.Year != "" {
		t.Errorf("Year = %q, want empty for a missing release date", meta.Year)
	}
	if meta.Duration != nil {
		t.Errorf("Duration = %v, want nil for a missing duration", *meta.Duration)
	}
}

func TestFetchMetadataFailure(t *testing.T) {
	svc, dog := newTestService(t)

	calls := 0
	svc.search = func(ctx context.Context, query string) (*spotifyapi.SearchResult, error) {
		calls++
		return nil, fmt.Errorf("rate limited")
	}

	if _, err := svc.FetchMetadata(context.Background(), "Song", "Artist"); err == nil {
		t.Fatal("Expected an error")
	} else if !errors.IsCategory(err, errors.CategorySource) {
		t.Errorf("Expected a source error, got %v", err)
	}
	if dog.FailureCount(ServiceName) != 1 {
		t.Errorf("FailureCount = %d, want 1", dog.FailureCount(ServiceName))
	}

	if _, err := svc.FetchMetadata(context.Background(), "Song", "Artist"); err == nil {
		t.Fatal("Expected the second call to fail too")
	}
	if calls != 2 {
		t.Errorf("Failures must not be cached, got %d calls", calls)
	}
}

func TestFetchMetadataValidation(t *testing.T) {
	svc, _ := newTestService(t)
	svc.search = func(ctx context.Context, query string) (*spotifyapi.SearchResult, error) {
		t.Error("search must not run for invalid input")
		return nil, nil
	}

	if _, err := svc.FetchMetadata(context.Background(), "", "Artist"); !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected a validation error for an empty title, got %v", err)
	}
	if _, err := svc.FetchMetadata(context.Background(), "Song", ""); !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected a validation error for an empty artist, got %v", err)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in tests

	if _, err := New(context.Background(), "", "secret", nil, nil, nil, logger); !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected a validation error for a missing client id, got %v", err)
	}
	if _, err := New(context.Background(), "id", "", nil, nil, nil, logger); !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected a validation error for a missing client secret, got %v", err)
	}
}

func TestReleaseYear(t *testing.T) {
	tests := []struct {
		releaseDate string
		want        string
	}{
		{"1997-05-21", "1997"},
		{"2003", "2003"},
		{"", ""},
		{"19", ""},
		{"soon-01-01", ""},
	}
	for _, tt := range tests {
		if got := releaseYear(tt.releaseDate); got != tt.want {
			t.Errorf("releaseYear(%q) = %q, want %q", tt.releaseDate, got, tt.want)
		}
	}
}
