package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/syeo66/playlistscope/cache"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/models"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/spotify"
	"github.com/syeo66/playlistscope/watchdog"
)

type fakeLibrary struct {
	items map[string]models.LibraryItem // keyed "title|artist", lowercase
	err   error
	calls int
}

func (f *fakeLibrary) SearchTrack(ctx context.Context, title, artist string) (*models.LibraryItem, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if item, ok := f.items[strings.ToLower(title+"|"+artist)]; ok {
		return &item, nil
	}
	return nil, nil
}

type fakeMetadata struct {
	meta  *spotify.Metadata
	err   error
	calls int
}

func (f *fakeMetadata) FetchMetadata(ctx context.Context, title, artist string) (*spotify.Metadata, error) {
	f.calls++
	return f.meta, f.err
}

func newTestEngine(t *testing.T, handler http.HandlerFunc, library LibraryIndex, metadata MetadataSource) (*Engine, *watchdog.Watchdog) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in tests

	mockServer := httptest.NewServer(handler)
	t.Cleanup(mockServer.Close)

	store := cache.New(logger)
	t.Cleanup(store.Close)

	prefs, err := settings.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("settings.NewStore failed: %v", err)
	}

	dog := watchdog.New(logger)
	return New(mockServer.URL, "test-key", library, metadata, store, prefs, dog, logger), dog
}

// completionHandler answers every chat request with the given content
// and records the prompts it saw.
func completionHandler(t *testing.T, content string, prompts *[]chatRequest) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", auth)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode chat request: %v", err)
		}
		if prompts != nil {
			*prompts = append(*prompts, req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}
}

func TestSuggestParsesValidatesAndSorts(t *testing.T) {
	content := strings.Join([]string{
		"Radiohead - Karma Police - OK Computer - 1997 - alternative",
		"Queen - Bicycle Race - Jazz - 1978 - rock",
		"just a fragment",
		"Radiohead - Karma Police - OK Computer - 1997 - alternative",
	}, "\n")

	library := &fakeLibrary{items: map[string]models.LibraryItem{
		"bicycle race|queen": {ID: "item-42", Name: "Bicycle Race"},
	}}
	var prompts []chatRequest
	engine, _ := newTestEngine(t, completionHandler(t, content, &prompts), library, nil)

	got, err := engine.Suggest(context.Background(), Request{
		Seed:  []string{"Muse - Uprising"},
		Count: 2,
	})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 suggestions, got %d", len(got))
	}
	if got[0].Artist != "Queen" || !got[0].InLibrary || got[0].LibraryID != "item-42" {
		t.Errorf("Expected the library hit first, got %+v", got[0])
	}
	if got[1].Artist != "Radiohead" || got[1].InLibrary {
		t.Errorf("Expected Radiohead outside the library, got %+v", got[1])
	}
	if !strings.Contains(got[1].YoutubeURL, "search_query=Karma+Police+Radiohead") {
		t.Errorf("YoutubeURL = %q, want a search fallback", got[1].YoutubeURL)
	}
	if got[1].Album != "OK Computer" || got[1].Year != "1997" || got[1].Genre != "alternative" {
		t.Errorf("Parsed fields wrong: %+v", got[1])
	}

	if len(prompts) != 1 {
		t.Fatalf("Expected 1 completion call, got %d", len(prompts))
	}
	prompt := prompts[0].Messages[0].Content
	if !strings.Contains(prompt, "Suggest exactly 6 additional") {
		t.Errorf("Prompt must over-fetch threefold:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Muse - Uprising") {
		t.Errorf("Prompt must carry the seed tracks:\n%s", prompt)
	}
}

func TestSuggestExcludesSeedTracks(t *testing.T) {
	content := strings.Join([]string{
		"Muse - Uprising - The Resistance - 2009 - rock",
		"Placebo - Every You Every Me - Without You I'm Nothing - 1998 - alternative",
	}, "\n")

	engine, _ := newTestEngine(t, completionHandler(t, content, nil), &fakeLibrary{}, nil)

	got, err := engine.Suggest(context.Background(), Request{
		Seed:  []string{"Muse - Uprising"},
		Count: 5,
	})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(got) != 1 || got[0].Artist != "Placebo" {
		t.Errorf("Expected only the non-seed suggestion, got %+v", got)
	}
}

func TestSuggestSummaryShapesPrompt(t *testing.T) {
	var prompts []chatRequest
	engine, _ := newTestEngine(t, completionHandler(t, "A - B - C - 1999 - pop", &prompts), &fakeLibrary{}, nil)

	_, err := engine.Suggest(context.Background(), Request{
		Summary: &models.PlaylistSummary{
			DominantGenre:      "rock",
			MoodDistribution:   map[string]string{"happy": "60%", "dark": "40%"},
			DecadeDistribution: map[string]string{"1990s": "100%"},
			AvgTempo:           123.4,
			AvgPopularity:      74.2,
		},
		Prompt: "more female vocals",
		Count:  1,
	})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}

	prompt := prompts[0].Messages[0].Content
	for _, want := range []string{
		"Dominant genre: rock",
		"Moods: dark, happy",
		"Average tempo: 123 BPM",
		"Mainstream favorite",
		"Decades: 1990s",
		"Listener request: more female vocals",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSuggestParseFailureSurfaces(t *testing.T) {
	engine, _ := newTestEngine(t, completionHandler(t, "no dashes here\nstill none", nil), &fakeLibrary{}, nil)

	_, err := engine.Suggest(context.Background(), Request{Count: 3})
	if err == nil {
		t.Fatal("Expected a parse error")
	}
	if !errors.IsCategory(err, errors.CategoryParse) {
		t.Errorf("Expected a parse error, got %v", err)
	}
}

func TestSuggestEmptyResponseIsNotAnError(t *testing.T) {
	engine, _ := newTestEngine(t, completionHandler(t, "", nil), &fakeLibrary{}, nil)

	got, err := engine.Suggest(context.Background(), Request{Count: 3})
	if err != nil {
		t.Fatalf("An empty response is a valid empty result, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no suggestions, got %+v", got)
	}
}

func TestSuggestUsesPromptCache(t *testing.T) {
	var prompts []chatRequest
	engine, _ := newTestEngine(t, completionHandler(t, "A - B - C - 1999 - pop", &prompts), &fakeLibrary{}, nil)

	for i := 0; i < 2; i++ {
		if _, err := engine.Suggest(context.Background(), Request{Count: 1}); err != nil {
			t.Fatalf("Suggest failed: %v", err)
		}
	}
	if len(prompts) != 1 {
		t.Errorf("Expected the second run to hit the prompt cache, got %d calls", len(prompts))
	}
}

func TestSuggestCountValidation(t *testing.T) {
	engine, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("No completion request expected for an invalid count")
	}, &fakeLibrary{}, nil)

	if _, err := engine.Suggest(context.Background(), Request{Count: 0}); !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected a validation error, got %v", err)
	}
}

func TestSuggestFillsMetadataGaps(t *testing.T) {
	metadata := &fakeMetadata{meta: &spotify.Metadata{Album: "Filled Album", Year: "2001"}}
	engine, _ := newTestEngine(t,
		completionHandler(t, "Boards of Canada - Deep Cut -  -  - ambient", nil),
		&fakeLibrary{}, metadata)

	got, err := engine.Suggest(context.Background(), Request{Count: 1})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 suggestion, got %d", len(got))
	}
	if got[0].Album != "Filled Album" || got[0].Year != "2001" {
		t.Errorf("Expected filled album/year, got %+v", got[0])
	}
	if metadata.calls != 1 {
		t.Errorf("Expected 1 metadata call, got %d", metadata.calls)
	}
}

func TestSuggestLibraryFailureDegrades(t *testing.T) {
	library := &fakeLibrary{err: errors.New(errors.CategorySource, "SOURCE_UNAVAILABLE", "down")}
	engine, _ := newTestEngine(t, completionHandler(t, "A - B - C - 1999 - pop", nil), library, nil)

	got, err := engine.Suggest(context.Background(), Request{Count: 1})
	if err != nil {
		t.Fatalf("A library failure must not fail the batch: %v", err)
	}
	if len(got) != 1 || got[0].InLibrary {
		t.Errorf("Expected a degraded suggestion, got %+v", got)
	}
	if got[0].YoutubeURL == "" {
		t.Error("Expected a YouTube fallback URL")
	}
}

func TestSuggestCompletionFailure(t *testing.T) {
	engine, dog := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, &fakeLibrary{}, nil)

	if _, err := engine.Suggest(context.Background(), Request{Count: 1}); !errors.IsCategory(err, errors.CategorySource) {
		t.Errorf("Expected a source error, got %v", err)
	}
	if dog.FailureCount(ServiceName) != 1 {
		t.Errorf("FailureCount = %d, want 1", dog.FailureCount(ServiceName))
	}
}

func TestLyricMood(t *testing.T) {
	var prompts []chatRequest
	engine, _ := newTestEngine(t, completionHandler(t, "Nostalgic\n", &prompts), &fakeLibrary{}, nil)

	mood, err := engine.LyricMood(context.Background(), "I remember summers long gone")
	if err != nil {
		t.Fatalf("LyricMood failed: %v", err)
	}
	if mood != "nostalgic" {
		t.Errorf("mood = %q, want nostalgic", mood)
	}
	if prompts[0].Temperature != 0.4 {
		t.Errorf("Temperature = %v, want the lyrics temperature 0.4", prompts[0].Temperature)
	}
	if !strings.Contains(prompts[0].Messages[0].Content, "I remember summers long gone") {
		t.Error("Prompt must carry the lyrics")
	}

	// Same lyrics come from the prompt cache.
	if _, err := engine.LyricMood(context.Background(), "I remember summers long gone"); err != nil {
		t.Fatalf("Cached LyricMood failed: %v", err)
	}
	if len(prompts) != 1 {
		t.Errorf("Expected 1 completion call, got %d", len(prompts))
	}
}

func TestLyricMoodEmptyLyrics(t *testing.T) {
	engine, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("No completion request expected for empty lyrics")
	}, &fakeLibrary{}, nil)

	mood, err := engine.LyricMood(context.Background(), "  \n ")
	if err != nil || mood != "" {
		t.Errorf("LyricMood(empty) = %q, %v, want empty and no error", mood, err)
	}
}

func TestParseSuggestionLine(t *testing.T) {
	got, err := ParseSuggestionLine("Queen - Bicycle Race - Jazz - 1978 - rock")
	if err != nil {
		t.Fatalf("ParseSuggestionLine failed: %v", err)
	}
	want := models.Suggestion{Artist: "Queen", Title: "Bicycle Race", Album: "Jazz", Year: "1978", Genre: "rock"}
	if got != want {
		t.Errorf("ParseSuggestionLine = %+v, want %+v", got, want)
	}

	// Extra separators stay inside the last field.
	got, err = ParseSuggestionLine("A - B - C - 1999 - synth - pop")
	if err != nil {
		t.Fatalf("ParseSuggestionLine failed: %v", err)
	}
	if got.Genre != "synth - pop" {
		t.Errorf("Genre = %q, want the extra segment preserved", got.Genre)
	}

	if _, err := ParseSuggestionLine("Queen - Bicycle Race - Jazz - 1978"); !errors.IsCategory(err, errors.CategoryParse) {
		t.Errorf("Expected a parse error for a short line, got %v", err)
	}
}

func TestStripMarkdown(t *testing.T) {
	content := "```\n**Queen - Bicycle Race - Jazz - 1978 - rock**\n```"
	if got := stripMarkdown(content); got != "Queen - Bicycle Race - Jazz - 1978 - rock" {
		t.Errorf("stripMarkdown = %q", got)
	}
}
