// Package suggest turns a playlist profile into validated track
// suggestions via an OpenAI-compatible chat-completions endpoint. The
// engine over-fetches, parses the fixed line format, drops duplicates
// and seed repeats, checks the library for each candidate and attaches
// a YouTube search fallback to everything the library does not have.
package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/syeo66/playlistscope/cache"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/m3u"
	"github.com/syeo66/playlistscope/models"
	"github.com/syeo66/playlistscope/popularity"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/spotify"
	"github.com/syeo66/playlistscope/textnorm"
	"github.com/syeo66/playlistscope/watchdog"
)

const (
	// ServiceName is the watchdog identity of this integration.
	ServiceName = "openai"

	promptCache      = "prompt"
	defaultPromptTTL = 24 * time.Hour
	requestTimeout   = 60 * time.Second

	// overfetch asks the model for more lines than requested so that
	// parse and validation losses still leave enough suggestions.
	overfetch = 3

	suggestionFields = 5
)

// LibraryIndex checks suggestion candidates against the music library.
type LibraryIndex interface {
	SearchTrack(ctx context.Context, title, artist string) (*models.LibraryItem, error)
}

// MetadataSource fills album and year gaps for suggestions the library
// does not carry.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, title, artist string) (*spotify.Metadata, error)
}

// Request carries everything the prompt builder needs. Summary, Prompt
// and Seed are each optional; Count is the number of suggestions the
// caller wants back.
type Request struct {
	Seed    []string                // "Artist - Title" reference lines
	Summary *models.PlaylistSummary // profile of the source playlist
	Prompt  string                  // free-form steering text
	Count   int
}

// Engine is the suggestion service.
type Engine struct {
	client   *resty.Client
	library  LibraryIndex
	metadata MetadataSource
	cache    *cache.Store
	settings *settings.Store
	watchdog *watchdog.Watchdog
	logger   *logrus.Logger
}

// New creates a suggestion engine talking to an OpenAI-compatible API
// at baseURL. metadata may be nil when no cross-service source is
// configured.
func New(baseURL, apiKey string, library LibraryIndex, metadata MetadataSource, store *cache.Store, prefs *settings.Store, dog *watchdog.Watchdog, logger *logrus.Logger) *Engine {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(requestTimeout).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")

	return &Engine{
		client:   client,
		library:  library,
		metadata: metadata,
		cache:    store,
		settings: prefs,
		watchdog: dog,
		logger:   logger,
	}
}

// ParseSuggestionLine parses one response line of the form
// "Artist - Title - Album - Year - Genre". Additional " - " segments
// stay inside the genre field. A line with fewer than five fields is a
// parse error, never an empty suggestion.
func ParseSuggestionLine(line string) (models.Suggestion, error) {
	parts := strings.SplitN(line, " - ", suggestionFields)
	if len(parts) < suggestionFields {
		return models.Suggestion{}, errors.ErrParseFailure.WithContext("line", line)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return models.Suggestion{
		Artist: parts[0],
		Title:  parts[1],
		Album:  parts[2],
		Year:   parts[3],
		Genre:  parts[4],
	}, nil
}

// Suggest requests, parses and validates suggestions. Suggestions found
// in the library are sorted first; the rest carry a YouTube search URL
// and, when a metadata source is configured, album/year gap fills.
func (e *Engine) Suggest(ctx context.Context, req Request) ([]models.Suggestion, error) {
	if req.Count < 1 {
		return nil, errors.ErrValidationFailed.WithContext("field", "count")
	}

	model, temperature := e.settings.SuggestionModel()
	content, err := e.completion(ctx, e.buildPrompt(req), model, temperature)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]bool, len(req.Seed))
	for _, line := range req.Seed {
		artist, title := m3u.ParseTrackLine(line)
		exclude[identity(artist, title)] = true
	}

	var suggestions []models.Suggestion
	seen := make(map[string]bool)
	lines, parsed := 0, 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines++

		suggestion, err := ParseSuggestionLine(line)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"line":  line,
				"error": err,
			}).Warn("Skipping malformed suggestion line")
			continue
		}
		parsed++

		if suggestion.Artist == "" || suggestion.Title == "" {
			continue
		}
		key := identity(suggestion.Artist, suggestion.Title)
		if seen[key] || exclude[key] {
			continue
		}
		seen[key] = true
		suggestions = append(suggestions, suggestion)
	}
	if lines > 0 && parsed == 0 {
		return nil, errors.New(errors.CategoryParse, "PARSE_FAILURE", "no response line matched the suggestion format")
	}

	for i := range suggestions {
		e.resolve(ctx, &suggestions[i])
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].InLibrary && !suggestions[j].InLibrary
	})

	if len(suggestions) > req.Count {
		suggestions = suggestions[:req.Count]
	}
	return suggestions, nil
}

// LyricMood condenses a lyric text into a single lowercase mood word.
// Empty lyrics yield an empty mood without error.
func (e *Engine) LyricMood(ctx context.Context, lyrics string) (string, error) {
	if strings.TrimSpace(lyrics) == "" {
		return "", nil
	}

	model, _ := e.settings.SuggestionModel()
	content, err := e.completion(ctx, lyricMoodPrompt(lyrics), model, e.settings.LyricsTemperature())
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(content)), nil
}

// resolve checks one suggestion against the library and fills the
// fallback fields for everything the library does not have. Lookup
// failures degrade the suggestion, they never drop it.
func (e *Engine) resolve(ctx context.Context, suggestion *models.Suggestion) {
	item, err := e.library.SearchTrack(ctx, suggestion.Title, suggestion.Artist)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"title":  suggestion.Title,
			"artist": suggestion.Artist,
			"error":  err,
		}).Warn("Library check failed for suggestion")
	}
	if item != nil {
		suggestion.InLibrary = true
		suggestion.LibraryID = item.ID
		return
	}

	suggestion.YoutubeURL = youtubeSearchURL(suggestion.Title, suggestion.Artist)

	if e.metadata == nil || (suggestion.Album != "" && suggestion.Year != "") {
		return
	}
	meta, err := e.metadata.FetchMetadata(ctx, suggestion.Title, suggestion.Artist)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"title":  suggestion.Title,
			"artist": suggestion.Artist,
			"error":  err,
		}).Warn("Metadata gap fill failed for suggestion")
		return
	}
	if meta == nil {
		return
	}
	if suggestion.Album == "" {
		suggestion.Album = meta.Album
	}
	if suggestion.Year == "" {
		suggestion.Year = meta.Year
	}
}

// completion returns the (markdown-stripped) chat completion for a
// prompt, from cache when possible. Only non-empty responses are
// cached.
func (e *Engine) completion(ctx context.Context, prompt, model string, temperature float64) (string, error) {
	key := fingerprint(prompt, model, temperature)
	if cached, ok := e.cache.Get(promptCache, key); ok {
		if content, ok := cached.(string); ok {
			return content, nil
		}
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: temperature,
		}).
		Post("/chat/completions")
	if err != nil {
		e.watchdog.RecordFailure(ServiceName)
		return "", errors.Wrap(err, errors.CategorySource, "SOURCE_UNAVAILABLE", "completion request failed")
	}
	if !resp.IsSuccess() {
		e.watchdog.RecordFailure(ServiceName)
		return "", errors.New(errors.CategorySource, "BAD_RESPONSE", "completion request rejected").
			WithContext("status", resp.StatusCode())
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		e.watchdog.RecordFailure(ServiceName)
		return "", errors.Wrap(err, errors.CategorySource, "BAD_RESPONSE", "completion response is not valid JSON")
	}
	e.watchdog.RecordSuccess(ServiceName)

	if len(parsed.Choices) == 0 {
		return "", errors.New(errors.CategorySource, "BAD_RESPONSE", "completion returned no choices")
	}

	content := stripMarkdown(strings.TrimSpace(parsed.Choices[0].Message.Content))
	if content != "" {
		e.cache.Set(promptCache, key, content, e.settings.TTL("prompt", defaultPromptTTL))
	}
	return content, nil
}

func (e *Engine) buildPrompt(req Request) string {
	var b strings.Builder

	if req.Summary != nil {
		b.WriteString("The source playlist has this profile:\n")
		fmt.Fprintf(&b, "- Dominant genre: %s\n", req.Summary.DominantGenre)
		if moods := distributionKeys(req.Summary.MoodDistribution); moods != "" {
			fmt.Fprintf(&b, "- Moods: %s\n", moods)
		}
		if req.Summary.AvgTempo > 0 {
			fmt.Fprintf(&b, "- Average tempo: %d BPM\n", int(req.Summary.AvgTempo))
		}
		fmt.Fprintf(&b, "- Popularity: %s (score %d)\n",
			popularity.Describe(req.Summary.AvgPopularity), int(req.Summary.AvgPopularity))
		if decades := distributionKeys(req.Summary.DecadeDistribution); decades != "" {
			fmt.Fprintf(&b, "- Decades: %s\n", decades)
		}
		b.WriteString("\n")
	}
	if req.Prompt != "" {
		fmt.Fprintf(&b, "Listener request: %s\n\n", req.Prompt)
	}
	if len(req.Seed) > 0 {
		b.WriteString("Reference tracks:\n")
		b.WriteString(strings.Join(req.Seed, "\n"))
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Suggest exactly %d additional real, commercially released songs that would strongly appeal to someone who enjoys these tracks.\n\n", req.Count*overfetch)
	b.WriteString("Rules:\n")
	b.WriteString("- Only real, publicly verifiable songs. Never invent titles, artists or albums.\n")
	b.WriteString("- Do not repeat any reference track.\n")
	b.WriteString("- One song per line. No numbering, no bullets, no commentary.\n")
	b.WriteString("- Use exactly this format: Artist - Title - Album - Year - Genre\n")
	return b.String()
}

func lyricMoodPrompt(lyrics string) string {
	var b strings.Builder
	b.WriteString("Classify the overall mood of the song lyrics below in one word, ")
	b.WriteString("such as 'happy', 'sad', 'chill', 'intense', 'romantic', 'dark', 'uplifting', 'nostalgic' or 'party'.\n")
	b.WriteString("Respond with only the mood label and nothing else.\n\n")
	b.WriteString("Lyrics:\n")
	b.WriteString(lyrics)
	return b.String()
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func fingerprint(prompt, model string, temperature float64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|model=%s|temperature=%g", prompt, model, temperature)))
	return hex.EncodeToString(sum[:])
}

func identity(artist, title string) string {
	return textnorm.SearchTerm(artist) + "|" + textnorm.SearchTerm(title)
}

func youtubeSearchURL(title, artist string) string {
	return "https://www.youtube.com/results?search_query=" + url.QueryEscape(title+" "+artist)
}

// stripMarkdown removes code fences, bold markers and backticks the
// model sometimes wraps its plain-text answer in.
func stripMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = strings.ReplaceAll(line, "**", "")
		line = strings.ReplaceAll(line, "`", "")
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func distributionKeys(distribution map[string]string) string {
	if len(distribution) == 0 {
		return ""
	}
	keys := make([]string, 0, len(distribution))
	for key := range distribution {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
