package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/syeo66/playlistscope/enrich"
	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/history"
	"github.com/syeo66/playlistscope/jellyfin"
	"github.com/syeo66/playlistscope/m3u"
	"github.com/syeo66/playlistscope/models"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/suggest"
	"github.com/syeo66/playlistscope/summary"
	"github.com/syeo66/playlistscope/watchdog"
)

const (
	MaxInputLength = 1000
	MaxRequestBody = 1 << 20
)

// Suggestion constants
const (
	DefaultSuggestionCount = 5
	MaxSuggestionCount     = 20
)

// ASCII control character constants
const (
	ASCIIControlCharMin = 32
	ASCIIControlCharMax = 127
)

type Handler struct {
	logger    *logrus.Logger
	library   *jellyfin.Service
	enricher  *enrich.Enricher
	suggester *suggest.Engine
	settings  *settings.Store
	history   *history.Store
	watchdog  *watchdog.Watchdog
	musicRoot string
	userID    string
}

// New wires the handler set. suggester may be nil when no suggestion
// engine is configured; the suggest endpoint then reports unavailable.
func New(logger *logrus.Logger, library *jellyfin.Service, enricher *enrich.Enricher, suggester *suggest.Engine, prefs *settings.Store, hist *history.Store, dog *watchdog.Watchdog, musicRoot, userID string) *Handler {
	return &Handler{
		logger:    logger,
		library:   library,
		enricher:  enricher,
		suggester: suggester,
		settings:  prefs,
		history:   hist,
		watchdog:  dog,
		musicRoot: musicRoot,
		userID:    userID,
	}
}

// SanitizeForLogging removes control characters and limits length to prevent log injection
func SanitizeForLogging(input string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r < ASCIIControlCharMin || r == ASCIIControlCharMax {
			return -1
		}
		return r
	}, input)

	if len(sanitized) > MaxInputLength {
		sanitized = sanitized[:MaxInputLength] + "..."
	}

	return sanitized
}

type analyzeRequest struct {
	PlaylistID string `json:"playlist_id"`
}

type suggestRequest struct {
	Prompt         string `json:"prompt"`
	Count          int    `json:"count"`
	PlaylistID     string `json:"playlist_id"`
	CreatePlaylist string `json:"create_playlist"`
	ExportMissing  bool   `json:"export_missing"`
}

type suggestResponse struct {
	Suggestions []models.Suggestion `json:"suggestions"`
	PlaylistID  string              `json:"playlistId,omitempty"`
	MissingM3U  string              `json:"missingM3u,omitempty"`
}

type importResult struct {
	Summary models.PlaylistSummary `json:"summary"`
	Tracks  []models.Track         `json:"tracks"`
	Missing []string               `json:"missing,omitempty"`
}

// Health reports liveness plus the watchdog's per-integration view.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"integrations": h.watchdog.Status(),
	})
}

// Playlists lists the library's audio playlists.
func (h *Handler) Playlists(w http.ResponseWriter, r *http.Request) {
	playlists, err := h.library.Playlists(r.Context())
	if err != nil {
		h.fail(w, err, "Failed to list playlists")
		return
	}
	h.respond(w, http.StatusOK, map[string]interface{}{"playlists": playlists})
}

// Analyze enriches one playlist and returns its summary, tracks and
// outliers. Successful runs are recorded in the history store.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBody)).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid analyze request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlaylistID == "" {
		h.logger.WithError(errors.ErrMissingParameter.WithContext("parameter", "playlist_id")).
			Warn("Analyze request missing playlist ID")
		http.Error(w, "Missing playlist_id", http.StatusBadRequest)
		return
	}

	name, err := h.playlistName(r.Context(), req.PlaylistID)
	if err != nil {
		h.fail(w, err, "Failed to resolve playlist")
		return
	}
	if name == "" {
		http.Error(w, "Playlist not found", http.StatusNotFound)
		return
	}

	items, err := h.library.PlaylistTracks(r.Context(), req.PlaylistID)
	if err != nil {
		h.fail(w, err, "Failed to load playlist tracks")
		return
	}

	tracks, err := h.enricher.EnrichBatch(r.Context(), items)
	if err != nil {
		h.fail(w, err, "Failed to enrich playlist tracks")
		return
	}

	result := models.AnalyzeResult{
		PlaylistID:   req.PlaylistID,
		PlaylistName: name,
		Summary:      summary.Summarize(tracks),
		Tracks:       tracks,
	}

	if _, err := h.history.Record(h.userID, history.KindAnalysis, name, result); err != nil {
		h.logger.WithError(err).Warn("Failed to record analysis history")
	}

	h.respond(w, http.StatusOK, result)

	h.logger.WithFields(logrus.Fields{
		"playlist": SanitizeForLogging(name),
		"tracks":   len(result.Tracks),
		"outliers": len(result.Summary.Outliers),
	}).Info("Served playlist analysis")
}

// Suggest generates validated track suggestions, optionally grounded on
// a playlist's summary and optionally materialized as a new playlist.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	if h.suggester == nil {
		h.logger.Warn("Suggestion request received but no suggestion engine is configured")
		http.Error(w, "Suggestions are not configured", http.StatusServiceUnavailable)
		return
	}

	var req suggestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBody)).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid suggest request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Count == 0 {
		req.Count = DefaultSuggestionCount
	}
	if req.Count < 0 || req.Count > MaxSuggestionCount {
		validationErr := errors.ErrValidationFailed.WithContext("field", "count").
			WithContext("value", req.Count).
			WithContext("max_allowed", MaxSuggestionCount)
		h.logger.WithError(validationErr).Warn("Suggestion count out of range")
		http.Error(w, "Count out of range (max: 20)", http.StatusBadRequest)
		return
	}

	engineReq := suggest.Request{Prompt: req.Prompt, Count: req.Count}
	name := "custom prompt"

	if req.PlaylistID != "" {
		found, err := h.playlistName(r.Context(), req.PlaylistID)
		if err != nil {
			h.fail(w, err, "Failed to resolve playlist")
			return
		}
		if found == "" {
			http.Error(w, "Playlist not found", http.StatusNotFound)
			return
		}
		name = found

		items, err := h.library.PlaylistTracks(r.Context(), req.PlaylistID)
		if err != nil {
			h.fail(w, err, "Failed to load playlist tracks")
			return
		}
		tracks, err := h.enricher.EnrichBatch(r.Context(), items)
		if err != nil {
			h.fail(w, err, "Failed to enrich playlist tracks")
			return
		}

		s := summary.Summarize(tracks)
		engineReq.Summary = &s
		seed := make([]string, 0, len(tracks))
		for _, track := range tracks {
			seed = append(seed, track.Artist+" - "+track.Title)
		}
		engineReq.Seed = seed
	}

	suggestions, err := h.suggester.Suggest(r.Context(), engineReq)
	if err != nil {
		h.fail(w, err, "Failed to generate suggestions")
		return
	}

	response := suggestResponse{Suggestions: suggestions}

	if req.CreatePlaylist != "" {
		ids := make([]string, 0, len(suggestions))
		for _, s := range suggestions {
			if s.InLibrary && s.LibraryID != "" {
				ids = append(ids, s.LibraryID)
			}
		}
		if len(ids) > 0 {
			playlistID, err := h.library.CreatePlaylist(r.Context(), req.CreatePlaylist, ids)
			if err != nil {
				h.logger.WithError(err).Warn("Failed to create playlist from suggestions")
			} else {
				response.PlaylistID = playlistID
			}
		}
	}

	if req.ExportMissing {
		var lines []string
		for _, s := range suggestions {
			if !s.InLibrary {
				lines = append(lines, s.Artist+" - "+s.Title)
			}
		}
		if len(lines) > 0 {
			path, err := m3u.WriteFile("", lines)
			if err != nil {
				h.logger.WithError(err).Warn("Failed to write missing-tracks playlist file")
			} else {
				response.MissingM3U = path
			}
		}
	}

	if _, err := h.history.Record(h.userID, history.KindSuggestion, name, response.Suggestions); err != nil {
		h.logger.WithError(err).Warn("Failed to record suggestion history")
	}

	h.respond(w, http.StatusOK, response)

	h.logger.WithFields(logrus.Fields{
		"requested": req.Count,
		"returned":  len(suggestions),
		"source":    SanitizeForLogging(name),
	}).Info("Served suggestion request")
}

// GetSettings returns the live scoring settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.settings.Get())
}

// UpdateSettings applies a settings document on top of the current one.
// Fields absent from the body keep their current value.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	next := h.settings.Get()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBody)).Decode(&next); err != nil {
		h.logger.WithError(err).Warn("Invalid settings request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.settings.Update(next); err != nil {
		h.fail(w, err, "Settings rejected")
		return
	}

	h.respond(w, http.StatusOK, h.settings.Get())
}

// History lists past analysis and suggestion runs, optionally filtered
// by kind.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != history.KindAnalysis && kind != history.KindSuggestion {
		h.logger.WithError(errors.ErrInvalidInput.WithContext("field", "kind").WithContext("value", kind)).
			Warn("Invalid history kind filter")
		http.Error(w, "Invalid kind", http.StatusBadRequest)
		return
	}

	entries, err := h.history.List(h.userID, kind)
	if err != nil {
		h.fail(w, err, "Failed to list history")
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	h.respond(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// DeleteHistory removes one history entry.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.history.Delete(h.userID, id); err != nil {
		h.fail(w, err, "Failed to delete history entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportM3U enriches the playable lines of an uploaded m3u document
// into a summary. Lines are matched against the library; unmatched
// lines are enriched from external sources alone and reported back.
func (h *Handler) ImportM3U(w http.ResponseWriter, r *http.Request) {
	lines, err := m3u.ReadLines(http.MaxBytesReader(w, r.Body, MaxRequestBody))
	if err != nil {
		h.logger.WithError(err).Warn("Unreadable m3u upload")
		http.Error(w, "Invalid m3u content", http.StatusBadRequest)
		return
	}

	items := make([]models.LibraryItem, 0, len(lines))
	var missing []string
	for _, line := range lines {
		var artist, title string
		if strings.ContainsAny(line, "/\\") {
			artist, title = m3u.InferFromPath(line)
		} else {
			artist, title = m3u.ParseTrackLine(line)
		}

		item, err := h.library.SearchTrack(r.Context(), title, artist)
		if err != nil {
			h.logger.WithError(err).WithField("line", SanitizeForLogging(line)).
				Warn("Library search failed during import")
		}
		if item != nil {
			items = append(items, *item)
			continue
		}
		missing = append(missing, artist+" - "+title)
		items = append(items, models.LibraryItem{Name: title, Artists: []string{artist}})
	}

	tracks, err := h.enricher.EnrichBatch(r.Context(), items)
	if err != nil {
		h.fail(w, err, "Failed to enrich imported tracks")
		return
	}

	h.respond(w, http.StatusOK, importResult{
		Summary: summary.Summarize(tracks),
		Tracks:  tracks,
		Missing: missing,
	})

	h.logger.WithFields(logrus.Fields{
		"lines":   len(lines),
		"matched": len(lines) - len(missing),
		"missing": len(missing),
	}).Info("Imported m3u content")
}

// ExportM3U streams a playlist as an m3u document. Known file paths are
// used as-is; tracks without one get a proposed path under the music
// library root.
func (h *Handler) ExportM3U(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	name, err := h.playlistName(r.Context(), id)
	if err != nil {
		h.fail(w, err, "Failed to resolve playlist")
		return
	}
	if name == "" {
		http.Error(w, "Playlist not found", http.StatusNotFound)
		return
	}

	items, err := h.library.PlaylistTracks(r.Context(), id)
	if err != nil {
		h.fail(w, err, "Failed to load playlist tracks")
		return
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		if item.Path != "" {
			lines = append(lines, item.Path)
			continue
		}
		lines = append(lines, m3u.ProposedPath(h.musicRoot, item.PrimaryArtist(), item.Album, item.Name))
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".m3u"))
	if err := m3u.Write(w, lines); err != nil {
		h.logger.WithError(err).Error("Failed to write m3u export")
	}
}

// playlistName resolves a playlist ID to its display name, "" when the
// ID is unknown.
func (h *Handler) playlistName(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.ErrMissingParameter.WithContext("parameter", "playlist_id")
	}
	playlists, err := h.library.Playlists(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range playlists {
		if p.ID == id {
			return p.Name, nil
		}
	}
	return "", nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		encodeErr := errors.Wrap(err, errors.CategoryServer, "RESPONSE_ENCODING_FAILED", "failed to encode response")
		h.logger.WithError(encodeErr).Error("Failed to encode response")
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error, message string) {
	h.logger.WithError(err).Error(message)
	http.Error(w, message, statusFor(err))
}

// statusFor maps error categories onto HTTP statuses: caller mistakes
// are 4xx, upstream trouble is 502, everything else 500.
func statusFor(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryDatabase):
		if errors.GetErrorCode(err) == "ENTRY_NOT_FOUND" {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	case errors.IsCategory(err, errors.CategorySource),
		errors.IsCategory(err, errors.CategoryNetwork),
		errors.IsCategory(err, errors.CategoryParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
