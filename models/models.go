package models

import (
	"time"
)

// Track is one enriched song. Built once by the enricher and treated as
// read-only afterwards.
type Track struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album,omitempty"`
	Duration int    `json:"duration"` // seconds

	Genre string  `json:"genre"` // canonicalized, "Unknown" when absent
	Tempo *int    `json:"tempo,omitempty"`
	Mood  *string `json:"mood,omitempty"`
	// MoodConfidence is the top mood's share of the weighted mood vector,
	// always within [0,1].
	MoodConfidence float64 `json:"moodConfidence"`

	Year   *string `json:"year,omitempty"` // four digits, or nil
	Decade string  `json:"decade"`         // "1990s" style, "Unknown" when year is nil

	Listeners *int `json:"listeners,omitempty"` // raw external listener count
	PlayCount *int `json:"playCount,omitempty"` // raw library play count
	// CombinedPopularity is nil until the batch bounds are known, and nil
	// when neither popularity source produced a value. When set it is
	// within [0,100].
	CombinedPopularity *float64 `json:"combinedPopularity,omitempty"`

	YearFlag  bool `json:"yearFlag"` // year sources disagreed beyond tolerance
	InLibrary bool `json:"inLibrary"`
}

// MoodVector maps mood label to weighted score for one track.
type MoodVector map[string]float64

// Outlier names a track that diverges from the playlist's dominant values.
type Outlier struct {
	Title   string   `json:"title"`
	Reasons []string `json:"reasons"` // drawn from genre, mood, tempo, popularity
}

// PlaylistSummary is recomputed from a track list on every analysis
// request. Distributions map category label to a percentage string like
// "42%"; the values of one distribution always sum to exactly 100.
type PlaylistSummary struct {
	TrackCount         int               `json:"trackCount"`
	DominantGenre      string            `json:"dominantGenre"`
	DominantMood       string            `json:"dominantMood"`
	GenreDistribution  map[string]string `json:"genreDistribution"`
	MoodDistribution   map[string]string `json:"moodDistribution"`
	DecadeDistribution map[string]string `json:"decadeDistribution"`
	TempoRanges        map[string]string `json:"tempoRanges"`
	AvgTempo           float64           `json:"avgTempo"`
	AvgDuration        float64           `json:"avgDuration"` // seconds
	AvgPopularity      float64           `json:"avgPopularity"`
	AvgListeners       float64           `json:"avgListeners"`
	GenreDiversity     float64           `json:"genreDiversity"` // normalized entropy in [0,1]
	Outliers           []Outlier         `json:"outliers"`
}

// LibraryItem is the raw per-track record returned by the library server.
type LibraryItem struct {
	ID             string   `json:"Id"`
	Name           string   `json:"Name"`
	Artists        []string `json:"Artists"`
	AlbumArtist    string   `json:"AlbumArtist"`
	Album          string   `json:"Album"`
	Genres         []string `json:"Genres"`
	Tags           []string `json:"Tags"`
	RunTimeTicks   int64    `json:"RunTimeTicks"`
	ProductionYear int      `json:"ProductionYear"`
	PremiereDate   string   `json:"PremiereDate"`
	Path           string   `json:"Path,omitempty"`
	HasLyrics      bool     `json:"HasLyrics,omitempty"`
	PlayCount      *int     `json:"PlayCount,omitempty"`
}

// PrimaryArtist returns the first listed artist, falling back to the
// album artist.
func (i *LibraryItem) PrimaryArtist() string {
	if len(i.Artists) > 0 && i.Artists[0] != "" {
		return i.Artists[0]
	}
	return i.AlbumArtist
}

// Playlist is a library playlist reference.
type Playlist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrackCount int    `json:"trackCount"`
}

// BPMData carries the audio features reported by the BPM provider.
// Fields are nil when the provider did not report them.
type BPMData struct {
	Tempo        *int `json:"tempo,omitempty"`
	Duration     *int `json:"duration,omitempty"` // seconds
	Year         *int `json:"year,omitempty"`
	Danceability *int `json:"danceability,omitempty"`
	Acousticness *int `json:"acousticness,omitempty"`
	// Key is the musical key as reported, e.g. "Em"; minor keys carry a
	// trailing "m".
	Key string `json:"key,omitempty"`
}

// Suggestion is one parsed suggestion-engine line, optionally validated
// against the library.
type Suggestion struct {
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	Album      string `json:"album"`
	Year       string `json:"year"`
	Genre      string `json:"genre"`
	InLibrary  bool   `json:"inLibrary"`
	LibraryID  string `json:"libraryId,omitempty"`
	YoutubeURL string `json:"youtubeUrl,omitempty"` // search fallback when not in library
}

// AnalyzeResult is the payload returned by the analyze endpoint.
type AnalyzeResult struct {
	PlaylistID   string          `json:"playlistId,omitempty"`
	PlaylistName string          `json:"playlistName,omitempty"`
	Summary      PlaylistSummary `json:"summary"`
	Tracks       []Track         `json:"tracks"`
}

// HistoryEntry is one persisted analysis or suggestion run.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "analysis" or "suggestion"
	Name      string    `json:"name"`
	Payload   string    `json:"payload"` // JSON blob of the result
	CreatedAt time.Time `json:"createdAt"`
}

// IntegrationStatus is the watchdog's view of one external source.
type IntegrationStatus struct {
	Name                string     `json:"name"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	Degraded            bool       `json:"degraded"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastFailure         *time.Time `json:"lastFailure,omitempty"`
}
