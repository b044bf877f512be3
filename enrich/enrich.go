// Package enrich merges partial per-track records from the library and
// the external sources into fully populated tracks. Per-track fetches
// run concurrently with failures isolated to the field they would have
// filled; combined popularity is computed in a second pass once the
// whole batch is collected, because its bounds depend on the cohort.
package enrich

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/genre"
	"github.com/syeo66/playlistscope/models"
	"github.com/syeo66/playlistscope/mood"
	"github.com/syeo66/playlistscope/popularity"
	"github.com/syeo66/playlistscope/settings"
	"github.com/syeo66/playlistscope/tags"
)

const (
	// DefaultWorkers bounds concurrent track enrichments when the
	// configured worker count is unusable.
	DefaultWorkers = 8

	ticksPerSecond = 10_000_000

	// yearTolerance is the allowed disagreement between the year
	// sources before a track is flagged.
	yearTolerance = 1
)

// ListenerStatsSource provides global listener counts and descriptive
// tags. Both return nil/empty without error for unknown tracks.
type ListenerStatsSource interface {
	ListenerCount(ctx context.Context, title, artist string) (*int, error)
	TopTags(ctx context.Context, title, artist string) ([]string, error)
}

// BPMSource provides audio features for a track, nil when unknown.
type BPMSource interface {
	TrackData(ctx context.Context, title, artist string) (*models.BPMData, error)
}

// LyricsSource provides lyric text for a track, empty when unknown.
type LyricsSource interface {
	Lyrics(ctx context.Context, title, artist string) (string, error)
}

// LyricAnalyzer condenses a lyric text into a single mood word.
type LyricAnalyzer interface {
	LyricMood(ctx context.Context, lyrics string) (string, error)
}

// Enricher runs the per-track merge and the cohort scoring pass. Every
// source is optional; a nil source simply leaves its fields unset.
type Enricher struct {
	listeners ListenerStatsSource
	bpm       BPMSource
	lyrics    LyricsSource
	analyzer  LyricAnalyzer
	settings  *settings.Store
	logger    *logrus.Logger
	workers   int
}

// New creates an enricher. workers bounds how many tracks are enriched
// concurrently.
func New(listeners ListenerStatsSource, bpm BPMSource, lyrics LyricsSource, analyzer LyricAnalyzer, prefs *settings.Store, workers int, logger *logrus.Logger) *Enricher {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Enricher{
		listeners: listeners,
		bpm:       bpm,
		lyrics:    lyrics,
		analyzer:  analyzer,
		settings:  prefs,
		logger:    logger,
		workers:   workers,
	}
}

// EnrichBatch enriches every item concurrently, waits for the whole
// batch and then fills combined popularity from the cohort bounds.
// Items without a name or artist are skipped; a cancelled context
// abandons the batch without returning partial results.
func (e *Enricher) EnrichBatch(ctx context.Context, items []models.LibraryItem) ([]models.Track, error) {
	if len(items) == 0 {
		return []models.Track{}, nil
	}

	results := make([]*models.Track, len(items))
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(e.workers))

	for i := range items {
		item := items[i]
		if strings.TrimSpace(item.Name) == "" || strings.TrimSpace(item.PrimaryArtist()) == "" {
			e.logger.WithFields(logrus.Fields{
				"id":   item.ID,
				"name": item.Name,
			}).Warn("Skipping library item without title or artist")
			continue
		}

		wg.Add(1)
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Done()
			break
		}
		go func(i int, item models.LibraryItem) {
			defer wg.Done()
			defer sem.Release(1)
			track := e.Enrich(ctx, item)
			results[i] = &track
		}(i, item)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryNetwork, "CANCELLED", "enrichment cancelled")
	}

	tracks := make([]models.Track, 0, len(items))
	for _, track := range results {
		if track != nil {
			tracks = append(tracks, *track)
		}
	}
	e.score(tracks)
	return tracks, nil
}

// Enrich merges one library item with whatever the external sources
// know about it. Source failures degrade single fields, never the
// track. CombinedPopularity stays nil here; it needs the cohort.
func (e *Enricher) Enrich(ctx context.Context, item models.LibraryItem) models.Track {
	title := strings.TrimSpace(item.Name)
	artist := strings.TrimSpace(item.PrimaryArtist())

	track := models.Track{
		ID:        item.ID,
		Title:     title,
		Artist:    artist,
		Album:     item.Album,
		PlayCount: item.PlayCount,
		InLibrary: item.ID != "",
	}

	data := e.fetch(ctx, title, artist)
	track.Listeners = data.listeners

	track.Genre = genre.Select(item.Genres, data.tags)
	if track.Genre == "" {
		track.Genre = "Unknown"
	}

	// An explicit tempo tag beats the BPM provider. Non-numeric tag
	// values were already discarded by the tag extractor.
	if value, ok := tags.NumericValue(item.Tags, "tempo"); ok {
		track.Tempo = &value
	} else if data.bpm != nil && data.bpm.Tempo != nil {
		track.Tempo = data.bpm.Tempo
	}

	if item.RunTimeTicks > 0 {
		track.Duration = int(item.RunTimeTicks / ticksPerSecond)
	} else if data.bpm != nil && data.bpm.Duration != nil {
		track.Duration = *data.bpm.Duration
	}

	libraryYear := yearFromLibrary(item)
	bpmYear := ""
	if data.bpm != nil && data.bpm.Year != nil && *data.bpm.Year > 0 {
		bpmYear = strconv.Itoa(*data.bpm.Year)
	}
	switch {
	case bpmYear != "":
		track.Year = &bpmYear
	case libraryYear != "":
		year := libraryYear
		track.Year = &year
	}
	track.YearFlag = yearsDisagree(libraryYear, bpmYear)
	track.Decade = Decade(track.Year)

	tagScores := mood.ScoresFromTags(data.tags)
	bpmScores := mood.ScoresFromBPMData(data.bpm)
	var lyricsScores models.MoodVector
	if data.lyricMood != "" {
		lyricsScores = mood.ScoresFromLyrics(data.lyricMood)
	}
	combined := mood.Combine(tagScores, bpmScores, lyricsScores, e.settings.MoodWeights(), e.settings.MoodPriors())
	if label, confidence := mood.Top(combined); label != "" {
		track.Mood = &label
		track.MoodConfidence = math.Round(confidence*100) / 100
	}

	return track
}

// fetched is one track's view of the external sources. Fields stay at
// their zero value when a source is absent, failed or knows nothing.
type fetched struct {
	listeners *int
	tags      []string
	bpm       *models.BPMData
	lyricMood string
}

// fetch queries all configured sources for one track concurrently.
// Each goroutine writes its own field, so no locking is needed.
func (e *Enricher) fetch(ctx context.Context, title, artist string) fetched {
	var result fetched
	var wg sync.WaitGroup

	if e.listeners != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := e.listeners.ListenerCount(ctx, title, artist)
			if err != nil {
				e.warn(title, artist, "listeners", err)
				return
			}
			result.listeners = count
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			tagList, err := e.listeners.TopTags(ctx, title, artist)
			if err != nil {
				e.warn(title, artist, "tags", err)
				return
			}
			result.tags = tagList
		}()
	}

	if e.bpm != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := e.bpm.TrackData(ctx, title, artist)
			if err != nil {
				e.warn(title, artist, "bpm", err)
				return
			}
			result.bpm = data
		}()
	}

	if e.lyrics != nil && e.analyzer != nil && e.settings.LyricsMoodEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := e.lyrics.Lyrics(ctx, title, artist)
			if err != nil {
				e.warn(title, artist, "lyrics", err)
				return
			}
			if text == "" {
				return
			}
			word, err := e.analyzer.LyricMood(ctx, text)
			if err != nil {
				e.warn(title, artist, "lyric mood", err)
				return
			}
			result.lyricMood = word
		}()
	}

	wg.Wait()
	return result
}

// score fills CombinedPopularity for the whole cohort. The library side
// is normalized linearly against the batch's own maximum play count,
// the listener side logarithmically against the configured global
// bounds, both read live.
func (e *Enricher) score(tracks []models.Track) {
	if len(tracks) == 0 {
		return
	}

	maxPlays := 1.0
	for i := range tracks {
		if tracks[i].PlayCount != nil && float64(*tracks[i].PlayCount) > maxPlays {
			maxPlays = float64(*tracks[i].PlayCount)
		}
	}

	minListeners, maxListeners := e.settings.ListenerBounds()
	weights := e.settings.PopularityWeights()

	for i := range tracks {
		var listenerScore, libraryScore *float64
		if tracks[i].Listeners != nil {
			score := popularity.NormalizeLog(float64(*tracks[i].Listeners), minListeners, maxListeners)
			listenerScore = &score
		}
		if tracks[i].PlayCount != nil {
			score := popularity.Normalize(float64(*tracks[i].PlayCount), 0, maxPlays)
			libraryScore = &score
		}
		tracks[i].CombinedPopularity = popularity.Combine(listenerScore, libraryScore, weights.Listeners, weights.Library)
	}
}

func (e *Enricher) warn(title, artist, source string, err error) {
	e.logger.WithFields(logrus.Fields{
		"title":  title,
		"artist": artist,
		"source": source,
		"error":  err,
	}).Warn("Enrichment source failed")
}

// Decade buckets a resolved year, "1994" style input becoming "1990s".
// A nil or malformed year is "Unknown".
func Decade(year *string) string {
	if year == nil {
		return "Unknown"
	}
	value, err := strconv.Atoi(strings.TrimSpace(*year))
	if err != nil || value <= 0 {
		return "Unknown"
	}
	return strconv.Itoa(value/10*10) + "s"
}

// yearFromLibrary resolves the library's own year claim: the production
// year when set, else the first four characters of the premiere date
// when they form a number.
func yearFromLibrary(item models.LibraryItem) string {
	if item.ProductionYear > 0 {
		return strconv.Itoa(item.ProductionYear)
	}
	if len(item.PremiereDate) >= 4 {
		year := item.PremiereDate[:4]
		if _, err := strconv.Atoi(year); err == nil {
			return year
		}
	}
	return ""
}

func yearsDisagree(libraryYear, bpmYear string) bool {
	if libraryYear == "" || bpmYear == "" {
		return false
	}
	a, errA := strconv.Atoi(libraryYear)
	b, errB := strconv.Atoi(bpmYear)
	if errA != nil || errB != nil {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff > yearTolerance
}
