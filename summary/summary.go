// Package summary aggregates enriched tracks into playlist-level
// distribution statistics and flags tracks that diverge from the
// playlist's dominant values.
package summary

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/syeo66/playlistscope/models"
	"github.com/syeo66/playlistscope/tempo"
)

const (
	// moodConfidenceFloor marks moods too weak to trust.
	moodConfidenceFloor = 0.3
	// tempoDeviationBPM is the allowed distance from the playlist average.
	tempoDeviationBPM = 40
	// listenerShareFloor flags tracks below this share of the average
	// listener count.
	listenerShareFloor = 0.05
	// maxOutliers caps the reported outlier list.
	maxOutliers = 5
)

// Summarize builds the full summary for a track list. An empty list
// yields a zero-valued summary, never an error.
func Summarize(tracks []models.Track) models.PlaylistSummary {
	genres := make([]string, 0, len(tracks))
	moods := make([]string, 0, len(tracks))
	decades := make([]string, 0, len(tracks))

	for _, t := range tracks {
		if t.Genre != "" {
			genres = append(genres, t.Genre)
		}
		if t.Mood != nil && *t.Mood != "" {
			moods = append(moods, *t.Mood)
		}
		if t.Decade != "" {
			decades = append(decades, t.Decade)
		}
	}

	s := models.PlaylistSummary{
		TrackCount:         len(tracks),
		DominantGenre:      MostCommon(genres),
		DominantMood:       MostCommon(moods),
		GenreDistribution:  PercentDistribution(genres),
		MoodDistribution:   PercentDistribution(moods),
		DecadeDistribution: PercentDistribution(decades),
		TempoRanges:        ClassifyTempoRanges(tracks),
		AvgTempo:           AverageTempo(tracks),
		AvgDuration:        AverageDuration(tracks),
		AvgPopularity:      averagePopularity(tracks),
		AvgListeners:       averageListeners(tracks),
		GenreDiversity:     NormalizedEntropy(genres),
	}
	s.Outliers = DetectOutliers(tracks, s)
	return s
}

// MostCommon returns the most frequent value, ties broken by first
// occurrence, or "Unknown" for an empty list.
func MostCommon(values []string) string {
	if len(values) == 0 {
		return "Unknown"
	}

	counts := make(map[string]int, len(values))
	order := make([]string, 0, len(values))
	for _, v := range values {
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}

// PercentDistribution maps each value to its integer percentage share,
// formatted with a trailing "%". Raw percentages are floored and the
// remainder up to 100 is handed out one point at a time to the largest
// fractional parts (largest-remainder apportionment), ties broken by
// first occurrence. The returned percentages always sum to exactly 100.
func PercentDistribution(values []string) map[string]string {
	total := len(values)
	if total == 0 {
		return map[string]string{}
	}

	counts := make(map[string]int, len(values))
	order := make([]string, 0, len(values))
	for _, v := range values {
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	floors := make([]int, len(order))
	fractions := make([]float64, len(order))
	assigned := 0
	for i, label := range order {
		exact := float64(counts[label]*100) / float64(total)
		floor := math.Floor(exact)
		floors[i] = int(floor)
		fractions[i] = exact - floor
		assigned += int(floor)
	}

	// Hand out the missing points to the largest fractional remainders.
	indexes := make([]int, len(order))
	for i := range indexes {
		indexes[i] = i
	}
	sort.SliceStable(indexes, func(a, b int) bool {
		return fractions[indexes[a]] > fractions[indexes[b]]
	})
	for i := 0; i < 100-assigned; i++ {
		floors[indexes[i]]++
	}

	result := make(map[string]string, len(order))
	for i, label := range order {
		result[label] = strconv.Itoa(floors[i]) + "%"
	}
	return result
}

// AverageTempo returns the rounded mean tempo over tracks that have one,
// or 0 when none do.
func AverageTempo(tracks []models.Track) float64 {
	sum, count := 0, 0
	for _, t := range tracks {
		if t.Tempo != nil {
			sum += *t.Tempo
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Round(float64(sum) / float64(count))
}

// AverageDuration returns the rounded mean duration in seconds over
// tracks with a positive duration, or 0.
func AverageDuration(tracks []models.Track) float64 {
	sum, count := 0, 0
	for _, t := range tracks {
		if t.Duration > 0 {
			sum += t.Duration
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Round(float64(sum) / float64(count))
}

// NormalizedEntropy returns the Shannon entropy of the value
// distribution scaled into [0,1]. A single repeated value scores 0.
func NormalizedEntropy(values []string) float64 {
	total := len(values)
	if total == 0 {
		return 0
	}

	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}

	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}

	maxEntropy := math.Log2(float64(len(counts)))
	if maxEntropy == 0 {
		return 0
	}
	return math.Round(entropy/maxEntropy*100) / 100
}

// ClassifyTempoRanges buckets track tempos into the broad BPM bands and
// returns their percentage distribution. Tracks without tempo are left
// out.
func ClassifyTempoRanges(tracks []models.Track) map[string]string {
	bands := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if t.Tempo != nil {
			bands = append(bands, tempo.Band(*t.Tempo))
		}
	}
	return PercentDistribution(bands)
}

// averagePopularity is the mean combined popularity over tracks that
// actually have a value; tracks without one are excluded from the
// divisor.
func averagePopularity(tracks []models.Track) float64 {
	sum, count := 0.0, 0
	for _, t := range tracks {
		if t.CombinedPopularity != nil {
			sum += *t.CombinedPopularity
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// averageListeners zero-fills missing listener counts before averaging,
// so unknown tracks pull the average down.
func averageListeners(tracks []models.Track) float64 {
	if len(tracks) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range tracks {
		if t.Listeners != nil {
			sum += float64(*t.Listeners)
		}
	}
	return sum / float64(len(tracks))
}

// DetectOutliers flags tracks diverging from the playlist's dominant
// genre, dominant mood, tempo, or popularity. Genre and mood mismatches
// are skipped when the respective dominant value is "Unknown"; an
// unknown baseline cannot make other tracks outliers. The result keeps
// the tracks with the most mismatched dimensions, at most five, ties in
// original order.
func DetectOutliers(tracks []models.Track, s models.PlaylistSummary) []models.Outlier {
	outliers := make([]models.Outlier, 0)

	for _, t := range tracks {
		var reasons []string

		if t.Tempo != nil && math.Abs(float64(*t.Tempo)-s.AvgTempo) > tempoDeviationBPM {
			reasons = append(reasons, "tempo")
		}

		if t.Genre != "" && s.DominantGenre != "Unknown" && !strings.EqualFold(t.Genre, s.DominantGenre) {
			reasons = append(reasons, "genre")
		}

		moodMismatch := t.Mood == nil || t.MoodConfidence < moodConfidenceFloor
		if !moodMismatch && s.DominantMood != "Unknown" && !strings.EqualFold(*t.Mood, s.DominantMood) {
			moodMismatch = true
		}
		if moodMismatch {
			reasons = append(reasons, "mood")
		}

		listeners := 0.0
		if t.Listeners != nil {
			listeners = float64(*t.Listeners)
		}
		if listeners < s.AvgListeners*listenerShareFloor {
			reasons = append(reasons, "popularity")
		}

		if len(reasons) > 0 {
			outliers = append(outliers, models.Outlier{Title: t.Title, Reasons: reasons})
		}
	}

	sort.SliceStable(outliers, func(a, b int) bool {
		return len(outliers[a].Reasons) > len(outliers[b].Reasons)
	})
	if len(outliers) > maxOutliers {
		outliers = outliers[:maxOutliers]
	}
	return outliers
}
