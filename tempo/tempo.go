// Package tempo provides BPM banding and a rough genre-based estimate
// for tracks without any measured tempo.
package tempo

import (
	"strings"
)

// Band labels used by the tempo distribution.
const (
	BandSlow   = "<90 BPM"
	BandMedium = "90–120 BPM"
	BandFast   = ">120 BPM"
)

// Band returns the BPM range label for a tempo.
func Band(bpm int) string {
	switch {
	case bpm < 90:
		return BandSlow
	case bpm <= 120:
		return BandMedium
	default:
		return BandFast
	}
}

// Estimate guesses a BPM from genre and duration. It is a display
// fallback only and never overrides measured tempo data.
func Estimate(durationSec int, genre string) int {
	g := strings.ToLower(genre)
	switch {
	case strings.Contains(g, "electronic") || strings.Contains(g, "edm"):
		if durationSec < 300 {
			return 140
		}
		return 120
	case strings.Contains(g, "rock"):
		return 120
	case strings.Contains(g, "hip hop"):
		return 90
	case strings.Contains(g, "ambient"):
		return 70
	default:
		return 100
	}
}
