// Package genre canonicalizes the free-form genre labels coming from
// library metadata and listener-stats tags.
package genre

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// synonyms maps common variants to their canonical label. Keys and
// values are lower case.
var synonyms = map[string]string{
	// Hip Hop & R&B
	"hip-hop":          "hip hop",
	"rap":              "hip hop",
	"trap":             "hip hop",
	"rnb":              "r&b",
	"rhythm and blues": "r&b",
	// Rock
	"alt rock":         "alternative",
	"alternative rock": "alternative",
	"classic rock":     "rock",
	"hard rock":        "rock",
	"indie rock":       "indie",
	"indie pop":        "indie",
	"garage rock":      "rock",
	"post-punk":        "punk",
	// EDM/Electronic
	"electronica": "edm",
	"electronic":  "edm",
	"dance":       "edm",
	"house":       "edm",
	"techno":      "edm",
	"trance":      "edm",
	"dnb":         "drum and bass",
	"drum & bass": "drum and bass",
	"breakbeats":  "breakbeat",
	"dub":         "dubstep",
	// Culture tags
	"britpop":       "pop",
	"lofi":          "lo-fi",
	"lo-fi hip hop": "lo-fi",
	// Other
	"soundtrack":          "ost",
	"original soundtrack": "ost",
	"musicals":            "musical",
	"broadway":            "musical",
	"latin pop":           "latin",
	"salsa":               "latin",
	"kpop":                "k-pop",
	"jpop":                "j-pop",
	"afrobeats":           "afrobeat",
	"synth pop":           "synthpop",
	"ambient music":       "ambient",
}

// known is the set of genre labels we accept as real genres. Tags that
// normalize to anything else are treated as mood or culture noise.
var known = map[string]bool{
	"rock":          true,
	"pop":           true,
	"hip hop":       true,
	"rap":           true,
	"r&b":           true,
	"jazz":          true,
	"blues":         true,
	"metal":         true,
	"punk":          true,
	"edm":           true,
	"electronic":    true,
	"folk":          true,
	"classical":     true,
	"indie":         true,
	"alternative":   true,
	"reggae":        true,
	"country":       true,
	"techno":        true,
	"trance":        true,
	"house":         true,
	"ambient":       true,
	"soul":          true,
	"funk":          true,
	"grunge":        true,
	"ska":           true,
	"emo":           true,
	"drum and bass": true,
	"breakbeat":     true,
	"dubstep":       true,
	"trap":          true,
	"lo-fi":         true,
	"garage":        true,
	"k-pop":         true,
	"j-pop":         true,
	"afrobeat":      true,
	"new wave":      true,
	"grime":         true,
	"chillout":      true,
	"chillwave":     true,
	"synthpop":      true,
	"industrial":    true,
	"world":         true,
	"latin":         true,
	"reggaeton":     true,
	"opera":         true,
	"musical":       true,
	"post-rock":     true,
}

var titleCaser = cases.Title(language.Und)

// Clean trims and title-cases a genre for display.
func Clean(raw string) string {
	return titleCaser.String(strings.ToLower(strings.TrimSpace(raw)))
}

// Normalize lower-cases, trims and maps a raw label through the synonym
// table. Unrecognized labels pass through unchanged (lower case).
func Normalize(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := synonyms[cleaned]; ok {
		return canonical
	}
	return cleaned
}

// IsKnown reports whether the normalized label is an accepted genre.
func IsKnown(label string) bool {
	return known[strings.ToLower(label)]
}

// FirstValid returns the first entry whose normalized form is a known
// genre, or "" when none qualifies.
func FirstValid(values []string) string {
	for _, v := range values {
		normalized := Normalize(v)
		if known[normalized] {
			return normalized
		}
	}
	return ""
}

// Select picks a genre from the library's own labels first, falling back
// to listener-stats tags when the library has nothing usable.
func Select(libraryGenres, statTags []string) string {
	g := FirstValid(libraryGenres)
	if g == "" {
		g = FirstValid(statTags)
	}
	return g
}
