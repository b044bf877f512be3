// Package mood turns tag, audio-feature and lyric signals into a
// weighted per-mood score vector and picks the top mood with a
// confidence value.
package mood

import (
	"regexp"
	"strings"

	"github.com/syeo66/playlistscope/models"
	"github.com/syeo66/playlistscope/settings"
)

// Vocabulary is the fixed set of moods the scorer can assign. The order
// is significant: ties are broken by it.
var Vocabulary = []string{
	"happy",
	"sad",
	"chill",
	"intense",
	"romantic",
	"dark",
	"uplifting",
	"nostalgic",
	"party",
}

// keywords maps each mood to the tag fragments that signal it. The
// "party" keywords only count on an exact tag match, everything else
// matches as a substring.
var keywords = map[string][]string{
	"happy":     {"happy", "fun", "cheerful", "feel good", "sunny"},
	"sad":       {"sad", "melancholy", "emotional", "heartbreak", "blue"},
	"chill":     {"chill", "relaxing", "calm", "downtempo", "smooth"},
	"intense":   {"aggressive", "intense", "dark", "heavy", "angry", "epic"},
	"romantic":  {"romantic", "love", "sensual"},
	"dark":      {"dark", "gothic", "ominous"},
	"uplifting": {"uplifting", "inspiring", "empowering", "anthem"},
	"nostalgic": {"nostalgic", "retro", "vintage"},
	"party":     {"party", "club", "dance"},
}

// lyricsMapping folds the lyric analyzer's output words onto the
// vocabulary.
var lyricsMapping = map[string]string{
	"happy":      "happy",
	"sad":        "sad",
	"melancholy": "sad",
	"chill":      "chill",
	"relaxing":   "chill",
	"calm":       "chill",
	"angry":      "intense",
	"aggressive": "intense",
	"romantic":   "romantic",
	"dark":       "dark",
	"uplifting":  "uplifting",
	"nostalgic":  "nostalgic",
	"party":      "party",
	"hopeful":    "uplifting",
}

var tagCleaner = regexp.MustCompile(`[^a-z0-9\s\-]`)

// NewVector returns a zero score for every vocabulary mood.
func NewVector() models.MoodVector {
	v := make(models.MoodVector, len(Vocabulary))
	for _, mood := range Vocabulary {
		v[mood] = 0
	}
	return v
}

// ScoresFromTags credits each tag to the first vocabulary mood whose
// keywords match it. One tag contributes to at most one mood.
func ScoresFromTags(tagList []string) models.MoodVector {
	scores := NewVector()
	for _, tag := range tagList {
		cleaned := tagCleaner.ReplaceAllString(strings.TrimSpace(strings.ToLower(tag)), "")

		for _, mood := range Vocabulary {
			matched := false
			for _, keyword := range keywords[mood] {
				if mood == "party" {
					if cleaned == keyword {
						matched = true
					}
				} else if strings.Contains(cleaned, keyword) {
					matched = true
				}
				if matched {
					scores[mood] += 1.0
					break
				}
			}
			if matched {
				break
			}
		}
	}
	return scores
}

// ScoresFromBPMData infers mood scores from the BPM provider's audio
// features. Strong rule matches add 1.0, weaker fallback signals 0.5.
func ScoresFromBPMData(d *models.BPMData) models.MoodVector {
	scores := NewVector()
	if d == nil {
		return scores
	}

	bpm := 0
	if d.Tempo != nil {
		bpm = *d.Tempo
	}
	dance := 0
	if d.Danceability != nil {
		dance = *d.Danceability
	}
	acoustic := 0
	if d.Acousticness != nil {
		acoustic = *d.Acousticness
	}
	key := strings.ToLower(d.Key)
	minor := strings.Contains(key, "m")

	if bpm >= 110 && bpm <= 140 && dance > 65 && acoustic < 40 {
		scores["party"] += 1.0
	}
	if bpm > 0 && bpm < 95 && acoustic > 50 && dance < 55 {
		scores["chill"] += 1.0
	}
	if bpm > 125 && acoustic < 30 && dance > 55 {
		scores["intense"] += 1.0
	}
	if bpm > 0 && bpm < 95 && acoustic > 55 && !minor {
		scores["romantic"] += 1.0
	}
	if bpm > 95 && !minor && acoustic < 50 && dance > 55 {
		scores["uplifting"] += 1.0
	}
	if d.Year != nil && *d.Year < 2005 && acoustic > 45 && bpm > 0 && bpm < 105 {
		scores["nostalgic"] += 1.0
	}
	if bpm > 0 && bpm < 115 && minor && acoustic < 40 {
		scores["dark"] += 1.0
	}
	if bpm > 105 && !minor && dance > 55 {
		scores["happy"] += 1.0
	}
	if bpm > 0 && bpm < 90 && minor && dance < 55 {
		scores["sad"] += 1.0
	}

	if bpm > 0 {
		if bpm > 130 {
			scores["intense"] += 0.5
		}
		if bpm > 110 {
			scores["happy"] += 0.5
		}
		if bpm >= 90 && bpm <= 110 {
			scores["uplifting"] += 0.5
		}
		if bpm < 90 {
			scores["chill"] += 0.5
		}
		if bpm < 80 {
			scores["sad"] += 0.5
		}
	}

	if acoustic > 60 {
		scores["chill"] += 0.5
		scores["romantic"] += 0.5
	} else if acoustic < 20 {
		scores["intense"] += 0.5
	}

	if dance > 70 {
		scores["party"] += 0.5
		scores["happy"] += 0.5
	} else if dance < 30 {
		scores["sad"] += 0.5
		scores["chill"] += 0.5
	}

	return scores
}

// ScoresFromLyrics maps the lyric analyzer's one-word mood onto the
// vocabulary. Unmappable words yield an all-zero vector.
func ScoresFromLyrics(analysis string) models.MoodVector {
	scores := NewVector()
	mapped, ok := lyricsMapping[strings.ToLower(strings.TrimSpace(analysis))]
	if ok {
		scores[mapped] = 1.0
	}
	return scores
}

// Combine merges the three signal vectors under the live weights and the
// per-mood priors. A nil lyricsScores omits the lyrics term entirely, so
// missing lyrics never penalize the other signals.
func Combine(tagScores, bpmScores, lyricsScores models.MoodVector, w settings.Weights, priors map[string]float64) models.MoodVector {
	combined := make(models.MoodVector, len(Vocabulary))
	for _, mood := range Vocabulary {
		score := w.Tags*tagScores[mood] + w.BPM*bpmScores[mood]
		if lyricsScores != nil {
			score += w.Lyrics * lyricsScores[mood]
		}
		prior, ok := priors[mood]
		if !ok {
			prior = 1.0
		}
		combined[mood] = score * prior
	}
	return combined
}

// Top selects the highest-scoring mood in vocabulary order and its
// confidence, the top score's share of the vector total. An empty or
// all-zero vector yields no mood and zero confidence.
func Top(scores models.MoodVector) (string, float64) {
	total := 0.0
	best := ""
	bestScore := 0.0
	for _, mood := range Vocabulary {
		s := scores[mood]
		if s < 0 {
			continue
		}
		total += s
		if s > bestScore {
			best = mood
			bestScore = s
		}
	}
	if total == 0 || best == "" {
		return "", 0
	}
	return best, bestScore / total
}
