// Package popularity maps raw play and listener counts into bounded
// 0-100 scores. All functions are pure; normalization bounds and blend
// weights are passed in by the caller on every call.
package popularity

import (
	"math"
)

// Normalize scales a value linearly into [0,100] over [min,max]. A
// degenerate range is not an error: a uniform non-zero cohort scores 100,
// an all-zero cohort scores 0.
func Normalize(value, min, max float64) float64 {
	if min == max {
		if min == 0 {
			return 0
		}
		return 100
	}
	return clamp(100 * (value - min) / (max - min))
}

// NormalizeLog scales heavy-tailed counts into [0,100] on a log10 scale.
// Non-positive bounds make the transform undefined and score 0. A
// degenerate positive range scores 100. Values at or below zero are
// floored to min before the log.
func NormalizeLog(value, min, max float64) float64 {
	if min <= 0 || max <= 0 {
		return 0
	}
	if min == max {
		return 100
	}
	if value <= 0 {
		value = min
	}
	score := 100 * (math.Log10(value) - math.Log10(min)) / (math.Log10(max) - math.Log10(min))
	return clamp(score)
}

// Combine blends the two already-normalized popularity sides. When one
// side is missing or zero the other side alone is the score; when both
// carry a value the result is their weighted average. Nil means neither
// source produced a value.
func Combine(listeners, library *float64, wListeners, wLibrary float64) *float64 {
	switch {
	case (library == nil || *library == 0) && listeners != nil:
		return round2(*listeners)
	case (listeners == nil || *listeners == 0) && library != nil:
		return round2(*library)
	case listeners != nil && library != nil:
		return round2((*listeners*wListeners + *library*wLibrary) / (wListeners + wLibrary))
	default:
		return nil
	}
}

// Describe returns a prompt-friendly label for a combined score.
func Describe(score float64) string {
	switch {
	case score >= 90:
		return "Global smash hit"
	case score >= 70:
		return "Mainstream favorite"
	case score >= 50:
		return "Moderately mainstream"
	case score >= 30:
		return "Niche appeal"
	default:
		return "Obscure or local"
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return math.Round(score*100) / 100
}

func round2(v float64) *float64 {
	r := math.Round(v*100) / 100
	return &r
}
