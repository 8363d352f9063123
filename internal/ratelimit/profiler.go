package ratelimit

import (
	"math"
	"time"

	"github.com/guardrailhq/guardrail/internal/settings"
	"github.com/guardrailhq/guardrail/internal/store"
)

// Pattern classification bounds on the interval coefficient of variation.
const (
	consistentCVBound = 0.5
	moderateCVBound   = 1.5
)

// recentIntervalSpan is how many trailing intervals feed the anomaly score.
const recentIntervalSpan = 10

// NeutralProfile is returned for subjects without enough history.
func NeutralProfile(now time.Time) Profile {
	return Profile{
		Pattern:      PatternUnknown,
		AnomalyScore: 0.5,
		TrustScore:   settings.NeutralTrustScore,
		LastUpdated:  now,
	}
}

// BuildProfile derives a behavior profile from a subject's request history.
// Entries carry unix-millisecond scores in ascending order.
func BuildProfile(history []store.Entry, now time.Time) Profile {
	profile := NeutralProfile(now)
	profile.Samples = len(history)
	if len(history) < settings.HistoryMinSamples {
		return profile
	}

	intervals := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		delta := history[i].Score - history[i-1].Score
		if delta < 0 {
			delta = 0
		}
		intervals = append(intervals, delta)
	}

	mean := meanOf(intervals)
	stddev := math.Sqrt(varianceOf(intervals, mean))
	cv := 0.0
	if mean > 0 {
		cv = stddev / mean
	}

	profile.AvgIntervalMs = mean
	profile.IntervalCV = cv
	// A zero mean interval means indistinguishable timestamps, not a
	// consistent cadence.
	if mean > 0 {
		profile.Pattern = classifyPattern(cv)
	}
	profile.AnomalyScore = anomalyScore(intervals, mean)
	profile.TrustScore = trustScore(len(history), profile.Pattern, profile.AnomalyScore)
	return profile
}

// classifyPattern buckets interval variability into a coarse category.
func classifyPattern(cv float64) string {
	switch {
	case cv < consistentCVBound:
		return PatternConsistent
	case cv < moderateCVBound:
		return PatternModerate
	default:
		return PatternIrregular
	}
}

// anomalyScore measures how much the recent request rate outpaces the
// subject's own baseline. 0 means at or below baseline, 1 means a heavy
// speed-up.
func anomalyScore(intervals []float64, baseline float64) float64 {
	if len(intervals) == 0 {
		return 0
	}
	recent := intervals
	if len(recent) > recentIntervalSpan {
		recent = recent[len(recent)-recentIntervalSpan:]
	}
	recentMean := meanOf(recent)
	if baseline <= 0 {
		return 0
	}
	if recentMean <= 0 {
		return 1
	}
	speedup := baseline / recentMean
	return clamp01((speedup - 1) / 4)
}

// trustScore rewards long, consistent, low-anomaly histories.
func trustScore(samples int, pattern string, anomaly float64) float64 {
	score := settings.NeutralTrustScore
	historyBonus := float64(samples) / 400
	if historyBonus > 0.25 {
		historyBonus = 0.25
	}
	score += historyBonus
	switch pattern {
	case PatternConsistent:
		score += 0.15
	case PatternModerate:
		score += 0.05
	case PatternIrregular:
		score -= 0.1
	}
	score -= 0.4 * anomaly
	return clamp01(score)
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func varianceOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
