package ratelimit

import (
	"strings"
	"time"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/store"
)

// Detected pattern names carried in a DDoSAssessment.
const (
	patternHighVolume      = "high_volume"
	patternLowDiversity    = "low_endpoint_diversity"
	patternMachineTiming   = "machine_timing"
	patternSuspiciousAgent = "suspicious_user_agent"
	patternBotSignature    = "bot_signature"
)

// ddosSignalCount is the number of boolean signals the detector combines.
const ddosSignalCount = 5

// ddosWindow is the trailing interval the volume signals are judged over.
const ddosWindow = 5 * time.Minute

// timingSampleSpan caps how many trailing intervals feed the timing signal.
const timingSampleSpan = 20

// minTimingSamples is the floor below which timing is not judged.
const minTimingSamples = 5

// botSignatures are user-agent substrings of known automated clients.
var botSignatures = []string{
	"bot", "crawler", "spider", "scrapy",
	"curl", "wget", "python-requests", "go-http-client", "httpclient",
}

// DDoSDetector classifies traffic as attack-like from aggregate signals.
type DDoSDetector struct {
	cfg config.DDoSConfig
}

// NewDDoSDetector constructs a DDoSDetector.
func NewDDoSDetector(cfg config.DDoSConfig) *DDoSDetector {
	return &DDoSDetector{cfg: cfg}
}

// Analyze combines five boolean signals into a suspicion score. Three or
// more signals classify the traffic as a DDoS pattern. volume is the full
// request count inside the trailing 5-minute window; history is the newest
// slice of the request log, which may be shorter than volume, and feeds the
// timing and endpoint-diversity heuristics.
func (d *DDoSDetector) Analyze(history []store.Entry, volume int64, reqCtx RequestContext, now time.Time) DDoSAssessment {
	cutoff := float64(now.Add(-ddosWindow).UnixMilli())
	recent := history
	for i, entry := range history {
		if entry.Score >= cutoff {
			recent = history[i:]
			break
		}
		if i == len(history)-1 {
			recent = nil
		}
	}

	var patterns []string

	if volume >= int64(d.cfg.RequestThreshold) {
		patterns = append(patterns, patternHighVolume)
	}

	if volume >= int64(d.cfg.RequestThreshold/2) && distinctEndpoints(recent) < d.cfg.MinEndpoints {
		patterns = append(patterns, patternLowDiversity)
	}

	if interval, ok := meanIntervalMillis(recent); ok && interval < float64(d.cfg.MinIntervalMillis) {
		patterns = append(patterns, patternMachineTiming)
	}

	agent := strings.TrimSpace(reqCtx.UserAgent)
	if agent == "" || len(agent) < 8 {
		patterns = append(patterns, patternSuspiciousAgent)
	}

	if matchesBotSignature(agent) {
		patterns = append(patterns, patternBotSignature)
	}

	score := float64(len(patterns)) / ddosSignalCount
	return DDoSAssessment{
		IsDDoS:           score >= 0.6,
		SuspicionScore:   score,
		PatternsDetected: patterns,
	}
}

// distinctEndpoints counts unique endpoints among history entries.
func distinctEndpoints(entries []store.Entry) int {
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		seen[memberEndpoint(entry.Member)] = struct{}{}
	}
	return len(seen)
}

// meanIntervalMillis averages the trailing inter-request gaps; the bool is
// false when there are too few samples to judge.
func meanIntervalMillis(entries []store.Entry) (float64, bool) {
	if len(entries) <= minTimingSamples {
		return 0, false
	}
	sample := entries
	if len(sample) > timingSampleSpan+1 {
		sample = sample[len(sample)-timingSampleSpan-1:]
	}
	total := 0.0
	for i := 1; i < len(sample); i++ {
		delta := sample[i].Score - sample[i-1].Score
		if delta < 0 {
			delta = 0
		}
		total += delta
	}
	return total / float64(len(sample)-1), true
}

// matchesBotSignature reports whether the user agent names a known bot.
func matchesBotSignature(agent string) bool {
	if agent == "" {
		return false
	}
	lower := strings.ToLower(agent)
	for _, signature := range botSignatures {
		if strings.Contains(lower, signature) {
			return true
		}
	}
	return false
}
