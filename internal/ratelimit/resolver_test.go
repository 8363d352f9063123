package ratelimit

import (
	"testing"
	"time"

	"github.com/guardrailhq/guardrail/internal/config"
)

func resolverConfig() config.Config {
	return config.Config{
		DefaultLimit: config.LimitConfig{Requests: 100, WindowSeconds: 60, Burst: 20},
		EndpointLimits: map[string]config.LimitConfig{
			"/v1/search": {Requests: 30, WindowSeconds: 60, Burst: 10},
		},
		Trust:   config.TrustMultipliers{High: 2.0, Elevated: 1.5, Normal: 1.0, Reduced: 0.7, Low: 0.3},
		GeoRisk: map[string]config.GeoRiskProfile{"CN": {RiskLevel: "high", Multiplier: 0.5}},
		DeviceRisk: map[string]float64{
			"high": 0.5,
			"low":  1.2,
		},
	}
}

func TestTrustMultiplier_Bands(t *testing.T) {
	resolver := NewResolver(resolverConfig(), nil)
	cases := []struct {
		score float64
		want  float64
	}{
		{0.95, 2.0},
		{0.9, 2.0},
		{0.75, 1.5},
		{0.5, 1.0},
		{0.35, 0.7},
		{0.1, 0.3},
	}
	for _, tc := range cases {
		if got := resolver.TrustMultiplier(tc.score); got != tc.want {
			t.Fatalf("TrustMultiplier(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestTrustMultiplier_Monotone(t *testing.T) {
	resolver := NewResolver(resolverConfig(), nil)
	prev := 0.0
	for score := 0.0; score <= 1.0; score += 0.05 {
		got := resolver.TrustMultiplier(score)
		if got < prev {
			t.Fatalf("multiplier decreased at score %v: %v < %v", score, got, prev)
		}
		prev = got
	}
}

func TestResolve_NeutralProfileKeepsBaseLimit(t *testing.T) {
	resolver := NewResolver(resolverConfig(), nil)
	limit := resolver.Resolve("/v1/data", NeutralProfile(time.Now()), RequestContext{})

	if limit.Requests != 100 {
		t.Fatalf("requests = %d, want 100", limit.Requests)
	}
	if limit.Window != time.Minute {
		t.Fatalf("window = %v, want 1m", limit.Window)
	}
	if limit.Multiplier != 1.0 {
		t.Fatalf("multiplier = %v, want 1.0", limit.Multiplier)
	}
}

func TestResolve_EndpointLimitApplies(t *testing.T) {
	resolver := NewResolver(resolverConfig(), nil)
	limit := resolver.Resolve("/v1/search", NeutralProfile(time.Now()), RequestContext{})
	if limit.Requests != 30 {
		t.Fatalf("requests = %d, want endpoint limit 30", limit.Requests)
	}
}

func TestResolve_OverrideWinsOverConfig(t *testing.T) {
	override := func(endpoint string) (config.LimitConfig, bool) {
		if endpoint == "/v1/search" {
			return config.LimitConfig{Requests: 7, WindowSeconds: 30, Burst: 2}, true
		}
		return config.LimitConfig{}, false
	}
	resolver := NewResolver(resolverConfig(), override)
	limit := resolver.Resolve("/v1/search", NeutralProfile(time.Now()), RequestContext{})
	if limit.Requests != 7 {
		t.Fatalf("requests = %d, want override 7", limit.Requests)
	}
	if limit.Window != 30*time.Second {
		t.Fatalf("window = %v, want override 30s", limit.Window)
	}
}

func TestResolve_HighTrustRaisesBudget(t *testing.T) {
	resolver := NewResolver(resolverConfig(), nil)
	profile := Profile{TrustScore: 0.95, Pattern: PatternConsistent}
	limit := resolver.Resolve("/v1/data", profile, RequestContext{})
	if limit.Requests <= 100 {
		t.Fatalf("requests = %d, want above base for high trust", limit.Requests)
	}
}

func TestResolve_GeoMultipliers(t *testing.T) {
	resolver := NewResolver(resolverConfig(), nil)
	neutral := NeutralProfile(time.Now())

	known := resolver.Resolve("/v1/data", neutral, RequestContext{Country: "CN"})
	if known.Multiplier != 0.5 {
		t.Fatalf("known country multiplier = %v, want 0.5", known.Multiplier)
	}
	unknown := resolver.Resolve("/v1/data", neutral, RequestContext{Country: "ZZ"})
	if unknown.Multiplier != 0.8 {
		t.Fatalf("unknown country multiplier = %v, want 0.8", unknown.Multiplier)
	}
	absent := resolver.Resolve("/v1/data", neutral, RequestContext{})
	if absent.Multiplier != 1.0 {
		t.Fatalf("absent country multiplier = %v, want 1.0", absent.Multiplier)
	}
}

func TestResolve_MultiplierClampedToFloor(t *testing.T) {
	resolver := NewResolver(resolverConfig(), nil)
	profile := Profile{TrustScore: 0.1, AnomalyScore: 0.9, Pattern: PatternIrregular}
	limit := resolver.Resolve("/v1/data", profile, RequestContext{Country: "ZZ", DeviceRisk: "high"})

	if limit.Multiplier != 0.1 {
		t.Fatalf("multiplier = %v, want floor 0.1", limit.Multiplier)
	}
	if limit.Requests != 10 {
		t.Fatalf("requests = %d, want 10", limit.Requests)
	}
}

func TestResolve_NonzeroBudgetStaysPositive(t *testing.T) {
	cfg := resolverConfig()
	cfg.DefaultLimit = config.LimitConfig{Requests: 1, WindowSeconds: 60, Burst: 1}
	resolver := NewResolver(cfg, nil)
	profile := Profile{TrustScore: 0.1, AnomalyScore: 0.9, Pattern: PatternIrregular}
	limit := resolver.Resolve("/v1/data", profile, RequestContext{Country: "ZZ", DeviceRisk: "high"})

	if limit.Requests != 1 {
		t.Fatalf("requests = %d, want floor of 1", limit.Requests)
	}
}
