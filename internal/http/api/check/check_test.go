package check

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/ratelimit"
	"github.com/guardrailhq/guardrail/internal/store"
)

func testEngine() *ratelimit.Engine {
	cfg := config.Config{
		FailOpen:     true,
		DefaultLimit: config.LimitConfig{Requests: 2, WindowSeconds: 60, Burst: 2},
		Burst:        config.BurstConfig{WindowSeconds: 10, Threshold: 20, MaxPenaltySeconds: 300},
		DDoS:         config.DDoSConfig{RequestThreshold: 1000, MinEndpoints: 3, MinIntervalMillis: 100, BlockSeconds: 900},
		Trust:        config.TrustMultipliers{High: 2.0, Elevated: 1.5, Normal: 1.0, Reduced: 0.7, Low: 0.3},
	}
	now := time.Unix(1_700_000_000, 0)
	st := store.NewMemoryStore(func() time.Time { return now })
	return ratelimit.NewEngine(cfg, st, nil, nil, func() time.Time { return now })
}

func checkRouter(engine *ratelimit.Engine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(engine)
	r.POST("/v1/check", handler.Check)
	return r
}

func doCheck(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCheck_AllowsAndSetsHeaders(t *testing.T) {
	r := checkRouter(testEngine())
	w := doCheck(t, r, `{"subject_kind":"ip","subject_value":"10.1.0.1","endpoint":"/v1/data"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Fatalf("limit header = %q, want 2", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("remaining header = %q, want 1", got)
	}
	if !strings.Contains(w.Body.String(), `"allowed":true`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestCheck_DeniesOverLimit(t *testing.T) {
	r := checkRouter(testEngine())
	body := `{"subject_kind":"ip","subject_value":"10.1.0.2","endpoint":"/v1/data"}`
	for i := 0; i < 2; i++ {
		if w := doCheck(t, r, body); w.Code != http.StatusOK {
			t.Fatalf("warmup %d status = %d", i+1, w.Code)
		}
	}

	w := doCheck(t, r, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with deny body", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"allowed":false`) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "RATE_LIMIT_EXCEEDED") {
		t.Fatalf("body = %s", w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header on denial")
	}
}

func TestCheck_RejectsInvalidSubject(t *testing.T) {
	r := checkRouter(testEngine())
	w := doCheck(t, r, `{"subject_kind":"tenant","subject_value":"x","endpoint":"/v1/data"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCheck_RejectsMalformedJSON(t *testing.T) {
	r := checkRouter(testEngine())
	w := doCheck(t, r, `{"subject_kind":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestEnforce_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Enforce(testEngine()))
	r.GET("/v1/data", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	hit := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
		req.Header.Set("X-API-Key", "key-enforce")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := hit(); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}
	w := hit()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}
