package check

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guardrailhq/guardrail/internal/ratelimit"
)

// Handler serves the public decision endpoint.
type Handler struct {
	engine *ratelimit.Engine
}

// NewHandler constructs a Handler.
func NewHandler(engine *ratelimit.Engine) *Handler {
	return &Handler{engine: engine}
}

// checkRequest defines the request body for a rate limit check.
type checkRequest struct {
	SubjectKind  string `json:"subject_kind"`
	SubjectValue string `json:"subject_value"`
	Endpoint     string `json:"endpoint"`
	Context      struct {
		Country    string `json:"country"`
		DeviceRisk string `json:"device_risk"`
		UserAgent  string `json:"user_agent"`
	} `json:"context"`
}

// Check evaluates one request against the engine and reports the decision.
// The decision endpoint itself always answers 200; callers act on the body.
func (h *Handler) Check(c *gin.Context) {
	var body checkRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	subject, errSubject := ratelimit.NewSubject(ratelimit.SubjectKind(body.SubjectKind), body.SubjectValue)
	if errSubject != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errSubject.Error()})
		return
	}

	decision, errCheck := h.engine.Check(c.Request.Context(), ratelimit.CheckRequest{
		Subject:  subject,
		Endpoint: body.Endpoint,
		Context: ratelimit.RequestContext{
			Country:    body.Context.Country,
			DeviceRisk: body.Context.DeviceRisk,
			UserAgent:  body.Context.UserAgent,
		},
	})
	if errCheck != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCheck.Error()})
		return
	}

	setRateLimitHeaders(c, decision)
	c.JSON(http.StatusOK, decisionBody(decision))
}

// Enforce returns middleware that applies the engine to incoming traffic
// and rejects over-limit requests with 429. API-key callers are limited by
// key, everyone else by client IP.
func Enforce(engine *ratelimit.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := ratelimit.Subject{Kind: ratelimit.SubjectIP, Value: c.ClientIP()}
		apiKey := c.GetHeader("X-API-Key")
		if apiKey != "" {
			subject = ratelimit.Subject{Kind: ratelimit.SubjectAPIKey, Value: apiKey}
		}

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		decision, errCheck := engine.Check(c.Request.Context(), ratelimit.CheckRequest{
			Subject:  subject,
			Endpoint: endpoint,
			Context: ratelimit.RequestContext{
				Country:   c.GetHeader("CF-IPCountry"),
				UserAgent: c.Request.UserAgent(),
			},
		})
		if errCheck != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errCheck.Error()})
			return
		}

		setRateLimitHeaders(c, decision)
		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "rate limit exceeded",
				"reason": string(decision.Reason),
			})
			return
		}
		c.Next()
	}
}

// setRateLimitHeaders writes the conventional rate limit response headers.
func setRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if !decision.Allowed && decision.RetryAfter > 0 {
		seconds := int64(decision.RetryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	}
}

// decisionBody serializes a Decision for the public API.
func decisionBody(decision ratelimit.Decision) gin.H {
	body := gin.H{
		"allowed":          decision.Allowed,
		"reason":           string(decision.Reason),
		"limit":            decision.Limit,
		"remaining":        decision.Remaining,
		"current_requests": decision.CurrentRequests,
		"trust_score":      decision.TrustScore,
	}
	if !decision.ResetAt.IsZero() {
		body["reset_at"] = decision.ResetAt.UTC()
	}
	if !decision.Allowed {
		body["retry_after_seconds"] = int64(decision.RetryAfter / time.Second)
	}
	return body
}
