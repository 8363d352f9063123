package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/ratelimit"
)

// HealthHandler reports service health.
type HealthHandler struct {
	db     *gorm.DB
	engine *ratelimit.Engine
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB, engine *ratelimit.Engine) *HealthHandler {
	return &HealthHandler{db: db, engine: engine}
}

// Healthz checks the database and the decision store. Degraded components
// turn the response into 503 so balancers can rotate the instance out.
func (h *HealthHandler) Healthz(c *gin.Context) {
	status := gin.H{"status": "ok", "database": "ok", "store": "ok"}
	healthy := true

	if h.db != nil {
		sqlDB, errDB := h.db.DB()
		if errDB != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status["database"] = "unavailable"
			healthy = false
		}
	}
	if h.engine != nil {
		if errPing := h.engine.PingStore(c.Request.Context()); errPing != nil {
			status["store"] = "unavailable"
			healthy = false
		}
	}

	if !healthy {
		status["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}
