package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	dbutil "github.com/guardrailhq/guardrail/internal/db"
	"github.com/guardrailhq/guardrail/internal/models"
)

// EndpointLimitHandler manages per-endpoint limit overrides. invalidate is
// called after every write so the limiter picks up changes.
type EndpointLimitHandler struct {
	db         *gorm.DB
	invalidate func()
}

// NewEndpointLimitHandler constructs an EndpointLimitHandler. invalidate
// may be nil.
func NewEndpointLimitHandler(db *gorm.DB, invalidate func()) *EndpointLimitHandler {
	if invalidate == nil {
		invalidate = func() {}
	}
	return &EndpointLimitHandler{db: db, invalidate: invalidate}
}

// createEndpointLimitRequest defines the request body for override creation.
type createEndpointLimitRequest struct {
	Endpoint      string `json:"endpoint"`
	Requests      int    `json:"requests"`
	WindowSeconds int    `json:"window_seconds"`
	Burst         int    `json:"burst"`
	IsEnabled     *bool  `json:"is_enabled"`
}

// Create creates an endpoint limit override.
func (h *EndpointLimitHandler) Create(c *gin.Context) {
	var body createEndpointLimitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	endpoint := strings.TrimSpace(body.Endpoint)
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}
	if body.Requests < 0 || body.WindowSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit values"})
		return
	}

	now := time.Now().UTC()
	limit := models.EndpointLimit{
		Endpoint:      endpoint,
		Requests:      body.Requests,
		WindowSeconds: body.WindowSeconds,
		Burst:         body.Burst,
		IsEnabled:     true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if body.IsEnabled != nil {
		limit.IsEnabled = *body.IsEnabled
	}

	if errCreate := h.db.WithContext(c.Request.Context()).Create(&limit).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "endpoint already has an override"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create endpoint limit failed"})
		return
	}
	h.invalidate()
	c.JSON(http.StatusCreated, endpointLimitBody(limit))
}

// List returns endpoint limit overrides, optionally filtered by endpoint.
func (h *EndpointLimitHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.EndpointLimit{})
	if endpointQ := strings.TrimSpace(c.Query("endpoint")); endpointQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+endpointQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "endpoint"), pattern)
	}

	var rows []models.EndpointLimit
	if errFind := q.Order("endpoint ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list endpoint limits failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, endpointLimitBody(row))
	}
	c.JSON(http.StatusOK, gin.H{"endpoint_limits": out})
}

// Get returns an endpoint limit override by ID.
func (h *EndpointLimitHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var limit models.EndpointLimit
	if errFind := h.db.WithContext(c.Request.Context()).First(&limit, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, endpointLimitBody(limit))
}

// updateEndpointLimitRequest defines the request body for override updates.
type updateEndpointLimitRequest struct {
	Requests      *int  `json:"requests"`
	WindowSeconds *int  `json:"window_seconds"`
	Burst         *int  `json:"burst"`
	IsEnabled     *bool `json:"is_enabled"`
}

// Update modifies an endpoint limit override.
func (h *EndpointLimitHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updateEndpointLimitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Requests != nil && *body.Requests < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit values"})
		return
	}
	if body.WindowSeconds != nil && *body.WindowSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit values"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Requests != nil {
		updates["requests"] = *body.Requests
	}
	if body.WindowSeconds != nil {
		updates["window_seconds"] = *body.WindowSeconds
	}
	if body.Burst != nil {
		updates["burst"] = *body.Burst
	}
	if body.IsEnabled != nil {
		updates["is_enabled"] = *body.IsEnabled
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.EndpointLimit{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes an endpoint limit override.
func (h *EndpointLimitHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.EndpointLimit{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.invalidate()
	c.Status(http.StatusNoContent)
}

// Enable activates an endpoint limit override.
func (h *EndpointLimitHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable deactivates an endpoint limit override.
func (h *EndpointLimitHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *EndpointLimitHandler) setEnabled(c *gin.Context, enabled bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.EndpointLimit{}).Where("id = ?", id).
		Updates(map[string]any{"is_enabled": enabled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.invalidate()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// endpointLimitBody serializes an override row.
func endpointLimitBody(limit models.EndpointLimit) gin.H {
	return gin.H{
		"id":             limit.ID,
		"endpoint":       limit.Endpoint,
		"requests":       limit.Requests,
		"window_seconds": limit.WindowSeconds,
		"burst":          limit.Burst,
		"is_enabled":     limit.IsEnabled,
		"created_at":     limit.CreatedAt,
		"updated_at":     limit.UpdatedAt,
	}
}
