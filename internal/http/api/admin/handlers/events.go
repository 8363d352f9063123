package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/models"
)

const (
	defaultEventPageSize = 50
	maxEventPageSize     = 500
)

// SecurityEventHandler serves the audit trail.
type SecurityEventHandler struct {
	db *gorm.DB
}

// NewSecurityEventHandler constructs a SecurityEventHandler.
func NewSecurityEventHandler(db *gorm.DB) *SecurityEventHandler {
	return &SecurityEventHandler{db: db}
}

// List returns security events newest first. Filters: event, subject,
// since, until (RFC 3339), page, page_size.
func (h *SecurityEventHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.SecurityEvent{})
	if event := strings.TrimSpace(c.Query("event")); event != "" {
		q = q.Where("event = ?", event)
	}
	if subject := strings.TrimSpace(c.Query("subject")); subject != "" {
		q = q.Where("subject = ?", subject)
	}
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		ts, errParse := time.Parse(time.RFC3339, since)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		q = q.Where("created_at >= ?", ts)
	}
	if until := strings.TrimSpace(c.Query("until")); until != "" {
		ts, errParse := time.Parse(time.RFC3339, until)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until timestamp"})
			return
		}
		q = q.Where("created_at <= ?", ts)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count events failed"})
		return
	}

	page := parsePositiveInt(c.Query("page"), 1)
	pageSize := parsePositiveInt(c.Query("page_size"), defaultEventPageSize)
	if pageSize > maxEventPageSize {
		pageSize = maxEventPageSize
	}

	var rows []models.SecurityEvent
	errFind := q.Order("created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&rows).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"event":      row.Event,
			"subject":    row.Subject,
			"context":    row.Context,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"events":    out,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePositiveInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, errParse := strconv.Atoi(raw)
	if errParse != nil || n < 1 {
		return fallback
	}
	return n
}
