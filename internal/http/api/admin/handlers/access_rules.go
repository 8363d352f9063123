package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/models"
	"github.com/guardrailhq/guardrail/internal/ratelimit"
)

// AccessRuleHandler manages whitelist and blocklist entries. Rows are the
// source of truth; the engine's store is updated alongside each write so
// rules take effect immediately.
type AccessRuleHandler struct {
	db     *gorm.DB
	engine *ratelimit.Engine
}

// NewAccessRuleHandler constructs an AccessRuleHandler.
func NewAccessRuleHandler(db *gorm.DB, engine *ratelimit.Engine) *AccessRuleHandler {
	return &AccessRuleHandler{db: db, engine: engine}
}

// createAccessRuleRequest defines the request body for rule creation.
type createAccessRuleRequest struct {
	Kind   string `json:"kind"`
	Value  string `json:"value"`
	Action string `json:"action"`
	Note   string `json:"note"`
}

// Create persists an access rule and applies it to the engine.
func (h *AccessRuleHandler) Create(c *gin.Context) {
	var body createAccessRuleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	subject, errSubject := ratelimit.NewSubject(ratelimit.SubjectKind(strings.TrimSpace(body.Kind)), body.Value)
	if errSubject != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errSubject.Error()})
		return
	}
	action := strings.TrimSpace(body.Action)
	if action != models.AccessRuleAllow && action != models.AccessRuleBlock {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be allow or block"})
		return
	}

	now := time.Now().UTC()
	rule := models.AccessRule{
		Kind:      string(subject.Kind),
		Value:     subject.Value,
		Action:    action,
		Note:      strings.TrimSpace(body.Note),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&rule).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "rule already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create rule failed"})
		return
	}

	if errApply := h.engine.AddAccessRule(c.Request.Context(), action, subject); errApply != nil {
		// The row is saved; the rule will be re-applied at startup.
		c.JSON(http.StatusCreated, gin.H{
			"id":      rule.ID,
			"warning": "rule saved but not applied to the live store",
		})
		return
	}
	c.JSON(http.StatusCreated, accessRuleBody(rule))
}

// List returns access rules, optionally filtered by kind, action, or value.
func (h *AccessRuleHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.AccessRule{})
	if kind := strings.TrimSpace(c.Query("kind")); kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if action := strings.TrimSpace(c.Query("action")); action != "" {
		q = q.Where("action = ?", action)
	}
	if value := strings.TrimSpace(c.Query("value")); value != "" {
		q = q.Where("value = ?", value)
	}

	var rows []models.AccessRule
	if errFind := q.Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list rules failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, accessRuleBody(row))
	}
	c.JSON(http.StatusOK, gin.H{"access_rules": out})
}

// Delete removes an access rule and lifts it from the engine.
func (h *AccessRuleHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var rule models.AccessRule
	if errFind := h.db.WithContext(c.Request.Context()).First(&rule, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if errDelete := h.db.WithContext(c.Request.Context()).Delete(&models.AccessRule{}, id).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}

	subject := ratelimit.Subject{Kind: ratelimit.SubjectKind(rule.Kind), Value: rule.Value}
	if errRemove := h.engine.RemoveAccessRule(c.Request.Context(), rule.Action, subject); errRemove != nil {
		c.JSON(http.StatusOK, gin.H{"warning": "rule deleted but still present in the live store"})
		return
	}
	c.Status(http.StatusNoContent)
}

// accessRuleBody serializes an access rule row.
func accessRuleBody(rule models.AccessRule) gin.H {
	return gin.H{
		"id":         rule.ID,
		"kind":       rule.Kind,
		"value":      rule.Value,
		"action":     rule.Action,
		"note":       rule.Note,
		"created_at": rule.CreatedAt,
	}
}
