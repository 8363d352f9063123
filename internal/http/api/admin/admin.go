package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/config"
	handlers "github.com/guardrailhq/guardrail/internal/http/api/admin/handlers"
	"github.com/guardrailhq/guardrail/internal/models"
	"github.com/guardrailhq/guardrail/internal/overrides"
	"github.com/guardrailhq/guardrail/internal/ratelimit"
	"github.com/guardrailhq/guardrail/internal/security"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, engine *ratelimit.Engine, cache *overrides.Cache) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db, engine)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	var invalidate func()
	if cache != nil {
		invalidate = cache.Invalidate
	}
	endpointLimitHandler := handlers.NewEndpointLimitHandler(db, invalidate)
	authed.POST("/endpoint-limits", endpointLimitHandler.Create)
	authed.GET("/endpoint-limits", endpointLimitHandler.List)
	authed.GET("/endpoint-limits/:id", endpointLimitHandler.Get)
	authed.PUT("/endpoint-limits/:id", endpointLimitHandler.Update)
	authed.DELETE("/endpoint-limits/:id", endpointLimitHandler.Delete)
	authed.POST("/endpoint-limits/:id/enable", endpointLimitHandler.Enable)
	authed.POST("/endpoint-limits/:id/disable", endpointLimitHandler.Disable)

	accessRuleHandler := handlers.NewAccessRuleHandler(db, engine)
	authed.POST("/access-rules", accessRuleHandler.Create)
	authed.GET("/access-rules", accessRuleHandler.List)
	authed.DELETE("/access-rules/:id", accessRuleHandler.Delete)

	eventHandler := handlers.NewSecurityEventHandler(db)
	authed.GET("/events", eventHandler.List)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Set("adminIsSuperAdmin", admin.IsSuperAdmin)
		c.Next()
	}
}
