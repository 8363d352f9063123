package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/audit"
	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/db"
	adminapi "github.com/guardrailhq/guardrail/internal/http/api/admin"
	"github.com/guardrailhq/guardrail/internal/http/api/check"
	"github.com/guardrailhq/guardrail/internal/overrides"
	"github.com/guardrailhq/guardrail/internal/ratelimit"
	"github.com/guardrailhq/guardrail/internal/store"
)

// shutdownTimeout bounds graceful server shutdown.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(_ context.Context, appCfg config.AppConfig) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(appCfg.ConfigPath))
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the rate limit service: database, decision store, engine,
// and the HTTP surface. It blocks until ctx is cancelled.
func RunServer(ctx context.Context, appCfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSeed := EnsureAdmin(conn); errSeed != nil {
		return errSeed
	}

	decisionStore, redisStore := buildStore(cfg)
	if redisStore != nil {
		defer func() {
			if errClose := redisStore.Close(); errClose != nil {
				log.WithError(errClose).Warn("redis close failed")
			}
		}()
	}

	dbSink := audit.NewDBSink(conn)
	sink := audit.MultiSink{audit.LogSink{}, dbSink}

	cache := overrides.NewCache(conn, overrides.DefaultTTL)
	engine := ratelimit.NewEngine(cfg, decisionStore, sink, cache.Lookup, nil)

	if errRules := seedAccessRules(ctx, conn, engine); errRules != nil {
		log.WithError(errRules).Warn("access rule seeding failed; stored rules apply on next restart")
	}

	router := buildRouter(conn, cfg, engine, cache)

	if defaultPort <= 0 {
		defaultPort = 8080
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", defaultPort),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("starting guardrail on %s (config=%s)", srv.Addr, configPath)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case errServe := <-serveErr:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Error("server shutdown error")
	}
	dbSink.Close()
	return nil
}

// buildStore builds the decision store. With Redis enabled the store fails
// over to memory when Redis is unreachable; otherwise memory serves alone.
func buildStore(cfg config.Config) (store.Store, *store.RedisStore) {
	memory := store.NewMemoryStore(nil)
	if !cfg.Redis.Enabled || cfg.Redis.Addr == "" {
		return memory, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	primary := store.NewRedisStore(client, cfg.Redis.Prefix)
	return store.NewFailover(primary, memory, nil), primary
}

// buildRouter assembles the public and admin HTTP surfaces.
func buildRouter(conn *gorm.DB, cfg config.Config, engine *ratelimit.Engine, cache *overrides.Cache) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	checkHandler := check.NewHandler(engine)
	router.POST("/v1/check", checkHandler.Check)

	adminapi.RegisterAdminRoutes(router, conn, cfg.JWT, engine, cache)
	return router
}
