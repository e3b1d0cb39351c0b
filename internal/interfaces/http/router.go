// Package http wires the gin router: the rate-limited search-facing
// surface, the administrative API and the operational endpoints.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/searchguard/searchguard/internal/config"
	"github.com/searchguard/searchguard/internal/domain/service"
	"github.com/searchguard/searchguard/internal/interfaces/http/handlers"
	"github.com/searchguard/searchguard/internal/interfaces/http/middleware"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

// Router assembles and runs the HTTP server.
type Router struct {
	engine        *gin.Engine
	config        *config.Config
	logger        logger.Logger
	rateLimiter   service.RateLimitEngine
	enricher      service.ContextEnricher
	adminHandler  *handlers.AdminHandler
	healthHandler *handlers.HealthHandler
	server        *http.Server
}

// NewRouter creates the router.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	rateLimiter service.RateLimitEngine,
	enricher service.ContextEnricher,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	return &Router{
		engine:        gin.New(),
		config:        cfg,
		logger:        log.WithComponent("Router"),
		rateLimiter:   rateLimiter,
		enricher:      enricher,
		adminHandler:  adminHandler,
		healthHandler: healthHandler,
	}
}

// SetupRoutes installs the middleware chain and routes.
func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.AccessLog(r.logger))

	r.engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Authorization",
			constants.HeaderSessionID, constants.HeaderAPIKey, constants.HeaderRequestID,
		},
		ExposeHeaders: []string{
			constants.HeaderRequestID,
			constants.HeaderRateLimitLimit,
			constants.HeaderRateLimitRemaining,
			constants.HeaderRateLimitReset,
			constants.HeaderRateLimitType,
			constants.HeaderRetryAfter,
		},
		MaxAge: 12 * time.Hour,
	}))

	// Operational endpoints bypass rate limiting.
	r.engine.GET("/health", r.healthHandler.Health)
	r.engine.GET("/ready", r.healthHandler.Readiness)
	r.engine.GET("/live", r.healthHandler.Liveness)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.config.Monitoring.PprofEnabled {
		pprof.Register(r.engine)
	}

	// Search-facing surface: every route passes through the engine. The
	// handlers here are pass-through acknowledgements; enforcement is the
	// product, the search backend sits behind this service.
	v1 := r.engine.Group("/api/v1")
	v1.Use(middleware.RateLimit(r.rateLimiter, r.enricher, &r.config.RateLimit, r.logger))
	{
		v1.GET("/search", r.acknowledge)
		v1.GET("/search/multi", r.acknowledge)
		v1.GET("/suggest", r.acknowledge)
		v1.GET("/categories/:id/search", r.acknowledge)
		v1.GET("/analytics/queries", r.acknowledge)
	}

	// Administrative API, guarded by a static token.
	admin := r.engine.Group("/admin/v1")
	admin.Use(middleware.AdminAuth(r.config.Server.AdminToken))
	{
		admin.GET("/usage", r.adminHandler.Usage)
		admin.POST("/reset", r.adminHandler.Reset)
		admin.POST("/blocks", r.adminHandler.CreateBlock)
		admin.GET("/blocks/:type/:identifier", r.adminHandler.GetBlock)
		admin.DELETE("/blocks/:type/:identifier", r.adminHandler.DeleteBlock)
		admin.GET("/limits", r.adminHandler.GetLimits)
		admin.PUT("/limits", r.adminHandler.UpdateLimits)
		admin.GET("/apikeys/:id/stats", r.adminHandler.APIKeyStats)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "the requested resource was not found",
		})
	})
}

// acknowledge confirms an admitted request. Quota headers were already
// attached by the middleware.
func (r *Router) acknowledge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "allowed"})
}

// Engine exposes the underlying gin engine for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start runs the HTTP server until the listener fails or Stop is called.
func (r *Router) Start() error {
	r.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	r.server = &http.Server{
		Addr:           addr,
		Handler:        r.engine,
		ReadTimeout:    time.Duration(r.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(r.config.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", addr))

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "Stopping HTTP server")
	return r.server.Shutdown(ctx)
}
