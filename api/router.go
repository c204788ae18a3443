package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/cssprobe/api/handler"
	"github.com/use-agent/cssprobe/api/middleware"
	"github.com/use-agent/cssprobe/cache"
	"github.com/use-agent/cssprobe/config"
	"github.com/use-agent/cssprobe/webhook"
)

// Deps bundles the long-lived services the routes share.
type Deps struct {
	Auditor  handler.Auditor
	Cache    *cache.Cache
	Jobs     *handler.JobStore
	Notifier *webhook.Notifier
	Limiters *middleware.Limiters
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(d Deps, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(d.Auditor, startTime))

	// Protected group: auth and rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	if d.Limiters != nil {
		protected.Use(middleware.RateLimit(d.Limiters))
	}

	// Synchronous audit
	protected.POST("/audit", handler.Audit(d.Auditor, d.Cache, cfg.Crawl.AuditTimeout))

	// Async audit jobs
	protected.POST("/audit/jobs", handler.PostJob(d.Auditor, d.Jobs, d.Notifier, cfg.Crawl.AuditTimeout))
	protected.GET("/audit/jobs/:id", handler.GetJob(d.Jobs))

	return r
}
