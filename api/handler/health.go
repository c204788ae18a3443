package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/cssprobe/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports crawl utilisation and degrades status when more than 80% of a
// crawl's worth of queue slots are busy across all running audits.
func Health(a Auditor, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := a.Stats()

		status := "healthy"
		if stats.Concurrency > 0 && stats.InFlightItems > int(float64(stats.Concurrency)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			CrawlStats: stats,
			Version:    Version,
		})
	}
}
