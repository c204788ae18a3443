package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/cssprobe/cache"
	"github.com/use-agent/cssprobe/crawl"
	"github.com/use-agent/cssprobe/models"
)

// Auditor runs a selector audit. *crawl.Crawler satisfies it.
type Auditor interface {
	Run(ctx context.Context, pages models.Pages, cookie string, selectors, whitelist []string) (*models.SelectorResult, error)
	Stats() models.CrawlStats
}

// kindSupporter is implemented by auditors that only fetch some page kinds.
type kindSupporter interface {
	Supports(kind models.PageKind) bool
}

// Audit returns a handler for POST /api/v1/audit.
//
// Orchestration flow:
//  1. Parse & validate request.
//  2. Cache lookup when max_age is set.
//  3. Crawl and match (records crawl_ms).
//  4. Cache store, respond 200.
func Audit(a Auditor, cc *cache.Cache, defaultTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		req, ok := bindAuditRequest(c, a)
		if !ok {
			return
		}

		// ── 2. Cache lookup ────────────────────────────────────────
		if cc != nil && req.MaxAge > 0 {
			if result, hit := cc.Lookup(req); hit {
				resp := models.NewAuditResponse(result)
				resp.CacheStatus = "hit"
				resp.Timing = models.TimingInfo{
					TotalMs: time.Since(totalStart).Milliseconds(),
				}
				c.JSON(http.StatusOK, resp)
				return
			}
		}

		// ── 3. Crawl ────────────────────────────────────────────────
		crawlStart := time.Now()
		result, err := runAudit(c.Request.Context(), a, req, defaultTimeout)
		crawlMs := time.Since(crawlStart).Milliseconds()
		if err != nil {
			respondError(c, err, models.TimingInfo{
				TotalMs: time.Since(totalStart).Milliseconds(),
				CrawlMs: crawlMs,
			})
			return
		}

		// ── 4. Cache store + respond ───────────────────────────────
		resp := models.NewAuditResponse(result)
		if cc != nil && req.MaxAge > 0 {
			cc.Store(req, result)
			resp.CacheStatus = "miss"
		}
		resp.Timing = models.TimingInfo{
			TotalMs: time.Since(totalStart).Milliseconds(),
			CrawlMs: crawlMs,
		}
		c.JSON(http.StatusOK, resp)
	}
}

// bindAuditRequest decodes and validates the body, writing a 400 on failure.
// Seeds of a kind the auditor cannot fetch are rejected here.
func bindAuditRequest(c *gin.Context, a Auditor) (*models.AuditRequest, bool) {
	var req models.AuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.AuditResponse{
			Success: false,
			Error: &models.ErrorDetail{
				Code:    models.ErrCodeInvalidInput,
				Message: err.Error(),
			},
		})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		respondError(c, err, models.TimingInfo{})
		return nil, false
	}
	if ks, ok := a.(kindSupporter); ok {
		if err := checkPageKinds(req.Pages, ks); err != nil {
			respondError(c, err, models.TimingInfo{})
			return nil, false
		}
	}
	return &req, true
}

func checkPageKinds(pages models.Pages, ks kindSupporter) error {
	groups := []struct {
		field string
		pages []string
	}{
		{"pages.crawl", pages.Crawl},
		{"pages.include", pages.Include},
	}
	for _, g := range groups {
		for _, raw := range g.pages {
			page := models.ParsePageRef(raw)
			if !ks.Supports(page.Kind) {
				return models.InvalidInput(g.field, "%s pages are not enabled on this server: %s", page.Kind, page)
			}
		}
	}
	return nil
}

// runAudit crawls with the request timeout (or defaultTimeout) applied and
// converts failures into coded AuditErrors.
func runAudit(ctx context.Context, a Auditor, req *models.AuditRequest, defaultTimeout time.Duration) (*models.SelectorResult, error) {
	timeout := defaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := a.Run(ctx, req.Pages, req.Cookie, req.Selectors, req.Whitelist)
	if err != nil {
		if errors.Is(err, crawl.ErrQueueFatal) {
			return nil, models.NewAuditError(models.ErrCodeQueueFatal, err.Error(), err)
		}
		return nil, models.AsAuditError(err)
	}
	return result, nil
}

// respondError maps an AuditError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error, timing models.TimingInfo) {
	auditErr := models.AsAuditError(err)
	c.JSON(mapErrorToStatus(auditErr), models.AuditResponse{
		Success: false,
		Error:   auditErr.ToDetail(),
		Timing:  timing,
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.AuditError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
