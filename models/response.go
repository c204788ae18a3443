package models

// AuditResponse is the response for POST /api/v1/audit.
type AuditResponse struct {
	// Success indicates whether the crawl completed without a fatal error.
	Success bool `json:"success"`

	// Used maps each queried selector to its total match count.
	Used map[string]int `json:"used"`

	// Ignored lists attribute selectors skipped during matching.
	Ignored map[string]int `json:"ignored"`

	// Unused is the sorted list of selectors that matched nothing.
	Unused []string `json:"unused"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// NewAuditResponse builds a successful response from a crawl result.
func NewAuditResponse(result *SelectorResult) *AuditResponse {
	return &AuditResponse{
		Success: true,
		Used:    result.Used,
		Ignored: result.Ignored,
		Unused:  result.Unused(),
	}
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// CrawlMs is the time spent crawling and matching.
	CrawlMs int64 `json:"crawl_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string     `json:"status"` // "healthy" or "degraded"
	Uptime     string     `json:"uptime"`
	CrawlStats CrawlStats `json:"crawl_stats"`
	Version    string     `json:"version"`
}

// CrawlStats reports crawl engine utilisation.
type CrawlStats struct {
	Concurrency   int `json:"concurrency"`
	ActiveCrawls  int `json:"active_crawls"`
	InFlightItems int `json:"in_flight_items"`
}
