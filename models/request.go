package models

// AuditRequest is the payload for POST /api/v1/audit and POST /api/v1/audit/jobs.
type AuditRequest struct {
	// Pages lists the crawl, include and exclude seeds. At least one crawl or
	// include seed is required.
	Pages Pages `json:"pages"`

	// Selectors is the ordered list of CSS selectors to count. Required.
	Selectors []string `json:"selectors" binding:"required,min=1"`

	// Whitelist selectors are skipped entirely: neither counted nor ignored.
	Whitelist []string `json:"whitelist,omitempty"`

	// Cookie, when set, makes every page be visited a second time with
	// "Cookie: <value>" attached.
	Cookie string `json:"cookie,omitempty"`

	// MaxAge enables the response cache. A cached result younger than MaxAge
	// milliseconds is returned without crawling. Sync audits only.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`

	// Timeout bounds the whole audit in seconds. 0 uses the server default.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=3600"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Validate checks invariants that binding tags cannot express.
func (r *AuditRequest) Validate() error {
	if len(r.Pages.Crawl) == 0 && len(r.Pages.Include) == 0 {
		return InvalidInput("pages", "pages.crawl or pages.include must list at least one page")
	}
	return nil
}
